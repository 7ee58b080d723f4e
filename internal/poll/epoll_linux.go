//go:build linux

package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const maxEvents = 16

// Poller is an epoll based readiness notifier.
type Poller struct {
	epfd   int
	wakefd int

	mu       sync.Mutex
	handlers map[int32]Handler
	running  bool
	done     chan struct{}

	closed atomic.Bool
}

// New creates a poller. Run must be called to start dispatching.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl wake: %w", err)
	}
	return &Poller{epfd: epfd, wakefd: wakefd, handlers: make(map[int32]Handler)}, nil
}

// Register starts read-readiness notifications for fd.
func (p *Poller) Register(fd int, h Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return ErrClosed
	}
	if _, ok := p.handlers[int32(fd)]; ok {
		return fmt.Errorf("%w: fd %d", ErrRegistered, fd)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	p.handlers[int32(fd)] = h
	return nil
}

// Unregister stops notifications for fd. Unknown descriptors are ignored.
// A notification already picked up by Run may still be delivered once.
func (p *Poller) Unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.handlers[int32(fd)]; !ok {
		return nil
	}
	delete(p.handlers, int32(fd))
	if p.closed.Load() {
		return nil
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Len returns the number of registered descriptors.
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

// Run dispatches notifications until ctx is cancelled or Close is called.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.running {
		p.mu.Unlock()
		return errors.New("poll: already running")
	}
	p.running = true
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		close(done)
	}()

	stop := context.AfterFunc(ctx, p.wake)
	defer stop()

	events := make([]unix.EpollEvent, maxEvents)
	for {
		if ctx.Err() != nil || p.closed.Load() {
			return nil
		}
		n, err := unix.EpollWait(p.epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			if int(ev.Fd) == p.wakefd {
				p.drainWake()
				continue
			}
			p.dispatch(ev)
		}
	}
}

func (p *Poller) dispatch(ev unix.EpollEvent) {
	p.mu.Lock()
	h := p.handlers[ev.Fd]
	p.mu.Unlock()
	if h == nil {
		return
	}
	var status error
	switch {
	case ev.Events&unix.EPOLLERR != 0:
		// Reading SO_ERROR clears the pending error so a level-triggered
		// EPOLLERR does not fire again for the same condition.
		if soerr, err := unix.GetsockoptInt(int(ev.Fd), unix.SOL_SOCKET, unix.SO_ERROR); err == nil && soerr != 0 {
			status = unix.Errno(soerr)
		} else {
			status = errors.New("poll: EPOLLERR")
		}
	case ev.Events&unix.EPOLLHUP != 0 && ev.Events&unix.EPOLLIN == 0:
		// A hung up descriptor stays ready forever; stop watching it.
		_ = p.Unregister(int(ev.Fd))
		status = ErrHangup
	}
	h(status)
}

func (p *Poller) wake() {
	var one = [8]byte{1}
	_, _ = unix.Write(p.wakefd, one[:])
}

func (p *Poller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakefd, buf[:])
}

// Close stops Run (waiting for it to return) and releases the epoll
// descriptors. Registered descriptors are not closed. Close must not be
// called from inside a Handler.
func (p *Poller) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.mu.Lock()
	running, done := p.running, p.done
	p.mu.Unlock()
	if running {
		p.wake()
		<-done
	}
	return errors.Join(unix.Close(p.wakefd), unix.Close(p.epfd))
}
