//go:build linux

package socketcan

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-j1939-server/internal/j1939"
	"github.com/kstaniek/go-j1939-server/internal/metrics"
)

// onReadable is the readiness callback registered for fd.
func (e *Endpoint) onReadable(fd int, status error) {
	if status != nil {
		metrics.IncError(metrics.ErrJ1939Poll)
		e.logger.Warn("j1939_poll_error", "if", e.ifname, "error", status)
		return
	}
	n := e.drain(fd)
	if n > 0 && e.immediate {
		e.Fetch()
	}
}

// drain receives datagrams until the socket reports EAGAIN and queues them.
// It returns the number of packets queued.
func (e *Endpoint) drain(fd int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fd != fd { // closed or reopened since the notification was raised
		return 0
	}
	var count int
	for {
		p, err := e.receive(fd)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
			case errors.Is(err, unix.EINTR):
				continue
			default:
				// Remaining datagrams are picked up on the next notification.
				metrics.IncError(metrics.ErrJ1939Recv)
				e.logger.Warn("j1939_recv_error", "if", e.ifname, "error", err)
			}
			break
		}
		metrics.IncRx()
		e.queue.Push(p)
		count++
	}
	metrics.SetQueueLen(e.queue.Len())
	return count
}

// receive performs one non-blocking recvmsg and builds the packet.
// Buffers are per call so nothing aliases between packets.
func (e *Endpoint) receive(fd int) (j1939.Packet, error) {
	buf := make([]byte, e.packetSize)
	oob := make([]byte, j1939.ControlBufferSize)
	n, oobn, flags, from, err := sys.recvmsg(fd, buf, oob, unix.MSG_DONTWAIT)
	if err != nil {
		return j1939.Packet{}, err
	}
	p := j1939.Packet{Data: buf[:n:n]}
	if flags&unix.MSG_TRUNC != 0 {
		p.Truncated = true
		metrics.IncTruncated()
	}
	meta, err := j1939.ParseControlMessages(oob[:oobn])
	if err != nil {
		metrics.IncError(metrics.ErrJ1939Cmsg)
		e.logger.Debug("j1939_cmsg_error", "if", e.ifname, "error", err)
	}
	p.ApplyMeta(meta)
	if sa, ok := from.(*unix.SockaddrCANJ1939); ok {
		p.Src = j1939.Addr{Name: sa.Name, Addr: sa.Addr, PGN: sa.PGN}
	}
	return p, nil
}
