//go:build linux

package socketcan

import (
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-j1939-server/internal/j1939"
	"github.com/kstaniek/go-j1939-server/internal/logging"
	"github.com/kstaniek/go-j1939-server/internal/metrics"
)

// Endpoint is a CAN_J1939 datagram socket bound to one interface.
//
// Receiving and delivering are separate steps: the readiness callback drains
// the socket into a queue, and Fetch hands queued packets to the Handler.
// Packets are never delivered from inside the readiness callback unless
// immediate delivery is enabled, in which case the queue is drained after
// the socket has been.
type Endpoint struct {
	mu      sync.Mutex // guards fd/ifname/handler; held while draining the socket
	fd      int
	ifname  string
	handler Handler

	fetchMu sync.Mutex // serializes delivery so handlers observe arrival order

	notifier   Notifier
	queue      *j1939.Queue
	packetSize int
	rcvBuf     int
	immediate  bool
	logger     *slog.Logger
}

type Option func(*Endpoint)

// WithPacketSize sets the payload capacity of each received datagram.
func WithPacketSize(n int) Option {
	return func(e *Endpoint) {
		if n > 0 {
			e.packetSize = n
		}
	}
}

// WithReceiveBuffer sets SO_RCVBUF. It defaults to the packet size.
func WithReceiveBuffer(n int) Option {
	return func(e *Endpoint) {
		if n > 0 {
			e.rcvBuf = n
		}
	}
}

// WithQueue bounds the receive queue. capacity 0 keeps it unbounded.
func WithQueue(capacity int, policy j1939.DropPolicy) Option {
	return func(e *Endpoint) { e.queue = j1939.NewQueue(capacity, policy) }
}

// WithImmediateDelivery makes every drain deliver the queue right away.
func WithImmediateDelivery(on bool) Option { return func(e *Endpoint) { e.immediate = on } }

func WithLogger(l *slog.Logger) Option {
	return func(e *Endpoint) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEndpoint creates a closed endpoint that will register with n once opened.
func NewEndpoint(n Notifier, opts ...Option) *Endpoint {
	e := &Endpoint{
		fd:         -1,
		notifier:   n,
		packetSize: j1939.DefaultPacketSize,
		logger:     logging.L(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.queue == nil {
		e.queue = j1939.NewQueue(0, j1939.DropOldest)
	}
	if e.rcvBuf == 0 {
		e.rcvBuf = e.packetSize
	}
	e.queue.OnDrop = func(j1939.Packet) { metrics.IncQueueDrop() }
	return e
}

// Open binds the endpoint to ifname and starts receiving. onPacket replaces
// any previously registered handler. Opening an already open endpoint closes
// the old socket first; queued packets are kept.
//
// On failure the endpoint is left closed and the error is an *OpError.
func (e *Endpoint) Open(ifname string, onPacket Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = onPacket
	if e.fd >= 0 {
		e.closeLocked()
	}
	e.ifname = ifname

	ifindex, err := resolveInterface(ifname)
	if err != nil {
		return &OpError{Op: ErrResolve, If: ifname, Err: err}
	}
	fd, err := sys.socket(unix.AF_CAN, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.CAN_J1939)
	if err != nil {
		return &OpError{Op: ErrSocket, If: ifname, Err: err}
	}
	fail := func(err error) error {
		_ = sys.close(fd)
		return err
	}
	if err := sys.setNonblock(fd, true); err != nil {
		return fail(&OpError{Op: ErrConfig, Option: "O_NONBLOCK", If: ifname, Err: err})
	}
	if err := sys.setsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMP, 1); err != nil {
		return fail(&OpError{Op: ErrConfig, Option: "SO_TIMESTAMP", If: ifname, Err: err})
	}
	if err := sys.setsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, e.rcvBuf); err != nil {
		return fail(&OpError{Op: ErrConfig, Option: "SO_RCVBUF", If: ifname, Err: err})
	}
	// Only the interface is fixed; NAME, address and PGN are wildcards so
	// every datagram seen on the interface is received.
	sa := &unix.SockaddrCANJ1939{
		Ifindex: ifindex,
		Name:    j1939.NoName,
		PGN:     j1939.NoPGN,
		Addr:    j1939.NoAddr,
	}
	if err := sys.bind(fd, sa); err != nil {
		return fail(&OpError{Op: ErrBind, If: ifname, Err: err})
	}
	if err := e.notifier.Register(fd, func(status error) { e.onReadable(fd, status) }); err != nil {
		return fail(&OpError{Op: ErrRegister, If: ifname, Err: err})
	}
	e.fd = fd
	e.logger.Info("j1939_open", "if", ifname, "ifindex", ifindex, "packet_size", e.packetSize, "rcvbuf", e.rcvBuf)
	return nil
}

// Close unregisters and closes the socket. Queued packets stay fetchable.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fd < 0 {
		return nil
	}
	return e.closeLocked()
}

func (e *Endpoint) closeLocked() error {
	fd := e.fd
	e.fd = -1
	errU := e.notifier.Unregister(fd)
	errC := sys.close(fd)
	e.logger.Info("j1939_close", "if", e.ifname)
	return errors.Join(errU, errC)
}

// IsOpen reports whether the endpoint currently owns a socket.
func (e *Endpoint) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fd >= 0
}

// Fetch delivers every packet queued at call entry to the handler, in arrival
// order, and returns how many were delivered. It must not be called from the
// handler itself.
func (e *Endpoint) Fetch() int {
	e.fetchMu.Lock()
	defer e.fetchMu.Unlock()
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h == nil {
		return 0
	}
	n := e.queue.Drain(func(p j1939.Packet) { h(p) })
	if n > 0 {
		metrics.AddDelivered(n)
	}
	metrics.SetQueueLen(e.queue.Len())
	return n
}

// Pending returns the number of queued, undelivered packets.
func (e *Endpoint) Pending() int { return e.queue.Len() }

// Dropped returns how many packets the bounded queue discarded.
func (e *Endpoint) Dropped() uint64 { return e.queue.Dropped() }
