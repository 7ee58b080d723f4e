package socketcan

import (
	"github.com/kstaniek/go-j1939-server/internal/j1939"
	"github.com/kstaniek/go-j1939-server/internal/poll"
)

// Handler consumes delivered packets. It owns p.Data from the moment it is called.
type Handler func(p j1939.Packet)

// Notifier is the readiness mechanism the endpoint registers its socket with.
// *poll.Poller implements it.
type Notifier interface {
	Register(fd int, h poll.Handler) error
	Unregister(fd int) error
}

var _ Notifier = (*poll.Poller)(nil)
