//go:build !linux

package socketcan

import (
	"log/slog"

	"github.com/kstaniek/go-j1939-server/internal/j1939"
)

// Endpoint is unavailable outside linux; Open always fails with ErrUnsupported.
type Endpoint struct{}

type Option func(*Endpoint)

func WithPacketSize(int) Option                 { return func(*Endpoint) {} }
func WithReceiveBuffer(int) Option              { return func(*Endpoint) {} }
func WithQueue(int, j1939.DropPolicy) Option    { return func(*Endpoint) {} }
func WithImmediateDelivery(bool) Option         { return func(*Endpoint) {} }
func WithLogger(*slog.Logger) Option            { return func(*Endpoint) {} }
func NewEndpoint(Notifier, ...Option) *Endpoint { return &Endpoint{} }

func (e *Endpoint) Open(ifname string, _ Handler) error {
	return &OpError{Op: ErrSocket, If: ifname, Err: ErrUnsupported}
}

func (e *Endpoint) Close() error    { return nil }
func (e *Endpoint) IsOpen() bool    { return false }
func (e *Endpoint) Fetch() int      { return 0 }
func (e *Endpoint) Pending() int    { return 0 }
func (e *Endpoint) Dropped() uint64 { return 0 }
