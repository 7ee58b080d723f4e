//go:build !linux

package poll

import "context"

// Poller is unavailable outside linux.
type Poller struct{}

func New() (*Poller, error)                  { return nil, ErrUnsupported }
func (p *Poller) Register(int, Handler) error { return ErrUnsupported }
func (p *Poller) Unregister(int) error        { return nil }
func (p *Poller) Len() int                    { return 0 }
func (p *Poller) Run(context.Context) error   { return ErrUnsupported }
func (p *Poller) Close() error                { return nil }
