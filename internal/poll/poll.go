// Package poll delivers read-readiness notifications for raw descriptors.
//
// A Poller plays the role of an event loop: Run waits on epoll and invokes
// the callback registered for each ready descriptor on its own goroutine, one
// callback at a time. Callbacks must not block.
package poll

import "errors"

var (
	ErrClosed      = errors.New("poll: closed")
	ErrRegistered  = errors.New("poll: descriptor already registered")
	ErrHangup      = errors.New("poll: hangup")
	ErrUnsupported = errors.New("poll: unsupported on this platform")
)

// Handler receives a readiness notification. A nil status means the
// descriptor is readable; a non-nil status carries the error condition
// reported for it and no read should be attempted.
type Handler func(status error)
