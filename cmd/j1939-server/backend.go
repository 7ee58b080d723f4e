package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-j1939-server/internal/hub"
	"github.com/kstaniek/go-j1939-server/internal/j1939"
	"github.com/kstaniek/go-j1939-server/internal/metrics"
	"github.com/kstaniek/go-j1939-server/internal/poll"
	"github.com/kstaniek/go-j1939-server/internal/socketcan"
)

// notifier is the readiness loop the capture endpoint registers with.
type notifier interface {
	socketcan.Notifier
	Run(ctx context.Context) error
	Close() error
}

// captureEndpoint is the subset of *socketcan.Endpoint the daemon drives.
type captureEndpoint interface {
	Open(ifname string, onPacket socketcan.Handler) error
	Fetch() int
	Close() error
}

// packetRecorder is satisfied by *recorder.Recorder.
type packetRecorder interface {
	Record(j1939.Packet) error
}

// Hooks for tests (overridden in unit tests).
var (
	newNotifier = func() (notifier, error) { return poll.New() }
	newCapture  = func(n socketcan.Notifier, opts ...socketcan.Option) captureEndpoint {
		return socketcan.NewEndpoint(n, opts...)
	}
)

// captureOptions maps the configuration onto endpoint options.
func captureOptions(cfg *appConfig, l *slog.Logger) []socketcan.Option {
	policy := j1939.DropOldest
	if cfg.queuePolicy == "drop-newest" {
		policy = j1939.DropNewest
	}
	return []socketcan.Option{
		socketcan.WithPacketSize(cfg.packetSize),
		socketcan.WithReceiveBuffer(cfg.rcvBuf),
		socketcan.WithQueue(cfg.queueSize, policy),
		socketcan.WithImmediateDelivery(cfg.deliverImmediate),
		socketcan.WithLogger(l),
	}
}

// initBackend opens the J1939 capture endpoint, starts the readiness loop and
// the periodic fetch, and returns a cleanup that delivers what is still queued.
// It returns an error instead of exiting the process to allow graceful handling by the caller.
func initBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, rec packetRecorder, l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	n, err := newNotifier()
	if err != nil {
		return func() {}, fmt.Errorf("poller: %w", err)
	}
	ep := newCapture(n, captureOptions(cfg, l)...)
	deliver := func(p j1939.Packet) {
		h.Broadcast(p)
		if rec != nil {
			// Overflow is counted by the recorder; capture never waits on disk.
			_ = rec.Record(p)
		}
	}
	if err := ep.Open(cfg.canIf, deliver); err != nil {
		_ = n.Close()
		return func() {}, fmt.Errorf("j1939 open %s: %w", cfg.canIf, err)
	}

	runCtx, stopRun := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("j1939_poll_end")
		if err := n.Run(runCtx); err != nil && runCtx.Err() == nil {
			metrics.IncError(metrics.ErrJ1939Poll)
			l.Error("j1939_poll_failed", "error", err)
		}
	}()

	fetchDone := make(chan struct{})
	if cfg.fetchInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(fetchDone)
			t := time.NewTicker(cfg.fetchInterval)
			defer t.Stop()
			for {
				select {
				case <-t.C:
					ep.Fetch()
				case <-runCtx.Done():
					return
				}
			}
		}()
	} else {
		close(fetchDone)
	}

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			stopRun()
			select {
			case <-fetchDone:
			case <-time.After(closeFetchTimeout):
				l.Warn("j1939_fetch_stuck")
			}
			if err := ep.Close(); err != nil {
				l.Warn("j1939_close_error", "error", err)
			}
			if left := ep.Fetch(); left > 0 {
				l.Info("j1939_final_fetch", "delivered", left)
			}
			_ = n.Close()
		})
	}
	return cleanup, nil
}
