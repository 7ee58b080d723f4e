package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-j1939-server/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				logSnapshot(l, metrics.Snap())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logSnapshot(l *slog.Logger, snap metrics.Snapshot) {
	l.Info("metrics_snapshot",
		"j1939_rx", snap.RxPackets,
		"truncated", snap.Truncated,
		"delivered", snap.Delivered,
		"queue_depth", snap.QueueDepth,
		"queue_drops", snap.QueueDrops,
		"tcp_tx", snap.TCPTx,
		"hub_clients", snap.HubClients,
		"hub_drops", snap.HubDrops,
		"hub_fanout_bytes", snap.FanoutBytes,
		"hub_dropped_bytes", snap.DroppedBytes,
		"recorded", snap.Recorded,
		"errors", snap.Errors,
	)
}
