package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/kstaniek/go-j1939-server/internal/logging"
	"github.com/kstaniek/go-j1939-server/internal/metrics"
	"github.com/kstaniek/go-j1939-server/internal/recorder"
	"github.com/kstaniek/go-j1939-server/internal/server"
	"github.com/kstaniek/go-j1939-server/internal/wire"
)

func main() {
	cfg, showVersion, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("j1939-server %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	l, logCloser := setupLogger(cfg.logFormat, cfg.logLevel, cfg.logFile)
	defer logCloser.Close()
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	var rec *recorder.Recorder
	var sink packetRecorder
	if cfg.recordPath != "" {
		// Not tied to ctx: packets delivered by the final fetch must still be written.
		rec = recorder.Open(context.Background(), cfg.recordPath, cfg.canIf, logging.DefaultRotation,
			recorder.WithBuffer(recorderQueueSize), recorder.WithLogger(l))
		sink = rec
		l.Info("recorder_open", "path", cfg.recordPath)
	}

	cleanup, berr := initBackend(ctx, cfg, h, sink, l, &wg)
	if berr != nil {
		l.Error("backend_init_error", "error", berr)
		if rec != nil {
			_ = rec.Close()
		}
		return
	}

	srv := server.NewServer(
		server.WithHub(h),
		server.WithCodec(&wire.Codec{}),
		server.WithLogger(l),
		server.WithMaxClients(cfg.maxClients),
		server.WithHandshakeTimeout(cfg.handshakeTO),
		server.WithReadDeadline(cfg.clientReadTO),
	)
	srv.SetListenAddr(cfg.listenAddr)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	// Start mDNS advertisement once listener is ready.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		port := listenPort(srv.Addr())
		cleanupMDNS, err := startMDNS(ctx, cfg, port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	// Ready when server listener is bound and context not cancelled.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	cancel()
	cleanup()
	wg.Wait()
	if rec != nil {
		if err := rec.Close(); err != nil {
			l.Warn("recorder_close_error", "error", err)
		}
	}
	logSnapshot(l, metrics.Snap())
}

// listenPort extracts the port from a bound host:port address, 0 if unknown.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}
