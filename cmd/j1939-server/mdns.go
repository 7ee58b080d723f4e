package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_j1939-server._tcp"

// mdnsRegister is a hook for tests.
var mdnsRegister = func(instance, service, domain string, port int, text []string) (func(), error) {
	svc, err := zeroconf.Register(instance, service, domain, port, text, nil)
	if err != nil {
		return nil, err
	}
	return svc.Shutdown, nil
}

// mdnsText describes the stream so browsers can pick the right bus.
func mdnsText(cfg *appConfig) []string {
	return []string{
		"if=" + cfg.canIf,
		"proto=j1939",
		"packet_size=" + strconv.Itoa(cfg.packetSize),
		"version=" + version,
		"commit=" + commit,
	}
}

// startMDNS registers the service via mDNS and returns a cleanup function.
// It is safe to call even if disabled (no-op).
func startMDNS(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("j1939-server-%s", host)
	}
	shutdown, err := mdnsRegister(instance, mdnsServiceType, "local.", port, mdnsText(cfg))
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}
