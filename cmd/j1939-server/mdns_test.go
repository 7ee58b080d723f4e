package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartMDNSDisabled(t *testing.T) {
	called := false
	prev := mdnsRegister
	mdnsRegister = func(string, string, string, int, []string) (func(), error) { called = true; return func() {}, nil }
	t.Cleanup(func() { mdnsRegister = prev })

	cleanup, err := startMDNS(context.Background(), validConfig(), 20100)
	require.NoError(t, err)
	cleanup()
	assert.False(t, called)
}

func TestStartMDNSRegisters(t *testing.T) {
	var gotService, gotInstance string
	var gotPort int
	var gotText []string
	shut := make(chan struct{})
	prev := mdnsRegister
	mdnsRegister = func(instance, service, domain string, port int, text []string) (func(), error) {
		gotInstance, gotService, gotPort, gotText = instance, service, port, text
		return func() { close(shut) }, nil
	}
	t.Cleanup(func() { mdnsRegister = prev })

	cfg := validConfig()
	cfg.mdnsEnable = true
	cfg.mdnsName = "truck-7"
	cleanup, err := startMDNS(context.Background(), cfg, 20100)
	require.NoError(t, err)
	assert.Equal(t, "truck-7", gotInstance)
	assert.Equal(t, mdnsServiceType, gotService)
	assert.Equal(t, 20100, gotPort)
	assert.Contains(t, gotText, "if=can0")
	assert.Contains(t, gotText, "proto=j1939")

	cleanup()
	select {
	case <-shut:
	case <-time.After(time.Second):
		t.Fatal("service not shut down")
	}
}

func TestListenPort(t *testing.T) {
	assert.Equal(t, 20100, listenPort("[::]:20100"))
	assert.Equal(t, 9, listenPort("127.0.0.1:9"))
	assert.Equal(t, 0, listenPort("bogus"))
}
