package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-j1939-server/internal/hub"
	"github.com/kstaniek/go-j1939-server/internal/j1939"
	"github.com/kstaniek/go-j1939-server/internal/poll"
	"github.com/kstaniek/go-j1939-server/internal/socketcan"
)

// testLogger returns a no-op slog.Logger for tests.
func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeNotifier struct {
	mu      sync.Mutex
	running bool
	closed  bool
}

func (n *fakeNotifier) Register(int, poll.Handler) error { return nil }
func (n *fakeNotifier) Unregister(int) error             { return nil }
func (n *fakeNotifier) Run(ctx context.Context) error {
	n.mu.Lock()
	n.running = true
	n.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}
func (n *fakeNotifier) Close() error { n.mu.Lock(); n.closed = true; n.mu.Unlock(); return nil }

// fakeEndpoint queues injected packets until Fetch, like the real endpoint.
type fakeEndpoint struct {
	mu      sync.Mutex
	ifname  string
	handler socketcan.Handler
	queue   []j1939.Packet
	openErr error
	closed  bool
	opts    int
}

func (e *fakeEndpoint) Open(ifname string, h socketcan.Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return e.openErr
	}
	e.ifname, e.handler = ifname, h
	return nil
}

func (e *fakeEndpoint) inject(p j1939.Packet) { e.mu.Lock(); e.queue = append(e.queue, p); e.mu.Unlock() }

func (e *fakeEndpoint) Fetch() int {
	e.mu.Lock()
	q, h := e.queue, e.handler
	e.queue = nil
	e.mu.Unlock()
	for _, p := range q {
		h(p)
	}
	return len(q)
}

func (e *fakeEndpoint) Close() error { e.mu.Lock(); e.closed = true; e.mu.Unlock(); return nil }

type fakeRecorder struct {
	mu  sync.Mutex
	got []j1939.Packet
}

func (r *fakeRecorder) Record(p j1939.Packet) error {
	r.mu.Lock()
	r.got = append(r.got, p)
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) count() int { r.mu.Lock(); defer r.mu.Unlock(); return len(r.got) }

func installFakes(t *testing.T, ep *fakeEndpoint) *fakeNotifier {
	t.Helper()
	n := &fakeNotifier{}
	prevN, prevC := newNotifier, newCapture
	newNotifier = func() (notifier, error) { return n, nil }
	newCapture = func(_ socketcan.Notifier, opts ...socketcan.Option) captureEndpoint {
		ep.opts = len(opts)
		return ep
	}
	t.Cleanup(func() { newNotifier, newCapture = prevN, prevC })
	return n
}

func testConfig() *appConfig {
	return &appConfig{canIf: "vcan0", packetSize: 1024, queuePolicy: "drop-oldest", fetchInterval: 5 * time.Millisecond}
}

// TestInitBackendDelivers verifies queued packets reach hub clients and the recorder on the fetch tick.
func TestInitBackendDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ep := &fakeEndpoint{}
	n := installFakes(t, ep)

	h := hub.New()
	c := &hub.Client{Out: make(chan j1939.Packet, 4), Closed: make(chan struct{})}
	h.Add(c)
	rec := &fakeRecorder{}
	var wg sync.WaitGroup
	cleanup, err := initBackend(ctx, testConfig(), h, rec, testLogger(), &wg)
	require.NoError(t, err)
	assert.Equal(t, "vcan0", ep.ifname)
	assert.Equal(t, 5, ep.opts)

	ep.inject(j1939.Packet{Data: []byte{1, 2, 3}, Src: j1939.Addr{Addr: 0x80, PGN: 0xFEF1}})
	select {
	case p := <-c.Out:
		assert.Equal(t, uint32(0xFEF1), p.Src.PGN)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for packet")
	}
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	cleanup()
	wg.Wait()
	assert.True(t, ep.closed)
	assert.True(t, n.closed)
}

// TestInitBackendFinalFetch delivers packets left in the queue at shutdown.
func TestInitBackendFinalFetch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ep := &fakeEndpoint{}
	installFakes(t, ep)
	h := hub.New()
	c := &hub.Client{Out: make(chan j1939.Packet, 4), Closed: make(chan struct{})}
	h.Add(c)
	cfg := testConfig()
	cfg.fetchInterval = time.Hour
	var wg sync.WaitGroup
	cleanup, err := initBackend(ctx, cfg, h, nil, testLogger(), &wg)
	require.NoError(t, err)

	ep.inject(j1939.Packet{Data: []byte{9}})
	ep.inject(j1939.Packet{Data: []byte{10}})
	cleanup()
	cleanup() // idempotent
	wg.Wait()
	require.Len(t, c.Out, 2)
	assert.Equal(t, byte(9), (<-c.Out).Data[0])
	assert.Equal(t, byte(10), (<-c.Out).Data[0])
}

// TestInitBackendOpenError closes the notifier and surfaces the step error.
func TestInitBackendOpenError(t *testing.T) {
	ep := &fakeEndpoint{openErr: &socketcan.OpError{Op: socketcan.ErrResolve, If: "nope0", Err: errors.New("no such interface")}}
	n := installFakes(t, ep)
	var wg sync.WaitGroup
	cfg := testConfig()
	cfg.canIf = "nope0"
	_, err := initBackend(context.Background(), cfg, hub.New(), nil, testLogger(), &wg)
	require.Error(t, err)
	assert.ErrorIs(t, err, socketcan.ErrResolve)
	assert.True(t, n.closed)
}

func TestInitBackendNotifierError(t *testing.T) {
	prev := newNotifier
	newNotifier = func() (notifier, error) { return nil, poll.ErrUnsupported }
	t.Cleanup(func() { newNotifier = prev })
	var wg sync.WaitGroup
	_, err := initBackend(context.Background(), testConfig(), hub.New(), nil, testLogger(), &wg)
	assert.ErrorIs(t, err, poll.ErrUnsupported)
}

func TestCaptureOptionsPolicy(t *testing.T) {
	cfg := testConfig()
	assert.Len(t, captureOptions(cfg, testLogger()), 5)
}
