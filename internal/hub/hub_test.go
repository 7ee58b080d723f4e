package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-j1939-server/internal/j1939"
	"github.com/kstaniek/go-j1939-server/internal/metrics"
)

func testPacket(b byte) j1939.Packet {
	return j1939.Packet{Data: []byte{b}, Src: j1939.Addr{Addr: 0x80, PGN: 0xFEF1}}
}

func newClient(buf int) *Client {
	return &Client{Out: make(chan j1939.Packet, buf), Closed: make(chan struct{})}
}

func TestHub_Broadcast_DropDoesNotBlock(t *testing.T) {
	h := New()
	cl := newClient(4)
	h.Add(cl)
	defer h.Remove(cl)

	// Don't read from cl.Out to simulate slow client
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(testPacket(byte(i)))
	}
	assert.Less(t, time.Since(start), time.Second, "Broadcast blocked on a slow client")
	require.Equal(t, cap(cl.Out), len(cl.Out), "client buffer should be full")
	// the first packets are the ones kept
	p := <-cl.Out
	assert.Equal(t, byte(0), p.Data[0])
}

func TestHub_Broadcast_DropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := newClient(1)
	fast := newClient(16)
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	h.Broadcast(testPacket(1))
	for i := 0; i < 10; i++ {
		h.Broadcast(testPacket(2))
	}
	assert.Len(t, fast.Out, 11)
}

func TestHub_Broadcast_KickPolicy(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	cl := newClient(1)
	h.Add(cl)
	before := metrics.Snap().HubKicks
	h.Broadcast(testPacket(1))
	h.Broadcast(testPacket(2))
	select {
	case <-cl.Closed:
	default:
		t.Fatal("expected slow client to be kicked")
	}
	assert.Equal(t, before+1, metrics.Snap().HubKicks)
	h.Remove(cl)
	h.Remove(cl)
	assert.Equal(t, 0, h.Count())
}

func TestHub_Broadcast_CountsPayloadBytes(t *testing.T) {
	h := New()
	a := newClient(4)
	b := newClient(1)
	h.Add(a)
	h.Add(b)
	defer h.Remove(a)
	defer h.Remove(b)

	p := j1939.Packet{Data: make([]byte, 100), Src: j1939.Addr{Addr: 0x80, PGN: 0xEB00}}
	before := metrics.Snap()
	assert.Equal(t, 200, h.Broadcast(p))
	// b is full now: only a takes the second packet
	assert.Equal(t, 100, h.Broadcast(p))
	after := metrics.Snap()
	assert.Equal(t, uint64(300), after.FanoutBytes-before.FanoutBytes)
	assert.Equal(t, uint64(100), after.DroppedBytes-before.DroppedBytes)
}

func TestHub_Broadcast_NoClients(t *testing.T) {
	assert.Equal(t, 0, New().Broadcast(testPacket(1)))
}
