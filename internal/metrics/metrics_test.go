package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapTracksCounters(t *testing.T) {
	before := Snap()
	IncRx()
	IncTruncated()
	AddDelivered(3)
	IncQueueDrop()
	SetQueueLen(7)
	IncError(ErrJ1939Recv)
	AddHubBytes(40, 8)
	AddHubBytes(0, 0)
	after := Snap()
	assert.Equal(t, before.RxPackets+1, after.RxPackets)
	assert.Equal(t, before.Truncated+1, after.Truncated)
	assert.Equal(t, before.Delivered+3, after.Delivered)
	assert.Equal(t, before.QueueDrops+1, after.QueueDrops)
	assert.Equal(t, uint64(7), after.QueueDepth)
	assert.Equal(t, before.Errors+1, after.Errors)
	assert.Equal(t, before.FanoutBytes+40, after.FanoutBytes)
	assert.Equal(t, before.DroppedBytes+8, after.DroppedBytes)
}

func TestReadiness(t *testing.T) {
	SetReadinessFunc(nil)
	assert.True(t, IsReady(), "ready when no func registered")
	SetReadinessFunc(func() bool { return false })
	defer SetReadinessFunc(nil)
	assert.False(t, IsReady())
}

func TestReadyHandlerViaMux(t *testing.T) {
	SetReadinessFunc(func() bool { return false })
	defer SetReadinessFunc(nil)
	srv := StartHTTP("127.0.0.1:0")
	defer srv.Close()
	// exercise the handler directly; the listener port is not exposed
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "not ready\n", string(body))
}
