package server

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-j1939-server/internal/hub"
	"github.com/kstaniek/go-j1939-server/internal/j1939"
	"github.com/kstaniek/go-j1939-server/internal/wire"
)

// startInMemoryServer launches the server on :0 for benchmarks.
func startInMemoryServer(b *testing.B, h *hub.Hub) (*Server, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(WithHub(h), WithCodec(&wire.Codec{}))
	go func() { _ = srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		b.Fatal("server not ready")
	}
	return srv, cancel
}

func BenchmarkServerBroadcast(b *testing.B) {
	h := hub.New()
	h.OutBufSize = 4096
	srv, cancel := startInMemoryServer(b, h)
	defer cancel()
	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(b, err)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(time.Second))
	_, err = conn.Write([]byte(wire.Hello))
	require.NoError(b, err)
	_, err = io.ReadFull(conn, make([]byte, len(wire.Hello)))
	require.NoError(b, err)
	_ = conn.SetDeadline(time.Time{})
	go func() { _, _ = io.Copy(io.Discard, conn) }()
	for h.Count() == 0 {
		time.Sleep(time.Millisecond)
	}

	p := j1939.Packet{Data: make([]byte, 8), Src: j1939.Addr{Addr: 0x80, PGN: 0xFEF1}}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Broadcast(p)
	}
}
