package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-j1939-server/internal/hub"
	"github.com/kstaniek/go-j1939-server/internal/metrics"
)

const readChunk = 512

// startReader watches the inbound side of a client. The stream is one-way, so
// whatever the client sends is discarded; the goroutine exists to notice the
// peer going away and to unblock the writer by closing the connection.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close(); cl.Close() }()
		buf := make([]byte, readChunk)
		warned := false
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			n, err := conn.Read(buf)
			if n > 0 {
				s.totalDiscardedBytes.Add(uint64(n))
				if !warned {
					warned = true
					logger.Debug("client_input_discarded", "bytes", n)
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					select {
					case <-ctxDone:
						return
					default:
					}
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return
			}
			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}
