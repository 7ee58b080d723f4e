// Package recorder writes delivered packets to a text log off the delivery path.
package recorder

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/kstaniek/go-j1939-server/internal/j1939"
	"github.com/kstaniek/go-j1939-server/internal/logging"
	"github.com/kstaniek/go-j1939-server/internal/metrics"
	"github.com/kstaniek/go-j1939-server/internal/transport"
)

// ErrOverflow is returned by Record when the write buffer is full.
var ErrOverflow = errors.New("recorder overflow")

const defaultBuffer = 4096

// Recorder serializes packets into lines on a single writer goroutine.
type Recorder struct {
	ifname string
	w      io.Writer
	tx     *transport.AsyncTx[j1939.Packet]
	line   []byte // owned by the writer goroutine
	logger *slog.Logger
}

type Option func(*Recorder, *int)

// WithBuffer sets how many packets may wait for the writer before Record drops.
func WithBuffer(n int) Option {
	return func(_ *Recorder, buf *int) {
		if n > 0 {
			*buf = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder, _ *int) {
		if l != nil {
			r.logger = l
		}
	}
}

// New starts a recorder writing lines for packets captured on ifname to w.
// If w is an io.Closer, Close closes it.
func New(ctx context.Context, w io.Writer, ifname string, opts ...Option) *Recorder {
	r := &Recorder{ifname: ifname, w: w, logger: logging.L()}
	buf := defaultBuffer
	for _, o := range opts {
		o(r, &buf)
	}
	r.tx = transport.NewAsyncTx(ctx, buf, r.write, transport.Hooks{
		OnAfter: metrics.IncRecorded,
		OnError: func(err error) {
			metrics.IncError(metrics.ErrRecorderWrite)
			r.logger.Warn("recorder_write_error", "error", err)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrRecorderOverflow)
			return ErrOverflow
		},
	})
	return r
}

// Open starts a recorder backed by a size-rotated file at path.
func Open(ctx context.Context, path, ifname string, rot logging.Rotation, opts ...Option) *Recorder {
	return New(ctx, logging.NewFileWriter(path, rot), ifname, opts...)
}

func (r *Recorder) write(p j1939.Packet) error {
	r.line = AppendLine(r.line[:0], r.ifname, p)
	_, err := r.w.Write(r.line)
	return err
}

// Record queues p for writing without blocking. The recorder only reads p.Data,
// so the same packet may be handed to other consumers as long as none of them
// modify the payload.
func (r *Recorder) Record(p j1939.Packet) error { return r.tx.Send(p) }

// Close writes the packets still buffered, stops the writer and closes the
// underlying file, if any.
func (r *Recorder) Close() error {
	r.tx.CloseAndDrain()
	if c, ok := r.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
