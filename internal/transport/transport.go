package transport

import (
	"io"

	"github.com/kstaniek/go-j1939-server/internal/j1939"
	"github.com/kstaniek/go-j1939-server/internal/wire"
)

// PacketDecoder decodes a single packet record from a stream.
type PacketDecoder interface {
	Decode(r io.Reader) (j1939.Packet, error)
}

// MultiPacketDecoder optionally drains multiple records from a stream.
type MultiPacketDecoder interface {
	DecodeN(r io.Reader, max int, onPacket func(j1939.Packet)) (int, error)
}

// PacketBatchEncoder can encode batches either to bytes or directly to a writer.
type PacketBatchEncoder interface {
	Encode([]j1939.Packet) []byte
	EncodeTo(w io.Writer, packets []j1939.Packet) (int, error)
}

// PacketSink is anything delivered packets can be handed to without blocking.
type PacketSink interface {
	Send(j1939.Packet) error
}

var (
	_ PacketDecoder      = (*wire.Codec)(nil)
	_ MultiPacketDecoder = (*wire.Codec)(nil)
	_ PacketBatchEncoder = (*wire.Codec)(nil)
	_ PacketSink         = (*AsyncTx[j1939.Packet])(nil)
)
