package wire

import (
	"bytes"
	"testing"

	"github.com/kstaniek/go-j1939-server/internal/j1939"
)

func benchmarkPackets(n, size int) []j1939.Packet {
	packets := make([]j1939.Packet, n)
	for i := range packets {
		packets[i] = mkPacket(uint32(0xFE00+i), size)
	}
	return packets
}

func BenchmarkCodec_Encode_64(b *testing.B) {
	c := Codec{}
	ps := benchmarkPackets(64, 8)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = c.Encode(ps)
	}
}

func BenchmarkCodec_EncodeTo_64(b *testing.B) {
	c := Codec{}
	ps := benchmarkPackets(64, 8)
	var buf bytes.Buffer
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		_, _ = c.EncodeTo(&buf, ps)
	}
}

func BenchmarkCodec_DecodeN_TP(b *testing.B) {
	c := Codec{}
	enc := c.Encode(benchmarkPackets(16, 1785))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = c.DecodeN(bytes.NewReader(enc), 0, func(j1939.Packet) {})
	}
}
