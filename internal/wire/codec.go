// Package wire is the TCP stream format for captured J1939 packets.
//
// Each record is a fixed big-endian header followed by the payload:
//
//	flags    u8   presence bits (timestamp, priority, dst addr, dst name, truncated)
//	ts       i64  arrival time, microseconds since the epoch
//	srcName  u64
//	srcAddr  u8
//	pgn      u32
//	prio     u8
//	dstAddr  u8
//	dstName  u64
//	length   u32  payload bytes
//	payload
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kstaniek/go-j1939-server/internal/j1939"
	"github.com/kstaniek/go-j1939-server/internal/metrics"
)

const (
	flagTimestamp = 1 << iota
	flagPriority
	flagDstAddr
	flagDstName
	flagTruncated
)

// HeaderSize is the fixed part of every record.
const HeaderSize = 1 + 8 + 8 + 1 + 4 + 1 + 1 + 8 + 4

// MaxPayload bounds the payload length accepted by Decode.
const MaxPayload = 1 << 20

// Codec encodes/decodes packet records. Stateless and safe for concurrent use.
type Codec struct{}

// ErrInvalidLength is returned when a record announces a payload above MaxPayload.
var ErrInvalidLength = errors.New("wire: invalid length")

// ErrTruncatedRecord is returned when the underlying reader ends mid-record.
var ErrTruncatedRecord = errors.New("wire: truncated record")

// Encode packs packets into one contiguous buffer.
func (c *Codec) Encode(packets []j1939.Packet) []byte {
	if len(packets) == 0 {
		return nil
	}
	size := 0
	for i := range packets {
		size += HeaderSize + len(packets[i].Data)
	}
	var buf bytes.Buffer
	buf.Grow(size)
	_, _ = c.EncodeTo(&buf, packets)
	return buf.Bytes()
}

// EncodeTo writes the wire representation of packets to w and returns bytes written.
func (c *Codec) EncodeTo(w io.Writer, packets []j1939.Packet) (int, error) {
	var total int
	var hdr [HeaderSize]byte
	for i := range packets {
		putHeader(hdr[:], &packets[i])
		n, err := w.Write(hdr[:])
		total += n
		if err != nil {
			return total, fmt.Errorf("wire encode header: %w", err)
		}
		if len(packets[i].Data) > 0 {
			n, err = w.Write(packets[i].Data)
			total += n
			if err != nil {
				return total, fmt.Errorf("wire encode payload: %w", err)
			}
		}
	}
	return total, nil
}

func putHeader(b []byte, p *j1939.Packet) {
	var flags byte
	var ts int64
	if t, ok := p.Timestamp.Get(); ok {
		flags |= flagTimestamp
		ts = t.UnixMicro()
	}
	prio, ok := p.Priority.Get()
	if ok {
		flags |= flagPriority
	}
	dstAddr, ok := p.DstAddr.Get()
	if ok {
		flags |= flagDstAddr
	} else {
		dstAddr = j1939.NoAddr
	}
	dstName, ok := p.DstName.Get()
	if ok {
		flags |= flagDstName
	}
	if p.Truncated {
		flags |= flagTruncated
	}
	b[0] = flags
	binary.BigEndian.PutUint64(b[1:9], uint64(ts))
	binary.BigEndian.PutUint64(b[9:17], p.Src.Name)
	b[17] = p.Src.Addr
	binary.BigEndian.PutUint32(b[18:22], p.Src.PGN)
	b[22] = prio
	b[23] = dstAddr
	binary.BigEndian.PutUint64(b[24:32], dstName)
	binary.BigEndian.PutUint32(b[32:36], uint32(len(p.Data)))
}

// Decode reads exactly one record from r.
// It returns io.EOF if called at a clean record boundary and no more data is available.
func (c *Codec) Decode(r io.Reader) (j1939.Packet, error) {
	var p j1939.Packet
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return p, fmt.Errorf("wire decode header: %w", ErrTruncatedRecord)
		}
		return p, err
	}
	flags := hdr[0]
	if flags&flagTimestamp != 0 {
		p.Timestamp.Set(time.UnixMicro(int64(binary.BigEndian.Uint64(hdr[1:9]))))
	}
	p.Src = j1939.Addr{
		Name: binary.BigEndian.Uint64(hdr[9:17]),
		Addr: hdr[17],
		PGN:  binary.BigEndian.Uint32(hdr[18:22]),
	}
	if flags&flagPriority != 0 {
		p.Priority.Set(hdr[22])
	}
	if flags&flagDstAddr != 0 {
		p.DstAddr.Set(hdr[23])
	}
	if flags&flagDstName != 0 {
		p.DstName.Set(binary.BigEndian.Uint64(hdr[24:32]))
	}
	p.Truncated = flags&flagTruncated != 0
	ln := binary.BigEndian.Uint32(hdr[32:36])
	if ln > MaxPayload {
		metrics.IncMalformed()
		return p, fmt.Errorf("wire decode: %w (%d)", ErrInvalidLength, ln)
	}
	p.Data = make([]byte, ln)
	if ln > 0 {
		if _, err := io.ReadFull(r, p.Data); err != nil {
			metrics.IncMalformed()
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return p, fmt.Errorf("wire decode payload: %w", ErrTruncatedRecord)
			}
			return p, fmt.Errorf("wire decode payload: %w", err)
		}
	}
	return p, nil
}

// DecodeN decodes up to max records (if max>0) or until EOF (if max<=0) invoking onPacket for each.
// It returns the number of records decoded and the terminal error (which can be io.EOF).
func (c *Codec) DecodeN(r io.Reader, max int, onPacket func(j1939.Packet)) (int, error) {
	var n int
	for max <= 0 || n < max {
		p, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onPacket(p)
		n++
	}
	return n, nil
}
