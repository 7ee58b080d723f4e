package j1939

import (
	"fmt"
	"strconv"
	"time"
)

// Wildcard and limit values from <linux/can/j1939.h>.
const (
	NoName   uint64 = 0
	NoAddr   uint8  = 0xFF
	IdleAddr uint8  = 0xFE
	NoPGN    uint32 = 0x40000
	PGNMask  uint32 = 0x3FFFF
	// DefaultPacketSize is the payload capacity used per received datagram.
	DefaultPacketSize = 1024
)

// Control message types at level SOL_CAN_J1939.
const (
	SCMDestAddr = 1
	SCMDestName = 2
	SCMPrio     = 3
)

// Addr is the J1939 part of a sockaddr_can: 64-bit NAME, 8-bit address and PGN.
type Addr struct {
	Name uint64
	Addr uint8
	PGN  uint32
}

// NameHex renders the NAME as unpadded lowercase hex.
func (a Addr) NameHex() string { return strconv.FormatUint(a.Name, 16) }

func (a Addr) String() string {
	return fmt.Sprintf("%016x:%02X/%05X", a.Name, a.Addr, a.PGN&PGNMask)
}

// Packet is one received J1939 datagram together with its out-of-band metadata.
//
// Data is owned by whoever holds the Packet. Once a Packet is handed to a
// consumer the producer never touches Data again.
type Packet struct {
	Data      []byte
	Timestamp Optional[time.Time]
	Src       Addr
	Priority  Optional[uint8]
	DstAddr   Optional[uint8]
	DstName   Optional[uint64]
	// Truncated is set when the datagram did not fit the receive buffer.
	Truncated bool
}

// TimestampMillis returns the arrival time as fractional epoch milliseconds.
func (p *Packet) TimestampMillis() (float64, bool) {
	ts, ok := p.Timestamp.Get()
	if !ok {
		return 0, false
	}
	return float64(ts.Unix())*1000 + float64(ts.Nanosecond()/1000)/1000, true
}

// ApplyMeta copies the ancillary metadata into the packet.
func (p *Packet) ApplyMeta(m Meta) {
	p.Timestamp = m.Timestamp
	p.Priority = m.Priority
	p.DstAddr = m.DstAddr
	p.DstName = m.DstName
}

// Meta is the ancillary data decoded from the control messages of one receive.
type Meta struct {
	Timestamp Optional[time.Time]
	DstAddr   Optional[uint8]
	DstName   Optional[uint64]
	Priority  Optional[uint8]
}
