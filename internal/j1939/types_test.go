package j1939

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptional(t *testing.T) {
	var o Optional[uint8]
	assert.False(t, o.IsSet())
	assert.Equal(t, uint8(7), o.GetOr(7))
	o.Set(3)
	v, ok := o.Get()
	assert.True(t, ok)
	assert.Equal(t, uint8(3), v)
	o.Unset()
	assert.False(t, o.IsSet())
	assert.Equal(t, uint8(0), o.value)
	assert.True(t, Some[uint64](0).IsSet())
	assert.False(t, None[uint64]().IsSet())
}

func TestTimestampMillis(t *testing.T) {
	var p Packet
	_, ok := p.TimestampMillis()
	assert.False(t, ok)

	p.Timestamp.Set(time.Unix(1700000000, 123456*1000))
	ms, ok := p.TimestampMillis()
	assert.True(t, ok)
	assert.InDelta(t, 1700000000123.456, ms, 1e-3)
}

func TestAddrFormatting(t *testing.T) {
	a := Addr{Name: 0xA00C81045A20021B, Addr: 0x80, PGN: 0xFEF1}
	assert.Equal(t, "a00c81045a20021b", a.NameHex())
	assert.Equal(t, "a00c81045a20021b:80/0FEF1", a.String())
	assert.Equal(t, "0", Addr{}.NameHex())
}

func TestApplyMetaOverwritesAbsence(t *testing.T) {
	p := Packet{DstAddr: Some[uint8](0x22), Priority: Some[uint8](3)}
	p.ApplyMeta(Meta{Priority: Some[uint8](6)})
	assert.False(t, p.DstAddr.IsSet())
	assert.Equal(t, uint8(6), p.Priority.GetOr(0))
}
