package recorder

import (
	"bytes"
	"encoding/hex"
	"strconv"

	"github.com/kstaniek/go-j1939-server/internal/j1939"
)

// AppendLine appends the text form of p to b, followed by a newline:
//
//	(1700000000.123456) can0 a00c81045a20021b:80 0FEF1 p6 -> 21 [8] 0102030405060708
//
// Absent fields print as "-". A truncated datagram ends with " T".
func AppendLine(b []byte, ifname string, p j1939.Packet) []byte {
	b = append(b, '(')
	if ts, ok := p.Timestamp.Get(); ok {
		b = strconv.AppendInt(b, ts.Unix(), 10)
		b = append(b, '.')
		b = appendPadded(b, strconv.AppendUint(nil, uint64(ts.Nanosecond()/1000), 10), 6)
	} else {
		b = append(b, '-')
	}
	b = append(b, ") "...)
	b = append(b, ifname...)
	b = append(b, ' ')
	b = appendHex(b, p.Src.Name, 16, false)
	b = append(b, ':')
	b = appendHex(b, uint64(p.Src.Addr), 2, true)
	b = append(b, ' ')
	b = appendHex(b, uint64(p.Src.PGN&j1939.PGNMask), 5, true)
	b = append(b, " p"...)
	if prio, ok := p.Priority.Get(); ok {
		b = strconv.AppendUint(b, uint64(prio), 10)
	} else {
		b = append(b, '-')
	}
	b = append(b, " -> "...)
	if da, ok := p.DstAddr.Get(); ok {
		b = appendHex(b, uint64(da), 2, true)
	} else {
		b = append(b, '-')
	}
	if dn, ok := p.DstName.Get(); ok {
		b = append(b, '/')
		b = appendHex(b, dn, 16, false)
	}
	b = append(b, " ["...)
	b = strconv.AppendInt(b, int64(len(p.Data)), 10)
	b = append(b, "] "...)
	b = hex.AppendEncode(b, p.Data)
	if p.Truncated {
		b = append(b, " T"...)
	}
	return append(b, '\n')
}

// appendHex appends v as hex with at least width digits. NAMEs are
// conventionally lower case, addresses and PGNs upper case.
func appendHex(b []byte, v uint64, width int, upper bool) []byte {
	var tmp [16]byte
	digits := strconv.AppendUint(tmp[:0], v, 16)
	if upper {
		digits = bytes.ToUpper(digits)
	}
	return appendPadded(b, digits, width)
}

func appendPadded(b, digits []byte, width int) []byte {
	for i := len(digits); i < width; i++ {
		b = append(b, '0')
	}
	return append(b, digits...)
}
