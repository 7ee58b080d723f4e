//go:build linux

package j1939

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrControlMessage is returned when the control message chain is malformed.
var ErrControlMessage = errors.New("j1939: malformed control message")

// SolCANJ1939 is the socket level of the CAN_J1939 control messages.
const SolCANJ1939 = unix.SOL_CAN_BASE + unix.CAN_J1939

const sizeofTimeval = int(unsafe.Sizeof(unix.Timeval{}))

// ControlBufferSize fits every control message a CAN_J1939 socket attaches to
// a datagram: timestamp, destination address, destination NAME and priority.
var ControlBufferSize = unix.CmsgSpace(sizeofTimeval) +
	unix.CmsgSpace(1) + // dest addr
	unix.CmsgSpace(8) + // dest name
	unix.CmsgSpace(1) // priority

// ParseControlMessages decodes the control message chain of one recvmsg call.
//
// Entries are applied in chain order so a repeated type keeps its last value.
// Unknown level/type pairs are skipped. On a malformed header the fields
// decoded so far are returned together with ErrControlMessage.
func ParseControlMessages(oob []byte) (Meta, error) {
	var m Meta
	for len(oob) >= unix.CmsgLen(0) {
		hdr, data, rest, err := unix.ParseOneSocketControlMessage(oob)
		if err != nil {
			return m, fmt.Errorf("%w: %v", ErrControlMessage, err)
		}
		m.apply(int(hdr.Level), int(hdr.Type), data)
		oob = rest
	}
	return m, nil
}

func (m *Meta) apply(level, typ int, data []byte) {
	switch level {
	case unix.SOL_SOCKET:
		if typ == unix.SCM_TIMESTAMP && len(data) >= sizeofTimeval {
			var tv unix.Timeval
			copy(unsafe.Slice((*byte)(unsafe.Pointer(&tv)), sizeofTimeval), data)
			m.Timestamp.Set(time.Unix(tv.Unix()))
		}
	case SolCANJ1939:
		switch typ {
		case SCMDestAddr:
			if len(data) >= 1 {
				m.DstAddr.Set(data[0])
			}
		case SCMDestName:
			if len(data) > 0 {
				var b [8]byte
				copy(b[:], data)
				m.DstName.Set(binary.NativeEndian.Uint64(b[:]))
			}
		case SCMPrio:
			if len(data) >= 1 {
				m.Priority.Set(data[0])
			}
		}
	}
}

// AppendTo encodes the present fields as a control message chain in the
// layout the kernel uses and appends it to b.
func (m Meta) AppendTo(b []byte) []byte {
	if ts, ok := m.Timestamp.Get(); ok {
		tv := unix.NsecToTimeval(ts.UnixNano())
		b = AppendControlMessage(b, unix.SOL_SOCKET, unix.SCM_TIMESTAMP,
			unsafe.Slice((*byte)(unsafe.Pointer(&tv)), sizeofTimeval))
	}
	if v, ok := m.DstAddr.Get(); ok {
		b = AppendControlMessage(b, SolCANJ1939, SCMDestAddr, []byte{v})
	}
	if v, ok := m.DstName.Get(); ok {
		b = AppendControlMessage(b, SolCANJ1939, SCMDestName,
			binary.NativeEndian.AppendUint64(nil, v))
	}
	if v, ok := m.Priority.Get(); ok {
		b = AppendControlMessage(b, SolCANJ1939, SCMPrio, []byte{v})
	}
	return b
}

// AppendControlMessage appends a single control message with the given
// level, type and payload to b.
func AppendControlMessage(b []byte, level, typ int, data []byte) []byte {
	msg := make([]byte, unix.CmsgSpace(len(data)))
	h := (*unix.Cmsghdr)(unsafe.Pointer(&msg[0]))
	h.Level = int32(level)
	h.Type = int32(typ)
	h.SetLen(unix.CmsgLen(len(data)))
	copy(msg[unix.CmsgLen(0):], data)
	return append(b, msg...)
}
