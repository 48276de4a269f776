// Package proto implements the binary wire protocol: frame layout,
// streaming decode-from-buffer, and the command/type/status constants of
// the remoting core. Framing mirrors the host application's
// DefaultProto.Decode shape (decode a contiguous buffer, return the
// number of bytes consumed, loop until exhausted) but the frame layout
// itself is this module's own bit-exact RPC header, not WuKongIM's.
package proto

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/WuKongIM/wkrpc/rerrors"
)

// ProtocolVersion identifies the frame layout revision.
const (
	V1 byte = 0x01
	V2 byte = 0x02
)

// Type is the command type field.
type Type byte

const (
	TypeResponse Type = 0
	TypeRequest  Type = 1
	TypeOneway   Type = 2
)

// CmdCode identifies the kind of command carried by a frame.
type CmdCode uint16

const (
	CmdHeartbeat CmdCode = 0
	CmdRequest   CmdCode = 1
	CmdResponse  CmdCode = 2
)

// fixed header sizes, in bytes, up to and including contentLen.
const (
	v1HeaderFixedLen = 1 + 1 + 2 + 4 + 1 + 4 + 2 + 2 + 4 // proto,type,cmdcode,requestId,codec,timeout|status(4),classLen,headerLen,contentLen
	v2ExtraLen       = 1                                 // ver2 byte, inserted right after proto
	crcLen           = 4
)

// Frame is a fully decoded wire command, request or response.
type Frame struct {
	Proto     byte
	Ver2      byte // v2 only
	Type      Type
	CmdCode   CmdCode
	RequestID uint32
	Codec     byte
	// Timeout carries the request timeout in ms for request/oneway frames.
	Timeout uint32
	// Status carries the response status for response frames. Only the
	// low 16 bits are used on the wire; Timeout and Status share the
	// same 4-byte slot but are never both meaningful for one frame.
	Status uint16

	ClassName []byte
	Header    []byte
	Content   []byte

	CRC      uint32
	HasCRC   bool
}

// Encode serializes f per spec: fixed fields, then className, header,
// content, then an optional CRC32 trailer when withCRC is true (v2 only).
func Encode(f *Frame, withCRC bool) []byte {
	classLen := len(f.ClassName)
	headerLen := len(f.Header)
	contentLen := len(f.Content)

	size := 2 + 2 + 4 + 1 + 4 + 2 + 2 + 4 + classLen + headerLen + contentLen
	if f.Proto == V2 {
		size++ // ver2 byte
	}
	if withCRC {
		size += crcLen
	}

	buf := make([]byte, size)
	i := 0
	buf[i] = f.Proto
	i++
	if f.Proto == V2 {
		buf[i] = f.Ver2
		i++
	}
	buf[i] = byte(f.Type)
	i++
	binary.BigEndian.PutUint16(buf[i:], uint16(f.CmdCode))
	i += 2
	binary.BigEndian.PutUint32(buf[i:], f.RequestID)
	i += 4
	buf[i] = f.Codec
	i++
	switch f.Type {
	case TypeResponse:
		binary.BigEndian.PutUint32(buf[i:], uint32(f.Status))
	default:
		binary.BigEndian.PutUint32(buf[i:], f.Timeout)
	}
	i += 4
	binary.BigEndian.PutUint16(buf[i:], uint16(classLen))
	i += 2
	binary.BigEndian.PutUint16(buf[i:], uint16(headerLen))
	i += 2
	binary.BigEndian.PutUint32(buf[i:], uint32(contentLen))
	i += 4
	copy(buf[i:], f.ClassName)
	i += classLen
	copy(buf[i:], f.Header)
	i += headerLen
	copy(buf[i:], f.Content)
	i += contentLen

	if withCRC {
		sum := crc32.ChecksumIEEE(buf[:i])
		binary.BigEndian.PutUint32(buf[i:], sum)
	}
	return buf
}

// Decode consumes zero or more complete frames from data, invoking fn for
// each. It returns the number of bytes consumed overall; the caller must
// retain data[consumed:] as the tail for the next read. A single
// malformed frame (CRC mismatch) is reported via fn's err argument and
// decoding of that frame is skipped without tearing the rest of the
// stream, matching spec.md 4.1's per-frame CRC failure policy; a
// truncated trailing frame simply stops the loop and returns what was
// consumed so far.
func Decode(data []byte, withCRC bool, fn func(*Frame, error)) (consumed int) {
	for {
		n, f, err := decodeOne(data[consumed:], withCRC)
		if n == 0 {
			return consumed
		}
		consumed += n
		if f != nil || err != nil {
			fn(f, err)
		}
	}
}

// decodeOne attempts to decode a single frame from the head of data. It
// returns n=0 when data does not yet contain a complete frame (caller
// should wait for more bytes).
func decodeOne(data []byte, withCRC bool) (n int, f *Frame, err error) {
	if len(data) < 1 {
		return 0, nil, nil
	}
	protoVer := data[0]
	off := 1
	var ver2 byte
	if protoVer == V2 {
		if len(data) < off+1 {
			return 0, nil, nil
		}
		ver2 = data[off]
		off++
	}
	fixedRemaining := 1 + 2 + 4 + 1 + 4 + 2 + 2 + 4
	if len(data) < off+fixedRemaining {
		return 0, nil, nil
	}
	typ := Type(data[off])
	off++
	cmdcode := CmdCode(binary.BigEndian.Uint16(data[off:]))
	off += 2
	reqID := binary.BigEndian.Uint32(data[off:])
	off += 4
	codec := data[off]
	off++
	timeoutOrStatus := binary.BigEndian.Uint32(data[off:])
	off += 4
	classLen := int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	headerLen := int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	contentLen := int(binary.BigEndian.Uint32(data[off:]))
	off += 4

	need := off + classLen + headerLen + contentLen
	if withCRC {
		need += crcLen
	}
	if len(data) < need {
		return 0, nil, nil
	}

	frame := &Frame{
		Proto:     protoVer,
		Ver2:      ver2,
		Type:      typ,
		CmdCode:   cmdcode,
		RequestID: reqID,
		Codec:     codec,
	}
	if typ == TypeResponse {
		frame.Status = uint16(timeoutOrStatus)
	} else {
		frame.Timeout = timeoutOrStatus
	}

	classEnd := off + classLen
	headerEnd := classEnd + headerLen
	contentEnd := headerEnd + contentLen
	// Copied out of data rather than sliced: data is the caller's reusable
	// read buffer and the frame may still be in flight on an executor
	// goroutine long after the next read overwrites it.
	frame.ClassName = append([]byte(nil), data[off:classEnd]...)
	frame.Header = append([]byte(nil), data[classEnd:headerEnd]...)
	frame.Content = append([]byte(nil), data[headerEnd:contentEnd]...)

	frameEnd := contentEnd
	if withCRC {
		gotCRC := binary.BigEndian.Uint32(data[frameEnd:])
		frame.CRC = gotCRC
		frame.HasCRC = true
		wantCRC := crc32.ChecksumIEEE(data[0:frameEnd])
		frameEnd += crcLen
		if gotCRC != wantCRC {
			return frameEnd, nil, rerrors.New(rerrors.CRC_CHECK, "crc mismatch")
		}
	}
	return frameEnd, frame, nil
}
