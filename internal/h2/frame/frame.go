// Package frame implements the HTTP/2 wire codec: the 9-byte frame header,
// per-type payload parsing and serialization, and the pluggable
// header-compression codec applied to HEADERS, PUSH_PROMISE and CONTINUATION
// blocks.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Type represents HTTP/2 frame types
type Type uint8

// HTTP/2 frame type constants
const (
	FrameData         Type = 0x0
	FrameHeaders      Type = 0x1
	FramePriority     Type = 0x2
	FrameRSTStream    Type = 0x3
	FrameSettings     Type = 0x4
	FramePushPromise  Type = 0x5
	FramePing         Type = 0x6
	FrameGoAway       Type = 0x7
	FrameWindowUpdate Type = 0x8
	FrameContinuation Type = 0x9
)

var typeNames = map[Type]string{
	FrameData:         "DATA",
	FrameHeaders:      "HEADERS",
	FramePriority:     "PRIORITY",
	FrameRSTStream:    "RST_STREAM",
	FrameSettings:     "SETTINGS",
	FramePushPromise:  "PUSH_PROMISE",
	FramePing:         "PING",
	FrameGoAway:       "GOAWAY",
	FrameWindowUpdate: "WINDOW_UPDATE",
	FrameContinuation: "CONTINUATION",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(0x%x)", uint8(t))
}

// Known reports whether the type is one of the core protocol frame types.
// Unknown types must be accepted and ignored at the connection level.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// Flags represents HTTP/2 frame flags
type Flags uint8

// HTTP/2 frame flag constants
const (
	FlagEndStream  Flags = 0x1
	FlagAck        Flags = 0x1 // SETTINGS and PING
	FlagEndHeaders Flags = 0x4
	FlagPadded     Flags = 0x8
	FlagPriority   Flags = 0x20
)

// Has reports whether all bits of f are set in fl.
func (fl Flags) Has(f Flags) bool { return fl&f == f }

// Protocol limits per RFC 7540
const (
	HeaderLen           = 9
	DefaultMaxFrameSize = 16384
	MaxAllowedFrameSize = 1<<24 - 1
	MaxWindow           = 1<<31 - 1
	DefaultWindow       = 65535
)

// Frame is one protocol unit: a fixed header plus a type-specific payload.
// Frames are immutable once decoded.
type Frame struct {
	Type     Type
	Flags    Flags
	StreamID uint32
	Payload  []byte
}

// ReadFrame reads and decodes one frame. A declared length above maxFrameSize
// is a connection error of type FRAME_SIZE_ERROR.
func ReadFrame(r io.Reader, maxFrameSize uint32) (*Frame, error) {
	var header [HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := uint32(header[0])<<16 | uint32(header[1])<<8 | uint32(header[2])
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	if length > maxFrameSize {
		return nil, connError(ErrCodeFrameSize, fmt.Sprintf("frame length %d exceeds maximum %d", length, maxFrameSize))
	}

	f := &Frame{
		Type:  Type(header[3]),
		Flags: Flags(header[4]),
		// Mask the reserved bit when reading the stream id
		StreamID: binary.BigEndian.Uint32(header[5:9]) & 0x7fffffff,
	}
	if length > 0 {
		f.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Append serializes the frame, appending the header and payload to dst.
// The length field is stamped from the payload size.
func (f *Frame) Append(dst []byte) []byte {
	length := len(f.Payload)
	dst = append(dst,
		byte(length>>16), byte(length>>8), byte(length),
		byte(f.Type), byte(f.Flags),
	)
	dst = binary.BigEndian.AppendUint32(dst, f.StreamID&0x7fffffff)
	return append(dst, f.Payload...)
}

// WriteTo serializes the frame to w in a single Write call so concurrent
// writers sharing w never interleave partial frames.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	buf := f.Append(make([]byte, 0, HeaderLen+len(f.Payload)))
	n, err := w.Write(buf)
	return int64(n), err
}

// WireLen returns the serialized size of the frame.
func (f *Frame) WireLen() int { return HeaderLen + len(f.Payload) }

func (f *Frame) String() string {
	return fmt.Sprintf("%v flags=0x%x sid=%d len=%d", f.Type, uint8(f.Flags), f.StreamID, len(f.Payload))
}
