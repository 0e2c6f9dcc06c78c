package frame

import (
	"encoding/binary"
	"fmt"
)

// Priority carries the dependency fields of HEADERS and PRIORITY frames.
// The engine accepts them but does not schedule on them.
type Priority struct {
	StreamDep uint32
	Weight    uint8
	Exclusive bool
}

// DataPayload is the decoded payload of a DATA frame.
type DataPayload struct {
	Data []byte
}

// ParseData strips padding from a DATA frame payload. Pad length at or above
// the payload length is a connection error per RFC 7540 Section 6.1.
func ParseData(f *Frame) (DataPayload, error) {
	p := f.Payload
	if f.Flags.Has(FlagPadded) {
		if len(p) < 1 {
			return DataPayload{}, connError(ErrCodeFrameSize, "padded DATA frame shorter than pad length field")
		}
		padLen := int(p[0])
		if padLen >= len(p) {
			return DataPayload{}, connError(ErrCodeProtocol, fmt.Sprintf("DATA pad length %d exceeds payload %d", padLen, len(p)-1))
		}
		p = p[1 : len(p)-padLen]
	}
	return DataPayload{Data: p}, nil
}

// HeadersPayload is the decoded payload of a HEADERS frame: an optional
// priority section and the (possibly partial) header block fragment.
type HeadersPayload struct {
	Priority *Priority
	Fragment []byte
}

// ParseHeaders strips padding and priority fields from a HEADERS payload.
func ParseHeaders(f *Frame) (HeadersPayload, error) {
	p := f.Payload
	padLen := 0
	if f.Flags.Has(FlagPadded) {
		if len(p) < 1 {
			return HeadersPayload{}, connError(ErrCodeFrameSize, "padded HEADERS frame shorter than pad length field")
		}
		padLen = int(p[0])
		p = p[1:]
	}
	var prio *Priority
	if f.Flags.Has(FlagPriority) {
		if len(p) < 5 {
			return HeadersPayload{}, connError(ErrCodeFrameSize, "HEADERS priority section truncated")
		}
		dep := binary.BigEndian.Uint32(p[0:4])
		prio = &Priority{
			StreamDep: dep & 0x7fffffff,
			Exclusive: dep&0x80000000 != 0,
			Weight:    p[4],
		}
		p = p[5:]
	}
	if padLen > len(p) {
		return HeadersPayload{}, connError(ErrCodeProtocol, fmt.Sprintf("HEADERS pad length %d exceeds payload %d", padLen, len(p)))
	}
	return HeadersPayload{Priority: prio, Fragment: p[:len(p)-padLen]}, nil
}

// ParsePriority decodes a PRIORITY frame payload. The frame is stream-scoped,
// so a bad length is a stream error.
func ParsePriority(f *Frame) (Priority, error) {
	if len(f.Payload) != 5 {
		return Priority{}, streamError(f.StreamID, ErrCodeFrameSize, fmt.Sprintf("PRIORITY payload length %d, want 5", len(f.Payload)))
	}
	dep := binary.BigEndian.Uint32(f.Payload[0:4])
	return Priority{
		StreamDep: dep & 0x7fffffff,
		Exclusive: dep&0x80000000 != 0,
		Weight:    f.Payload[4],
	}, nil
}

// ParseRSTStream decodes the error code of a RST_STREAM frame.
func ParseRSTStream(f *Frame) (ErrCode, error) {
	if len(f.Payload) != 4 {
		return 0, connError(ErrCodeFrameSize, fmt.Sprintf("RST_STREAM payload length %d, want 4", len(f.Payload)))
	}
	return ErrCode(binary.BigEndian.Uint32(f.Payload)), nil
}

// ParseSettings decodes a SETTINGS frame into key/value pairs. SETTINGS must
// be addressed to stream 0, an ACK must be empty, and the payload length must
// be a multiple of six octets.
func ParseSettings(f *Frame) ([]Setting, error) {
	if f.StreamID != 0 {
		return nil, connError(ErrCodeProtocol, "SETTINGS on non-zero stream")
	}
	if f.Flags.Has(FlagAck) {
		if len(f.Payload) != 0 {
			return nil, connError(ErrCodeFrameSize, "SETTINGS ACK with payload")
		}
		return nil, nil
	}
	if len(f.Payload)%6 != 0 {
		return nil, connError(ErrCodeFrameSize, fmt.Sprintf("SETTINGS payload length %d not a multiple of 6", len(f.Payload)))
	}
	settings := make([]Setting, 0, len(f.Payload)/6)
	for p := f.Payload; len(p) >= 6; p = p[6:] {
		settings = append(settings, Setting{
			ID:  SettingID(binary.BigEndian.Uint16(p[0:2])),
			Val: binary.BigEndian.Uint32(p[2:6]),
		})
	}
	return settings, nil
}

// ParsePushPromise decodes the promised stream id and header block fragment.
func ParsePushPromise(f *Frame) (promisedID uint32, fragment []byte, err error) {
	p := f.Payload
	padLen := 0
	if f.Flags.Has(FlagPadded) {
		if len(p) < 1 {
			return 0, nil, connError(ErrCodeFrameSize, "padded PUSH_PROMISE shorter than pad length field")
		}
		padLen = int(p[0])
		p = p[1:]
	}
	if len(p) < 4 {
		return 0, nil, connError(ErrCodeFrameSize, "PUSH_PROMISE payload truncated")
	}
	promisedID = binary.BigEndian.Uint32(p[0:4]) & 0x7fffffff
	p = p[4:]
	if padLen > len(p) {
		return 0, nil, connError(ErrCodeProtocol, "PUSH_PROMISE pad length exceeds payload")
	}
	return promisedID, p[:len(p)-padLen], nil
}

// ParsePing decodes the opaque data of a PING frame.
func ParsePing(f *Frame) ([8]byte, error) {
	var data [8]byte
	if f.StreamID != 0 {
		return data, connError(ErrCodeProtocol, "PING on non-zero stream")
	}
	if len(f.Payload) != 8 {
		return data, connError(ErrCodeFrameSize, fmt.Sprintf("PING payload length %d, want 8", len(f.Payload)))
	}
	copy(data[:], f.Payload)
	return data, nil
}

// GoAwayPayload is the decoded payload of a GOAWAY frame.
type GoAwayPayload struct {
	LastStreamID uint32
	Code         ErrCode
	Debug        []byte
}

// ParseGoAway decodes a GOAWAY frame payload.
func ParseGoAway(f *Frame) (GoAwayPayload, error) {
	if f.StreamID != 0 {
		return GoAwayPayload{}, connError(ErrCodeProtocol, "GOAWAY on non-zero stream")
	}
	if len(f.Payload) < 8 {
		return GoAwayPayload{}, connError(ErrCodeFrameSize, fmt.Sprintf("GOAWAY payload length %d, want >= 8", len(f.Payload)))
	}
	return GoAwayPayload{
		LastStreamID: binary.BigEndian.Uint32(f.Payload[0:4]) & 0x7fffffff,
		Code:         ErrCode(binary.BigEndian.Uint32(f.Payload[4:8])),
		Debug:        f.Payload[8:],
	}, nil
}

// ParseWindowUpdate decodes the credit increment of a WINDOW_UPDATE frame.
// A zero increment is left to the session, which needs stream context to pick
// the error scope.
func ParseWindowUpdate(f *Frame) (uint32, error) {
	if len(f.Payload) != 4 {
		return 0, connError(ErrCodeFrameSize, fmt.Sprintf("WINDOW_UPDATE payload length %d, want 4", len(f.Payload)))
	}
	return binary.BigEndian.Uint32(f.Payload) & 0x7fffffff, nil
}

// Data builds a DATA frame.
func Data(streamID uint32, endStream bool, data []byte) *Frame {
	f := &Frame{Type: FrameData, StreamID: streamID, Payload: data}
	if endStream {
		f.Flags |= FlagEndStream
	}
	return f
}

// Headers builds a HEADERS frame carrying an already-encoded block fragment.
func Headers(streamID uint32, endStream, endHeaders bool, fragment []byte) *Frame {
	f := &Frame{Type: FrameHeaders, StreamID: streamID, Payload: fragment}
	if endStream {
		f.Flags |= FlagEndStream
	}
	if endHeaders {
		f.Flags |= FlagEndHeaders
	}
	return f
}

// Continuation builds a CONTINUATION frame for a fragmented header block.
func Continuation(streamID uint32, endHeaders bool, fragment []byte) *Frame {
	f := &Frame{Type: FrameContinuation, StreamID: streamID, Payload: fragment}
	if endHeaders {
		f.Flags |= FlagEndHeaders
	}
	return f
}

// Settings builds a SETTINGS frame from key/value pairs.
func Settings(settings ...Setting) *Frame {
	payload := make([]byte, 0, len(settings)*6)
	for _, s := range settings {
		payload = binary.BigEndian.AppendUint16(payload, uint16(s.ID))
		payload = binary.BigEndian.AppendUint32(payload, s.Val)
	}
	return &Frame{Type: FrameSettings, Payload: payload}
}

// SettingsAck builds a SETTINGS acknowledgment frame.
func SettingsAck() *Frame {
	return &Frame{Type: FrameSettings, Flags: FlagAck}
}

// RSTStream builds a RST_STREAM frame.
func RSTStream(streamID uint32, code ErrCode) *Frame {
	return &Frame{
		Type:     FrameRSTStream,
		StreamID: streamID,
		Payload:  binary.BigEndian.AppendUint32(make([]byte, 0, 4), uint32(code)),
	}
}

// WindowUpdate builds a WINDOW_UPDATE frame. Stream id zero credits the
// connection window.
func WindowUpdate(streamID uint32, increment uint32) *Frame {
	return &Frame{
		Type:     FrameWindowUpdate,
		StreamID: streamID,
		Payload:  binary.BigEndian.AppendUint32(make([]byte, 0, 4), increment&0x7fffffff),
	}
}

// Ping builds a PING frame.
func Ping(ack bool, data [8]byte) *Frame {
	f := &Frame{Type: FramePing, Payload: append([]byte(nil), data[:]...)}
	if ack {
		f.Flags |= FlagAck
	}
	return f
}

// GoAway builds a GOAWAY frame.
func GoAway(lastStreamID uint32, code ErrCode, debug []byte) *Frame {
	payload := binary.BigEndian.AppendUint32(make([]byte, 0, 8+len(debug)), lastStreamID&0x7fffffff)
	payload = binary.BigEndian.AppendUint32(payload, uint32(code))
	return &Frame{Type: FrameGoAway, Payload: append(payload, debug...)}
}

// PushPromise builds a PUSH_PROMISE frame announcing promisedID on streamID.
func PushPromise(streamID, promisedID uint32, endHeaders bool, fragment []byte) *Frame {
	payload := binary.BigEndian.AppendUint32(make([]byte, 0, 4+len(fragment)), promisedID&0x7fffffff)
	f := &Frame{Type: FramePushPromise, StreamID: streamID, Payload: append(payload, fragment...)}
	if endHeaders {
		f.Flags |= FlagEndHeaders
	}
	return f
}

// FragmentHeaders splits an encoded header block into a HEADERS frame followed
// by CONTINUATION frames so no fragment exceeds maxFrameSize.
func FragmentHeaders(streamID uint32, endStream bool, block []byte, maxFrameSize uint32) []*Frame {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	var frames []*Frame
	first := true
	remaining := block
	for {
		chunk := remaining
		if len(chunk) > int(maxFrameSize) {
			chunk = chunk[:maxFrameSize]
		}
		remaining = remaining[len(chunk):]
		last := len(remaining) == 0
		if first {
			frames = append(frames, Headers(streamID, endStream, last, chunk))
			first = false
		} else {
			frames = append(frames, Continuation(streamID, last, chunk))
		}
		if last {
			return frames
		}
	}
}
