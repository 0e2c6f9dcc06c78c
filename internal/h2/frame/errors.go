package frame

import (
	"fmt"

	"golang.org/x/net/http2"
)

// ErrCode is the wire error code carried by RST_STREAM and GOAWAY frames.
// The vocabulary is shared with golang.org/x/net/http2 so settings and codes
// interoperate with its Framer in tests and tooling.
type ErrCode = http2.ErrCode

// Error codes per RFC 7540 Section 7.
const (
	ErrCodeNo            = http2.ErrCodeNo
	ErrCodeProtocol      = http2.ErrCodeProtocol
	ErrCodeInternal      = http2.ErrCodeInternal
	ErrCodeFlowControl   = http2.ErrCodeFlowControl
	ErrCodeStreamClosed  = http2.ErrCodeStreamClosed
	ErrCodeFrameSize     = http2.ErrCodeFrameSize
	ErrCodeRefusedStream = http2.ErrCodeRefusedStream
	ErrCodeCancel        = http2.ErrCodeCancel
	ErrCodeCompression   = http2.ErrCodeCompression
)

// Setting mirrors the x/net/http2 settings key/value pair.
type Setting = http2.Setting

// SettingID identifies a settings parameter.
type SettingID = http2.SettingID

// Settings identifiers per RFC 7540 Section 6.5.2.
const (
	SettingHeaderTableSize      = http2.SettingHeaderTableSize
	SettingEnablePush           = http2.SettingEnablePush
	SettingMaxConcurrentStreams = http2.SettingMaxConcurrentStreams
	SettingInitialWindowSize    = http2.SettingInitialWindowSize
	SettingMaxFrameSize         = http2.SettingMaxFrameSize
	SettingMaxHeaderListSize    = http2.SettingMaxHeaderListSize
)

// ConnError is a connection-scoped protocol fault. The session terminates the
// connection with a GOAWAY carrying Code when it observes one.
type ConnError struct {
	Code   ErrCode
	Reason string
}

func (e ConnError) Error() string {
	return fmt.Sprintf("connection error (%v): %s", e.Code, e.Reason)
}

// StreamError is a fault scoped to a single stream. The session answers it
// with RST_STREAM on the offending stream; siblings and the connection
// continue.
type StreamError struct {
	StreamID uint32
	Code     ErrCode
	Reason   string
}

func (e StreamError) Error() string {
	return fmt.Sprintf("stream %d error (%v): %s", e.StreamID, e.Code, e.Reason)
}

func connError(code ErrCode, reason string) error {
	return ConnError{Code: code, Reason: reason}
}

func streamError(id uint32, code ErrCode, reason string) error {
	return StreamError{StreamID: id, Code: code, Reason: reason}
}
