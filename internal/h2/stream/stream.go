// Package stream provides the per-stream state machine and the table of live
// streams owned by a session. A stream tracks its lifecycle, buffers inbound
// body bytes, and carries the cancellation context for the application task
// serving it.
package stream

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/alcidesv/second-transfer/internal/h2/frame"
)

// State is the lifecycle state of a stream per RFC 7540 Section 5.1.
type State int

// Stream states. ReservedLocal is entered instead of Idle for
// server-initiated push streams.
const (
	StateIdle State = iota
	StateReservedLocal
	StateOpen
	StateHalfClosedLocal
	StateHalfClosedRemote
	StateClosed
)

var stateNames = [...]string{"idle", "reserved-local", "open", "half-closed-local", "half-closed-remote", "closed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) active() bool {
	return s == StateOpen || s == StateHalfClosedLocal || s == StateHalfClosedRemote
}

// Stream is one logical request/response exchange multiplexed over a
// connection. It is owned exclusively by the session's Manager and referenced
// only by id.
type Stream struct {
	ID uint32

	mu            sync.Mutex
	state         State
	headers       [][2]string
	trailers      [][2]string
	body          bytes.Buffer
	remoteDone    bool // peer set END_STREAM
	received      int  // inbound body octets, for content-length checks
	gotHeaders    bool // initial header block fully received
	closedByReset bool
	resetCode     frame.ErrCode

	ctx    context.Context
	cancel context.CancelFunc

	onTransition func(prev, next State)
}

func newStream(id uint32, initial State, onTransition func(prev, next State)) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		ID:           id,
		state:        initial,
		ctx:          ctx,
		cancel:       cancel,
		onTransition: onTransition,
	}
}

// Context is canceled when the stream is reset, so application tasks observe
// cancellation promptly.
func (s *Stream) Context() context.Context { return s.ctx }

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setStateLocked enforces that Closed is absorbing. Callers hold s.mu.
func (s *Stream) setStateLocked(next State) {
	if s.state == StateClosed || s.state == next {
		return
	}
	prev := s.state
	s.state = next
	if s.onTransition != nil {
		s.onTransition(prev, next)
	}
}

// CloseRemote records that the peer finished its direction.
func (s *Stream) CloseRemote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteDone = true
	switch s.state {
	case StateOpen, StateIdle:
		s.setStateLocked(StateHalfClosedRemote)
	case StateHalfClosedLocal:
		s.setStateLocked(StateClosed)
	}
}

// CloseLocal records that our direction is finished (terminal DATA or
// HEADERS flushed). When both directions are done the stream closes.
func (s *Stream) CloseLocal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateOpen:
		s.setStateLocked(StateHalfClosedLocal)
	case StateHalfClosedRemote, StateReservedLocal:
		s.setStateLocked(StateClosed)
	}
}

// PromoteReserved moves a push stream from ReservedLocal to HalfClosedRemote
// once its announced headers are on the wire.
func (s *Stream) PromoteReserved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReservedLocal {
		s.setStateLocked(StateHalfClosedRemote)
	}
}

// Reset forces the stream to Closed from any state, discards buffered body
// data, and cancels the stream context so any task blocked on this stream's
// credit or body production unblocks.
func (s *Stream) Reset(code frame.ErrCode) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.closedByReset = true
		s.resetCode = code
		s.setStateLocked(StateClosed)
		s.body.Reset()
	}
	s.mu.Unlock()
	s.cancel()
}

// ClosedByReset reports whether the stream ended via RST rather than normal
// half-close on both sides.
func (s *Stream) ClosedByReset() (frame.ErrCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetCode, s.closedByReset
}

// RemoteDone reports whether the peer has sent END_STREAM.
func (s *Stream) RemoteDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteDone
}

// AddHeaders appends decoded header fields.
func (s *Stream) AddHeaders(headers [][2]string) {
	s.mu.Lock()
	s.headers = append(s.headers, headers...)
	s.gotHeaders = true
	s.mu.Unlock()
}

// AddTrailers appends decoded trailing header fields.
func (s *Stream) AddTrailers(trailers [][2]string) {
	s.mu.Lock()
	s.trailers = append(s.trailers, trailers...)
	s.mu.Unlock()
}

// GotHeaders reports whether the initial header block has been received, to
// distinguish trailers from an invalid second HEADERS.
func (s *Stream) GotHeaders() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gotHeaders
}

// Headers returns a copy of the request headers.
func (s *Stream) Headers() [][2]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][2]string, len(s.headers))
	copy(out, s.headers)
	return out
}

// Trailers returns a copy of the trailing headers, if any.
func (s *Stream) Trailers() [][2]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.trailers) == 0 {
		return nil
	}
	out := make([][2]string, len(s.trailers))
	copy(out, s.trailers)
	return out
}

// AppendBody buffers inbound body bytes.
func (s *Stream) AppendBody(p []byte) {
	s.mu.Lock()
	s.body.Write(p)
	s.received += len(p)
	s.mu.Unlock()
}

// Received returns the total inbound body octets seen on the stream.
func (s *Stream) Received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

// BodyBytes returns the buffered inbound body.
func (s *Stream) BodyBytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.body.Bytes()...)
}

// BodyReader returns a reader over the buffered inbound body. It reports EOF
// once the buffered bytes are drained and the peer has ended the stream.
func (s *Stream) BodyReader() io.Reader { return &bodyReader{s: s} }

type bodyReader struct {
	s      *Stream
	offset int
}

func (r *bodyReader) Read(p []byte) (int, error) {
	r.s.mu.Lock()
	data := r.s.body.Bytes()
	done := r.s.remoteDone
	r.s.mu.Unlock()
	if r.offset >= len(data) {
		if done {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(p, data[r.offset:])
	r.offset += n
	return n, nil
}
