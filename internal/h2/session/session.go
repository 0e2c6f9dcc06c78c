// Package session implements the per-connection HTTP/2 engine: it
// demultiplexes inbound frames into stream state machines, multiplexes
// outbound frames from concurrently producing streams onto one serialized
// write path, and enforces connection-level protocol rules.
package session

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alcidesv/second-transfer/internal/h2/flow"
	"github.com/alcidesv/second-transfer/internal/h2/frame"
	"github.com/alcidesv/second-transfer/internal/h2/stream"
)

// ClientPreface is the fixed byte sequence a client must send before its
// first frame.
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// verboseLogging gates hot-path logging; keep false for production runs.
const verboseLogging = false

// Channel is the opaque byte-stream transport the session consumes. Push is
// a best-effort send with no partial-success semantics; PullExactly blocks
// for exactly n bytes; Close is idempotent and safe to call from multiple
// error paths.
type Channel interface {
	Push(p []byte) error
	PullExactly(n int) ([]byte, error)
	PullBestEffort(canWait bool) ([]byte, error)
	Close() error
}

// Options configures a session. Zero values fall back to protocol defaults.
type Options struct {
	Logger               *log.Logger
	HeaderCodec          frame.HeaderCodec
	MaxConcurrentStreams uint32
	MaxFrameSize         uint32 // largest frame we accept
	InitialWindowSize    uint32 // receive window we advertise per stream
	IdleTimeout          time.Duration
	Metrics              Metrics
	ConnID               uint64
	PeerAddr             net.Addr
	Protocol             string // negotiated application protocol, e.g. "h2"
}

func (o *Options) withDefaults() {
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	if o.HeaderCodec == nil {
		o.HeaderCodec = frame.NewHPACKCodec(4096)
	}
	if o.MaxConcurrentStreams == 0 {
		o.MaxConcurrentStreams = 100
	}
	if o.MaxFrameSize < frame.DefaultMaxFrameSize {
		o.MaxFrameSize = frame.DefaultMaxFrameSize
	}
	if o.MaxFrameSize > frame.MaxAllowedFrameSize {
		o.MaxFrameSize = frame.MaxAllowedFrameSize
	}
	if o.InitialWindowSize == 0 {
		o.InitialWindowSize = frame.DefaultWindow
	}
	if o.Metrics == nil {
		o.Metrics = NopMetrics{}
	}
	if o.Protocol == "" {
		o.Protocol = "h2"
	}
}

// continuationState accumulates a fragmented header block. While it is
// armed, only CONTINUATION frames on the same stream are legal.
type continuationState struct {
	streamID   uint32
	fragments  []byte
	endStream  bool
	isTrailers bool
	pending    error // stream error surfaced once the block is consumed
}

// Session is the engine for one connection. It owns the stream table, the
// flow-control ledger, and the serialized write path. The read loop runs on
// the goroutine calling Serve; attendant callbacks run as independent tasks
// whose output funnels back through the write mutex.
type Session struct {
	ch        Channel
	attendant Attendant
	opts      Options

	mgr    *stream.Manager
	ledger *flow.Ledger
	codec  frame.HeaderCodec

	writeMu  sync.Mutex
	writeBuf []byte

	peerMaxFrame atomic.Uint32 // peer's SETTINGS_MAX_FRAME_SIZE, bounds our sends

	continuation *continuationState // read loop only

	goAwaySent atomic.Bool
	closed     atomic.Bool
	idleTimer  *time.Timer
}

// New creates a session over ch. Serve must be called to start it.
func New(ch Channel, attendant Attendant, opts Options) *Session {
	opts.withDefaults()
	s := &Session{
		ch:        ch,
		attendant: attendant,
		opts:      opts,
		mgr:       stream.NewManager(opts.MaxConcurrentStreams),
		ledger:    flow.NewLedger(),
		codec:     opts.HeaderCodec,
	}
	s.peerMaxFrame.Store(frame.DefaultMaxFrameSize)
	s.ledger.SetInitialRecvWindow(opts.InitialWindowSize)
	return s
}

// Serve runs the read/demultiplex loop until the connection ends. It returns
// nil on orderly teardown and the fatal error otherwise. The channel is
// always closed and every stream released before Serve returns.
func (s *Session) Serve() error {
	s.opts.Metrics.SessionOpened()
	defer func() {
		s.teardown(frame.ErrCodeNo)
		s.opts.Metrics.SessionClosed()
	}()

	if err := s.readPreface(); err != nil {
		return err
	}
	if err := s.sendServerPreface(); err != nil {
		return err
	}
	if s.opts.IdleTimeout > 0 {
		s.idleTimer = time.AfterFunc(s.opts.IdleTimeout, s.idleExpired)
		defer s.idleTimer.Stop()
	}

	reader := &chanReader{ch: s.ch}
	sawSettings := false
	for {
		f, err := frame.ReadFrame(reader, s.opts.MaxFrameSize)
		if err != nil {
			var ce frame.ConnError
			if errors.As(err, &ce) {
				return s.fatal(ce)
			}
			// Transport fault: abort without attempting further writes.
			if s.closed.Load() || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("channel read: %w", err)
		}
		if s.idleTimer != nil {
			s.idleTimer.Reset(s.opts.IdleTimeout)
		}
		s.opts.Metrics.FrameRead(f.Type)

		if !sawSettings {
			if f.Type != frame.FrameSettings {
				return s.fatal(frame.ConnError{Code: frame.ErrCodeProtocol,
					Reason: fmt.Sprintf("first frame is %v, want SETTINGS", f.Type)})
			}
			sawSettings = true
		}

		if err := s.processFrame(f); err != nil {
			var se frame.StreamError
			var ce frame.ConnError
			switch {
			case errors.As(err, &se):
				if verboseLogging {
					s.opts.Logger.Printf("stream error: %v", se)
				}
				if werr := s.resetStream(se.StreamID, se.Code); werr != nil {
					return werr
				}
			case errors.As(err, &ce):
				return s.fatal(ce)
			default:
				// Write-path transport fault.
				return err
			}
		}
	}
}

// readPreface consumes and checks the client connection preface.
func (s *Session) readPreface() error {
	preface, err := s.ch.PullExactly(len(ClientPreface))
	if err != nil {
		return fmt.Errorf("reading connection preface: %w", err)
	}
	if string(preface) != ClientPreface {
		return s.fatal(frame.ConnError{Code: frame.ErrCodeProtocol, Reason: "invalid connection preface"})
	}
	return nil
}

// sendServerPreface advertises our settings as the mandatory first frame.
func (s *Session) sendServerPreface() error {
	return s.writeFrames(frame.Settings(
		frame.Setting{ID: frame.SettingMaxConcurrentStreams, Val: s.opts.MaxConcurrentStreams},
		frame.Setting{ID: frame.SettingMaxFrameSize, Val: s.opts.MaxFrameSize},
		frame.Setting{ID: frame.SettingInitialWindowSize, Val: s.opts.InitialWindowSize},
	))
}

// processFrame routes one decoded frame to the addressed stream or to
// connection-level handling.
func (s *Session) processFrame(f *frame.Frame) error {
	// While a header block is open, only CONTINUATION on the same stream is
	// legal (RFC 7540 Section 6.10).
	if s.continuation != nil {
		if f.Type != frame.FrameContinuation || f.StreamID != s.continuation.streamID {
			return frame.ConnError{Code: frame.ErrCodeProtocol,
				Reason: fmt.Sprintf("%v on stream %d while header block open on stream %d", f.Type, f.StreamID, s.continuation.streamID)}
		}
	}

	switch f.Type {
	case frame.FrameSettings:
		return s.handleSettings(f)
	case frame.FrameHeaders:
		return s.handleHeaders(f)
	case frame.FrameContinuation:
		return s.handleContinuation(f)
	case frame.FrameData:
		return s.handleData(f)
	case frame.FrameWindowUpdate:
		return s.handleWindowUpdate(f)
	case frame.FrameRSTStream:
		return s.handleRSTStream(f)
	case frame.FramePriority:
		return s.handlePriority(f)
	case frame.FramePing:
		return s.handlePing(f)
	case frame.FrameGoAway:
		return s.handleGoAway(f)
	case frame.FramePushPromise:
		return frame.ConnError{Code: frame.ErrCodeProtocol, Reason: "client sent PUSH_PROMISE"}
	default:
		// Unknown frame types are ignored for forward compatibility.
		return nil
	}
}

func (s *Session) handleSettings(f *frame.Frame) error {
	settings, err := frame.ParseSettings(f)
	if err != nil {
		return err
	}
	if f.Flags.Has(frame.FlagAck) {
		return nil
	}
	for _, st := range settings {
		switch st.ID {
		case frame.SettingEnablePush:
			if st.Val != 0 && st.Val != 1 {
				return frame.ConnError{Code: frame.ErrCodeProtocol,
					Reason: fmt.Sprintf("SETTINGS_ENABLE_PUSH must be 0 or 1, got %d", st.Val)}
			}
			s.mgr.SetPushEnabled(st.Val == 1)
		case frame.SettingInitialWindowSize:
			if err := s.ledger.SetInitialSendWindow(st.Val); err != nil {
				return err
			}
		case frame.SettingMaxFrameSize:
			if st.Val < frame.DefaultMaxFrameSize || st.Val > frame.MaxAllowedFrameSize {
				return frame.ConnError{Code: frame.ErrCodeProtocol,
					Reason: fmt.Sprintf("SETTINGS_MAX_FRAME_SIZE out of range: %d", st.Val)}
			}
			s.peerMaxFrame.Store(st.Val)
		case frame.SettingHeaderTableSize, frame.SettingMaxConcurrentStreams, frame.SettingMaxHeaderListSize:
			// Accepted; MAX_CONCURRENT_STREAMS limits our pushes and is
			// enforced through the same admission count.
		}
	}
	return s.writeFrames(frame.SettingsAck())
}

func (s *Session) handleHeaders(f *frame.Frame) error {
	payload, err := frame.ParseHeaders(f)
	if err != nil {
		return err
	}
	if f.StreamID == 0 {
		return frame.ConnError{Code: frame.ErrCodeProtocol, Reason: "HEADERS on stream 0"}
	}
	if payload.Priority != nil && payload.Priority.StreamDep == f.StreamID {
		return frame.ConnError{Code: frame.ErrCodeProtocol,
			Reason: fmt.Sprintf("stream %d depends on itself", f.StreamID)}
	}

	// Even when the stream outcome is already decided, the header block must
	// still pass through the decoder: its state is shared by every stream on
	// the connection. Stream-scoped failures are deferred until the block is
	// consumed.
	st, status := s.mgr.Classify(f.StreamID)
	var pending error
	isTrailers := false
	switch status {
	case stream.StatusClosed:
		pending = frame.StreamError{StreamID: f.StreamID, Code: frame.ErrCodeStreamClosed, Reason: "HEADERS on closed stream"}
		st = nil
	case stream.StatusLive:
		switch st.State() {
		case stream.StateHalfClosedRemote:
			pending = frame.StreamError{StreamID: f.StreamID, Code: frame.ErrCodeStreamClosed, Reason: "HEADERS on half-closed (remote) stream"}
			st = nil
		case stream.StateReservedLocal:
			return frame.ConnError{Code: frame.ErrCodeProtocol, Reason: "HEADERS on reserved stream"}
		}
		if st != nil && st.GotHeaders() {
			// A second header block is only legal as trailers, which must
			// end the stream.
			if !f.Flags.Has(frame.FlagEndStream) {
				return frame.ConnError{Code: frame.ErrCodeProtocol,
					Reason: fmt.Sprintf("second HEADERS without END_STREAM on stream %d", f.StreamID)}
			}
			isTrailers = true
		}
	case stream.StatusIdle:
		opened, err := s.mgr.OpenRemote(f.StreamID)
		if err != nil {
			var se frame.StreamError
			if !errors.As(err, &se) {
				return err
			}
			pending = se
		} else {
			s.ledger.OpenStream(f.StreamID)
			s.opts.Metrics.StreamOpened()
			st = opened
		}
	}

	if !f.Flags.Has(frame.FlagEndHeaders) {
		s.continuation = &continuationState{
			streamID:   f.StreamID,
			fragments:  append([]byte(nil), payload.Fragment...),
			endStream:  f.Flags.Has(frame.FlagEndStream),
			isTrailers: isTrailers,
			pending:    pending,
		}
		return nil
	}
	if pending != nil || st == nil {
		if _, err := s.codec.Decode(payload.Fragment); err != nil {
			return err
		}
		return pending
	}
	return s.finishHeaderBlock(st, payload.Fragment, f.Flags.Has(frame.FlagEndStream), isTrailers)
}

func (s *Session) handleContinuation(f *frame.Frame) error {
	cs := s.continuation
	if cs == nil || cs.streamID != f.StreamID {
		return frame.ConnError{Code: frame.ErrCodeProtocol, Reason: "unexpected CONTINUATION"}
	}
	cs.fragments = append(cs.fragments, f.Payload...)
	if !f.Flags.Has(frame.FlagEndHeaders) {
		return nil
	}
	s.continuation = nil
	st, status := s.mgr.Classify(cs.streamID)
	if cs.pending != nil || status != stream.StatusLive {
		// The stream failed admission or was reset while its header block
		// was in flight; the block still has to be consumed to keep the
		// codec state coherent.
		if _, err := s.codec.Decode(cs.fragments); err != nil {
			return err
		}
		return cs.pending
	}
	return s.finishHeaderBlock(st, cs.fragments, cs.endStream, cs.isTrailers)
}

// finishHeaderBlock decodes a complete header block and advances the stream.
// Decoding always runs, even for streams about to fail validation, because
// the codec is stateful across the whole connection.
func (s *Session) finishHeaderBlock(st *stream.Stream, block []byte, endStream, isTrailers bool) error {
	headers, err := s.codec.Decode(block)
	if err != nil {
		return err
	}
	if isTrailers {
		if err := validateTrailers(headers); err != nil {
			return frame.StreamError{StreamID: st.ID, Code: frame.ErrCodeProtocol, Reason: err.Error()}
		}
		st.AddTrailers(headers)
	} else {
		if err := validateRequestHeaders(headers); err != nil {
			return frame.StreamError{StreamID: st.ID, Code: frame.ErrCodeProtocol, Reason: err.Error()}
		}
		st.AddHeaders(headers)
	}
	if endStream {
		st.CloseRemote()
		if err := validateContentLength(st.Headers(), st.Received()); err != nil {
			return frame.StreamError{StreamID: st.ID, Code: frame.ErrCodeProtocol, Reason: err.Error()}
		}
		s.dispatch(st)
	}
	return nil
}

func (s *Session) handleData(f *frame.Frame) error {
	if f.StreamID == 0 {
		return frame.ConnError{Code: frame.ErrCodeProtocol, Reason: "DATA on stream 0"}
	}
	payload, err := frame.ParseData(f)
	if err != nil {
		return err
	}
	st, status := s.mgr.Classify(f.StreamID)
	var pending error
	switch status {
	case stream.StatusIdle:
		return frame.ConnError{Code: frame.ErrCodeProtocol,
			Reason: fmt.Sprintf("DATA on idle stream %d", f.StreamID)}
	case stream.StatusClosed:
		pending = frame.StreamError{StreamID: f.StreamID, Code: frame.ErrCodeStreamClosed, Reason: "DATA on closed stream"}
	case stream.StatusLive:
		if st.State() == stream.StateHalfClosedRemote {
			pending = frame.StreamError{StreamID: f.StreamID, Code: frame.ErrCodeStreamClosed, Reason: "DATA on half-closed (remote) stream"}
		}
	}

	// The whole payload counts against receive credit, padding included.
	// That holds even for late DATA on a dead stream (RFC 7540 Section 6.9):
	// the peer debited its connection window, so the octets must be handed
	// back on stream 0 or connection credit leaks on every reordered frame.
	if err := s.ledger.ConsumeRecv(f.StreamID, len(f.Payload)); err != nil {
		return err
	}
	if pending != nil {
		if n := len(f.Payload); n > 0 {
			s.ledger.ReplenishRecv(f.StreamID, n)
			if err := s.writeFrames(frame.WindowUpdate(0, uint32(n))); err != nil {
				return err
			}
		}
		return pending
	}
	st.AppendBody(payload.Data)

	// The application consumes from the stream buffer, so credit is restored
	// immediately and mirrored on the wire.
	if n := len(f.Payload); n > 0 {
		s.ledger.ReplenishRecv(f.StreamID, n)
		if err := s.writeFrames(
			frame.WindowUpdate(f.StreamID, uint32(n)),
			frame.WindowUpdate(0, uint32(n)),
		); err != nil {
			return err
		}
	}

	if f.Flags.Has(frame.FlagEndStream) {
		st.CloseRemote()
		if err := validateContentLength(st.Headers(), st.Received()); err != nil {
			return frame.StreamError{StreamID: f.StreamID, Code: frame.ErrCodeProtocol, Reason: err.Error()}
		}
		s.dispatch(st)
	}
	return nil
}

func (s *Session) handleWindowUpdate(f *frame.Frame) error {
	increment, err := frame.ParseWindowUpdate(f)
	if err != nil {
		return err
	}
	if increment == 0 {
		if f.StreamID == 0 {
			return frame.ConnError{Code: frame.ErrCodeProtocol, Reason: "WINDOW_UPDATE with zero increment"}
		}
		return frame.StreamError{StreamID: f.StreamID, Code: frame.ErrCodeProtocol, Reason: "WINDOW_UPDATE with zero increment"}
	}
	if f.StreamID != 0 {
		if _, status := s.mgr.Classify(f.StreamID); status == stream.StatusIdle {
			return frame.ConnError{Code: frame.ErrCodeProtocol,
				Reason: fmt.Sprintf("WINDOW_UPDATE on idle stream %d", f.StreamID)}
		}
	}
	return s.ledger.Credit(f.StreamID, increment)
}

func (s *Session) handleRSTStream(f *frame.Frame) error {
	code, err := frame.ParseRSTStream(f)
	if err != nil {
		return err
	}
	if f.StreamID == 0 {
		return frame.ConnError{Code: frame.ErrCodeProtocol, Reason: "RST_STREAM on stream 0"}
	}
	st, status := s.mgr.Classify(f.StreamID)
	switch status {
	case stream.StatusIdle:
		return frame.ConnError{Code: frame.ErrCodeProtocol,
			Reason: fmt.Sprintf("RST_STREAM on idle stream %d", f.StreamID)}
	case stream.StatusClosed:
		// Late reset for a stream we already closed; expected under
		// reordering.
		return nil
	}
	// The stream stays in the table as a tombstone so subsequent frames are
	// classified as late rather than invalid.
	st.Reset(code)
	s.ledger.CloseStream(f.StreamID)
	s.opts.Metrics.StreamReset(code)
	s.opts.Metrics.StreamClosed()
	return nil
}

func (s *Session) handlePriority(f *frame.Frame) error {
	if f.StreamID == 0 {
		return frame.ConnError{Code: frame.ErrCodeProtocol, Reason: "PRIORITY on stream 0"}
	}
	prio, err := frame.ParsePriority(f)
	if err != nil {
		return err
	}
	if prio.StreamDep == f.StreamID {
		return frame.ConnError{Code: frame.ErrCodeProtocol,
			Reason: fmt.Sprintf("stream %d depends on itself", f.StreamID)}
	}
	// Dependency information is accepted but not used for scheduling.
	return nil
}

func (s *Session) handlePing(f *frame.Frame) error {
	data, err := frame.ParsePing(f)
	if err != nil {
		return err
	}
	if f.Flags.Has(frame.FlagAck) {
		return nil
	}
	return s.writeFrames(frame.Ping(true, data))
}

func (s *Session) handleGoAway(f *frame.Frame) error {
	payload, err := frame.ParseGoAway(f)
	if err != nil {
		return err
	}
	if verboseLogging {
		s.opts.Logger.Printf("peer GOAWAY: code=%v last=%d", payload.Code, payload.LastStreamID)
	}
	s.mgr.GoAway(payload.LastStreamID)
	return nil
}

// writeFrames serializes frames onto the channel under the single write
// mutex so concurrently producing streams never interleave partial frames.
func (s *Session) writeFrames(frames ...*frame.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeFramesLocked(frames...)
}

func (s *Session) writeFramesLocked(frames ...*frame.Frame) error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	buf := s.writeBuf[:0]
	for _, f := range frames {
		buf = f.Append(buf)
		s.opts.Metrics.FrameWritten(f.Type)
	}
	s.writeBuf = buf
	if len(buf) == 0 {
		return nil
	}
	if err := s.ch.Push(buf); err != nil {
		// Transport fault: abort without attempting further writes.
		s.abort()
		return fmt.Errorf("channel write: %w", err)
	}
	return nil
}

// writeHeaderBlock encodes headers and writes the HEADERS/CONTINUATION
// sequence. Encoding must happen under the write mutex: the header codec is
// stateful, and its output order must match the wire order.
func (s *Session) writeHeaderBlock(streamID uint32, endStream bool, headers [][2]string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	block, err := s.codec.Encode(headers)
	if err != nil {
		return frame.StreamError{StreamID: streamID, Code: frame.ErrCodeInternal, Reason: "header encoding failed: " + err.Error()}
	}
	return s.writeFramesLocked(frame.FragmentHeaders(streamID, endStream, block, s.peerMaxFrame.Load())...)
}

// writePushPromise announces promisedID on the parent stream, fragmenting
// the request-header block under the peer's maximum frame size.
func (s *Session) writePushPromise(parentID, promisedID uint32, headers [][2]string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	block, err := s.codec.Encode(headers)
	if err != nil {
		return fmt.Errorf("encoding push promise headers: %w", err)
	}
	maxFrame := int(s.peerMaxFrame.Load())
	first := block
	if len(first) > maxFrame-4 {
		first = first[:maxFrame-4]
	}
	rest := block[len(first):]
	frames := []*frame.Frame{frame.PushPromise(parentID, promisedID, len(rest) == 0, first)}
	for len(rest) > 0 {
		chunk := rest
		if len(chunk) > maxFrame {
			chunk = chunk[:maxFrame]
		}
		rest = rest[len(chunk):]
		frames = append(frames, frame.Continuation(parentID, len(rest) == 0, chunk))
	}
	return s.writeFramesLocked(frames...)
}

// resetStream sends RST_STREAM and tombstones the stream, canceling its
// application task and waking anything parked on its credit.
func (s *Session) resetStream(id uint32, code frame.ErrCode) error {
	if st, ok := s.mgr.Get(id); ok {
		if _, wasReset := st.ClosedByReset(); wasReset {
			return nil
		}
		st.Reset(code)
		s.opts.Metrics.StreamClosed()
	}
	s.ledger.CloseStream(id)
	s.opts.Metrics.StreamReset(code)
	return s.writeFrames(frame.RSTStream(id, code))
}

// fatal terminates the connection after a best-effort GOAWAY. The GOAWAY
// write tolerates failing silently: the channel may already be gone.
func (s *Session) fatal(ce frame.ConnError) error {
	if verboseLogging {
		s.opts.Logger.Printf("connection error: %v", ce)
	}
	s.sendGoAway(ce.Code, []byte(ce.Reason))
	s.teardown(ce.Code)
	return ce
}

// sendGoAway emits at most one GOAWAY for the session's lifetime.
func (s *Session) sendGoAway(code frame.ErrCode, debug []byte) {
	if !s.goAwaySent.CompareAndSwap(false, true) {
		return
	}
	_ = s.writeFrames(frame.GoAway(s.mgr.LastClientID(), code, debug))
	s.opts.Metrics.GoAwaySent(code)
}

/// Shutdown starts a graceful close: a GOAWAY advertising the last processed
// stream, then the configured drain handled by the caller closing the
// channel. Streams already admitted, pushes included, run to completion.
func (s *Session) Shutdown() {
	s.mgr.StopAdmission()
	s.sendGoAway(frame.ErrCodeNo, []byte("shutting down"))
}

// idleExpired closes an idle connection with a polite GOAWAY.
func (s *Session) idleExpired() {
	s.sendGoAway(frame.ErrCodeNo, []byte("idle timeout"))
	s.abort()
}

// abort closes the channel without further writes. Safe from any goroutine
// and from multiple error paths; Channel.Close is idempotent.
func (s *Session) abort() {
	if s.closed.CompareAndSwap(false, true) {
		_ = s.ch.Close()
	}
}

// teardown releases every owned stream and closes the channel.
func (s *Session) teardown(code frame.ErrCode) {
	s.abort()
	s.mgr.CloseAll(code)
}

// chanReader adapts the pull-based channel to io.Reader for the frame
// decoder, retaining any surplus bytes between reads.
type chanReader struct {
	ch  Channel
	rem []byte
}

func (r *chanReader) Read(p []byte) (int, error) {
	if len(r.rem) == 0 {
		buf, err := r.ch.PullBestEffort(true)
		if err != nil {
			return 0, err
		}
		r.rem = buf
	}
	n := copy(p, r.rem)
	r.rem = r.rem[n:]
	return n, nil
}
