package session

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/alcidesv/second-transfer/internal/h2/flow"
	"github.com/alcidesv/second-transfer/internal/h2/frame"
	"github.com/alcidesv/second-transfer/internal/h2/stream"
)

// Request is a complete inbound request handed to the attendant. Headers
// preserve wire order, pseudo-headers first.
type Request struct {
	Headers  [][2]string
	Trailers [][2]string
	Body     io.Reader
	StreamID uint32
	ConnID   uint64
	Protocol string
	PeerAddr net.Addr
	Started  time.Time
}

// Header returns the first value of the named header, or "".
func (r *Request) Header(name string) string {
	for _, h := range r.Headers {
		if h[0] == name {
			return h[1]
		}
	}
	return ""
}

// Method returns the :method pseudo-header.
func (r *Request) Method() string { return r.Header(":method") }

// Path returns the :path pseudo-header.
func (r *Request) Path() string { return r.Header(":path") }

// BodyProducer yields the response body one chunk at a time. It returns
// io.EOF when the body is complete; any other error abandons the stream.
// Implementations should honor ctx, which is canceled when the stream is
// reset.
type BodyProducer func(ctx context.Context) ([]byte, error)

// Response is what an attendant returns for a request. A nil Body means a
// headers-only response. Trailers, when set, is evaluated after the body
// producer finishes. ChunkInterval inserts a pause between body chunks, for
// paced delivery.
type Response struct {
	Headers       [][2]string
	Body          BodyProducer
	Trailers      func() [][2]string
	Pushed        []PushedStream
	ChunkInterval time.Duration
}

// PushedStream is a server push the attendant wants alongside its response:
// the synthesized request headers to announce plus the response to deliver.
type PushedStream struct {
	RequestHeaders [][2]string
	Response       Response
}

// Attendant is the application callback serving one request. It runs on its
// own goroutine; ctx is canceled if the stream is reset or the session ends.
type Attendant func(ctx context.Context, req *Request) (*Response, error)

// BytesBody adapts a static byte slice to a BodyProducer.
func BytesBody(p []byte) BodyProducer {
	done := false
	return func(ctx context.Context) ([]byte, error) {
		if done || len(p) == 0 {
			return nil, io.EOF
		}
		done = true
		return p, nil
	}
}

// ReaderBody adapts an io.Reader to a BodyProducer with a fixed chunk size.
func ReaderBody(r io.Reader, chunkSize int) BodyProducer {
	if chunkSize <= 0 {
		chunkSize = 16 * 1024
	}
	return func(ctx context.Context) ([]byte, error) {
		buf := make([]byte, chunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}
}

// dispatch launches the attendant for a stream whose request is complete.
func (s *Session) dispatch(st *stream.Stream) {
	req := &Request{
		Headers:  st.Headers(),
		Trailers: st.Trailers(),
		Body:     st.BodyReader(),
		StreamID: st.ID,
		ConnID:   s.opts.ConnID,
		Protocol: s.opts.Protocol,
		PeerAddr: s.opts.PeerAddr,
		Started:  time.Now(),
	}
	go s.runAttendant(st, req)
}

// runAttendant executes the application callback and relays its response. A
// panicking or failing attendant resets just its own stream; the session and
// its other streams continue.
func (s *Session) runAttendant(st *stream.Stream, req *Request) {
	defer func() {
		if r := recover(); r != nil {
			s.opts.Logger.Printf("attendant panic on stream %d: %v", st.ID, r)
			_ = s.resetStream(st.ID, frame.ErrCodeInternal)
		}
	}()

	resp, err := s.attendant(st.Context(), req)
	if err != nil || resp == nil {
		if st.Context().Err() == nil {
			_ = s.resetStream(st.ID, frame.ErrCodeInternal)
		}
		return
	}
	s.respond(st, resp, false)
}

// respond writes a response onto a stream: optional push promises first,
// then the header block, body chunks under flow-control credit, and the
// terminal frame carrying END_STREAM.
func (s *Session) respond(st *stream.Stream, resp *Response, isPush bool) {
	// Promises go out before the response headers so the client learns about
	// pushed resources before it could request them itself.
	var pushed []*stream.Stream
	if !isPush {
		pushed = s.announcePushes(st, resp.Pushed)
	}

	hasBody := resp.Body != nil
	hasTrailers := resp.Trailers != nil
	if err := s.writeHeaderBlock(st.ID, !hasBody && !hasTrailers, resp.Headers); err != nil {
		s.streamWriteFailed(st, err)
		return
	}
	if isPush {
		st.PromoteReserved()
	}

	ok := true
	if hasBody {
		ok = s.writeBody(st, resp, hasTrailers)
	} else if hasTrailers {
		// Degenerate but legal: trailers directly after headers need an
		// empty DATA frame to separate the two header blocks.
		ok = s.writeData(st.ID, false, nil) == nil
	}
	if ok && hasTrailers {
		if err := s.writeHeaderBlock(st.ID, true, resp.Trailers()); err != nil {
			s.streamWriteFailed(st, err)
			ok = false
		}
	}
	if ok {
		s.finishLocal(st)
	}

	for i, ps := range pushed {
		if ps == nil {
			continue
		}
		pr := resp.Pushed[i].Response
		go s.respond(ps, &pr, true)
	}
}

// writeBody streams the producer's chunks under flow-control credit with one
// chunk of lookahead, so END_STREAM rides the final DATA frame instead of an
// extra empty one.
func (s *Session) writeBody(st *stream.Stream, resp *Response, hasTrailers bool) bool {
	ctx := st.Context()
	pull := resp.Body

	chunk, err := pull(ctx)
	if errors.Is(err, io.EOF) {
		return s.writeData(st.ID, !hasTrailers, nil) == nil
	}
	if err != nil {
		s.abandonStream(st)
		return false
	}

	for {
		next, err := pull(ctx)
		last := errors.Is(err, io.EOF)
		if err != nil && !last {
			s.abandonStream(st)
			return false
		}

		if last && len(chunk) == 0 {
			// Producer handed over an empty chunk right before EOF.
			return s.writeData(st.ID, !hasTrailers, nil) == nil
		}
		for len(chunk) > 0 {
			want := len(chunk)
			if max := int(s.peerMaxFrame.Load()); want > max {
				want = max
			}
			granted, rerr := s.ledger.Reserve(ctx, st.ID, want)
			if rerr != nil {
				// Reset or teardown while parked on credit; nothing more to
				// write for this stream.
				if !errors.Is(rerr, flow.ErrStreamGone) && ctx.Err() == nil {
					s.abandonStream(st)
				}
				return false
			}
			endStream := last && !hasTrailers && granted == len(chunk)
			if werr := s.writeData(st.ID, endStream, chunk[:granted]); werr != nil {
				s.streamWriteFailed(st, werr)
				return false
			}
			chunk = chunk[granted:]
		}
		if last {
			return true
		}
		chunk = next

		if resp.ChunkInterval > 0 {
			timer := time.NewTimer(resp.ChunkInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false
			case <-timer.C:
			}
		}
	}
}

// writeData emits one DATA frame.
func (s *Session) writeData(id uint32, endStream bool, data []byte) error {
	return s.writeFrames(frame.Data(id, endStream, data))
}

// announcePushes reserves and announces pushed streams. Pushes that cannot
// be admitted are skipped silently; push is strictly best-effort.
func (s *Session) announcePushes(parent *stream.Stream, pushes []PushedStream) []*stream.Stream {
	if len(pushes) == 0 || !s.mgr.PushEnabled() {
		return nil
	}
	out := make([]*stream.Stream, len(pushes))
	for i, p := range pushes {
		if err := validateRequestHeaders(p.RequestHeaders); err != nil {
			s.opts.Logger.Printf("push skipped: %v", err)
			continue
		}
		ps, err := s.mgr.ReservePush()
		if err != nil {
			if verboseLogging {
				s.opts.Logger.Printf("push skipped: %v", err)
			}
			continue
		}
		s.ledger.OpenStream(ps.ID)
		if err := s.writePushPromise(parent.ID, ps.ID, p.RequestHeaders); err != nil {
			ps.Reset(frame.ErrCodeInternal)
			s.ledger.CloseStream(ps.ID)
			continue
		}
		s.opts.Metrics.StreamOpened()
		out[i] = ps
	}
	return out
}

// finishLocal marks our direction done and releases the stream once fully
// closed.
func (s *Session) finishLocal(st *stream.Stream) {
	st.CloseLocal()
	if st.State() == stream.StateClosed {
		s.ledger.CloseStream(st.ID)
		s.mgr.Evict(st.ID)
		s.opts.Metrics.StreamClosed()
	}
}

// abandonStream resets a stream whose body producer failed mid-flight.
func (s *Session) abandonStream(st *stream.Stream) {
	_ = s.resetStream(st.ID, frame.ErrCodeInternal)
}

// streamWriteFailed handles a failed write on a stream's behalf. Stream
// errors reset just the stream; anything else is a transport fault already
// handled by the write path.
func (s *Session) streamWriteFailed(st *stream.Stream, err error) {
	var se frame.StreamError
	if errors.As(err, &se) {
		_ = s.resetStream(se.StreamID, se.Code)
		return
	}
	if verboseLogging {
		s.opts.Logger.Printf("write failed on stream %d: %v", st.ID, err)
	}
}
