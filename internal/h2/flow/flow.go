// Package flow implements the per-connection flow control ledger: signed
// credit counters for the connection and for every open stream, in both
// directions. It is pure bookkeeping with one blocking primitive, Reserve,
// which parks a sender until the peer grants credit.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alcidesv/second-transfer/internal/h2/frame"
)

// ErrStreamGone is returned by Reserve when the stream was reset or evicted
// while the caller was waiting for credit.
var ErrStreamGone = errors.New("flow: stream closed")

type window struct {
	send int64 // credit we may spend sending DATA
	recv int64 // credit the peer may spend sending to us
}

// Ledger tracks send and receive credit for one connection and its streams.
// All mutation happens under one mutex; Reserve waits on a broadcast channel
// that is replaced whenever credit can have become available.
type Ledger struct {
	mu          sync.Mutex
	conn        window
	streams     map[uint32]*window
	initialSend int64 // peer's SETTINGS_INITIAL_WINDOW_SIZE
	initialRecv int64 // our advertised initial window
	awake       chan struct{}
}

// NewLedger creates a ledger with the protocol default windows in both
// directions.
func NewLedger() *Ledger {
	return &Ledger{
		conn:        window{send: frame.DefaultWindow, recv: frame.DefaultWindow},
		streams:     make(map[uint32]*window),
		initialSend: frame.DefaultWindow,
		initialRecv: frame.DefaultWindow,
		awake:       make(chan struct{}),
	}
}

// OpenStream starts tracking credit for a stream at the current initial
// window sizes.
func (l *Ledger) OpenStream(id uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.streams[id]; !ok {
		l.streams[id] = &window{send: l.initialSend, recv: l.initialRecv}
	}
}

// CloseStream drops a stream's windows and wakes any sender parked on it so
// reset streams never leak a waiting task.
func (l *Ledger) CloseStream(id uint32) {
	l.mu.Lock()
	delete(l.streams, id)
	l.broadcastLocked()
	l.mu.Unlock()
}

// Reserve debits up to max octets of send credit from both the stream's and
// the connection's window, blocking while either is exhausted. It returns the
// granted amount, always at least one octet, so callers chunk naturally under
// partial credit.
func (l *Ledger) Reserve(ctx context.Context, id uint32, max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}
	for {
		l.mu.Lock()
		w, ok := l.streams[id]
		if !ok {
			l.mu.Unlock()
			return 0, ErrStreamGone
		}
		if l.conn.send > 0 && w.send > 0 {
			grant := int64(max)
			if l.conn.send < grant {
				grant = l.conn.send
			}
			if w.send < grant {
				grant = w.send
			}
			l.conn.send -= grant
			w.send -= grant
			l.mu.Unlock()
			return int(grant), nil
		}
		ch := l.awake
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ch:
		}
	}
}

// Credit applies a WINDOW_UPDATE: stream id zero credits the connection
// window. Overflow past 2^31-1 is a connection error on the connection window
// and a stream error on a stream window. Updates for untracked streams are
// ignored; late WINDOW_UPDATE after reset is expected.
func (l *Ledger) Credit(id uint32, n uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id == 0 {
		if l.conn.send+int64(n) > frame.MaxWindow {
			return frame.ConnError{Code: frame.ErrCodeFlowControl, Reason: "connection window overflow"}
		}
		l.conn.send += int64(n)
		l.broadcastLocked()
		return nil
	}
	w, ok := l.streams[id]
	if !ok {
		return nil
	}
	if w.send+int64(n) > frame.MaxWindow {
		return frame.StreamError{StreamID: id, Code: frame.ErrCodeFlowControl, Reason: "stream window overflow"}
	}
	w.send += int64(n)
	l.broadcastLocked()
	return nil
}

// SetInitialSendWindow applies a peer SETTINGS_INITIAL_WINDOW_SIZE change,
// retroactively adjusting every open stream's send window by the delta per
// RFC 7540 Section 6.9.2. Windows may go transiently negative; Reserve will
// not debit them until updates restore positive credit. The connection window
// is not affected by settings.
func (l *Ledger) SetInitialSendWindow(size uint32) error {
	if size > frame.MaxWindow {
		return frame.ConnError{Code: frame.ErrCodeFlowControl, Reason: fmt.Sprintf("initial window size %d too large", size)}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delta := int64(size) - l.initialSend
	l.initialSend = int64(size)
	for _, w := range l.streams {
		w.send += delta
	}
	if delta > 0 {
		l.broadcastLocked()
	}
	return nil
}

// ConsumeRecv accounts octets received on a stream against both receive
// windows. A peer that sends past its credit violates flow control; that is
// a connection error because a conformant sender consults its ledger first.
func (l *Ledger) ConsumeRecv(id uint32, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if int64(n) > l.conn.recv {
		return frame.ConnError{Code: frame.ErrCodeFlowControl, Reason: "peer exceeded connection receive window"}
	}
	l.conn.recv -= int64(n)
	if w, ok := l.streams[id]; ok {
		if int64(n) > w.recv {
			return frame.ConnError{Code: frame.ErrCodeFlowControl, Reason: fmt.Sprintf("peer exceeded receive window on stream %d", id)}
		}
		w.recv -= int64(n)
	}
	return nil
}

// ReplenishRecv restores receive credit after the application consumed the
// bytes; the caller mirrors it on the wire with WINDOW_UPDATE frames.
func (l *Ledger) ReplenishRecv(id uint32, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn.recv += int64(n)
	if w, ok := l.streams[id]; ok {
		w.recv += int64(n)
	}
}

// SetInitialRecvWindow records the window we advertise for new streams.
func (l *Ledger) SetInitialRecvWindow(size uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delta := int64(size) - l.initialRecv
	l.initialRecv = int64(size)
	for _, w := range l.streams {
		w.recv += delta
	}
}

// ConnSendWindow returns the connection send window, for tests and metrics.
func (l *Ledger) ConnSendWindow() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.send
}

// StreamSendWindow returns a stream's send window and whether it is tracked.
func (l *Ledger) StreamSendWindow(id uint32) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.streams[id]
	if !ok {
		return 0, false
	}
	return w.send, true
}

// broadcastLocked wakes every parked Reserve. Callers hold l.mu.
func (l *Ledger) broadcastLocked() {
	close(l.awake)
	l.awake = make(chan struct{})
}
