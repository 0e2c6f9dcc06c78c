package stream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alcidesv/second-transfer/internal/h2/frame"
)

// Status classifies a stream id seen on an inbound frame so the session can
// apply the closed-versus-invalid policy without racing the table.
type Status int

const (
	// StatusLive means the id maps to a tracked, non-closed stream.
	StatusLive Status = iota
	// StatusClosed means the stream exists as a tombstone or the id sits at
	// or below the high-water mark for its parity; late frames are expected.
	StatusClosed
	// StatusIdle means the id was never opened and is still legally
	// creatable.
	StatusIdle
)

// Manager owns every stream of one session. It enforces parity and
// monotonic-id rules, the concurrency admission limit, and keeps closed
// streams as tombstones until the session ends so late frames are
// distinguishable from protocol violations.
type Manager struct {
	mu          sync.RWMutex
	streams     map[uint32]*Stream
	lastClient  uint32 // high-water mark for client-initiated (odd) ids
	nextPush    uint32 // next server-initiated (even) id
	maxStreams  uint32
	pushEnabled bool
	goneAway    bool

	// active counts streams in Open or HalfClosed states. It is atomic
	// because transitions fire under the stream's own lock.
	active atomic.Int32
}

// NewManager creates an empty stream table with the given concurrency limit.
func NewManager(maxStreams uint32) *Manager {
	if maxStreams == 0 {
		maxStreams = 100
	}
	return &Manager{
		streams:     make(map[uint32]*Stream),
		nextPush:    2,
		maxStreams:  maxStreams,
		pushEnabled: true,
	}
}

// markTransition adjusts the active-stream count on lifecycle transitions.
func (m *Manager) markTransition(prev, next State) {
	was, is := prev.active(), next.active()
	if was == is {
		return
	}
	if is {
		m.active.Add(1)
	} else {
		m.active.Add(-1)
	}
}

// OpenRemote admits a new client-initiated stream. Parity and ordering
// violations are connection errors; exceeding the concurrency limit refuses
// the stream with a stream error, never a silent accept.
func (m *Manager) OpenRemote(id uint32) (*Stream, error) {
	if id == 0 {
		return nil, frame.ConnError{Code: frame.ErrCodeProtocol, Reason: "stream id 0 is reserved"}
	}
	if id%2 == 0 {
		return nil, frame.ConnError{Code: frame.ErrCodeProtocol, Reason: fmt.Sprintf("client opened even stream id %d", id)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[id]; ok {
		return s, nil
	}
	if id <= m.lastClient {
		return nil, frame.StreamError{StreamID: id, Code: frame.ErrCodeStreamClosed,
			Reason: fmt.Sprintf("stream id %d not above high-water mark %d", id, m.lastClient)}
	}
	if m.goneAway {
		return nil, frame.StreamError{StreamID: id, Code: frame.ErrCodeRefusedStream, Reason: "connection is going away"}
	}
	if uint32(m.active.Load())+1 > m.maxStreams {
		// Record the high-water mark anyway: the id has been used.
		m.lastClient = id
		return nil, frame.StreamError{StreamID: id, Code: frame.ErrCodeRefusedStream,
			Reason: fmt.Sprintf("would exceed %d concurrent streams", m.maxStreams)}
	}
	m.lastClient = id
	s := newStream(id, StateOpen, m.markTransition)
	m.streams[id] = s
	m.active.Add(1)
	return s, nil
}

// ReservePush allocates the next even stream id in ReservedLocal state for a
// server push. It fails when the peer disabled push or the admission limit is
// reached.
func (m *Manager) ReservePush() (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pushEnabled {
		return nil, fmt.Errorf("peer disabled server push")
	}
	if m.goneAway {
		return nil, fmt.Errorf("connection is going away")
	}
	if uint32(m.active.Load())+1 > m.maxStreams {
		return nil, fmt.Errorf("would exceed %d concurrent streams", m.maxStreams)
	}
	id := m.nextPush
	m.nextPush += 2
	s := newStream(id, StateReservedLocal, m.markTransition)
	m.streams[id] = s
	return s, nil
}

// Get returns a stream by id.
func (m *Manager) Get(id uint32) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[id]
	return s, ok
}

// Classify maps an inbound stream id to the closed/idle/live policy bucket.
func (m *Manager) Classify(id uint32) (st *Stream, status Status) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.streams[id]; ok {
		if s.State() == StateClosed {
			return s, StatusClosed
		}
		return s, StatusLive
	}
	if id%2 == 1 && id <= m.lastClient {
		return nil, StatusClosed
	}
	if id%2 == 0 && id < m.nextPush {
		return nil, StatusClosed
	}
	return nil, StatusIdle
}

// Evict removes a fully closed stream from the live table. The id stays
// protected by the high-water mark.
func (m *Manager) Evict(id uint32) {
	m.mu.Lock()
	delete(m.streams, id)
	m.mu.Unlock()
}

// LastClientID returns the high-water mark of client-initiated ids, used as
// the last-stream-id of GOAWAY frames.
func (m *Manager) LastClientID() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastClient
}

// ActiveCount returns the number of streams counted against the concurrency
// limit.
func (m *Manager) ActiveCount() int {
	return int(m.active.Load())
}

// Len returns the number of tracked streams, tombstones included.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// SetMaxStreams updates the admission limit for new streams.
func (m *Manager) SetMaxStreams(n uint32) {
	m.mu.Lock()
	m.maxStreams = n
	m.mu.Unlock()
}

// SetPushEnabled records the peer's SETTINGS_ENABLE_PUSH value.
func (m *Manager) SetPushEnabled(enabled bool) {
	m.mu.Lock()
	m.pushEnabled = enabled
	m.mu.Unlock()
}

// PushEnabled reports whether the peer accepts pushed streams.
func (m *Manager) PushEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pushEnabled
}

// StopAdmission refuses new streams in either direction without touching the
// ones already in flight. Local shutdown uses it: our own GOAWAY promises the
// peer we finish what we accepted, pushed streams included.
func (m *Manager) StopAdmission() {
	m.mu.Lock()
	m.goneAway = true
	m.mu.Unlock()
}

// GoAway applies a peer GOAWAY: admission stops, and server-initiated streams
// above lastID are reset because the peer will not process them.
func (m *Manager) GoAway(lastID uint32) {
	m.mu.Lock()
	m.goneAway = true
	var above []*Stream
	for id, s := range m.streams {
		if id > lastID && id%2 == 0 {
			above = append(above, s)
		}
	}
	m.mu.Unlock()
	for _, s := range above {
		s.Reset(frame.ErrCodeRefusedStream)
	}
}

// CloseAll resets every stream; called on session teardown so destruction
// releases every owned stream and unblocks their tasks.
func (m *Manager) CloseAll(code frame.ErrCode) {
	m.mu.Lock()
	all := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		all = append(all, s)
	}
	m.streams = make(map[uint32]*Stream)
	m.mu.Unlock()
	for _, s := range all {
		s.Reset(code)
	}
}
