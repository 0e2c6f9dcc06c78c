package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alcidesv/second-transfer/internal/h2/frame"
)

func TestOpenRemoteParityAndOrdering(t *testing.T) {
	m := NewManager(10)

	_, err := m.OpenRemote(0)
	var ce frame.ConnError
	require.ErrorAs(t, err, &ce, "stream 0 must be a connection error")
	assert.Equal(t, frame.ErrCodeProtocol, ce.Code)

	_, err = m.OpenRemote(4)
	require.ErrorAs(t, err, &ce, "even ids from the client must be a connection error")

	s5, err := m.OpenRemote(5)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, s5.State())

	// Lower ids than the high-water mark are late, a stream-scoped error.
	_, err = m.OpenRemote(3)
	var se frame.StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, frame.ErrCodeStreamClosed, se.Code)

	s7, err := m.OpenRemote(7)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), s7.ID)
	assert.Equal(t, uint32(7), m.LastClientID())
}

func TestOpenRemoteConcurrencyLimit(t *testing.T) {
	m := NewManager(2)
	_, err := m.OpenRemote(1)
	require.NoError(t, err)
	_, err = m.OpenRemote(3)
	require.NoError(t, err)

	_, err = m.OpenRemote(5)
	var se frame.StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, frame.ErrCodeRefusedStream, se.Code)
	// The refused id still advances the high-water mark.
	assert.Equal(t, uint32(5), m.LastClientID())

	// Closing a stream frees a slot.
	s1, ok := m.Get(1)
	require.True(t, ok)
	s1.Reset(frame.ErrCodeCancel)
	_, err = m.OpenRemote(7)
	assert.NoError(t, err)
}

func TestClassify(t *testing.T) {
	m := NewManager(10)
	s1, err := m.OpenRemote(1)
	require.NoError(t, err)

	got, status := m.Classify(1)
	assert.Equal(t, StatusLive, status)
	assert.Same(t, s1, got)

	// Tombstoned after reset, still classifiable.
	s1.Reset(frame.ErrCodeCancel)
	_, status = m.Classify(1)
	assert.Equal(t, StatusClosed, status)

	// Evicted ids below the high-water mark stay closed, not idle.
	_, err = m.OpenRemote(5)
	require.NoError(t, err)
	m.Evict(1)
	_, status = m.Classify(3)
	assert.Equal(t, StatusClosed, status, "skipped id under the mark")
	_, status = m.Classify(1)
	assert.Equal(t, StatusClosed, status, "evicted id under the mark")

	_, status = m.Classify(7)
	assert.Equal(t, StatusIdle, status)

	// Even ids below the push cursor are closed; above it, idle.
	_, status = m.Classify(2)
	assert.Equal(t, StatusIdle, status)
	ps, err := m.ReservePush()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), ps.ID)
	_, status = m.Classify(2)
	assert.Equal(t, StatusLive, status)
}

func TestReservePush(t *testing.T) {
	m := NewManager(10)

	ps, err := m.ReservePush()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), ps.ID)
	assert.Equal(t, StateReservedLocal, ps.State())

	ps2, err := m.ReservePush()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), ps2.ID)

	m.SetPushEnabled(false)
	_, err = m.ReservePush()
	assert.Error(t, err, "push disabled by peer settings")
}

func TestGoAwayStopsAdmission(t *testing.T) {
	m := NewManager(10)
	_, err := m.OpenRemote(1)
	require.NoError(t, err)

	ps, err := m.ReservePush()
	require.NoError(t, err)

	m.GoAway(0)

	_, err = m.OpenRemote(3)
	var se frame.StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, frame.ErrCodeRefusedStream, se.Code)

	_, err = m.ReservePush()
	assert.Error(t, err)

	// Unacknowledged pushes above the peer's last-stream-id are dead.
	assert.Equal(t, StateClosed, ps.State())
}

func TestStopAdmissionSparesInFlightStreams(t *testing.T) {
	m := NewManager(10)
	s1, err := m.OpenRemote(1)
	require.NoError(t, err)
	ps, err := m.ReservePush()
	require.NoError(t, err)

	m.StopAdmission()

	_, err = m.OpenRemote(3)
	var se frame.StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, frame.ErrCodeRefusedStream, se.Code)
	_, err = m.ReservePush()
	assert.Error(t, err)

	// Our own GOAWAY promises the peer we finish accepted work, so admitted
	// streams and reserved pushes stay alive.
	assert.Equal(t, StateOpen, s1.State())
	assert.Equal(t, StateReservedLocal, ps.State())
}

func TestCloseAllReleasesEverything(t *testing.T) {
	m := NewManager(10)
	s1, err := m.OpenRemote(1)
	require.NoError(t, err)
	s3, err := m.OpenRemote(3)
	require.NoError(t, err)

	m.CloseAll(frame.ErrCodeNo)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, StateClosed, s1.State())
	assert.Equal(t, StateClosed, s3.State())

	select {
	case <-s1.Context().Done():
	default:
		t.Error("stream context not canceled by teardown")
	}
}
