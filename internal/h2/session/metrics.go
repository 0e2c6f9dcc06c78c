package session

import "github.com/alcidesv/second-transfer/internal/h2/frame"

// Metrics receives session lifecycle events. Implementations must be safe
// for concurrent use; the default discards everything.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	StreamOpened()
	StreamClosed()
	FrameRead(t frame.Type)
	FrameWritten(t frame.Type)
	GoAwaySent(code frame.ErrCode)
	StreamReset(code frame.ErrCode)
}

// NopMetrics is the default no-op Metrics sink.
type NopMetrics struct{}

func (NopMetrics) SessionOpened()            {}
func (NopMetrics) SessionClosed()            {}
func (NopMetrics) StreamOpened()             {}
func (NopMetrics) StreamClosed()             {}
func (NopMetrics) FrameRead(frame.Type)      {}
func (NopMetrics) FrameWritten(frame.Type)   {}
func (NopMetrics) GoAwaySent(frame.ErrCode)  {}
func (NopMetrics) StreamReset(frame.ErrCode) {}
