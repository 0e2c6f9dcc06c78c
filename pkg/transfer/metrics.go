package transfer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alcidesv/second-transfer/internal/h2/frame"
)

// PrometheusMetrics implements the engine's metrics sink with Prometheus
// collectors. All collectors are safe for concurrent use.
type PrometheusMetrics struct {
	sessionsOpen  prometheus.Gauge
	sessionsTotal prometheus.Counter
	streamsOpen   prometheus.Gauge
	streamsTotal  prometheus.Counter
	framesRead    *prometheus.CounterVec
	framesWritten *prometheus.CounterVec
	goAways       *prometheus.CounterVec
	resets        *prometheus.CounterVec
}

// NewPrometheusMetrics registers the collectors with reg, or the default
// registry when reg is nil.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		sessionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transfer_sessions_open",
			Help: "Currently open sessions.",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "transfer_sessions_total",
			Help: "Sessions accepted since start.",
		}),
		streamsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transfer_streams_open",
			Help: "Currently open streams across all sessions.",
		}),
		streamsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "transfer_streams_total",
			Help: "Streams opened since start.",
		}),
		framesRead: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_frames_read_total",
			Help: "Frames read, by frame type.",
		}, []string{"type"}),
		framesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_frames_written_total",
			Help: "Frames written, by frame type.",
		}, []string{"type"}),
		goAways: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_goaway_sent_total",
			Help: "GOAWAY frames sent, by error code.",
		}, []string{"code"}),
		resets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_stream_resets_total",
			Help: "Streams reset locally, by error code.",
		}, []string{"code"}),
	}
}

func (m *PrometheusMetrics) SessionOpened() {
	m.sessionsOpen.Inc()
	m.sessionsTotal.Inc()
}

func (m *PrometheusMetrics) SessionClosed() { m.sessionsOpen.Dec() }

func (m *PrometheusMetrics) StreamOpened() {
	m.streamsOpen.Inc()
	m.streamsTotal.Inc()
}

func (m *PrometheusMetrics) StreamClosed() { m.streamsOpen.Dec() }

func (m *PrometheusMetrics) FrameRead(t frame.Type) {
	m.framesRead.WithLabelValues(t.String()).Inc()
}

func (m *PrometheusMetrics) FrameWritten(t frame.Type) {
	m.framesWritten.WithLabelValues(t.String()).Inc()
}

func (m *PrometheusMetrics) GoAwaySent(code frame.ErrCode) {
	m.goAways.WithLabelValues(code.String()).Inc()
}

func (m *PrometheusMetrics) StreamReset(code frame.ErrCode) {
	m.resets.WithLabelValues(code.String()).Inc()
}
