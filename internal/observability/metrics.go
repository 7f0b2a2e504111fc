package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionTransitions *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	TimeoutEvents      *prometheus.CounterVec
	CuePlays           *prometheus.CounterVec
	FramesEmitted      prometheus.Counter
	Faults             *prometheus.CounterVec
	ReplyLatency       prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live widget sessions.",
		}),
		SessionTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Accepted session state transitions by state and cause.",
		}, []string{"state", "cause"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Widget WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		TimeoutEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeout_events_total",
			Help:      "Idle governor events by kind.",
		}, []string{"event"}),
		CuePlays: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cue_plays_total",
			Help:      "Audio cue plays by cue.",
		}, []string{"cue"}),
		FramesEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_frames_total",
			Help:      "Visualizer frames emitted to clients.",
		}),
		Faults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Faults surfaced to sessions by kind.",
		}, []string{"kind"}),
		ReplyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_latency_ms",
			Help:      "Latency from user message to first agent reply in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 3500},
		}),
		stages: newStageWindow(0),
	}
}

func (m *Metrics) ObserveReplyLatency(d time.Duration) {
	m.ReplyLatency.Observe(float64(d.Milliseconds()))
}

// ObserveStage records a pipeline stage duration in the rolling latency
// window exposed at /v1/perf/latency.
func (m *Metrics) ObserveStage(stage Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000.0)
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.stages.Snapshot()
}

func (m *Metrics) ResetStages() {
	m.stages.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
