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
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	CapabilityErrors *prometheus.CounterVec
	CardsReviewed    *prometheus.CounterVec
	EvalStageLatency *prometheus.HistogramVec

	window *evalStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		window: newEvalStageWindow(256),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active voice review sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		CapabilityErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_errors_total",
			Help:      "Capability errors by stage and kind.",
		}, []string{"stage", "kind"}),
		CardsReviewed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cards_reviewed_total",
			Help:      "Reviewed cards by rating.",
		}, []string{"rating"}),
		EvalStageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "eval_stage_latency_ms",
			Help:      "Latency of transcribe/judge/synthesize stages in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 4000, 8000},
		}, []string{"stage"}),
	}
}

func (m *Metrics) ObserveEvalStage(stage string, d time.Duration) {
	ms := float64(d.Milliseconds())
	m.EvalStageLatency.WithLabelValues(stage).Observe(ms)
	m.window.Observe(stage, ms)
}

// ObserveIndicator counts a named soft event, e.g. a synthesis fallback.
func (m *Metrics) ObserveIndicator(name string) {
	m.window.ObserveIndicator(name)
}

// SnapshotEvalStages returns windowed percentiles for the debug endpoint.
func (m *Metrics) SnapshotEvalStages() EvalStageSnapshot {
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
