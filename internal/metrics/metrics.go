package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"

	StageCreate    = "create"
	StageReconcile = "reconcile"

	TransitionApplied      = "applied"
	TransitionRejected     = "rejected"
	TransitionUnattributed = "unattributed"

	EventMapped    = "mapped"
	EventUnmapped  = "unmapped"
	EventMalformed = "malformed"
	EventDuplicate = "duplicate"
	EventFailed    = "failed"
)

// Metrics holds the mailer's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	sends          *prometheus.CounterVec
	logWriteErrors *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	webhookBatches prometheus.Counter
	stuckPending   prometheus.Gauge
}

func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailer_sends_total",
			Help: "Email send attempts by outcome.",
		}, []string{"outcome"}),
		logWriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailer_log_write_errors_total",
			Help: "Delivery log writes that failed, by stage.",
		}, []string{"stage"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailer_status_transitions_total",
			Help: "Proposed delivery status transitions by target status and result.",
		}, []string{"status", "result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailer_webhook_events_total",
			Help: "Provider webhook events by handling result.",
		}, []string{"result"}),
		webhookBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailer_webhook_batches_total",
			Help: "Provider webhook batches received.",
		}),
		stuckPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailer_stuck_pending_logs",
			Help: "Delivery logs still pending past the stuck threshold.",
		}),
	}
	registry.MustRegister(m.sends, m.logWriteErrors, m.transitions, m.webhookEvents, m.webhookBatches, m.stuckPending)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveSend(outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLogWriteError(stage string) {
	if m == nil {
		return
	}
	m.logWriteErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveTransition(status, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status, result).Inc()
}

func (m *Metrics) ObserveWebhookEvent(result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveWebhookBatch() {
	if m == nil {
		return
	}
	m.webhookBatches.Inc()
}

func (m *Metrics) SetStuckPending(n int) {
	if m == nil {
		return
	}
	m.stuckPending.Set(float64(n))
}
