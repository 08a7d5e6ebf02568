package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"jobengine/internal/domain"
)

// Metrics are the engine's Prometheus collectors.
type Metrics struct {
	submissions      *prometheus.CounterVec
	settlements      *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	integrityErrors  *prometheus.CounterVec
	recoveryActions  *prometheus.CounterVec
	inflight         prometheus.Gauge
}

// NewMetrics creates the engine collectors and registers them with reg when
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobengine",
			Name:      "submissions_total",
			Help:      "Job submissions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobengine",
			Name:      "settlements_total",
			Help:      "Jobs reaching a terminal state, by kind and state.",
		}, []string{"kind", "state"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jobengine",
			Name:      "provider_duration_seconds",
			Help:      "Provider invocation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind", "outcome"}),
		integrityErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobengine",
			Name:      "integrity_errors_total",
			Help:      "Ledger or job store consistency violations, by operation.",
		}, []string{"op"}),
		recoveryActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobengine",
			Name:      "recovery_actions_total",
			Help:      "Actions taken by the recovery sweep.",
		}, []string{"action"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jobengine",
			Name:      "jobs_inflight",
			Help:      "Jobs currently being executed by this process.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.submissions,
			m.settlements,
			m.providerDuration,
			m.integrityErrors,
			m.recoveryActions,
			m.inflight,
		)
	}
	return m
}

func (m *Metrics) submitted(kind domain.JobKind, outcome string) {
	m.submissions.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) settled(kind domain.JobKind, state domain.JobState) {
	m.settlements.WithLabelValues(string(kind), string(state)).Inc()
}

func (m *Metrics) integrity(op string) {
	m.integrityErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) recovery(action string) {
	m.recoveryActions.WithLabelValues(action).Inc()
}
