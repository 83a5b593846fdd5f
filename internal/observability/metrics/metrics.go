package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics exposes the reconciliation engine's instruments.
type Metrics struct {
	webhooksTotal     *prometheus.CounterVec
	signatureFailures prometheus.Counter
	retriesTotal      prometheus.Counter
	deadLettersTotal  prometheus.Counter
	reconcileDuration prometheus.Histogram
}

// New registers the engine instruments on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanlore_payment_webhooks_total",
			Help: "Payment webhooks processed, by pipeline outcome.",
		}, []string{"outcome"}),
		signatureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fanlore_payment_signature_failures_total",
			Help: "Webhooks rejected for a bad or missing signature.",
		}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fanlore_payment_retries_total",
			Help: "Reconciliation attempts pushed to the retry queue.",
		}),
		deadLettersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fanlore_payment_dead_letters_total",
			Help: "Retry jobs that exhausted their attempt budget.",
		}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fanlore_payment_reconcile_duration_seconds",
			Help:    "Wall time of the reconciliation transaction.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{
		m.webhooksTotal,
		m.signatureFailures,
		m.retriesTotal,
		m.deadLettersTotal,
		m.reconcileDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordWebhook(outcome string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordSignatureFailure() {
	if m == nil {
		return
	}
	m.signatureFailures.Inc()
}

func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

func (m *Metrics) RecordDeadLetter() {
	if m == nil {
		return
	}
	m.deadLettersTotal.Inc()
}

func (m *Metrics) ObserveReconcile(d time.Duration) {
	if m == nil {
		return
	}
	m.reconcileDuration.Observe(d.Seconds())
}

// Module provides the engine metrics on the default prometheus registry.
var Module = fx.Module("observability.metrics",
	fx.Provide(func() (*Metrics, error) {
		return New(prometheus.DefaultRegisterer)
	}),
)
