package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instrumentation of the app.
type Metrics struct {
	reconcileTotal    *prometheus.CounterVec
	webhookTotal      *prometheus.CounterVec
	unreconciledGauge prometheus.Gauge
	installTotal      *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the process-wide metrics instance.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{
		reconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sectionsstack",
				Subsystem: "billing",
				Name:      "reconcile_total",
				Help:      "Billing signals processed, by outcome",
			},
			[]string{"outcome"},
		),
		webhookTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sectionsstack",
				Subsystem: "webhook",
				Name:      "deliveries_total",
				Help:      "Shopify webhook deliveries, by topic and result",
			},
			[]string{"topic", "result"},
		),
		unreconciledGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sectionsstack",
				Subsystem: "billing",
				Name:      "unreconciled_webhooks",
				Help:      "Purchase webhooks of the last 24h that finished with an error",
			},
		),
		installTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sectionsstack",
				Subsystem: "themes",
				Name:      "installs_total",
				Help:      "Sections pushed into merchant themes, by result",
			},
			[]string{"result"},
		),
	}

	prometheus.MustRegister(
		m.reconcileTotal,
		m.webhookTotal,
		m.unreconciledGauge,
		m.installTotal,
	)
	return m
}

func (m *Metrics) RecordReconcile(outcome string) {
	m.reconcileTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordWebhook(topic, result string) {
	m.webhookTotal.WithLabelValues(topic, result).Inc()
}

func (m *Metrics) SetUnreconciled(n int64) {
	m.unreconciledGauge.Set(float64(n))
}

func (m *Metrics) RecordInstall(result string) {
	m.installTotal.WithLabelValues(result).Inc()
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	Get()
	return promhttp.Handler()
}
