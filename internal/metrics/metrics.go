// Package metrics exposes Prometheus collectors for queue operations.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "burrow"

type Metrics struct {
	peeks      *prometheus.CounterVec
	acks       *prometheus.CounterVec
	publishes  *prometheus.CounterVec
	purges     *prometheus.CounterVec
	teardowns  prometheus.Counter
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		peeks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peeks_total",
			Help:      "Messages fetched without acknowledgement.",
		}, []string{"queue"}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_total",
			Help:      "Messages acknowledged (dropped or republished).",
		}, []string{"queue"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "republishes_total",
			Help:      "Messages sent to a republish target.",
		}, []string{"queue"}),
		purges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purges_total",
			Help:      "Queue purges issued.",
		}, []string{"queue"}),
		teardowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_teardowns_total",
			Help:      "Broker connections closed after a scan.",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Queue operations by outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Queue operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(m.peeks, m.acks, m.publishes, m.purges, m.teardowns, m.operations, m.duration)
	return m
}

// Handler serves the collectors registered with gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Peek(queue string) {
	if m != nil {
		m.peeks.WithLabelValues(queue).Inc()
	}
}

func (m *Metrics) Ack(queue string) {
	if m != nil {
		m.acks.WithLabelValues(queue).Inc()
	}
}

func (m *Metrics) Republish(queue string) {
	if m != nil {
		m.publishes.WithLabelValues(queue).Inc()
	}
}

func (m *Metrics) Purge(queue string) {
	if m != nil {
		m.purges.WithLabelValues(queue).Inc()
	}
}

func (m *Metrics) Teardown() {
	if m != nil {
		m.teardowns.Inc()
	}
}

// Observe records one operation. outcome is "ok", "miss" or "error".
func (m *Metrics) Observe(operation, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
