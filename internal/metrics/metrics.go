package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Requests       *prometheus.CounterVec
	LatencyMS      *prometheus.HistogramVec
	OrdersCreated  prometheus.Counter
	OrdersRejected *prometheus.CounterVec
	StatusChanges  *prometheus.CounterVec
	UnitsRestored  prometheus.Counter
	OutboxSent     prometheus.Counter
	OutboxFailed   prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests
// so repeated construction does not collide on the default registry.
func New(reg *prometheus.Registry, service string) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storefront",
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: service,
			Name:      "orders_created_total",
			Help:      "Orders committed.",
		}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: service,
			Name:      "orders_rejected_total",
			Help:      "Order placements rolled back or refused, by reason.",
		}, []string{"reason"}),
		StatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: service,
			Name:      "order_status_changes_total",
			Help:      "Committed status changes, by target status.",
		}, []string{"status"}),
		UnitsRestored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: service,
			Name:      "stock_units_restored_total",
			Help:      "Units returned to stock by cancellations.",
		}),
		OutboxSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: service,
			Name:      "outbox_published_total",
			Help:      "Outbox events published to Kafka.",
		}),
		OutboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: service,
			Name:      "outbox_publish_failures_total",
			Help:      "Outbox publish attempts that failed.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.OrdersCreated, m.OrdersRejected,
		m.StatusChanges, m.UnitsRestored, m.OutboxSent, m.OutboxFailed)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// The helpers below are nil-safe so callers can run without metrics.

func (m *Metrics) OrderCreated() {
	if m != nil {
		m.OrdersCreated.Inc()
	}
}

func (m *Metrics) OrderRejected(reason string) {
	if m != nil {
		m.OrdersRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) StatusChanged(status string, restored int) {
	if m == nil {
		return
	}
	m.StatusChanges.WithLabelValues(status).Inc()
	if restored > 0 {
		m.UnitsRestored.Add(float64(restored))
	}
}

func (m *Metrics) OutboxPublished(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.OutboxSent.Inc()
		return
	}
	m.OutboxFailed.Inc()
}
