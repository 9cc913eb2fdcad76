package metrics

import (
	"net/http"

	"github.com/example/orderflow/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderflow"

type Metrics struct {
	OrdersCreated prometheus.Counter
	OrderStatus   *prometheus.CounterVec
	Requests      *prometheus.CounterVec
	LatencyMS     *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New registers the order and HTTP metrics on a fresh registry, together
// with the Go runtime and process collectors.
func New() *Metrics {
	created := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_created_total",
		Help:      "Orders successfully created.",
	})
	status := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_status_total",
		Help:      "Orders entering each status, creation included.",
	}, []string{"status"})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		created, status, requests, latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// every status shows up at zero before its first transition
	for _, s := range models.OrderStatuses {
		status.WithLabelValues(s.String())
	}

	return &Metrics{
		OrdersCreated: created,
		OrderStatus:   status,
		Requests:      requests,
		LatencyMS:     latency,
		registry:      reg,
	}
}

// RecordCreated counts a new order and its initial status.
func (m *Metrics) RecordCreated(status models.OrderStatus) {
	m.OrdersCreated.Inc()
	m.OrderStatus.WithLabelValues(status.String()).Inc()
}

func (m *Metrics) RecordStatus(status models.OrderStatus) {
	m.OrderStatus.WithLabelValues(status.String()).Inc()
}

func (m *Metrics) Register(c prometheus.Collector) error {
	return m.registry.Register(c)
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
