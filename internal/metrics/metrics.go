package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "restaurant"

type ServerMetrics struct {
	Requests   *prometheus.CounterVec
	LatencyMS  *prometheus.HistogramVec
	Clients    *prometheus.GaugeVec
	Deliveries *prometheus.CounterVec
	Events     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewServerMetrics registers the service metrics on a fresh registry
func NewServerMetrics(service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})
	clients := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "realtime_clients",
		Help:      "Connected realtime clients by role.",
	}, []string{"role"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "realtime_deliveries_total",
		Help:      "Realtime message deliveries by role and result.",
	}, []string{"role", "result"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "lifecycle_events_total",
		Help:      "Committed lifecycle events by type and target status.",
	}, []string{"type", "status"})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		requests, latency, clients, deliveries, events,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &ServerMetrics{
		Requests:   requests,
		LatencyMS:  latency,
		Clients:    clients,
		Deliveries: deliveries,
		Events:     events,
		registry:   registry,
	}
}

// ObserveRequest records one handled HTTP request
func (m *ServerMetrics) ObserveRequest(handler string, status int, durationMS float64) {
	m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(durationMS)
}

// ObserveEvent counts a committed lifecycle event
func (m *ServerMetrics) ObserveEvent(eventType, status string) {
	m.Events.WithLabelValues(eventType, status).Inc()
}

func (m *ServerMetrics) ClientConnected(role string) {
	m.Clients.WithLabelValues(role).Inc()
}

func (m *ServerMetrics) ClientDisconnected(role string) {
	m.Clients.WithLabelValues(role).Dec()
}

func (m *ServerMetrics) Delivery(role string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.Deliveries.WithLabelValues(role, result).Inc()
}

// Handler exposes the registry in the Prometheus text format
func (m *ServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
