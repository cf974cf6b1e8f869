// Package metrics exposes relay counters in Prometheus format.
//
// Collectors live on a private registry rather than the global default, so
// tests and multiple instances never collide.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webiot"

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	framesIngested   *prometheus.CounterVec
	publishes        *prometheus.CounterVec
	reconnects       prometheus.Counter
	brokerConnected  prometheus.Gauge
	historyMessages  prometheus.Gauge
	websocketClients prometheus.Gauge
	httpRequests     *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		framesIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_ingested_total",
			Help:      "Broker frames ingested, by classification.",
		}, []string{"kind"}),
		publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Outbound publish attempts, by outcome.",
		}, []string{"outcome"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_reconnect_attempts_total",
			Help:      "Automatic reconnect attempts to the broker.",
		}),
		brokerConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "1 while the broker connection is up.",
		}),
		historyMessages: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_messages",
			Help:      "Messages currently retained in history.",
		}),
		websocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients.",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method and status code.",
		}, []string{"method", "code"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// FrameIngested counts one ingested frame.
func (m *Metrics) FrameIngested(control bool) {
	kind := "content"
	if control {
		kind = "control"
	}
	m.framesIngested.WithLabelValues(kind).Inc()
}

// PublishResult counts one publish attempt.
func (m *Metrics) PublishResult(outcome string) {
	m.publishes.WithLabelValues(outcome).Inc()
}

// SetConnected records broker connectivity.
func (m *Metrics) SetConnected(connected bool) {
	if connected {
		m.brokerConnected.Set(1)
		return
	}
	m.brokerConnected.Set(0)
}

// SetHistorySize records how many messages history holds.
func (m *Metrics) SetHistorySize(n int) {
	m.historyMessages.Set(float64(n))
}

// Reconnecting counts one reconnect attempt.
func (m *Metrics) Reconnecting() {
	m.reconnects.Inc()
}

// SetWebSocketClients records the connected WebSocket client count.
func (m *Metrics) SetWebSocketClients(n int) {
	m.websocketClients.Set(float64(n))
}

// HTTPRequest counts one served request.
func (m *Metrics) HTTPRequest(method string, status int) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
