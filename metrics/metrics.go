// Package metrics exposes Prometheus counters for the exchange server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wsexchange"

// Server holds the server-side collectors on a private registry.
type Server struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsTotal    prometheus.Counter
	MessagesReceived prometheus.Counter
	RepliesSent      prometheus.Counter
	SessionErrors    prometheus.Counter
}

// NewServer creates and registers the server collectors.
func NewServer() *Server {
	m := &Server{
		registry: prometheus.NewRegistry(),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open client sessions.",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Number of client sessions accepted since start.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Number of messages received from clients.",
		}),
		RepliesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_sent_total",
			Help:      "Number of replies written to clients.",
		}),
		SessionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Number of sessions closed by a transport or handler error.",
		}),
	}

	m.registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.MessagesReceived,
		m.RepliesSent,
		m.SessionErrors,
	)

	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Server) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Server) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionOpened records an accepted session.
func (m *Server) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// SessionClosed records a closed session; failed marks an error closure.
func (m *Server) SessionClosed(failed bool) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	if failed {
		m.SessionErrors.Inc()
	}
}

// MessageReceived records one inbound message.
func (m *Server) MessageReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

// ReplySent records one outbound message.
func (m *Server) ReplySent() {
	if m == nil {
		return
	}
	m.RepliesSent.Inc()
}
