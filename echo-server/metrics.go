package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "portal_echo"

type echoMetrics struct {
	registry    *prometheus.Registry
	connections prometheus.Gauge
	sessions    prometheus.Counter
	messages    prometheus.Counter
	bytes       prometheus.Counter
}

func newEchoMetrics() *echoMetrics {
	m := &echoMetrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Currently open websocket sessions",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_total",
			Help:      "Websocket sessions accepted since start",
		}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Text frames echoed",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "message_bytes_total",
			Help:      "Payload bytes received in text frames",
		}),
	}
	m.registry.MustRegister(
		m.connections,
		m.sessions,
		m.messages,
		m.bytes,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *echoMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
