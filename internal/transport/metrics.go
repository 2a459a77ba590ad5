// Copyright 2025 Joseph Cumines
//
// Prometheus metrics for the MCP server

package transport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects request, tool and explorer metrics on a private registry.
// All methods are safe on a nil receiver, which disables collection.
type Metrics struct {
	registry        *prometheus.Registry
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	snapshotNodes   *prometheus.HistogramVec
	snapshotSeconds *prometheus.HistogramVec
	explorersActive prometheus.Gauge
}

// NewMetrics creates and registers the axplorer metrics, plus the standard Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "axplorer_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "axplorer_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "axplorer_tool_calls_total",
			Help: "MCP tool calls by tool and outcome.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "axplorer_tool_duration_seconds",
			Help:    "MCP tool call latency by tool.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"tool"}),
		snapshotNodes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "axplorer_snapshot_nodes",
			Help:    "Elements expanded per traversal, by context.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"context"}),
		snapshotSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "axplorer_snapshot_duration_seconds",
			Help:    "Traversal latency, by context.",
			Buckets: prometheus.DefBuckets,
		}, []string{"context"}),
		explorersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "axplorer_explorers_active",
			Help: "Explorers currently open.",
		}),
	}
	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.toolCalls,
		m.toolDuration,
		m.snapshotNodes,
		m.snapshotSeconds,
		m.explorersActive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRequest records one HTTP request.
func (m *Metrics) RecordRequest(route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordToolCall records one tool invocation. Status is "ok" or "error".
func (m *Metrics) RecordToolCall(tool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordSnapshot records one traversal of the named context.
func (m *Metrics) RecordSnapshot(context string, nodes int, duration time.Duration) {
	if m == nil {
		return
	}
	m.snapshotNodes.WithLabelValues(context).Observe(float64(nodes))
	m.snapshotSeconds.WithLabelValues(context).Observe(duration.Seconds())
}

// SetExplorers sets the number of open explorers.
func (m *Metrics) SetExplorers(n int) {
	if m == nil {
		return
	}
	m.explorersActive.Set(float64(n))
}
