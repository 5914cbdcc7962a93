// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for rigrun-chat. Every recording
// method is safe on a nil receiver so components can be built without
// metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	// Chat metrics
	ChatRequestsTotal     *prometheus.CounterVec
	ChatDuration          *prometheus.HistogramVec
	ChatChunksTotal       *prometheus.CounterVec
	GenerationsInFlight   prometheus.Gauge
	SearchDecisionsTotal  *prometheus.CounterVec
	AugmentFailuresTotal  *prometheus.CounterVec
	ConversationsPersists *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Server metrics
	ServerStartTime time.Time
}

// New creates the metrics on a private registry. Using a private registry
// keeps repeated construction in tests from colliding on the default one.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(reg)
	m := &Metrics{
		registry:        reg,
		ServerStartTime: time.Now(),
	}

	m.ChatRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigrun_chat_requests_total",
			Help: "Total number of chat generations by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	m.ChatDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rigrun_chat_generation_duration_seconds",
			Help:    "Duration of chat generations in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"backend"},
	)

	m.ChatChunksTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigrun_chat_chunks_total",
			Help: "Total number of streamed chunks forwarded to clients",
		},
		[]string{"backend"},
	)

	m.GenerationsInFlight = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "rigrun_chat_generations_in_flight",
			Help: "Number of chat generations currently running (0 or 1)",
		},
	)

	m.SearchDecisionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigrun_chat_search_decisions_total",
			Help: "Web search decisions by mode and result",
		},
		[]string{"mode", "searched"},
	)

	m.AugmentFailuresTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigrun_chat_augment_failures_total",
			Help: "Prompt augmentation failures by stage",
		},
		[]string{"stage"},
	)

	m.ConversationsPersists = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigrun_chat_conversation_saves_total",
			Help: "Conversation record writes by status",
		},
		[]string{"status"},
	)

	m.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigrun_chat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	m.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rigrun_chat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "rigrun_chat_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.ServerStartTime).Seconds() },
	)

	return m
}

// Registry returns the private registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// =============================================================================
// RECORDING HELPERS
// =============================================================================

// RecordChat records a finished generation.
func (m *Metrics) RecordChat(backend, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ChatRequestsTotal.WithLabelValues(backend, outcome).Inc()
	m.ChatDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordChunk counts one forwarded chunk.
func (m *Metrics) RecordChunk(backend string) {
	if m == nil {
		return
	}
	m.ChatChunksTotal.WithLabelValues(backend).Inc()
}

// GenerationStarted increments the in-flight gauge.
func (m *Metrics) GenerationStarted() {
	if m == nil {
		return
	}
	m.GenerationsInFlight.Inc()
}

// GenerationFinished decrements the in-flight gauge.
func (m *Metrics) GenerationFinished() {
	if m == nil {
		return
	}
	m.GenerationsInFlight.Dec()
}

// RecordSearchDecision counts one web search decision.
func (m *Metrics) RecordSearchDecision(mode string, searched bool) {
	if m == nil {
		return
	}
	m.SearchDecisionsTotal.WithLabelValues(mode, strconv.FormatBool(searched)).Inc()
}

// RecordAugmentFailure counts a failed augmentation stage (file, url, search).
func (m *Metrics) RecordAugmentFailure(stage string) {
	if m == nil {
		return
	}
	m.AugmentFailuresTotal.WithLabelValues(stage).Inc()
}

// RecordSave counts a conversation write.
func (m *Metrics) RecordSave(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ConversationsPersists.WithLabelValues(status).Inc()
}

// RecordHTTP records one HTTP request.
func (m *Metrics) RecordHTTP(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
