// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rigrun_chat"

// Metrics holds the session manager's collectors.
type Metrics struct {
	completions     *prometheus.CounterVec
	completionTime  prometheus.Histogram
	modelSwitches   *prometheus.CounterVec
	attachments     *prometheus.CounterVec
	truncations     prometheus.Counter
	sessionsActive  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsReaped  prometheus.Counter
}

// NewMetrics registers all collectors on reg. Registering twice on the same
// registry panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		completions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Completion calls by outcome (ok or an error kind).",
		}, []string{"outcome"}),
		completionTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Latency of completion calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		modelSwitches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_switches_total",
			Help:      "Model switch commands by result (changed or not_found).",
		}, []string{"result"}),
		attachments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachments_total",
			Help:      "Attachments received by kind (text or other).",
		}, []string{"kind"}),
		truncations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_truncations_total",
			Help:      "Times a history was cut back to its cap.",
		}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live sessions.",
		}),
		sessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions started.",
		}),
		sessionsReaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reaped_total",
			Help:      "Sessions removed after sitting idle.",
		}),
	}
}

// ObserveCompletion records one completion call.
func (m *Metrics) ObserveCompletion(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(outcome).Inc()
	m.completionTime.Observe(d.Seconds())
}

// ModelSwitch records a model command.
func (m *Metrics) ModelSwitch(found bool) {
	if m == nil {
		return
	}
	result := "not_found"
	if found {
		result = "changed"
	}
	m.modelSwitches.WithLabelValues(result).Inc()
}

// Attachment records one received attachment.
func (m *Metrics) Attachment(textual bool) {
	if m == nil {
		return
	}
	kind := "other"
	if textual {
		kind = "text"
	}
	m.attachments.WithLabelValues(kind).Inc()
}

// Truncated records a history truncation.
func (m *Metrics) Truncated() {
	if m == nil {
		return
	}
	m.truncations.Inc()
}

// SessionStarted records a new session.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
	m.sessionsActive.Inc()
}

// SessionEnded records a session removed by its owner.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// SessionsReaped records n idle sessions removed by the reaper.
func (m *Metrics) SessionsReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsReaped.Add(float64(n))
	m.sessionsActive.Sub(float64(n))
}
