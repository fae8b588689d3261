// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for forwarded calls.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeUnavailable = "unavailable"
)

// Metrics holds the Strata collectors.
type Metrics struct {
	registry *prometheus.Registry

	indexBuilds        *prometheus.CounterVec
	indexBuildDuration prometheus.Histogram
	indexEntries       prometheus.Gauge
	forwardedCalls     *prometheus.CounterVec
	forwardedDuration  *prometheus.HistogramVec
	reconnects         prometheus.Counter
	openHandles        prometheus.Gauge
	sessions           prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		indexBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_archive_index_builds_total",
				Help: "Archive index builds by result",
			},
			[]string{"result"},
		),
		indexBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "strata_archive_index_build_duration_seconds",
				Help:    "Time to enumerate an archive and build its index",
				Buckets: prometheus.DefBuckets,
			},
		),
		indexEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "strata_archive_index_entries",
				Help: "Entries in the most recently built archive index",
			},
		),
		forwardedCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_forwarded_calls_total",
				Help: "Provider calls forwarded to a helper process",
			},
			[]string{"action", "outcome"},
		),
		forwardedDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strata_forwarded_call_duration_seconds",
				Help:    "Round-trip time of forwarded provider calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "strata_helper_connections_total",
				Help: "Helper connections acquired, including re-acquisitions after peer death",
			},
		),
		openHandles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "strata_helper_open_handles",
				Help: "Streams, watchers, filesystems, and tasks held open by the helper",
			},
		),
		sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "strata_helper_sessions",
				Help: "Client sessions with a live link to the helper",
			},
		),
	}
	metrics.registry.MustRegister(
		metrics.indexBuilds,
		metrics.indexBuildDuration,
		metrics.indexEntries,
		metrics.forwardedCalls,
		metrics.forwardedDuration,
		metrics.reconnects,
		metrics.openHandles,
		metrics.sessions,
	)
	return metrics
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveIndexBuild records one index build.
func (m *Metrics) ObserveIndexBuild(duration time.Duration, entries int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.indexBuilds.WithLabelValues("error").Inc()
		return
	}
	m.indexBuilds.WithLabelValues("ok").Inc()
	m.indexBuildDuration.Observe(duration.Seconds())
	m.indexEntries.Set(float64(entries))
}

// ObserveForwardedCall records one round trip to a helper.
func (m *Metrics) ObserveForwardedCall(action, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.forwardedCalls.WithLabelValues(action, outcome).Inc()
	m.forwardedDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// ConnectionAcquired counts a helper connection being established.
func (m *Metrics) ConnectionAcquired() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// HandleOpened and HandleClosed track helper-side handles.
func (m *Metrics) HandleOpened() {
	if m == nil {
		return
	}
	m.openHandles.Inc()
}

func (m *Metrics) HandleClosed() {
	if m == nil {
		return
	}
	m.openHandles.Dec()
}

// SessionLinked and SessionUnlinked track client sessions.
func (m *Metrics) SessionLinked() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) SessionUnlinked() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}
