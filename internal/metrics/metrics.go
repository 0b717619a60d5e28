// Package metrics holds the Prometheus collectors for the consultation service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Turns            *prometheus.CounterVec   // by extraction status
	GenerationErrors prometheus.Counter       // generator failures surfaced to callers
	Consultations    *prometheus.CounterVec   // by outcome: completed, failed
	StageDuration    *prometheus.HistogramVec // by stage
	LiveSessions     prometheus.Gauge         // sessions held in the cache
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_turns_total",
			Help: "Interview turns processed, by extraction status.",
		}, []string{"status"}),
		GenerationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_generation_errors_total",
			Help: "Generator calls that failed during a turn.",
		}),
		Consultations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_consultations_total",
			Help: "Consultations that ran the post-collection pipeline, by outcome.",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triage_stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}, []string{"stage"}),
		LiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triage_live_sessions",
			Help: "Consultations currently held in memory.",
		}),
	}

	reg.MustRegister(m.Turns, m.GenerationErrors, m.Consultations, m.StageDuration, m.LiveSessions)
	return m
}

// ObserveStage records one stage run.
func (m *Metrics) ObserveStage(stage string, d time.Duration, _ error) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
