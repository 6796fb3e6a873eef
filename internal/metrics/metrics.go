// Package metrics provides Prometheus metrics for the assistant.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"folioassist/internal/models"
)

// Submission results.
const (
	SubmitAccepted = "accepted"
	SubmitEmpty    = "empty"
	SubmitBusy     = "busy"
	SubmitClosed   = "closed"
)

// Metrics holds all Prometheus collectors for the assistant.
type Metrics struct {
	SubmissionsTotal *prometheus.CounterVec
	ExchangesTotal   *prometheus.CounterVec
	ExchangeDuration prometheus.Histogram
	ActiveSessions   prometheus.Gauge
	RateLimitedTotal prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg uses the
// default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "folioassist_submissions_total",
				Help: "Submit calls by result",
			},
			[]string{"result"},
		),
		ExchangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "folioassist_exchanges_total",
				Help: "Completed exchanges by outcome",
			},
			[]string{"outcome"},
		),
		ExchangeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "folioassist_exchange_duration_seconds",
				Help:    "Time from submit to committed reply",
				Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 16, 32},
			},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "folioassist_active_sessions",
				Help: "Live widget sessions held in memory",
			},
		),
		RateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "folioassist_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
	}
}

// RecordSubmit counts one Submit call.
func (m *Metrics) RecordSubmit(result string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(result).Inc()
}

// RecordExchange counts a committed exchange and its latency.
func (m *Metrics) RecordExchange(outcome models.Outcome, latency time.Duration) {
	if m == nil {
		return
	}
	m.ExchangesTotal.WithLabelValues(string(outcome)).Inc()
	m.ExchangeDuration.Observe(latency.Seconds())
}

// SetActiveSessions reports the registry size.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// RecordRateLimited counts a rejected request.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}
