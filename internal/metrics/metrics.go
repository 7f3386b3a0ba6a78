// Package metrics holds the prometheus collectors of the alert server and the
// check-in scheduler.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeRemoved   = "removed"
)

const (
	CheckinReminder   = "reminder"
	CheckinEscalation = "escalation"
	CheckinWaiting    = "waiting"
	CheckinEscalated  = "already_escalated"
	CheckinError      = "error"
)

// PushMetrics counts push fan-out results
type PushMetrics struct {
	deliveries *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	duration   prometheus.Histogram
}

// CheckinMetrics counts scheduler decisions per service
type CheckinMetrics struct {
	decisions *prometheus.CounterVec
	runs      prometheus.Counter
	stale     prometheus.Gauge
}

var (
	pushOnce    sync.Once
	pushMetrics *PushMetrics

	checkinOnce    sync.Once
	checkinMetrics *CheckinMetrics
)

// Push returns the process-wide push metrics registered on the default registerer
func Push() *PushMetrics {
	pushOnce.Do(func() {
		pushMetrics = NewPushMetrics(prometheus.DefaultRegisterer)
	})
	return pushMetrics
}

// Checkin returns the process-wide scheduler metrics registered on the default registerer
func Checkin() *CheckinMetrics {
	checkinOnce.Do(func() {
		checkinMetrics = NewCheckinMetrics(prometheus.DefaultRegisterer)
	})
	return checkinMetrics
}

func NewPushMetrics(registerer prometheus.Registerer) *PushMetrics {
	m := &PushMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escort_push_deliveries_total",
			Help: "Push deliveries by event type and outcome.",
		}, []string{"type", "outcome"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escort_push_dispatches_total",
			Help: "Push dispatch invocations by event type.",
		}, []string{"type"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "escort_push_dispatch_duration_seconds",
			Help:    "Time to fan a message out to every matching subscription.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.deliveries, m.dispatches, m.duration)
	}
	return m
}

func NewCheckinMetrics(registerer prometheus.Registerer) *CheckinMetrics {
	m := &CheckinMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escort_checkin_decisions_total",
			Help: "Check-in scheduler decisions per stale service.",
		}, []string{"decision"}),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escort_checkin_runs_total",
			Help: "Check-in scheduler runs.",
		}),
		stale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "escort_checkin_stale_services",
			Help: "Active services without a recent check-in at the last run.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.decisions, m.runs, m.stale)
	}
	return m
}

func (m *PushMetrics) ObserveDispatch(eventType string, delivered, failed, removed int, seconds float64) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(eventType).Inc()
	m.deliveries.WithLabelValues(eventType, OutcomeDelivered).Add(float64(delivered))
	m.deliveries.WithLabelValues(eventType, OutcomeFailed).Add(float64(failed))
	m.deliveries.WithLabelValues(eventType, OutcomeRemoved).Add(float64(removed))
	m.duration.Observe(seconds)
}

func (m *CheckinMetrics) IncRun(stale int) {
	if m == nil {
		return
	}
	m.runs.Inc()
	m.stale.Set(float64(stale))
}

func (m *CheckinMetrics) IncDecision(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}
