package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters and histograms for scheduling and meeting flows.
// All methods are safe on a nil receiver.
type Metrics struct {
	bookingAttempts   *prometheus.CounterVec
	sessionEvents     *prometheus.CounterVec
	bestEffortFailure *prometheus.CounterVec
	reconciled        *prometheus.CounterVec
	slotQueryLatency  prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookingAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Slot reservation attempts by outcome",
		}, []string{"outcome"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "meeting",
			Name:      "session_events_total",
			Help:      "Meeting session lifecycle events",
		}, []string{"event"}),
		bestEffortFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "meeting",
			Name:      "best_effort_failures_total",
			Help:      "Failures of steps that never fail the enclosing operation",
		}, []string{"step"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "meeting",
			Name:      "reconciled_sessions_total",
			Help:      "Sessions visited by reconciliation sweeps by outcome",
		}, []string{"outcome"}),
		slotQueryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "availability",
			Name:      "slot_query_seconds",
			Help:      "Latency of available slot computation",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingAttempts, m.sessionEvents, m.bestEffortFailure, m.reconciled, m.slotQueryLatency)
	return m
}

func (m *Metrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.sessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveBestEffortFailure(step string) {
	if m == nil {
		return
	}
	m.bestEffortFailure.WithLabelValues(step).Inc()
}

func (m *Metrics) ObserveReconciled(outcome string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSlotQuery(seconds float64) {
	if m == nil {
		return
	}
	m.slotQueryLatency.Observe(seconds)
}
