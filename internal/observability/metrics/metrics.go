package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking flow.
type BookingMetrics struct {
	transitions         *prometheus.CounterVec
	availabilityLatency *prometheus.HistogramVec
	submissions         *prometheus.CounterVec
	guardDecisions      *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "workflow",
			Name:      "step_transitions_total",
			Help:      "Workflow step attempts by step and outcome",
		}, []string{"step", "outcome"}),
		availabilityLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "availability",
			Name:      "resolve_seconds",
			Help:      "Latency of free-slot resolution",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "workflow",
			Name:      "submissions_total",
			Help:      "Appointment submissions by outcome",
		}, []string{"outcome"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "session",
			Name:      "guard_decisions_total",
			Help:      "Route guard decisions by view and outcome",
		}, []string{"view", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.availabilityLatency, m.submissions, m.guardDecisions)
	return m
}

func (m *BookingMetrics) ObserveTransition(step, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(step, outcome).Inc()
}

func (m *BookingMetrics) ObserveAvailability(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.availabilityLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *BookingMetrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveGuard(view, outcome string) {
	if m == nil {
		return
	}
	m.guardDecisions.WithLabelValues(view, outcome).Inc()
}
