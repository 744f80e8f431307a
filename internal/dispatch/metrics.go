package dispatch

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the dispatch counters exported on /metrics. A nil *Metrics records nothing.
type Metrics struct {
	runs         *prometheus.CounterVec
	units        *prometheus.CounterVec
	recipients   *prometheus.CounterVec
	unitDuration prometheus.Histogram
}

// NewMetrics registers the dispatch collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegisbulk",
			Subsystem: "dispatch",
			Name:      "runs_total",
			Help:      "Dispatch runs by outcome (completed, aborted, or the refusing precondition code).",
		}, []string{"outcome"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegisbulk",
			Subsystem: "dispatch",
			Name:      "units_total",
			Help:      "Dispatch units by final status.",
		}, []string{"status"}),
		recipients: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegisbulk",
			Subsystem: "dispatch",
			Name:      "recipients_total",
			Help:      "Recipients handed to the gateway by result.",
		}, []string{"result"}),
		unitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aegisbulk",
			Subsystem: "dispatch",
			Name:      "unit_duration_seconds",
			Help:      "Time from a unit entering sending to its final status.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
	reg.MustRegister(m.runs, m.units, m.recipients, m.unitDuration)
	return m
}

func (m *Metrics) runRefused(err error) {
	if m == nil {
		return
	}
	var pe *PreconditionError
	if errors.As(err, &pe) {
		m.runs.WithLabelValues(pe.Code).Inc()
	}
}

func (m *Metrics) runFinished(s Summary) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(s.Status()).Inc()
}

func (m *Metrics) unitFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(status).Inc()
	m.unitDuration.Observe(d.Seconds())
}

func (m *Metrics) recipientsSent(n int, ok bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if !ok {
		result = "failed"
	}
	m.recipients.WithLabelValues(result).Add(float64(n))
}
