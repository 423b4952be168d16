// Package metrics holds the portal's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts counts session-flow submissions by operation and outcome kind.
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_auth_attempts_total",
			Help: "Authentication attempts by operation and outcome",
		},
		[]string{"op", "outcome"}, // outcome: ok or an error kind
	)

	// TaskMutations counts task board writes.
	TaskMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_task_mutations_total",
			Help: "Task board mutations by operation and result",
		},
		[]string{"op", "result"}, // result: ok, noop, error
	)

	// InquirySends counts contact-form submissions.
	InquirySends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_inquiry_sends_total",
			Help: "Contact inquiries by result",
		},
		[]string{"result"}, // success, error
	)

	// ScriptLoadDuration tracks scheduling widget script fetches.
	ScriptLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_widget_script_load_seconds",
			Help:    "Scheduling widget script fetch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"result"},
	)

	// ActiveVisitors is the number of visitor sessions held by the portal.
	ActiveVisitors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_active_visitors",
			Help: "Visitor sessions currently held in memory",
		},
	)
)

// RecordAuth records one authentication attempt.
func RecordAuth(op, outcome string) {
	AuthAttempts.WithLabelValues(op, outcome).Inc()
}

// RecordTaskMutation records one board mutation.
func RecordTaskMutation(op, result string) {
	TaskMutations.WithLabelValues(op, result).Inc()
}

// RecordInquiry records one inquiry send.
func RecordInquiry(result string) {
	InquirySends.WithLabelValues(result).Inc()
}

// RecordScriptLoad records one widget script fetch.
func RecordScriptLoad(result string, d time.Duration) {
	ScriptLoadDuration.WithLabelValues(result).Observe(d.Seconds())
}
