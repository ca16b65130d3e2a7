// Package metrics defines the Prometheus metrics exposed on /metrics.
//
// Naming follows Prometheus conventions: phonewatch_ prefix, _total
// suffix for counters, _seconds suffix for duration histograms.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Rejection reasons for EventsRejected.
const (
	ReasonMalformed  = "malformed"
	ReasonOutOfOrder = "out_of_order"
)

var (
	// EventsIngested counts observations accepted and applied.
	EventsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phonewatch_events_ingested_total",
		Help: "Total status observations accepted from the feed.",
	})

	// EventsRejected counts observations rejected at the ingest
	// boundary, by reason.
	EventsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phonewatch_events_rejected_total",
		Help: "Total status observations rejected at ingest.",
	}, []string{"reason"})

	// EventsDuplicate counts at-least-once redeliveries dropped by the
	// event-log dedup.
	EventsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phonewatch_events_duplicate_total",
		Help: "Total duplicate observations dropped.",
	})

	// IntervalsOpened counts offline intervals opened.
	IntervalsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phonewatch_intervals_opened_total",
		Help: "Total offline intervals opened.",
	})

	// IntervalsClosed counts offline intervals closed.
	IntervalsClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phonewatch_intervals_closed_total",
		Help: "Total offline intervals closed.",
	})

	// InconsistentTransitions counts state-machine anomalies recovered
	// locally (double offline entry, close without open).
	InconsistentTransitions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phonewatch_inconsistent_transitions_total",
		Help: "Total inconsistent transitions recovered by the tracker.",
	})

	// ReportTimeouts counts report requests that exceeded their budget.
	ReportTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phonewatch_report_timeouts_total",
		Help: "Total report aggregations aborted on timeout.",
	})

	// ReportDuration observes how long ranking aggregations take.
	ReportDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "phonewatch_report_duration_seconds",
		Help:    "Duration of report aggregations in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
	})
)

func init() {
	prometheus.MustRegister(
		EventsIngested,
		EventsRejected,
		EventsDuplicate,
		IntervalsOpened,
		IntervalsClosed,
		InconsistentTransitions,
		ReportTimeouts,
		ReportDuration,
	)
}
