// Package metrics holds the process's prometheus instruments. Instruments
// are package-level and registered once at init, so any component records
// without wiring; the default registry is what /metrics serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsAppended counts event rows written to the log.
	EventsAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleet_events_appended_total",
		Help: "Events appended to the event log.",
	})

	// WriteRetries counts write transactions retried after SQLITE_BUSY.
	WriteRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleet_store_write_retries_total",
		Help: "Write transactions retried because the store was busy.",
	})

	// ActiveLocks tracks the number of live file reservations. The sweeper
	// refreshes it after every pass.
	ActiveLocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_active_locks",
		Help: "File locks currently active.",
	})

	// LocksReclaimed counts expired locks the sweeper released.
	LocksReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleet_locks_reclaimed_total",
		Help: "Expired locks reclaimed by the sweeper.",
	})

	// CheckpointsCreated counts checkpoints by trigger.
	CheckpointsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_checkpoints_created_total",
		Help: "Checkpoints created, by trigger.",
	}, []string{"trigger"})

	// RequestsTotal counts HTTP requests by method, matched route and status.
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_http_requests_total",
		Help: "HTTP requests served, by method, route and status.",
	}, []string{"method", "route", "status"})

	// RequestDuration observes HTTP request latency by method and route.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds, by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func init() {
	prometheus.MustRegister(
		EventsAppended,
		WriteRetries,
		ActiveLocks,
		LocksReclaimed,
		CheckpointsCreated,
		RequestsTotal,
		RequestDuration,
	)
}
