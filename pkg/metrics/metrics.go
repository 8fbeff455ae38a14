// Package metrics provides Prometheus metrics for the Balsam service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal tracks finished reconciliation runs by terminal status
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "balsam",
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Total number of reconciliation runs by terminal status",
		},
		[]string{"status"},
	)

	// JobDuration tracks run duration in seconds, from lock acquisition to terminal state
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "balsam",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of reconciliation runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900},
		},
		[]string{"status"},
	)

	// JobsInFlight tracks runs currently holding a lock
	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "balsam",
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Number of reconciliation runs currently executing",
		},
	)

	// RecordsNormalized tracks records read and normalized per side
	RecordsNormalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "balsam",
			Subsystem: "normalizer",
			Name:      "records_total",
			Help:      "Total number of records normalized",
		},
		[]string{"side"},
	)

	// MatchOutcomes tracks matcher entries by outcome
	MatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "balsam",
			Subsystem: "matcher",
			Name:      "entries_total",
			Help:      "Total number of match entries by outcome",
		},
		[]string{"outcome"},
	)

	// UnparseableRecords tracks records excluded from matching
	UnparseableRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "balsam",
			Subsystem: "matcher",
			Name:      "unparseable_total",
			Help:      "Total number of records that could not be keyed",
		},
		[]string{"side"},
	)

	// LockContention tracks lock acquisitions that found the lock held
	LockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "balsam",
			Subsystem: "lock",
			Name:      "contention_total",
			Help:      "Total number of lock acquisitions rejected because the lock was held",
		},
		[]string{"lock_type"},
	)

	// KeyStatusWrites tracks operator marks by status
	KeyStatusWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "balsam",
			Subsystem: "status_store",
			Name:      "writes_total",
			Help:      "Total number of key status writes by status",
		},
		[]string{"status"},
	)

	// EventsPublished tracks progress events by result
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "balsam",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of job events published",
		},
		[]string{"stage", "status"},
	)

	// SchedulerJobsClaimed tracks jobs picked up by the scheduler
	SchedulerJobsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "balsam",
			Subsystem: "scheduler",
			Name:      "jobs_claimed_total",
			Help:      "Total number of pending jobs dispatched by the scheduler",
		},
	)
)
