// Package metrics holds the prometheus collectors of the indexing engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var SyncResults = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "queryindex",
	Subsystem: "sync",
	Name:      "results",
	Help:      "Single-record synchronisations by outcome.",
}, []string{"entity_type", "outcome"})

var SyncFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "queryindex",
	Subsystem: "sync",
	Name:      "failures",
	Help:      "Single-record synchronisations that returned an error.",
}, []string{"entity_type", "reason"})

var PlannedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "queryindex",
	Subsystem: "planner",
	Name:      "emitted_events",
	Help:      "Sync events emitted by reindex runs.",
}, []string{"entity_type", "mode"})

var PlanDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "queryindex",
	Subsystem: "planner",
	Name:      "duration_seconds",
	Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
}, []string{"entity_type"})

var LockContention = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "queryindex",
	Subsystem: "lock",
	Name:      "contended",
	Help:      "Claims refused because the scope was held.",
}, []string{"entity_type", "status"})

var PurgedRows = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "queryindex",
	Subsystem: "purge",
	Name:      "rows",
}, []string{"entity_type"})

var VectorizeResults = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "queryindex",
	Subsystem: "vectorize",
	Name:      "results",
}, []string{"entity_type", "result"})

var CoverageCounts = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "queryindex",
	Subsystem: "coverage",
	Name:      "rows",
	Help:      "Unscoped row counts from the last coverage pass.",
}, []string{"entity_type", "kind"})

var BusDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "queryindex",
	Subsystem: "bus",
	Name:      "deliveries",
	Help:      "Event deliveries by result: ok, retry, dead or unhandled.",
}, []string{"event", "result"})

var registerOnce sync.Once

// Register adds every collector to reg. Later calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			SyncResults,
			SyncFailures,
			PlannedEvents,
			PlanDuration,
			LockContention,
			PurgedRows,
			VectorizeResults,
			CoverageCounts,
			BusDeliveries,
		)
	})
}
