// Package metrics provides the Prometheus collectors for the
// win-probability engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counter metrics
var (
	SimulationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "win_probability",
		Name:      "simulations_total",
		Help:      "Total number of Monte Carlo simulations run",
	})
	EstimationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "win_probability",
		Name:      "estimations_total",
		Help:      "Total number of rate-profile estimations run",
	})
	CoalescedTriggersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "win_probability",
		Name:      "coalesced_triggers_total",
		Help:      "Triggers coalesced onto an in-flight recompute for the same key",
	})
	SupersededRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "win_probability",
		Name:      "superseded_runs_total",
		Help:      "In-flight simulations cancelled because a newer game state arrived",
	})
	LowPrecisionResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "win_probability",
		Name:      "low_precision_results_total",
		Help:      "Simulation results returned with the low-precision flag",
	})
	CacheReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "win_probability",
		Name:      "cache_reads_total",
		Help:      "Prediction cache reads by outcome",
	}, []string{"kind", "outcome"}) // outcome: hit, stale, miss
)

// Gauge metrics
var (
	InFlightRecomputes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "win_probability",
		Name:      "in_flight_recomputes",
		Help:      "Number of recomputes currently in flight",
	})
	QueuedRecomputes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "win_probability",
		Name:      "queued_recomputes",
		Help:      "Number of recompute tasks waiting for a worker",
	})
)

// Histogram metrics
var (
	SimulationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "win_probability",
		Name:      "simulation_duration_seconds",
		Help:      "Wall-clock duration of Monte Carlo simulations in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .2, .4, .8, 1.6},
	})
	SimulationIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "win_probability",
		Name:      "simulation_iterations",
		Help:      "Iteration counts of completed simulations",
		Buckets:   []float64{1000, 5000, 10000, 20000, 40000, 80000},
	})
)

// RecordCacheRead records one prediction cache read outcome.
func RecordCacheRead(kind, outcome string) {
	CacheReadsTotal.WithLabelValues(kind, outcome).Inc()
}
