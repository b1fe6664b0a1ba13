// Package metrics provides Prometheus metrics for hutch.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Record mutation metrics
	PublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_publishes_total",
			Help: "Total number of record publish operations by backend, type, and outcome",
		},
		[]string{"backend", "type", "outcome"},
	)

	SuppressionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_suppressions_total",
			Help: "Total number of record suppress operations by backend, type, and outcome",
		},
		[]string{"backend", "type", "outcome"},
	)

	SharedRecordsDeferred = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hutch_shared_records_deferred",
			Help: "Number of shared address records currently deferred until shutdown",
		},
		[]string{"backend"},
	)

	// Store metrics
	StoreConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_store_conflicts_total",
			Help: "Total number of optimistic-concurrency conflicts by backend",
		},
		[]string{"backend"},
	)

	StoreTransientRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_store_transient_retries_total",
			Help: "Total number of transient store failures that were retried, by backend",
		},
		[]string{"backend"},
	)

	// Reconciliation metrics
	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_reconcile_cycles_total",
			Help: "Total number of full reconciliation cycles",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hutch_reconcile_duration_seconds",
			Help:    "Duration of full reconciliation cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainersTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hutch_containers_tracked",
			Help: "Number of containers currently tracked by the reconciliation engine",
		},
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_events_total",
			Help: "Total number of container lifecycle events consumed, by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(PublishesTotal)
	prometheus.MustRegister(SuppressionsTotal)
	prometheus.MustRegister(SharedRecordsDeferred)
	prometheus.MustRegister(StoreConflictsTotal)
	prometheus.MustRegister(StoreTransientRetriesTotal)
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(ContainersTracked)
	prometheus.MustRegister(EventsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
