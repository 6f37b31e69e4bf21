package service

import "github.com/prometheus/client_golang/prometheus"

var (
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_operations_total",
			Help: "Coordinator operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	CASConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_cas_conflicts_total",
			Help: "Compare-and-swap attempts lost to a concurrent writer",
		},
		[]string{"operation"},
	)

	DegradedWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_degraded_writes_total",
			Help: "Writes applied to the fallback cache instead of the repository",
		},
		[]string{"operation"},
	)

	UnreconciledEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "economy_unreconciled_entries",
			Help: "Cache entries waiting for operator reconciliation",
		},
	)
)

func init() {
	prometheus.MustRegister(OperationsTotal, CASConflicts, DegradedWrites, UnreconciledEntries)
}
