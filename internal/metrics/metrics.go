package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operational metrics about the exporter itself.
var (
	ESIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esi_api_requests_total",
			Help: "Total number of upstream ESI API requests made (by endpoint and result).",
		},
		[]string{"endpoint", "result"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exporter_errors_total",
			Help: "Count of exporter-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	LastRefreshTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exporter_last_refresh_timestamp",
			Help: "Timestamp (unix seconds) of the last successful run per job.",
		},
		[]string{"job"},
	)

	IngestedTransactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exporter_ledger_transactions_ingested_total",
			Help: "Total number of new ledger transactions stored.",
		},
	)

	PrunedTransactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exporter_ledger_transactions_pruned_total",
			Help: "Total number of ledger transactions removed by retention pruning.",
		},
	)
)

func IncESIRequest(endpoint, result string) {
	ESIRequestsTotal.WithLabelValues(endpoint, result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastRefresh(job string, t time.Time) {
	LastRefreshTimestamp.WithLabelValues(job).Set(float64(t.Unix()))
}

func AddIngestedTransactions(n int64) {
	IngestedTransactions.Add(float64(n))
}

func AddPrunedTransactions(n int64) {
	PrunedTransactions.Add(float64(n))
}
