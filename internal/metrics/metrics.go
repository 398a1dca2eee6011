// Package metrics holds the process-wide prometheus collectors. They are
// registered on the default registry and served by promhttp at /metrics.
package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gate outcome labels.
const (
	OutcomeChallenge = "challenge"
	OutcomeAdmitted  = "admitted"
	OutcomeRejected  = "rejected"
)

// Ledger query result labels.
const (
	LedgerFound    = "found"
	LedgerNotFound = "not_found"
	LedgerFailed   = "failed"
	LedgerError    = "error"
)

var (
	GateOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_gate_outcomes_total",
		Help: "Gate decisions by outcome and rejection reason",
	}, []string{"outcome", "reason"})

	LedgerQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_ledger_queries_total",
		Help: "Ledger queries issued by the verifier, by result",
	}, []string{"result"})

	VerdictCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paygate_verdict_cache_hits_total",
		Help: "Verifications answered from the verdict cache",
	})

	WindowSpent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "paygate_window_spent",
		Help: "Amount reserved in the current spend window, in smallest units. With a shared store this is the last value this instance observed, refreshed on its own reservations and on /api/spend.",
	}, []string{"currency"})
)

// SetWindowSpent publishes an accumulator value. Gauges are float64, so
// very large accumulators lose precision here; the ledger itself does not.
func SetWindowSpent(currency string, spent *big.Int) {
	f, _ := new(big.Float).SetInt(spent).Float64()
	WindowSpent.WithLabelValues(currency).Set(f)
}
