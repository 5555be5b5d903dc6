package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(ledgerOpsTotal, ledgerCreditsMoved, ledgerRejectedTotal) }

var (
	ledgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Applied ledger mutations by direction (debit/credit) and reason.",
		},
		[]string{"direction", "reason"},
	)

	ledgerCreditsMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_credits_moved_total",
			Help: "Sum of credits moved through the ledger by direction and reason.",
		},
		[]string{"direction", "reason"},
	)

	ledgerRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_rejected_total",
			Help: "Ledger mutations rejected by a guard (insufficient_funds, duplicate).",
		},
		[]string{"cause"},
	)
)

func ObserveLedger(direction, reason string, amount int64) {
	ledgerOpsTotal.WithLabelValues(norm(direction), norm(reason)).Inc()
	ledgerCreditsMoved.WithLabelValues(norm(direction), norm(reason)).Add(float64(amount))
}

func IncLedgerRejected(cause string) {
	ledgerRejectedTotal.WithLabelValues(norm(cause)).Inc()
}
