// Package metrics exposes the validator debt service metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "doublezero_validator_debt_build_info",
			Help: "Build information of the validator debt worker",
		},
		[]string{"version", "commit", "date"},
	)

	TotalDebt = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "doublezero_validator_debt_total_debt",
		Help: "Total debt staged for an epoch in lamports",
	}, []string{"dz_epoch"})

	TotalValidators = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "doublezero_validator_debt_total_validators",
		Help: "Number of validators with staged debt for an epoch",
	}, []string{"dz_epoch"})

	OverlappingEpochs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doublezero_validator_debt_overlapping_epochs_total",
		Help: "DZ epochs whose Solana epoch was already settled",
	}, []string{"dz_epoch"})

	PayDebtFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doublezero_validator_debt_pay_debt_failures_total",
		Help: "Debt payment transactions that failed outright",
	}, []string{"reason"})

	PaymentsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doublezero_validator_debt_payments_succeeded_total",
		Help: "Debt payments landed on chain",
	})

	PaymentsAlreadyPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doublezero_validator_debt_payments_already_paid_total",
		Help: "Debt payments skipped because the leaf was processed",
	})

	PaymentsInsufficientFunds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doublezero_validator_debt_payments_insufficient_funds_total",
		Help: "Debt payments rejected for insufficient deposit funds",
	})

	WriteOffs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doublezero_validator_debt_write_offs_total",
		Help: "Debt leaves written off as uncollectible",
	})

	SchedulerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doublezero_validator_debt_scheduler_failure_total",
		Help: "Failed worker ticks",
	})

	SchedulerSuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doublezero_validator_debt_scheduler_success_total",
		Help: "Successful worker ticks",
	})
)
