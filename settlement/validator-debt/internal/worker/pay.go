package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/doublezero-offchain/pkg/runner"
	"github.com/malbeclabs/doublezero-offchain/sdk/revdist"
	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/metrics"
)

// programLogResultLine is the log line index the on-chain program emits
// its payment result on.
const programLogResultLine = 4

// PaymentStatus classifies one leaf's collection attempt.
type PaymentStatus string

const (
	PaymentSucceeded         PaymentStatus = "succeeded"
	PaymentAlreadyPaid       PaymentStatus = "already-paid"
	PaymentInsufficientFunds PaymentStatus = "insufficient-funds"
	PaymentFailed            PaymentStatus = "failed"
)

// CollectionResult is one validator's payment outcome.
type CollectionResult struct {
	ValidatorID string
	Amount      uint64
	Status      PaymentStatus
	Detail      string
}

// CollectionResults aggregates one epoch's debt collection run.
type CollectionResults struct {
	DZEpoch           uint64
	Results           []CollectionResult
	TotalValidators   int
	SucceededCount    int
	AlreadyPaidCount  int
	InsufficientCount int
	FailedCount       int
	TotalDebt         uint64
	TotalPaid         uint64
	AlreadyPaid       uint64
}

// PayEpochDebt drives the payment of every committed leaf for the
// epoch. Leaves whose processed-bitmap bit is already set are skipped;
// preflight failures classify by the program's result log line. The
// on-chain bitmap is the authority, so re-running is safe.
func (w *Worker) PayEpochDebt(ctx context.Context, dzEpoch uint64) (*CollectionResults, error) {
	config, err := w.cfg.Revdist.FetchConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching program config: %w", err)
	}
	computed, err := w.cfg.Revdist.FetchValidatorDebts(ctx, config.DebtAccountantKey, dzEpoch)
	if err != nil {
		return nil, fmt.Errorf("fetching debt record for epoch %d: %w", dzEpoch, err)
	}
	distribution, remaining, err := w.cfg.Revdist.FetchDistributionWithBitmaps(ctx, dzEpoch)
	if err != nil {
		return nil, fmt.Errorf("fetching distribution for epoch %d: %w", dzEpoch, err)
	}
	bitmap := revdist.DebtBitmap(distribution, remaining)

	overrides, err := LoadOverrides(w.cfg.OverridesPath)
	if err != nil {
		return nil, err
	}

	if err := w.initializeMissingDeposits(ctx, computed); err != nil {
		return nil, err
	}

	type leafWork struct {
		index int
		leaf  revdist.ComputedSolanaValidatorDebt
	}
	var work []leafWork
	for i, leaf := range computed.Debts {
		if IsOverridden(overrides, leaf.NodeID.String(), dzEpoch) {
			w.log.Info("Validator excluded from debt collection by override",
				"validator", leaf.NodeID.String(), "dzEpoch", dzEpoch)
			continue
		}
		work = append(work, leafWork{index: i, leaf: leaf})
	}

	results, err := runner.Map(ctx, paymentConcurrency, work, func(ctx context.Context, lw leafWork) (CollectionResult, error) {
		processed, bitErr := revdist.IsProcessedLeaf(bitmap, lw.index)
		if bitErr == nil && processed {
			return CollectionResult{
				ValidatorID: lw.leaf.NodeID.String(),
				Amount:      lw.leaf.Amount,
				Status:      PaymentAlreadyPaid,
				Detail:      "processed-leaf bitmap bit set",
			}, nil
		}
		return w.paySingleDebt(ctx, dzEpoch, computed, lw.leaf)
	})
	if err != nil {
		return nil, err
	}

	aggregated := &CollectionResults{DZEpoch: dzEpoch, Results: results, TotalValidators: len(results)}
	for _, result := range results {
		aggregated.TotalDebt += result.Amount
		switch result.Status {
		case PaymentSucceeded:
			aggregated.SucceededCount++
			aggregated.TotalPaid += result.Amount
			metrics.PaymentsSucceeded.Inc()
		case PaymentAlreadyPaid:
			aggregated.AlreadyPaidCount++
			aggregated.AlreadyPaid += result.Amount
			aggregated.TotalPaid += result.Amount
			metrics.PaymentsAlreadyPaid.Inc()
		case PaymentInsufficientFunds:
			aggregated.InsufficientCount++
			metrics.PaymentsInsufficientFunds.Inc()
		case PaymentFailed:
			aggregated.FailedCount++
		}
	}
	w.log.Info("Debt collection run complete",
		"dzEpoch", dzEpoch,
		"validators", aggregated.TotalValidators,
		"succeeded", aggregated.SucceededCount,
		"alreadyPaid", aggregated.AlreadyPaidCount,
		"insufficientFunds", aggregated.InsufficientCount,
		"failed", aggregated.FailedCount)
	return aggregated, nil
}

// paySingleDebt submits one payment and classifies the outcome. The
// already-paid and insufficient-funds classifications are terminal for
// this run; neither is retried.
func (w *Worker) paySingleDebt(ctx context.Context, dzEpoch uint64, computed *revdist.ComputedSolanaValidatorDebts, leaf revdist.ComputedSolanaValidatorDebt) (CollectionResult, error) {
	result := CollectionResult{ValidatorID: leaf.NodeID.String(), Amount: leaf.Amount}

	_, proof, err := computed.FindDebtProof(leaf.NodeID)
	if err != nil {
		return result, err
	}
	payIx, err := revdist.BuildPaySolanaValidatorDebtInstruction(
		w.cfg.Revdist.ProgramID(), dzEpoch, leaf.NodeID, leaf.Amount, proof)
	if err != nil {
		return result, fmt.Errorf("building pay instruction for %s: %w", leaf.NodeID, err)
	}
	budgetIx := revdist.BuildSetComputeUnitLimitInstruction(
		revdist.ComputeUnitsTransactionBase + revdist.ComputeUnitsPayDebt(proof))

	tx, err := w.cfg.SolanaWallet.NewTransaction(ctx, []solana.Instruction{payIx, budgetIx})
	if err != nil {
		return result, err
	}
	outcome, err := w.cfg.SolanaWallet.SendOrSimulate(ctx, tx)
	if err != nil {
		metrics.PayDebtFailures.WithLabelValues("rpc").Inc()
		result.Status = PaymentFailed
		result.Detail = err.Error()
		return result, nil
	}

	if outcome.Executed != nil {
		result.Status = PaymentSucceeded
		result.Detail = outcome.Executed.String()
		return result, nil
	}

	resultLine := outcome.Simulated.Log(programLogResultLine)
	switch {
	case strings.Contains(resultLine, "Merkle leaf"):
		result.Status = PaymentAlreadyPaid
	case strings.Contains(resultLine, "Insufficient funds"):
		result.Status = PaymentInsufficientFunds
	case outcome.Simulated.Failed():
		metrics.PayDebtFailures.WithLabelValues("instruction").Inc()
		result.Status = PaymentFailed
	default:
		// Dry-run simulation that would have succeeded.
		result.Status = PaymentSucceeded
	}
	result.Detail = resultLine
	return result, nil
}

// initializeMissingDeposits creates deposit accounts for any node in
// the committed set that lacks one, batching the idempotent
// initializations.
func (w *Worker) initializeMissingDeposits(ctx context.Context, computed *revdist.ComputedSolanaValidatorDebts) error {
	nodeIDs := make([]solana.PublicKey, len(computed.Debts))
	for i, leaf := range computed.Debts {
		nodeIDs[i] = leaf.NodeID
	}
	missing, err := w.cfg.Revdist.MissingDepositAccounts(ctx, nodeIDs)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	w.log.Info("Initializing missing validator deposit accounts", "count", len(missing))

	for start := 0; start < len(missing); start += depositInitBatch {
		end := min(start+depositInitBatch, len(missing))
		batch := missing[start:end]

		instructions := make([]solana.Instruction, 0, len(batch)+1)
		computeUnits := uint32(revdist.ComputeUnitsTransactionBase)
		for _, nodeID := range batch {
			ix, err := revdist.BuildInitializeValidatorDepositInstruction(
				w.cfg.Revdist.ProgramID(), w.cfg.SolanaWallet.PublicKey(), nodeID)
			if err != nil {
				return fmt.Errorf("building deposit init instruction for %s: %w", nodeID, err)
			}
			instructions = append(instructions, ix)
			_, bump, err := revdist.DeriveValidatorDepositPDA(w.cfg.Revdist.ProgramID(), nodeID)
			if err != nil {
				return err
			}
			computeUnits += revdist.ComputeUnitsInitializeDeposit + revdist.ComputeUnitsForBumpSeed(bump)
		}
		instructions = append(instructions, revdist.BuildSetComputeUnitLimitInstruction(computeUnits))

		tx, err := w.cfg.SolanaWallet.NewTransaction(ctx, instructions)
		if err != nil {
			return err
		}
		outcome, err := w.cfg.SolanaWallet.SendOrSimulate(ctx, tx)
		if err != nil {
			return fmt.Errorf("initializing deposit accounts: %w", err)
		}
		if outcome.Executed != nil {
			w.log.Info("Validator deposit accounts initialized", "count", len(batch), "signature", outcome.Executed.String())
		}
	}
	return nil
}
