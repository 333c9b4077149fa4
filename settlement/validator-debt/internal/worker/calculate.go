package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/near/borsh-go"

	"github.com/malbeclabs/doublezero-offchain/pkg/retry"
	"github.com/malbeclabs/doublezero-offchain/sdk/revdist"
	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/debt"
	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/metrics"
)

var (
	// ErrAlreadyFinalized signals the epoch's debt calculation is done.
	ErrAlreadyFinalized = errors.New("debt calculation already finalized")

	// ErrRecordCreated signals a fresh ledger record was written; the
	// next tick validates it and proceeds to the on-chain stage.
	ErrRecordCreated = errors.New("new debt record created; configuring on next check")

	// ErrGracePeriodUnsatisfied signals the calculation gate timed out;
	// the next tick retries.
	ErrGracePeriodUnsatisfied = errors.New("calculation grace period unsatisfied")

	// ErrNoDebtToCollect signals an overlap epoch with a zeroed record.
	ErrNoDebtToCollect = errors.New("no debt to collect for overlapping epoch")
)

// Summary describes one staged debt calculation.
type Summary struct {
	DZEpoch         uint64
	SolanaEpoch     uint64
	TotalDebt       uint64
	TotalValidators uint32
	DryRun          bool
	TransactionID   string
}

// CalculateDistribution computes the epoch's validator debt, persists
// the record on the DZ Ledger, and stages the merkle root on the
// revenue distribution program.
func (w *Worker) CalculateDistribution(ctx context.Context, config *revdist.ProgramConfig, dzEpoch uint64) (*Summary, error) {
	ledgerInfo, err := retry.Do(ctx, func() (*solanarpc.GetEpochInfoResult, error) {
		return w.cfg.Ledger.GetEpochInfo(ctx, solanarpc.CommitmentFinalized)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching DZ epoch info: %w", err)
	}
	if ledgerInfo.Epoch == dzEpoch {
		return nil, fmt.Errorf("DZ epoch %d is still in progress", dzEpoch)
	}

	distribution, _, err := w.cfg.Revdist.FetchDistributionWithBitmaps(ctx, dzEpoch)
	if err != nil {
		return nil, fmt.Errorf("fetching distribution for epoch %d: %w", dzEpoch, err)
	}
	if distribution.IsDebtCalculationFinalized() {
		return nil, fmt.Errorf("%w: epoch %d", ErrAlreadyFinalized, dzEpoch)
	}

	if err := w.waitForCalculationAllowed(ctx, dzEpoch, distribution); err != nil {
		return nil, err
	}

	solanaEpochs, err := w.joinedSolanaEpochs(ctx, config, dzEpoch)
	if err != nil {
		return nil, err
	}
	if len(solanaEpochs) == 0 {
		return nil, w.stageZeroDebtRecord(ctx, dzEpoch)
	}
	solanaEpoch := solanaEpochs[len(solanaEpochs)-1]
	if len(solanaEpochs) > 1 {
		w.log.Info("DZ epoch overlaps multiple Solana epochs",
			"dzEpoch", dzEpoch, "first", solanaEpochs[0], "last", solanaEpoch)
	}

	start, end, err := w.cfg.SolanaEpochs.TimeRange(ctx, solanaEpoch)
	if err != nil {
		return nil, fmt.Errorf("resolving Solana epoch %d time range: %w", solanaEpoch, err)
	}

	w.log.Info("Deriving connected validators", "solanaEpoch", solanaEpoch)
	validatorIDs, err := w.cfg.Validators.Derive(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("deriving validator set: %w", err)
	}
	slices.Sort(validatorIDs)
	w.log.Info("Connected validators derived", "count", len(validatorIDs))

	rewards, err := w.cfg.Rewards.FetchTotalRewards(ctx, validatorIDs, solanaEpoch)
	if err != nil {
		return nil, fmt.Errorf("fetching validator rewards: %w", err)
	}

	blockhash, err := retry.Do(ctx, func() (*solanarpc.GetLatestBlockhashResult, error) {
		return w.cfg.Ledger.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching DZ blockhash: %w", err)
	}

	computed, err := debt.Compute(blockhash.Value.Blockhash, solanaEpoch, solanaEpoch,
		distribution.SolanaValidatorFeeParameters, rewards)
	if err != nil {
		return nil, err
	}

	if !w.cfg.LedgerWallet.DryRun() {
		if err := w.createOrValidateDebtRecord(ctx, dzEpoch, computed); err != nil {
			return nil, err
		}
	} else {
		w.log.Warn("DRY RUN: skipping DZ ledger record write")
	}

	summary, err := w.configureDistributionDebt(ctx, dzEpoch, computed)
	if err != nil {
		return nil, err
	}
	summary.SolanaEpoch = solanaEpoch
	return summary, nil
}

// waitForCalculationAllowed polls the Solana cluster's block time until
// it passes the distribution's calculation-allowed timestamp, bailing
// after the configured maximum wait.
func (w *Worker) waitForCalculationAllowed(ctx context.Context, dzEpoch uint64, distribution *revdist.Distribution) error {
	if distribution.CalculationAllowedTimestamp == 0 {
		return fmt.Errorf("%w: distribution for epoch %d has no calculation timestamp", ErrGracePeriodUnsatisfied, dzEpoch)
	}
	deadline := w.clock.Now().Add(w.cfg.GraceMaxWait)
	for {
		slot, err := retry.Do(ctx, func() (uint64, error) {
			return w.cfg.Solana.GetSlot(ctx, solanarpc.CommitmentFinalized)
		})
		if err != nil {
			return fmt.Errorf("fetching Solana slot: %w", err)
		}
		blockTime, err := retry.Do(ctx, func() (*solana.UnixTimeSeconds, error) {
			return w.cfg.Solana.GetBlockTime(ctx, slot)
		})
		if err != nil {
			return fmt.Errorf("fetching Solana block time: %w", err)
		}
		if blockTime != nil && int64(*blockTime) >= int64(distribution.CalculationAllowedTimestamp) {
			return nil
		}
		if !w.clock.Now().Before(deadline) {
			return fmt.Errorf("%w: epoch %d, allowed at %d", ErrGracePeriodUnsatisfied, dzEpoch, distribution.CalculationAllowedTimestamp)
		}
		w.log.Info("Waiting for calculation grace period",
			"dzEpoch", dzEpoch,
			"allowedTimestamp", distribution.CalculationAllowedTimestamp)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.clock.After(gracePollInterval):
		}
	}
}

// joinedSolanaEpochs resolves the Solana epochs overlapping the DZ
// epoch, excluding any epoch the previous DZ epoch's record already
// settled.
func (w *Worker) joinedSolanaEpochs(ctx context.Context, config *revdist.ProgramConfig, dzEpoch uint64) ([]uint64, error) {
	start, end, err := w.cfg.DZEpochs.TimeRange(ctx, dzEpoch)
	if err != nil {
		return nil, fmt.Errorf("resolving DZ epoch %d time range: %w", dzEpoch, err)
	}
	now := w.clock.Now()
	firstSolana, err := w.cfg.SolanaEpochs.AtTime(ctx, start, now)
	if err != nil {
		return nil, fmt.Errorf("resolving Solana epoch at DZ epoch start: %w", err)
	}
	lastSolana, err := w.cfg.SolanaEpochs.AtTime(ctx, end, now)
	if err != nil {
		return nil, fmt.Errorf("resolving Solana epoch at DZ epoch end: %w", err)
	}

	var settled uint64
	if dzEpoch > 0 {
		if previous, err := w.cfg.Revdist.FetchValidatorDebts(ctx, config.DebtAccountantKey, dzEpoch-1); err == nil {
			settled = previous.LastSolanaEpoch
		}
	}

	var epochs []uint64
	for epoch := firstSolana; epoch <= lastSolana; epoch++ {
		if settled != 0 && epoch <= settled {
			metrics.OverlappingEpochs.WithLabelValues(strconv.FormatUint(dzEpoch, 10)).Inc()
			w.log.Warn("Solana epoch already settled by previous DZ epoch", "dzEpoch", dzEpoch, "solanaEpoch", epoch)
			continue
		}
		epochs = append(epochs, epoch)
	}
	return epochs, nil
}

// stageZeroDebtRecord writes an empty debt record for a DZ epoch whose
// Solana epoch was already consumed, and finalizes it when forced.
func (w *Worker) stageZeroDebtRecord(ctx context.Context, dzEpoch uint64) error {
	empty := &revdist.ComputedSolanaValidatorDebts{}
	payload, err := borsh.Serialize(*empty)
	if err != nil {
		return fmt.Errorf("serializing empty debt record: %w", err)
	}
	if !w.cfg.LedgerWallet.DryRun() {
		if _, err := w.cfg.RecordWriter.WriteRecord(ctx, revdist.DebtRecordSeeds(dzEpoch), payload); err != nil {
			return fmt.Errorf("writing empty debt record: %w", err)
		}
	}
	if w.cfg.Force {
		w.log.Warn("No non-overlapping Solana epoch, zeroing out and finalizing debt", "dzEpoch", dzEpoch)
		if err := w.FinalizeDistribution(ctx, dzEpoch); err != nil {
			return err
		}
		return fmt.Errorf("%w: dz epoch %d", ErrNoDebtToCollect, dzEpoch)
	}
	return fmt.Errorf("dz epoch %d has no Solana epoch to settle; use force to finalize an empty distribution", dzEpoch)
}

// createOrValidateDebtRecord persists the computed record, or validates
// an existing one against the computation.
func (w *Worker) createOrValidateDebtRecord(ctx context.Context, dzEpoch uint64, computed *revdist.ComputedSolanaValidatorDebts) error {
	config, err := w.cfg.Revdist.FetchConfig(ctx)
	if err != nil {
		return fmt.Errorf("fetching program config: %w", err)
	}
	existing, err := w.cfg.Revdist.FetchValidatorDebts(ctx, config.DebtAccountantKey, dzEpoch)
	if err != nil {
		// No existing record: create one and let the next tick verify
		// it before anything is staged on chain.
		payload, err := borsh.Serialize(*computed)
		if err != nil {
			return fmt.Errorf("serializing debt record: %w", err)
		}
		key, err := w.cfg.RecordWriter.WriteRecord(ctx, revdist.DebtRecordSeeds(dzEpoch), payload)
		if err != nil {
			return fmt.Errorf("writing debt record: %w", err)
		}
		w.log.Info("Debt record created on DZ ledger", "dzEpoch", dzEpoch, "record", key.String())
		return fmt.Errorf("%w: epoch %d", ErrRecordCreated, dzEpoch)
	}

	if !slices.Equal(existing.Debts, computed.Debts) {
		if !w.cfg.Force {
			return fmt.Errorf("existing debt record for epoch %d does not match the new computation", dzEpoch)
		}
		payload, err := borsh.Serialize(*computed)
		if err != nil {
			return fmt.Errorf("serializing debt record: %w", err)
		}
		if _, err := w.cfg.RecordWriter.WriteRecord(ctx, revdist.DebtRecordSeeds(dzEpoch), payload); err != nil {
			return fmt.Errorf("overwriting debt record: %w", err)
		}
		w.log.Warn("Existing debt record did not match and was overwritten", "dzEpoch", dzEpoch)
		return nil
	}
	w.log.Info("Existing debt record matches computation, proceeding to stage", "dzEpoch", dzEpoch)
	return nil
}

// configureDistributionDebt stages the merkle root and totals on the
// revenue distribution program.
func (w *Worker) configureDistributionDebt(ctx context.Context, dzEpoch uint64, computed *revdist.ComputedSolanaValidatorDebts) (*Summary, error) {
	totalDebt := computed.TotalDebt()
	totalValidators := uint32(len(computed.Debts))

	root, err := computed.MerkleRoot()
	if err != nil {
		return nil, fmt.Errorf("building debt merkle root: %w", err)
	}

	ix, err := revdist.BuildConfigureDistributionDebtInstruction(
		w.cfg.Revdist.ProgramID(), w.cfg.SolanaWallet.PublicKey(), dzEpoch, totalValidators, totalDebt, root)
	if err != nil {
		return nil, fmt.Errorf("building configure debt instruction: %w", err)
	}
	tx, err := w.cfg.SolanaWallet.NewTransaction(ctx, []solana.Instruction{ix})
	if err != nil {
		return nil, err
	}
	outcome, err := w.cfg.SolanaWallet.SendOrSimulate(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("staging debt root for epoch %d: %w", dzEpoch, err)
	}

	summary := &Summary{
		DZEpoch:         dzEpoch,
		TotalDebt:       totalDebt,
		TotalValidators: totalValidators,
		DryRun:          w.cfg.SolanaWallet.DryRun(),
	}
	if outcome.Executed != nil {
		summary.TransactionID = outcome.Executed.String()
		epochLabel := strconv.FormatUint(dzEpoch, 10)
		metrics.TotalDebt.WithLabelValues(epochLabel).Set(float64(totalDebt))
		metrics.TotalValidators.WithLabelValues(epochLabel).Set(float64(totalValidators))
	} else if outcome.Simulated.Failed() {
		return nil, fmt.Errorf("configure debt simulation failed for epoch %d: %v", dzEpoch, outcome.Simulated.Err)
	}
	return summary, nil
}
