package worker

import (
	"context"
	"errors"
	"fmt"
)

// recentEpochWindow is how many completed epochs behind the cursor the
// collection sweep covers each tick. Older unpaid leaves are handled by
// the write-off compensator.
const recentEpochWindow = 3

// Notifier receives epoch-level settlement outcomes.
type Notifier interface {
	PostDebtCollection(ctx context.Context, results *CollectionResults, dryRun bool) error
	PostFinalized(ctx context.Context, dzEpoch uint64, signature string, dryRun bool) error
	PostFailure(ctx context.Context, dzEpoch uint64, stage string, err error) error
}

// CollectionSink receives per-epoch collection results for export.
type CollectionSink func(results *CollectionResults)

// driveRecentEpochs advances the commit lifecycle for the most recent
// completed epochs: finalizing staged debt roots whose grace period has
// passed and collecting payments on finalized ones. The on-chain
// processed bitmap makes every step idempotent.
func (w *Worker) driveRecentEpochs(ctx context.Context, targetEpoch uint64) error {
	firstEpoch := w.cfg.GenesisDZEpoch
	if targetEpoch > recentEpochWindow && targetEpoch-recentEpochWindow > firstEpoch {
		firstEpoch = targetEpoch - recentEpochWindow
	}

	var failures []error
	for epoch := firstEpoch; epoch <= targetEpoch; epoch++ {
		if err := w.driveEpoch(ctx, epoch); err != nil {
			w.log.Error("Failed to drive epoch lifecycle", "dzEpoch", epoch, "error", err)
			failures = append(failures, fmt.Errorf("epoch %d: %w", epoch, err))
		}
	}
	return errors.Join(failures...)
}

func (w *Worker) driveEpoch(ctx context.Context, epoch uint64) error {
	distribution, _, err := w.cfg.Revdist.FetchDistributionWithBitmaps(ctx, epoch)
	if err != nil {
		// Not yet initialized; nothing to drive.
		return nil
	}
	if distribution.HasZeroDebt() {
		return nil
	}

	if !distribution.IsDebtCalculationFinalized() {
		if err := w.FinalizeDistribution(ctx, epoch); err != nil {
			return fmt.Errorf("finalizing: %w", err)
		}
		if w.cfg.Notifier != nil {
			_ = w.cfg.Notifier.PostFinalized(ctx, epoch, "", w.cfg.SolanaWallet.DryRun())
		}
		// The local view is stale after finalizing; collect on the next
		// tick against a fresh read of the distribution.
		return nil
	}

	if distribution.IsAllSolanaValidatorDebtProcessed() {
		return nil
	}

	results, err := w.PayEpochDebt(ctx, epoch)
	if err != nil {
		if w.cfg.Notifier != nil {
			_ = w.cfg.Notifier.PostFailure(ctx, epoch, "debt-collection", err)
		}
		return fmt.Errorf("collecting: %w", err)
	}
	if w.cfg.Notifier != nil && results.SucceededCount > 0 {
		_ = w.cfg.Notifier.PostDebtCollection(ctx, results, w.cfg.SolanaWallet.DryRun())
	}
	if w.cfg.CollectionSink != nil {
		w.cfg.CollectionSink(results)
	}
	return nil
}
