package worker

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/malbeclabs/doublezero-offchain/pkg/retry"
	"github.com/malbeclabs/doublezero-offchain/sdk/revdist"
)

// TryInitializeDistribution opens the distribution for the next DZ
// epoch once the ledger has completed it, driving the write-off
// compensator and the rewards finalize+sweep for the epoch whose
// rewards become distributable.
func (w *Worker) TryInitializeDistribution(ctx context.Context, config *revdist.ProgramConfig) error {
	nextEpoch := config.NextCompletedDZEpoch

	ledgerInfo, err := retry.Do(ctx, func() (*solanarpc.GetEpochInfoResult, error) {
		return w.cfg.Ledger.GetEpochInfo(ctx, solanarpc.CommitmentFinalized)
	})
	if err != nil {
		return fmt.Errorf("fetching DZ epoch info: %w", err)
	}
	completed := ledgerInfo.Epoch - 1
	if nextEpoch != completed {
		w.log.Debug("Program epoch cursor not yet in sync with the ledger",
			"programNext", nextEpoch, "ledgerCompleted", completed)
		return nil
	}

	// The epoch whose rewards become finalizable once this distribution
	// is initialized.
	minDuration := uint64(config.DistributionParameters.MinimumEpochDurationToFinalizeRewards)
	var rewardsEpoch uint64
	if nextEpoch+1 > minDuration {
		rewardsEpoch = nextEpoch - minDuration + 1
	}

	rewardsDistribution, _, err := w.cfg.Revdist.FetchDistributionWithBitmaps(ctx, rewardsEpoch)
	if err != nil {
		return fmt.Errorf("fetching rewards distribution for epoch %d: %w", rewardsEpoch, err)
	}

	if config.IsDebtWriteOffFeatureActivated(rewardsEpoch) {
		w.log.Info("Processing debt write-offs", "rewardsEpoch", rewardsEpoch)
		if err := w.tryWriteOffDistributionDebt(ctx, config, rewardsDistribution); err != nil {
			return err
		}
	} else {
		w.log.Warn("Debt write-off feature is not activated yet")
	}

	walletKey := w.cfg.SolanaWallet.PublicKey()
	initIx, err := revdist.BuildInitializeDistributionInstruction(
		w.cfg.Revdist.ProgramID(), walletKey, nextEpoch, w.cfg.Mint2Z)
	if err != nil {
		return fmt.Errorf("building initialize distribution instruction: %w", err)
	}

	instructions := []solana.Instruction{initIx}
	computeUnits := uint32(revdist.ComputeUnitsInitializeDistribution)

	distributionKey, bump, err := revdist.DeriveDistributionPDA(w.cfg.Revdist.ProgramID(), nextEpoch)
	if err != nil {
		return err
	}
	computeUnits += revdist.ComputeUnitsForBumpSeed(bump)
	if _, tokenBump, err := revdist.Derive2ZTokenPDA(w.cfg.Revdist.ProgramID(), distributionKey); err == nil {
		computeUnits += revdist.ComputeUnitsForBumpSeed(tokenBump)
	}

	hasZeroDebt := rewardsDistribution.HasZeroDebt()
	if rewardsDistribution.IsDebtCalculationFinalized() || hasZeroDebt {
		// A zero-debt epoch never went through finalize; do it now so
		// rewards can be distributed.
		if hasZeroDebt && !rewardsDistribution.IsDebtCalculationFinalized() {
			w.log.Warn("Finalizing zero-debt distribution", "rewardsEpoch", rewardsEpoch)
			finalizeDebtIx, err := revdist.BuildFinalizeDistributionDebtInstruction(
				w.cfg.Revdist.ProgramID(), walletKey, rewardsEpoch)
			if err != nil {
				return err
			}
			instructions = append(instructions, finalizeDebtIx)
			computeUnits += revdist.ComputeUnitsFinalizeDebt
		}

		finalizeRewardsIx, err := revdist.BuildFinalizeDistributionRewardsInstruction(
			w.cfg.Revdist.ProgramID(), walletKey, rewardsEpoch)
		if err != nil {
			return err
		}
		instructions = append(instructions, finalizeRewardsIx)
		computeUnits += revdist.ComputeUnitsFinalizeRewards

		sweepIx, err := revdist.BuildSweepDistributionTokensInstruction(
			w.cfg.Revdist.ProgramID(), rewardsEpoch, config.SOL2ZSwapProgramID, w.cfg.FillsRegistryKey)
		if err != nil {
			return err
		}
		instructions = append(instructions, sweepIx)
		computeUnits += revdist.ComputeUnitsFinalizeRewards
	}

	instructions = append(instructions, revdist.BuildSetComputeUnitLimitInstruction(computeUnits))
	// Land the initialization with a priority fee regardless of config.
	instructions = append(instructions, revdist.BuildSetComputeUnitPriceInstruction(100_000))

	tx, err := w.cfg.SolanaWallet.NewTransaction(ctx, instructions)
	if err != nil {
		return err
	}
	outcome, err := w.cfg.SolanaWallet.SendOrSimulate(ctx, tx)
	if err != nil {
		return fmt.Errorf("initializing distribution for epoch %d: %w", nextEpoch, err)
	}
	if outcome.Executed != nil {
		w.log.Info("Distribution initialized", "dzEpoch", nextEpoch, "signature", outcome.Executed.String())
	} else if outcome.Simulated.Failed() {
		w.log.Debug("Initialize distribution simulation failed (possibly already initialized)",
			"dzEpoch", nextEpoch, "error", outcome.Simulated.Err)
	}
	return nil
}
