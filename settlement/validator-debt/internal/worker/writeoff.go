package worker

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/doublezero-offchain/sdk/revdist"
	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/metrics"
)

// maxInstructionsPerTransaction caps the batched pay/write-off
// instructions per transaction.
const maxInstructionsPerTransaction = 8

// tryWriteOffDistributionDebt traverses older distributions backwards
// from the rewards epoch and settles their unpaid leaves: pays from the
// validator's deposit when it covers the debt, otherwise writes the
// leaf off against the rewards epoch's remaining SOL debt. The local
// uncollectible tracker is a budget, never trusted as on-chain fact;
// the traversal terminates cleanly when the budget is exhausted.
func (w *Worker) tryWriteOffDistributionDebt(ctx context.Context, config *revdist.ProgramConfig, rewardsDistribution *revdist.Distribution) error {
	rewardsEpoch := rewardsDistribution.DZEpoch

	if rewardsDistribution.IsRewardsCalculationFinalized() {
		w.log.Info("Rewards already finalized, no write-offs needed", "rewardsEpoch", rewardsEpoch)
		return nil
	}
	if rewardsDistribution.HasZeroDebt() {
		w.log.Info("No debt staged on rewards epoch", "rewardsEpoch", rewardsEpoch)
		return nil
	}

	// The running budget: how much more uncollectible debt the rewards
	// distribution can still absorb.
	budget := rewardsDistribution.RemainingSOLDebt()

	// Cached deposit balances, decremented as payments are queued.
	depositBalances := make(map[solana.PublicKey]uint64)

	for epoch := rewardsEpoch; epoch+1 > w.cfg.GenesisDZEpoch; epoch-- {
		terminated, err := w.writeOffEpoch(ctx, config, epoch, rewardsEpoch, &budget, depositBalances)
		if err != nil {
			return err
		}
		if terminated {
			w.log.Warn("Terminating debt write-offs: remaining budget exhausted",
				"rewardsEpoch", rewardsEpoch, "stoppedAt", epoch)
			return nil
		}
		if epoch == 0 {
			break
		}
	}
	return nil
}

// writeOffEpoch processes one source epoch's unpaid leaves. It returns
// terminated=true when a leaf could neither be paid nor written off
// within the budget.
func (w *Worker) writeOffEpoch(ctx context.Context, config *revdist.ProgramConfig, epoch, rewardsEpoch uint64, budget *uint64, depositBalances map[solana.PublicKey]uint64) (bool, error) {
	distribution, remaining, err := w.cfg.Revdist.FetchDistributionWithBitmaps(ctx, epoch)
	if err != nil {
		// Epochs before the program's history have no distribution.
		w.log.Debug("No distribution for epoch, skipping", "epoch", epoch)
		return false, nil
	}
	if distribution.IsAllSolanaValidatorDebtProcessed() {
		return false, nil
	}
	bitmap := revdist.DebtBitmap(distribution, remaining)

	computed, err := w.cfg.Revdist.FetchValidatorDebts(ctx, config.DebtAccountantKey, epoch)
	if err != nil {
		w.log.Warn("No debt record for epoch with unprocessed debt", "epoch", epoch, "error", err)
		return false, nil
	}

	var instructions []solana.Instruction
	computeUnits := uint32(revdist.ComputeUnitsTransactionBase)
	payCount, writeOffCount := 0, 0
	writeOffEnabled := distribution.IsSolanaValidatorDebtWriteOffEnabled()
	terminated := false

	for leafIndex, leaf := range computed.Debts {
		if processed, err := revdist.IsProcessedLeaf(bitmap, leafIndex); err == nil && processed {
			continue
		}

		nodeID := leaf.NodeID
		balance, cached := depositBalances[nodeID]
		if !cached {
			balance, err = w.cfg.Revdist.ValidatorDepositBalance(ctx, nodeID)
			if err != nil {
				return false, fmt.Errorf("fetching deposit balance for %s: %w", nodeID, err)
			}
			depositBalances[nodeID] = balance
		}

		_, proof, err := computed.FindDebtProof(nodeID)
		if err != nil {
			return false, err
		}

		switch {
		case leaf.Amount == 0 || balance >= leaf.Amount:
			ix, err := revdist.BuildPaySolanaValidatorDebtInstruction(
				w.cfg.Revdist.ProgramID(), epoch, nodeID, leaf.Amount, proof)
			if err != nil {
				return false, err
			}
			instructions = append(instructions, ix)
			computeUnits += revdist.ComputeUnitsPayDebt(proof)
			depositBalances[nodeID] = balance - leaf.Amount
			payCount++

		case leaf.Amount <= *budget:
			// Enable write-off at most once per epoch traversal.
			if !writeOffEnabled && writeOffCount == 0 {
				enableIx, err := revdist.BuildEnableDebtWriteOffInstruction(
					w.cfg.Revdist.ProgramID(), w.cfg.SolanaWallet.PublicKey(), epoch)
				if err != nil {
					return false, err
				}
				instructions = append(instructions, enableIx)
				computeUnits += revdist.ComputeUnitsEnableWriteOff
				writeOffEnabled = true
			}
			ix, err := revdist.BuildWriteOffSolanaValidatorDebtInstruction(
				w.cfg.Revdist.ProgramID(), w.cfg.SolanaWallet.PublicKey(), epoch, nodeID, rewardsEpoch, leaf.Amount, proof)
			if err != nil {
				return false, err
			}
			instructions = append(instructions, ix)
			computeUnits += revdist.ComputeUnitsWriteOffDebt(proof)
			*budget -= leaf.Amount
			writeOffCount++
			w.log.Info("Writing off validator debt",
				"sourceEpoch", epoch, "rewardsEpoch", rewardsEpoch,
				"validator", nodeID.String(), "amount", leaf.Amount, "remainingBudget", *budget)
			metrics.WriteOffs.Inc()

		default:
			terminated = true
		}
		if terminated {
			break
		}
	}

	if payCount == 0 && writeOffCount == 0 {
		return terminated, nil
	}
	w.log.Info("Write-off epoch summary", "epoch", epoch, "payments", payCount, "writeOffs", writeOffCount)

	if err := w.submitBatched(ctx, instructions, computeUnits); err != nil {
		return false, fmt.Errorf("submitting write-off batch for epoch %d: %w", epoch, err)
	}
	return terminated, nil
}

// submitBatched sends the instructions in transaction-sized chunks with
// the compute budget spread per chunk.
func (w *Worker) submitBatched(ctx context.Context, instructions []solana.Instruction, totalComputeUnits uint32) error {
	if len(instructions) == 0 {
		return nil
	}
	chunks := (len(instructions) + maxInstructionsPerTransaction - 1) / maxInstructionsPerTransaction
	perChunkUnits := totalComputeUnits/uint32(chunks) + 1

	for start := 0; start < len(instructions); start += maxInstructionsPerTransaction {
		end := min(start+maxInstructionsPerTransaction, len(instructions))
		batch := append([]solana.Instruction{}, instructions[start:end]...)
		batch = append(batch, revdist.BuildSetComputeUnitLimitInstruction(perChunkUnits))

		tx, err := w.cfg.SolanaWallet.NewTransaction(ctx, batch)
		if err != nil {
			return err
		}
		outcome, err := w.cfg.SolanaWallet.SendOrSimulate(ctx, tx)
		if err != nil {
			return err
		}
		if outcome.Executed != nil {
			w.log.Info("Write-off batch landed", "instructions", end-start, "signature", outcome.Executed.String())
		} else if outcome.Simulated.Failed() {
			return fmt.Errorf("write-off batch simulation failed: %v", outcome.Simulated.Err)
		}
	}
	return nil
}
