package worker

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/doublezero-offchain/sdk/revdist"
)

// ContributorRewardsReader resolves a contributor's recipient shares.
type ContributorRewardsReader interface {
	FetchContributorRewards(ctx context.Context, serviceKey solana.PublicKey) (*revdist.ContributorRewards, error)
}

// DistributionResult summarises one rewards distribution run.
type DistributionResult struct {
	DZEpoch     uint64
	Distributed int
	Skipped     int
	Blocked     int
	Failed      int
}

// DistributeEpochRewards drives the distribution of every committed
// reward share after the rewards calculation is finalized: already
// distributed leaves are skipped via the processed bitmap, missing
// recipient token accounts are created idempotently, and each share is
// sent with an explicit compute budget.
func (w *Worker) DistributeEpochRewards(ctx context.Context, contributors ContributorRewardsReader, dzEpoch uint64) (*DistributionResult, error) {
	config, err := w.cfg.Revdist.FetchConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching program config: %w", err)
	}
	distribution, remaining, err := w.cfg.Revdist.FetchDistributionWithBitmaps(ctx, dzEpoch)
	if err != nil {
		return nil, fmt.Errorf("fetching distribution for epoch %d: %w", dzEpoch, err)
	}
	if !distribution.IsRewardsCalculationFinalized() {
		return nil, fmt.Errorf("rewards calculation for epoch %d is not finalized", dzEpoch)
	}
	if !distribution.HasSwept2ZTokens() {
		w.log.Warn("Distribution tokens not swept yet, distribution may fail", "dzEpoch", dzEpoch)
	}
	bitmap := revdist.RewardsBitmap(distribution, remaining)

	shares, err := w.cfg.Revdist.FetchRewardShares(ctx, config.RewardsAccountantKey, dzEpoch)
	if err != nil {
		return nil, fmt.Errorf("fetching reward shares for epoch %d: %w", dzEpoch, err)
	}

	result := &DistributionResult{DZEpoch: dzEpoch}
	for leafIndex, share := range shares.Rewards {
		if processed, err := revdist.IsProcessedLeaf(bitmap, leafIndex); err == nil && processed {
			result.Skipped++
			continue
		}
		if share.IsBlocked() {
			w.log.Info("Contributor blocked from distribution", "contributor", share.ContributorKey.String())
			result.Blocked++
			continue
		}
		if err := w.distributeOneShare(ctx, contributors, shares, dzEpoch, share); err != nil {
			w.log.Error("Failed to distribute reward share",
				"contributor", share.ContributorKey.String(), "dzEpoch", dzEpoch, "error", err)
			result.Failed++
			continue
		}
		result.Distributed++
	}
	w.log.Info("Rewards distribution run complete",
		"dzEpoch", dzEpoch,
		"distributed", result.Distributed,
		"skipped", result.Skipped,
		"blocked", result.Blocked,
		"failed", result.Failed)
	return result, nil
}

func (w *Worker) distributeOneShare(ctx context.Context, contributors ContributorRewardsReader, shares *revdist.ShapleyOutputStorage, dzEpoch uint64, share revdist.RewardShare) error {
	contributor, err := contributors.FetchContributorRewards(ctx, share.ContributorKey)
	if err != nil {
		return fmt.Errorf("fetching contributor rewards config: %w", err)
	}
	recipients := contributor.RecipientShares.Active()
	if len(recipients) == 0 {
		return fmt.Errorf("contributor %s has no active recipients", share.ContributorKey)
	}

	_, proof, err := shares.FindRewardProof(share.ContributorKey)
	if err != nil {
		return err
	}

	var instructions []solana.Instruction
	computeUnits := uint32(revdist.ComputeUnitsDistributeBase)
	var recipientTokenAccounts []solana.PublicKey
	for _, recipient := range recipients {
		ata, ataBump, err := solana.FindAssociatedTokenAddress(recipient.RecipientKey, w.cfg.Mint2Z)
		if err != nil {
			return fmt.Errorf("deriving recipient token account: %w", err)
		}
		recipientTokenAccounts = append(recipientTokenAccounts, ata)

		// Idempotent creation: existing accounts are a no-op on chain.
		instructions = append(instructions, buildCreateATAIdempotentInstruction(
			w.cfg.SolanaWallet.PublicKey(), recipient.RecipientKey, w.cfg.Mint2Z, ata))
		computeUnits += revdist.ComputeUnitsCreateATABase + revdist.ComputeUnitsForBumpSeed(ataBump)
		computeUnits += revdist.ComputeUnitsPerRecipient
	}

	distributeIx, err := revdist.BuildDistributeRewardsInstruction(
		w.cfg.Revdist.ProgramID(), dzEpoch, share.ContributorKey, w.cfg.Mint2Z,
		recipientTokenAccounts, share.UnitShare, share.EconomicBurnRate(), proof)
	if err != nil {
		return err
	}
	instructions = append(instructions, distributeIx)
	computeUnits += revdist.ComputeUnitsPerProofSibling * uint32(len(proof.Siblings))
	instructions = append(instructions, revdist.BuildSetComputeUnitLimitInstruction(computeUnits))

	tx, err := w.cfg.SolanaWallet.NewTransaction(ctx, instructions)
	if err != nil {
		return err
	}
	outcome, err := w.cfg.SolanaWallet.SendOrSimulate(ctx, tx)
	if err != nil {
		return err
	}
	if outcome.Executed != nil {
		w.log.Info("Reward share distributed",
			"contributor", share.ContributorKey.String(),
			"recipients", len(recipients),
			"unitShare", share.UnitShare,
			"signature", outcome.Executed.String())
	} else if outcome.Simulated.Failed() {
		return fmt.Errorf("distribute rewards simulation failed: %v", outcome.Simulated.Err)
	}
	return nil
}

// buildCreateATAIdempotentInstruction builds the associated token
// account program's create-idempotent instruction.
func buildCreateATAIdempotentInstruction(payer, owner, mint, ata solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, solana.AccountMetaSlice{
		solana.Meta(payer).SIGNER().WRITE(),
		solana.Meta(ata).WRITE(),
		solana.Meta(owner),
		solana.Meta(mint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.TokenProgramID),
	}, []byte{1}) // CreateIdempotent
}
