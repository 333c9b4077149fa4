package worker

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/doublezero-offchain/sdk/revdist"
)

// FinalizeDistribution verifies every committed debt leaf against the
// staged root by simulation, then finalizes the epoch's debt
// calculation on chain.
func (w *Worker) FinalizeDistribution(ctx context.Context, dzEpoch uint64) error {
	config, err := w.cfg.Revdist.FetchConfig(ctx)
	if err != nil {
		return fmt.Errorf("fetching program config: %w", err)
	}

	computed, err := w.cfg.Revdist.FetchValidatorDebts(ctx, config.DebtAccountantKey, dzEpoch)
	if err == nil {
		for _, leaf := range computed.Debts {
			if err := w.verifyDebtLeaf(ctx, dzEpoch, computed, leaf.NodeID); err != nil {
				return err
			}
		}
	} else {
		w.log.Warn("No debt record to verify before finalizing", "dzEpoch", dzEpoch, "error", err)
	}

	ix, err := revdist.BuildFinalizeDistributionDebtInstruction(
		w.cfg.Revdist.ProgramID(), w.cfg.SolanaWallet.PublicKey(), dzEpoch)
	if err != nil {
		return fmt.Errorf("building finalize debt instruction: %w", err)
	}
	tx, err := w.cfg.SolanaWallet.NewTransaction(ctx, []solana.Instruction{ix})
	if err != nil {
		return err
	}
	outcome, err := w.cfg.SolanaWallet.SendOrSimulate(ctx, tx)
	if err != nil {
		return fmt.Errorf("finalizing distribution debt for epoch %d: %w", dzEpoch, err)
	}
	if outcome.Executed != nil {
		w.log.Info("Distribution debt finalized", "dzEpoch", dzEpoch, "signature", outcome.Executed.String())
	} else if outcome.Simulated.Failed() {
		return fmt.Errorf("finalize debt simulation failed for epoch %d: %v", dzEpoch, outcome.Simulated.Err)
	}
	return nil
}

// verifyDebtLeaf simulates the on-chain merkle verification for one
// leaf. The on-chain program is the ground truth of root validity.
func (w *Worker) verifyDebtLeaf(ctx context.Context, dzEpoch uint64, computed *revdist.ComputedSolanaValidatorDebts, nodeID solana.PublicKey) error {
	leaf, proof, err := computed.FindDebtProof(nodeID)
	if err != nil {
		return err
	}
	ix, err := revdist.BuildVerifyDebtMerkleRootInstruction(w.cfg.Revdist.ProgramID(), dzEpoch, leaf, proof)
	if err != nil {
		return fmt.Errorf("building verify instruction for %s: %w", nodeID, err)
	}
	tx, err := w.cfg.SolanaWallet.NewTransaction(ctx, []solana.Instruction{ix})
	if err != nil {
		return err
	}
	sim, err := w.cfg.SolanaWallet.Simulate(ctx, tx)
	if err != nil {
		return fmt.Errorf("simulating merkle verification for %s: %w", nodeID, err)
	}
	if sim.Failed() {
		return fmt.Errorf("merkle verification failed for node %s in epoch %d: %v", nodeID, dzEpoch, sim.Err)
	}
	return nil
}
