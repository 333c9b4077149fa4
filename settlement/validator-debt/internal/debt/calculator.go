// Package debt applies the distribution's fee parameters to fetched
// validator rewards, producing the committed debt record.
package debt

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/doublezero-offchain/sdk/revdist"
	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/rewardsfetch"
)

// Compute applies the per-category fee percentages and the fixed amount
// to every validator's rewards. Zero-amount leaves are excluded before
// merkleisation; leaf order follows the input reward order.
func Compute(
	blockhash solana.Hash,
	firstSolanaEpoch, lastSolanaEpoch uint64,
	fees revdist.SolanaValidatorFeeParameters,
	rewards []rewardsfetch.Reward,
) (*revdist.ComputedSolanaValidatorDebts, error) {
	computed := &revdist.ComputedSolanaValidatorDebts{
		Blockhash:        [32]byte(blockhash),
		FirstSolanaEpoch: firstSolanaEpoch,
		LastSolanaEpoch:  lastSolanaEpoch,
	}
	for _, reward := range rewards {
		nodeID, err := solana.PublicKeyFromBase58(reward.ValidatorID)
		if err != nil {
			return nil, fmt.Errorf("validator id %q is not a valid public key: %w", reward.ValidatorID, err)
		}
		amount := revdist.ApplyPct(fees.BaseBlockRewardsPct, reward.BlockBase) +
			revdist.ApplyPct(fees.PriorityBlockRewardsPct, reward.BlockPriority) +
			revdist.ApplyPct(fees.JitoTipsPct, reward.Jito) +
			revdist.ApplyPct(fees.InflationRewardsPct, reward.Inflation) +
			uint64(fees.FixedSOLAmount)
		if amount == 0 {
			continue
		}
		computed.Debts = append(computed.Debts, revdist.ComputedSolanaValidatorDebt{
			NodeID: nodeID,
			Amount: amount,
		})
	}
	return computed, nil
}
