// Package rewardsfetch assembles per-validator reward components for a
// Solana epoch: base and priority block fees from the leader schedule
// walk, inflation rewards, and jito tips.
package rewardsfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/malbeclabs/doublezero-offchain/pkg/epoch"
	"github.com/malbeclabs/doublezero-offchain/pkg/retry"
	"github.com/malbeclabs/doublezero-offchain/pkg/runner"
)

const (
	// lamportsPerSignature is the base fee burned per transaction
	// signature; the leader keeps the remainder as priority fees.
	lamportsPerSignature = 2_500

	// blockWalkConcurrency bounds the in-flight get-block calls.
	blockWalkConcurrency = 20
)

// Reward is one validator's reward components in lamports.
type Reward struct {
	ValidatorID   string
	BlockBase     uint64
	BlockPriority uint64
	Inflation     uint64
	Jito          uint64
}

// RPCClient is the Solana RPC surface of the fetcher.
type RPCClient interface {
	GetBlockWithOpts(ctx context.Context, slot uint64, opts *solanarpc.GetBlockOpts) (*solanarpc.GetBlockResult, error)
	GetVoteAccounts(ctx context.Context, opts *solanarpc.GetVoteAccountsOpts) (*solanarpc.GetVoteAccountsResult, error)
	GetInflationReward(ctx context.Context, addresses []solana.PublicKey, opts *solanarpc.GetInflationRewardOpts) ([]*solanarpc.GetInflationRewardResult, error)
}

// ScheduleProvider yields leader schedules keyed by absolute slot.
type ScheduleProvider interface {
	LeaderSchedule(ctx context.Context, epoch uint64) (map[string][]uint64, error)
}

// Fetcher gathers reward components with bounded concurrency.
type Fetcher struct {
	log      *slog.Logger
	rpc      RPCClient
	schedule ScheduleProvider
	limiter  *runner.Limiter
	http     *http.Client
	jitoURL  string
}

func New(log *slog.Logger, rpc RPCClient, schedule ScheduleProvider, limiter *runner.Limiter, jitoURL string) *Fetcher {
	if limiter == nil {
		limiter = runner.NewLimiter(0)
	}
	return &Fetcher{
		log:      log,
		rpc:      rpc,
		schedule: schedule,
		limiter:  limiter,
		http:     &http.Client{},
		jitoURL:  jitoURL,
	}
}

// FetchTotalRewards returns the complete reward breakdown per validator
// for the Solana epoch, zero-filling components that are absent.
func (f *Fetcher) FetchTotalRewards(ctx context.Context, validatorIDs []string, solanaEpoch uint64) ([]Reward, error) {
	blockFees, err := f.fetchBlockFees(ctx, validatorIDs, solanaEpoch)
	if err != nil {
		return nil, err
	}
	voteKeys, err := f.voteKeysByIdentity(ctx)
	if err != nil {
		return nil, err
	}
	inflation, err := f.fetchInflationRewards(ctx, validatorIDs, voteKeys, solanaEpoch)
	if err != nil {
		return nil, err
	}
	jito := f.fetchJitoTips(ctx, validatorIDs, voteKeys, solanaEpoch)

	rewards := make([]Reward, 0, len(validatorIDs))
	for _, id := range validatorIDs {
		fees := blockFees[id]
		rewards = append(rewards, Reward{
			ValidatorID:   id,
			BlockBase:     fees.base,
			BlockPriority: fees.priority,
			Inflation:     inflation[id],
			Jito:          jito[id],
		})
	}
	return rewards, nil
}

type blockFee struct {
	base     uint64
	priority uint64
}

// fetchBlockFees walks every leader slot of every validator in the
// epoch's schedule, classifying fee rewards into the signature-fee base
// and the priority remainder. Skipped slots contribute zero.
func (f *Fetcher) fetchBlockFees(ctx context.Context, validatorIDs []string, solanaEpoch uint64) (map[string]blockFee, error) {
	schedule, err := f.schedule.LeaderSchedule(ctx, solanaEpoch)
	if err != nil {
		return nil, err
	}

	type leaderSlot struct {
		validatorID string
		slot        uint64
	}
	var slots []leaderSlot
	for _, id := range validatorIDs {
		for _, slot := range schedule[id] {
			slots = append(slots, leaderSlot{validatorID: id, slot: slot})
		}
	}
	f.log.Info("Walking leader blocks", "validators", len(validatorIDs), "slots", len(slots))

	var mu sync.Mutex
	fees := make(map[string]blockFee, len(validatorIDs))

	rewardsFlag := true
	txDetails := solanarpc.TransactionDetailsSignatures
	_, err = runner.Map(ctx, blockWalkConcurrency, slots, func(ctx context.Context, ls leaderSlot) (struct{}, error) {
		f.limiter.Take()
		block, err := retry.Do(ctx, func() (*solanarpc.GetBlockResult, error) {
			block, err := f.rpc.GetBlockWithOpts(ctx, ls.slot, &solanarpc.GetBlockOpts{
				TransactionDetails: txDetails,
				Rewards:            &rewardsFlag,
				Commitment:         solanarpc.CommitmentFinalized,
			})
			if err != nil && retry.IsSlotSkipped(err) {
				return nil, retry.Permanent(err)
			}
			return block, err
		})
		if err != nil {
			if retry.IsSlotSkipped(err) {
				// A skipped slot produced no block and no fees.
				return struct{}{}, nil
			}
			return struct{}{}, fmt.Errorf("fetching block for slot %d: %w", ls.slot, err)
		}
		if block == nil {
			return struct{}{}, nil
		}

		signatureLamports := uint64(len(block.Signatures)) * lamportsPerSignature
		var feeLamports uint64
		for _, reward := range block.Rewards {
			if reward.RewardType == solanarpc.RewardTypeFee && reward.Lamports > 0 {
				feeLamports += uint64(reward.Lamports)
			}
		}
		var priority uint64
		if feeLamports > signatureLamports {
			priority = feeLamports - signatureLamports
		} else {
			// All fees were signature fees.
			signatureLamports = feeLamports
		}

		mu.Lock()
		entry := fees[ls.validatorID]
		entry.base += signatureLamports
		entry.priority += priority
		fees[ls.validatorID] = entry
		mu.Unlock()
		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}
	return fees, nil
}

// voteKeysByIdentity maps validator identities to their vote accounts,
// including delinquent ones so historical epochs resolve.
func (f *Fetcher) voteKeysByIdentity(ctx context.Context) (map[string]solana.PublicKey, error) {
	result, err := retry.Do(ctx, func() (*solanarpc.GetVoteAccountsResult, error) {
		return f.rpc.GetVoteAccounts(ctx, &solanarpc.GetVoteAccountsOpts{
			Commitment: solanarpc.CommitmentFinalized,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("fetching vote accounts: %w", err)
	}
	keys := make(map[string]solana.PublicKey)
	for _, account := range result.Current {
		keys[account.NodePubkey.String()] = account.VotePubkey
	}
	for _, account := range result.Delinquent {
		if _, ok := keys[account.NodePubkey.String()]; !ok {
			keys[account.NodePubkey.String()] = account.VotePubkey
		}
	}
	return keys, nil
}

// fetchInflationRewards is a single batched RPC over the validators'
// vote keys for the epoch.
func (f *Fetcher) fetchInflationRewards(ctx context.Context, validatorIDs []string, voteKeys map[string]solana.PublicKey, solanaEpoch uint64) (map[string]uint64, error) {
	var order []string
	var addresses []solana.PublicKey
	for _, id := range validatorIDs {
		voteKey, ok := voteKeys[id]
		if !ok {
			continue
		}
		order = append(order, id)
		addresses = append(addresses, voteKey)
	}
	out := make(map[string]uint64, len(order))
	if len(addresses) == 0 {
		return out, nil
	}

	results, err := retry.Do(ctx, func() ([]*solanarpc.GetInflationRewardResult, error) {
		return f.rpc.GetInflationReward(ctx, addresses, &solanarpc.GetInflationRewardOpts{
			Epoch: &solanaEpoch,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("fetching inflation rewards for epoch %d: %w", solanaEpoch, err)
	}
	for i, result := range results {
		if result != nil {
			out[order[i]] = result.Amount
		}
	}
	return out, nil
}

// jitoEpochTips is the shape of the jito validators endpoint response.
type jitoEpochTips struct {
	Epoch uint64 `json:"epoch"`
	Tips  uint64 `json:"mev_rewards"`
}

// fetchJitoTips queries the external tips endpoint per vote account.
// Failures zero-fill: tips are additive revenue, not a reason to block
// settlement.
func (f *Fetcher) fetchJitoTips(ctx context.Context, validatorIDs []string, voteKeys map[string]solana.PublicKey, solanaEpoch uint64) map[string]uint64 {
	tips := make(map[string]uint64, len(validatorIDs))
	if f.jitoURL == "" {
		return tips
	}
	for _, id := range validatorIDs {
		voteKey, ok := voteKeys[id]
		if !ok {
			continue
		}
		url := fmt.Sprintf("%s/validators/%s?epoch=%d", f.jitoURL, voteKey, solanaEpoch)
		amount, err := f.getJSON(ctx, url)
		if err != nil {
			f.log.Debug("No jito tips for validator", "validator", id, "error", err)
			continue
		}
		tips[id] = amount
	}
	return tips
}

func (f *Fetcher) getJSON(ctx context.Context, url string) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var payload jitoEpochTips
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decoding tips response: %w", err)
	}
	return payload.Tips, nil
}

var _ ScheduleProvider = (*epoch.Finder)(nil)
