// Package epoch resolves Solana epoch boundaries to slots and wall-clock
// times, and fetches leader schedules keyed by absolute slot.
package epoch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/malbeclabs/doublezero-offchain/pkg/retry"
)

const (
	// SlotsPerEpoch is fixed on mainnet-beta and testnet.
	SlotsPerEpoch = 432_000

	// ApproximateSlotDuration is the nominal slot time used to map wall
	// clock instants onto slots.
	ApproximateSlotDuration = 400 * time.Millisecond

	// maxEpochLookback bounds how far behind the current epoch a target
	// epoch may be for slot arithmetic to stay reliable.
	maxEpochLookback = 5

	// blockTimeProbeSlots bounds the walk away from a skipped boundary
	// slot when resolving block times.
	blockTimeProbeSlots = 32
)

type RPCClient interface {
	GetEpochInfo(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetEpochInfoResult, error)
	GetBlockTime(ctx context.Context, slot uint64) (*solana.UnixTimeSeconds, error)
	GetLeaderScheduleWithOpts(ctx context.Context, opts *solanarpc.GetLeaderScheduleOpts) (solanarpc.GetLeaderScheduleResult, error)
}

// Finder resolves epoch numbers to slot ranges, time ranges, and leader
// schedules against a single RPC endpoint.
type Finder struct {
	log    *slog.Logger
	client RPCClient
}

func NewFinder(log *slog.Logger, client RPCClient) *Finder {
	return &Finder{log: log, client: client}
}

// FirstSlot returns the first absolute slot of the given epoch, derived
// from the current epoch info. Epochs maxEpochLookback or more behind
// the tip are rejected.
func (f *Finder) FirstSlot(ctx context.Context, epoch uint64) (uint64, error) {
	info, err := retry.Do(ctx, func() (*solanarpc.GetEpochInfoResult, error) {
		return f.client.GetEpochInfo(ctx, solanarpc.CommitmentFinalized)
	})
	if err != nil {
		return 0, fmt.Errorf("fetching epoch info: %w", err)
	}
	if epoch > info.Epoch {
		return 0, fmt.Errorf("epoch %d is in the future (current %d)", epoch, info.Epoch)
	}
	diff := info.Epoch - epoch
	if diff >= maxEpochLookback {
		return 0, fmt.Errorf("epoch %d is %d epochs behind current %d (max %d)", epoch, diff, info.Epoch, maxEpochLookback)
	}
	firstSlotCurrent := info.AbsoluteSlot - info.SlotIndex
	return firstSlotCurrent - info.SlotsInEpoch*diff, nil
}

// TimeRange returns the block times of the first and last slots of the
// epoch. Skipped boundary slots are resolved by probing neighbouring
// slots inward.
func (f *Finder) TimeRange(ctx context.Context, epoch uint64) (time.Time, time.Time, error) {
	startSlot := epoch * SlotsPerEpoch
	endSlot := startSlot + SlotsPerEpoch - 1

	start, err := f.blockTimeNear(ctx, startSlot, 1)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("resolving epoch %d start time: %w", epoch, err)
	}
	end, err := f.blockTimeNear(ctx, endSlot, -1)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("resolving epoch %d end time: %w", epoch, err)
	}
	return start, end, nil
}

// blockTimeNear fetches the block time at slot, walking in steps of
// direction when the slot was skipped.
func (f *Finder) blockTimeNear(ctx context.Context, slot uint64, direction int64) (time.Time, error) {
	for probe := 0; probe < blockTimeProbeSlots; probe++ {
		candidate := slot + uint64(int64(probe)*direction)
		ts, err := retry.Do(ctx, func() (*solana.UnixTimeSeconds, error) {
			ts, err := f.client.GetBlockTime(ctx, candidate)
			if err != nil && retry.IsSlotSkipped(err) {
				return nil, retry.Permanent(err)
			}
			return ts, err
		})
		if err != nil {
			if retry.IsSlotSkipped(err) {
				f.log.Debug("Slot skipped while resolving block time, probing neighbour", "slot", candidate)
				continue
			}
			return time.Time{}, fmt.Errorf("fetching block time for slot %d: %w", candidate, err)
		}
		if ts == nil {
			continue
		}
		return time.Unix(int64(*ts), 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("no block time within %d slots of slot %d", blockTimeProbeSlots, slot)
}

// AtTime approximates the epoch containing the given instant using the
// nominal slot duration. The target must not be in the future.
func (f *Finder) AtTime(ctx context.Context, target time.Time, now time.Time) (uint64, error) {
	if target.After(now) {
		return 0, fmt.Errorf("target time %v is in the future", target)
	}
	info, err := retry.Do(ctx, func() (*solanarpc.GetEpochInfoResult, error) {
		return f.client.GetEpochInfo(ctx, solanarpc.CommitmentFinalized)
	})
	if err != nil {
		return 0, fmt.Errorf("fetching epoch info: %w", err)
	}
	slotsAgo := uint64(now.Sub(target) / ApproximateSlotDuration)
	if slotsAgo > info.AbsoluteSlot {
		return 0, fmt.Errorf("target time %v is before genesis", target)
	}
	return (info.AbsoluteSlot - slotsAgo) / info.SlotsInEpoch, nil
}

// LeaderSchedule fetches the leader schedule for the epoch containing
// firstSlot and rebases the per-validator slot indexes to absolute slots.
func (f *Finder) LeaderSchedule(ctx context.Context, epoch uint64) (map[string][]uint64, error) {
	firstSlot, err := f.FirstSlot(ctx, epoch)
	if err != nil {
		return nil, err
	}
	schedule, err := retry.Do(ctx, func() (solanarpc.GetLeaderScheduleResult, error) {
		return f.client.GetLeaderScheduleWithOpts(ctx, &solanarpc.GetLeaderScheduleOpts{
			Epoch: &firstSlot,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("fetching leader schedule for epoch %d: %w", epoch, err)
	}
	out := make(map[string][]uint64, len(schedule))
	for identity, indexes := range schedule {
		slots := make([]uint64, len(indexes))
		for i, idx := range indexes {
			slots[i] = firstSlot + idx
		}
		out[identity.String()] = slots
	}
	return out, nil
}
