package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/doublezero-offchain/pkg/epoch"
	"github.com/malbeclabs/doublezero-offchain/sdk/revdist"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/fetch"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/metrics"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/rewards"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/shapley"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/storage"
)

// failureAlertEvery controls how often a sustained failure streak is
// escalated to an error-level log for alerting.
const failureAlertEvery = 10

// RevdistClient is the revenue distribution surface the worker reads.
type RevdistClient interface {
	FetchConfig(ctx context.Context) (*revdist.ProgramConfig, error)
	FetchDistribution(ctx context.Context, epoch uint64) (*revdist.Distribution, error)
}

// RewardsWriter stages artifacts and the merkle root.
type RewardsWriter interface {
	RewardsExist(ctx context.Context, accountant solana.PublicKey, epoch uint64) (bool, error)
	WriteArtifacts(ctx context.Context, epoch uint64, deviceAggregates, internetAggregates []rewards.TelemetryAggregate, input rewards.RewardInput, storage *revdist.ShapleyOutputStorage) error
	PostMerkleRoot(ctx context.Context, epoch uint64, totalContributors uint32, root [32]byte) error
}

// SolanaEpochFinder resolves the Solana epoch and leader schedule
// overlapping a fetch window.
type SolanaEpochFinder interface {
	AtTime(ctx context.Context, target, now time.Time) (uint64, error)
	LeaderSchedule(ctx context.Context, epoch uint64) (map[string][]uint64, error)
}

// Config wires the worker's collaborators.
type Config struct {
	Logger        *slog.Logger
	Fetcher       *fetch.Fetcher
	Calculator    *Calculator
	Writer        RewardsWriter
	Revdist       RevdistClient
	EpochFinder   SolanaEpochFinder
	Store         storage.Store
	StateFile     string
	Interval      time.Duration
	NetworkPrefix string
	DryRun        bool
	Clock         clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Fetcher == nil {
		return errors.New("fetcher is required")
	}
	if c.Calculator == nil {
		return errors.New("calculator is required")
	}
	if c.Store == nil {
		return errors.New("snapshot store is required")
	}
	if c.StateFile == "" {
		return errors.New("state file is required")
	}
	if c.Interval <= 0 {
		return errors.New("interval must be greater than 0")
	}
	if !c.DryRun && (c.Writer == nil || c.Revdist == nil) {
		return errors.New("writer and revdist client are required outside dry-run")
	}
	return nil
}

// Worker is the contributor rewards scheduler: one tick loop advancing
// the epoch lifecycle.
type Worker struct {
	log   *slog.Logger
	cfg   *Config
	clock clockwork.Clock
}

func New(cfg *Config) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Worker{log: cfg.Logger, cfg: cfg, clock: clock}, nil
}

// Run drives the tick loop until the context is cancelled. Ticks that
// fire while a previous tick is still running are skipped, not queued.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting rewards worker",
		"interval", w.cfg.Interval.String(),
		"dryRun", w.cfg.DryRun,
		"stateFile", w.cfg.StateFile,
		"storage", w.cfg.Store.StorageType())

	state, err := LoadState(w.cfg.StateFile)
	if err != nil {
		return err
	}

	ticker := w.clock.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Shutting down rewards worker")
			if err := state.Save(w.cfg.StateFile); err != nil {
				w.log.Error("Failed to persist scheduler state on shutdown", "error", err)
			}
			return nil
		case <-ticker.Chan():
			w.tick(ctx, state)
		}
	}
}

func (w *Worker) tick(ctx context.Context, state *State) {
	state.MarkCheck(w.clock.Now())

	processed, err := w.processRewards(ctx, state)
	if err != nil {
		w.log.Error("Failed to process rewards", "error", err)
		state.MarkFailure()
		metrics.SchedulerFailures.Inc()
		if state.ConsecutiveFailures > 0 && state.ConsecutiveFailures%failureAlertEvery == 0 {
			w.log.Error("Worker failing repeatedly, continuing at normal interval",
				"consecutiveFailures", state.ConsecutiveFailures)
		}
	} else if processed {
		w.log.Info("Successfully processed rewards")
		metrics.SchedulerSuccesses.Inc()
	}

	if err := state.Save(w.cfg.StateFile); err != nil {
		w.log.Error("Failed to persist scheduler state", "error", err)
	}
}

func (w *Worker) processRewards(ctx context.Context, state *State) (bool, error) {
	currentEpoch, err := w.cfg.Fetcher.CurrentEpoch(ctx)
	if err != nil {
		return false, err
	}
	if currentEpoch == 0 {
		w.log.Debug("Current epoch is 0, nothing to process yet")
		return false, nil
	}
	target := currentEpoch - 1
	metrics.CurrentEpoch.Set(float64(target))

	if !state.ShouldProcess(target) {
		w.log.Debug("Epoch already processed, waiting for new epoch",
			"target", target, "lastProcessed", state.LastProcessedEpoch)
		return false, nil
	}

	w.log.Info("Processing rewards", "currentEpoch", currentEpoch, "targetEpoch", target)

	snapshot, location, err := w.createSnapshot(ctx, target)
	if err != nil {
		metrics.SnapshotFailures.Inc()
		return false, fmt.Errorf("creating snapshot for epoch %d: %w", target, err)
	}
	state.MarkSnapshotCreated(location)
	if err := state.Save(w.cfg.StateFile); err != nil {
		return false, err
	}
	metrics.SnapshotsCreated.Inc()
	metrics.LastSnapshotEpoch.Set(float64(target))

	if w.cfg.DryRun {
		w.log.Info("DRY RUN: would calculate and write rewards", "epoch", target, "snapshot", location)
		state.MarkSuccess(target)
		return true, nil
	}

	// Idempotency: an earlier run may have staged records already.
	config, err := w.cfg.Revdist.FetchConfig(ctx)
	if err != nil {
		return false, fmt.Errorf("fetching program config: %w", err)
	}
	exists, err := w.cfg.Writer.RewardsExist(ctx, config.RewardsAccountantKey, target)
	if err != nil {
		return false, err
	}
	if exists {
		w.log.Info("Rewards already exist for epoch, marking as processed", "epoch", target)
		state.MarkSuccess(target)
		return false, nil
	}

	var economicBurnRate uint32
	if dist, err := w.cfg.Revdist.FetchDistribution(ctx, target); err == nil {
		economicBurnRate = dist.CommunityBurnRate
	} else if !errors.Is(err, revdist.ErrAccountNotFound) {
		return false, fmt.Errorf("fetching distribution for epoch %d: %w", target, err)
	}

	artifacts, err := w.cfg.Calculator.Calculate(ctx, snapshot, w.loadPreviousEpochCache(ctx, target), economicBurnRate)
	if err != nil {
		return false, err
	}

	if err := w.cfg.Writer.WriteArtifacts(ctx, target, artifacts.DeviceAggregates, artifacts.InternetAggregates, artifacts.Input, artifacts.Storage); err != nil {
		return false, err
	}
	if err := w.cfg.Writer.PostMerkleRoot(ctx, target, uint32(len(artifacts.Storage.Rewards)), artifacts.MerkleRoot); err != nil {
		return false, err
	}

	state.MarkSuccess(target)
	metrics.EpochsProcessed.Inc()
	metrics.LastSuccessfulEpoch.Set(float64(target))
	w.log.Info("Rewards calculated and staged", "epoch", target)
	return true, nil
}

// loadPreviousEpochCache loads the prior epoch's snapshot, when one
// exists in storage, so circuits with excessive missing data can fall
// back to the previous epoch's mean RTT.
func (w *Worker) loadPreviousEpochCache(ctx context.Context, target uint64) *shapley.PreviousEpochCache {
	if target == 0 {
		return nil
	}
	name := fetch.Filename(w.cfg.NetworkPrefix, target-1)
	exists, err := w.cfg.Store.Exists(ctx, name)
	if err != nil || !exists {
		return nil
	}
	raw, err := w.cfg.Store.Load(ctx, name)
	if err != nil {
		w.log.Warn("Failed to load previous epoch snapshot", "name", name, "error", err)
		return nil
	}
	snapshot, err := fetch.UnmarshalSnapshot(raw)
	if err != nil {
		w.log.Warn("Failed to parse previous epoch snapshot", "name", name, "error", err)
		return nil
	}
	return w.cfg.Calculator.BuildPreviousEpochCache(snapshot)
}

func (w *Worker) createSnapshot(ctx context.Context, target uint64) (*fetch.Snapshot, string, error) {
	data, err := w.cfg.Fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, "", err
	}

	// The leader schedule is best-effort: a snapshot without it is still
	// usable for the rewards path.
	var solanaEpoch *uint64
	var leaderSchedule map[string][]uint64
	if w.cfg.EpochFinder != nil && data.StartUs > 0 {
		startTime := time.UnixMicro(int64(data.StartUs)).UTC()
		se, err := w.cfg.EpochFinder.AtTime(ctx, startTime, w.clock.Now())
		if err == nil {
			if schedule, err := w.cfg.EpochFinder.LeaderSchedule(ctx, se); err == nil {
				solanaEpoch = &se
				leaderSchedule = schedule
			} else {
				w.log.Warn("Failed to fetch leader schedule, snapshot proceeds without it", "epoch", target, "error", err)
			}
		} else {
			w.log.Warn("Failed to resolve Solana epoch for snapshot", "epoch", target, "error", err)
		}
	}

	snapshot := fetch.NewSnapshot(target, solanaEpoch, data, leaderSchedule, w.cfg.NetworkPrefix, w.clock.Now())
	payload, err := snapshot.Marshal()
	if err != nil {
		return nil, "", fmt.Errorf("serializing snapshot: %w", err)
	}
	location, err := w.cfg.Store.Save(ctx, fetch.Filename(w.cfg.NetworkPrefix, target), payload)
	if err != nil {
		return nil, "", err
	}
	metrics.SnapshotSizeBytes.Set(float64(len(payload)))
	w.log.Info("Snapshot created", "epoch", target, "location", location, "bytes", len(payload))
	return snapshot, location, nil
}

var _ SolanaEpochFinder = (*epoch.Finder)(nil)
