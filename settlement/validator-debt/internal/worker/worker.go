// Package worker drives the validator debt lifecycle: per-epoch debt
// calculation, the two-phase merkle commitment against the revenue
// distribution program, debt collection, and write-off compensation.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/doublezero-offchain/sdk/revdist"
	"github.com/malbeclabs/doublezero-offchain/sdk/wallet"
	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/metrics"
	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/rewardsfetch"
)

const (
	// paymentConcurrency bounds concurrent debt payment submissions.
	paymentConcurrency = 10

	// depositInitBatch is how many deposit initializations share one
	// transaction.
	depositInitBatch = 16

	// gracePollInterval is how often the calculation gate re-checks the
	// Solana block time.
	gracePollInterval = time.Minute
)

// TxSender is the wallet surface the worker drives transactions through.
type TxSender interface {
	PublicKey() solana.PublicKey
	DryRun() bool
	NewTransaction(ctx context.Context, instructions []solana.Instruction) (*solana.Transaction, error)
	SendOrSimulate(ctx context.Context, tx *solana.Transaction) (wallet.Outcome, error)
	Simulate(ctx context.Context, tx *solana.Transaction) (*wallet.Simulation, error)
}

// RevdistClient is the read surface over the revenue distribution
// program and its ledger records.
type RevdistClient interface {
	ProgramID() solana.PublicKey
	FetchConfig(ctx context.Context) (*revdist.ProgramConfig, error)
	FetchDistributionWithBitmaps(ctx context.Context, epoch uint64) (*revdist.Distribution, []byte, error)
	FetchValidatorDebts(ctx context.Context, accountant solana.PublicKey, epoch uint64) (*revdist.ComputedSolanaValidatorDebts, error)
	FetchRewardShares(ctx context.Context, accountant solana.PublicKey, epoch uint64) (*revdist.ShapleyOutputStorage, error)
	ValidatorDepositBalance(ctx context.Context, nodeID solana.PublicKey) (uint64, error)
	MissingDepositAccounts(ctx context.Context, nodeIDs []solana.PublicKey) ([]solana.PublicKey, error)
}

// LedgerRPC is the DZ Ledger surface.
type LedgerRPC interface {
	GetEpochInfo(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetEpochInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
}

// SolanaRPC is the Solana-side clock surface for the grace gate.
type SolanaRPC interface {
	GetSlot(ctx context.Context, commitment solanarpc.CommitmentType) (uint64, error)
	GetBlockTime(ctx context.Context, slot uint64) (*solana.UnixTimeSeconds, error)
}

// DebtRecordWriter persists debt records on the DZ Ledger.
type DebtRecordWriter interface {
	WriteRecord(ctx context.Context, seeds [][]byte, payload []byte) (solana.PublicKey, error)
}

// ValidatorSetDeriver yields the connected validator identities for a
// Solana epoch window.
type ValidatorSetDeriver interface {
	Derive(ctx context.Context, start, end time.Time) ([]string, error)
}

// RewardsFetcher assembles per-validator rewards for a Solana epoch.
type RewardsFetcher interface {
	FetchTotalRewards(ctx context.Context, validatorIDs []string, solanaEpoch uint64) ([]rewardsfetch.Reward, error)
}

// EpochTimeSource resolves epoch boundaries on both ledgers.
type EpochTimeSource interface {
	TimeRange(ctx context.Context, epoch uint64) (time.Time, time.Time, error)
	AtTime(ctx context.Context, target, now time.Time) (uint64, error)
}

// Config wires the worker.
type Config struct {
	Logger          *slog.Logger
	SolanaWallet    TxSender
	LedgerWallet    TxSender
	Revdist         RevdistClient
	Ledger          LedgerRPC
	Solana          SolanaRPC
	RecordWriter    DebtRecordWriter
	Validators      ValidatorSetDeriver
	Rewards         RewardsFetcher
	DZEpochs        EpochTimeSource
	SolanaEpochs    EpochTimeSource
	Interval        time.Duration
	GraceMaxWait    time.Duration
	OverridesPath   string
	GenesisDZEpoch  uint64
	Mint2Z          solana.PublicKey
	FillsRegistryKey solana.PublicKey
	Notifier        Notifier
	CollectionSink  CollectionSink
	Force           bool
	Clock           clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.SolanaWallet == nil || c.LedgerWallet == nil {
		return errors.New("wallets are required")
	}
	if c.Revdist == nil {
		return errors.New("revdist client is required")
	}
	if c.Ledger == nil || c.Solana == nil {
		return errors.New("rpc clients are required")
	}
	if c.Interval <= 0 {
		return errors.New("interval must be greater than 0")
	}
	return nil
}

// Worker runs the debt lifecycle loop.
type Worker struct {
	log   *slog.Logger
	cfg   *Config
	clock clockwork.Clock
	pause PauseObserver
}

func New(cfg *Config) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.GraceMaxWait <= 0 {
		cfg.GraceMaxWait = 2 * time.Hour
	}
	return &Worker{log: cfg.Logger, cfg: cfg, clock: clock}, nil
}

// Run drives the tick loop until cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting validator debt worker",
		"interval", w.cfg.Interval.String(),
		"dryRun", w.cfg.SolanaWallet.DryRun())

	ticker := w.clock.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Shutting down validator debt worker")
			return nil
		case <-ticker.Chan():
			if err := w.tick(ctx); err != nil {
				w.log.Error("Debt worker tick failed", "error", err)
				metrics.SchedulerFailures.Inc()
			} else {
				metrics.SchedulerSuccesses.Inc()
			}
		}
	}
}

func (w *Worker) tick(ctx context.Context) error {
	config, err := w.cfg.Revdist.FetchConfig(ctx)
	if err != nil {
		return fmt.Errorf("fetching program config: %w", err)
	}

	switch w.pause.Observe(config.IsPaused()) {
	case PauseEntered:
		w.log.Warn("Revenue distribution program is paused, skipping ticks until it resumes")
		return nil
	case PauseExited:
		w.log.Info("Revenue distribution program resumed")
	case PauseUnchanged:
		if config.IsPaused() {
			return nil
		}
	}

	if err := w.TryInitializeDistribution(ctx, config); err != nil {
		return err
	}

	targetEpoch := config.NextCompletedDZEpoch
	if targetEpoch == 0 {
		w.log.Debug("No completed DZ epoch to process yet")
		return nil
	}

	summary, err := w.CalculateDistribution(ctx, config, targetEpoch)
	switch {
	case err == nil:
		w.log.Info("Debt calculation staged",
			"epoch", summary.DZEpoch,
			"solanaEpoch", summary.SolanaEpoch,
			"totalDebt", summary.TotalDebt,
			"validators", summary.TotalValidators)
	case errors.Is(err, ErrAlreadyFinalized) || errors.Is(err, ErrRecordCreated):
		w.log.Info("Debt calculation idle", "epoch", targetEpoch, "reason", err)
	default:
		return err
	}

	return w.driveRecentEpochs(ctx, targetEpoch)
}
