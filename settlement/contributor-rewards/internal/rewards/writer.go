package rewards

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/near/borsh-go"

	"github.com/malbeclabs/doublezero-offchain/pkg/retry"
	"github.com/malbeclabs/doublezero-offchain/sdk/record"
	"github.com/malbeclabs/doublezero-offchain/sdk/revdist"
	"github.com/malbeclabs/doublezero-offchain/sdk/wallet"
)

// Prefixes are the configurable record seed prefixes for the reward
// artifacts persisted on the DZ Ledger.
type Prefixes struct {
	DeviceTelemetry    string
	InternetTelemetry  string
	RewardInput        string
	ContributorRewards string
}

// DefaultPrefixes match the production record namespace.
func DefaultPrefixes() Prefixes {
	return Prefixes{
		DeviceTelemetry:    "device",
		InternetTelemetry:  "internet",
		RewardInput:        "input",
		ContributorRewards: "dz_contributor_rewards",
	}
}

// SolanaRPCClient is the Solana-side surface for the grace-period poll.
type SolanaRPCClient interface {
	GetSlot(ctx context.Context, commitment solanarpc.CommitmentType) (uint64, error)
	GetBlockTime(ctx context.Context, slot uint64) (*solana.UnixTimeSeconds, error)
}

// DistributionReader fetches the epoch's Distribution account.
type DistributionReader interface {
	FetchDistribution(ctx context.Context, epoch uint64) (*revdist.Distribution, error)
}

// Writer persists reward artifacts to the ledger and stages the merkle
// root on the revenue distribution program.
type Writer struct {
	log              *slog.Logger
	recordWriter     *record.Writer
	recordClient     *record.Client
	revdistClient    DistributionReader
	revdistProgramID solana.PublicKey
	solanaRPC        SolanaRPCClient
	wallet           *wallet.Wallet
	prefixes         Prefixes

	gracePollInterval time.Duration
	graceMaxWait      time.Duration
}

type WriterOption func(*Writer)

// WithGracePeriodPolling overrides the grace-period poll cadence.
func WithGracePeriodPolling(interval, maxWait time.Duration) WriterOption {
	return func(w *Writer) {
		w.gracePollInterval = interval
		w.graceMaxWait = maxWait
	}
}

func NewWriter(
	log *slog.Logger,
	recordWriter *record.Writer,
	recordClient *record.Client,
	revdistClient DistributionReader,
	revdistProgramID solana.PublicKey,
	solanaRPC SolanaRPCClient,
	w *wallet.Wallet,
	prefixes Prefixes,
	opts ...WriterOption,
) *Writer {
	writer := &Writer{
		log:               log,
		recordWriter:      recordWriter,
		recordClient:      recordClient,
		revdistClient:     revdistClient,
		revdistProgramID:  revdistProgramID,
		solanaRPC:         solanaRPC,
		wallet:            w,
		prefixes:          prefixes,
		gracePollInterval: time.Minute,
		graceMaxWait:      2 * time.Hour,
	}
	for _, opt := range opts {
		opt(writer)
	}
	return writer
}

// RewardsExist reports whether this epoch already has a staged shapley
// output or reward input record under the accountant's namespace.
func (w *Writer) RewardsExist(ctx context.Context, accountant solana.PublicKey, epoch uint64) (bool, error) {
	shapleySeeds := record.EpochSeeds([]byte(w.prefixes.ContributorRewards), epoch, revdist.SeedShapleyOutput)
	shapleyKey, err := record.DeriveKey(w.recordClient.ProgramID(), accountant, shapleySeeds)
	if err != nil {
		return false, fmt.Errorf("deriving shapley output record key: %w", err)
	}
	exists, err := w.recordClient.Exists(ctx, shapleyKey)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}

	inputSeeds := record.EpochSeeds([]byte(w.prefixes.RewardInput), epoch)
	inputKey, err := record.DeriveKey(w.recordClient.ProgramID(), accountant, inputSeeds)
	if err != nil {
		return false, fmt.Errorf("deriving reward input record key: %w", err)
	}
	return w.recordClient.Exists(ctx, inputKey)
}

// WriteArtifacts persists the four reward records for the epoch: device
// telemetry aggregates, internet telemetry aggregates, the reward input,
// and the shapley output storage.
func (w *Writer) WriteArtifacts(ctx context.Context, epoch uint64, deviceAggregates, internetAggregates []TelemetryAggregate, input RewardInput, storage *revdist.ShapleyOutputStorage) error {
	SortAggregates(deviceAggregates)
	SortAggregates(internetAggregates)

	deviceBytes, err := borsh.Serialize(deviceAggregates)
	if err != nil {
		return fmt.Errorf("serializing device telemetry aggregates: %w", err)
	}
	internetBytes, err := borsh.Serialize(internetAggregates)
	if err != nil {
		return fmt.Errorf("serializing internet telemetry aggregates: %w", err)
	}
	inputBytes, err := borsh.Serialize(input)
	if err != nil {
		return fmt.Errorf("serializing reward input: %w", err)
	}
	storageBytes, err := borsh.Serialize(*storage)
	if err != nil {
		return fmt.Errorf("serializing shapley output storage: %w", err)
	}

	writes := []struct {
		name    string
		seeds   [][]byte
		payload []byte
	}{
		{"device telemetry aggregates", record.EpochSeeds([]byte(w.prefixes.DeviceTelemetry), epoch), deviceBytes},
		{"internet telemetry aggregates", record.EpochSeeds([]byte(w.prefixes.InternetTelemetry), epoch), internetBytes},
		{"reward calculation input", record.EpochSeeds([]byte(w.prefixes.RewardInput), epoch), inputBytes},
		{"shapley output storage", record.EpochSeeds([]byte(w.prefixes.ContributorRewards), epoch, revdist.SeedShapleyOutput), storageBytes},
	}
	for _, write := range writes {
		key, err := w.recordWriter.WriteRecord(ctx, write.seeds, write.payload)
		if err != nil {
			return fmt.Errorf("writing %s: %w", write.name, err)
		}
		w.log.Info("Reward artifact written", "artifact", write.name, "record", key.String(), "bytes", len(write.payload))
	}
	return nil
}

// PostMerkleRoot waits out the calculation grace period and stages the
// rewards merkle root on the distribution.
func (w *Writer) PostMerkleRoot(ctx context.Context, epoch uint64, totalContributors uint32, root [32]byte) error {
	if err := w.waitForGracePeriod(ctx, epoch); err != nil {
		return err
	}

	ix, err := revdist.BuildConfigureDistributionRewardsInstruction(w.revdistProgramID, w.wallet.PublicKey(), epoch, totalContributors, root)
	if err != nil {
		return fmt.Errorf("building configure rewards instruction: %w", err)
	}
	tx, err := w.wallet.NewTransaction(ctx, []solana.Instruction{ix})
	if err != nil {
		return err
	}
	outcome, err := w.wallet.SendOrSimulate(ctx, tx)
	if err != nil {
		return fmt.Errorf("posting rewards merkle root for epoch %d: %w", epoch, err)
	}
	if outcome.Executed != nil {
		w.log.Info("Rewards merkle root posted", "epoch", epoch, "contributors", totalContributors, "signature", outcome.Executed.String())
	} else if outcome.Simulated.Failed() {
		return fmt.Errorf("configure rewards simulation failed for epoch %d: %v", epoch, outcome.Simulated.Err)
	}
	return nil
}

// ErrGracePeriodUnsatisfied wraps a grace-period timeout; the next
// scheduler tick retries.
type ErrGracePeriodUnsatisfied struct {
	Epoch   uint64
	Elapsed time.Duration
}

func (e *ErrGracePeriodUnsatisfied) Error() string {
	return fmt.Sprintf("grace period for epoch %d not satisfied after %s", e.Epoch, e.Elapsed)
}

func (w *Writer) waitForGracePeriod(ctx context.Context, epoch uint64) error {
	dist, err := w.revdistClient.FetchDistribution(ctx, epoch)
	if err != nil {
		return fmt.Errorf("distribution for epoch %d does not exist; it must be initialized by the debt path first: %w", epoch, err)
	}

	start := time.Now()
	for {
		allowed, err := w.calculationAllowed(ctx, dist)
		if err != nil {
			return err
		}
		if allowed {
			w.log.Info("Grace period satisfied", "epoch", epoch, "waited", time.Since(start).String())
			return nil
		}
		if time.Since(start) >= w.graceMaxWait {
			return &ErrGracePeriodUnsatisfied{Epoch: epoch, Elapsed: time.Since(start)}
		}
		w.log.Warn("Calculation grace period not satisfied, waiting",
			"epoch", epoch,
			"allowedTimestamp", dist.CalculationAllowedTimestamp,
			"elapsed", time.Since(start).String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.gracePollInterval):
		}
	}
}

func (w *Writer) calculationAllowed(ctx context.Context, dist *revdist.Distribution) (bool, error) {
	if dist.CalculationAllowedTimestamp == 0 {
		return false, nil
	}
	slot, err := retry.Do(ctx, func() (uint64, error) {
		return w.solanaRPC.GetSlot(ctx, solanarpc.CommitmentFinalized)
	})
	if err != nil {
		return false, fmt.Errorf("fetching current slot: %w", err)
	}
	blockTime, err := retry.Do(ctx, func() (*solana.UnixTimeSeconds, error) {
		return w.solanaRPC.GetBlockTime(ctx, slot)
	})
	if err != nil {
		return false, fmt.Errorf("fetching block time: %w", err)
	}
	if blockTime == nil {
		return false, nil
	}
	return int64(*blockTime) >= int64(dist.CalculationAllowedTimestamp), nil
}
