package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/doublezero-offchain/sdk/revdist"
	"github.com/malbeclabs/doublezero-offchain/sdk/serviceability"
	dztelemetry "github.com/malbeclabs/doublezero-offchain/sdk/telemetry"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/fetch"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/rewards"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/shapley"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "scheduler.json")

	epoch := uint64(42)
	location := "s3://bucket/mn-epoch-42-snapshot.json"
	state := &State{
		LastCheck:            time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		ConsecutiveFailures:  3,
		LastProcessedEpoch:   &epoch,
		LastSnapshotLocation: &location,
	}
	require.NoError(t, state.Save(path))

	loaded, err := LoadState(path)
	require.NoError(t, err)
	require.Equal(t, state, loaded)
}

func TestLoadStateMissingFile(t *testing.T) {
	state, err := LoadState(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	require.Equal(t, &State{}, state)
}

func TestLoadStateCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := LoadState(path)
	require.Error(t, err)
}

func TestShouldProcess(t *testing.T) {
	state := &State{}
	require.True(t, state.ShouldProcess(5))
	state.MarkSuccess(5)
	require.False(t, state.ShouldProcess(5))
	require.False(t, state.ShouldProcess(4))
	require.True(t, state.ShouldProcess(6))
}

func TestMarkFailureAndSuccess(t *testing.T) {
	state := &State{}
	state.MarkFailure()
	state.MarkFailure()
	require.Equal(t, uint64(2), state.ConsecutiveFailures)
	state.MarkSuccess(9)
	require.Zero(t, state.ConsecutiveFailures)
	require.Equal(t, uint64(9), *state.LastProcessedEpoch)
}

// --- worker fixtures ---

type stubLedger struct {
	epoch uint64
}

func (s *stubLedger) GetEpochInfo(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetEpochInfoResult, error) {
	return &solanarpc.GetEpochInfoResult{Epoch: s.epoch}, nil
}

type stubServiceability struct {
	data *serviceability.ProgramData
}

func (s *stubServiceability) GetProgramData(ctx context.Context) (*serviceability.ProgramData, error) {
	return s.data, nil
}

type stubTelemetry struct{}

func (s *stubTelemetry) GetAllSamplesForEpoch(ctx context.Context, epoch uint64) ([]*dztelemetry.DeviceLatencySamples, []*dztelemetry.InternetLatencySamples, error) {
	return nil, nil, nil
}

type mockWriter struct {
	exists       bool
	wroteEpochs  []uint64
	postedEpochs []uint64
}

func (m *mockWriter) RewardsExist(ctx context.Context, accountant solana.PublicKey, epoch uint64) (bool, error) {
	return m.exists, nil
}

func (m *mockWriter) WriteArtifacts(ctx context.Context, epoch uint64, deviceAggregates, internetAggregates []rewards.TelemetryAggregate, input rewards.RewardInput, storage *revdist.ShapleyOutputStorage) error {
	m.wroteEpochs = append(m.wroteEpochs, epoch)
	return nil
}

func (m *mockWriter) PostMerkleRoot(ctx context.Context, epoch uint64, totalContributors uint32, root [32]byte) error {
	m.postedEpochs = append(m.postedEpochs, epoch)
	return nil
}

type mockRevdist struct {
	config *revdist.ProgramConfig
}

func (m *mockRevdist) FetchConfig(ctx context.Context) (*revdist.ProgramConfig, error) {
	if m.config == nil {
		return nil, errors.New("no config")
	}
	return m.config, nil
}

func (m *mockRevdist) FetchDistribution(ctx context.Context, epoch uint64) (*revdist.Distribution, error) {
	return nil, revdist.ErrAccountNotFound
}

// minimalProgramData builds a two-operator topology that produces a
// non-empty Shapley output.
func minimalProgramData(t *testing.T) (*serviceability.ProgramData, solana.PublicKey) {
	t.Helper()
	contributorA := solana.NewWallet().PublicKey()
	contributorB := solana.NewWallet().PublicKey()
	exchangeFRA := solana.NewWallet().PublicKey()
	exchangeNYC := solana.NewWallet().PublicKey()
	deviceFRA := solana.NewWallet().PublicKey()
	deviceNYC := solana.NewWallet().PublicKey()
	linkPK := solana.NewWallet().PublicKey()

	var ownerA, ownerB [32]uint8
	copy(ownerA[:], solana.NewWallet().PublicKey().Bytes())
	copy(ownerB[:], solana.NewWallet().PublicKey().Bytes())

	return &serviceability.ProgramData{
		Contributors: []serviceability.Contributor{
			{PubKey: contributorA, Owner: ownerA, Status: serviceability.ContributorStatusActivated},
			{PubKey: contributorB, Owner: ownerB, Status: serviceability.ContributorStatusActivated},
		},
		Exchanges: []serviceability.Exchange{
			{PubKey: exchangeFRA, Code: "xfra"},
			{PubKey: exchangeNYC, Code: "xnyc"},
		},
		Devices: []serviceability.Device{
			{PubKey: deviceFRA, ContributorPubKey: contributorA, ExchangePubKey: exchangeFRA, Status: serviceability.DeviceStatusActivated, UsersCount: 1},
			{PubKey: deviceNYC, ContributorPubKey: contributorB, ExchangePubKey: exchangeNYC, Status: serviceability.DeviceStatusActivated, UsersCount: 1},
		},
		Links: []serviceability.Link{
			{PubKey: linkPK, SideAPubKey: deviceFRA, SideZPubKey: deviceNYC, Bandwidth: 10_000_000_000, Status: serviceability.LinkStatusActivated},
		},
	}, linkPK
}

func newTestWorker(t *testing.T, ledgerEpoch uint64, dryRun bool, writer *mockWriter, rd *mockRevdist) (*Worker, string) {
	t.Helper()
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "scheduler-state.json")

	store, err := storage.NewLocalStore(testLogger(), filepath.Join(dir, "snapshots"))
	require.NoError(t, err)

	data, _ := minimalProgramData(t)
	fetcher := fetch.NewFetcher(testLogger(), &stubLedger{epoch: ledgerEpoch}, &stubServiceability{data: data}, &stubTelemetry{})

	builderCfg := shapley.BuilderConfig{
		Log:                  testLogger(),
		IsMainnet:            false,
		MissingDataThreshold: 0.3,
		DefaultEdgeBandwidth: 100,
	}
	calculator := NewCalculator(testLogger(),
		shapley.NewOrchestrator(testLogger(), shapley.NewMarginalKernel(), 2),
		builderCfg,
		shapley.Settings{OperatorUptime: 0.98, ContiguityBonus: 5, DemandMultiplier: 1.2},
	)

	cfg := &Config{
		Logger:        testLogger(),
		Fetcher:       fetcher,
		Calculator:    calculator,
		Writer:        writer,
		Revdist:       rd,
		Store:         store,
		StateFile:     stateFile,
		Interval:      time.Minute,
		NetworkPrefix: "tn",
		DryRun:        dryRun,
	}
	w, err := New(cfg)
	require.NoError(t, err)
	return w, stateFile
}

func TestProcessRewardsDryRunMarksProcessed(t *testing.T) {
	writer := &mockWriter{}
	w, _ := newTestWorker(t, 43, true, writer, &mockRevdist{})
	state := &State{}

	processed, err := w.processRewards(context.Background(), state)
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, uint64(42), *state.LastProcessedEpoch)
	require.NotNil(t, state.LastSnapshotLocation)
	// No chain writes in dry-run.
	require.Empty(t, writer.wroteEpochs)
	require.Empty(t, writer.postedEpochs)
}

func TestProcessRewardsSkipsProcessedEpoch(t *testing.T) {
	w, _ := newTestWorker(t, 43, true, &mockWriter{}, &mockRevdist{})
	state := &State{}
	state.MarkSuccess(42)

	processed, err := w.processRewards(context.Background(), state)
	require.NoError(t, err)
	require.False(t, processed)
}

func TestProcessRewardsEpochZero(t *testing.T) {
	w, _ := newTestWorker(t, 0, true, &mockWriter{}, &mockRevdist{})
	processed, err := w.processRewards(context.Background(), &State{})
	require.NoError(t, err)
	require.False(t, processed)
}

func TestProcessRewardsExistingRecordsShortCircuit(t *testing.T) {
	// Restart-after-crash: records exist on chain, so the epoch is
	// marked processed without rewriting.
	writer := &mockWriter{exists: true}
	rd := &mockRevdist{config: &revdist.ProgramConfig{RewardsAccountantKey: solana.NewWallet().PublicKey()}}
	w, _ := newTestWorker(t, 43, false, writer, rd)
	state := &State{}

	processed, err := w.processRewards(context.Background(), state)
	require.NoError(t, err)
	require.False(t, processed)
	require.Equal(t, uint64(42), *state.LastProcessedEpoch)
	require.Empty(t, writer.wroteEpochs)
	require.Empty(t, writer.postedEpochs)
}

func TestRunShutsDownCleanly(t *testing.T) {
	w, stateFile := newTestWorker(t, 43, true, &mockWriter{}, &mockRevdist{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not shut down")
	}

	// State was persisted on shutdown.
	_, err := os.Stat(stateFile)
	require.NoError(t, err)
}
