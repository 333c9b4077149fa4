package worker

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/near/borsh-go"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/doublezero-offchain/sdk/revdist"
	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/rewardsfetch"
)

type stubEpochs struct {
	ranges map[uint64][2]time.Time
	atTime map[int64]uint64
}

func (s *stubEpochs) TimeRange(ctx context.Context, epoch uint64) (time.Time, time.Time, error) {
	r := s.ranges[epoch]
	return r[0], r[1], nil
}

func (s *stubEpochs) AtTime(ctx context.Context, target, now time.Time) (uint64, error) {
	return s.atTime[target.Unix()], nil
}

type stubValidators struct {
	ids []string
}

func (s *stubValidators) Derive(ctx context.Context, start, end time.Time) ([]string, error) {
	return s.ids, nil
}

type stubRewards struct{}

func (s *stubRewards) FetchTotalRewards(ctx context.Context, validatorIDs []string, solanaEpoch uint64) ([]rewardsfetch.Reward, error) {
	rewards := make([]rewardsfetch.Reward, len(validatorIDs))
	for i, id := range validatorIDs {
		rewards[i] = rewardsfetch.Reward{ValidatorID: id, BlockBase: 1_000_000}
	}
	return rewards, nil
}

type recordingWriter struct {
	writes [][]byte
}

func (r *recordingWriter) WriteRecord(ctx context.Context, seeds [][]byte, payload []byte) (solana.PublicKey, error) {
	r.writes = append(r.writes, payload)
	return solana.NewWallet().PublicKey(), nil
}

func TestWaitForCalculationAllowedSatisfied(t *testing.T) {
	sender := newMockSender()
	rd := &mockRevdist{programID: solana.NewWallet().PublicKey()}
	w := newTestWorker(t, sender, rd)
	w.cfg.Solana = &stubSolanaRPC{blockTime: 200}

	dist := &revdist.Distribution{CalculationAllowedTimestamp: 100}
	require.NoError(t, w.waitForCalculationAllowed(context.Background(), 42, dist))
}

func TestWaitForCalculationAllowedTimesOut(t *testing.T) {
	sender := newMockSender()
	rd := &mockRevdist{programID: solana.NewWallet().PublicKey()}
	w := newTestWorker(t, sender, rd)
	w.cfg.Solana = &stubSolanaRPC{blockTime: 50}
	w.cfg.GraceMaxWait = time.Minute

	fakeClock := clockwork.NewFakeClock()
	w.clock = fakeClock

	done := make(chan error, 1)
	go func() {
		done <- w.waitForCalculationAllowed(context.Background(), 42, &revdist.Distribution{CalculationAllowedTimestamp: 100})
	}()

	// Advance past the max wait; the next poll iteration bails.
	fakeClock.BlockUntil(1)
	fakeClock.Advance(time.Minute)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrGracePeriodUnsatisfied)
	case <-time.After(5 * time.Second):
		t.Fatal("grace period wait did not bail")
	}
}

func TestWaitForCalculationAllowedNoTimestamp(t *testing.T) {
	sender := newMockSender()
	rd := &mockRevdist{programID: solana.NewWallet().PublicKey()}
	w := newTestWorker(t, sender, rd)

	err := w.waitForCalculationAllowed(context.Background(), 42, &revdist.Distribution{})
	require.ErrorIs(t, err, ErrGracePeriodUnsatisfied)
}

func TestJoinedSolanaEpochsExcludesSettled(t *testing.T) {
	sender := newMockSender()
	rd := &mockRevdist{
		programID: solana.NewWallet().PublicKey(),
		config:    &revdist.ProgramConfig{DebtAccountantKey: solana.NewWallet().PublicKey()},
		debts: map[uint64]*revdist.ComputedSolanaValidatorDebts{
			// The previous DZ epoch already settled Solana epoch 812.
			41: {FirstSolanaEpoch: 811, LastSolanaEpoch: 812},
		},
	}
	w := newTestWorker(t, sender, rd)

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)
	w.cfg.DZEpochs = &stubEpochs{ranges: map[uint64][2]time.Time{42: {start, end}}}
	w.cfg.SolanaEpochs = &stubEpochs{atTime: map[int64]uint64{
		start.Unix(): 812,
		end.Unix():   813,
	}}

	epochs, err := w.joinedSolanaEpochs(context.Background(), rd.config, 42)
	require.NoError(t, err)
	require.Equal(t, []uint64{813}, epochs)
}

func TestJoinedSolanaEpochsAllSettled(t *testing.T) {
	sender := newMockSender()
	rd := &mockRevdist{
		programID: solana.NewWallet().PublicKey(),
		config:    &revdist.ProgramConfig{DebtAccountantKey: solana.NewWallet().PublicKey()},
		debts: map[uint64]*revdist.ComputedSolanaValidatorDebts{
			41: {FirstSolanaEpoch: 812, LastSolanaEpoch: 812},
		},
	}
	w := newTestWorker(t, sender, rd)

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(12 * time.Hour)
	w.cfg.DZEpochs = &stubEpochs{ranges: map[uint64][2]time.Time{42: {start, end}}}
	w.cfg.SolanaEpochs = &stubEpochs{atTime: map[int64]uint64{
		start.Unix(): 812,
		end.Unix():   812,
	}}

	epochs, err := w.joinedSolanaEpochs(context.Background(), rd.config, 42)
	require.NoError(t, err)
	require.Empty(t, epochs)
}

func TestCalculateDistributionStagesDebt(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	validatorA := solana.NewWallet().PublicKey()
	validatorB := solana.NewWallet().PublicKey()

	dist := &revdist.Distribution{
		DZEpoch:                     42,
		CalculationAllowedTimestamp: 100,
		SolanaValidatorFeeParameters: revdist.SolanaValidatorFeeParameters{
			BaseBlockRewardsPct: 1_000, // 10%
		},
	}
	rd := &mockRevdist{
		programID:     programID,
		config:        &revdist.ProgramConfig{DebtAccountantKey: solana.NewWallet().PublicKey()},
		distributions: map[uint64]*revdist.Distribution{42: dist},
		debts:         map[uint64]*revdist.ComputedSolanaValidatorDebts{},
	}
	sender := newMockSender()
	w := newTestWorker(t, sender, rd)
	w.cfg.Ledger = &stubLedgerRPC{epoch: 43}
	w.cfg.Solana = &stubSolanaRPC{blockTime: 200}

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)
	w.cfg.DZEpochs = &stubEpochs{ranges: map[uint64][2]time.Time{42: {start, end}}}
	w.cfg.SolanaEpochs = &stubEpochs{
		ranges: map[uint64][2]time.Time{812: {start, end}},
		atTime: map[int64]uint64{start.Unix(): 812, end.Unix(): 812},
	}
	w.cfg.Validators = &stubValidators{ids: []string{validatorB.String(), validatorA.String()}}
	w.cfg.Rewards = &stubRewards{}
	writer := &recordingWriter{}
	w.cfg.RecordWriter = writer

	// First run creates the ledger record and stops.
	_, err := w.CalculateDistribution(context.Background(), rd.config, 42)
	require.ErrorIs(t, err, ErrRecordCreated)
	require.Len(t, writer.writes, 1)
	require.Empty(t, sender.sent)

	// Second run finds a matching record and stages the root on chain.
	rd.debts[42] = mustDecodeDebts(t, writer.writes[0])
	summary, err := w.CalculateDistribution(context.Background(), rd.config, 42)
	require.NoError(t, err)
	require.Equal(t, uint64(42), summary.DZEpoch)
	require.Equal(t, uint64(812), summary.SolanaEpoch)
	require.Equal(t, uint32(2), summary.TotalValidators)
	// 10% of 1_000_000 lamports each.
	require.Equal(t, uint64(200_000), summary.TotalDebt)
	require.Len(t, sender.sent, 1)
}

func mustDecodeDebts(t *testing.T, payload []byte) *revdist.ComputedSolanaValidatorDebts {
	t.Helper()
	var debts revdist.ComputedSolanaValidatorDebts
	require.NoError(t, borsh.Deserialize(&debts, payload))
	return &debts
}
