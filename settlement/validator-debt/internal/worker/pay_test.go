package worker

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/doublezero-offchain/sdk/revdist"
	"github.com/malbeclabs/doublezero-offchain/sdk/wallet"
)

func debtsFixture(amounts ...uint64) *revdist.ComputedSolanaValidatorDebts {
	computed := &revdist.ComputedSolanaValidatorDebts{
		Blockhash:        [32]byte{1},
		FirstSolanaEpoch: 812,
		LastSolanaEpoch:  812,
	}
	for _, amount := range amounts {
		computed.Debts = append(computed.Debts, revdist.ComputedSolanaValidatorDebt{
			NodeID: solana.NewWallet().PublicKey(),
			Amount: amount,
		})
	}
	return computed
}

func simulatedOutcome(logs []string, failed bool) wallet.Outcome {
	sim := &wallet.Simulation{Logs: logs}
	if failed {
		sim.Err = map[string]any{"InstructionError": []any{0, "Custom"}}
	}
	return wallet.Outcome{Simulated: sim}
}

func paymentLogs(line4 string) []string {
	return []string{
		"Program dzrev invoke [1]",
		"Program log: Instruction: PaySolanaValidatorDebt",
		"Program log: node id",
		"Program log: amount",
		line4,
	}
}

func TestPaySingleDebtAlreadyPaidClassification(t *testing.T) {
	computed := debtsFixture(1_000, 2_000)
	sender := newMockSender()
	sender.outcome = func(tx *solana.Transaction) (wallet.Outcome, error) {
		return simulatedOutcome(paymentLogs("Program log: Merkle leaf already processed"), true), nil
	}
	rd := &mockRevdist{programID: solana.NewWallet().PublicKey()}
	w := newTestWorker(t, sender, rd)

	result, err := w.paySingleDebt(context.Background(), 42, computed, computed.Debts[0])
	require.NoError(t, err)
	require.Equal(t, PaymentAlreadyPaid, result.Status)
	require.Contains(t, result.Detail, "Merkle leaf")
}

func TestPaySingleDebtInsufficientFundsClassification(t *testing.T) {
	computed := debtsFixture(1_000)
	sender := newMockSender()
	sender.outcome = func(tx *solana.Transaction) (wallet.Outcome, error) {
		return simulatedOutcome(paymentLogs("Program log: Insufficient funds in deposit"), true), nil
	}
	rd := &mockRevdist{programID: solana.NewWallet().PublicKey()}
	w := newTestWorker(t, sender, rd)

	result, err := w.paySingleDebt(context.Background(), 42, computed, computed.Debts[0])
	require.NoError(t, err)
	require.Equal(t, PaymentInsufficientFunds, result.Status)
}

func TestPaySingleDebtExecuted(t *testing.T) {
	computed := debtsFixture(1_000)
	sender := newMockSender()
	rd := &mockRevdist{programID: solana.NewWallet().PublicKey()}
	w := newTestWorker(t, sender, rd)

	result, err := w.paySingleDebt(context.Background(), 42, computed, computed.Debts[0])
	require.NoError(t, err)
	require.Equal(t, PaymentSucceeded, result.Status)
	require.Len(t, sender.sent, 1)
}

func TestPayEpochDebtSkipsProcessedLeaves(t *testing.T) {
	// Eight leaves; leaf index 7's bitmap bit is set. The driver
	// records it already paid without submitting, and continues with
	// the rest.
	computed := debtsFixture(1, 2, 3, 4, 5, 6, 7, 8)
	programID := solana.NewWallet().PublicKey()

	rd := &mockRevdist{
		programID: programID,
		config:    &revdist.ProgramConfig{DebtAccountantKey: solana.NewWallet().PublicKey()},
		distributions: map[uint64]*revdist.Distribution{
			42: {
				DZEpoch:                                42,
				TotalSolanaValidators:                  8,
				ProcessedSolanaValidatorDebtStartIndex: 0,
				ProcessedSolanaValidatorDebtEndIndex:   1,
			},
		},
		bitmaps: map[uint64][]byte{42: {0b1000_0000}},
		debts:   map[uint64]*revdist.ComputedSolanaValidatorDebts{42: computed},
	}
	sender := newMockSender()
	w := newTestWorker(t, sender, rd)

	results, err := w.PayEpochDebt(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, 8, results.TotalValidators)
	require.Equal(t, 1, results.AlreadyPaidCount)
	require.Equal(t, 7, results.SucceededCount)
	// Only seven payments were actually submitted.
	require.Len(t, sender.sent, 7)

	for _, result := range results.Results {
		if result.Status == PaymentAlreadyPaid {
			require.Equal(t, computed.Debts[7].NodeID.String(), result.ValidatorID)
		}
	}
}

func TestPayEpochDebtHonoursOverrides(t *testing.T) {
	computed := debtsFixture(100, 200)
	programID := solana.NewWallet().PublicKey()
	rd := &mockRevdist{
		programID: programID,
		config:    &revdist.ProgramConfig{DebtAccountantKey: solana.NewWallet().PublicKey()},
		distributions: map[uint64]*revdist.Distribution{
			42: {DZEpoch: 42, TotalSolanaValidators: 2},
		},
		debts: map[uint64]*revdist.ComputedSolanaValidatorDebts{42: computed},
	}
	sender := newMockSender()
	w := newTestWorker(t, sender, rd)

	// Exclude the first validator for this epoch.
	overridesPath := w.cfg.OverridesPath
	writeOverrides(t, overridesPath, computed.Debts[0].NodeID.String(), 42)

	results, err := w.PayEpochDebt(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, 1, results.TotalValidators)
	require.Equal(t, computed.Debts[1].NodeID.String(), results.Results[0].ValidatorID)
}

func writeOverrides(t *testing.T, path, nodeID string, epoch uint64) {
	t.Helper()
	content := fmt.Sprintf("%s,%d\n", nodeID, epoch)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
