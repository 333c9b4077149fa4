package wallet

import (
	"context"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/require"
)

type mockRPC struct {
	sendErr     error
	sentCount   int
	simulated   int
	simLogs     []string
	blockhash   solana.Hash
	statusCalls int
}

func (m *mockRPC) GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error) {
	return &solanarpc.GetLatestBlockhashResult{
		Value: &solanarpc.LatestBlockhashResult{Blockhash: m.blockhash},
	}, nil
}

func (m *mockRPC) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error) {
	m.sentCount++
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	return solana.Signature{1}, nil
}

func (m *mockRPC) SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *solanarpc.SimulateTransactionOpts) (*solanarpc.SimulateTransactionResponse, error) {
	m.simulated++
	return &solanarpc.SimulateTransactionResponse{
		Value: &solanarpc.SimulateTransactionResult{Logs: m.simLogs},
	}, nil
}

func (m *mockRPC) GetSignatureStatuses(ctx context.Context, search bool, sigs ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error) {
	m.statusCalls++
	return &solanarpc.GetSignatureStatusesResult{
		Value: []*solanarpc.SignatureStatusesResult{
			{ConfirmationStatus: solanarpc.ConfirmationStatusFinalized},
		},
	}, nil
}

func testTransaction(t *testing.T, w *Wallet) *solana.Transaction {
	t.Helper()
	ix := solana.NewInstruction(solana.MemoProgramID, solana.AccountMetaSlice{
		solana.Meta(w.PublicKey()).SIGNER(),
	}, []byte("hello"))
	tx, err := w.NewTransaction(context.Background(), []solana.Instruction{ix})
	require.NoError(t, err)
	return tx
}

func newTestWallet(rpc RPCClient, dryRun bool) *Wallet {
	signer := solana.NewWallet().PrivateKey
	return New(slog.New(slog.DiscardHandler), rpc, signer, dryRun)
}

func TestSendOrSimulateExecutes(t *testing.T) {
	rpc := &mockRPC{}
	w := newTestWallet(rpc, false)
	outcome, err := w.SendOrSimulate(context.Background(), testTransaction(t, w))
	require.NoError(t, err)
	require.NotNil(t, outcome.Executed)
	require.Nil(t, outcome.Simulated)
	require.Equal(t, 1, rpc.sentCount)
}

func TestSendOrSimulateDryRun(t *testing.T) {
	rpc := &mockRPC{simLogs: []string{"Program log: ok"}}
	w := newTestWallet(rpc, true)
	outcome, err := w.SendOrSimulate(context.Background(), testTransaction(t, w))
	require.NoError(t, err)
	require.Nil(t, outcome.Executed)
	require.NotNil(t, outcome.Simulated)
	require.Equal(t, []string{"Program log: ok"}, outcome.Simulated.Logs)
	require.Zero(t, rpc.sentCount)
}

func TestSendOrSimulatePreflightFailureSurfacesLogs(t *testing.T) {
	rpc := &mockRPC{
		sendErr: &jsonrpc.RPCError{
			Code:    preflightFailureCode,
			Message: "Transaction simulation failed",
			Data: map[string]any{
				"err": map[string]any{"InstructionError": []any{0.0, "Custom"}},
				"logs": []any{
					"Program dzrev invoke [1]",
					"Program log: Instruction: PaySolanaValidatorDebt",
					"Program log: node",
					"Program log: amount",
					"Program log: Merkle leaf already processed",
				},
			},
		},
	}
	w := newTestWallet(rpc, false)
	outcome, err := w.SendOrSimulate(context.Background(), testTransaction(t, w))
	require.NoError(t, err)
	require.NotNil(t, outcome.Simulated)
	require.True(t, outcome.Simulated.Failed())
	require.Contains(t, outcome.Simulated.Log(4), "Merkle leaf")
}

func TestSendOrSimulateOtherErrorPropagates(t *testing.T) {
	rpc := &mockRPC{sendErr: &jsonrpc.RPCError{Code: -32005, Message: "node is behind"}}
	w := newTestWallet(rpc, false)
	_, err := w.SendOrSimulate(context.Background(), testTransaction(t, w))
	require.Error(t, err)
}

func TestSimulationLogOutOfRange(t *testing.T) {
	sim := &Simulation{Logs: []string{"a"}}
	require.Equal(t, "a", sim.Log(0))
	require.Equal(t, "", sim.Log(4))
	var nilSim *Simulation
	require.Equal(t, "", nilSim.Log(0))
	require.False(t, nilSim.Failed())
}
