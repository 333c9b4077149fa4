// Package wallet builds, signs, and lands transactions for the settlement
// services. In dry-run mode every transaction is simulated instead of sent
// and the simulation logs are surfaced to the caller for classification.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

var (
	ErrNoPrivateKey = errors.New("no private key configured")
	ErrNotConfirmed = errors.New("transaction not confirmed before deadline")
)

// RPCClient is the minimal RPC surface needed to land a transaction.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error)
	SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *solanarpc.SimulateTransactionOpts) (*solanarpc.SimulateTransactionResponse, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
}

// Outcome is the result of SendOrSimulate: exactly one of Executed or
// Simulated is set.
type Outcome struct {
	// Executed holds the confirmed signature when the transaction was sent.
	Executed *solana.Signature
	// Simulated holds the simulation result in dry-run mode or on a
	// preflight failure the caller must classify.
	Simulated *Simulation
}

// Simulation carries the post-simulation state a caller needs to perform
// its own shape checks.
type Simulation struct {
	Logs []string
	Err  any
}

// Wallet signs and submits transactions for a single keypair.
type Wallet struct {
	log            *slog.Logger
	rpc            RPCClient
	signer         solana.PrivateKey
	dryRun         bool
	confirmTimeout time.Duration
}

type Option func(*Wallet)

func WithConfirmTimeout(d time.Duration) Option {
	return func(w *Wallet) { w.confirmTimeout = d }
}

func New(log *slog.Logger, rpc RPCClient, signer solana.PrivateKey, dryRun bool, opts ...Option) *Wallet {
	w := &Wallet{
		log:            log,
		rpc:            rpc,
		signer:         signer,
		dryRun:         dryRun,
		confirmTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Wallet) PublicKey() solana.PublicKey {
	return w.signer.PublicKey()
}

func (w *Wallet) DryRun() bool {
	return w.dryRun
}

// NewTransaction builds and signs a transaction over the instructions with
// a fresh blockhash and the wallet as fee payer.
func (w *Wallet) NewTransaction(ctx context.Context, instructions []solana.Instruction) (*solana.Transaction, error) {
	if w.signer == nil {
		return nil, ErrNoPrivateKey
	}
	blockhash, err := w.rpc.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(
		instructions,
		blockhash.Value.Blockhash,
		solana.TransactionPayer(w.signer.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.signer.PublicKey()) {
			return &w.signer
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}

// SendOrSimulate submits the transaction, or simulates it in dry-run mode.
// Preflight failures are not returned as errors; they come back as a
// Simulated outcome carrying the program logs so callers can classify
// instruction errors ("already paid", "insufficient funds") themselves.
func (w *Wallet) SendOrSimulate(ctx context.Context, tx *solana.Transaction) (Outcome, error) {
	if w.dryRun {
		resp, err := w.rpc.SimulateTransactionWithOpts(ctx, tx, &solanarpc.SimulateTransactionOpts{
			Commitment: solanarpc.CommitmentFinalized,
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to simulate transaction: %w", err)
		}
		return Outcome{Simulated: &Simulation{
			Logs: resp.Value.Logs,
			Err:  resp.Value.Err,
		}}, nil
	}

	sig, err := w.rpc.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{})
	if err != nil {
		// A preflight instruction error carries simulation logs; surface
		// those for classification instead of failing outright.
		if sim := preflightSimulation(err); sim != nil {
			return Outcome{Simulated: sim}, nil
		}
		return Outcome{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	if err := w.waitForConfirmation(ctx, sig); err != nil {
		return Outcome{}, err
	}
	return Outcome{Executed: &sig}, nil
}

// Simulate runs the transaction through preflight simulation without
// ever sending it, regardless of dry-run mode. Used for the
// verification-only instructions.
func (w *Wallet) Simulate(ctx context.Context, tx *solana.Transaction) (*Simulation, error) {
	resp, err := w.rpc.SimulateTransactionWithOpts(ctx, tx, &solanarpc.SimulateTransactionOpts{
		Commitment: solanarpc.CommitmentFinalized,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to simulate transaction: %w", err)
	}
	return &Simulation{Logs: resp.Value.Logs, Err: resp.Value.Err}, nil
}

func (w *Wallet) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	deadline := time.Now().Add(w.confirmTimeout)
	for time.Now().Before(deadline) {
		statuses, err := w.rpc.GetSignatureStatuses(ctx, false, sig)
		if err == nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed: %v", sig, status.Err)
			}
			switch status.ConfirmationStatus {
			case solanarpc.ConfirmationStatusConfirmed, solanarpc.ConfirmationStatusFinalized:
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %s", ErrNotConfirmed, sig)
}
