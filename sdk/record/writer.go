package record

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/malbeclabs/doublezero-offchain/pkg/runner"
	"github.com/malbeclabs/doublezero-offchain/sdk/wallet"
)

// WriterRPCClient extends the read surface with rent queries.
type WriterRPCClient interface {
	RPCClient
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment solanarpc.CommitmentType) (uint64, error)
}

// Writer creates records via the three-phase protocol: reserve an account
// of the exact serialized length, write the payload in chunks, after which
// the record is readable at its derived key.
type Writer struct {
	log       *slog.Logger
	rpc       WriterRPCClient
	wallet    *wallet.Wallet
	programID solana.PublicKey
	limiter   *runner.Limiter
}

func NewWriter(log *slog.Logger, rpc WriterRPCClient, w *wallet.Wallet, programID solana.PublicKey, limiter *runner.Limiter) *Writer {
	if limiter == nil {
		limiter = runner.NewLimiter(0)
	}
	return &Writer{
		log:       log,
		rpc:       rpc,
		wallet:    w,
		programID: programID,
		limiter:   limiter,
	}
}

// WriteRecord reserves and fills a record for the seed sequence. It is the
// caller's responsibility to check for an existing record first; writing
// over a live record fails at the reserve step.
func (w *Writer) WriteRecord(ctx context.Context, seeds [][]byte, payload []byte) (solana.PublicKey, error) {
	authority := w.wallet.PublicKey()
	key, err := DeriveKey(w.programID, authority, seeds)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("deriving record key: %w", err)
	}

	rent, err := w.rpc.GetMinimumBalanceForRentExemption(ctx, uint64(HeaderSize+len(payload)), solanarpc.CommitmentFinalized)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("fetching rent exemption: %w", err)
	}

	reserveIxs, err := BuildReserveInstructions(w.programID, authority, key, seeds, len(payload), rent)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if err := w.submit(ctx, reserveIxs, "reserve"); err != nil {
		return solana.PublicKey{}, fmt.Errorf("reserving record %s: %w", key, err)
	}

	for offset := 0; offset < len(payload); offset += MaxWriteChunk {
		end := min(offset+MaxWriteChunk, len(payload))
		writeIx, err := BuildWriteInstruction(w.programID, authority, key, uint64(offset), payload[offset:end])
		if err != nil {
			return solana.PublicKey{}, err
		}
		if err := w.submit(ctx, []solana.Instruction{writeIx}, "write"); err != nil {
			return solana.PublicKey{}, fmt.Errorf("writing record %s chunk at %d: %w", key, offset, err)
		}
	}

	w.log.Info("Record written", "key", key.String(), "bytes", len(payload), "chunks", (len(payload)+MaxWriteChunk-1)/MaxWriteChunk)
	return key, nil
}

// CloseRecord closes the record for the seed sequence, refunding rent to
// the wallet.
func (w *Writer) CloseRecord(ctx context.Context, seeds [][]byte) error {
	authority := w.wallet.PublicKey()
	key, err := DeriveKey(w.programID, authority, seeds)
	if err != nil {
		return fmt.Errorf("deriving record key: %w", err)
	}
	closeIx, err := BuildCloseInstruction(w.programID, authority, key, authority)
	if err != nil {
		return err
	}
	if err := w.submit(ctx, []solana.Instruction{closeIx}, "close"); err != nil {
		return fmt.Errorf("closing record %s: %w", key, err)
	}
	return nil
}

func (w *Writer) submit(ctx context.Context, instructions []solana.Instruction, stage string) error {
	w.limiter.Take()
	tx, err := w.wallet.NewTransaction(ctx, instructions)
	if err != nil {
		return err
	}
	outcome, err := w.wallet.SendOrSimulate(ctx, tx)
	if err != nil {
		return err
	}
	if outcome.Simulated != nil {
		if outcome.Simulated.Failed() {
			return fmt.Errorf("record %s instruction failed in simulation: %v", stage, outcome.Simulated.Err)
		}
		w.log.Info("DRY RUN: record instruction simulated", "stage", stage)
	}
	return nil
}
