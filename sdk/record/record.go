// Package record speaks the DoubleZero Ledger record program: deriving
// record addresses from seed byte-slices and reading the payload stored
// behind the version+authority header.
package record

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
)

// HeaderSize is the size of the record header: a version byte followed by
// the 32-byte authority key. Payload bytes start after it.
const HeaderSize = 33

var ErrRecordNotFound = errors.New("record not found")

// SeedString hashes the seeds with SHA-256, base58-encodes the digest, and
// truncates to the 32-character limit of create-with-seed strings.
func SeedString(seeds [][]byte) string {
	h := sha256.New()
	for _, s := range seeds {
		h.Write(s)
	}
	encoded := base58.Encode(h.Sum(nil))
	if len(encoded) > 32 {
		encoded = encoded[:32]
	}
	return encoded
}

// DeriveKey derives the record address owned by the given authority for
// the seed sequence, under the record program.
func DeriveKey(programID, authority solana.PublicKey, seeds [][]byte) (solana.PublicKey, error) {
	return solana.CreateWithSeed(authority, SeedString(seeds), programID)
}

// EpochSeeds returns the conventional `(prefix || epoch_le[, tags...])`
// seed sequence used for per-epoch records.
func EpochSeeds(prefix []byte, epoch uint64, tags ...[]byte) [][]byte {
	epochBytes := make([]byte, 8)
	for i := range epochBytes {
		epochBytes[i] = byte(epoch >> (8 * i))
	}
	seeds := [][]byte{prefix, epochBytes}
	return append(seeds, tags...)
}

// RPCClient is the read-side RPC surface for records.
type RPCClient interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error)
}

// Client reads record payloads from the ledger.
type Client struct {
	rpc       RPCClient
	programID solana.PublicKey
}

func NewClient(rpc RPCClient, programID solana.PublicKey) *Client {
	return &Client{rpc: rpc, programID: programID}
}

func (c *Client) ProgramID() solana.PublicKey {
	return c.programID
}

// GetRecordData fetches the record account and returns its payload with
// the header stripped.
func (c *Client) GetRecordData(ctx context.Context, key solana.PublicKey) ([]byte, error) {
	result, err := c.rpc.GetAccountInfo(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetching record %s: %w", key, err)
	}
	if result == nil || result.Value == nil {
		return nil, ErrRecordNotFound
	}
	data := result.Value.Data.GetBinary()
	if len(data) <= HeaderSize {
		return nil, fmt.Errorf("record %s too short: %d bytes", key, len(data))
	}
	return data[HeaderSize:], nil
}

// Exists reports whether a record account exists at the key.
func (c *Client) Exists(ctx context.Context, key solana.PublicKey) (bool, error) {
	result, err := c.rpc.GetAccountInfo(ctx, key)
	if err != nil {
		if errors.Is(err, solanarpc.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("fetching record %s: %w", key, err)
	}
	return result != nil && result.Value != nil, nil
}
