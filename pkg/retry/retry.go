// Package retry wraps cenkalti/backoff with the RPC error classification
// used across the settlement services. Exponential backoff starts at 1s,
// doubles up to a 10s cap, and gives up after 5 attempts.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

const (
	DefaultInitialInterval = 1 * time.Second
	DefaultMaxInterval     = 10 * time.Second
	DefaultMaxAttempts     = 5
)

// Well-known Solana RPC error codes for blocks that were skipped or are
// not present in long-term storage. Operations touching such slots resolve
// to an empty result rather than retrying.
const (
	CodeSlotSkipped                = -32007
	CodeLongTermStorageSlotSkipped = -32009
)

// Do runs op with exponential backoff until it succeeds, returns a
// permanent error, or the attempt budget is exhausted.
func Do[T any](ctx context.Context, op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = DefaultInitialInterval
	bo.Multiplier = 2
	bo.MaxInterval = DefaultMaxInterval
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(DefaultMaxAttempts),
	)
}

// Permanent marks err as non-retryable for Do.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsSlotSkipped reports whether err is one of the well-known RPC errors
// returned for a skipped slot.
func IsSlotSkipped(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Code == CodeSlotSkipped || rpcErr.Code == CodeLongTermStorageSlotSkipped
}

// IsPreflightFailure reports whether err is a transaction preflight
// (simulation) failure. Preflight failures carry program logs and are
// classified by the caller instead of retried.
func IsPreflightFailure(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	// Preflight failures surface as -32002 with simulation details attached.
	return rpcErr.Code == -32002
}
