package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	got, err := Do(context.Background(), func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, 3, attempts)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), func() (int, error) {
		attempts++
		return 0, errors.New("always failing")
	})
	require.Error(t, err)
	require.Equal(t, DefaultMaxAttempts, attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	attempts := 0
	sentinel := errors.New("bad request")
	_, err := Do(context.Background(), func() (int, error) {
		attempts++
		return 0, Permanent(sentinel)
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, attempts)
}

func TestIsSlotSkipped(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"slot skipped", &jsonrpc.RPCError{Code: CodeSlotSkipped}, true},
		{"long term storage", &jsonrpc.RPCError{Code: CodeLongTermStorageSlotSkipped}, true},
		{"wrapped", fmt.Errorf("fetching block: %w", &jsonrpc.RPCError{Code: CodeSlotSkipped}), true},
		{"other rpc error", &jsonrpc.RPCError{Code: -32602}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsSlotSkipped(tt.err))
		})
	}
}

func TestIsPreflightFailure(t *testing.T) {
	require.True(t, IsPreflightFailure(&jsonrpc.RPCError{Code: -32002}))
	require.False(t, IsPreflightFailure(&jsonrpc.RPCError{Code: CodeSlotSkipped}))
	require.False(t, IsPreflightFailure(errors.New("boom")))
}
