package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/worker"
)

func TestNotifierNoWebhookIsNoOp(t *testing.T) {
	n := New(slog.New(slog.DiscardHandler), "")
	require.NoError(t, n.PostDebtCollection(context.Background(), &worker.CollectionResults{}, false))
	require.NoError(t, n.PostFinalized(context.Background(), 1, "sig", false))
	require.NoError(t, n.PostFailure(context.Background(), 1, "stage", nil))
}

func TestPostDebtCollectionPayload(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(slog.New(slog.DiscardHandler), server.URL)
	results := &worker.CollectionResults{
		DZEpoch:          42,
		TotalValidators:  4,
		SucceededCount:   2,
		AlreadyPaidCount: 1,
		TotalDebt:        2_000_000_000,
		TotalPaid:        1_500_000_000,
	}
	require.NoError(t, n.PostDebtCollection(context.Background(), results, true))

	text, ok := received["text"].(string)
	require.True(t, ok)
	require.Contains(t, text, "DRY RUN")
	require.Contains(t, text, "DoubleZero Epoch: 42")
	require.Contains(t, text, "1.500000000 SOL")
	require.Contains(t, text, "75.00%")
}
