package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/worker"
)

func sampleResults() *worker.CollectionResults {
	return &worker.CollectionResults{
		DZEpoch: 42,
		Results: []worker.CollectionResult{
			{ValidatorID: "validator-a", Amount: 1_500_000_000, Status: worker.PaymentSucceeded, Detail: "sig1"},
			{ValidatorID: "validator-b", Amount: 500_000_000, Status: worker.PaymentAlreadyPaid, Detail: "Merkle leaf"},
			{ValidatorID: "validator-c", Amount: 250_000_000, Status: worker.PaymentInsufficientFunds},
		},
		TotalValidators:   3,
		SucceededCount:    1,
		AlreadyPaidCount:  1,
		InsufficientCount: 1,
		TotalDebt:         2_250_000_000,
		TotalPaid:         2_000_000_000,
		AlreadyPaid:       500_000_000,
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleResults()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "dz_epoch,validator,amount_lamports,status,detail", lines[0])
	require.Contains(t, lines[1], "42,validator-a,1500000000,succeeded,sig1")
	require.Contains(t, lines[2], "already-paid")
}

func TestWriteCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epoch-42.csv")
	require.NoError(t, WriteCSVFile(path, sampleResults()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "validator-b")
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	RenderTable(&buf, sampleResults())
	out := buf.String()
	require.Contains(t, out, "42")
	require.Contains(t, out, "2.000000000 SOL")
	require.Contains(t, out, "2.250000000 SOL")
}
