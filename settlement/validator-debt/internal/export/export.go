// Package export renders debt collection results for operators: a CSV
// file per epoch and a terminal table.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/worker"
)

// WriteCSV writes one epoch's collection results as CSV.
func WriteCSV(out io.Writer, results *worker.CollectionResults) error {
	writer := csv.NewWriter(out)
	if err := writer.Write([]string{"dz_epoch", "validator", "amount_lamports", "status", "detail"}); err != nil {
		return err
	}
	for _, result := range results.Results {
		row := []string{
			strconv.FormatUint(results.DZEpoch, 10),
			result.ValidatorID,
			strconv.FormatUint(result.Amount, 10),
			string(result.Status),
			result.Detail,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteCSVFile writes the epoch results to a file path.
func WriteCSVFile(path string, results *worker.CollectionResults) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file %s: %w", path, err)
	}
	defer file.Close()
	return WriteCSV(file, results)
}

// RenderTable renders the epoch summary as an operator-facing table.
func RenderTable(out io.Writer, results *worker.CollectionResults) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{
		"DZ Epoch", "Total Paid", "Outstanding", "Total Debt",
		"Validators", "Succeeded", "Already Paid", "Insufficient Funds",
	})
	table.Append([]string{
		strconv.FormatUint(results.DZEpoch, 10),
		formatSOL(results.TotalPaid),
		formatSOL(results.TotalDebt - results.TotalPaid),
		formatSOL(results.TotalDebt),
		strconv.Itoa(results.TotalValidators),
		strconv.Itoa(results.SucceededCount),
		strconv.Itoa(results.AlreadyPaidCount),
		strconv.Itoa(results.InsufficientCount),
	})
	table.Render()
}

func formatSOL(lamports uint64) string {
	return fmt.Sprintf("%.9f SOL", float64(lamports)*1e-9)
}
