// Package notify posts epoch-level settlement summaries to Slack.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/worker"
)

// Notifier posts compact settlement summaries to a Slack webhook. A
// notifier with no webhook URL is a no-op.
type Notifier struct {
	log        *slog.Logger
	webhookURL string
}

func New(log *slog.Logger, webhookURL string) *Notifier {
	return &Notifier{log: log, webhookURL: webhookURL}
}

// PostDebtCollection posts one epoch's collection summary.
func (n *Notifier) PostDebtCollection(ctx context.Context, results *worker.CollectionResults, dryRun bool) error {
	if n.webhookURL == "" {
		return nil
	}
	header := "Debt Collected"
	if dryRun {
		header = "DRY RUN Debt Collected DRY RUN"
	}
	percentage := 0.0
	if results.TotalValidators > 0 {
		percentage = float64(results.AlreadyPaidCount+results.SucceededCount) / float64(results.TotalValidators) * 100
	}
	text := fmt.Sprintf(
		"*%s*\nDoubleZero Epoch: %d\nTotal Paid: %.9f SOL\nOutstanding: %.9f SOL\nTotal Debt: %.9f SOL\nPercentage Paid: %.2f%%\nAttempted: %d\nSucceeded: %d\nInsufficient Funds: %d\nAlready Paid: %d",
		header,
		results.DZEpoch,
		float64(results.TotalPaid)*1e-9,
		float64(results.TotalDebt-results.TotalPaid)*1e-9,
		float64(results.TotalDebt)*1e-9,
		percentage,
		results.TotalValidators,
		results.SucceededCount,
		results.InsufficientCount,
		results.AlreadyPaidCount,
	)
	return n.post(ctx, text)
}

// PostFinalized posts a finalize notification for an epoch.
func (n *Notifier) PostFinalized(ctx context.Context, dzEpoch uint64, signature string, dryRun bool) error {
	if n.webhookURL == "" {
		return nil
	}
	header := "Distribution Finalized"
	if dryRun {
		header = "DRY RUN Distribution Finalized DRY RUN"
	}
	return n.post(ctx, fmt.Sprintf("*%s*\nDoubleZero Epoch: %d\nTransaction: %s", header, dzEpoch, signature))
}

// PostFailure posts an epoch-level failure with a compact reason.
func (n *Notifier) PostFailure(ctx context.Context, dzEpoch uint64, stage string, err error) error {
	if n.webhookURL == "" {
		return nil
	}
	return n.post(ctx, fmt.Sprintf("*Settlement Failure*\nDoubleZero Epoch: %d\nStage: %s\nError: %v", dzEpoch, stage, err))
}

func (n *Notifier) post(ctx context.Context, text string) error {
	err := slack.PostWebhookContext(ctx, n.webhookURL, &slack.WebhookMessage{Text: text})
	if err != nil {
		n.log.Error("Failed to post Slack notification", "error", err)
		return err
	}
	return nil
}
