package sync

import (
	"context"
	"log"
	"time"

	"finsync/internal/money"
	"finsync/internal/platform"
	"finsync/internal/store"
)

type BankClient interface {
	ListTransactions(ctx context.Context, accountHandle string, start, end time.Time) ([]platform.BankTransaction, error)
}

// BankWorker syncs accounts linked through the bank-aggregation API.
type BankWorker struct {
	client BankClient
	ingester
}

func NewBankWorker(client BankClient, transactions TransactionStore, categories CategoryStore, lookback time.Duration) *BankWorker {
	return &BankWorker{
		client:   client,
		ingester: newIngester(transactions, categories, lookback),
	}
}

func (w *BankWorker) Platform() platform.Platform {
	return platform.Bank
}

func (w *BankWorker) SyncAccount(ctx context.Context, account store.SyncAccount) (Result, error) {
	started := time.Now()

	start, end := w.window(account, started)
	raw, err := w.client.ListTransactions(ctx, account.Handle, start, end)
	if err != nil {
		// Fetch failures propagate unmodified; the orchestrator
		// classifies them.
		return Result{Duration: time.Since(started)}, err
	}

	records := make([]normalized, 0, len(raw))
	for _, tx := range raw {
		minor, err := money.ParseMinor(tx.Amount)
		if err != nil {
			log.Printf("bank record %q for account %s has bad amount %q: %v", tx.ExternalID, account.ID, tx.Amount, err)
			continue
		}
		records = append(records, normalized{
			ExternalID:  tx.ExternalID,
			AmountMinor: money.Abs(minor),
			Direction:   bankDirection(tx.Direction, minor),
			Description: tx.Narration,
			OccurredAt:  tx.Date,
			Merchant:    optional(tx.Merchant),
		})
	}

	inserted, err := w.ingest(ctx, account, records)
	if err != nil {
		return Result{TotalProcessed: len(raw), Duration: time.Since(started)}, err
	}
	return Result{
		TransactionsSynced: inserted,
		TotalProcessed:     len(raw),
		Duration:           time.Since(started),
	}, nil
}

// bankDirection trusts the payload's direction field when present and
// falls back to the amount's sign: bank feeds consistently report money
// out as negative.
func bankDirection(direction string, signedMinor int64) string {
	switch direction {
	case "income", "credit":
		return "income"
	case "expense", "debit":
		return "expense"
	}
	if signedMinor < 0 {
		return "expense"
	}
	return "income"
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
