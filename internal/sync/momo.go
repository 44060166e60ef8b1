package sync

import (
	"context"
	"log"
	"strings"
	"time"

	"finsync/internal/money"
	"finsync/internal/platform"
	"finsync/internal/store"
)

type MomoClient interface {
	ListTransactions(ctx context.Context, phoneHandle string, start, end time.Time) ([]platform.MomoTransaction, error)
}

// MomoWorker syncs accounts linked through the mobile-money API.
type MomoWorker struct {
	client MomoClient
	ingester
}

func NewMomoWorker(client MomoClient, transactions TransactionStore, categories CategoryStore, lookback time.Duration) *MomoWorker {
	return &MomoWorker{
		client:   client,
		ingester: newIngester(transactions, categories, lookback),
	}
}

func (w *MomoWorker) Platform() platform.Platform {
	return platform.MobileMoney
}

func (w *MomoWorker) SyncAccount(ctx context.Context, account store.SyncAccount) (Result, error) {
	started := time.Now()

	start, end := w.window(account, started)
	raw, err := w.client.ListTransactions(ctx, account.Handle, start, end)
	if err != nil {
		return Result{Duration: time.Since(started)}, err
	}

	records := make([]normalized, 0, len(raw))
	for _, tx := range raw {
		if !tx.Eligible() {
			continue
		}
		minor, err := money.ParseMinor(tx.Amount)
		if err != nil {
			log.Printf("momo record %q for account %s has bad amount %q: %v", tx.DedupKey(), account.ID, tx.Amount, err)
			continue
		}
		records = append(records, normalized{
			ExternalID:  tx.DedupKey(),
			AmountMinor: money.Abs(minor),
			Direction:   momoDirection(tx.Direction),
			Description: momoDescription(tx),
			OccurredAt:  tx.CreatedAt,
			Merchant:    optional(tx.PayeeName),
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

// momoDirection follows the explicit direction field only. Momo amounts
// are unsigned, so sign carries no information; an absent or unknown
// value is treated as an expense.
func momoDirection(direction string) string {
	switch strings.ToLower(direction) {
	case "income", "credit", "receive":
		return "income"
	case "expense", "debit", "send":
		return "expense"
	}
	return "expense"
}

func momoDescription(tx platform.MomoTransaction) string {
	if tx.PayerMessage != "" {
		return tx.PayerMessage
	}
	if tx.PayeeNote != "" {
		return tx.PayeeNote
	}
	return "Mobile money transaction"
}
