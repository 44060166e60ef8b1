package sync

import (
	"context"
	"errors"
	"log"
	"time"

	"finsync/internal/categorize"
	"finsync/internal/db"
	"finsync/internal/platform"
	"finsync/internal/store"

	"github.com/google/uuid"
)

// Worker syncs one account's transaction history from its platform.
type Worker interface {
	Platform() platform.Platform
	SyncAccount(ctx context.Context, account store.SyncAccount) (Result, error)
}

type Result struct {
	TransactionsSynced int
	TotalProcessed     int
	Duration           time.Duration
}

type TransactionStore interface {
	InsertSynced(ctx context.Context, input store.SyncedTransactionInput) error
	Exists(ctx context.Context, userID, platformName, externalID string) (bool, error)
}

type CategoryStore interface {
	List(ctx context.Context) ([]store.Category, error)
}

// DefaultLookback bounds the first sync of a never-synced account.
const DefaultLookback = 30 * 24 * time.Hour

// storeWriteTimeout bounds each persistence write the way the fetch
// timeout bounds platform calls.
const storeWriteTimeout = 10 * time.Second

// writeContext detaches a store write from run cancellation and gives it
// an explicit deadline. A drain lets in-flight accounts finish their
// writes rather than abandoning them half-applied.
func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
}

// ingester is the platform-independent half of a sync worker: windowing,
// dedup, categorization, and persistence.
type ingester struct {
	transactions TransactionStore
	categories   CategoryStore
	lookback     time.Duration
}

func newIngester(transactions TransactionStore, categories CategoryStore, lookback time.Duration) ingester {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return ingester{
		transactions: transactions,
		categories:   categories,
		lookback:     lookback,
	}
}

// window computes the incremental fetch range: from the last successful
// sync, or the lookback default for a first sync, up to now.
func (i ingester) window(account store.SyncAccount, now time.Time) (time.Time, time.Time) {
	if account.LastSyncedAt != nil {
		return *account.LastSyncedAt, now
	}
	return now.Add(-i.lookback), now
}

// categoryIndex maps category names to ids and resolves the fallback id.
// A missing Uncategorized row is a deployment problem, not an account one.
func (i ingester) categoryIndex(ctx context.Context) (map[string]string, string, error) {
	categories, err := i.categories.List(ctx)
	if err != nil {
		return nil, "", platform.NewError(platform.KindInfrastructure, "sync.categoryIndex", err)
	}
	index := make(map[string]string, len(categories))
	fallback := ""
	for _, category := range categories {
		index[category.Name] = category.ID
		if category.Name == categorize.DefaultCategory {
			fallback = category.ID
		}
	}
	if fallback == "" {
		return nil, "", platform.NewError(platform.KindInfrastructure, "sync.categoryIndex",
			errors.New("category table is missing the Uncategorized row"))
	}
	return index, fallback, nil
}

// normalized is one upstream record after platform-specific decoding:
// unsigned amount, explicit direction, stable dedup key.
type normalized struct {
	ExternalID  string
	AmountMinor int64
	Direction   string
	Description string
	OccurredAt  time.Time
	Merchant    *string
}

// persist categorizes and inserts one normalized record. Returns whether a
// row was written. Records already present, in this batch or in the store,
// are silently skipped; anything else malformed is logged and skipped so
// one bad record never aborts the account's sync.
func (i ingester) persist(ctx context.Context, account store.SyncAccount, record normalized,
	index map[string]string, fallbackID string, seen map[string]struct{}) (bool, error) {

	if record.ExternalID == "" {
		return false, platform.NewError(platform.KindValidation, "sync.persist",
			errors.New("record has no external identifier"))
	}
	if _, dup := seen[record.ExternalID]; dup {
		return false, nil
	}
	seen[record.ExternalID] = struct{}{}

	writeCtx, cancel := writeContext(ctx)
	defer cancel()

	exists, err := i.transactions.Exists(writeCtx, account.UserID, account.Platform, record.ExternalID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	merchant := ""
	if record.Merchant != nil {
		merchant = *record.Merchant
	}
	guess := categorize.Categorize(record.Description, record.AmountMinor, merchant)
	direction := record.Direction
	if direction == "" {
		direction = string(guess.Direction)
	}
	categoryID, ok := index[guess.Category]
	if !ok {
		categoryID = fallbackID
	}

	err = i.transactions.InsertSynced(writeCtx, store.SyncedTransactionInput{
		ID:              uuid.NewString(),
		UserID:          account.UserID,
		AccountID:       account.ID,
		CategoryID:      categoryID,
		AmountMinor:     record.AmountMinor,
		Direction:       direction,
		Description:     record.Description,
		OccurredAt:      record.OccurredAt,
		Merchant:        record.Merchant,
		ExternalID:      record.ExternalID,
		Platform:        account.Platform,
		Confidence:      guess.Confidence,
		AutoCategorized: true,
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			// Another pass won the race; the record is already stored.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ingest runs the pipeline over a batch, continuing past per-record
// failures.
func (i ingester) ingest(ctx context.Context, account store.SyncAccount, records []normalized) (int, error) {
	index, fallbackID, err := i.categoryIndex(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(records))
	inserted := 0
	for _, record := range records {
		ok, err := i.persist(ctx, account, record, index, fallbackID, seen)
		if err != nil {
			log.Printf("skipping record %q for account %s: %v", record.ExternalID, account.ID, err)
			continue
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}
