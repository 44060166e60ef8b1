package store

import (
	"context"
	"time"
)

type TransactionStore struct {
	db DB
}

type SyncedTransactionInput struct {
	ID              string
	UserID          string
	AccountID       string
	CategoryID      string
	AmountMinor     int64
	Direction       string
	Description     string
	OccurredAt      time.Time
	Merchant        *string
	ExternalID      string
	Platform        string
	Confidence      int
	AutoCategorized bool
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// InsertSynced writes one ingested record. The UNIQUE
// (user_id, platform, external_id) constraint backs the dedup guarantee;
// a unique violation here means another pass already ingested the record.
func (s *TransactionStore) InsertSynced(ctx context.Context, input SyncedTransactionInput) error {
	query := `
		INSERT INTO transactions (id, user_id, account_id, category_id, amount, direction,
		                          description, occurred_at, merchant, external_id, platform,
		                          is_synced, confidence, auto_categorized)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE, $12, $13)
	`
	_, err := s.db.ExecContext(ctx, query,
		input.ID, input.UserID, input.AccountID, input.CategoryID, input.AmountMinor,
		input.Direction, input.Description, input.OccurredAt, input.Merchant,
		input.ExternalID, input.Platform, input.Confidence, input.AutoCategorized,
	)
	return err
}

// Exists reports whether the (user, platform, external id) dedup key is
// already present.
func (s *TransactionStore) Exists(ctx context.Context, userID, platformName, externalID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM transactions
			WHERE user_id = $1 AND platform = $2 AND external_id = $3
		)
	`, userID, platformName, externalID)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// CountSyncedSince supports operational reporting on recent runs.
func (s *TransactionStore) CountSyncedSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM transactions
		WHERE is_synced = TRUE AND created_at >= $1
	`, since)
	if err != nil {
		return 0, err
	}
	return count, nil
}
