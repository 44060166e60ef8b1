package store

import (
	"context"
	"fmt"
	"time"
)

// Account sync statuses. The stored status is the durable, user-visible
// signal of how the last sync attempt ended.
const (
	StatusIdle         = "idle"
	StatusInProgress   = "in_progress"
	StatusActive       = "active"
	StatusError        = "error"
	StatusAuthRequired = "auth_required"
)

type SyncAccountStore struct {
	db DB
}

type SyncAccount struct {
	ID                  string     `db:"id"`
	UserID              string     `db:"user_id"`
	DisplayName         string     `db:"display_name"`
	Platform            string     `db:"platform"`
	Handle              string     `db:"handle"`
	LastSyncedAt        *time.Time `db:"last_synced_at"`
	SyncStatus          string     `db:"sync_status"`
	ConsecutiveFailures int        `db:"consecutive_failures"`
	ErrorMessage        *string    `db:"error_message"`
	CreatedAt           any        `db:"created_at"`
	UpdatedAt           any        `db:"updated_at"`
}

func NewSyncAccountStore(db DB) *SyncAccountStore {
	return &SyncAccountStore{db: db}
}

const accountColumns = `id, user_id, display_name, platform, handle, last_synced_at,
	       sync_status, consecutive_failures, error_message, created_at, updated_at`

// ListDue returns accounts whose last successful sync is older than their
// platform threshold, or every linked account when force is set. Accounts
// with no platform handle are never candidates.
func (s *SyncAccountStore) ListDue(ctx context.Context, force bool, bankThreshold, momoThreshold time.Duration) ([]SyncAccount, error) {
	var rows []SyncAccount
	if force {
		err := s.db.SelectContext(ctx, &rows, `
			SELECT `+accountColumns+`
			FROM sync_accounts
			WHERE platform <> '' AND handle <> ''
			ORDER BY platform, created_at
		`)
		if err != nil {
			return nil, err
		}
		return rows, nil
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+accountColumns+`
		FROM sync_accounts
		WHERE platform <> '' AND handle <> ''
		  AND (last_synced_at IS NULL
		       OR (platform = 'bank' AND last_synced_at < NOW() - $1::interval)
		       OR (platform = 'mobile_money' AND last_synced_at < NOW() - $2::interval))
		ORDER BY platform, created_at
	`, intervalArg(bankThreshold), intervalArg(momoThreshold))
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *SyncAccountStore) ListAll(ctx context.Context) ([]SyncAccount, error) {
	var rows []SyncAccount
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+accountColumns+`
		FROM sync_accounts
		ORDER BY platform, display_name
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *SyncAccountStore) GetByID(ctx context.Context, accountID string) (SyncAccount, error) {
	var row SyncAccount
	err := s.db.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM sync_accounts
		WHERE id = $1
	`, accountID)
	if err != nil {
		return SyncAccount{}, err
	}
	return row, nil
}

type StatusUpdate struct {
	AccountID    string
	Status       string
	ErrorMessage *string
}

// UpdateSyncStatus applies one attempt's outcome in a single statement.
// Success resets the failure counter and stamps last_synced_at; error and
// auth_required bump the counter and record the message.
func (s *SyncAccountStore) UpdateSyncStatus(ctx context.Context, update StatusUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_accounts
		SET sync_status = $1,
		    last_synced_at = CASE WHEN $1 = 'active' THEN NOW() ELSE last_synced_at END,
		    consecutive_failures = CASE
		        WHEN $1 = 'active' THEN 0
		        WHEN $1 IN ('error', 'auth_required') THEN consecutive_failures + 1
		        ELSE consecutive_failures
		    END,
		    error_message = CASE
		        WHEN $1 IN ('error', 'auth_required') THEN $2
		        WHEN $1 = 'active' THEN NULL
		        ELSE error_message
		    END,
		    updated_at = NOW()
		WHERE id = $3
	`, update.Status, update.ErrorMessage, update.AccountID)
	return err
}

func intervalArg(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d.Seconds()))
}
