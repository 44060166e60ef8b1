package handlers

import (
	"context"
	"time"

	"finsync/internal/store"
	"finsync/internal/sync"
)

// SyncEngine is the orchestrator surface the trigger endpoint needs.
type SyncEngine interface {
	Run(ctx context.Context, opts sync.Options) (*sync.Report, error)
}

type AccountStore interface {
	ListAll(ctx context.Context) ([]store.SyncAccount, error)
	GetByID(ctx context.Context, accountID string) (store.SyncAccount, error)
}

type TransactionStore interface {
	CountSyncedSince(ctx context.Context, since time.Time) (int64, error)
}

type RunLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
