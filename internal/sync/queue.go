package sync

import (
	"sort"
	"time"

	"finsync/internal/platform"
	"finsync/internal/store"
)

// queueItem is one scheduling unit. Items live for a single run; retry
// bookkeeping for the current pass happens on the item, not the account.
type queueItem struct {
	account     store.SyncAccount
	priority    int
	attempts    int
	lastAttempt time.Time
}

// AccountPriority scores an account for queue ordering. Higher syncs
// sooner. The score balances freshness (stale and never-synced accounts
// rise), fairness across platforms, and not burning retry budget on
// accounts that need human action. Deterministic, no side effects.
func AccountPriority(account store.SyncAccount, now time.Time) int {
	score := 50

	if account.Platform == string(platform.Bank) {
		score += 10
	}

	if account.LastSyncedAt == nil {
		score += 30
	} else {
		days := int(now.Sub(*account.LastSyncedAt).Hours() / 24)
		staleness := days * 2
		if staleness > 20 {
			staleness = 20
		}
		if staleness > 0 {
			score += staleness
		}
	}

	penalty := account.ConsecutiveFailures * 5
	if penalty > 25 {
		penalty = 25
	}
	score -= penalty

	switch account.SyncStatus {
	case store.StatusAuthRequired:
		// Needs the user to re-link; retrying cannot succeed.
		score -= 20
	case store.StatusError:
		if account.ConsecutiveFailures < 3 {
			score += 10
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 1 {
		score = 1
	}
	return score
}

// buildQueue scores and orders accounts: priority descending, ties broken
// by platform name so same-platform work clusters together.
func buildQueue(accounts []store.SyncAccount, now time.Time) []*queueItem {
	items := make([]*queueItem, 0, len(accounts))
	for _, account := range accounts {
		items = append(items, &queueItem{
			account:  account,
			priority: AccountPriority(account, now),
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].priority != items[j].priority {
			return items[i].priority > items[j].priority
		}
		return items[i].account.Platform < items[j].account.Platform
	})
	return items
}
