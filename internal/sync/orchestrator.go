package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"finsync/internal/platform"
	"finsync/internal/store"
	"finsync/internal/websocket"
)

type AccountStore interface {
	ListDue(ctx context.Context, force bool, bankThreshold, momoThreshold time.Duration) ([]store.SyncAccount, error)
	UpdateSyncStatus(ctx context.Context, update store.StatusUpdate) error
}

type Notifier interface {
	SendReAuthRequired(ctx context.Context, userID, accountName string) error
	SendSyncCompleted(ctx context.Context, userID, accountName string, count int) error
}

// ProgressSink receives per-account status transitions for live display.
type ProgressSink interface {
	BroadcastSyncUpdate(userID string, update websocket.SyncUpdate)
}

type noopProgress struct{}

func (noopProgress) BroadcastSyncUpdate(string, websocket.SyncUpdate) {}

type Config struct {
	BankThreshold   time.Duration
	MomoThreshold   time.Duration
	MaxConcurrent   int
	BankConcurrency int
	MomoConcurrency int
	MaxRetries      int
	RetryBaseDelay  time.Duration
}

// Engine drives sync runs. It holds no run state itself: every Run owns
// its own queue, metrics, and admission counters, so independent runs can
// execute concurrently (tests do).
type Engine struct {
	accounts AccountStore
	workers  map[platform.Platform]Worker
	notifier Notifier
	progress ProgressSink
	cfg      Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(accounts AccountStore, workers []Worker, notifier Notifier, progress ProgressSink, cfg Config) *Engine {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.BankConcurrency <= 0 {
		cfg.BankConcurrency = 3
	}
	if cfg.MomoConcurrency <= 0 {
		cfg.MomoConcurrency = 5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if progress == nil {
		progress = noopProgress{}
	}
	byPlatform := make(map[platform.Platform]Worker, len(workers))
	for _, worker := range workers {
		byPlatform[worker.Platform()] = worker
	}
	return &Engine{
		accounts: accounts,
		workers:  byPlatform,
		notifier: notifier,
		progress: progress,
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

type Options struct {
	ForceSync     bool
	MaxConcurrent int
}

type AccountResult struct {
	AccountID          string        `json:"account_id"`
	Platform           string        `json:"platform"`
	Status             string        `json:"status"`
	Priority           int           `json:"priority"`
	Attempts           int           `json:"attempts"`
	TransactionsSynced int           `json:"transactions_synced"`
	TotalProcessed     int           `json:"total_processed"`
	Error              string        `json:"error,omitempty"`
	Duration           time.Duration `json:"duration"`
}

type Report struct {
	AccountsProcessed       int             `json:"accounts_processed"`
	TotalTransactionsSynced int             `json:"total_transactions_synced"`
	Results                 []AccountResult `json:"results"`
	Duration                time.Duration   `json:"duration"`
	Metrics                 *Metrics        `json:"metrics"`
}

// Run executes one orchestration pass: load candidates, score them, and
// drain the queue under the concurrency ceilings. Only a failure to list
// accounts aborts the run; per-account failures are folded into the
// report.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	started := e.now()

	accounts, err := e.accounts.ListDue(ctx, opts.ForceSync, e.cfg.BankThreshold, e.cfg.MomoThreshold)
	if err != nil {
		return nil, platform.NewError(platform.KindInfrastructure, "sync.loadAccounts", err)
	}
	queue := buildQueue(accounts, started)
	log.Printf("sync run starting: %d accounts queued (force=%v)", len(queue), opts.ForceSync)

	metrics := newMetrics(started)
	results := e.processQueue(ctx, queue, opts, metrics)
	metrics.finalize(e.now())

	report := &Report{
		AccountsProcessed: len(results),
		Results:           results,
		Duration:          metrics.CompletedAt.Sub(metrics.StartedAt),
		Metrics:           metrics,
	}
	for _, result := range results {
		report.TotalTransactionsSynced += result.TransactionsSynced
	}
	log.Printf("sync run finished: %d accounts, %d synced, %d failed (%d auth) in %s",
		metrics.Total, report.TotalTransactionsSynced, metrics.Failed, metrics.AuthErrors, report.Duration)
	return report, nil
}

type outcome struct {
	result  AccountResult
	account store.SyncAccount
	auth    bool
	success bool
}

// processQueue is the single control loop. Admission counters, metrics,
// and notification accounting are touched only here; workers communicate
// exclusively through the results channel.
func (e *Engine) processQueue(ctx context.Context, queue []*queueItem, opts Options, metrics *Metrics) []AccountResult {
	maxConcurrent := e.cfg.MaxConcurrent
	if opts.MaxConcurrent > 0 {
		maxConcurrent = opts.MaxConcurrent
	}

	pending := queue
	inflight := 0
	perPlatform := make(map[platform.Platform]int)
	outcomes := make(chan outcome)
	var results []AccountResult

	for len(pending) > 0 || inflight > 0 {
		if ctx.Err() != nil && len(pending) > 0 {
			// Graceful drain: stop admitting, let in-flight syncs
			// finish their writes.
			log.Printf("sync run cancelled: dropping %d queued accounts", len(pending))
			pending = nil
		}

		for inflight < maxConcurrent {
			idx := e.nextAdmissible(pending, perPlatform)
			if idx < 0 {
				break
			}
			item := pending[idx]
			pending = append(pending[:idx], pending[idx+1:]...)
			p := platform.Platform(item.account.Platform)
			perPlatform[p]++
			inflight++
			e.progress.BroadcastSyncUpdate(item.account.UserID, websocket.SyncUpdate{
				AccountID: item.account.ID,
				Platform:  item.account.Platform,
				Status:    store.StatusInProgress,
			})
			go func(item *queueItem) {
				outcomes <- e.syncSingleAccount(ctx, item)
			}(item)
		}

		if inflight == 0 {
			continue
		}

		out := <-outcomes
		inflight--
		perPlatform[platform.Platform(out.account.Platform)]--

		if out.success {
			metrics.recordSuccess(platform.Platform(out.account.Platform), out.result.TransactionsSynced, out.result.Duration)
		} else {
			metrics.recordFailure(platform.Platform(out.account.Platform), out.auth, out.result.Duration)
		}
		e.notify(ctx, out, metrics)
		e.progress.BroadcastSyncUpdate(out.account.UserID, websocket.SyncUpdate{
			AccountID:          out.account.ID,
			Platform:           out.account.Platform,
			Status:             out.result.Status,
			TransactionsSynced: out.result.TransactionsSynced,
		})
		results = append(results, out.result)
	}
	return results
}

// nextAdmissible finds the highest-priority queued item whose platform is
// under its ceiling. Head-of-line items blocked on a saturated platform
// do not stall the other platform's accounts.
func (e *Engine) nextAdmissible(pending []*queueItem, perPlatform map[platform.Platform]int) int {
	for i, item := range pending {
		p := platform.Platform(item.account.Platform)
		if perPlatform[p] < e.platformCap(p) {
			return i
		}
	}
	return -1
}

func (e *Engine) platformCap(p platform.Platform) int {
	switch p {
	case platform.Bank:
		return e.cfg.BankConcurrency
	case platform.MobileMoney:
		return e.cfg.MomoConcurrency
	}
	return 1
}

// syncSingleAccount runs one account's attempt loop. Transient failures
// retry with doubling backoff. An auth failure is terminal immediately,
// since retries cannot succeed until the user re-links the account.
func (e *Engine) syncSingleAccount(ctx context.Context, item *queueItem) outcome {
	account := item.account
	worker := e.workers[platform.Platform(account.Platform)]
	if worker == nil {
		message := fmt.Sprintf("no worker registered for platform %q", account.Platform)
		e.setStatus(ctx, account.ID, store.StatusError, &message)
		return outcome{
			account: account,
			result: AccountResult{
				AccountID: account.ID,
				Platform:  account.Platform,
				Priority:  item.priority,
				Status:    store.StatusError,
				Error:     message,
			},
		}
	}

	var lastErr error
	var lastResult Result
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		item.attempts = attempt
		item.lastAttempt = e.now()

		e.setStatus(ctx, account.ID, store.StatusInProgress, nil)
		result, err := worker.SyncAccount(ctx, account)
		lastResult = result
		if err == nil {
			e.setStatus(ctx, account.ID, store.StatusActive, nil)
			return outcome{
				account: account,
				success: true,
				result: AccountResult{
					AccountID:          account.ID,
					Platform:           account.Platform,
					Priority:           item.priority,
					Attempts:           attempt,
					Status:             store.StatusActive,
					TransactionsSynced: result.TransactionsSynced,
					TotalProcessed:     result.TotalProcessed,
					Duration:           result.Duration,
				},
			}
		}
		lastErr = err

		if platform.IsAuth(err) {
			message := err.Error()
			e.setStatus(ctx, account.ID, store.StatusAuthRequired, &message)
			return outcome{
				account: account,
				auth:    true,
				result: AccountResult{
					AccountID:      account.ID,
					Platform:       account.Platform,
					Priority:       item.priority,
					Attempts:       attempt,
					Status:         store.StatusAuthRequired,
					TotalProcessed: result.TotalProcessed,
					Error:          message,
					Duration:       result.Duration,
				},
			}
		}

		if attempt < e.cfg.MaxRetries {
			delay := e.cfg.RetryBaseDelay << (attempt - 1)
			log.Printf("sync attempt %d for account %s failed, retrying in %s: %v", attempt, account.ID, delay, err)
			if err := e.sleep(ctx, delay); err != nil {
				break
			}
		}
	}

	message := lastErr.Error()
	e.setStatus(ctx, account.ID, store.StatusError, &message)
	return outcome{
		account: account,
		result: AccountResult{
			AccountID:      account.ID,
			Platform:       account.Platform,
			Priority:       item.priority,
			Attempts:       item.attempts,
			Status:         store.StatusError,
			TotalProcessed: lastResult.TotalProcessed,
			Error:          message,
			Duration:       lastResult.Duration,
		},
	}
}

// notify fires terminal-outcome notifications. Delivery failures are
// counted and logged but never reclassify the sync outcome.
func (e *Engine) notify(ctx context.Context, out outcome, metrics *Metrics) {
	if e.notifier == nil {
		return
	}
	var err error
	switch {
	case out.auth:
		err = e.notifier.SendReAuthRequired(ctx, out.account.UserID, out.account.DisplayName)
	case out.success && out.result.TransactionsSynced > 0:
		err = e.notifier.SendSyncCompleted(ctx, out.account.UserID, out.account.DisplayName, out.result.TransactionsSynced)
	default:
		return
	}
	if err != nil {
		metrics.NotificationErrors++
		log.Printf("notification for account %s failed: %v", out.account.ID, err)
		return
	}
	metrics.NotificationsSent++
}

// setStatus persists an account status transition. Status-write failures
// are logged, not propagated: the attempt's own classification stands.
func (e *Engine) setStatus(ctx context.Context, accountID, status string, message *string) {
	writeCtx, cancel := writeContext(ctx)
	defer cancel()
	err := e.accounts.UpdateSyncStatus(writeCtx, store.StatusUpdate{
		AccountID:    accountID,
		Status:       status,
		ErrorMessage: message,
	})
	if err != nil {
		log.Printf("failed to mark account %s as %s: %v", accountID, status, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
