package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"finsync/internal/platform"
	"finsync/internal/store"
)

type stubAccountStore struct {
	mu       sync.Mutex
	accounts []store.SyncAccount
	listErr  error
	updates  []store.StatusUpdate
	updateFn func(ctx context.Context, update store.StatusUpdate) error
}

func (s *stubAccountStore) ListDue(context.Context, bool, time.Duration, time.Duration) ([]store.SyncAccount, error) {
	return s.accounts, s.listErr
}

func (s *stubAccountStore) UpdateSyncStatus(ctx context.Context, update store.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateFn != nil {
		if err := s.updateFn(ctx, update); err != nil {
			return err
		}
	}
	s.updates = append(s.updates, update)
	return nil
}

func (s *stubAccountStore) lastStatusFor(accountID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := ""
	for _, update := range s.updates {
		if update.AccountID == accountID {
			status = update.Status
		}
	}
	return status
}

type fakeWorker struct {
	platform platform.Platform
	fn       func(ctx context.Context, account store.SyncAccount) (Result, error)
}

func (w *fakeWorker) Platform() platform.Platform { return w.platform }

func (w *fakeWorker) SyncAccount(ctx context.Context, account store.SyncAccount) (Result, error) {
	return w.fn(ctx, account)
}

type notifyCall struct {
	kind    string
	userID  string
	account string
	count   int
}

type stubNotifier struct {
	mu    sync.Mutex
	err   error
	calls []notifyCall
}

func (n *stubNotifier) SendReAuthRequired(_ context.Context, userID, accountName string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{kind: "reauth", userID: userID, account: accountName})
	return n.err
}

func (n *stubNotifier) SendSyncCompleted(_ context.Context, userID, accountName string, count int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{kind: "completed", userID: userID, account: accountName, count: count})
	return n.err
}

func testConfig() Config {
	return Config{
		MaxConcurrent:   5,
		BankConcurrency: 3,
		MomoConcurrency: 5,
		MaxRetries:      3,
		RetryBaseDelay:  time.Second,
	}
}

func noSleep(context.Context, time.Duration) error {
	return nil
}

func testAccounts(bank, momo int) []store.SyncAccount {
	var accounts []store.SyncAccount
	for i := 0; i < bank; i++ {
		accounts = append(accounts, store.SyncAccount{
			ID:       "bank-" + string(rune('a'+i)),
			UserID:   "user-1",
			Platform: "bank",
			Handle:   "h",
		})
	}
	for i := 0; i < momo; i++ {
		accounts = append(accounts, store.SyncAccount{
			ID:       "momo-" + string(rune('a'+i)),
			UserID:   "user-1",
			Platform: "mobile_money",
			Handle:   "h",
		})
	}
	return accounts
}

func TestEngineRunHappyPath(t *testing.T) {
	accounts := &stubAccountStore{accounts: testAccounts(2, 2)}
	notifier := &stubNotifier{}
	workers := []Worker{
		&fakeWorker{platform: platform.Bank, fn: func(context.Context, store.SyncAccount) (Result, error) {
			return Result{TransactionsSynced: 3, TotalProcessed: 5}, nil
		}},
		&fakeWorker{platform: platform.MobileMoney, fn: func(context.Context, store.SyncAccount) (Result, error) {
			return Result{TransactionsSynced: 1, TotalProcessed: 1}, nil
		}},
	}
	engine := NewEngine(accounts, workers, notifier, nil, testConfig())
	engine.sleep = noSleep

	report, err := engine.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.AccountsProcessed != 4 {
		t.Errorf("expected 4 accounts processed, got %d", report.AccountsProcessed)
	}
	if report.TotalTransactionsSynced != 8 {
		t.Errorf("expected 8 transactions synced, got %d", report.TotalTransactionsSynced)
	}
	if report.Metrics.Succeeded != 4 || report.Metrics.Failed != 0 {
		t.Errorf("metrics wrong: %+v", report.Metrics)
	}
	if report.Metrics.ByPlatform[platform.Bank].Succeeded != 2 {
		t.Errorf("expected 2 bank successes, got %+v", report.Metrics.ByPlatform[platform.Bank])
	}
	if report.Metrics.NotificationsSent != 4 {
		t.Errorf("expected a completion notification per account, got %d", report.Metrics.NotificationsSent)
	}
	for _, account := range accounts.accounts {
		if got := accounts.lastStatusFor(account.ID); got != store.StatusActive {
			t.Errorf("account %s: expected final status active, got %q", account.ID, got)
		}
	}
}

func TestEngineConcurrencyCeilings(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 4
	cfg.BankConcurrency = 2
	cfg.MomoConcurrency = 3

	var inflightGlobal, inflightBank, inflightMomo atomic.Int32
	var maxGlobal, maxBank, maxMomo atomic.Int32

	observe := func(current *atomic.Int32, max *atomic.Int32) {
		now := current.Add(1)
		for {
			prev := max.Load()
			if now <= prev || max.CompareAndSwap(prev, now) {
				break
			}
		}
	}
	work := func(perPlatform *atomic.Int32, maxPlatform *atomic.Int32) (Result, error) {
		observe(&inflightGlobal, &maxGlobal)
		observe(perPlatform, maxPlatform)
		time.Sleep(5 * time.Millisecond)
		perPlatform.Add(-1)
		inflightGlobal.Add(-1)
		return Result{TransactionsSynced: 1}, nil
	}

	workers := []Worker{
		&fakeWorker{platform: platform.Bank, fn: func(context.Context, store.SyncAccount) (Result, error) {
			return work(&inflightBank, &maxBank)
		}},
		&fakeWorker{platform: platform.MobileMoney, fn: func(context.Context, store.SyncAccount) (Result, error) {
			return work(&inflightMomo, &maxMomo)
		}},
	}
	accounts := &stubAccountStore{accounts: testAccounts(8, 8)}
	engine := NewEngine(accounts, workers, &stubNotifier{}, nil, cfg)
	engine.sleep = noSleep

	report, err := engine.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.AccountsProcessed != 16 {
		t.Fatalf("expected all 16 accounts processed, got %d", report.AccountsProcessed)
	}
	if got := maxGlobal.Load(); got > 4 {
		t.Errorf("global ceiling exceeded: %d concurrent syncs", got)
	}
	if got := maxBank.Load(); got > 2 {
		t.Errorf("bank ceiling exceeded: %d concurrent syncs", got)
	}
	if got := maxMomo.Load(); got > 3 {
		t.Errorf("momo ceiling exceeded: %d concurrent syncs", got)
	}
}

func TestEngineSaturatedPlatformDoesNotStallTheOther(t *testing.T) {
	cfg := testConfig()
	cfg.BankConcurrency = 1

	bankRelease := make(chan struct{})
	momoDone := make(chan struct{}, 8)
	workers := []Worker{
		&fakeWorker{platform: platform.Bank, fn: func(context.Context, store.SyncAccount) (Result, error) {
			<-bankRelease
			return Result{}, nil
		}},
		&fakeWorker{platform: platform.MobileMoney, fn: func(context.Context, store.SyncAccount) (Result, error) {
			momoDone <- struct{}{}
			return Result{}, nil
		}},
	}
	// Bank accounts score higher and sit at the head of the queue.
	accounts := &stubAccountStore{accounts: testAccounts(3, 2)}
	engine := NewEngine(accounts, workers, &stubNotifier{}, nil, cfg)
	engine.sleep = noSleep

	done := make(chan *Report, 1)
	go func() {
		report, _ := engine.Run(context.Background(), Options{})
		done <- report
	}()

	// Both momo accounts must complete while the single bank slot is held.
	for i := 0; i < 2; i++ {
		select {
		case <-momoDone:
		case <-time.After(2 * time.Second):
			t.Fatal("momo accounts starved behind a saturated bank queue head")
		}
	}
	close(bankRelease)
	report := <-done
	if report.AccountsProcessed != 5 {
		t.Errorf("expected 5 accounts processed, got %d", report.AccountsProcessed)
	}
}

func TestEngineAuthFailureDoesNotRetry(t *testing.T) {
	attempts := 0
	workers := []Worker{
		&fakeWorker{platform: platform.Bank, fn: func(context.Context, store.SyncAccount) (Result, error) {
			attempts++
			return Result{}, platform.NewError(platform.KindAuth, "bank.ListTransactions", errors.New("token expired"))
		}},
	}
	accounts := &stubAccountStore{accounts: []store.SyncAccount{
		{ID: "acc-1", UserID: "user-1", DisplayName: "GCB Current", Platform: "bank", Handle: "h"},
	}}
	notifier := &stubNotifier{}
	engine := NewEngine(accounts, workers, notifier, nil, testConfig())
	slept := 0
	engine.sleep = func(context.Context, time.Duration) error {
		slept++
		return nil
	}

	report, err := engine.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("an auth failure must consume exactly one attempt, got %d", attempts)
	}
	if slept != 0 {
		t.Errorf("no backoff should follow an auth failure, slept %d times", slept)
	}
	if got := accounts.lastStatusFor("acc-1"); got != store.StatusAuthRequired {
		t.Errorf("expected auth_required status, got %q", got)
	}
	if report.Metrics.AuthErrors != 1 {
		t.Errorf("expected 1 auth error in metrics, got %d", report.Metrics.AuthErrors)
	}
	if len(notifier.calls) != 1 || notifier.calls[0].kind != "reauth" || notifier.calls[0].account != "GCB Current" {
		t.Errorf("expected a re-auth notification, got %+v", notifier.calls)
	}
}

func TestEngineTransientRetryWithBackoff(t *testing.T) {
	attempts := 0
	workers := []Worker{
		&fakeWorker{platform: platform.MobileMoney, fn: func(context.Context, store.SyncAccount) (Result, error) {
			attempts++
			if attempts < 3 {
				return Result{}, platform.NewError(platform.KindTransient, "momo.ListTransactions", errors.New("bad gateway"))
			}
			return Result{TransactionsSynced: 2}, nil
		}},
	}
	accounts := &stubAccountStore{accounts: []store.SyncAccount{
		{ID: "acc-1", UserID: "user-1", Platform: "mobile_money", Handle: "h"},
	}}
	engine := NewEngine(accounts, workers, &stubNotifier{}, nil, testConfig())
	var delays []time.Duration
	engine.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	report, err := engine.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected success on the third attempt, got %d attempts", attempts)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("expected doubling backoff [1s 2s], got %v", delays)
	}
	if got := accounts.lastStatusFor("acc-1"); got != store.StatusActive {
		t.Errorf("expected the account to end active, got %q", got)
	}
	if report.Results[0].Attempts != 3 {
		t.Errorf("expected attempts recorded in the result, got %d", report.Results[0].Attempts)
	}
}

func TestEngineRetriesExhausted(t *testing.T) {
	attempts := 0
	workers := []Worker{
		&fakeWorker{platform: platform.Bank, fn: func(context.Context, store.SyncAccount) (Result, error) {
			attempts++
			return Result{}, platform.NewError(platform.KindTransient, "bank.ListTransactions", errors.New("timeout"))
		}},
	}
	accounts := &stubAccountStore{accounts: []store.SyncAccount{
		{ID: "acc-1", UserID: "user-1", Platform: "bank", Handle: "h"},
	}}
	notifier := &stubNotifier{}
	engine := NewEngine(accounts, workers, notifier, nil, testConfig())
	slept := 0
	engine.sleep = func(context.Context, time.Duration) error {
		slept++
		return nil
	}

	report, err := engine.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected the full retry budget spent, got %d attempts", attempts)
	}
	if slept != 2 {
		t.Errorf("expected a backoff between attempts only, slept %d times", slept)
	}
	if got := accounts.lastStatusFor("acc-1"); got != store.StatusError {
		t.Errorf("expected error status after exhaustion, got %q", got)
	}
	if report.Metrics.Failed != 1 || report.Metrics.AuthErrors != 0 {
		t.Errorf("metrics wrong: %+v", report.Metrics)
	}
	if len(notifier.calls) != 0 {
		t.Errorf("no notification should fire for a transient exhaustion, got %+v", notifier.calls)
	}
	if report.Results[0].Error == "" {
		t.Errorf("expected the last error message in the result")
	}
}

func TestEngineListDueFailureAborts(t *testing.T) {
	accounts := &stubAccountStore{listErr: errors.New("connection refused")}
	engine := NewEngine(accounts, nil, &stubNotifier{}, nil, testConfig())

	_, err := engine.Run(context.Background(), Options{})
	if !platform.IsInfrastructure(err) {
		t.Fatalf("expected an infrastructure error, got %v", err)
	}
}

func TestEngineNotifierFailureDoesNotChangeOutcome(t *testing.T) {
	workers := []Worker{
		&fakeWorker{platform: platform.Bank, fn: func(context.Context, store.SyncAccount) (Result, error) {
			return Result{TransactionsSynced: 2}, nil
		}},
	}
	accounts := &stubAccountStore{accounts: testAccounts(1, 0)}
	notifier := &stubNotifier{err: errors.New("push gateway down")}
	engine := NewEngine(accounts, workers, notifier, nil, testConfig())
	engine.sleep = noSleep

	report, err := engine.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Metrics.Succeeded != 1 {
		t.Errorf("a notification failure must not fail the sync, got %+v", report.Metrics)
	}
	if report.Metrics.NotificationErrors != 1 || report.Metrics.NotificationsSent != 0 {
		t.Errorf("notification accounting wrong: %+v", report.Metrics)
	}
}

func TestEngineNoCompletionNotificationForEmptySync(t *testing.T) {
	workers := []Worker{
		&fakeWorker{platform: platform.Bank, fn: func(context.Context, store.SyncAccount) (Result, error) {
			return Result{TransactionsSynced: 0, TotalProcessed: 4}, nil
		}},
	}
	accounts := &stubAccountStore{accounts: testAccounts(1, 0)}
	notifier := &stubNotifier{}
	engine := NewEngine(accounts, workers, notifier, nil, testConfig())
	engine.sleep = noSleep

	if _, err := engine.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.calls) != 0 {
		t.Errorf("nothing new was synced, expected no notification, got %+v", notifier.calls)
	}
}

func TestEngineCancelledContextAdmitsNothing(t *testing.T) {
	started := atomic.Int32{}
	workers := []Worker{
		&fakeWorker{platform: platform.Bank, fn: func(context.Context, store.SyncAccount) (Result, error) {
			started.Add(1)
			return Result{}, nil
		}},
	}
	accounts := &stubAccountStore{accounts: testAccounts(4, 0)}
	engine := NewEngine(accounts, workers, &stubNotifier{}, nil, testConfig())
	engine.sleep = noSleep

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := engine.Run(ctx, Options{})
	if err != nil {
		t.Fatalf("a cancelled run still returns its report: %v", err)
	}
	if started.Load() != 0 {
		t.Errorf("no account should start after cancellation, got %d", started.Load())
	}
	if report.AccountsProcessed != 0 {
		t.Errorf("expected 0 accounts processed, got %d", report.AccountsProcessed)
	}
}

func TestEngineRunCapOverride(t *testing.T) {
	var inflight, max atomic.Int32
	workers := []Worker{
		&fakeWorker{platform: platform.MobileMoney, fn: func(context.Context, store.SyncAccount) (Result, error) {
			now := inflight.Add(1)
			for {
				prev := max.Load()
				if now <= prev || max.CompareAndSwap(prev, now) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inflight.Add(-1)
			return Result{}, nil
		}},
	}
	accounts := &stubAccountStore{accounts: testAccounts(0, 6)}
	engine := NewEngine(accounts, workers, &stubNotifier{}, nil, testConfig())
	engine.sleep = noSleep

	if _, err := engine.Run(context.Background(), Options{MaxConcurrent: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := max.Load(); got != 1 {
		t.Errorf("expected strictly serial execution with the override, got %d concurrent", got)
	}
}

func TestEngineStatusWritesOutliveCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workers := []Worker{
		&fakeWorker{platform: platform.Bank, fn: func(context.Context, store.SyncAccount) (Result, error) {
			cancel()
			return Result{TransactionsSynced: 1}, nil
		}},
	}
	accounts := &stubAccountStore{
		accounts: testAccounts(1, 0),
		updateFn: func(ctx context.Context, _ store.StatusUpdate) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Errorf("status write missing an explicit deadline")
			}
			// A real store rejects writes on a dead context; the
			// terminal status must still land during a drain.
			return ctx.Err()
		},
	}
	engine := NewEngine(accounts, workers, &stubNotifier{}, nil, testConfig())
	engine.sleep = noSleep

	report, err := engine.Run(ctx, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.AccountsProcessed != 1 {
		t.Fatalf("expected the in-flight account to finish, got %d", report.AccountsProcessed)
	}
	if got := accounts.lastStatusFor("bank-a"); got != store.StatusActive {
		t.Errorf("expected the final active status recorded despite cancellation, got %q", got)
	}
}
