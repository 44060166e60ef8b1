package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finsync/internal/config"
	"finsync/internal/db"
	"finsync/internal/handlers"
	"finsync/internal/lock"
	"finsync/internal/notify"
	"finsync/internal/platform"
	"finsync/internal/store"
	"finsync/internal/sync"
	"finsync/internal/websocket"

	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const runLockKey = "finsync:sync-run"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("skipping .env: %v", err)
	}
	cfg := config.Load()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer database.Close()

	locker := buildLocker(cfg.RedisURL)

	accounts := store.NewSyncAccountStore(database)
	transactions := store.NewTransactionStore(database)
	categories := store.NewCategoryStore(database)
	hub := websocket.NewHub()

	lookback := time.Duration(cfg.LookbackDays) * 24 * time.Hour
	bankClient := platform.NewBankClient(cfg.BankAPIBaseURL, cfg.BankAPIToken, cfg.FetchTimeout)
	momoClient := platform.NewMomoClient(cfg.MomoAPIBaseURL, cfg.MomoAPIToken, cfg.FetchTimeout)
	workers := []sync.Worker{
		sync.NewBankWorker(bankClient, transactions, categories, lookback),
		sync.NewMomoWorker(momoClient, transactions, categories, lookback),
	}

	notifier := buildNotifier(cfg)
	engine := sync.NewEngine(accounts, workers, notifier, hub, sync.Config{
		BankThreshold:   cfg.BankSyncThreshold,
		MomoThreshold:   cfg.MomoSyncThreshold,
		MaxConcurrent:   cfg.MaxConcurrent,
		BankConcurrency: cfg.BankConcurrency,
		MomoConcurrency: cfg.MomoConcurrency,
		MaxRetries:      cfg.MaxRetries,
		RetryBaseDelay:  cfg.RetryBaseDelay,
	})

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("failed to create scheduler: %v", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.SyncInterval),
		gocron.NewTask(func() {
			runScheduledSync(engine, locker)
		}),
	)
	if err != nil {
		log.Fatalf("failed to schedule sync job: %v", err)
	}
	scheduler.Start()
	log.Printf("background sync scheduled every %s", cfg.SyncInterval)

	handler := handlers.New(cfg, engine, accounts, transactions, locker, hub)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("finsync API listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	if err := scheduler.Shutdown(); err != nil {
		log.Printf("scheduler shutdown error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}

// buildLocker uses Redis when configured so multiple instances share one
// run lock, and an in-process lock otherwise.
func buildLocker(redisURL string) lock.Locker {
	if redisURL == "" {
		return lock.NewLocalLocker()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("invalid REDIS_URL: %v", err)
	}
	return lock.NewRedisLocker(redis.NewClient(opts))
}

// buildNotifier wires real delivery channels only where credentials are
// configured; missing channels degrade to logged no-ops.
func buildNotifier(cfg config.Config) *notify.Notifier {
	var push notify.PushSender
	var email notify.EmailSender
	if cfg.PushAPIURL != "" {
		push = notify.NewHTTPPushSender(cfg.PushAPIURL, cfg.PushAPIToken)
	}
	if cfg.EmailAPIURL != "" {
		email = notify.NewHTTPEmailSender(cfg.EmailAPIURL, cfg.EmailAPIKey)
	}
	return notify.New(push, email)
}

func runScheduledSync(engine *sync.Engine, locker lock.Locker) {
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Minute)
	defer cancel()

	acquired, err := locker.Acquire(ctx, runLockKey, 30*time.Minute)
	if err != nil {
		log.Printf("scheduled sync: lock error: %v", err)
		return
	}
	if !acquired {
		log.Printf("scheduled sync: previous run still in progress, skipping")
		return
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := locker.Release(releaseCtx, runLockKey); err != nil {
			log.Printf("scheduled sync: lock release error: %v", err)
		}
	}()

	if _, err := engine.Run(ctx, sync.Options{}); err != nil {
		log.Printf("scheduled sync failed: %v", err)
	}
}
