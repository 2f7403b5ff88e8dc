package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Zimbwa03/nerdx-bot/internal/ai"
	"github.com/Zimbwa03/nerdx-bot/internal/bot"
	"github.com/Zimbwa03/nerdx-bot/internal/catalog"
	"github.com/Zimbwa03/nerdx-bot/internal/config"
	"github.com/Zimbwa03/nerdx-bot/internal/dedup"
	"github.com/Zimbwa03/nerdx-bot/internal/health"
	"github.com/Zimbwa03/nerdx-bot/internal/history"
	"github.com/Zimbwa03/nerdx-bot/internal/kv"
	"github.com/Zimbwa03/nerdx-bot/internal/ledger"
	ledgerpg "github.com/Zimbwa03/nerdx-bot/internal/ledger/postgres"
	ledgersqlite "github.com/Zimbwa03/nerdx-bot/internal/ledger/sqlite"
	"github.com/Zimbwa03/nerdx-bot/internal/logging"
	"github.com/Zimbwa03/nerdx-bot/internal/metrics"
	"github.com/Zimbwa03/nerdx-bot/internal/outbound"
	"github.com/Zimbwa03/nerdx-bot/internal/profile"
	"github.com/Zimbwa03/nerdx-bot/internal/ratelimit"
	"github.com/Zimbwa03/nerdx-bot/internal/session"
	"github.com/Zimbwa03/nerdx-bot/internal/worker"
)

const maxLogBytes = int64(100 * 1024 * 1024)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	if cfg.LogFile != "" {
		rot, err := logging.NewRotatingWriter(cfg.LogFile, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[botd] ")
		defer rot.Close()
	}
	logger := log.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("load catalog: %v", err)
	}

	// key-value substrate for dedup, rate limits and (with redis) sessions
	var kvStore kv.Store
	var sessions session.Store
	switch cfg.KVDriver {
	case "redis":
		redisKV, err := kv.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		kvStore = redisKV
		sessions = session.NewRedisStore(redisKV.Client(), 24*time.Hour)
	default:
		kvStore = kv.NewMemoryStore()
		sessions = session.NewMemoryStore()
	}

	var ledgerStore ledger.Store
	var checkerCfg health.Config
	checkerCfg.KV = kvStore
	checkerCfg.AIBaseURL = cfg.AIBaseURL

	switch cfg.LedgerDriver {
	case "postgres":
		store, err := ledgerpg.New(cfg.LedgerDSN, 10, 5)
		if err != nil {
			log.Fatalf("open postgres ledger: %v", err)
		}
		ledgerStore = store
		checkerCfg.LedgerDB = store.DB()
	default:
		store, err := ledgersqlite.New(cfg.LedgerPath)
		if err != nil {
			log.Fatalf("open sqlite ledger: %v", err)
		}
		ledgerStore = store
		checkerCfg.LedgerDB = store.DB()
	}
	defer ledgerStore.Close()

	historyStore, err := history.NewSQLiteStore(cfg.HistoryPath)
	if err != nil {
		log.Fatalf("open history store: %v", err)
	}
	defer historyStore.Close()
	checkerCfg.HistoryDB = historyStore.DB()

	profiles, err := profile.NewSQLiteStore(cfg.ProfilePath)
	if err != nil {
		log.Fatalf("open profile store: %v", err)
	}
	defer profiles.Close()

	var aiClient *ai.Client
	if cfg.AIBaseURL != "" {
		aiClient = ai.NewClient(ai.Options{
			BaseURL:        cfg.AIBaseURL,
			APIKey:         cfg.AIAPIKey,
			Model:          cfg.AIModel,
			AttemptTimeout: cfg.AITimeout,
			MaxRetries:     cfg.AIMaxRetries,
			Logger:         logger,
			Fallback: func(req ai.Request) (*ai.Result, bool) {
				q, ok := cat.Fallback(req.Topic)
				if !ok {
					return nil, false
				}
				return &ai.Result{Text: q.Text, Answer: q.Answer}, true
			},
		})
	} else {
		logger.Printf("ai_base_url not set, serving catalog questions only")
	}

	var sender outbound.Sender
	if cfg.MessagingBaseURL != "" {
		sender = outbound.NewHTTPSender(cfg.MessagingBaseURL, cfg.MessagingToken, cfg.MessagingTimeout)
	} else {
		logger.Printf("messaging_base_url not set, outbound replies are dropped (dry run)")
		sender = outbound.NewNullSender()
	}

	maintenance := &atomic.Bool{}
	maintenance.Store(cfg.MaintenanceMode)
	collector := metrics.NewCollector()

	selector := history.NewSelector(historyStore, cfg.RepetitionWindow)
	dispatcher := bot.NewDispatcher(bot.DispatcherConfig{
		Sessions:         sessions,
		TTLPolicy:        session.TTLPolicy{Default: cfg.SessionTTLDefault, Flow: cfg.SessionTTLFlow},
		Ledger:           ledger.New(ledgerStore, cat.Costs, logger),
		Limiter:          ratelimit.New(ratelimit.Config{Store: kvStore, ActiveTTL: cfg.ActiveFlagTTL}),
		Selector:         selector,
		Profiles:         profiles,
		Catalog:          cat,
		AI:               aiClient,
		Sender:           sender,
		Metrics:          collector,
		Logger:           logger,
		QuestionCooldown: cfg.QuestionCooldown,
		ExamCooldown:     cfg.ExamCooldown,
		Maintenance:      maintenance,
	})

	pool := worker.NewPool(cfg.WorkerCount, cfg.QueueDepth, logger)
	guard := dedup.New(dedup.Config{
		Store:    kvStore,
		TTL:      cfg.DedupTTL,
		FailOpen: cfg.DedupFailOpen,
		Logger:   logger,
	})

	server := bot.NewServer(bot.ServerConfig{
		Guard:             guard,
		Pool:              pool,
		Dispatcher:        dispatcher,
		Checker:           health.New(checkerCfg),
		VerifyToken:       cfg.VerifyToken,
		AppSecret:         cfg.AppSecret,
		SignatureRequired: cfg.SignatureRequired,
		AdminToken:        cfg.AdminToken,
		Maintenance:       maintenance,
		Metrics:           collector,
		Logger:            logger,
	})

	// bound history growth
	go pruneLoop(ctx, historyStore, cfg.RepetitionWindow, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ListenPort),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on :%d (env=%s kv=%s ledger=%s)",
			cfg.ListenPort, cfg.Environment, cfg.KVDriver, cfg.LedgerDriver)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Printf("worker pool shutdown: %v", err)
	}
	if err := sessions.Close(); err != nil {
		logger.Printf("session store close: %v", err)
	}
	logger.Printf("bye")
}

// pruneLoop removes content-history entries that fell out of the
// anti-repetition window.
func pruneLoop(ctx context.Context, store *history.SQLiteStore, window time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx, time.Now().Add(-2*window))
			if err != nil {
				logger.Printf("history prune failed: %v", err)
				continue
			}
			if n > 0 {
				logger.Printf("history prune removed %d entries", n)
			}
		}
	}
}
