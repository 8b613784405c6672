package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"subsum/internal/amqp"
	"subsum/internal/config"
	notifyamqp "subsum/internal/notify/amqp"
	"subsum/internal/services"
	"subsum/internal/storage"
	"subsum/internal/store"
	storemem "subsum/internal/store/memory"
	"subsum/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting subsum-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPTransactionQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	reminderClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPReminderQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP reminder client", "error", err)
		os.Exit(1)
	}
	defer reminderClient.Close()
	scheduler := notifyamqp.NewScheduler(reminderClient)

	// Choose commerce backend (default: memory). The memory backend has no
	// queryable entitlement records, so refresh passes are skipped and the
	// transaction-update stream is the only source of truth.
	backend := os.Getenv("STORE_BACKEND")
	if backend == "" {
		backend = "memory"
	}
	var commerce store.Store
	var queryable bool
	switch backend {
	case "memory":
		commerce = storemem.NewStore()
		queryable = false
		logger.Info("Initialized memory commerce backend", "backend", backend)
	default:
		logger.Error("Unsupported STORE_BACKEND", "backend", backend)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	products := services.ProductIDs{Monthly: cfg.MonthlyProductID, Yearly: cfg.YearlyProductID}
	reconciler := services.NewReconciler(commerce, repo, products)
	reconciler.AdoptPersistedProjection(ctx)

	// An entitlement change moves the effective reminder lead time, so
	// pending reminders are rebuilt right after the projection is persisted.
	service := services.NewSubscriptionService(repo, services.NewReminderPolicy(scheduler), reconciler, cfg.TrendMonths, cfg.UpcomingLimit)
	reconciler.OnCommit(func(ctx context.Context, pro bool) {
		if err := service.ResyncReminders(ctx); err != nil {
			logger.Error("Reminder resync after entitlement commit failed", "error", err, "pro", pro)
		}
	})

	w := worker.NewEntitlementWorker(reconciler)
	if queryable {
		w.StartupCheck(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return amqpClient.ConsumeTransactionUpdates(gctx, func(msg *amqp.TransactionMessage) error {
			return w.HandleTransactionMessage(gctx, msg)
		})
	})

	if queryable {
		g.Go(func() error {
			return w.RunPeriodicRefresh(gctx, cfg.EntitlementRefreshInterval)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
