package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"subsum/internal/amqp"
	"subsum/internal/config"
	gsheet "subsum/internal/export/google"
	"subsum/internal/notify"
	notifyamqp "subsum/internal/notify/amqp"
	notifymem "subsum/internal/notify/memory"
	"subsum/internal/services"
	"subsum/internal/storage"
	"subsum/internal/worker"
)

// persistedEntitlement reads the committed Pro projection from settings.
// The renewal worker never talks to the commerce store; it only honors
// what the reconciler last persisted.
type persistedEntitlement struct {
	repo *storage.SQLiteRepository
}

func (p persistedEntitlement) IsPro() bool {
	settings, err := p.repo.GetSettings(context.Background())
	if err != nil {
		slog.Warn("Could not read persisted entitlement, assuming free", "error", err)
		return false
	}
	return settings.IsProUser
}

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting renewal-worker")

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

	var scheduler notify.Scheduler
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPReminderQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, using in-memory reminders", "error", err)
			scheduler = notifymem.NewScheduler()
		} else {
			defer amqpClient.Close()
			scheduler = notifyamqp.NewScheduler(amqpClient)
			logger.Info("AMQP reminder scheduler initialized", "queue", cfg.AMQPReminderQueue)
		}
	} else {
		scheduler = notifymem.NewScheduler()
		logger.Info("AMQP disabled, reminders are kept in memory")
	}

	// Spreadsheet export is optional and driven by env credentials.
	var sheets *gsheet.Client
	if os.Getenv("GOOGLE_SPREADSHEET_ID") != "" {
		sheets, err = gsheet.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		logger.Info("Google Sheets export enabled")
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	service := services.NewSubscriptionService(
		repo,
		services.NewReminderPolicy(scheduler),
		persistedEntitlement{repo: repo},
		cfg.TrendMonths,
		cfg.UpcomingLimit,
	)
	renewals := worker.NewRenewalWorker(service)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return renewals.Run(gctx, cfg.RenewalInterval)
	})

	if sheets != nil {
		g.Go(func() error {
			return runExportLoop(gctx, service, sheets, cfg.RenewalInterval)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}

// runExportLoop mirrors the subscription set to the configured spreadsheet
// after every renewal interval. Export failures are logged and retried on
// the next tick.
func runExportLoop(ctx context.Context, service *services.SubscriptionService, sheets *gsheet.Client, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		subs, err := service.List(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "Export snapshot failed", "error", err)
		} else if err := sheets.Export(ctx, subs); err != nil {
			slog.ErrorContext(ctx, "Spreadsheet export failed", "error", err)
		} else {
			slog.InfoContext(ctx, "Spreadsheet export complete", "subscriptions", len(subs))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
