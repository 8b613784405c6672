package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"subsum/internal/amqp"
	"subsum/internal/config"
	apphttp "subsum/internal/http"
	"subsum/internal/notify"
	notifyamqp "subsum/internal/notify/amqp"
	notifymem "subsum/internal/notify/memory"
	"subsum/internal/services"
	"subsum/internal/storage"
	"subsum/internal/store"
	storemem "subsum/internal/store/memory"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting subsum server")

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Reminder commands go over AMQP when a broker is configured; otherwise
	// an in-memory scheduler keeps local runs working.
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

	// Choose commerce backend (default: memory). The memory backend has no
	// queryable entitlement records, so the restore endpoint is disabled
	// and the persisted projection stays authoritative.
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

	products := services.ProductIDs{Monthly: cfg.MonthlyProductID, Yearly: cfg.YearlyProductID}
	reconciler := services.NewReconciler(commerce, repo, products)
	reconciler.AdoptPersistedProjection(ctx)
	reconciler.LoadProducts(ctx)

	service := services.NewSubscriptionService(repo, services.NewReminderPolicy(scheduler), reconciler, cfg.TrendMonths, cfg.UpcomingLimit)

	// An entitlement change moves the effective reminder lead time, so every
	// pending reminder is rebuilt right after the projection is persisted.
	reconciler.OnCommit(func(ctx context.Context, pro bool) {
		if err := service.ResyncReminders(ctx); err != nil {
			logger.Error("Reminder resync after entitlement commit failed", "error", err, "pro", pro)
		}
	})

	srv := apphttp.NewServer(":"+cfg.Port, service, reconciler)
	if !queryable {
		srv.DisableRestore()
	}
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
