// Package main is the entry point for the SabiOps notification and usage
// API server.
//
// It loads configuration, connects the database pool and AWS clients,
// assembles the notification core (store, toast dispatcher, delivery guard,
// usage tracker), builds the HTTP server with the core chassis, starts the
// background loops (subscription watcher, usage reconciler, retention
// sweeps), and listens for requests until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"sabiops/internal/api/handlers"
	"sabiops/internal/billing"
	"sabiops/internal/config"
	"sabiops/internal/core"
	"sabiops/internal/db"
	"sabiops/internal/external"
	"sabiops/internal/notifications/guard"
	"sabiops/internal/notifications/store"
	"sabiops/internal/notifications/toast"
	"sabiops/internal/queue"
	"sabiops/internal/types"
	"sabiops/internal/usage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	coreLogger := types.NewSlogLogger(logger)
	clock := types.RealClock{}

	logger.Info("sabiops notify API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	// Database pool.
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Reveal())
	if err != nil {
		return fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}
	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.Database.AcquireTimeout)
	err = pool.Ping(pingCtx)
	cancelPing()
	if err != nil {
		pool.Close()
		return fmt.Errorf("pinging database: %w", err)
	}

	// AWS clients. The endpoint override supports LocalStack in local dev.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		pool.Close()
		return fmt.Errorf("loading AWS config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	// Repositories.
	archiveRepo := db.NewNotificationArchiveRepo(pool)
	pendingRepo := db.NewPendingEventRepo(pool)
	counterRepo := db.NewUsageCounterRepo(pool)
	limitRepo := db.NewLimitRowRepo(pool)

	// Limit registry: database rows when available, shipped defaults
	// otherwise. A fresh environment works before the limits table is
	// seeded.
	limitRows, err := limitRepo.LoadLimitRows(ctx)
	if err != nil || len(limitRows) == 0 {
		if err != nil {
			logger.Warn("failed to load limit rows, using defaults", "error", err)
		}
		limitRows = billing.DefaultLimitRows()
	}
	registry := billing.NewStaticLimitRegistry(limitRows, cfg.Usage.FailOpenOnMissingLimit)

	// Billing provider and account cache.
	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: 20 * time.Second},
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Reveal(),
			Logger:    logger,
		},
	)
	accounts := billing.NewAccountCache(stripeClient, clock, cfg.Billing.RefreshInterval, coreLogger)
	subState := billing.NewSubscriptionState(clock, cfg.Billing.GracePeriod)

	// Notification core.
	metrics := guard.NewCloudWatchDeliveryMetrics(cwClient, cfg.AWS.MetricNamespace, coreLogger)
	archiver := store.NewZstdArchiver(archiveRepo, coreLogger)
	notifStore := store.NewStore(store.Options{
		DedupWindow: cfg.Notify.DedupWindow,
		MaxStored:   cfg.Notify.MaxStored,
		Retention:   cfg.Notify.Retention,
	}, clock, archiver, coreLogger)

	toasts := toast.NewDispatcher(nil, clock, coreLogger,
		toast.WithCapacity(cfg.Notify.MaxToasts),
		toast.WithSweepPolicy(cfg.Notify.ToastMaxAge, cfg.Notify.ToastSweepPeriod),
		toast.WithEvictionHook(func(reason string) {
			go metrics.RecordToastEviction(context.Background(), reason)
		}),
	)
	toast.SetDefault(toasts)

	deliveryGuard := guard.NewGuard(notifStore, toasts, pendingRepo, metrics, clock, coreLogger, guard.Options{
		DebounceWindow:   cfg.Guard.DebounceWindow,
		FailureThreshold: uint32(cfg.Guard.FailureThreshold),
		Cooldown:         cfg.Guard.Cooldown,
		PollInterval:     cfg.Guard.PollInterval,
		DashboardURL:     cfg.Server.DashboardURL,
	})

	// Usage tracking.
	tracker := usage.NewTracker(registry, usage.WarningPolicy{
		Fraction: cfg.Usage.WarningFraction,
		Absolute: cfg.Usage.WarningAbsolute,
	}, coreLogger)
	reconciler := usage.NewReconciler(tracker, counterRepo, logger)

	// Subscription watcher feeding the guard.
	watcher := billing.NewWatcher(accounts, subState, deliveryGuard, coreLogger)

	// Queue producer for async event ingestion.
	publisher := queue.NewEventPublisher(sqsClient, cfg.AWS, logger)

	// HTTP chassis and handlers.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.OnShutdown(pool.Close)
	srv.OnShutdown(deliveryGuard.Close)

	notifHandler := handlers.NewNotificationHandler(notifStore, logger)
	toastHandler := handlers.NewToastHandler(toasts, logger)
	usageHandler := handlers.NewUsageHandler(accounts, tracker, deliveryGuard, clock, logger)
	eventHandler := handlers.NewEventHandler(deliveryGuard, publisher, srv.Validator, logger)
	subHandler := handlers.NewSubscriptionHandler(accounts, subState, logger)
	webhookVerifier := external.NewStripeWebhookVerifier(cfg.Billing.StripeWebhookSecret.Reveal())
	webhookHandler := handlers.NewBillingWebhookHandler(webhookVerifier, accounts, deliveryGuard, logger)

	srv.V1PublicRouteRegistrars = append(srv.V1PublicRouteRegistrars,
		func(r chi.Router) { webhookHandler.RegisterRoutes(r) },
	)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { notifHandler.RegisterRoutes(r) },
		func(r chi.Router) { toastHandler.RegisterRoutes(r) },
		func(r chi.Router) { usageHandler.RegisterRoutes(r) },
		func(r chi.Router) { eventHandler.RegisterRoutes(r) },
		func(r chi.Router) { subHandler.RegisterRoutes(r) },
	)
	srv.MountRoutes()

	// Background loops, supervised together: one context cancels them all.
	loopCtx, cancelLoops := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		watcher.Run(gctx, cfg.Billing.RefreshInterval)
		return nil
	})
	g.Go(func() error {
		reconciler.Run(gctx, cfg.Usage.ReconcileInterval)
		return nil
	})
	g.Go(func() error {
		notifStore.RunSweeper(gctx, cfg.Notify.SweepInterval)
		return nil
	})
	g.Go(func() error {
		toasts.RunSweeper(gctx)
		return nil
	})

	addr := ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			cancelLoops()
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	cancelLoops()
	if err := g.Wait(); err != nil {
		logger.Error("background loop error", "error", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
