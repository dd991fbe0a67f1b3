package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DukeRupert/quill/internal"
	"github.com/DukeRupert/quill/internal/ai"
	"github.com/DukeRupert/quill/internal/ai/anthropic"
	"github.com/DukeRupert/quill/internal/ai/mock"
	"github.com/DukeRupert/quill/internal/auth"
	"github.com/DukeRupert/quill/internal/autosave"
	"github.com/DukeRupert/quill/internal/billing"
	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/handler"
	"github.com/DukeRupert/quill/internal/jobs"
	"github.com/DukeRupert/quill/internal/metrics"
	"github.com/DukeRupert/quill/internal/middleware"
	"github.com/DukeRupert/quill/internal/service"
	"github.com/DukeRupert/quill/internal/store"
	"github.com/DukeRupert/quill/internal/store/memory"
	"github.com/DukeRupert/quill/internal/store/postgres"
	"github.com/DukeRupert/quill/internal/watch"
	"github.com/DukeRupert/quill/internal/worker"

	_ "time/tzdata"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize persistence
	st, ping, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// ==========================================================================
	// Services
	// ==========================================================================

	postChanges := watch.NewRegistry[domain.PostChange]()
	subChanges := watch.NewRegistry[*domain.Subscription]()

	scorer, err := newScorer(cfg, logger)
	if err != nil {
		return fmt.Errorf("scorer initialization failed: %w", err)
	}

	postService := service.NewPostService(st, postChanges, logger, nil)
	gate := service.NewEntitlementGate(st, st, subChanges, logger, nil)
	calendarService := service.NewCalendarService(st, logger, nil)
	ratingService := service.NewRatingService(postService, gate, scorer, cfg.RatingAtomic, logger)
	drafts := autosave.NewManager(postService, cfg.AutosaveQuietPeriod, logger)

	var billingService billing.Service
	if cfg.BillingEnabled() {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			StarterMonthlyPriceID: cfg.StripeStarterMonthlyPriceID,
			StarterYearlyPriceID:  cfg.StripeStarterYearlyPriceID,
			ProMonthlyPriceID:     cfg.StripeProMonthlyPriceID,
			ProYearlyPriceID:      cfg.StripeProYearlyPriceID,
		})
		logger.Info("Billing enabled")
	} else {
		logger.Warn("Billing disabled, STRIPE_SECRET_KEY is not set")
	}

	// ==========================================================================
	// Middleware
	// ==========================================================================

	var verifier middleware.TokenVerifier
	if cfg.JWTSecret != "" {
		v, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			return fmt.Errorf("token verifier initialization failed: %w", err)
		}
		verifier = v
	}
	if cfg.AuthDevUser != "" {
		logger.Warn("Token-less requests authenticate as the development user", "user_id", cfg.AuthDevUser)
	}

	isSecure := !cfg.IsDevelopment()
	authMw := middleware.NewAuthMiddleware(verifier, logger, cfg.AuthDevUser)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	recoverMw := middleware.NewRecoverMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	ratingLimiter := middleware.NewRateLimiter(cfg.RatingRateLimit, cfg.RatingRateWindow)
	rateLimitMw := middleware.NewRateLimitMiddleware(ratingLimiter, logger)

	if cfg.MetricsUsername == "" && cfg.MetricsPassword == "" {
		logger.Warn("Metrics endpoint is unprotected, set METRICS_USERNAME and METRICS_PASSWORD")
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := ping(r.Context()); err != nil {
			logger.Warn("Health check failed", "error", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	requireUser := authMw.RequireUser

	handler.NewPostHandler(postService, ratingService, drafts, postChanges, logger).
		RegisterRoutes(mux, requireUser, rateLimitMw.Limit)
	handler.NewCalendarHandler(calendarService, cfg.Location, logger).
		RegisterRoutes(mux, requireUser)
	handler.NewEntitlementHandler(gate, subChanges, logger).
		RegisterRoutes(mux, requireUser)
	handler.NewBillingHandler(billingService, gate, cfg.BaseURL, logger).
		RegisterRoutes(mux, requireUser)
	handler.NewWebhookHandler(billingService, gate, st, logger).
		RegisterRoutes(mux)
	handler.RegisterNotFound(mux, logger)

	// WithUser runs inside the logging middleware so it can report the user
	root := middleware.Stack(
		metrics.Middleware,
		loggingMw.Handler,
		recoverMw.Handler,
		securityMw.Handler,
		authMw.WithUser,
	)(mux)

	// ==========================================================================
	// Background jobs
	// ==========================================================================

	var jobRunner *worker.Worker
	if cfg.WorkerEnabled {
		workerCfg := worker.DefaultConfig()
		workerCfg.Location = cfg.Location
		workerCfg.JobTimeout = cfg.WorkerJobTimeout

		jobRunner, err = worker.New(workerCfg, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		if err := jobRunner.Register(cfg.OverdueSweepSchedule, jobs.NewOverdueSweep(st, cfg.Location, logger)); err != nil {
			return fmt.Errorf("register overdue sweep: %w", err)
		}
		if err := jobRunner.Register(cfg.RateLimitPruneSchedule, jobs.NewRateLimitPrune(ratingLimiter, logger)); err != nil {
			return fmt.Errorf("register rate limit prune: %w", err)
		}
		jobRunner.Start()
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	// Event streams hold their request open until this context ends
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelStreams)

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		logger.Error("Server failed", "error", err)
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	// Pending drafts are written before the store goes away
	if err := drafts.Close(shutdownCtx); err != nil {
		logger.Error("Failed to flush pending drafts", "error", err)
	}

	if jobRunner != nil {
		jobRunner.Stop()
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

// openStore selects the configured store. The returned ping reports
// whether the store can serve requests.
func openStore(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (store.Store, func(context.Context) error, func(), error) {
	if cfg.Store != "postgres" {
		logger.Warn("Using in-memory store, data is lost on restart")
		return memory.New(), func(context.Context) error { return nil }, func() {}, nil
	}

	pg, err := postgres.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	// goose runs on database/sql
	db := stdlib.OpenDBFromPool(pg.Pool())
	defer db.Close()

	version, err := internal.RunMigrations(ctx, db)
	if err != nil {
		pg.Close()
		return nil, nil, nil, fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready", "schema_version", version)

	return pg, pg.Pool().Ping, pg.Close, nil
}

func newScorer(cfg *internal.Config, logger *slog.Logger) (ai.Scorer, error) {
	if cfg.AIProvider != "anthropic" {
		logger.Info("Using mock scorer")
		return mock.New(logger), nil
	}

	return anthropic.New(anthropic.Config{
		APIKey: cfg.AnthropicAPIKey,
		Model:  cfg.AnthropicModel,
		ProviderConfig: ai.ProviderConfig{
			MaxRetries:     cfg.AIMaxRetries,
			RetryBaseDelay: cfg.AIRetryBaseDelay,
			RequestTimeout: cfg.AIRequestTimeout,
		},
	}, logger)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
