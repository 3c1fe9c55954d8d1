// Command billingd runs the billing HTTP service: Stripe webhook receiver,
// checkout-session creation, waitlist signup, authorization checks, health and
// Prometheus metrics endpoints.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/titanstack/titan-billing/pkg/api"
	"github.com/titanstack/titan-billing/pkg/billing"
	zerologadapter "github.com/titanstack/titan-billing/pkg/billing/logger/zerolog"
	prommetrics "github.com/titanstack/titan-billing/pkg/billing/metrics/prometheus"
	stripeprovider "github.com/titanstack/titan-billing/pkg/billing/stripe"
	"github.com/titanstack/titan-billing/pkg/email"
	"github.com/titanstack/titan-billing/storage/memory"
	"github.com/titanstack/titan-billing/storage/postgres"
	"github.com/titanstack/titan-billing/storage/redis"
)

const (
	defaultPort        = "8080"
	shutdownTimeout    = 15 * time.Second
	metricsNamespace   = "titan_billing"
	defaultFrontendURL = "http://localhost:3000"
)

type envConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	FrontendURL         string
	DatabaseURL         string
	RedisAddr           string
	PlunkAPIKey         string
	Port                string
}

func loadEnv() envConfig {
	// A missing .env file is fine; the environment still wins.
	_ = godotenv.Load()

	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		frontendURL = os.Getenv("NEXT_PUBLIC_APP_URL")
	}
	if frontendURL == "" {
		frontendURL = defaultFrontendURL
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	return envConfig{
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		FrontendURL:         frontendURL,
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		PlunkAPIKey:         os.Getenv("PLUNK_API_KEY"),
		Port:                port,
	}
}

func main() {
	zlog := zerolog.New(os.Stdout).With().Timestamp().Str("service", "billingd").Logger()
	logger := zerologadapter.NewLogger(zlog)

	if err := run(logger, zlog); err != nil {
		zlog.Fatal().Err(err).Msg("billingd exited")
	}
}

func run(logger billing.Logger, zlog zerolog.Logger) error {
	cfg := loadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	deduper, dedupCleanup, err := newDeduper(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer dedupCleanup()

	registry := prometheus.NewRegistry()
	metrics := prommetrics.NewMetrics(registry, metricsNamespace)

	emailClient := email.New(email.Config{APIKey: cfg.PlunkAPIKey})
	if !emailClient.Configured() {
		logger.Warn("PLUNK_API_KEY not set, transactional email disabled")
	}

	apiHandler, err := api.NewHandler(api.Config{
		Store:           store,
		Email:           emailClient,
		PaymentsEnabled: cfg.StripeSecretKey != "",
		GetUserID: func(r *http.Request) string {
			return chi.URLParam(r, "userID")
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create api handler: %w", err)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(zlog))

	mountPaymentRoutes(router, cfg, store, deduper, logger, metrics)

	router.Post("/api/waitlist", apiHandler.JoinWaitlist)
	router.Get("/api/users/{userID}/authorized", apiHandler.CheckAuthorized)
	router.Get("/healthz", apiHandler.Health)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("billingd listening", billing.Field{Key: "addr", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newStore picks PostgreSQL when DATABASE_URL is set and falls back to the
// in-memory store otherwise. The in-memory store loses state on restart, so
// it only makes sense for local development.
func newStore(ctx context.Context, cfg envConfig, logger billing.Logger) (billing.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return memory.New(), func() {}, nil
	}

	pgConfig := postgres.DefaultConfig()
	pgConfig.ConnectionString = cfg.DatabaseURL
	pg, err := postgres.New(ctx, pgConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	logger.Info("connected to postgres")
	return pg, pg.Close, nil
}

// newDeduper wires Redis-based webhook deduplication when REDIS_ADDR is set.
// A nil deduper disables redelivery detection; Stripe reconcilers are
// idempotent, so that only costs duplicate work.
func newDeduper(ctx context.Context, cfg envConfig, logger billing.Logger) (billing.EventDeduper, func(), error) {
	if cfg.RedisAddr == "" {
		return nil, func() {}, nil
	}

	client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	deduper, err := redis.New(client, redis.DefaultConfig())
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("connected to redis", billing.Field{Key: "addr", Value: cfg.RedisAddr})
	return deduper, func() { _ = client.Close() }, nil
}

// mountPaymentRoutes wires the Stripe webhook and checkout endpoints. When the
// Stripe keys are absent the routes stay mounted but answer with a
// configuration error, so a misconfigured deployment fails loudly instead of
// 404ing.
func mountPaymentRoutes(
	router chi.Router,
	cfg envConfig,
	store billing.Store,
	deduper billing.EventDeduper,
	logger billing.Logger,
	metrics billing.Metrics,
) {
	if cfg.StripeSecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set, payment endpoints degraded")
		router.Post("/api/payments/webhook", stripeNotConfigured)
		router.Post("/api/payments/create-checkout-session", stripeNotConfigured)
		return
	}

	provider, err := stripeprovider.NewProvider(stripeprovider.Config{
		Config: billing.Config{
			Store:       store,
			FrontendURL: cfg.FrontendURL,
			Deduper:     deduper,
			Logger:      logger,
			Metrics:     metrics,
		},
		StripeAPIKey:        cfg.StripeSecretKey,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
	})
	if err != nil {
		logger.Error("failed to create stripe provider", billing.Field{Key: "error", Value: err.Error()})
		router.Post("/api/payments/webhook", stripeNotConfigured)
		router.Post("/api/payments/create-checkout-session", stripeNotConfigured)
		return
	}

	router.Method(http.MethodPost, "/api/payments/webhook", provider.WebhookHandler())
	router.Method(http.MethodPost, "/api/payments/create-checkout-session", provider.CheckoutHandler())
}

func stripeNotConfigured(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Stripe configuration error"})
}

// requestLogger logs one line per request with method, path, status and
// duration.
func requestLogger(zlog zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			zlog.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
