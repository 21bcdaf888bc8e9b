package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/optx/venue-engine/internal/config"
	"github.com/optx/venue-engine/internal/gateway"
	"github.com/optx/venue-engine/internal/instrument"
	"github.com/optx/venue-engine/internal/metrics"
	"github.com/optx/venue-engine/internal/pricing"
	"github.com/optx/venue-engine/internal/risk"
	"github.com/optx/venue-engine/internal/settle"
	signalpkg "github.com/optx/venue-engine/internal/signal"
	"github.com/optx/venue-engine/internal/store"
	"github.com/optx/venue-engine/internal/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "err", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Instrument catalog ---
	catalog := instrument.DefaultCatalog()
	if err := st.SeedInstruments(ctx, catalog); err != nil {
		slog.Error("seeding instruments failed", "err", err)
		os.Exit(1)
	}

	// --- Venue components ---
	sim := pricing.New(catalog, cfg.HistoryCap, cfg.TickInterval)
	signals := signalpkg.NewManager(st, cfg.SignalMinTTL, cfg.SignalMaxTTL, cfg.SweepInterval)
	ledger := wallet.NewLedger(st)
	limiter := risk.NewStakeLimiter(cfg.MaxStakePerInstrument, cfg.MaxDailyStake)
	engine := settle.NewEngine(ledger, signals, sim, st, limiter, settle.Config{
		Currency:      cfg.DefaultCurrency,
		PayoutRate:    cfg.PayoutRate,
		TradeDuration: cfg.TradeDuration,
		Enabled:       cfg.TradingEnabled,
	})

	wsHub := gateway.NewHub(sim)
	svc := gateway.NewService(engine, ledger, signals, sim, st, wsHub, cfg.JWTSecret, cfg.DefaultCurrency)

	// --- Background loops ---
	go sim.Run(ctx)
	go signals.Run(ctx)
	go signals.RunGenerator(ctx, sim.Symbols(), cfg.SweepInterval)
	go wsHub.Run(ctx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"venue-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/api/v1", svc.Routes())

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("venue-engine listening", "port", cfg.Port, "instruments", len(catalog))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel() // stop the simulator, sweeper, generator, and hub

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down venue-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("venue-engine stopped")
}
