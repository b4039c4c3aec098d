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
	"github.com/shopspring/decimal"

	"github.com/stockarena/engine/internal/account"
	"github.com/stockarena/engine/internal/badge"
	"github.com/stockarena/engine/internal/cache"
	"github.com/stockarena/engine/internal/clock"
	"github.com/stockarena/engine/internal/competition"
	"github.com/stockarena/engine/internal/config"
	"github.com/stockarena/engine/internal/engine"
	"github.com/stockarena/engine/internal/metrics"
	"github.com/stockarena/engine/internal/notify"
	"github.com/stockarena/engine/internal/quote"
	"github.com/stockarena/engine/internal/store"
	"github.com/stockarena/engine/internal/trade"
	"github.com/stockarena/engine/internal/valuation"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	startingCash, err := decimal.NewFromString(cfg.StartingCash)
	if err != nil {
		slog.Error("invalid STARTING_CASH", "err", err)
		os.Exit(1)
	}
	shortLimit, err := decimal.NewFromString(cfg.ShortLimit)
	if err != nil {
		slog.Error("invalid SHORT_LIMIT", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
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
			st = store.NewCachedStore(st, rdb, cfg.StoreCacheTTL)
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

	// --- Notifications ---
	var notifier notify.Notifier = notify.LogNotifier{}
	if len(cfg.KafkaBrokers) > 0 {
		kn := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		cleanup = append(cleanup, func() { kn.Close() })
		notifier = kn
		slog.Info("Kafka notifications enabled", "topic", cfg.KafkaTopic)
	}

	// --- Quotes ---
	clk := clock.Real{}
	quotes := quote.NewCache(quote.NewYahooSource(cfg.QuoteTimeout), clk)

	// --- Domain services ---
	exec := engine.New(st, quotes, clk, cfg.ExecMaxStaleness, shortLimit)
	valuator := valuation.New(st, quotes, cfg.QuoteTTL)
	accounts := account.NewService(st, clk, startingCash)
	competitions := competition.NewService(st, valuator, clk, notifier)
	sampler := competition.NewSampler(competitions, cfg.SampleInterval)
	badges := badge.NewService(st, valuator, clk, notifier)

	competitions.OnWin(func(ctx context.Context, accountID string) {
		if _, err := badges.RecordCompetitionWin(ctx, accountID); err != nil {
			slog.Warn("winner badge award failed", "account", accountID, "err", err)
		}
	})

	// --- Read cache for hot endpoints ---
	readCache, err := cache.New(1<<20, cfg.ReadCacheTTL)
	if err != nil {
		slog.Error("read cache init failed", "err", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, readCache.Close)

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Background snapshot sampler ---
	samplerCtx, stopSampler := context.WithCancel(context.Background())
	defer stopSampler()
	go sampler.Run(samplerCtx)

	// --- Trade service ---
	tradeSvc := trade.NewService(trade.Deps{
		Store:            st,
		Accounts:         accounts,
		Engine:           exec,
		Valuator:         valuator,
		Competitions:     competitions,
		Sampler:          sampler,
		Badges:           badges,
		Quotes:           quotes,
		ReadCache:        readCache,
		WSHub:            wsHub,
		DisplayStaleness: cfg.QuoteTTL,
	})

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
			w.Header().Set("Access-Control-Allow-Origin", cfg.CORSOrigin)
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
		w.Write([]byte(`{"status":"ok","service":"trading-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time fill and leaderboard pushes.
		r.Get("/ws", wsHub.HandleWS)
		tradeSvc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trading-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down trading-engine...")
	stopSampler()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-engine stopped")
}
