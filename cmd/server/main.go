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

	"github.com/stocksim/trading-engine/internal/auth"
	"github.com/stocksim/trading-engine/internal/config"
	"github.com/stocksim/trading-engine/internal/engine"
	"github.com/stocksim/trading-engine/internal/feed"
	"github.com/stocksim/trading-engine/internal/metrics"
	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/store"
	"github.com/stocksim/trading-engine/internal/trade"
)

// seedInstruments is the tradable universe created on first start. Existing
// symbols keep their randomly walked current price across restarts.
func seedInstruments() []model.Instrument {
	seed := []struct {
		symbol, name string
		price        string
	}{
		{"AAPL", "Apple Inc.", "175.50"},
		{"GOOGL", "Alphabet Inc.", "140.25"},
		{"MSFT", "Microsoft Corporation", "380.75"},
		{"AMZN", "Amazon.com Inc.", "145.30"},
		{"TSLA", "Tesla Inc.", "242.80"},
		{"META", "Meta Platforms Inc.", "485.60"},
		{"NVDA", "NVIDIA Corporation", "495.20"},
		{"NFLX", "Netflix Inc.", "445.90"},
	}

	now := time.Now().UTC()
	instruments := make([]model.Instrument, 0, len(seed))
	for _, s := range seed {
		price := decimal.RequireFromString(s.price)
		instruments = append(instruments, model.Instrument{
			Symbol:       s.symbol,
			Name:         s.name,
			BasePrice:    price,
			CurrentPrice: price,
			LastUpdated:  now,
		})
	}
	return instruments
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	initialBalance, err := decimal.NewFromString(cfg.InitialBalance)
	if err != nil {
		slog.Error("invalid INITIAL_BALANCE", "err", err)
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
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
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

	if err := st.SeedInstruments(context.Background(), seedInstruments()); err != nil {
		slog.Error("instrument seeding failed", "err", err)
		os.Exit(1)
	}

	// --- Core components ---
	eng := engine.New(st)
	authSvc := auth.NewService(st, []byte(cfg.JWTSecret), initialBalance)
	tradeSvc := trade.NewService(eng, st)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	wsHub := trade.NewWSHub(st.ListInstruments)
	go wsHub.Run(runCtx)

	priceFeed := feed.New(st, wsHub, cfg.TickInterval, cfg.PriceDriftPct)
	go priceFeed.Run(runCtx)

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
		// WebSocket endpoint for real-time quote updates.
		r.Get("/ws", wsHub.HandleWS)

		// Credentials.
		r.Post("/auth/register", authSvc.Register)
		r.Post("/auth/login", authSvc.Login)

		// Market data.
		r.Get("/stocks", tradeSvc.ListStocks)
		r.Get("/stocks/{symbol}", tradeSvc.GetStock)

		// Trading and portfolio queries require a verified account.
		r.Group(func(r chi.Router) {
			r.Use(authSvc.Middleware)
			r.Get("/portfolio", tradeSvc.GetPortfolio)
			r.Post("/portfolio/buy", tradeSvc.Buy)
			r.Post("/portfolio/sell", tradeSvc.Sell)
			r.Get("/portfolio/transactions", tradeSvc.GetTransactions)
		})
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

	stop() // halt the price feed and hub first

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-engine stopped")
}
