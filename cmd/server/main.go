package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/satlend/exit-engine/internal/api"
	"github.com/satlend/exit-engine/internal/config"
	"github.com/satlend/exit-engine/internal/database"
	"github.com/satlend/exit-engine/internal/exchange"
	"github.com/satlend/exit-engine/internal/metrics"
	"github.com/satlend/exit-engine/internal/model"
	"github.com/satlend/exit-engine/internal/order"
	"github.com/satlend/exit-engine/internal/price"
	"github.com/satlend/exit-engine/internal/store"
	"github.com/satlend/exit-engine/internal/worker"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		migrations, err := fs.Sub(migrationsFS, "migrations")
		if err != nil {
			slog.Error("migrations sub-fs failed", "err", err)
			os.Exit(1)
		}
		if err := database.RunMigrations(ctx, pool, migrations); err != nil {
			slog.Error("migrations failed", "err", err)
			os.Exit(1)
		}
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
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		ms := store.NewMemoryStore()
		seedDemoLoan(ctx, ms)
		st = ms
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Market price ---
	prices := price.NewCached(
		price.NewCoinGeckoClient(cfg.CoinGeckoURL, cfg.CoinGeckoDelay, cfg.CoinGeckoRetry),
		cfg.PriceCacheTTL,
	)

	// --- Exchange gateway ---
	var gw order.Gateway
	if cfg.ExchangeURL != "" {
		gw = exchange.NewHTTPGateway(cfg.ExchangeURL, cfg.ExchangeTimeout)
		slog.Info("using remote exchange", "url", cfg.ExchangeURL)
	} else {
		gw = exchange.NewPaper(st, prices, cfg.PaperMinBTC)
		slog.Warn("EXCHANGE_URL not set, using paper exchange", "min_btc", cfg.PaperMinBTC.String())
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()
	defer wsHub.Stop()

	// --- Order service ---
	orderSvc := order.NewService(st, gw, wsHub)
	handler := api.NewHandler(orderSvc, st, prices)

	// --- Background sync ---
	if cfg.SyncSchedule != config.SyncDisabled {
		syncWorker := worker.NewSyncWorker(ctx, st, orderSvc, time.Minute)
		if err := syncWorker.Schedule(cfg.SyncSchedule); err != nil {
			slog.Error("sync worker", "err", err)
			os.Exit(1)
		}
		syncWorker.Start()
		defer syncWorker.Stop()
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
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
		w.Write([]byte(`{"status":"ok","service":"exit-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for order status changes. Outside the timeout
		// group so long-lived connections are not cut.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			handler.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("exit-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down exit-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("exit-engine stopped")
}

// seedDemoLoan gives the in-memory store one loan so the API can be tried
// without a database.
func seedDemoLoan(ctx context.Context, ms *store.MemoryStore) {
	now := time.Now().UTC()
	loan := &model.Loan{
		ID:                 "demo-loan",
		UserID:             "demo-user",
		PurchasedBTC:       decimal.RequireFromString("0.15"),
		FeesBTC:            decimal.Zero,
		TransactionFeesBTC: decimal.Zero,
		RepaymentCZK:       decimal.NewFromInt(250000),
		RepaymentDate:      now.AddDate(1, 0, 0),
		CreatedAt:          now,
	}
	if err := ms.CreateLoan(ctx, loan); err != nil {
		slog.Warn("seeding demo loan failed", "err", err)
		return
	}
	slog.Info("seeded demo loan", "loan", loan.ID, "user", loan.UserID)
}
