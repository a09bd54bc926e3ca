package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/risk-engine/internal/config"
	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/service"
	"github.com/atmx/risk-engine/internal/store"
)

// openStore returns the catalog: PostgreSQL (migrated) with an optional
// Redis read-through cache when DATABASE_URL is set, otherwise memory. The
// returned func releases every connection opened.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), func() {}, nil
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	closers = append(closers, pool.Close)

	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	if cfg.RedisURL == "" {
		return pg, closeAll, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	closers = append(closers, func() { rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable, cache lookups will miss", "err", err)
	}
	slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	return store.NewCachedStore(pg, rdb, cfg.CacheTTL), closeAll, nil
}

// cors allows the dashboard to call the API cross-origin and read the
// partial-result header.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Expose-Headers", "X-Partial-Result, X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newRouter(svc *service.Service, hub *service.WSHub) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"risk-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", hub.HandleWS)

		r.Route("/portfolios", func(r chi.Router) {
			r.Get("/", svc.ListPortfolios)
			r.Post("/", svc.CreatePortfolio)
			r.Get("/{portfolioID}", svc.GetPortfolio)
			r.Post("/{portfolioID}/simulate", svc.SimulatePortfolio)
		})
		r.Post("/credit/simulate", svc.SimulateCredit)

		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", svc.ListContracts)
			r.Post("/", svc.CreateContract)
			r.Get("/{contractID}", svc.GetContract)
			r.Post("/{contractID}/price", svc.PriceContract)
		})
		r.Post("/options/price", svc.PriceOption)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", svc.ListJobs)
			r.Post("/", svc.SubmitJob)
			r.Get("/{jobID}", svc.GetJob)
			r.Delete("/{jobID}", svc.CancelJob)
		})
	})
	return r
}
