package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Catalog records are immutable once created, so writes populate the
// cache and reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, then cache) ---

func (s *CachedStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	if err := s.primary.CreatePortfolio(ctx, p); err != nil {
		return err
	}
	s.put(ctx, portfolioKey(p.ID), p)
	// The listing changed; next read will re-populate.
	s.rdb.Del(ctx, portfolioListKey)
	return nil
}

func (s *CachedStore) CreateContract(ctx context.Context, c *model.ContractRecord) error {
	if err := s.primary.CreateContract(ctx, c); err != nil {
		return err
	}
	s.put(ctx, contractKey(c.ID), c)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	var p model.Portfolio
	if s.get(ctx, portfolioKey(id), &p) {
		return &p, nil
	}

	got, err := s.primary.GetPortfolio(ctx, id)
	if err != nil {
		return nil, err
	}
	s.put(ctx, portfolioKey(id), got)
	return got, nil
}

func (s *CachedStore) ListPortfolios(ctx context.Context) ([]model.PortfolioSummary, error) {
	var list []model.PortfolioSummary
	if s.get(ctx, portfolioListKey, &list) {
		return list, nil
	}

	list, err := s.primary.ListPortfolios(ctx)
	if err != nil {
		return nil, err
	}
	s.put(ctx, portfolioListKey, list)
	return list, nil
}

func (s *CachedStore) GetContract(ctx context.Context, id string) (*model.ContractRecord, error) {
	var c model.ContractRecord
	if s.get(ctx, contractKey(id), &c) {
		return &c, nil
	}

	got, err := s.primary.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	s.put(ctx, contractKey(id), got)
	return got, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListContracts(ctx context.Context) ([]model.ContractRecord, error) {
	return s.primary.ListContracts(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil && json.Unmarshal(data, v) == nil {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return true
	}
	if err != nil && err != redis.Nil {
		slog.Warn("catalog cache read failed", "key", key, "error", err)
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	return false
}

func (s *CachedStore) put(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		slog.Warn("catalog cache write failed", "key", key, "error", err)
	}
}

const portfolioListKey = "portfolios"

func portfolioKey(id string) string { return fmt.Sprintf("portfolio:%s", id) }
func contractKey(id string) string  { return fmt.Sprintf("contract:%s", id) }
