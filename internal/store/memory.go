package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/risk-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	portfolios map[string]*model.Portfolio
	contracts  map[string]*model.ContractRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios: make(map[string]*model.Portfolio),
		contracts:  make(map[string]*model.ContractRecord),
	}
}

func (s *MemoryStore) CreatePortfolio(_ context.Context, p *model.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.portfolios[p.ID]; ok {
		return fmt.Errorf("portfolio %s: %w", p.ID, ErrConflict)
	}
	s.portfolios[p.ID] = clonePortfolio(p)
	return nil
}

func (s *MemoryStore) GetPortfolio(_ context.Context, id string) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[id]
	if !ok {
		return nil, fmt.Errorf("portfolio %s: %w", id, ErrNotFound)
	}
	return clonePortfolio(p), nil
}

func (s *MemoryStore) ListPortfolios(_ context.Context) ([]model.PortfolioSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.PortfolioSummary, 0, len(s.portfolios))
	for _, p := range s.portfolios {
		out = append(out, p.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateContract(_ context.Context, c *model.ContractRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contracts[c.ID]; ok {
		return fmt.Errorf("contract %s: %w", c.ID, ErrConflict)
	}
	cp := *c
	cp.Spec = append([]byte(nil), c.Spec...)
	s.contracts[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetContract(_ context.Context, id string) (*model.ContractRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListContracts(_ context.Context) ([]model.ContractRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ContractRecord, 0, len(s.contracts))
	for _, c := range s.contracts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// clonePortfolio deep-copies p so callers cannot mutate stored state.
func clonePortfolio(p *model.Portfolio) *model.Portfolio {
	cp := *p
	cp.Credits = append([]model.Credit(nil), p.Credits...)
	cp.Sectors = append([]model.Sector(nil), p.Sectors...)
	if p.SectorCorrelation != nil {
		cp.SectorCorrelation = make([][]float64, len(p.SectorCorrelation))
		for i, row := range p.SectorCorrelation {
			cp.SectorCorrelation[i] = append([]float64(nil), row...)
		}
	}
	return &cp
}
