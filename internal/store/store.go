// Package store defines the catalog of simulation inputs: credit portfolios
// and option contracts. Implementations include PostgreSQL (source of
// truth), Redis (read-through cache), and in-memory (for testing).
//
// Simulation results are never persisted.
package store

import (
	"context"
	"errors"

	"github.com/atmx/risk-engine/internal/model"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a record with the same id exists.
	ErrConflict = errors.New("store: already exists")
)

// Store is the catalog interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Portfolios ---

	// CreatePortfolio persists a portfolio with its credits and sectors.
	CreatePortfolio(ctx context.Context, p *model.Portfolio) error

	// GetPortfolio retrieves a portfolio by its ID, credits in load order.
	GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error)

	// ListPortfolios returns summaries, newest first.
	ListPortfolios(ctx context.Context) ([]model.PortfolioSummary, error)

	// --- Option contracts ---

	// CreateContract persists a named contract record.
	CreateContract(ctx context.Context, c *model.ContractRecord) error

	// GetContract retrieves a contract record by its ID.
	GetContract(ctx context.Context, id string) (*model.ContractRecord, error)

	// ListContracts returns all contract records, newest first.
	ListContracts(ctx context.Context) ([]model.ContractRecord, error)
}
