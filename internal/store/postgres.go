package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/model"
)

// Schema creates the catalog tables. Exposures are NUMERIC for exact
// decimal precision; sector structure and contract records are JSONB.
const Schema = `
CREATE TABLE IF NOT EXISTS portfolios (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	global_rho         DOUBLE PRECISION NOT NULL,
	sectors            JSONB NOT NULL DEFAULT '[]',
	sector_correlation JSONB,
	created_at         TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS credits (
	portfolio_id TEXT NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	obligor_id   TEXT NOT NULL,
	exposure     NUMERIC NOT NULL,
	pd           DOUBLE PRECISION NOT NULL,
	lgd          DOUBLE PRECISION NOT NULL,
	sector       TEXT NOT NULL,
	rating       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (portfolio_id, position)
);
CREATE TABLE IF NOT EXISTS contracts (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	spec       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);`

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	sectors, err := json.Marshal(p.Sectors)
	if err != nil {
		return err
	}
	var corr []byte
	if p.SectorCorrelation != nil {
		if corr, err = json.Marshal(p.SectorCorrelation); err != nil {
			return err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO portfolios (id, name, global_rho, sectors, sector_correlation, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.GlobalRho, sectors, corr, p.CreatedAt,
	)
	if err != nil {
		return conflict("portfolio", p.ID, err)
	}

	batch := &pgx.Batch{}
	for i, c := range p.Credits {
		batch.Queue(
			`INSERT INTO credits (portfolio_id, position, obligor_id, exposure, pd, lgd, sector, rating)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8)`,
			p.ID, i, c.ObligorID, c.Exposure.String(), c.PD, c.LGD, c.Sector, c.Rating,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert credits of portfolio %s: %w", p.ID, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	var p model.Portfolio
	var sectors, corr []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, global_rho, sectors, sector_correlation, created_at
		 FROM portfolios WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.GlobalRho, &sectors, &corr, &p.CreatedAt)
	if err != nil {
		return nil, notFound("portfolio", id, err)
	}
	if err := json.Unmarshal(sectors, &p.Sectors); err != nil {
		return nil, fmt.Errorf("decode sectors of portfolio %s: %w", id, err)
	}
	if len(corr) > 0 {
		if err := json.Unmarshal(corr, &p.SectorCorrelation); err != nil {
			return nil, fmt.Errorf("decode sector correlation of portfolio %s: %w", id, err)
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT obligor_id, exposure::TEXT, pd, lgd, sector, rating
		 FROM credits WHERE portfolio_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c model.Credit
		var exposure string
		if err := rows.Scan(&c.ObligorID, &exposure, &c.PD, &c.LGD, &c.Sector, &c.Rating); err != nil {
			return nil, err
		}
		if c.Exposure, err = parseMoney(exposure); err != nil {
			return nil, fmt.Errorf("decode exposure of %s in portfolio %s: %w", c.ObligorID, id, err)
		}
		p.Credits = append(p.Credits, c)
	}
	return &p, rows.Err()
}

func (s *PostgresStore) ListPortfolios(ctx context.Context) ([]model.PortfolioSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.name, COUNT(c.position), COALESCE(SUM(c.exposure), 0)::TEXT, p.created_at
		 FROM portfolios p
		 LEFT JOIN credits c ON c.portfolio_id = p.id
		 GROUP BY p.id, p.name, p.created_at
		 ORDER BY p.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PortfolioSummary
	for rows.Next() {
		var ps model.PortfolioSummary
		var total string
		if err := rows.Scan(&ps.ID, &ps.Name, &ps.Credits, &total, &ps.CreatedAt); err != nil {
			return nil, err
		}
		if ps.TotalExposure, err = parseMoney(total); err != nil {
			return nil, fmt.Errorf("decode total exposure of portfolio %s: %w", ps.ID, err)
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateContract(ctx context.Context, c *model.ContractRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contracts (id, name, spec, created_at) VALUES ($1, $2, $3, $4)`,
		c.ID, c.Name, c.Spec, c.CreatedAt,
	)
	return conflict("contract", c.ID, err)
}

func (s *PostgresStore) GetContract(ctx context.Context, id string) (*model.ContractRecord, error) {
	var c model.ContractRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, spec, created_at FROM contracts WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Spec, &c.CreatedAt)
	if err != nil {
		return nil, notFound("contract", id, err)
	}
	return &c, nil
}

func (s *PostgresStore) ListContracts(ctx context.Context) ([]model.ContractRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, spec, created_at FROM contracts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ContractRecord, error) {
		var c model.ContractRecord
		err := row.Scan(&c.ID, &c.Name, &c.Spec, &c.CreatedAt)
		return c, err
	})
}

// parseMoney decodes a NUMERIC column read as text.
func parseMoney(text string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid numeric %q: %w", text, err)
	}
	return d, nil
}

// notFound maps pgx.ErrNoRows to ErrNotFound.
func notFound(kind, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("get %s %s: %w", kind, id, err)
}

// conflict maps unique violations to ErrConflict.
func conflict(kind, id string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s %s: %w", kind, id, ErrConflict)
	}
	return fmt.Errorf("insert %s %s: %w", kind, id, err)
}
