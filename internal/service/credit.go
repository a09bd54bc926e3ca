package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/credit"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/sim"
	"github.com/atmx/risk-engine/internal/validate"
)

// --- Request types ---

// CreditInput is one portfolio row. PD may be omitted when Rating is set;
// it is then looked up in the rating table for the portfolio horizon.
type CreditInput struct {
	ObligorID string          `json:"obligor_id" validate:"required"`
	Exposure  decimal.Decimal `json:"exposure"`
	PD        *float64        `json:"pd,omitempty" validate:"omitempty,gte=0,lte=1"`
	LGD       float64         `json:"lgd" validate:"gte=0,lte=1"`
	Sector    string          `json:"sector"`
	Rating    string          `json:"rating,omitempty"`
}

// PortfolioInput is the JSON body for portfolio creation and inline runs.
type PortfolioInput struct {
	Name              string         `json:"name" validate:"max=200"`
	Credits           []CreditInput  `json:"credits" validate:"required,min=1,dive"`
	Sectors           []model.Sector `json:"sectors,omitempty"`
	SectorCorrelation [][]float64    `json:"sector_correlation,omitempty"`
	GlobalRho         float64        `json:"global_rho" validate:"gte=0,lte=1"`
	// Horizon in years selects the rating-table column; 0 → configured
	// default.
	Horizon int `json:"horizon" validate:"gte=0"`
}

// CreditSimulateRequest is the JSON body for POST /api/v1/credit/simulate.
type CreditSimulateRequest struct {
	Portfolio PortfolioInput `json:"portfolio"`
	Run       RunParams      `json:"run"`
}

// portfolio validates in and builds a model portfolio, resolving rating
// PDs. The result is checked by the credit model so configuration errors
// surface before anything is stored or run.
func (s *Service) portfolio(in PortfolioInput) (*model.Portfolio, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	horizon := in.Horizon
	if horizon == 0 {
		horizon = s.limits.DefaultHorizon
	}

	p := &model.Portfolio{
		ID:                uuid.New().String(),
		Name:              strings.TrimSpace(in.Name),
		Sectors:           in.Sectors,
		SectorCorrelation: in.SectorCorrelation,
		GlobalRho:         in.GlobalRho,
		CreatedAt:         time.Now().UTC(),
		Credits:           make([]model.Credit, len(in.Credits)),
	}
	for i, c := range in.Credits {
		var pd float64
		switch {
		case c.PD != nil:
			pd = *c.PD
		case c.Rating != "":
			pd = s.ratings.PD(strings.ToUpper(c.Rating), horizon)
		default:
			return nil, model.Invalid(fmt.Sprintf("credits[%d].pd", i), "pd or rating is required")
		}
		p.Credits[i] = model.Credit{
			ObligorID: c.ObligorID,
			Exposure:  c.Exposure,
			PD:        pd,
			LGD:       c.LGD,
			Sector:    c.Sector,
			Rating:    strings.ToUpper(strings.TrimSpace(c.Rating)),
		}
	}
	if _, err := credit.NewModel(p); err != nil {
		return nil, err
	}
	return p, nil
}

// --- HTTP Handlers ---

// CreatePortfolio handles POST /api/v1/portfolios
func (s *Service) CreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var in PortfolioInput
	if err := decode(r, &in); err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := s.portfolio(in)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.store.CreatePortfolio(r.Context(), p); err != nil {
		writeErr(w, r, err)
		return
	}

	slog.Info("portfolio created",
		"id", p.ID,
		"name", p.Name,
		"credits", len(p.Credits),
		"total_exposure", p.TotalExposure().String(),
	)
	writeJSON(w, http.StatusCreated, p)
}

// ListPortfolios handles GET /api/v1/portfolios
func (s *Service) ListPortfolios(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListPortfolios(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if list == nil {
		list = []model.PortfolioSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetPortfolio handles GET /api/v1/portfolios/{portfolioID}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPortfolio(r.Context(), chi.URLParam(r, "portfolioID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SimulatePortfolio handles POST /api/v1/portfolios/{portfolioID}/simulate
// Runs the credit engine on a stored portfolio. The body holds RunParams
// and may be empty.
func (s *Service) SimulatePortfolio(w http.ResponseWriter, r *http.Request) {
	var params RunParams
	if err := decode(r, &params); err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := s.store.GetPortfolio(r.Context(), chi.URLParam(r, "portfolioID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	report, err := s.simulateCredit(r.Context(), p, params, middleware.GetReqID(r.Context()), s.observer())
	writeResult(w, r, report, err)
}

// SimulateCredit handles POST /api/v1/credit/simulate
// Runs the credit engine on an inline portfolio without storing it.
func (s *Service) SimulateCredit(w http.ResponseWriter, r *http.Request) {
	var req CreditSimulateRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := s.portfolio(req.Portfolio)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	report, err := s.simulateCredit(r.Context(), p, req.Run, middleware.GetReqID(r.Context()), s.observer())
	writeResult(w, r, report, err)
}

func (s *Service) simulateCredit(ctx context.Context, p *model.Portfolio, params RunParams, runID string, obs sim.Observer) (*model.CreditReport, error) {
	if err := validate.Struct(params); err != nil {
		return nil, err
	}
	run, err := s.creditRun(params)
	if err != nil {
		return nil, err
	}
	return credit.Simulate(ctx, p, run, s.creditOptions(runID, obs))
}
