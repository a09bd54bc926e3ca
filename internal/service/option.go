package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/atmx/risk-engine/internal/contract"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/payoff"
	"github.com/atmx/risk-engine/internal/pricing"
	"github.com/atmx/risk-engine/internal/sim"
	"github.com/atmx/risk-engine/internal/validate"
)

// CreateContractRequest is the JSON body for POST /api/v1/contracts.
type CreateContractRequest struct {
	Name     string          `json:"name" validate:"required,max=200"`
	Contract json.RawMessage `json:"contract" validate:"required"`
}

// PriceOptionRequest is the JSON body for POST /api/v1/options/price.
type PriceOptionRequest struct {
	Contract json.RawMessage `json:"contract"`
	Run      RunParams       `json:"run"`
}

// parseContract decodes and validates a raw contract record.
func parseContract(raw json.RawMessage) (*contract.Spec, payoff.Contract, error) {
	if len(raw) == 0 {
		return nil, nil, model.Invalid("contract", "contract is required")
	}
	spec, err := contract.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	if _, _, err := spec.Build(); err != nil {
		return nil, nil, err
	}
	return spec, spec.Contract(), nil
}

// CreateContract handles POST /api/v1/contracts
func (s *Service) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeErr(w, r, err)
		return
	}
	_, c, err := parseContract(req.Contract)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	rec := &model.ContractRecord{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(req.Name),
		Spec:      req.Contract,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateContract(r.Context(), rec); err != nil {
		writeErr(w, r, err)
		return
	}

	slog.Info("contract created", "id", rec.ID, "name", rec.Name, "contract", payoff.Describe(c))
	writeJSON(w, http.StatusCreated, rec)
}

// ListContracts handles GET /api/v1/contracts
func (s *Service) ListContracts(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListContracts(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if list == nil {
		list = []model.ContractRecord{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetContract handles GET /api/v1/contracts/{contractID}
func (s *Service) GetContract(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetContract(r.Context(), chi.URLParam(r, "contractID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// PriceContract handles POST /api/v1/contracts/{contractID}/price
// The body holds RunParams and may be empty.
func (s *Service) PriceContract(w http.ResponseWriter, r *http.Request) {
	var params RunParams
	if err := decode(r, &params); err != nil {
		writeErr(w, r, err)
		return
	}
	rec, err := s.store.GetContract(r.Context(), chi.URLParam(r, "contractID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	report, err := s.priceOption(r.Context(), rec.Spec, params, middleware.GetReqID(r.Context()), s.observer())
	writeResult(w, r, report, err)
}

// PriceOption handles POST /api/v1/options/price
// Prices an inline contract without storing it.
func (s *Service) PriceOption(w http.ResponseWriter, r *http.Request) {
	var req PriceOptionRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	report, err := s.priceOption(r.Context(), req.Contract, req.Run, middleware.GetReqID(r.Context()), s.observer())
	writeResult(w, r, report, err)
}

// priceOption runs the option engine. The confidence interval is always
// 99%, so params.Confidence is not used.
func (s *Service) priceOption(ctx context.Context, raw json.RawMessage, params RunParams, runID string, obs sim.Observer) (*model.OptionReport, error) {
	if err := validate.Struct(params); err != nil {
		return nil, err
	}
	spec, c, err := parseContract(raw)
	if err != nil {
		return nil, err
	}
	n, err := s.trials(params)
	if err != nil {
		return nil, err
	}
	req := pricing.Request{
		Contract:    c,
		Market:      spec.Market(),
		Trials:      n,
		Seed:        params.Seed,
		KeepPayoffs: params.KeepSample,
		Bins:        params.Bins,
	}
	opts := pricing.Options{
		Workers:   s.limits.Workers,
		BatchSize: s.limits.BatchSize,
		Observer:  obs,
		RunID:     runID,
	}
	return pricing.Price(ctx, req, opts)
}
