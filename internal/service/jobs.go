package service

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/risk-engine/internal/jobs"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/sim"
	"github.com/atmx/risk-engine/internal/validate"
)

// JobRequest is the JSON body for POST /api/v1/jobs. A credit job takes
// either PortfolioID or an inline Portfolio; an option job takes either
// ContractID or an inline Contract.
type JobRequest struct {
	Engine      string          `json:"engine" validate:"oneof=credit option"`
	PortfolioID string          `json:"portfolio_id,omitempty"`
	Portfolio   *PortfolioInput `json:"portfolio,omitempty"`
	ContractID  string          `json:"contract_id,omitempty"`
	Contract    json.RawMessage `json:"contract,omitempty"`
	Run         RunParams       `json:"run"`
}

// SubmitJob handles POST /api/v1/jobs
// Inputs are resolved and validated before the job is accepted, so a bad
// request fails with 400 instead of producing a failed job.
func (s *Service) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeErr(w, r, err)
		return
	}

	var fn jobs.Func
	var err error
	switch req.Engine {
	case model.EngineCredit:
		fn, err = s.creditJob(r.Context(), req)
	case model.EngineOption:
		fn, err = s.optionJob(r.Context(), req)
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}

	job := s.jobs.Submit(req.Engine, fn)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Service) creditJob(ctx context.Context, req JobRequest) (jobs.Func, error) {
	var p *model.Portfolio
	var err error
	switch {
	case req.PortfolioID != "" && req.Portfolio != nil:
		return nil, model.Invalid("portfolio", "set either portfolio_id or portfolio, not both")
	case req.PortfolioID != "":
		p, err = s.store.GetPortfolio(ctx, req.PortfolioID)
	case req.Portfolio != nil:
		p, err = s.portfolio(*req.Portfolio)
	default:
		return nil, model.Invalid("portfolio_id", "portfolio_id or portfolio is required")
	}
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(req.Run); err != nil {
		return nil, err
	}
	if _, err := s.creditRun(req.Run); err != nil {
		return nil, err
	}

	return func(ctx context.Context, runID string, obs sim.Observer) (any, error) {
		report, err := s.simulateCredit(ctx, p, req.Run, runID, obs)
		if report == nil {
			return nil, err
		}
		return report, err
	}, nil
}

func (s *Service) optionJob(ctx context.Context, req JobRequest) (jobs.Func, error) {
	raw := req.Contract
	switch {
	case req.ContractID != "" && len(raw) > 0:
		return nil, model.Invalid("contract", "set either contract_id or contract, not both")
	case req.ContractID != "":
		rec, err := s.store.GetContract(ctx, req.ContractID)
		if err != nil {
			return nil, err
		}
		raw = rec.Spec
	case len(raw) == 0:
		return nil, model.Invalid("contract_id", "contract_id or contract is required")
	}
	if _, _, err := parseContract(raw); err != nil {
		return nil, err
	}
	if err := validate.Struct(req.Run); err != nil {
		return nil, err
	}
	if _, err := s.trials(req.Run); err != nil {
		return nil, err
	}

	return func(ctx context.Context, runID string, obs sim.Observer) (any, error) {
		report, err := s.priceOption(ctx, raw, req.Run, runID, obs)
		if report == nil {
			return nil, err
		}
		return report, err
	}, nil
}

// ListJobs handles GET /api/v1/jobs
func (s *Service) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.List())
}

// GetJob handles GET /api/v1/jobs/{jobID}
func (s *Service) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob handles DELETE /api/v1/jobs/{jobID}
// Cancellation is cooperative; the response is the job state at the time
// of the request and the final state is visible through GetJob.
func (s *Service) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Cancel(chi.URLParam(r, "jobID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}
