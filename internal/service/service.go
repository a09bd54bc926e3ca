// Package service provides the HTTP API of the risk engine: a catalog of
// portfolios and option contracts, synchronous and asynchronous simulation
// runs, and a WebSocket feed of run progress.
//
// Money crosses the API as shopspring/decimal. Configuration errors map to
// 400 with the offending field named; cancelled runs that produced a result
// return 200 with "partial": true.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/risk-engine/internal/config"
	"github.com/atmx/risk-engine/internal/credit"
	"github.com/atmx/risk-engine/internal/jobs"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/sim"
	"github.com/atmx/risk-engine/internal/store"
)

// Service handles catalog and simulation requests.
type Service struct {
	store   store.Store
	jobs    *jobs.Registry
	ratings credit.RatingTable
	limits  config.Sim
	wsHub   *WSHub // optional WebSocket hub for progress broadcasts
}

// NewService creates a new service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, registry *jobs.Registry, ratings credit.RatingTable, limits config.Sim, hub *WSHub) *Service {
	return &Service{
		store:   st,
		jobs:    registry,
		ratings: ratings,
		limits:  limits,
		wsHub:   hub,
	}
}

// observer returns the progress observer for synchronous runs.
func (s *Service) observer() sim.Observer {
	if s.wsHub == nil {
		return nil
	}
	return s.wsHub.Observer()
}

// RunParams are the per-run settings shared by both engines. Zero values
// take the configured defaults.
type RunParams struct {
	Trials     int     `json:"trials" validate:"gte=0"`
	Confidence float64 `json:"confidence" validate:"gte=0,lt=1"`
	Seed       *uint64 `json:"seed,omitempty"`
	Bins       int     `json:"bins" validate:"gte=0,lte=1000"`
	// KeepSample returns the full loss sample (credit) or builds a payoff
	// histogram (option).
	KeepSample bool `json:"keep_sample"`
}

func (s *Service) trials(p RunParams) (int, error) {
	n := p.Trials
	if n == 0 {
		n = s.limits.DefaultTrials
	}
	if n > s.limits.MaxTrials {
		return 0, model.Invalid("trials", "must not exceed %d, got %d", s.limits.MaxTrials, n)
	}
	return n, nil
}

func (s *Service) creditRun(p RunParams) (model.CreditRun, error) {
	n, err := s.trials(p)
	if err != nil {
		return model.CreditRun{}, err
	}
	conf := p.Confidence
	if conf == 0 {
		conf = s.limits.DefaultConfidence
	}
	return model.CreditRun{Trials: n, Confidence: conf, Seed: p.Seed, Bins: p.Bins, KeepLosses: p.KeepSample}, nil
}

func (s *Service) creditOptions(runID string, obs sim.Observer) credit.Options {
	return credit.Options{Workers: s.limits.Workers, BatchSize: s.limits.BatchSize, Observer: obs, RunID: runID}
}

// decode reads a JSON body strictly. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return model.Invalid("body", "invalid request body: %v", err)
	}
	return nil
}

// writeResult writes a run result; partial results are flagged in a header
// as well as in the body.
func writeResult(w http.ResponseWriter, r *http.Request, result any, err error) {
	if err != nil && !errors.Is(err, model.ErrPartialResult) {
		writeErr(w, r, err)
		return
	}
	if err != nil {
		w.Header().Set("X-Partial-Result", "true")
	}
	writeJSON(w, http.StatusOK, result)
}

// writeErr maps err onto an HTTP status and writes it.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var cfg *model.ConfigError
	status := http.StatusInternalServerError
	body := map[string]string{"error": err.Error()}

	switch {
	case errors.As(err, &cfg):
		status = http.StatusBadRequest
		body["field"] = cfg.Field
	case errors.Is(err, store.ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, jobs.ErrFinished):
		status = http.StatusConflict
	case errors.Is(err, model.ErrNumerical):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
