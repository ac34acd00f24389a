// internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"docdelta/internal/diff"
	"docdelta/internal/errors"
	"docdelta/internal/logging"
	"docdelta/internal/pipeline"
	"docdelta/internal/state"
	"docdelta/internal/validation"

	"go.uber.org/zap"
)

const (
	// maxBody bounds request bodies; a patch is the only large field.
	maxBody = 16 << 20

	diffContext = 3
)

// Planner is the part of the pipeline the HTTP surface drives.
type Planner interface {
	Estimate(ctx context.Context) (*pipeline.Estimate, error)
	Status(ctx context.Context) (*pipeline.Status, error)
	Plan(ctx context.Context, req pipeline.PlanRequest) (*pipeline.PlanReport, error)
	Run(ctx context.Context, req pipeline.RunRequest) (*pipeline.RunReport, error)
}

type Historian = state.Historian

// PlanRequest is the body of POST /api/plan and POST /api/run.
type PlanRequest struct {
	Patch  string `json:"patch,omitempty" validate:"max=16000000"`
	DryRun bool   `json:"dry_run,omitempty"`
}

type Handler struct {
	planner Planner
	store   state.Store
	logger  *logging.Logger
}

func NewHandler(planner Planner, store state.Store, logger *logging.Logger) *Handler {
	return &Handler{planner: planner, store: store, logger: logger.Or()}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	est, err := h.planner.Estimate(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.planner.Status(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	req, err := decodePlanRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	plan, err := h.planner.Plan(r.Context(), pipeline.PlanRequest{Patch: req.patch()})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	req, err := decodePlanRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rep, err := h.planner.Run(r.Context(), pipeline.RunRequest{Patch: req.patch(), DryRun: req.DryRun})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Load(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if s == nil {
		h.writeError(w, r, errors.NotFound("no documentation state has been saved"))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	hist, ok := h.store.(Historian)
	if !ok {
		h.writeError(w, r, errors.NotFound("state backend keeps no history"))
		return
	}
	entries, err := hist.History(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) HistoryCommit(w http.ResponseWriter, r *http.Request) {
	commit := r.PathValue("commit")
	if commit == "" {
		h.writeError(w, r, errors.ValidationError("missing commit", nil))
		return
	}
	hist, ok := h.store.(Historian)
	if !ok {
		h.writeError(w, r, errors.NotFound("state backend keeps no history"))
		return
	}
	s, err := hist.LoadCommit(r.Context(), commit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Diff compares the archived state of ?from= with ?to=, or with the current
// state when to is omitted.
func (h *Handler) Diff(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	if from == "" {
		h.writeError(w, r, errors.ValidationError("missing from commit", nil))
		return
	}
	d, err := diff.NewEngine(diffContext).Between(r.Context(), h.store, from, r.URL.Query().Get("to"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (p PlanRequest) patch() []byte {
	if p.Patch == "" {
		return nil
	}
	return []byte(p.Patch)
}

func decodePlanRequest(r *http.Request) (PlanRequest, error) {
	var req PlanRequest
	if r.Body == nil {
		return req, nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req)
	if err != nil && !stderrors.Is(err, io.EOF) {
		return req, errors.ValidationError("invalid request body", err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return req, err
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as an *errors.Error body with its HTTP code.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.HTTPCode(err)

	var body *errors.Error
	if !stderrors.As(err, &body) {
		body = errors.Internal(err)
	}
	out := *body
	out.Code = code
	out.Message = err.Error()

	logger := h.logger.WithRequestID(r.Context())
	if code >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", code), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.Int("status", code), zap.Error(err))
	}
	writeJSON(w, code, &out)
}
