package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/detector"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feedback"
)

// Decider serves fraud decisions from the loaded generation.
type Decider interface {
	Decide(ctx context.Context, tx domain.Transaction) (*domain.Decision, error)
	Ready() bool
	GenerationID() string
	Reload(ctx context.Context, src detector.Source) (string, error)
}

// Pinger is a backend checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the handlers serve. Bus may be nil, in which
// case POST /retrain answers 503.
type Deps struct {
	Detector    Decider
	Recorder    *feedback.Recorder
	Generations *artifact.Manager
	Bus         domain.EventBus
	Checks      map[string]Pinger
	Version     string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	detector    Decider
	recorder    *feedback.Recorder
	generations *artifact.Manager
	bus         domain.EventBus
	checks      map[string]Pinger
	version     string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		detector:    deps.Detector,
		recorder:    deps.Recorder,
		generations: deps.Generations,
		bus:         deps.Bus,
		checks:      deps.Checks,
		version:     deps.Version,
	}
}

// PredictResponse is the response for POST /predict. The identifiers and
// the analysis are only included with ?verbose=true.
type PredictResponse struct {
	Prediction   string                   `json:"prediction"`
	RiskScore    int                      `json:"risk_score"`
	Mitigation   string                   `json:"mitigation"`
	Pattern      string                   `json:"pattern"`
	DecisionID   string                   `json:"decision_id,omitempty"`
	GenerationID string                   `json:"generation_id,omitempty"`
	Analysis     *domain.DecisionAnalysis `json:"analysis,omitempty"`
}

// Predict handles POST /predict requests.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var tx domain.Transaction
	if !decodeBody(w, r, &tx, domain.TransactionFields) {
		return
	}

	decision, err := h.detector.Decide(r.Context(), tx)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := PredictResponse{
		Prediction: decision.Prediction,
		RiskScore:  decision.RiskScore,
		Mitigation: decision.Mitigation,
		Pattern:    decision.Pattern,
	}
	if verbose, _ := strconv.ParseBool(r.URL.Query().Get("verbose")); verbose {
		resp.DecisionID = decision.ID
		resp.GenerationID = decision.GenerationID
		analysis := decision.Analysis
		resp.Analysis = &analysis
	}

	writeJSON(w, http.StatusOK, resp)
}

// Feedback handles POST /feedback: appends a reviewed, labeled transaction.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	var rec domain.FeedbackRecord
	if !decodeBody(w, r, &rec, domain.FeedbackFields) {
		return
	}

	if err := h.recorder.RecordLabel(r.Context(), rec); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Feedback recorded successfully.",
	})
}

// MitigationFeedback handles POST /mitigation_feedback.
func (h *Handler) MitigationFeedback(w http.ResponseWriter, r *http.Request) {
	var rec domain.MitigationFeedbackRecord
	if !decodeBody(w, r, &rec, domain.MitigationFeedbackFields) {
		return
	}

	if err := h.recorder.RecordMitigation(r.Context(), rec); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Mitigation feedback recorded successfully.",
	})
}

// ListGenerations returns all registered generations, newest first.
func (h *Handler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	gens, err := h.generations.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"generations": gens,
		"count":       len(gens),
		"serving":     h.detector.GenerationID(),
	})
}

// PromoteGeneration marks a generation as promoted. Serving processes
// pick it up on POST /generations/reload or restart.
func (h *Handler) PromoteGeneration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	info, err := h.generations.Promote(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"generation": info,
		"message":    "Generation promoted. Call POST /generations/reload to serve it.",
	})
}

// RollbackGeneration re-promotes the previously promoted generation.
func (h *Handler) RollbackGeneration(w http.ResponseWriter, r *http.Request) {
	info, err := h.generations.Rollback(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"generation": info,
		"message":    "Rolled back. Call POST /generations/reload to serve it.",
	})
}

// ReloadGeneration swaps the serving generation to the promoted one.
func (h *Handler) ReloadGeneration(w http.ResponseWriter, r *http.Request) {
	previous := h.detector.GenerationID()

	id, err := h.detector.Reload(r.Context(), h.generations)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"generation_id": id,
		"previous":      previous,
	})
}

// Retrain handles POST /retrain: queues a retraining run for the worker.
func (h *Handler) Retrain(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	req := domain.RetrainRequest{
		RequestID:   uuid.New().String(),
		RequestedBy: GetRequestID(r.Context()),
	}
	if err := bus.PublishJSON(r.Context(), h.bus, domain.TopicRetrainRequested, req); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("retrain requested", "request_id", req.RequestID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"request_id": req.RequestID,
		"status":     "accepted",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := make(map[string]string, len(h.checks))
	for name, c := range h.checks {
		if err := c.Ping(r.Context()); err != nil {
			slog.Warn("health check failed", "component", name, "error", err)
			checks[name] = "down"
			status = "degraded"
			continue
		}
		checks[name] = "up"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic: a
// generation must be loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.detector.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
			"error": domain.ErrNotServing.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready":         "true",
		"generation_id": h.detector.GenerationID(),
	})
}

// decodeBody decodes a JSON object into dst, rejecting bodies that omit any
// of required or set it to null. A field absent from the body would
// otherwise decode as its zero value. It writes the 400 itself and reports
// whether the handler should continue.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, required []string) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return false
	}
	if err := domain.RequireFields(obj, required); err != nil {
		writeError(w, r, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return false
	}
	return true
}

// maxBodyBytes bounds a request body; transactions are a few hundred bytes.
const maxBodyBytes = 1 << 20

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidTime):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrGenerationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNoRollbackTarget),
		errors.Is(err, domain.ErrNoPromotedGeneration),
		errors.Is(err, domain.ErrIncompleteGeneration):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotServing):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "request_id", GetRequestID(r.Context()), "error", err)
		writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
