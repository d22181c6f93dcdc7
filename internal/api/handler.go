// Package api exposes the match pipeline over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"influencer-match/internal/common/errors"
	"influencer-match/internal/common/metrics"
	"influencer-match/internal/common/observability"
	"influencer-match/internal/match/guard"
	"influencer-match/internal/match/orchestrator"
	"influencer-match/internal/models"
)

// Matcher runs a guarded brief through the pipeline.
type Matcher interface {
	Match(ctx context.Context, req models.CampaignRequest) (*orchestrator.Result, error)
}

type StatsProvider interface {
	Snapshot(ctx context.Context) (*models.PlatformStats, error)
}

// Pinger is a datastore checked by /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Logger interface definition
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Deps are the collaborators a Handler serves. Stats, Ready and
// Observability are optional.
type Deps struct {
	Guard         *guard.Guard
	Matcher       Matcher
	Stats         StatsProvider
	Ready         map[string]Pinger
	Observability *observability.Observability
	Logger        Logger
}

type Handler struct {
	guard   *guard.Guard
	matcher Matcher
	stats   StatsProvider
	ready   map[string]Pinger
	obs     *observability.Observability
	logger  Logger
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		guard:   deps.Guard,
		matcher: deps.Matcher,
		stats:   deps.Stats,
		ready:   deps.Ready,
		obs:     deps.Observability,
		logger:  deps.Logger,
	}
}

type matchResponse struct {
	Data *orchestrator.Result `json:"data"`
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) match(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	guard.CORSHeaders(w)
	h.logger.Info("match stage", map[string]interface{}{
		"stage":     orchestrator.StageReceived,
		"method":    r.Method,
		"requestId": RequestIDFromContext(r.Context()),
	})

	verdict := h.guard.Inspect(r)
	switch verdict.Outcome {
	case guard.Preflight:
		w.WriteHeader(http.StatusNoContent)
		return
	case guard.Allow:
	default:
		h.finish(r.Context(), orchestrator.Outcome(nil, verdict.Err()), start)
		errors.WriteError(w, r, verdict.Err(), h.logger)
		return
	}

	res, err := h.matcher.Match(r.Context(), verdict.Request)
	h.finish(r.Context(), orchestrator.Outcome(res, err), start)
	if err != nil {
		errors.WriteError(w, r, err, h.logger)
		return
	}

	errors.WriteJSON(w, http.StatusOK, matchResponse{Data: res})
}

func (h *Handler) finish(ctx context.Context, outcome string, start time.Time) {
	metrics.MatchRequests.WithLabelValues(outcome).Inc()
	h.obs.RecordMatch(ctx, outcome, time.Since(start))
}

func (h *Handler) platformStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		errors.WriteJSON(w, http.StatusNotFound, errors.ErrorBody{Error: "Not Found"})
		return
	}
	snap, err := h.stats.Snapshot(r.Context())
	if err != nil {
		errors.WriteError(w, r, err, h.logger)
		return
	}
	errors.WriteJSON(w, http.StatusOK, snap)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	errors.WriteJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.ready))
	status := http.StatusOK
	for name, p := range h.ready {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", map[string]interface{}{
				"check": name,
				"error": err.Error(),
			})
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	resp := statusResponse{Status: "ready", Checks: checks}
	if status != http.StatusOK {
		resp.Status = "not ready"
	}
	errors.WriteJSON(w, status, resp)
}
