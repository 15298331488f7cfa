package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Handler holds dependencies for API handlers. Repository, cache and
// bus may be nil; endpoints that need them answer 503.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *rules.Engine
	runner   *worker.Runner
	fallback []*domain.RuleConfig
	runTTL   time.Duration
	version  string
}

// Deps groups the collaborators of a Handler.
type Deps struct {
	Repo   domain.Repository
	Cache  domain.Cache
	Bus    domain.EventBus
	Engine *rules.Engine
	Runner *worker.Runner

	// FallbackRules replace an empty rule store on reload.
	FallbackRules []*domain.RuleConfig

	// RunTTL is applied to runs cached on a repository read.
	RunTTL time.Duration
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, version string) *Handler {
	fallback := deps.FallbackRules
	if len(fallback) == 0 {
		fallback = rules.DefaultReasonRules()
	}
	return &Handler{
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		engine:   deps.Engine,
		runner:   deps.Runner,
		fallback: fallback,
		runTTL:   deps.RunTTL,
		version:  version,
	}
}

// RunRequestBody is the request body for POST /runs and POST /runs/async.
// Extract paths are relative to the server's input directory.
type RunRequestBody struct {
	Input domain.InputPaths `json:"input"`
}

func (b *RunRequestBody) validate() string {
	if b.Input.Customers == "" || b.Input.Policies == "" || b.Input.Claims == "" {
		return "input.customers, input.policies and input.claims are required"
	}
	for _, path := range []string{b.Input.Customers, b.Input.Policies, b.Input.Claims, b.Input.Fraud} {
		if path != "" && !filepath.IsLocal(path) {
			return "input paths must be relative to the input directory"
		}
	}
	return ""
}

// AcceptedResponse is returned by POST /runs/async.
type AcceptedResponse struct {
	Status  string `json:"status"`
	TraceID string `json:"traceId"`
	Topic   string `json:"topic"`
}

// CreateRun handles POST /runs: a synchronous run over server-side extract paths.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body RunRequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	if msg := body.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	run, err := h.runner.Execute(ctx, &domain.RunRequest{
		TenantID: GetTenantID(ctx),
		TraceID:  GetTraceID(ctx),
		Input:    body.Input,
	})
	if err != nil {
		if domain.IsInputError(err) {
			writeError(w, http.StatusUnprocessableEntity, domain.InputErrorSummary(err))
			return
		}
		writeError(w, http.StatusInternalServerError, "run failed")
		return
	}

	writeJSON(w, http.StatusCreated, run)
}

// CreateRunAsync handles POST /runs/async by publishing a run request.
func (h *Handler) CreateRunAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	var body RunRequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	if msg := body.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	tenantID := GetTenantID(ctx)
	req := domain.RunRequest{TenantID: tenantID, TraceID: GetTraceID(ctx), Input: body.Input}
	payload, err := bus.Encode(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode run request")
		return
	}
	if err := h.bus.Publish(ctx, tenantID, domain.TopicRunRequested, payload); err != nil {
		slog.Error("failed to publish run request", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to queue run")
		return
	}

	writeJSON(w, http.StatusAccepted, AcceptedResponse{
		Status:  "ACCEPTED",
		TraceID: req.TraceID,
		Topic:   domain.TopicRunRequested,
	})
}

// ListRuns handles GET /runs?limit=N.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireRepo(w) {
		return
	}

	limit := repository.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.repo.ListRuns(ctx, GetTenantID(ctx), limit)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*domain.Run{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /runs/{id}, reading through the cache.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if h.cache != nil {
		cached, err := h.cache.GetRun(ctx, tenantID, runID)
		if err != nil {
			slog.Warn("run cache read failed", "run_id", runID, "error", err)
		}
		if cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	if !h.requireRepo(w) {
		return
	}
	run, err := h.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		h.writeLookupError(w, runID, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.SetRun(ctx, tenantID, run, h.runTTL); err != nil {
			slog.Warn("failed to cache run", "run_id", runID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, run)
}

// GetRunClaims handles GET /runs/{id}/claims in report order.
func (h *Handler) GetRunClaims(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")
	if !h.requireRepo(w) || !h.requireRun(w, r, runID) {
		return
	}

	claims, err := h.repo.ListClaimScores(ctx, tenantID, runID)
	if err != nil {
		slog.Error("failed to list claim scores", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list claims")
		return
	}
	if claims == nil {
		claims = []domain.ClaimReportRow{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runId":  runID,
		"claims": claims,
		"count":  len(claims),
	})
}

// GetRunCustomers handles GET /runs/{id}/customers[?segment=...].
func (h *Handler) GetRunCustomers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")
	if !h.requireRepo(w) || !h.requireRun(w, r, runID) {
		return
	}

	customers, err := h.repo.ListCustomerScores(ctx, tenantID, runID)
	if err != nil {
		slog.Error("failed to list customer scores", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list customers")
		return
	}

	if seg := r.URL.Query().Get("segment"); seg != "" {
		filtered := customers[:0:0]
		for _, c := range customers {
			if string(c.Segment) == seg {
				filtered = append(filtered, c)
			}
		}
		customers = filtered
	}
	if customers == nil {
		customers = []domain.CustomerReportRow{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runId":     runID,
		"customers": customers,
		"count":     len(customers),
	})
}

// ListRules returns the reason rules currently loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// CreateRuleRequest is the request body for creating a reason rule.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Tag         string `json:"tag"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Order       int    `json:"order"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// CreateRule validates a rule and stores it in the global rule table.
// The engine picks it up on POST /rules/reload.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireRepo(w) {
		return
	}

	var req CreateRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" || req.Tag == "" || req.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, tag and expression are required")
		return
	}

	rule := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    rules.GlobalTenantID,
		Tag:         req.Tag,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Order:       req.Order,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	if err := h.engine.ValidateRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule: "+err.Error())
		return
	}

	if err := h.repo.SaveRuleConfig(ctx, rules.GlobalTenantID, rule); err != nil {
		slog.Error("failed to save rule config", "id", rule.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	slog.Info("rule created", "id", rule.ID, "tag", rule.Tag)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule stored. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule disables a stored rule and reloads the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")
	if !h.requireRepo(w) {
		return
	}

	if err := h.repo.DeleteRuleConfig(ctx, rules.GlobalTenantID, ruleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		slog.Error("failed to delete rule", "id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}

	count, err := rules.SyncFromRepository(ctx, h.repo, h.engine, h.fallback)
	if err != nil {
		slog.Error("failed to reload rules after delete", "error", err)
		writeError(w, http.StatusInternalServerError, "rule deleted but reload failed: "+err.Error())
		return
	}

	slog.Info("rule deleted", "id", ruleID, "rules_count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Rule deleted and engine reloaded.",
		"count":   count,
	})
}

// ReloadRules replaces the engine's table with the stored rules.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	count, err := rules.SyncFromRepository(r.Context(), h.repo, h.engine, h.fallback)
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded", "count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

// Health reports component health. Any failing dependency degrades it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	components := map[string]string{}
	status := "healthy"

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			components[name] = "down"
			status = "degraded"
			return
		}
		components[name] = "up"
	}
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("eventBus", func() error { return h.bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	})
}

// Ready reports whether the engine has a rule table to score with.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	count := h.engine.RulesCount()
	if count == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "rules": 0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true, "rules": count})
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return false
	}
	return true
}

// requireRun answers 404 when the run does not exist for the tenant.
func (h *Handler) requireRun(w http.ResponseWriter, r *http.Request, runID string) bool {
	ctx := r.Context()
	if _, err := h.repo.GetRun(ctx, GetTenantID(ctx), runID); err != nil {
		h.writeLookupError(w, runID, err)
		return false
	}
	return true
}

func (h *Handler) writeLookupError(w http.ResponseWriter, runID string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	slog.Error("failed to get run", "run_id", runID, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to get run")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
