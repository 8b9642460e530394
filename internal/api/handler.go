package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/opensource-community/heron/internal/domain"
	"github.com/opensource-community/heron/internal/moderation"
	"github.com/opensource-community/heron/internal/worker"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// Handler holds dependencies for API handlers.
type Handler struct {
	service *moderation.Service
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler. repo, cache and bus are only used
// for health checks and event intake; any of them may be nil.
func NewHandler(service *moderation.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		service: service,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		version: version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether every backing service answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := true

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
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

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

// ListUsers handles GET /api/users?level=&q=&limit=.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	users, err := h.service.ListUsers(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// RiskAnalysis handles GET /api/users/risk-analysis.
func (h *Handler) RiskAnalysis(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	analysis, err := h.service.RiskAnalysis(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": analysis,
	})
}

// CreateUser handles POST /api/users. The stored score is always derived
// from the submitted counters and history.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var user domain.User
	if err := decodeJSON(r, &user); err != nil {
		writeError(w, r, err)
		return
	}
	stored, err := h.service.IngestUser(r.Context(), &user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// GetUser handles GET /api/users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetUserStats handles GET /api/users/{id}/stats.
func (h *Handler) GetUserStats(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := h.service.UserStats(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ExportUser handles GET /api/users/{id}/export as a file download.
func (h *Handler) ExportUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := h.service.ExportUser(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	name := unsafeFilename.ReplaceAllString(user.Username, "_")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="user_%s_data.json"`, name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ImportUser handles POST /api/users/import with an exported document.
func (h *Handler) ImportUser(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: failed to read body: %v", domain.ErrInvalidInput, err))
		return
	}
	user, err := h.service.ImportUser(r.Context(), data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ApplyInfraction handles POST /api/users/{id}/infractions.
func (h *Handler) ApplyInfraction(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var infraction domain.Infraction
	if err := decodeJSON(r, &infraction); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.service.ApplyInfraction(r.Context(), id, infraction)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RiskRequest is the body of PUT /api/users/{id}/risk. RiskScore may be a
// JSON number or a numeric string.
type RiskRequest struct {
	RiskScore json.RawMessage `json:"riskScore"`
}

// SetRisk handles PUT /api/users/{id}/risk. An invalid score is rejected
// and the user is left untouched.
func (h *Handler) SetRisk(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req RiskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.service.AdjustRisk(r.Context(), id, req.RiskScore)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// WarningRequest is the optional body of the warning action.
type WarningRequest struct {
	Message string `json:"message" validate:"max=2000"`
}

// SendWarning handles POST /api/users/{id}/actions/warning.
func (h *Handler) SendWarning(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req WarningRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	action, err := h.service.SendWarning(r.Context(), id, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, action)
}

// EducationRequest is the optional body of the education action.
type EducationRequest struct {
	Category string `json:"category" validate:"max=64"`
}

// SendEducation handles POST /api/users/{id}/actions/education.
func (h *Handler) SendEducation(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req EducationRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	action, msg, err := h.service.SendEducation(r.Context(), id, req.Category)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"action":  action,
		"message": msg,
	})
}

// TimeoutRequest is the body of the timeout action.
type TimeoutRequest struct {
	Hours int `json:"hours" validate:"required,gt=0"`
}

// Timeout handles POST /api/users/{id}/actions/timeout.
func (h *Handler) Timeout(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req TimeoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	action, err := h.service.Timeout(r.Context(), id, req.Hours)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, action)
}

// ListActions handles GET /api/users/{id}/actions.
func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	actions, err := h.service.ListActions(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actions": actions,
		"count":   len(actions),
	})
}

// WhitelistRequest is the optional body of POST /api/users/{id}/whitelist.
type WhitelistRequest struct {
	AddedBy string `json:"addedBy" validate:"max=100"`
	Reason  string `json:"reason" validate:"max=500"`
}

// AddToWhitelist handles POST /api/users/{id}/whitelist.
func (h *Handler) AddToWhitelist(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req WhitelistRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := h.service.AddToWhitelist(r.Context(), id, req.AddedBy, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// RemoveFromWhitelist handles DELETE /api/users/{id}/whitelist.
func (h *Handler) RemoveFromWhitelist(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.service.RemoveFromWhitelist(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListWhitelist handles GET /api/whitelist.
func (h *Handler) ListWhitelist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListWhitelist(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"whitelist": entries,
		"count":     len(entries),
	})
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// EventRequest is the body of POST /api/events.
type EventRequest struct {
	Type    domain.EventType `json:"type" validate:"required,oneof=new_infraction user_update stats_update risk_adjust positive_message"`
	Payload json.RawMessage  `json:"payload" validate:"required"`
}

// EnqueueEvent handles POST /api/events. The event is applied
// asynchronously by the worker.
func (h *Handler) EnqueueEvent(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}
	var req EventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ev := &domain.Event{Type: req.Type, Payload: req.Payload}
	if err := worker.Enqueue(r.Context(), h.bus, ev); err != nil {
		slog.Error("failed to enqueue event", "type", req.Type, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to enqueue event",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"type":   string(req.Type),
	})
}

// ListRules returns the flag rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.service.ListRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id" validate:"required,max=100"`
	Name        string            `json:"name" validate:"required,max=200"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version,omitempty" validate:"max=32"`
	Expression  string            `json:"expression" validate:"required"`
	Bands       []domain.RuleBand `json:"bands"`
	Enabled     *bool             `json:"enabled,omitempty"`
}

// CreateRule validates, stores and loads a flag rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	cfg := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Expression:  req.Expression,
		Bands:       req.Bands,
		Enabled:     enabled,
	}

	count, err := h.service.SaveRule(r.Context(), cfg)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("rule created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":  cfg,
		"count": count,
	})
}

// ReloadRules reloads all rules from the database into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.LoadRules(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("rules reloaded from database", "count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

func userID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid user id %q", domain.ErrInvalidInput, raw)
	}
	return id, nil
}

func parseFilter(r *http.Request) (domain.UserFilter, error) {
	q := r.URL.Query()
	filter := domain.UserFilter{
		Level:  domain.RiskLevel(q.Get("level")),
		Search: q.Get("q"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("%w: invalid limit %q", domain.ErrInvalidInput, raw)
		}
		filter.Limit = limit
	}
	return filter, nil
}

// decodeJSON decodes the request body into v and validates it.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON request body", domain.ErrInvalidInput)
	}
	return validateRequest(v)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON request body", domain.ErrInvalidInput)
	}
	return validateRequest(v)
}

func validateRequest(v any) error {
	switch v.(type) {
	case *domain.User, *domain.Infraction:
		// validated by the service
		return nil
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: field %s failed %s", domain.ErrInvalidInput, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrConflict):
		status, msg = http.StatusConflict, err.Error()
	default:
		slog.Error("request failed",
			"path", r.URL.Path,
			"trace_id", GetTraceID(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
