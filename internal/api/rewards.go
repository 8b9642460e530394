package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/opensource-community/heron/internal/domain"
)

// RewardRequest is the body of a manual points award.
type RewardRequest struct {
	Points int    `json:"points" validate:"required,min=1,max=1000"`
	Reason string `json:"reason" validate:"required,max=200"`
}

// PositiveMessageRequest is the body of a message submitted for scoring.
type PositiveMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

// ResetRequest is the body of a violations reset.
type ResetRequest struct {
	ResetBy string `json:"resetBy" validate:"required,max=100"`
}

// AwardPoints handles POST /api/users/{id}/rewards.
func (h *Handler) AwardPoints(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req RewardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.service.AwardPoints(r.Context(), id, req.Points, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// RecordPositiveMessage handles POST /api/users/{id}/messages.
func (h *Handler) RecordPositiveMessage(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req PositiveMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.service.RecordPositiveMessage(r.Context(), id, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetProfile handles GET /api/users/{id}/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	profile, err := h.service.Profile(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// Leaderboard handles GET /api/leaderboard?limit=.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := h.service.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"leaderboard": entries,
		"count":       len(entries),
	})
}

// ResetViolations handles POST /api/users/{id}/actions/reset.
func (h *Handler) ResetViolations(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ResetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	action, err := h.service.ResetViolations(r.Context(), id, req.ResetBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, action)
}

// EscalationStats handles GET /api/escalation/stats?days=.
func (h *Handler) EscalationStats(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days")
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := h.service.EscalationStats(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// queryInt parses an optional non-negative integer query parameter.
// Missing parameters are zero.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", domain.ErrInvalidInput, name, raw)
	}
	return n, nil
}
