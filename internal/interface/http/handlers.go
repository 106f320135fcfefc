package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/studydeck/studydeck-progression/internal/application/command"
	"github.com/studydeck/studydeck-progression/internal/application/eventhandler"
	"github.com/studydeck/studydeck-progression/internal/application/query"
	"github.com/studydeck/studydeck-progression/internal/domain/achievement"
	"github.com/studydeck/studydeck-progression/internal/domain/shared"
	"github.com/studydeck/studydeck-progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth returns overall service health with per-backend detail.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type checkResult struct {
		Name   string `json:"name"`
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}

	results := make([]checkResult, 0, len(s.deps.HealthCheckers))
	healthy := true

	for _, checker := range s.deps.HealthCheckers {
		res := checkResult{Name: checker.Name(), Status: "ok"}
		if err := checker.Check(r.Context()); err != nil {
			res.Status = "failed"
			res.Error = err.Error()
			healthy = false
		}
		results = append(results, res)
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	writeJSON(w, status, map[string]interface{}{
		"status": overall,
		"uptime": s.Uptime().String(),
		"checks": results,
	})
}

// handleReady reports readiness: all backends must answer.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, checker := range s.deps.HealthCheckers {
		if err := checker.Check(r.Context()); err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "not_ready", checker.Name()+" is unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive reports liveness: the process is up.
func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleRoot returns basic service info.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not_found", "Endpoint not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "studydeck-progression",
		"endpoints": []string{
			"GET /health",
			"GET /api/v1/subjects/{id}/snapshot",
			"GET /api/v1/achievements",
			"POST /api/v1/subjects/{id}/levelup/dismiss",
			"POST /webhook/task-status",
		},
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// READ API
// ══════════════════════════════════════════════════════════════════════════════

// handleGetSnapshot returns the display snapshot for one subject.
//
// GET /api/v1/subjects/{id}/snapshot?refresh=true
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	q := query.GetSnapshotQuery{
		SubjectID:    r.PathValue("id"),
		ForceRefresh: r.URL.Query().Get("refresh") == "true",
	}

	dto, err := s.deps.GetSnapshot.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto)
}

// handleListAchievements returns the achievement catalog.
//
// GET /api/v1/achievements
func (s *Server) handleListAchievements(w http.ResponseWriter, _ *http.Request) {
	type achievementDTO struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}

	catalog := achievement.Catalog()
	out := make([]achievementDTO, 0, len(catalog))
	for _, def := range catalog {
		out = append(out, achievementDTO{
			ID:          def.ID.String(),
			Title:       def.Title,
			Description: def.Description,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"achievements": out,
		"total":        len(out),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// handleDismissLevelUp acknowledges the pending level-up celebration.
//
// POST /api/v1/subjects/{id}/levelup/dismiss
func (s *Server) handleDismissLevelUp(w http.ResponseWriter, r *http.Request) {
	cmd := command.DismissLevelUpCommand{SubjectID: r.PathValue("id")}

	if err := s.deps.DismissLevelUp.Handle(r.Context(), cmd); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK
// ══════════════════════════════════════════════════════════════════════════════

// taskStatusPayload is the wire format of the task service webhook.
// Importance is accepted but not used: reward size depends on the item
// type only.
type taskStatusPayload struct {
	SubjectID      string    `json:"subject_id"`
	TaskID         string    `json:"task_id"`
	ItemType       string    `json:"item_type"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Importance     string    `json:"importance,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
}

// handleTaskStatusWebhook receives task status transitions and feeds
// them into the reward pipeline.
//
// POST /webhook/task-status
func (s *Server) handleTaskStatusWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.validateWebhookSecret(r) {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid webhook secret")
		return
	}

	var payload taskStatusPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_payload", "Request body must be valid JSON")
		return
	}

	if payload.ChangedAt.IsZero() {
		payload.ChangedAt = time.Now().UTC()
	}

	msg := eventhandler.TaskStatusChanged{
		SubjectID:      payload.SubjectID,
		TaskID:         payload.TaskID,
		ItemType:       payload.ItemType,
		PreviousStatus: payload.PreviousStatus,
		NewStatus:      payload.NewStatus,
		ChangedAt:      payload.ChangedAt,
		CorrelationID:  getCorrelationID(r.Context()),
	}

	outcome, err := s.deps.StatusChanged.Handle(r.Context(), msg)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

// validateWebhookSecret checks the webhook shared secret, if configured.
func (s *Server) validateWebhookSecret(r *http.Request) bool {
	if s.config.WebhookSecret == "" {
		return true
	}
	got := r.Header.Get("X-Webhook-Secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.config.WebhookSecret)) == 1
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps domain errors onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case shared.IsCommitFailure(err):
		writeJSONError(w, http.StatusConflict, "conflict", "State changed concurrently, please retry")
	case errors.Is(err, shared.ErrServiceUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, "service_unavailable", "Backend temporarily unavailable")
	default:
		s.logger.Error("unhandled request error",
			logger.Err(err),
			logger.String("path", r.URL.Path),
			logger.String("correlation_id", getCorrelationID(r.Context())),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
