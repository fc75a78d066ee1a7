// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/triagehq/triage/internal/database"
	"github.com/triagehq/triage/internal/models"
	"github.com/triagehq/triage/internal/pipeline"
	"github.com/triagehq/triage/internal/validation"
)

// batchRequest is the payload for POST /notifications/batch-evaluate.
type batchRequest struct {
	Events []*models.Event `json:"events" validate:"required,min=1,max=500"`
}

// batchResponse wraps the per-event results.
type batchResponse struct {
	Results []*models.DecisionResult `json:"results"`
	Count   int                      `json:"count"`
}

// handleEvaluate runs one event through the pipeline.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var ev models.Event
	if err := decodeJSON(w, r, &ev); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if ve := validation.ValidateStruct(&ev); ve != nil {
		respondValidationError(w, ve)
		return
	}

	res, err := s.pipeline.Evaluate(r.Context(), &ev)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", ev.UserID).Msg("evaluation failed")
		respondError(w, http.StatusInternalServerError, "EVALUATION_FAILED",
			"failed to record the decision", nil)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleBatchEvaluate runs up to MaxBatchSize events concurrently.
func (s *Server) handleBatchEvaluate(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if len(req.Events) == 0 || len(req.Events) > pipeline.MaxBatchSize {
		respondError(w, http.StatusBadRequest, "INVALID_BATCH",
			fmt.Sprintf("batch must contain 1-%d events", pipeline.MaxBatchSize), nil)
		return
	}
	for i, ev := range req.Events {
		if ev == nil {
			respondError(w, http.StatusBadRequest, "INVALID_BATCH",
				fmt.Sprintf("event %d is null", i), nil)
			return
		}
		if ve := validation.ValidateStruct(ev); ve != nil {
			apiErr := ve.ToAPIError()
			respondError(w, http.StatusBadRequest, apiErr.Code,
				fmt.Sprintf("event %d: %s", i, apiErr.Message), apiErr.Details)
			return
		}
	}

	results := s.pipeline.EvaluateBatch(r.Context(), req.Events)
	respondJSON(w, http.StatusOK, batchResponse{Results: results, Count: len(results)})
}

// handleAudit returns the audit record for one evaluated event.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "event_id")

	entry, err := s.db.AuditByEventID(r.Context(), eventID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND",
			fmt.Sprintf("no audit record for event %s", eventID), nil)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", eventID).Msg("audit lookup failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "audit lookup failed", nil)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// handleHistory lists a user's recent evaluated events.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	limit := limitParam(r, 50, 100)

	events, err := s.db.RecentEventsByUser(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("history lookup failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "history lookup failed", nil)
		return
	}
	if events == nil {
		events = []*models.StoredEvent{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"events":  events,
		"count":   len(events),
	})
}

// handleAILogs lists recent scoring calls, optionally per user.
func (s *Server) handleAILogs(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	limit := limitParam(r, 50, 100)

	logs, err := s.db.AILogs(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("AI log lookup failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "AI log lookup failed", nil)
		return
	}
	if logs == nil {
		logs = []*models.AILog{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"count": len(logs),
	})
}
