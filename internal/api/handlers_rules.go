// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/triagehq/triage/internal/database"
	"github.com/triagehq/triage/internal/models"
	"github.com/triagehq/triage/internal/validation"
)

// defaultRulePriority places unprioritized rules after the seeded set.
const defaultRulePriority = 100

// handleListRules returns rules in evaluation order.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"

	list, err := s.db.ListRules(r.Context(), activeOnly)
	if err != nil {
		s.logger.Error().Err(err).Msg("rule listing failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "rule listing failed", nil)
		return
	}
	if list == nil {
		list = []*models.Rule{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// handleCreateRule creates a rule and invalidates the engine snapshot.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if ve := validation.ValidateStruct(&req); ve != nil {
		respondValidationError(w, ve)
		return
	}

	now := time.Now().UTC()
	rule := &models.Rule{
		ID:            uuid.NewString(),
		RuleName:      req.RuleName,
		RuleType:      req.RuleType,
		Conditions:    req.Conditions,
		ActionParams:  req.ActionParams,
		PriorityOrder: req.PriorityOrder,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if rule.Conditions == nil {
		rule.Conditions = map[string]any{}
	}
	if rule.PriorityOrder == 0 {
		rule.PriorityOrder = defaultRulePriority
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	err := s.db.CreateRule(r.Context(), rule)
	if errors.Is(err, database.ErrNameTaken) {
		respondError(w, http.StatusConflict, "NAME_TAKEN",
			fmt.Sprintf("rule name %q is already in use", req.RuleName), nil)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("rule_name", req.RuleName).Msg("rule creation failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "rule creation failed", nil)
		return
	}

	s.engine.Invalidate()
	respondJSON(w, http.StatusCreated, rule)
}

// handleGetRule returns one rule.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rule, err := s.db.GetRule(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("no rule %s", id), nil)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("rule_id", id).Msg("rule lookup failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "rule lookup failed", nil)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// handleUpdateRule applies a partial update.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.UpdateRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if ve := validation.ValidateStruct(&req); ve != nil {
		respondValidationError(w, ve)
		return
	}

	rule, err := s.db.GetRule(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("no rule %s", id), nil)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("rule_id", id).Msg("rule lookup failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "rule lookup failed", nil)
		return
	}

	if req.RuleName != nil {
		rule.RuleName = *req.RuleName
	}
	if req.RuleType != nil {
		rule.RuleType = *req.RuleType
	}
	if req.Conditions != nil {
		rule.Conditions = *req.Conditions
	}
	if req.ActionParams != nil {
		rule.ActionParams = *req.ActionParams
	}
	if req.PriorityOrder != nil {
		rule.PriorityOrder = *req.PriorityOrder
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	rule.UpdatedAt = time.Now().UTC()

	if err := s.db.UpdateRule(r.Context(), rule); err != nil {
		s.logger.Error().Err(err).Str("rule_id", id).Msg("rule update failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "rule update failed", nil)
		return
	}

	s.engine.Invalidate()
	respondJSON(w, http.StatusOK, rule)
}

// handleDeleteRule removes a rule.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.db.DeleteRule(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("no rule %s", id), nil)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("rule_id", id).Msg("rule deletion failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "rule deletion failed", nil)
		return
	}

	s.engine.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// handleToggleRule flips a rule's active flag.
func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rule, err := s.db.GetRule(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("no rule %s", id), nil)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("rule_id", id).Msg("rule lookup failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "rule lookup failed", nil)
		return
	}

	rule.IsActive = !rule.IsActive
	if err := s.db.SetRuleActive(r.Context(), id, rule.IsActive); err != nil {
		s.logger.Error().Err(err).Str("rule_id", id).Msg("rule toggle failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "rule toggle failed", nil)
		return
	}

	s.engine.Invalidate()
	respondJSON(w, http.StatusOK, map[string]any{
		"id":        rule.ID,
		"rule_name": rule.RuleName,
		"is_active": rule.IsActive,
	})
}
