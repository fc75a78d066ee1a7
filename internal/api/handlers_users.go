// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/triagehq/triage/internal/database"
	"github.com/triagehq/triage/internal/enrich"
	"github.com/triagehq/triage/internal/kv"
	"github.com/triagehq/triage/internal/models"
	"github.com/triagehq/triage/internal/validation"
)

// feedbackDelta maps user feedback actions to heatmap adjustments.
var feedbackDelta = map[string]float64{
	"opened":    0.1,
	"clicked":   0.1,
	"dismissed": -0.1,
	"muted":     -0.1,
}

// hourWeight is one heatmap entry in the profile response.
type hourWeight struct {
	Hour   int     `json:"hour"`
	Weight float64 `json:"weight"`
}

// handleNotificationProfile returns the profile with live counters, the
// DND state, the best send hours, and recent decisions.
func (s *Server) handleNotificationProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	ctx := r.Context()

	profile, err := s.loadOrDefaultProfile(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("profile lookup failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "profile lookup failed", nil)
		return
	}

	sent1h, _ := s.store.GetInt64(kv.HourlyCountKey(userID))
	sent24h, _ := s.store.GetInt64(kv.DailyCountKey(userID))

	hourlyCap := s.fatigue.DefaultHourlyCap
	if profile.HourlyCapOverride != nil {
		hourlyCap = *profile.HourlyCapOverride
	}
	dailyCap := s.fatigue.DefaultDailyCap
	if profile.DailyCapOverride != nil {
		dailyCap = *profile.DailyCapOverride
	}

	localHour := enrich.LocalHour(profile.Timezone, time.Now())
	dndActive := enrich.DNDActiveAt(profile.DNDStartHour, profile.DNDEndHour, localHour)

	recent, err := s.db.RecentEventsByUser(ctx, userID, 10)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("recent decisions lookup failed")
	}
	if recent == nil {
		recent = []*models.StoredEvent{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"profile":          profile,
		"sent_last_1h":     sent1h,
		"sent_last_24h":    sent24h,
		"hourly_cap":       hourlyCap,
		"daily_cap":        dailyCap,
		"local_hour":       localHour,
		"dnd_active":       dndActive,
		"best_send_hours":  bestSendHours(profile, 5),
		"recent_decisions": recent,
	})
}

// handleUpdatePreferences applies a partial preference update, creating
// the profile on first write.
func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	var req models.UpdatePreferencesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if ve := validation.ValidateStruct(&req); ve != nil {
		respondValidationError(w, ve)
		return
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_TIMEZONE",
				fmt.Sprintf("unknown timezone %q", *req.Timezone), nil)
			return
		}
	}

	profile, err := s.loadOrDefaultProfile(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("profile lookup failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "profile lookup failed", nil)
		return
	}

	if req.Timezone != nil {
		profile.Timezone = *req.Timezone
	}
	if req.DNDStartHour != nil {
		profile.DNDStartHour = *req.DNDStartHour
	}
	if req.DNDEndHour != nil {
		profile.DNDEndHour = *req.DNDEndHour
	}
	if req.ChannelPreferences != nil {
		profile.ChannelPreferences = *req.ChannelPreferences
	}
	if req.HourlyCapOverride != nil {
		profile.HourlyCapOverride = req.HourlyCapOverride
	}
	if req.DailyCapOverride != nil {
		profile.DailyCapOverride = req.DailyCapOverride
	}
	if req.Segment != nil {
		profile.Segment = *req.Segment
	}

	if err := s.saveProfile(r.Context(), profile); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("profile save failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "profile save failed", nil)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// handleOptOut adds a topic to the user's opt-out list.
func (s *Server) handleOptOut(w http.ResponseWriter, r *http.Request) {
	s.setOptOut(w, r, true)
}

// handleOptIn removes a topic from the user's opt-out list.
func (s *Server) handleOptIn(w http.ResponseWriter, r *http.Request) {
	s.setOptOut(w, r, false)
}

func (s *Server) setOptOut(w http.ResponseWriter, r *http.Request, optOut bool) {
	userID := chi.URLParam(r, "user_id")
	topic := chi.URLParam(r, "topic")

	profile, err := s.loadOrDefaultProfile(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("profile lookup failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "profile lookup failed", nil)
		return
	}

	if optOut {
		if !profile.OptedOut(topic) {
			profile.OptedOutTopics = append(profile.OptedOutTopics, topic)
		}
	} else {
		kept := profile.OptedOutTopics[:0]
		for _, t := range profile.OptedOutTopics {
			if t != topic {
				kept = append(kept, t)
			}
		}
		profile.OptedOutTopics = kept
	}

	if err := s.saveProfile(r.Context(), profile); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("profile save failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "profile save failed", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":          userID,
		"opted_out_topics": profile.OptedOutTopics,
	})
}

// handleFeedback adjusts the engagement heatmap from delivery feedback.
// The adjusted hour is the event's decision time in the user's timezone,
// so the learned weights line up with how they are read at send time.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	eventID := r.URL.Query().Get("event_id")
	action := r.URL.Query().Get("action")

	delta, ok := feedbackDelta[action]
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_ACTION",
			fmt.Sprintf("unknown action %q, want opened|clicked|dismissed|muted", action), nil)
		return
	}
	if eventID == "" {
		respondError(w, http.StatusBadRequest, "MISSING_EVENT_ID", "event_id is required", nil)
		return
	}

	ev, err := s.db.GetEvent(r.Context(), eventID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("no event %s", eventID), nil)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", eventID).Msg("event lookup failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "event lookup failed", nil)
		return
	}

	profile, err := s.loadOrDefaultProfile(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("profile lookup failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "profile lookup failed", nil)
		return
	}
	if len(profile.EngagementHeatmap) != models.HeatmapHours {
		profile.EngagementHeatmap = models.DefaultProfile(userID).EngagementHeatmap
	}

	hour := enrich.LocalHour(profile.Timezone, ev.DecidedAt)
	weight := profile.EngagementHeatmap[hour] + delta
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}
	profile.EngagementHeatmap[hour] = weight

	if err := s.saveProfile(r.Context(), profile); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("profile save failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "profile save failed", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"action":  action,
		"hour":    hour,
		"weight":  weight,
	})
}

// loadOrDefaultProfile reads the durable profile, falling back to the
// default for users who never set preferences.
func (s *Server) loadOrDefaultProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	profile, err := s.db.Profile(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return models.DefaultProfile(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// saveProfile persists the profile and busts its cache so the next
// evaluation sees the new settings.
func (s *Server) saveProfile(ctx context.Context, profile *models.UserProfile) error {
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	if err := s.db.SaveProfile(ctx, profile); err != nil {
		return err
	}
	s.enricher.InvalidateProfile(profile.UserID)
	return nil
}

// bestSendHours ranks non-DND hours by engagement weight, ties going to
// the earlier hour.
func bestSendHours(profile *models.UserProfile, n int) []hourWeight {
	if len(profile.EngagementHeatmap) != models.HeatmapHours {
		return []hourWeight{}
	}

	var hours []hourWeight
	for h := 0; h < models.HeatmapHours; h++ {
		if enrich.DNDActiveAt(profile.DNDStartHour, profile.DNDEndHour, h) {
			continue
		}
		hours = append(hours, hourWeight{Hour: h, Weight: profile.EngagementHeatmap[h]})
	}
	sort.SliceStable(hours, func(i, j int) bool {
		return hours[i].Weight > hours[j].Weight
	})
	if len(hours) > n {
		hours = hours[:n]
	}
	return hours
}
