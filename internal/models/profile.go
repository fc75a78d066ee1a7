// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package models

import "time"

// HeatmapHours is the fixed length of the engagement heatmap: one weight
// per local hour of day.
const HeatmapHours = 24

// UserProfile holds per-user notification preferences and learned
// engagement signals. Users without a stored profile get DefaultProfile.
type UserProfile struct {
	UserID             string          `json:"user_id"`
	Timezone           string          `json:"timezone"`
	DNDStartHour       int             `json:"dnd_start_hour" validate:"min=0,max=23"`
	DNDEndHour         int             `json:"dnd_end_hour" validate:"min=0,max=23"`
	ChannelPreferences map[string]bool `json:"channel_preferences,omitempty"`
	OptedOutTopics     []string        `json:"opted_out_topics"`
	HourlyCapOverride  *int            `json:"hourly_cap_override,omitempty" validate:"omitempty,min=1,max=100"`
	DailyCapOverride   *int            `json:"daily_cap_override,omitempty" validate:"omitempty,min=1,max=500"`
	Segment            string          `json:"segment,omitempty"`
	EngagementHeatmap  []float64       `json:"engagement_heatmap"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// DefaultProfile returns the profile applied to users who have never set
// preferences: UTC timezone, DND 22:00-08:00, flat engagement heatmap.
func DefaultProfile(userID string) *UserProfile {
	heatmap := make([]float64, HeatmapHours)
	for i := range heatmap {
		heatmap[i] = 1.0
	}
	return &UserProfile{
		UserID:            userID,
		Timezone:          "UTC",
		DNDStartHour:      22,
		DNDEndHour:        8,
		OptedOutTopics:    []string{},
		EngagementHeatmap: heatmap,
	}
}

// OptedOut reports whether the user has opted out of the given topic.
func (p *UserProfile) OptedOut(topic string) bool {
	for _, t := range p.OptedOutTopics {
		if t == topic {
			return true
		}
	}
	return false
}

// UpdatePreferencesRequest is the payload for PATCH /users/{id}/preferences.
// Nil fields are left unchanged.
type UpdatePreferencesRequest struct {
	Timezone           *string          `json:"timezone,omitempty" validate:"omitempty,max=64"`
	DNDStartHour       *int             `json:"dnd_start_hour,omitempty" validate:"omitempty,min=0,max=23"`
	DNDEndHour         *int             `json:"dnd_end_hour,omitempty" validate:"omitempty,min=0,max=23"`
	ChannelPreferences *map[string]bool `json:"channel_preferences,omitempty"`
	HourlyCapOverride  *int             `json:"hourly_cap_override,omitempty" validate:"omitempty,min=1,max=100"`
	DailyCapOverride   *int             `json:"daily_cap_override,omitempty" validate:"omitempty,min=1,max=500"`
	Segment            *string          `json:"segment,omitempty" validate:"omitempty,max=64"`
}
