// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package enrich builds the per-user evaluation context: live fatigue
// counters, recency, and the cached user profile. Every fetch fails open
// to defaults so a degraded store never blocks evaluation.
package enrich

import "github.com/triagehq/triage/internal/config"

// UserContext is the snapshot of a user's state handed to the scorer and
// arbiter.
type UserContext struct {
	UserID      string `json:"user_id"`
	SentLast1h  int    `json:"sent_last_1h"`
	SentLast24h int    `json:"sent_last_24h"`
	HourlyCap   int    `json:"hourly_cap"`
	DailyCap    int    `json:"daily_cap"`

	// LastSentSecondsAgo is nil when the user never received this event
	// type before.
	LastSentSecondsAgo *float64 `json:"last_sent_seconds_ago,omitempty"`

	DNDStartHour    int       `json:"dnd_start_hour"`
	DNDEndHour      int       `json:"dnd_end_hour"`
	Timezone        string    `json:"timezone"`
	OptedOutTopics  []string  `json:"opted_out_topics"`
	EngagementScore float64   `json:"engagement_score"`
	Heatmap         []float64 `json:"-"`
	LocalHour       int       `json:"local_hour"`
	DNDActive       bool      `json:"dnd_active"`
}

// Default returns the context used when enrichment is skipped (hard rule
// short-circuits) or a user has no state at all.
func Default(userID string, cfg config.FatigueConfig) *UserContext {
	return &UserContext{
		UserID:          userID,
		HourlyCap:       cfg.DefaultHourlyCap,
		DailyCap:        cfg.DefaultDailyCap,
		DNDStartHour:    22,
		DNDEndHour:      8,
		Timezone:        "UTC",
		OptedOutTopics:  []string{},
		EngagementScore: 0.5,
	}
}

// HourlyCapHit reports whether the user reached their hourly send cap.
func (c *UserContext) HourlyCapHit() bool {
	return c.SentLast1h >= c.HourlyCap
}

// DailyCapHit reports whether the user reached their daily send cap.
func (c *UserContext) DailyCapHit() bool {
	return c.SentLast24h >= c.DailyCap
}

// FatigueRatio1h is the hourly cap utilization, capped at 1.
func (c *UserContext) FatigueRatio1h() float64 {
	if c.HourlyCap <= 0 {
		return 1
	}
	r := float64(c.SentLast1h) / float64(c.HourlyCap)
	if r > 1 {
		return 1
	}
	return r
}

// RecencyBonus rewards users who have not been contacted recently for
// this event type: 1.0 when never contacted, scaling linearly up to 1.0
// after an hour of silence.
func (c *UserContext) RecencyBonus() float64 {
	if c.LastSentSecondsAgo == nil {
		return 1.0
	}
	b := *c.LastSentSecondsAgo / 3600.0
	if b > 1 {
		return 1
	}
	return b
}

// OptedOut reports whether topic is in the user's opt-out list.
func (c *UserContext) OptedOut(topic string) bool {
	for _, t := range c.OptedOutTopics {
		if t == topic {
			return true
		}
	}
	return false
}

// DNDActiveAt reports whether localHour falls inside a [start, end)
// do-not-disturb window, wrapping midnight when start > end.
func DNDActiveAt(start, end, localHour int) bool {
	if start == end {
		return false
	}
	if start > end {
		return localHour >= start || localHour < end
	}
	return localHour >= start && localHour < end
}
