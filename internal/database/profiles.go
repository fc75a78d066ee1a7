// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/triagehq/triage/internal/models"
)

// Profile returns a user's stored profile, or ErrNotFound. Callers fall
// back to models.DefaultProfile for users who never set preferences.
func (s *store) Profile(ctx context.Context, userID string) (*models.UserProfile, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT user_id, timezone, dnd_start_hour, dnd_end_hour,
			CAST(channel_preferences AS VARCHAR), CAST(opted_out_topics AS VARCHAR),
			hourly_cap_override, daily_cap_override, segment,
			CAST(engagement_heatmap AS VARCHAR), created_at, updated_at
		FROM user_profiles
		WHERE user_id = ?`, userID)

	var (
		p           models.UserProfile
		channelPref sql.NullString
		optedOut    sql.NullString
		hourlyCap   sql.NullInt64
		dailyCap    sql.NullInt64
		segment     sql.NullString
		heatmap     sql.NullString
	)
	err := row.Scan(&p.UserID, &p.Timezone, &p.DNDStartHour, &p.DNDEndHour,
		&channelPref, &optedOut, &hourlyCap, &dailyCap, &segment, &heatmap,
		&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile for user %s: %w", userID, err)
	}

	if err := unmarshalJSON(channelPref, &p.ChannelPreferences); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(optedOut, &p.OptedOutTopics); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(heatmap, &p.EngagementHeatmap); err != nil {
		return nil, err
	}
	if p.OptedOutTopics == nil {
		p.OptedOutTopics = []string{}
	}
	if hourlyCap.Valid {
		v := int(hourlyCap.Int64)
		p.HourlyCapOverride = &v
	}
	if dailyCap.Valid {
		v := int(dailyCap.Int64)
		p.DailyCapOverride = &v
	}
	p.Segment = segment.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// SaveProfile upserts a user profile.
func (s *store) SaveProfile(ctx context.Context, p *models.UserProfile) error {
	channelPref, err := marshalJSON(p.ChannelPreferences)
	if err != nil {
		return err
	}
	optedOut, err := marshalJSON(p.OptedOutTopics)
	if err != nil {
		return err
	}
	heatmap, err := marshalJSON(p.EngagementHeatmap)
	if err != nil {
		return err
	}

	var hourlyCap, dailyCap any
	if p.HourlyCapOverride != nil {
		hourlyCap = *p.HourlyCapOverride
	}
	if p.DailyCapOverride != nil {
		dailyCap = *p.DailyCapOverride
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO user_profiles (
			user_id, timezone, dnd_start_hour, dnd_end_hour,
			channel_preferences, opted_out_topics, hourly_cap_override,
			daily_cap_override, segment, engagement_heatmap,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Timezone, p.DNDStartHour, p.DNDEndHour,
		channelPref, optedOut, hourlyCap, dailyCap, p.Segment, heatmap,
		p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save profile for user %s: %w", p.UserID, err)
	}
	return nil
}
