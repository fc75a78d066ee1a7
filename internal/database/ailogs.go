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

// InsertAILog records one scoring attempt.
func (s *store) InsertAILog(ctx context.Context, l *models.AILog) error {
	var score any
	if l.Score != nil {
		score = *l.Score
	}
	var rawResponse any
	if l.RawResponse != nil {
		rawResponse = *l.RawResponse
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO ai_logs (
			id, event_id, user_id, model, prompt, raw_response, latency_ms,
			score, decision_hint, fallback_used, fallback_reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.EventID, l.UserID, l.Model, l.Prompt, rawResponse, l.LatencyMS,
		score, l.DecisionHint, l.FallbackUsed, l.FallbackReason, l.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert ai log for event %s: %w", l.EventID, err)
	}
	return nil
}

// AILogs returns scoring logs, newest first, optionally filtered by user.
func (s *store) AILogs(ctx context.Context, userID string, limit int) ([]*models.AILog, error) {
	query := `
		SELECT id, event_id, user_id, model, prompt, raw_response, latency_ms,
			score, decision_hint, fallback_used, fallback_reason, created_at
		FROM ai_logs`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ai logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AILog
	for rows.Next() {
		var (
			l              models.AILog
			prompt         sql.NullString
			rawResponse    sql.NullString
			score          sql.NullFloat64
			decisionHint   sql.NullString
			fallbackReason sql.NullString
		)
		err := rows.Scan(&l.ID, &l.EventID, &l.UserID, &l.Model, &prompt,
			&rawResponse, &l.LatencyMS, &score, &decisionHint, &l.FallbackUsed,
			&fallbackReason, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ai log row: %w", err)
		}
		l.Prompt = prompt.String
		if rawResponse.Valid {
			v := rawResponse.String
			l.RawResponse = &v
		}
		if score.Valid {
			v := score.Float64
			l.Score = &v
		}
		l.DecisionHint = decisionHint.String
		l.FallbackReason = fallbackReason.String
		l.CreatedAt = l.CreatedAt.UTC()
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ai log row iteration failed: %w", err)
	}
	return logs, nil
}
