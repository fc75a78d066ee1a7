// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/triagehq/triage/internal/models"
)

const eventColumns = `event_id, user_id, event_type, title, message, source, channel,
	priority_hint, dedupe_key, computed_fingerprint, CAST(metadata AS VARCHAR), expires_at,
	decision, score, CAST(reason_chain AS VARCHAR), rule_matched, fallback_used,
	scheduled_at, decided_at, created_at`

// SaveEvent upserts the durable record of an evaluated event.
func (s *store) SaveEvent(ctx context.Context, ev *models.StoredEvent) error {
	metadata, err := marshalJSON(ev.Metadata)
	if err != nil {
		return err
	}
	reasonChain, err := marshalJSON(ev.ReasonChain)
	if err != nil {
		return err
	}

	var expiresAt, scheduledAt any
	if ev.ExpiresAt != nil {
		expiresAt = ev.ExpiresAt.UTC()
	}
	if ev.ScheduledAt != nil {
		scheduledAt = ev.ScheduledAt.UTC()
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO events (
			event_id, user_id, event_type, title, message, source, channel,
			priority_hint, dedupe_key, computed_fingerprint, metadata, expires_at,
			decision, score, reason_chain, rule_matched, fallback_used,
			scheduled_at, decided_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.UserID, ev.EventType, ev.Title, ev.Message, ev.Source,
		string(ev.Channel), string(ev.PriorityHint), ev.DedupeKey,
		ev.ComputedFingerprint, metadata, expiresAt, string(ev.Decision),
		ev.Score, reasonChain, ev.RuleMatched, ev.FallbackUsed, scheduledAt,
		ev.DecidedAt.UTC(), ev.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save event %s: %w", ev.EventID, err)
	}
	return nil
}

// EventsByIDs returns the stored events for the given IDs, in no
// particular order. Missing IDs are silently skipped.
func (s *store) EventsByIDs(ctx context.Context, ids []string) ([]*models.StoredEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT %s FROM events WHERE event_id IN (%s)`,
		eventColumns, placeholders(len(ids)))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by ids: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// RecentEventsByUser returns a user's most recently evaluated events,
// newest first.
func (s *store) RecentEventsByUser(ctx context.Context, userID string, limit int) ([]*models.StoredEvent, error) {
	rows, err := s.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM events
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, eventColumns),
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for user %s: %w", userID, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetEvent returns a single stored event or ErrNotFound.
func (s *store) GetEvent(ctx context.Context, eventID string) (*models.StoredEvent, error) {
	row := s.q.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM events WHERE event_id = ?`, eventColumns), eventID)

	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", eventID, err)
	}
	return ev, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.StoredEvent, error) {
	var (
		ev          models.StoredEvent
		channel     string
		priority    string
		decision    string
		dedupeKey   sql.NullString
		fingerprint sql.NullString
		metadata    sql.NullString
		expiresAt   sql.NullTime
		reasonChain sql.NullString
		ruleMatched sql.NullString
		scheduledAt sql.NullTime
	)

	err := row.Scan(&ev.EventID, &ev.UserID, &ev.EventType, &ev.Title,
		&ev.Message, &ev.Source, &channel, &priority, &dedupeKey, &fingerprint,
		&metadata, &expiresAt, &decision, &ev.Score, &reasonChain, &ruleMatched,
		&ev.FallbackUsed, &scheduledAt, &ev.DecidedAt, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}

	ev.Channel = models.Channel(channel)
	ev.PriorityHint = models.Priority(priority)
	ev.Decision = models.Decision(decision)
	ev.DedupeKey = dedupeKey.String
	ev.ComputedFingerprint = fingerprint.String
	ev.RuleMatched = ruleMatched.String
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		ev.ExpiresAt = &t
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time.UTC()
		ev.ScheduledAt = &t
	}
	if err := unmarshalJSON(metadata, &ev.Metadata); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(reasonChain, &ev.ReasonChain); err != nil {
		return nil, err
	}
	ev.DecidedAt = ev.DecidedAt.UTC()
	ev.CreatedAt = ev.CreatedAt.UTC()
	return &ev, nil
}

func scanEvents(rows *sql.Rows) ([]*models.StoredEvent, error) {
	var events []*models.StoredEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event row iteration failed: %w", err)
	}
	return events, nil
}

// NewStoredEvent builds the durable record from an evaluated event and
// its full decision result.
func NewStoredEvent(ev *models.Event, res *models.DecisionResult, now time.Time) *models.StoredEvent {
	return &models.StoredEvent{
		EventID:             res.EventID,
		UserID:              ev.UserID,
		EventType:           ev.EventType,
		Title:               ev.Title,
		Message:             ev.Message,
		Source:              ev.Source,
		Channel:             ev.Channel,
		PriorityHint:        ev.PriorityHint,
		DedupeKey:           ev.DedupeKey,
		ComputedFingerprint: res.ComputedFingerprint,
		Metadata:            ev.Metadata,
		ExpiresAt:           ev.ExpiresAt,
		Decision:            res.Decision,
		Score:               res.Score,
		ReasonChain:         res.ReasonChain,
		RuleMatched:         res.RuleApplied,
		FallbackUsed:        res.FallbackUsed,
		ScheduledAt:         res.ScheduledSendAt,
		DecidedAt:           now.UTC(),
		CreatedAt:           now.UTC(),
	}
}
