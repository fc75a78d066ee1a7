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

const digestColumns = `id, user_id, channel, CAST(event_ids AS VARCHAR),
	scheduled_at, status, sent_at, created_at`

// FindPendingBatch returns the open digest batch for (user, channel)
// scheduled at or after windowStart, or ErrNotFound. Deferred events
// within the same window pile onto one batch instead of spawning new ones.
func (s *store) FindPendingBatch(ctx context.Context, userID string, channel models.Channel, windowStart time.Time) (*models.DigestBatch, error) {
	row := s.q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM digest_batches
		WHERE user_id = ? AND channel = ? AND status = ? AND scheduled_at >= ?
		ORDER BY scheduled_at ASC
		LIMIT 1`, digestColumns),
		userID, string(channel), string(models.BatchPending), windowStart.UTC())

	batch, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending batch for user %s: %w", userID, err)
	}
	return batch, nil
}

// CreateBatch inserts a new digest batch.
func (s *store) CreateBatch(ctx context.Context, batch *models.DigestBatch) error {
	eventIDs, err := marshalJSON(batch.EventIDs)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO digest_batches (
			id, user_id, channel, event_ids, scheduled_at, status, sent_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID, batch.UserID, string(batch.Channel), eventIDs,
		batch.ScheduledAt.UTC(), string(batch.Status), nil, batch.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create digest batch %s: %w", batch.ID, err)
	}
	return nil
}

// UpdateBatchEvents replaces the event ID list on an open batch.
func (s *store) UpdateBatchEvents(ctx context.Context, batchID string, eventIDs []string) error {
	data, err := marshalJSON(eventIDs)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx,
		`UPDATE digest_batches SET event_ids = ? WHERE id = ?`, data, batchID)
	if err != nil {
		return fmt.Errorf("failed to update digest batch %s: %w", batchID, err)
	}
	return requireRowsAffected(res, ErrNotFound)
}

// DueBatches returns up to limit pending batches whose scheduled_at has
// passed, oldest first.
func (s *store) DueBatches(ctx context.Context, now time.Time, limit int) ([]*models.DigestBatch, error) {
	rows, err := s.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM digest_batches
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC
		LIMIT ?`, digestColumns),
		string(models.BatchPending), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.DigestBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch row: %w", err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch row iteration failed: %w", err)
	}
	return batches, nil
}

// CompleteBatch marks a batch sent or cancelled and stamps sent_at.
func (s *store) CompleteBatch(ctx context.Context, batchID string, status models.BatchStatus, sentAt time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE digest_batches SET status = ?, sent_at = ? WHERE id = ?`,
		string(status), sentAt.UTC(), batchID)
	if err != nil {
		return fmt.Errorf("failed to complete digest batch %s: %w", batchID, err)
	}
	return requireRowsAffected(res, ErrNotFound)
}

func scanBatch(row rowScanner) (*models.DigestBatch, error) {
	var (
		batch    models.DigestBatch
		channel  string
		eventIDs sql.NullString
		status   string
		sentAt   sql.NullTime
	)
	err := row.Scan(&batch.ID, &batch.UserID, &channel, &eventIDs,
		&batch.ScheduledAt, &status, &sentAt, &batch.CreatedAt)
	if err != nil {
		return nil, err
	}

	batch.Channel = models.Channel(channel)
	batch.Status = models.BatchStatus(status)
	if err := unmarshalJSON(eventIDs, &batch.EventIDs); err != nil {
		return nil, err
	}
	if sentAt.Valid {
		t := sentAt.Time.UTC()
		batch.SentAt = &t
	}
	batch.ScheduledAt = batch.ScheduledAt.UTC()
	batch.CreatedAt = batch.CreatedAt.UTC()
	return &batch, nil
}
