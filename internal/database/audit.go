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

// InsertAudit appends one audit record. The audit trail is append-only;
// there is no update path.
func (s *store) InsertAudit(ctx context.Context, entry *models.AuditEntry) error {
	reasonChain, err := marshalJSON(entry.ReasonChain)
	if err != nil {
		return err
	}
	rawEvent, err := marshalJSON(entry.RawEvent)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, event_id, user_id, raw_event, decision, score, reason_chain,
			rule_applied, ai_used, fallback_used, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.EventID, entry.UserID, rawEvent, string(entry.Decision),
		entry.Score, reasonChain, entry.RuleApplied, entry.AIUsed,
		entry.FallbackUsed, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert audit entry for event %s: %w", entry.EventID, err)
	}
	return nil
}

// AuditByEventID returns the most recent audit record for an event, or
// ErrNotFound.
func (s *store) AuditByEventID(ctx context.Context, eventID string) (*models.AuditEntry, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, event_id, user_id, CAST(raw_event AS VARCHAR), decision, score,
			CAST(reason_chain AS VARCHAR), rule_applied, ai_used, fallback_used, created_at
		FROM audit_log
		WHERE event_id = ?
		ORDER BY created_at DESC
		LIMIT 1`, eventID)

	var (
		entry       models.AuditEntry
		decision    string
		rawEvent    sql.NullString
		reasonChain sql.NullString
		ruleApplied sql.NullString
	)
	err := row.Scan(&entry.ID, &entry.EventID, &entry.UserID, &rawEvent,
		&decision, &entry.Score, &reasonChain, &ruleApplied, &entry.AIUsed,
		&entry.FallbackUsed, &entry.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entry for event %s: %w", eventID, err)
	}

	entry.Decision = models.Decision(decision)
	entry.RuleApplied = ruleApplied.String
	if err := unmarshalJSON(rawEvent, &entry.RawEvent); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(reasonChain, &entry.ReasonChain); err != nil {
		return nil, err
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return &entry, nil
}
