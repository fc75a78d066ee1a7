// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package models

import "time"

// BatchStatus is the lifecycle state of a digest batch.
type BatchStatus string

// Digest batch states.
const (
	BatchPending   BatchStatus = "pending"
	BatchSent      BatchStatus = "sent"
	BatchCancelled BatchStatus = "cancelled"
)

// DigestBatch groups deferred events for a (user, channel) pair so they
// mature into a single digest delivery instead of a drip of singles.
type DigestBatch struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Channel     Channel     `json:"channel"`
	EventIDs    []string    `json:"event_ids"`
	ScheduledAt time.Time   `json:"scheduled_at"`
	Status      BatchStatus `json:"status"`
	SentAt      *time.Time  `json:"sent_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
