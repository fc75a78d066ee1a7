// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package models defines the domain types shared across the Triage engine:
// inbound notification events, decisions and their reason chains, rules,
// user profiles, AI interaction logs, and digest batches.
package models

import (
	"time"
)

// Channel identifies a delivery channel.
type Channel string

// Supported delivery channels.
const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

// Priority is the producer-supplied urgency hint.
type Priority string

// Priority hints in descending urgency.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Event is an inbound notification candidate submitted for evaluation.
// The engine never delivers it; it only decides its fate.
type Event struct {
	UserID       string         `json:"user_id" validate:"required,max=64"`
	EventType    string         `json:"event_type" validate:"required,max=128"`
	Title        string         `json:"title" validate:"required,max=256"`
	Message      string         `json:"message" validate:"required,min=1"`
	Source       string         `json:"source" validate:"required,max=64"`
	Channel      Channel        `json:"channel,omitempty" validate:"omitempty,oneof=push email sms in_app"`
	PriorityHint Priority       `json:"priority_hint,omitempty" validate:"omitempty,oneof=critical high medium low"`
	DedupeKey    string         `json:"dedupe_key,omitempty" validate:"omitempty,max=256"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Normalize fills in defaults for optional fields. Called once at the
// ingestion boundary. An absent priority hint stays absent: the scorer
// treats "no hint" and "medium" differently, so coercing one into the
// other would inflate unhinted low-urgency events.
func (e *Event) Normalize(now time.Time) {
	if e.Channel == "" {
		e.Channel = ChannelPush
	}
	if e.Timestamp == nil {
		ts := now.UTC()
		e.Timestamp = &ts
	}
}

// Critical reports whether the event carries the critical priority hint.
// Critical events bypass cooldowns, DND windows, and fatigue caps.
func (e *Event) Critical() bool {
	return e.PriorityHint == PriorityCritical
}

// Expired reports whether the event's expires_at has passed.
func (e *Event) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}
