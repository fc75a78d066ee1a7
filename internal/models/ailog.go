// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package models

import "time"

// AILog records one scoring attempt, whether it hit the LLM or fell back
// to the heuristic. The full prompt and the model's raw completion are
// kept so any score can be replayed and audited. RawResponse is nil on
// heuristic runs, where no model answered.
type AILog struct {
	ID             string    `json:"id"`
	EventID        string    `json:"event_id"`
	UserID         string    `json:"user_id"`
	Model          string    `json:"model"`
	Prompt         string    `json:"prompt,omitempty"`
	RawResponse    *string   `json:"raw_response,omitempty"`
	LatencyMS      int64     `json:"latency_ms"`
	Score          *float64  `json:"score,omitempty"`
	DecisionHint   string    `json:"decision_hint,omitempty"`
	FallbackUsed   bool      `json:"fallback_used"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
