// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package models

import "time"

// Decision is the engine's verdict for a notification event.
type Decision string

// Decisions.
const (
	DecisionNow   Decision = "now"
	DecisionLater Decision = "later"
	DecisionNever Decision = "never"
)

// Pipeline layer names used in reason chains.
const (
	LayerIngestion = "L0-Ingestion"
	LayerError     = "L0-Error"
	LayerDedup     = "L1-Dedup"
	LayerRules     = "L2-Rules"
	LayerAIScorer  = "L4-AIScorer"
	LayerArbiter   = "L5-Arbiter"
)

// Reason step results.
const (
	ResultPass           = "PASS"
	ResultSuppress       = "SUPPRESS"
	ResultBypass         = "BYPASS"
	ResultDefer          = "DEFER"
	ResultExpired        = "EXPIRED"
	ResultForceNow       = "FORCE_NOW"
	ResultForceNever     = "FORCE_NEVER"
	ResultMatchedNoForce = "MATCHED_NO_FORCE"
	ResultNoMatch        = "NO_MATCH"
	ResultScored         = "SCORED"
	ResultSkipped        = "SKIPPED"
	ResultNow            = "NOW"
	ResultLater          = "LATER"
	ResultNever          = "NEVER"
	ResultError          = "ERROR"
)

// ReasonStep records one check performed by one pipeline layer. The ordered
// list of steps is the full explanation of a decision.
type ReasonStep struct {
	Layer  string `json:"layer"`
	Check  string `json:"check"`
	Result string `json:"result"`
	Detail string `json:"detail,omitempty"`
}

// DecisionResult is the evaluation outcome returned to the caller and
// recorded in the audit trail.
type DecisionResult struct {
	EventID             string       `json:"event_id"`
	UserID              string       `json:"user_id"`
	Decision            Decision     `json:"decision"`
	Score               float64      `json:"score"`
	ReasonChain         []ReasonStep `json:"reason_chain"`
	ScheduledSendAt     *time.Time   `json:"scheduled_send_at,omitempty"`
	RuleApplied         string       `json:"rule_applied,omitempty"`
	AIUsed              bool         `json:"ai_used"`
	FallbackUsed        bool         `json:"fallback_used"`
	ComputedFingerprint string       `json:"computed_fingerprint,omitempty"`
	ProcessingMS        int64        `json:"processing_ms"`
}

// StoredEvent is the durable record of an evaluated event: the submitted
// fields plus everything the pipeline computed for it.
type StoredEvent struct {
	EventID             string         `json:"event_id"`
	UserID              string         `json:"user_id"`
	EventType           string         `json:"event_type"`
	Title               string         `json:"title"`
	Message             string         `json:"message"`
	Source              string         `json:"source"`
	Channel             Channel        `json:"channel"`
	PriorityHint        Priority       `json:"priority_hint"`
	DedupeKey           string         `json:"dedupe_key,omitempty"`
	ComputedFingerprint string         `json:"computed_fingerprint,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	ExpiresAt           *time.Time     `json:"expires_at,omitempty"`
	Decision            Decision       `json:"decision"`
	Score               float64        `json:"score"`
	ReasonChain         []ReasonStep   `json:"reason_chain,omitempty"`
	RuleMatched         string         `json:"rule_matched,omitempty"`
	FallbackUsed        bool           `json:"fallback_used"`
	ScheduledAt         *time.Time     `json:"scheduled_at,omitempty"`
	DecidedAt           time.Time      `json:"decided_at"`
	CreatedAt           time.Time      `json:"created_at"`
}

// AuditEntry is one append-only audit record per evaluation. RawEvent
// carries the full submitted event so the input that produced a decision
// survives alongside it.
type AuditEntry struct {
	ID           string       `json:"id"`
	EventID      string       `json:"event_id"`
	UserID       string       `json:"user_id"`
	RawEvent     *Event       `json:"raw_event,omitempty"`
	Decision     Decision     `json:"decision"`
	Score        float64      `json:"score"`
	ReasonChain  []ReasonStep `json:"reason_chain"`
	RuleApplied  string       `json:"rule_applied,omitempty"`
	AIUsed       bool         `json:"ai_used"`
	FallbackUsed bool         `json:"fallback_used"`
	CreatedAt    time.Time    `json:"created_at"`
}
