// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package models

import "time"

// RuleType identifies a rule's effect.
type RuleType string

// Rule types. force_now and force_never are hard outcomes that
// short-circuit scoring; quiet_hours and channel_override are conditional;
// cooldown and cap are recorded but carry no forcing effect.
const (
	RuleForceNow        RuleType = "force_now"
	RuleForceNever      RuleType = "force_never"
	RuleQuietHours      RuleType = "quiet_hours"
	RuleChannelOverride RuleType = "channel_override"
	RuleCooldown        RuleType = "cooldown"
	RuleCap             RuleType = "cap"
)

// Rule is an operator-defined evaluation rule. Conditions must ALL match
// for the rule to apply; ActionParams carry effect-specific settings
// (quiet-hour bounds, allowed channels).
type Rule struct {
	ID            string         `json:"id"`
	RuleName      string         `json:"rule_name" validate:"required,max=128"`
	RuleType      RuleType       `json:"rule_type" validate:"required,oneof=force_now force_never quiet_hours channel_override cooldown cap"`
	Conditions    map[string]any `json:"conditions"`
	ActionParams  map[string]any `json:"action_params,omitempty"`
	PriorityOrder int            `json:"priority_order" validate:"omitempty,min=1,max=1000"`
	IsActive      bool           `json:"is_active"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// CreateRuleRequest is the payload for POST /rules.
type CreateRuleRequest struct {
	RuleName      string         `json:"rule_name" validate:"required,max=128"`
	RuleType      RuleType       `json:"rule_type" validate:"required,oneof=force_now force_never quiet_hours channel_override cooldown cap"`
	Conditions    map[string]any `json:"conditions"`
	ActionParams  map[string]any `json:"action_params,omitempty"`
	PriorityOrder int            `json:"priority_order" validate:"omitempty,min=1,max=1000"`
	IsActive      *bool          `json:"is_active,omitempty"`
}

// UpdateRuleRequest is the payload for PUT /rules/{id}. Nil fields are
// left unchanged.
type UpdateRuleRequest struct {
	RuleName      *string         `json:"rule_name,omitempty" validate:"omitempty,max=128"`
	RuleType      *RuleType       `json:"rule_type,omitempty" validate:"omitempty,oneof=force_now force_never quiet_hours channel_override cooldown cap"`
	Conditions    *map[string]any `json:"conditions,omitempty"`
	ActionParams  *map[string]any `json:"action_params,omitempty"`
	PriorityOrder *int            `json:"priority_order,omitempty" validate:"omitempty,min=1,max=1000"`
	IsActive      *bool           `json:"is_active,omitempty"`
}
