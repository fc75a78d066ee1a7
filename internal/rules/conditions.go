// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/triagehq/triage/internal/models"
)

// Matches reports whether an event satisfies ALL conditions of a rule.
// Empty conditions match everything. An unknown field never matches, so
// a typo'd rule fails closed instead of applying to all traffic.
//
// Condition values come in three shapes:
//   - a list: membership test
//   - a map: operators (gte, lte, contains, not_in)
//   - a scalar: string equality
func Matches(ev *models.Event, conditions map[string]any) bool {
	for field, cond := range conditions {
		value, ok := eventField(ev, field)
		if !ok {
			return false
		}
		if !matchCondition(value, cond) {
			return false
		}
	}
	return true
}

// eventField resolves a condition field name against the event.
// "meta.<key>" reaches into the metadata object.
func eventField(ev *models.Event, field string) (any, bool) {
	switch field {
	case "event_type":
		return ev.EventType, true
	case "source":
		return ev.Source, true
	case "channel":
		return string(ev.Channel), true
	case "priority_hint":
		return string(ev.PriorityHint), true
	case "user_id":
		return ev.UserID, true
	}

	if key, ok := strings.CutPrefix(field, "meta."); ok {
		if ev.Metadata == nil {
			return nil, false
		}
		value, ok := ev.Metadata[key]
		return value, ok
	}

	return nil, false
}

func matchCondition(value, cond any) bool {
	switch c := cond.(type) {
	case []any:
		for _, candidate := range c {
			if asString(value) == asString(candidate) {
				return true
			}
		}
		return false
	case []string:
		for _, candidate := range c {
			if asString(value) == candidate {
				return true
			}
		}
		return false
	case map[string]any:
		return matchOperators(value, c)
	default:
		return asString(value) == asString(cond)
	}
}

// matchOperators applies an operator map; every operator must hold.
func matchOperators(value any, ops map[string]any) bool {
	for op, operand := range ops {
		switch op {
		case "gte":
			v, vok := asFloat(value)
			o, ook := asFloat(operand)
			if !vok || !ook || v < o {
				return false
			}
		case "lte":
			v, vok := asFloat(value)
			o, ook := asFloat(operand)
			if !vok || !ook || v > o {
				return false
			}
		case "contains":
			if !strings.Contains(strings.ToLower(asString(value)), strings.ToLower(asString(operand))) {
				return false
			}
		case "not_in":
			list, ok := operand.([]any)
			if !ok {
				return false
			}
			for _, candidate := range list {
				if asString(value) == asString(candidate) {
					return false
				}
			}
		default:
			// Unknown operator fails closed.
			return false
		}
	}
	return true
}

func asString(v any) string {
	return fmt.Sprint(v)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
