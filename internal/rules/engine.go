// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package rules implements the L2 rules engine: operator-defined rules
// evaluated in priority order against each event, with a snapshot cache
// refreshed every 30 seconds and invalidated on every rule mutation.
package rules

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/triagehq/triage/internal/logging"
	"github.com/triagehq/triage/internal/models"
)

// snapshotTTL bounds how stale the rule snapshot may get when no
// mutation invalidates it explicitly.
const snapshotTTL = 30 * time.Second

// Lister is the store dependency: active rules in evaluation order.
type Lister interface {
	ListRules(ctx context.Context, activeOnly bool) ([]*models.Rule, error)
}

// Outcome is the rules engine's verdict. An empty Decision means no hard
// outcome; the scoring path decides.
type Outcome struct {
	Decision models.Decision
	RuleName string
	Steps    []models.ReasonStep
}

type snapshot struct {
	rules    []*models.Rule
	loadedAt time.Time
}

// Engine evaluates active rules against events.
type Engine struct {
	store  Lister
	snap   atomic.Pointer[snapshot]
	logger zerolog.Logger
}

// NewEngine creates a rules engine backed by the given store.
func NewEngine(store Lister) *Engine {
	return &Engine{
		store:  store,
		logger: logging.With().Str("component", "rules").Logger(),
	}
}

// Invalidate drops the snapshot; the next evaluation reloads from the
// store. Called after every rule mutation.
func (e *Engine) Invalidate() {
	e.snap.Store(nil)
}

// activeRules returns the cached snapshot, reloading when missing or
// older than snapshotTTL. On reload failure the stale snapshot (or an
// empty rule set) is used so evaluation never blocks on the store.
func (e *Engine) activeRules(ctx context.Context, now time.Time) []*models.Rule {
	if s := e.snap.Load(); s != nil && now.Sub(s.loadedAt) < snapshotTTL {
		return s.rules
	}

	rules, err := e.store.ListRules(ctx, true)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to reload rules, using stale snapshot")
		if s := e.snap.Load(); s != nil {
			return s.rules
		}
		return nil
	}

	e.snap.Store(&snapshot{rules: rules, loadedAt: now})
	return rules
}

// Evaluate runs all matching rules in priority order. The first hard
// outcome wins: force_now, force_never, an active quiet_hours window,
// and a violated channel_override all return immediately, so a
// lower-priority rule can never override a higher one.
func (e *Engine) Evaluate(ctx context.Context, ev *models.Event, now time.Time) Outcome {
	var out Outcome
	rules := e.activeRules(ctx, now)

	for _, rule := range rules {
		if !Matches(ev, rule.Conditions) {
			continue
		}

		switch rule.RuleType {
		case models.RuleForceNow:
			out.Decision = models.DecisionNow
			out.RuleName = rule.RuleName
			out.Steps = append(out.Steps, models.ReasonStep{
				Layer:  models.LayerRules,
				Check:  "rule:" + rule.RuleName,
				Result: models.ResultForceNow,
			})
			return out

		case models.RuleForceNever:
			out.Decision = models.DecisionNever
			out.RuleName = rule.RuleName
			out.Steps = append(out.Steps, models.ReasonStep{
				Layer:  models.LayerRules,
				Check:  "rule:" + rule.RuleName,
				Result: models.ResultForceNever,
			})
			return out

		case models.RuleQuietHours:
			if inQuietHours(rule.ActionParams, now) {
				out.Decision = models.DecisionLater
				out.RuleName = rule.RuleName
				out.Steps = append(out.Steps, models.ReasonStep{
					Layer:  models.LayerRules,
					Check:  "rule:" + rule.RuleName,
					Result: models.ResultDefer,
					Detail: fmt.Sprintf("quiet hours active at %02d:00 UTC", now.UTC().Hour()),
				})
				return out
			}
			out.Steps = append(out.Steps, models.ReasonStep{
				Layer:  models.LayerRules,
				Check:  "rule:" + rule.RuleName,
				Result: models.ResultMatchedNoForce,
				Detail: "outside quiet hours window",
			})

		case models.RuleChannelOverride:
			if !channelAllowed(rule.ActionParams, ev.Channel) {
				out.Decision = models.DecisionNever
				out.RuleName = rule.RuleName
				out.Steps = append(out.Steps, models.ReasonStep{
					Layer:  models.LayerRules,
					Check:  "rule:" + rule.RuleName,
					Result: models.ResultForceNever,
					Detail: fmt.Sprintf("channel %s not allowed", ev.Channel),
				})
				return out
			}
			out.Steps = append(out.Steps, models.ReasonStep{
				Layer:  models.LayerRules,
				Check:  "rule:" + rule.RuleName,
				Result: models.ResultMatchedNoForce,
				Detail: fmt.Sprintf("channel %s allowed", ev.Channel),
			})

		case models.RuleCooldown, models.RuleCap:
			// Matched but carries no forcing effect; recorded for the trail.
			out.Steps = append(out.Steps, models.ReasonStep{
				Layer:  models.LayerRules,
				Check:  "rule:" + rule.RuleName,
				Result: models.ResultMatchedNoForce,
			})
		}
	}

	out.Steps = append(out.Steps, models.ReasonStep{
		Layer:  models.LayerRules,
		Check:  "rules_engine",
		Result: models.ResultNoMatch,
		Detail: fmt.Sprintf("evaluated %d rules, no hard outcome", len(rules)),
	})
	return out
}

// inQuietHours reports whether the current UTC hour falls in the rule's
// [start, end) window, wrapping midnight when start > end.
func inQuietHours(params map[string]any, now time.Time) bool {
	start, ok := paramInt(params, "start_hour")
	if !ok {
		return false
	}
	end, ok := paramInt(params, "end_hour")
	if !ok {
		return false
	}

	h := now.UTC().Hour()
	if start > end {
		return h >= start || h < end
	}
	return h >= start && h < end
}

// channelAllowed reports whether the event's channel is in the rule's
// allowed_channels list. A rule without the list allows everything.
func channelAllowed(params map[string]any, channel models.Channel) bool {
	raw, ok := params["allowed_channels"]
	if !ok {
		return true
	}
	list, ok := raw.([]any)
	if !ok {
		return true
	}
	for _, c := range list {
		if asString(c) == string(channel) {
			return true
		}
	}
	return false
}

func paramInt(params map[string]any, key string) (int, bool) {
	if params == nil {
		return 0, false
	}
	f, ok := asFloat(params[key])
	if !ok {
		return 0, false
	}
	return int(f), true
}
