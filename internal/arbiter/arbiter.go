// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package arbiter implements the L5 final decision: it folds the rule
// outcome, the score, and the user context into now/later/never, and
// picks the optimal send time for deferred notifications.
package arbiter

import (
	"fmt"
	"time"

	"github.com/triagehq/triage/internal/config"
	"github.com/triagehq/triage/internal/enrich"
	"github.com/triagehq/triage/internal/models"
	"github.com/triagehq/triage/internal/rules"
)

// highScoreCapBypass lets near-certain notifications through a hit
// hourly cap. The daily cap has no score escape hatch.
const highScoreCapBypass = 0.8

// expiryMargin keeps scheduled sends clear of the event's expiry.
const expiryMargin = 5 * time.Minute

// Verdict is the arbiter's final word on one event.
type Verdict struct {
	Decision        models.Decision
	ScheduledSendAt *time.Time
	RuleApplied     string
	Step            models.ReasonStep
}

// Arbiter applies the decision precedence.
type Arbiter struct {
	thresholds config.ScoringConfig
}

// New creates an arbiter with the configured score thresholds.
func New(thresholds config.ScoringConfig) *Arbiter {
	return &Arbiter{thresholds: thresholds}
}

// Arbitrate runs the precedence chain. Exactly one reason step is
// emitted; a LATER verdict carries the computed send time.
func (a *Arbiter) Arbitrate(ev *models.Event, uc *enrich.UserContext, rule rules.Outcome, score float64, now time.Time) Verdict {
	critical := ev.Critical()

	if rule.Decision == models.DecisionNow {
		return Verdict{
			Decision:    models.DecisionNow,
			RuleApplied: rule.RuleName,
			Step:        step("rule_override", models.ResultNow, "rule %q forces immediate send", rule.RuleName),
		}
	}
	if rule.Decision == models.DecisionNever {
		return Verdict{
			Decision:    models.DecisionNever,
			RuleApplied: rule.RuleName,
			Step:        step("rule_override", models.ResultNever, "rule %q suppresses send", rule.RuleName),
		}
	}
	if uc.OptedOut(ev.EventType) {
		return Verdict{
			Decision: models.DecisionNever,
			Step:     step("topic_opt_out", models.ResultNever, "user opted out of %s", ev.EventType),
		}
	}
	if uc.HourlyCapHit() && !critical && score < highScoreCapBypass {
		return a.later(ev, uc, now,
			step("hourly_cap", models.ResultLater, "hourly cap reached (%d/%d)", uc.SentLast1h, uc.HourlyCap), "")
	}
	if uc.DailyCapHit() && !critical {
		return Verdict{
			Decision: models.DecisionNever,
			Step:     step("daily_cap", models.ResultNever, "daily cap reached (%d/%d)", uc.SentLast24h, uc.DailyCap),
		}
	}
	if uc.DNDActive && !critical {
		return a.later(ev, uc, now,
			step("dnd_active", models.ResultLater, "do not disturb until %02d:00 local", uc.DNDEndHour), "")
	}
	if rule.Decision == models.DecisionLater {
		return a.later(ev, uc, now,
			step("rule_defer", models.ResultLater, "rule %q defers send", rule.RuleName), rule.RuleName)
	}
	if score >= a.thresholds.NowThreshold || critical {
		return Verdict{
			Decision: models.DecisionNow,
			Step:     step("score_threshold", models.ResultNow, "score %.3f >= %.2f", score, a.thresholds.NowThreshold),
		}
	}
	if score >= a.thresholds.LaterThreshold {
		return a.later(ev, uc, now,
			step("score_threshold", models.ResultLater, "score %.3f >= %.2f", score, a.thresholds.LaterThreshold), "")
	}
	return Verdict{
		Decision: models.DecisionNever,
		Step:     step("score_threshold", models.ResultNever, "score %.3f < %.2f", score, a.thresholds.LaterThreshold),
	}
}

func (a *Arbiter) later(ev *models.Event, uc *enrich.UserContext, now time.Time, s models.ReasonStep, rule string) Verdict {
	at := OptimalSendTime(uc, now, ev.ExpiresAt)
	return Verdict{
		Decision:        models.DecisionLater,
		ScheduledSendAt: &at,
		RuleApplied:     rule,
		Step:            s,
	}
}

func step(check, result, format string, args ...any) models.ReasonStep {
	return models.ReasonStep{
		Layer:  models.LayerArbiter,
		Check:  check,
		Result: result,
		Detail: fmt.Sprintf(format, args...),
	}
}

// OptimalSendTime picks when to deliver a deferred notification: the
// offset within the next 24 hours whose local hour has the highest
// engagement weight, skipping DND hours (ties go to the earliest slot).
// The result is clamped below the event's expiry and rounded down to a
// quarter hour.
func OptimalSendTime(uc *enrich.UserContext, now time.Time, expiresAt *time.Time) time.Time {
	loc, err := time.LoadLocation(uc.Timezone)
	if err != nil {
		loc = time.UTC
	}

	best := time.Time{}
	bestWeight := -1.0
	for offset := 1; offset <= 24; offset++ {
		candidate := now.Add(time.Duration(offset) * time.Hour)
		h := candidate.In(loc).Hour()
		if enrich.DNDActiveAt(uc.DNDStartHour, uc.DNDEndHour, h) {
			continue
		}
		weight := 1.0
		if len(uc.Heatmap) == models.HeatmapHours {
			weight = uc.Heatmap[h]
		}
		if weight > bestWeight {
			bestWeight = weight
			best = candidate
		}
	}
	if best.IsZero() {
		best = now.Add(time.Hour)
	}

	if expiresAt != nil {
		latest := expiresAt.Add(-expiryMargin)
		if best.After(latest) {
			best = latest
		}
		if !best.After(now) {
			best = now.Add(5 * time.Minute)
		}
	}

	return best.Truncate(time.Minute).Add(-time.Duration(best.Minute()%15) * time.Minute)
}
