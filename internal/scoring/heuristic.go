// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package scoring

import (
	"strings"

	"github.com/triagehq/triage/internal/enrich"
	"github.com/triagehq/triage/internal/models"
)

// Composite score weights. The LLM is prompted with the same contract so
// both paths produce comparable scores.
const (
	weightUrgency    = 0.35
	weightEngagement = 0.25
	weightFatigue    = 0.25
	weightRecency    = 0.15
)

// keywordUrgency maps event_type substrings to urgency. The highest
// matching entry wins; event types matching nothing get the baseline.
var keywordUrgency = []struct {
	keyword string
	score   float64
}{
	{"critical", 1.0},
	{"security", 1.0},
	{"payment_failed", 1.0},
	{"payment_declined", 1.0},
	{"2fa", 1.0},
	{"otp", 1.0},
	{"password", 0.9},
	{"account", 0.8},
	{"alert", 0.8},
	{"message", 0.7},
	{"reminder", 0.7},
	{"update", 0.5},
	{"system", 0.5},
	{"promo", 0.2},
	{"offer", 0.2},
	{"discount", 0.2},
	{"marketing", 0.15},
	{"newsletter", 0.1},
}

const baselineUrgency = 0.4

var hintUrgency = map[models.Priority]float64{
	models.PriorityCritical: 1.0,
	models.PriorityHigh:     0.8,
	models.PriorityMedium:   0.5,
	models.PriorityLow:      0.2,
}

// heuristicUrgency is the deterministic urgency estimate: the stronger of
// the keyword match and the producer's priority hint.
func heuristicUrgency(ev *models.Event) float64 {
	eventType := strings.ToLower(ev.EventType)
	matched := false
	keyword := 0.0
	for _, entry := range keywordUrgency {
		if strings.Contains(eventType, entry.keyword) && entry.score > keyword {
			keyword = entry.score
			matched = true
		}
	}
	if !matched {
		keyword = baselineUrgency
	}

	hint := hintUrgency[ev.PriorityHint]
	if hint > keyword {
		return hint
	}
	return keyword
}

// compose applies the weighted scoring formula and clamps to [0,1].
func compose(urgency, engagement, fatigue, recency float64) float64 {
	score := weightUrgency*urgency +
		weightEngagement*engagement -
		weightFatigue*fatigue +
		weightRecency*recency
	return clamp01(score)
}

// heuristicScore is the full LLM-free scoring path.
func heuristicScore(ev *models.Event, uc *enrich.UserContext) float64 {
	return compose(heuristicUrgency(ev), uc.EngagementScore, uc.FatigueRatio1h(), uc.RecencyBonus())
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
