// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package rules

import (
	"context"
	"testing"
	"time"

	"github.com/triagehq/triage/internal/models"
)

// fakeLister serves a fixed rule set and counts loads.
type fakeLister struct {
	rules []*models.Rule
	loads int
}

func (f *fakeLister) ListRules(_ context.Context, _ bool) ([]*models.Rule, error) {
	f.loads++
	return f.rules, nil
}

func promoEvent(channel models.Channel) *models.Event {
	return &models.Event{
		UserID:       "u1",
		EventType:    "promo_offer",
		Title:        "50% off",
		Message:      "Big sale",
		Source:       "marketing",
		Channel:      channel,
		PriorityHint: models.PriorityLow,
	}
}

func paymentEvent() *models.Event {
	return &models.Event{
		UserID:       "u1",
		EventType:    "payment_failed",
		Title:        "Payment failed",
		Message:      "Card declined",
		Source:       "billing",
		Channel:      models.ChannelPush,
		PriorityHint: models.PriorityCritical,
	}
}

func TestMatchesShapes(t *testing.T) {
	ev := paymentEvent()
	ev.Metadata = map[string]any{"amount": 120.0, "region": "EU"}

	tests := []struct {
		name       string
		conditions map[string]any
		want       bool
	}{
		{"empty matches everything", map[string]any{}, true},
		{"list membership", map[string]any{"event_type": []any{"payment_failed", "payment_declined"}}, true},
		{"list miss", map[string]any{"event_type": []any{"promo_offer"}}, false},
		{"scalar equality", map[string]any{"source": "billing"}, true},
		{"scalar miss", map[string]any{"source": "marketing"}, false},
		{"gte", map[string]any{"meta.amount": map[string]any{"gte": 100.0}}, true},
		{"gte miss", map[string]any{"meta.amount": map[string]any{"gte": 200.0}}, false},
		{"lte", map[string]any{"meta.amount": map[string]any{"lte": 150.0}}, true},
		{"contains case-insensitive", map[string]any{"event_type": map[string]any{"contains": "PAYMENT"}}, true},
		{"not_in", map[string]any{"channel": map[string]any{"not_in": []any{"sms"}}}, true},
		{"not_in miss", map[string]any{"channel": map[string]any{"not_in": []any{"push"}}}, false},
		{"unknown field fails closed", map[string]any{"nonsense_field": "x"}, false},
		{"missing meta key fails closed", map[string]any{"meta.missing": "x"}, false},
		{"all must hold", map[string]any{"source": "billing", "channel": "email"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(ev, tt.conditions); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestForceNowShortCircuits(t *testing.T) {
	lister := &fakeLister{rules: []*models.Rule{
		{
			RuleName:   "Force critical payment alerts",
			RuleType:   models.RuleForceNow,
			Conditions: map[string]any{"event_type": []any{"payment_failed"}},
		},
		{
			RuleName:   "Quiet hours",
			RuleType:   models.RuleQuietHours,
			Conditions: map[string]any{},
			ActionParams: map[string]any{
				"start_hour": 0.0, "end_hour": 23.0,
			},
		},
	}}
	e := NewEngine(lister)

	out := e.Evaluate(context.Background(), paymentEvent(), time.Now())
	if out.Decision != models.DecisionNow {
		t.Fatalf("decision = %q, want now", out.Decision)
	}
	if out.RuleName != "Force critical payment alerts" {
		t.Errorf("rule name = %q", out.RuleName)
	}
	if len(out.Steps) != 1 || out.Steps[0].Result != models.ResultForceNow {
		t.Errorf("expected single FORCE_NOW step, got %+v", out.Steps)
	}
}

func TestChannelOverrideBlocksDisallowedChannel(t *testing.T) {
	lister := &fakeLister{rules: []*models.Rule{
		{
			RuleName:   "Suppress all promotions via SMS",
			RuleType:   models.RuleChannelOverride,
			Conditions: map[string]any{"event_type": []any{"promo_offer", "promotion"}},
			ActionParams: map[string]any{
				"allowed_channels": []any{"push", "email", "in_app"},
			},
		},
	}}
	e := NewEngine(lister)

	out := e.Evaluate(context.Background(), promoEvent(models.ChannelSMS), time.Now())
	if out.Decision != models.DecisionNever {
		t.Fatalf("decision = %q, want never", out.Decision)
	}
	if out.RuleName != "Suppress all promotions via SMS" {
		t.Errorf("rule name = %q", out.RuleName)
	}

	// Allowed channel passes through with no outcome, but the match is
	// still recorded before the trailing no-match step.
	out = e.Evaluate(context.Background(), promoEvent(models.ChannelPush), time.Now())
	if out.Decision != "" {
		t.Errorf("allowed channel should have no hard outcome, got %q", out.Decision)
	}
	if len(out.Steps) != 2 ||
		out.Steps[0].Result != models.ResultMatchedNoForce ||
		out.Steps[1].Result != models.ResultNoMatch {
		t.Errorf("expected MATCHED_NO_FORCE then NO_MATCH, got %+v", out.Steps)
	}
}

func TestQuietHoursWindow(t *testing.T) {
	lister := &fakeLister{rules: []*models.Rule{
		{
			RuleName:   "Global quiet hours",
			RuleType:   models.RuleQuietHours,
			Conditions: map[string]any{},
			ActionParams: map[string]any{
				"start_hour": 22.0, "end_hour": 8.0,
			},
		},
	}}
	e := NewEngine(lister)

	inWindow := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	out := e.Evaluate(context.Background(), promoEvent(models.ChannelPush), inWindow)
	if out.Decision != models.DecisionLater {
		t.Errorf("23:30 UTC should defer, got %q", out.Decision)
	}

	earlyMorning := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	out = e.Evaluate(context.Background(), promoEvent(models.ChannelPush), earlyMorning)
	if out.Decision != models.DecisionLater {
		t.Errorf("03:00 UTC should defer (overnight window), got %q", out.Decision)
	}

	midday := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out = e.Evaluate(context.Background(), promoEvent(models.ChannelPush), midday)
	if out.Decision != "" {
		t.Errorf("12:00 UTC should not defer, got %q", out.Decision)
	}
	if len(out.Steps) != 2 || out.Steps[0].Result != models.ResultMatchedNoForce {
		t.Errorf("inactive window should record MATCHED_NO_FORCE, got %+v", out.Steps)
	}
}

func TestActiveQuietHoursBeatsLowerPriorityForce(t *testing.T) {
	lister := &fakeLister{rules: []*models.Rule{
		{
			RuleName:      "Global quiet hours",
			RuleType:      models.RuleQuietHours,
			Conditions:    map[string]any{},
			ActionParams:  map[string]any{"start_hour": 0.0, "end_hour": 24.0},
			PriorityOrder: 1,
		},
		{
			RuleName:      "Force security alerts",
			RuleType:      models.RuleForceNow,
			Conditions:    map[string]any{"event_type": []any{"payment_failed"}},
			PriorityOrder: 2,
		},
	}}
	e := NewEngine(lister)

	out := e.Evaluate(context.Background(), paymentEvent(), time.Now())
	if out.Decision != models.DecisionLater {
		t.Fatalf("higher-priority quiet_hours must win, got %q", out.Decision)
	}
	if out.RuleName != "Global quiet hours" {
		t.Errorf("rule name = %q", out.RuleName)
	}
	// evaluation stopped at the quiet hours rule
	if len(out.Steps) != 1 || out.Steps[0].Result != models.ResultDefer {
		t.Errorf("expected single DEFER step, got %+v", out.Steps)
	}
}

func TestCooldownRuleRecordsNoForce(t *testing.T) {
	lister := &fakeLister{rules: []*models.Rule{
		{
			RuleName:   "Promo cooldown",
			RuleType:   models.RuleCooldown,
			Conditions: map[string]any{"event_type": "promo_offer"},
		},
	}}
	e := NewEngine(lister)

	out := e.Evaluate(context.Background(), promoEvent(models.ChannelPush), time.Now())
	if out.Decision != "" {
		t.Errorf("cooldown rule must not force, got %q", out.Decision)
	}
	if len(out.Steps) != 2 ||
		out.Steps[0].Result != models.ResultMatchedNoForce ||
		out.Steps[1].Result != models.ResultNoMatch {
		t.Errorf("expected MATCHED_NO_FORCE then NO_MATCH, got %+v", out.Steps)
	}
}

func TestNoMatchTrailingStep(t *testing.T) {
	lister := &fakeLister{rules: []*models.Rule{
		{
			RuleName:   "Billing only",
			RuleType:   models.RuleForceNow,
			Conditions: map[string]any{"source": "billing"},
		},
	}}
	e := NewEngine(lister)

	out := e.Evaluate(context.Background(), promoEvent(models.ChannelPush), time.Now())
	if out.Decision != "" {
		t.Errorf("decision = %q, want none", out.Decision)
	}
	if len(out.Steps) != 1 || out.Steps[0].Result != models.ResultNoMatch {
		t.Errorf("expected NO_MATCH step, got %+v", out.Steps)
	}
}

func TestSnapshotCachingAndInvalidation(t *testing.T) {
	lister := &fakeLister{}
	e := NewEngine(lister)
	now := time.Now()

	e.Evaluate(context.Background(), promoEvent(models.ChannelPush), now)
	e.Evaluate(context.Background(), promoEvent(models.ChannelPush), now.Add(time.Second))
	if lister.loads != 1 {
		t.Errorf("loads = %d, want 1 (snapshot cached)", lister.loads)
	}

	// TTL expiry forces a reload
	e.Evaluate(context.Background(), promoEvent(models.ChannelPush), now.Add(snapshotTTL+time.Second))
	if lister.loads != 2 {
		t.Errorf("loads = %d, want 2 (TTL expired)", lister.loads)
	}

	// Explicit invalidation forces a reload regardless of age
	e.Invalidate()
	e.Evaluate(context.Background(), promoEvent(models.ChannelPush), now.Add(snapshotTTL+2*time.Second))
	if lister.loads != 3 {
		t.Errorf("loads = %d, want 3 (invalidated)", lister.loads)
	}
}
