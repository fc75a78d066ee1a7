// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/triagehq/triage/internal/arbiter"
	"github.com/triagehq/triage/internal/bus"
	"github.com/triagehq/triage/internal/config"
	"github.com/triagehq/triage/internal/database"
	"github.com/triagehq/triage/internal/dedup"
	"github.com/triagehq/triage/internal/dispatch"
	"github.com/triagehq/triage/internal/enrich"
	"github.com/triagehq/triage/internal/kv"
	"github.com/triagehq/triage/internal/models"
	"github.com/triagehq/triage/internal/rules"
	"github.com/triagehq/triage/internal/scoring"
)

type fixture struct {
	p     *Evaluator
	db    *database.DB
	store *kv.Store
}

func newFixture(t *testing.T, seedRules ...*models.Rule) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(config.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.CreateSchema(ctx); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	for i, r := range seedRules {
		r.ID = fmt.Sprintf("rule-%d", i)
		r.IsActive = true
		if err := db.CreateRule(ctx, r); err != nil {
			t.Fatalf("seed rule %s: %v", r.RuleName, err)
		}
	}

	store, err := kv.Open(config.KVConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open kv store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dedupCfg := config.DedupConfig{
		ExactTTL:         time.Hour,
		LSHTTL:           24 * time.Hour,
		JaccardThreshold: 0.85,
		NumPermutations:  32,
	}
	fatigue := config.FatigueConfig{DefaultHourlyCap: 5, DefaultDailyCap: 20, CooldownSeconds: 3600}
	thresholds := config.ScoringConfig{NowThreshold: 0.75, LaterThreshold: 0.40}
	nats := config.NATSConfig{SendNowTopic: "send_now_queue", DeferTopic: "defer_queue"}
	digest := config.DigestConfig{PollInterval: 30 * time.Second, WindowMinutes: 30}

	guard := dedup.NewGuard(store, dedupCfg, time.Hour)
	engine := rules.NewEngine(db)
	enricher := enrich.New(store, db, fatigue)
	scorer := scoring.New(config.GroqConfig{Model: "llama-3.1-8b-instant"}, thresholds, db)
	arb := arbiter.New(thresholds)

	cb := bus.NewChannelBus(nil)
	t.Cleanup(func() { cb.Close() })
	dispatcher := dispatch.New(db, store, guard, cb, nats, digest)

	return &fixture{
		p:     New(guard, engine, enricher, scorer, arb, dispatcher, fatigue),
		db:    db,
		store: store,
	}
}

func event(eventType string, hint models.Priority) *models.Event {
	return &models.Event{
		UserID:       "u1",
		EventType:    eventType,
		Title:        "A title about " + eventType,
		Message:      "A reasonably long message body about " + eventType + " for similarity checks",
		Source:       "test",
		Channel:      models.ChannelPush,
		PriorityHint: hint,
	}
}

func lastStep(res *models.DecisionResult) models.ReasonStep {
	return res.ReasonChain[len(res.ReasonChain)-1]
}

func TestCriticalPaymentGoesNow(t *testing.T) {
	f := newFixture(t, &models.Rule{
		RuleName:      "Force critical payment alerts",
		RuleType:      models.RuleForceNow,
		Conditions:    map[string]any{"event_type": []any{"payment_failed"}},
		PriorityOrder: 1,
	})

	res, err := f.p.Evaluate(context.Background(), event("payment_failed", models.PriorityCritical))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Decision != models.DecisionNow {
		t.Fatalf("decision = %q, want now", res.Decision)
	}
	if res.RuleApplied != "Force critical payment alerts" {
		t.Errorf("rule applied = %q", res.RuleApplied)
	}
	if res.AIUsed {
		t.Error("hard rule path must not use AI")
	}
	if res.Score != 1.0 {
		t.Errorf("synthetic score = %g, want 1.0", res.Score)
	}

	// scoring was skipped, not run
	foundSkip := false
	for _, s := range res.ReasonChain {
		if s.Layer == models.LayerAIScorer && s.Result == models.ResultSkipped {
			foundSkip = true
		}
	}
	if !foundSkip {
		t.Errorf("missing SKIPPED scorer step: %+v", res.ReasonChain)
	}

	// durable record + audit
	stored, err := f.db.GetEvent(context.Background(), res.EventID)
	if err != nil {
		t.Fatalf("stored event missing: %v", err)
	}
	if stored.ComputedFingerprint == "" {
		t.Error("stored event missing fingerprint")
	}
	if stored.RuleMatched != "Force critical payment alerts" {
		t.Errorf("stored rule_matched = %q", stored.RuleMatched)
	}
	if len(stored.ReasonChain) != len(res.ReasonChain) {
		t.Errorf("stored reason chain = %d steps, want %d", len(stored.ReasonChain), len(res.ReasonChain))
	}
	audit, err := f.db.AuditByEventID(context.Background(), res.EventID)
	if err != nil {
		t.Fatalf("audit missing: %v", err)
	}
	if audit.Decision != models.DecisionNow {
		t.Errorf("audit decision = %q", audit.Decision)
	}
	if audit.RawEvent == nil || audit.RawEvent.EventType != "payment_failed" {
		t.Errorf("audit raw event = %+v", audit.RawEvent)
	}
}

func TestPromoViaSMSSuppressedByChannelOverride(t *testing.T) {
	f := newFixture(t, &models.Rule{
		RuleName:   "Suppress all promotions via SMS",
		RuleType:   models.RuleChannelOverride,
		Conditions: map[string]any{"event_type": []any{"promo_offer"}},
		ActionParams: map[string]any{
			"allowed_channels": []any{"push", "email", "in_app"},
		},
		PriorityOrder: 10,
	})

	ev := event("promo_offer", models.PriorityLow)
	ev.Channel = models.ChannelSMS
	res, err := f.p.Evaluate(context.Background(), ev)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Decision != models.DecisionNever {
		t.Errorf("decision = %q, want never", res.Decision)
	}
	if res.RuleApplied != "Suppress all promotions via SMS" {
		t.Errorf("rule applied = %q", res.RuleApplied)
	}
}

func TestDuplicateWithinHourSuppressed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.p.Evaluate(ctx, event("order_update", models.PriorityMedium))
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	if first.Decision == models.DecisionNever {
		t.Fatalf("first submission should not be suppressed: %+v", first.ReasonChain)
	}

	second, err := f.p.Evaluate(ctx, event("order_update", models.PriorityMedium))
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if second.Decision != models.DecisionNever {
		t.Errorf("duplicate decision = %q, want never", second.Decision)
	}
	found := false
	for _, s := range second.ReasonChain {
		if s.Check == "exact_duplicate" && s.Result == models.ResultSuppress {
			found = true
		}
	}
	if !found {
		t.Errorf("missing exact_duplicate SUPPRESS step: %+v", second.ReasonChain)
	}
}

func TestActiveCooldownSuppressesDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.store.Set(kv.CooldownKey("u1", "order_update"), []byte("1"), time.Hour); err != nil {
		t.Fatalf("seed cooldown: %v", err)
	}

	res, err := f.p.Evaluate(ctx, event("order_update", models.PriorityMedium))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Decision != models.DecisionNever {
		t.Fatalf("decision = %q, want never (chain %+v)", res.Decision, res.ReasonChain)
	}
	if got := lastStep(res); got.Check != "topic_cooldown" || got.Result != models.ResultSuppress {
		t.Errorf("final step = %+v, want topic_cooldown SUPPRESS", got)
	}

	// suppression is still audited
	if _, err := f.db.AuditByEventID(ctx, res.EventID); err != nil {
		t.Errorf("audit missing: %v", err)
	}
}

func TestHourlyCapDefers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.store.Incr(kv.HourlyCountKey("u1"), time.Hour); err != nil {
			t.Fatalf("incr: %v", err)
		}
	}

	// heuristic: reminder urgency 0.7, engagement 1.0 (flat heatmap),
	// fatigue 1.0, recency 1.0 -> score 0.395+0.25-0.25+0.15 below 0.8
	res, err := f.p.Evaluate(ctx, event("daily_reminder", models.PriorityMedium))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Decision != models.DecisionLater {
		t.Fatalf("decision = %q, want later (chain %+v)", res.Decision, res.ReasonChain)
	}
	if got := lastStep(res); got.Check != "hourly_cap" {
		t.Errorf("final step = %+v, want hourly_cap", got)
	}
	if res.ScheduledSendAt == nil {
		t.Error("deferred decision must carry a send time")
	}
}

func TestExpiredEventSingleStep(t *testing.T) {
	f := newFixture(t)

	ev := event("order_update", models.PriorityMedium)
	past := time.Now().Add(-time.Minute)
	ev.ExpiresAt = &past

	res, err := f.p.Evaluate(context.Background(), ev)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Decision != models.DecisionNever {
		t.Errorf("decision = %q, want never", res.Decision)
	}
	if len(res.ReasonChain) != 1 {
		t.Fatalf("reason chain = %+v, want single expiry step", res.ReasonChain)
	}
	step := res.ReasonChain[0]
	if step.Layer != models.LayerIngestion || step.Check != "expiry_check" || step.Result != models.ResultExpired {
		t.Errorf("step = %+v", step)
	}

	// expired events are still audited
	if _, err := f.db.AuditByEventID(context.Background(), res.EventID); err != nil {
		t.Errorf("audit missing: %v", err)
	}
}

func TestQuietHoursDefersWithSendTime(t *testing.T) {
	f := newFixture(t, &models.Rule{
		RuleName:      "Global quiet hours",
		RuleType:      models.RuleQuietHours,
		Conditions:    map[string]any{},
		ActionParams:  map[string]any{"start_hour": 0.0, "end_hour": 24.0},
		PriorityOrder: 20,
	})

	// profile without a DND window, so the rule deferral is what decides
	profile := models.DefaultProfile("u1")
	profile.DNDStartHour = 0
	profile.DNDEndHour = 0
	if err := f.db.SaveProfile(context.Background(), profile); err != nil {
		t.Fatalf("save profile: %v", err)
	}

	res, err := f.p.Evaluate(context.Background(), event("friend_message", models.PriorityMedium))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Decision != models.DecisionLater {
		t.Fatalf("decision = %q, want later (chain %+v)", res.Decision, res.ReasonChain)
	}
	if got := lastStep(res); got.Check != "rule_defer" {
		t.Errorf("final step = %+v, want rule_defer", got)
	}
	if res.ScheduledSendAt == nil {
		t.Error("deferred decision must carry a send time")
	}
}

func TestBatchIsolatesFailures(t *testing.T) {
	f := newFixture(t)

	critical := event("security_alert", models.PriorityCritical)
	critical.UserID = "u2"
	events := []*models.Event{
		event("order_update", models.PriorityMedium),
		nil, // poisoned: panics inside Evaluate
		critical,
	}

	results := f.p.EvaluateBatch(context.Background(), events)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}

	if results[0] == nil || results[0].Decision == "" {
		t.Errorf("healthy event 0 got %+v", results[0])
	}
	if results[2] == nil || results[2].Decision != models.DecisionNow {
		t.Errorf("critical event 2 got %+v", results[2])
	}

	poisoned := results[1]
	if poisoned == nil {
		t.Fatal("poisoned slot must get a synthesized result")
	}
	if poisoned.Decision != models.DecisionLater {
		t.Errorf("poisoned decision = %q, want later", poisoned.Decision)
	}
	if s := poisoned.ReasonChain[0]; s.Layer != models.LayerError || s.Check != "pipeline_error" || s.Result != models.ResultError {
		t.Errorf("poisoned step = %+v", s)
	}
}

func TestBatchConcurrentUsersIsolated(t *testing.T) {
	f := newFixture(t)

	events := make([]*models.Event, 40)
	for i := range events {
		ev := event("security_alert", models.PriorityCritical)
		ev.UserID = fmt.Sprintf("user-%d", i%8)
		// short message keeps the near-dup tier out of the way
		ev.Message = "check now"
		ev.DedupeKey = fmt.Sprintf("alert-%d", i)
		events[i] = ev
	}

	results := f.p.EvaluateBatch(context.Background(), events)
	for i, res := range results {
		if res == nil {
			t.Fatalf("result %d missing", i)
		}
		if res.Decision != models.DecisionNow {
			t.Errorf("result %d decision = %q (chain %+v)", i, res.Decision, res.ReasonChain)
		}
	}
}
