// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package enrich

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/triagehq/triage/internal/config"
	"github.com/triagehq/triage/internal/database"
	"github.com/triagehq/triage/internal/kv"
	"github.com/triagehq/triage/internal/models"
)

// fakeProfiles serves profiles from a map and counts store hits.
type fakeProfiles struct {
	profiles map[string]*models.UserProfile
	loads    int
}

func (f *fakeProfiles) Profile(_ context.Context, userID string) (*models.UserProfile, error) {
	f.loads++
	p, ok := f.profiles[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return p, nil
}

func testFatigue() config.FatigueConfig {
	return config.FatigueConfig{
		DefaultHourlyCap: 5,
		DefaultDailyCap:  20,
		CooldownSeconds:  3600,
	}
}

func newTestEnricher(t *testing.T, profiles *fakeProfiles) (*Enricher, *kv.Store) {
	t.Helper()
	store, err := kv.Open(config.KVConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open kv store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, profiles, testFatigue()), store
}

func testEvent(userID string) *models.Event {
	return &models.Event{
		UserID:    userID,
		EventType: "order_update",
		Title:     "Order shipped",
		Message:   "Your order is on the way",
		Channel:   models.ChannelPush,
	}
}

func TestContextDefaultsForUnknownUser(t *testing.T) {
	e, _ := newTestEnricher(t, &fakeProfiles{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	uc := e.Context(context.Background(), testEvent("nobody"), now)

	if uc.SentLast1h != 0 || uc.SentLast24h != 0 {
		t.Errorf("counters = %d/%d, want 0/0", uc.SentLast1h, uc.SentLast24h)
	}
	if uc.HourlyCap != 5 || uc.DailyCap != 20 {
		t.Errorf("caps = %d/%d, want 5/20", uc.HourlyCap, uc.DailyCap)
	}
	if uc.LastSentSecondsAgo != nil {
		t.Errorf("expected nil recency for fresh user")
	}
	if uc.Timezone != "UTC" || uc.LocalHour != 12 {
		t.Errorf("timezone/hour = %s/%d", uc.Timezone, uc.LocalHour)
	}
	if uc.DNDActive {
		t.Errorf("12:00 UTC should not be inside default 22-08 DND")
	}
	if uc.EngagementScore != 1.0 {
		t.Errorf("default profile heatmap is flat 1.0, got %g", uc.EngagementScore)
	}
}

func TestContextReadsCountersAndRecency(t *testing.T) {
	e, store := newTestEnricher(t, &fakeProfiles{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := testEvent("u1")

	for i := 0; i < 3; i++ {
		if _, err := store.Incr(kv.HourlyCountKey("u1"), time.Hour); err != nil {
			t.Fatalf("incr: %v", err)
		}
	}
	for i := 0; i < 7; i++ {
		if _, err := store.Incr(kv.DailyCountKey("u1"), 24*time.Hour); err != nil {
			t.Fatalf("incr: %v", err)
		}
	}
	lastSend := now.Add(-30 * time.Minute).Unix()
	if err := store.Set(kv.LastSendKey("u1", ev.EventType), []byte(fmt.Sprint(lastSend)), 24*time.Hour); err != nil {
		t.Fatalf("set last send: %v", err)
	}

	uc := e.Context(context.Background(), ev, now)

	if uc.SentLast1h != 3 {
		t.Errorf("SentLast1h = %d, want 3", uc.SentLast1h)
	}
	if uc.SentLast24h != 7 {
		t.Errorf("SentLast24h = %d, want 7", uc.SentLast24h)
	}
	if uc.LastSentSecondsAgo == nil {
		t.Fatal("expected recency to be set")
	}
	if got := *uc.LastSentSecondsAgo; got < 1799 || got > 1801 {
		t.Errorf("LastSentSecondsAgo = %g, want ~1800", got)
	}
	if got := uc.RecencyBonus(); got < 0.49 || got > 0.51 {
		t.Errorf("RecencyBonus = %g, want ~0.5", got)
	}
}

func TestContextAppliesProfileOverrides(t *testing.T) {
	hourly, daily := 2, 10
	profile := models.DefaultProfile("u2")
	profile.Timezone = "America/New_York"
	profile.HourlyCapOverride = &hourly
	profile.DailyCapOverride = &daily
	profile.OptedOutTopics = []string{"promo_offer"}
	profile.EngagementHeatmap[21] = 0.9

	e, _ := newTestEnricher(t, &fakeProfiles{profiles: map[string]*models.UserProfile{"u2": profile}})

	// 02:00 UTC on March 1 is 21:00 EST the previous evening.
	now := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	uc := e.Context(context.Background(), testEvent("u2"), now)

	if uc.HourlyCap != 2 || uc.DailyCap != 10 {
		t.Errorf("caps = %d/%d, want 2/10", uc.HourlyCap, uc.DailyCap)
	}
	if uc.LocalHour != 21 {
		t.Errorf("LocalHour = %d, want 21 (EST)", uc.LocalHour)
	}
	if uc.EngagementScore != 0.9 {
		t.Errorf("EngagementScore = %g, want heatmap[21] = 0.9", uc.EngagementScore)
	}
	if !uc.OptedOut("promo_offer") {
		t.Error("expected promo_offer opt-out to carry over")
	}
	if uc.DNDActive {
		t.Error("21:00 local is before the 22:00 DND start")
	}
}

func TestProfileCacheReadThrough(t *testing.T) {
	profiles := &fakeProfiles{profiles: map[string]*models.UserProfile{
		"u3": models.DefaultProfile("u3"),
	}}
	e, _ := newTestEnricher(t, profiles)
	now := time.Now()

	e.Context(context.Background(), testEvent("u3"), now)
	e.Context(context.Background(), testEvent("u3"), now)
	if profiles.loads != 1 {
		t.Errorf("loads = %d, want 1 (second read served from cache)", profiles.loads)
	}

	e.InvalidateProfile("u3")
	e.Context(context.Background(), testEvent("u3"), now)
	if profiles.loads != 2 {
		t.Errorf("loads = %d, want 2 after invalidation", profiles.loads)
	}
}

func TestDNDActiveAt(t *testing.T) {
	tests := []struct {
		start, end, hour int
		want             bool
	}{
		{22, 8, 23, true},
		{22, 8, 3, true},
		{22, 8, 8, false},
		{22, 8, 12, false},
		{9, 17, 12, true},
		{9, 17, 8, false},
		{9, 17, 17, false},
		{0, 0, 12, false},
	}
	for _, tt := range tests {
		if got := DNDActiveAt(tt.start, tt.end, tt.hour); got != tt.want {
			t.Errorf("DNDActiveAt(%d, %d, %d) = %v, want %v", tt.start, tt.end, tt.hour, got, tt.want)
		}
	}
}

func TestFatigueAndCapHelpers(t *testing.T) {
	uc := &UserContext{SentLast1h: 3, SentLast24h: 25, HourlyCap: 5, DailyCap: 20}

	if uc.HourlyCapHit() {
		t.Error("3/5 should not hit the hourly cap")
	}
	if !uc.DailyCapHit() {
		t.Error("25/20 should hit the daily cap")
	}
	if got := uc.FatigueRatio1h(); got != 0.6 {
		t.Errorf("FatigueRatio1h = %g, want 0.6", got)
	}

	uc.SentLast1h = 9
	if got := uc.FatigueRatio1h(); got != 1 {
		t.Errorf("FatigueRatio1h over cap = %g, want 1", got)
	}
	if !uc.HourlyCapHit() {
		t.Error("9/5 should hit the hourly cap")
	}
}

func TestRecencyBonusBounds(t *testing.T) {
	uc := &UserContext{}
	if got := uc.RecencyBonus(); got != 1.0 {
		t.Errorf("never-contacted bonus = %g, want 1.0", got)
	}

	recent := 300.0
	uc.LastSentSecondsAgo = &recent
	if got := uc.RecencyBonus(); got < 0.083 || got > 0.084 {
		t.Errorf("5-minute bonus = %g, want ~0.083", got)
	}

	old := 7200.0
	uc.LastSentSecondsAgo = &old
	if got := uc.RecencyBonus(); got != 1.0 {
		t.Errorf("2-hour bonus = %g, want capped at 1.0", got)
	}
}
