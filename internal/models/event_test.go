// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package models

import (
	"testing"
	"time"
)

func TestNormalizeDefaults(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	ev := &Event{UserID: "u1", EventType: "weekly_newsletter", Title: "t", Message: "m", Source: "s"}
	ev.Normalize(now)

	if ev.Channel != ChannelPush {
		t.Errorf("channel = %q, want push", ev.Channel)
	}
	if ev.Timestamp == nil || !ev.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want %v", ev.Timestamp, now)
	}
}

func TestNormalizeKeepsMissingHintEmpty(t *testing.T) {
	ev := &Event{UserID: "u1", EventType: "weekly_newsletter", Title: "t", Message: "m", Source: "s"}
	ev.Normalize(time.Now())

	if ev.PriorityHint != "" {
		t.Errorf("unhinted event got hint %q, want none", ev.PriorityHint)
	}
	if ev.Critical() {
		t.Error("unhinted event must not be critical")
	}
}

func TestNormalizePreservesExplicitValues(t *testing.T) {
	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	ev := &Event{
		UserID: "u1", EventType: "security_alert", Title: "t", Message: "m", Source: "s",
		Channel: ChannelEmail, PriorityHint: PriorityLow, Timestamp: &ts,
	}
	ev.Normalize(time.Now())

	if ev.Channel != ChannelEmail || ev.PriorityHint != PriorityLow || !ev.Timestamp.Equal(ts) {
		t.Errorf("explicit fields changed: %+v", ev)
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if (&Event{}).Expired(now) {
		t.Error("event without expires_at must not expire")
	}
	if !(&Event{ExpiresAt: &past}).Expired(now) {
		t.Error("past expires_at must report expired")
	}
	if (&Event{ExpiresAt: &future}).Expired(now) {
		t.Error("future expires_at must not report expired")
	}
}
