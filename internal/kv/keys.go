// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package kv

import "fmt"

// Key builders for the engine's keyspace. Keeping these in one place
// prevents prefix drift between writers and the prefix scans in dedup.

// ExactDedupKey holds the first event ID seen for a fingerprint.
func ExactDedupKey(fingerprint string) string {
	return "dedup:exact:" + fingerprint
}

// NearDedupPrefix is the per-user prefix for MinHash signatures.
func NearDedupPrefix(userID string) string {
	return fmt.Sprintf("dedup:lsh:%s:", userID)
}

// NearDedupKey holds one MinHash signature for a user's recent event.
func NearDedupKey(userID, fingerprint string) string {
	return NearDedupPrefix(userID) + fingerprint
}

// HourlyCountKey is the rolling 1-hour sent counter.
func HourlyCountKey(userID string) string {
	return fmt.Sprintf("notif:count:%s:1h", userID)
}

// DailyCountKey is the rolling 24-hour sent counter.
func DailyCountKey(userID string) string {
	return fmt.Sprintf("notif:count:%s:24h", userID)
}

// LastSendKey records the unix timestamp of the last send for a
// (user, event type) pair.
func LastSendKey(userID, eventType string) string {
	return fmt.Sprintf("notif:last:%s:%s", userID, eventType)
}

// CooldownKey marks an active per-topic cooldown.
func CooldownKey(userID, eventType string) string {
	return fmt.Sprintf("notif:cooldown:%s:%s", userID, eventType)
}

// ProfileCacheKey caches the serialized user profile.
func ProfileCacheKey(userID string) string {
	return "user:profile:" + userID
}
