// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package kv

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/triagehq/triage/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.KVConfig{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGet(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := s.Get("k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "v1" {
		t.Errorf("Get = %q, want v1", val)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetNX(t *testing.T) {
	s := newTestStore(t)

	created, err := s.SetNX("dedup:exact:abc", []byte("evt-1"), time.Minute)
	if err != nil {
		t.Fatalf("SetNX failed: %v", err)
	}
	if !created {
		t.Error("first SetNX should create the entry")
	}

	created, err = s.SetNX("dedup:exact:abc", []byte("evt-2"), time.Minute)
	if err != nil {
		t.Fatalf("second SetNX failed: %v", err)
	}
	if created {
		t.Error("second SetNX should report existing entry")
	}

	// Original value must survive
	val, err := s.Get("dedup:exact:abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "evt-1" {
		t.Errorf("value = %q, want evt-1 (first writer wins)", val)
	}
}

func TestIncr(t *testing.T) {
	s := newTestStore(t)

	for want := int64(1); want <= 3; want++ {
		got, err := s.Incr("notif:count:u1:1h", time.Hour)
		if err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
		if got != want {
			t.Errorf("Incr = %d, want %d", got, want)
		}
	}

	n, err := s.GetInt64("notif:count:u1:1h")
	if err != nil {
		t.Fatalf("GetInt64 failed: %v", err)
	}
	if n != 3 {
		t.Errorf("GetInt64 = %d, want 3", n)
	}
}

func TestIncrPinsTTLToFirstWrite(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Incr("counter", time.Hour); err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	first, err := s.TTL("counter")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}

	// A later increment with a much larger TTL must not extend the window.
	if _, err := s.Incr("counter", 48*time.Hour); err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	second, err := s.TTL("counter")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}

	if second > first+time.Second {
		t.Errorf("TTL extended from %s to %s; window must stay pinned", first, second)
	}
}

func TestIncrConcurrent(t *testing.T) {
	s := newTestStore(t)

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := s.Incr("hot", time.Hour); err != nil {
				t.Errorf("Incr failed: %v", err)
			}
		}()
	}
	wg.Wait()

	n, err := s.GetInt64("hot")
	if err != nil {
		t.Fatalf("GetInt64 failed: %v", err)
	}
	if n != workers {
		t.Errorf("counter = %d, want %d (increments must not be lost)", n, workers)
	}
}

func TestGetInt64Missing(t *testing.T) {
	s := newTestStore(t)

	n, err := s.GetInt64("missing")
	if err != nil {
		t.Fatalf("GetInt64 failed: %v", err)
	}
	if n != 0 {
		t.Errorf("GetInt64 on missing key = %d, want 0", n)
	}
}

func TestTTLExpiry(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("short", []byte("x"), 50*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(120 * time.Millisecond)

	if _, err := s.Get("short"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired key should be ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get("k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted key should be ErrNotFound, got %v", err)
	}

	// Deleting an absent key is fine.
	if err := s.Delete("never-existed"); err != nil {
		t.Errorf("Delete on missing key: %v", err)
	}
}

func TestScanPrefix(t *testing.T) {
	s := newTestStore(t)

	for _, k := range []string{
		NearDedupKey("u1", "fp-a"),
		NearDedupKey("u1", "fp-b"),
		NearDedupKey("u2", "fp-c"),
	} {
		if err := s.Set(k, []byte("sig"), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	var keys []string
	err := s.ScanPrefix(NearDedupPrefix("u1"), 100, func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanPrefix failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("scanned %d keys for u1, want 2", len(keys))
	}
}

func TestScanPrefixLimit(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 10; i++ {
		key := NearDedupKey("u1", string(rune('a'+i)))
		if err := s.Set(key, []byte("sig"), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	count := 0
	err := s.ScanPrefix(NearDedupPrefix("u1"), 3, func(string, []byte) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("ScanPrefix failed: %v", err)
	}
	if count != 3 {
		t.Errorf("visited %d entries, want 3 (limit)", count)
	}
}

func TestKeyBuilders(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{ExactDedupKey("abc"), "dedup:exact:abc"},
		{NearDedupKey("u1", "abc"), "dedup:lsh:u1:abc"},
		{HourlyCountKey("u1"), "notif:count:u1:1h"},
		{DailyCountKey("u1"), "notif:count:u1:24h"},
		{LastSendKey("u1", "promo"), "notif:last:u1:promo"},
		{CooldownKey("u1", "promo"), "notif:cooldown:u1:promo"},
		{ProfileCacheKey("u1"), "user:profile:u1"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}
