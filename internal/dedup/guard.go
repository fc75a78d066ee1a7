// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package dedup implements the L1 duplicate guard: exact fingerprint
// matching, MinHash near-duplicate detection, and per-topic cooldowns.
// All state lives in the TTL'd KV store; the guard fails open on storage
// errors so a degraded store never drops notifications silently.
package dedup

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/triagehq/triage/internal/config"
	"github.com/triagehq/triage/internal/kv"
	"github.com/triagehq/triage/internal/logging"
	"github.com/triagehq/triage/internal/metrics"
	"github.com/triagehq/triage/internal/models"
)

// maxSignatureScan bounds how many stored signatures are compared per
// event, keeping near-dup checks O(100) for pathological users.
const maxSignatureScan = 100

// minNearDupLength is the message length below which near-duplicate
// detection is skipped; short texts shingle too poorly to compare.
const minNearDupLength = 20

// Verdict is the guard's output: whether the event is suppressed, the
// content fingerprint it was checked under, and the reason steps
// describing every tier that ran.
type Verdict struct {
	Suppressed  bool
	Fingerprint string
	Steps       []models.ReasonStep
}

// Guard runs the three dedup tiers against the KV store.
type Guard struct {
	store    *kv.Store
	hasher   *MinHasher
	cfg      config.DedupConfig
	cooldown time.Duration
	logger   zerolog.Logger
}

// NewGuard creates the dedup guard. cooldown is the per-topic cooldown
// window applied after each send.
func NewGuard(store *kv.Store, cfg config.DedupConfig, cooldown time.Duration) *Guard {
	return &Guard{
		store:    store,
		hasher:   NewMinHasher(cfg.NumPermutations),
		cfg:      cfg,
		cooldown: cooldown,
		logger:   logging.With().Str("component", "dedup").Logger(),
	}
}

// Check runs all tiers in order: exact, near-duplicate, cooldown. Any
// tier can suppress; critical events bypass the cooldown tier. Storage
// errors are logged and the affected tier passes.
func (g *Guard) Check(ev *models.Event, eventID string) *Verdict {
	v := &Verdict{Fingerprint: Fingerprint(ev)}

	if g.checkExact(ev, eventID, v.Fingerprint, v) {
		return v
	}
	if g.checkNear(ev, v.Fingerprint, v) {
		return v
	}
	g.checkCooldown(ev, v)
	return v
}

// checkExact claims the fingerprint with SetNX; a losing claim means an
// identical event was evaluated within the TTL.
func (g *Guard) checkExact(ev *models.Event, eventID, fp string, v *Verdict) bool {
	created, err := g.store.SetNX(kv.ExactDedupKey(fp), []byte(eventID), g.cfg.ExactTTL)
	if err != nil {
		g.logger.Warn().Err(err).Str("user_id", ev.UserID).Msg("exact dedup check failed, passing")
		v.Steps = append(v.Steps, models.ReasonStep{
			Layer:  models.LayerDedup,
			Check:  "exact_duplicate",
			Result: models.ResultPass,
			Detail: "store unavailable, fail-open",
		})
		return false
	}

	if !created {
		metrics.RecordDedupSuppression("exact_duplicate")
		v.Suppressed = true
		v.Steps = append(v.Steps, models.ReasonStep{
			Layer:  models.LayerDedup,
			Check:  "exact_duplicate",
			Result: models.ResultSuppress,
			Detail: fmt.Sprintf("identical fingerprint seen within %s", g.cfg.ExactTTL),
		})
		return true
	}

	v.Steps = append(v.Steps, models.ReasonStep{
		Layer:  models.LayerDedup,
		Check:  "exact_duplicate",
		Result: models.ResultPass,
	})
	return false
}

// checkNear compares the event's MinHash signature against the user's
// recent signatures and stores it for future comparisons.
func (g *Guard) checkNear(ev *models.Event, fp string, v *Verdict) bool {
	if len(ev.Message) <= minNearDupLength {
		v.Steps = append(v.Steps, models.ReasonStep{
			Layer:  models.LayerDedup,
			Check:  "near_duplicate_lsh",
			Result: models.ResultPass,
			Detail: "message too short for similarity check",
		})
		return false
	}

	sig := g.hasher.Signature(NormalizeText(ev.Title + " " + ev.Message))

	best := 0.0
	err := g.store.ScanPrefix(kv.NearDedupPrefix(ev.UserID), maxSignatureScan,
		func(_ string, value []byte) error {
			var stored []uint64
			if err := json.Unmarshal(value, &stored); err != nil {
				// Corrupt signature; skip it rather than abort the scan.
				return nil
			}
			if sim := EstimateJaccard(sig, stored); sim > best {
				best = sim
			}
			return nil
		})
	if err != nil {
		g.logger.Warn().Err(err).Str("user_id", ev.UserID).Msg("near dedup scan failed, passing")
		v.Steps = append(v.Steps, models.ReasonStep{
			Layer:  models.LayerDedup,
			Check:  "near_duplicate_lsh",
			Result: models.ResultPass,
			Detail: "store unavailable, fail-open",
		})
		return false
	}

	if best >= g.cfg.JaccardThreshold {
		metrics.RecordDedupSuppression("near_duplicate_lsh")
		v.Suppressed = true
		v.Steps = append(v.Steps, models.ReasonStep{
			Layer:  models.LayerDedup,
			Check:  "near_duplicate_lsh",
			Result: models.ResultSuppress,
			Detail: fmt.Sprintf("similarity %.2f >= threshold %.2f", best, g.cfg.JaccardThreshold),
		})
		return true
	}

	data, err := json.Marshal(sig)
	if err == nil {
		err = g.store.Set(kv.NearDedupKey(ev.UserID, fp), data, g.cfg.LSHTTL)
	}
	if err != nil {
		g.logger.Warn().Err(err).Str("user_id", ev.UserID).Msg("failed to store minhash signature")
	}

	v.Steps = append(v.Steps, models.ReasonStep{
		Layer:  models.LayerDedup,
		Check:  "near_duplicate_lsh",
		Result: models.ResultPass,
		Detail: fmt.Sprintf("max similarity %.2f", best),
	})
	return false
}

// checkCooldown suppresses events whose per-topic cooldown is still
// active. Critical events bypass the check entirely.
func (g *Guard) checkCooldown(ev *models.Event, v *Verdict) {
	if ev.Critical() {
		v.Steps = append(v.Steps, models.ReasonStep{
			Layer:  models.LayerDedup,
			Check:  "topic_cooldown",
			Result: models.ResultBypass,
			Detail: "critical priority bypasses cooldown",
		})
		return
	}

	remaining, err := g.store.TTL(kv.CooldownKey(ev.UserID, ev.EventType))
	if errors.Is(err, kv.ErrNotFound) {
		v.Steps = append(v.Steps, models.ReasonStep{
			Layer:  models.LayerDedup,
			Check:  "topic_cooldown",
			Result: models.ResultPass,
		})
		return
	}
	if err != nil {
		g.logger.Warn().Err(err).Str("user_id", ev.UserID).Msg("cooldown check failed, passing")
		v.Steps = append(v.Steps, models.ReasonStep{
			Layer:  models.LayerDedup,
			Check:  "topic_cooldown",
			Result: models.ResultPass,
			Detail: "store unavailable, fail-open",
		})
		return
	}

	metrics.RecordDedupSuppression("topic_cooldown")
	v.Suppressed = true
	v.Steps = append(v.Steps, models.ReasonStep{
		Layer:  models.LayerDedup,
		Check:  "topic_cooldown",
		Result: models.ResultSuppress,
		Detail: fmt.Sprintf("cooldown active for %s, %s remaining", ev.EventType, remaining.Round(time.Second)),
	})
}

// RegisterCooldown starts the per-topic cooldown after a send. Critical
// sends never start cooldowns, so they can repeat.
func (g *Guard) RegisterCooldown(ev *models.Event) {
	if ev.Critical() || g.cooldown <= 0 {
		return
	}
	key := kv.CooldownKey(ev.UserID, ev.EventType)
	if err := g.store.Set(key, []byte("1"), g.cooldown); err != nil {
		g.logger.Warn().Err(err).Str("user_id", ev.UserID).Msg("failed to register cooldown")
	}
}
