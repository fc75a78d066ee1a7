// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package dispatch implements L6: persisting the decision and fanning it
// out to the message bus. The durable record is mandatory; bus and
// counter side effects degrade gracefully, the decision stands.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/triagehq/triage/internal/bus"
	"github.com/triagehq/triage/internal/config"
	"github.com/triagehq/triage/internal/database"
	"github.com/triagehq/triage/internal/dedup"
	"github.com/triagehq/triage/internal/kv"
	"github.com/triagehq/triage/internal/logging"
	"github.com/triagehq/triage/internal/metrics"
	"github.com/triagehq/triage/internal/models"
)

// lastSendTTL bounds how long recency state is kept per event type.
const lastSendTTL = 24 * time.Hour

// Dispatcher persists decisions and publishes their outcomes.
type Dispatcher struct {
	db     *database.DB
	store  *kv.Store
	guard  *dedup.Guard
	pub    bus.Publisher
	nats   config.NATSConfig
	digest config.DigestConfig
	logger zerolog.Logger
}

// New creates a dispatcher.
func New(db *database.DB, store *kv.Store, guard *dedup.Guard, pub bus.Publisher, nats config.NATSConfig, digest config.DigestConfig) *Dispatcher {
	return &Dispatcher{
		db:     db,
		store:  store,
		guard:  guard,
		pub:    pub,
		nats:   nats,
		digest: digest,
		logger: logging.With().Str("component", "dispatch").Logger(),
	}
}

// Dispatch records the decision durably, then applies its side effects.
// Persisting the event and audit row is the only failure that propagates;
// everything downstream is logged and absorbed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *models.Event, res *models.DecisionResult, now time.Time) error {
	stored := database.NewStoredEvent(ev, res, now)
	audit := &models.AuditEntry{
		ID:           uuid.NewString(),
		EventID:      res.EventID,
		UserID:       res.UserID,
		RawEvent:     ev,
		Decision:     res.Decision,
		Score:        res.Score,
		ReasonChain:  res.ReasonChain,
		RuleApplied:  res.RuleApplied,
		AIUsed:       res.AIUsed,
		FallbackUsed: res.FallbackUsed,
		CreatedAt:    now.UTC(),
	}

	err := d.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := tx.SaveEvent(ctx, stored); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit)
	})
	if err != nil {
		return fmt.Errorf("failed to persist decision for event %s: %w", res.EventID, err)
	}

	switch res.Decision {
	case models.DecisionNow:
		d.dispatchNow(ctx, ev, res, now)
	case models.DecisionLater:
		d.dispatchLater(ctx, ev, res, now)
	}

	metrics.RecordDecision(string(res.Decision), res.AIUsed)
	return nil
}

// dispatchNow publishes for immediate delivery and updates fatigue state.
func (d *Dispatcher) dispatchNow(ctx context.Context, ev *models.Event, res *models.DecisionResult, now time.Time) {
	payload := bus.NowMessage{
		EventID:      res.EventID,
		UserID:       ev.UserID,
		EventType:    ev.EventType,
		Title:        ev.Title,
		Message:      ev.Message,
		Channel:      ev.Channel,
		Source:       ev.Source,
		Metadata:     ev.Metadata,
		DispatchedAt: now.UTC(),
	}
	d.publish(ctx, d.nats.SendNowTopic, res.EventID, ev.UserID, payload)

	if _, err := d.store.Incr(kv.HourlyCountKey(ev.UserID), time.Hour); err != nil {
		d.logger.Warn().Err(err).Str("user_id", ev.UserID).Msg("failed to bump hourly counter")
	}
	if _, err := d.store.Incr(kv.DailyCountKey(ev.UserID), 24*time.Hour); err != nil {
		d.logger.Warn().Err(err).Str("user_id", ev.UserID).Msg("failed to bump daily counter")
	}

	ts := strconv.FormatInt(now.Unix(), 10)
	if err := d.store.Set(kv.LastSendKey(ev.UserID, ev.EventType), []byte(ts), lastSendTTL); err != nil {
		d.logger.Warn().Err(err).Str("user_id", ev.UserID).Msg("failed to record last send")
	}

	d.guard.RegisterCooldown(ev)
}

// dispatchLater publishes the deferral and folds the event into the
// user's open digest batch for the scheduled window.
func (d *Dispatcher) dispatchLater(ctx context.Context, ev *models.Event, res *models.DecisionResult, now time.Time) {
	scheduledAt := now.Add(time.Hour)
	if res.ScheduledSendAt != nil {
		scheduledAt = *res.ScheduledSendAt
	}

	payload := bus.DeferMessage{
		EventID:     res.EventID,
		UserID:      ev.UserID,
		ScheduledAt: scheduledAt.UTC(),
		Channel:     ev.Channel,
	}
	d.publish(ctx, d.nats.DeferTopic, res.EventID, ev.UserID, payload)

	if err := d.attachToBatch(ctx, ev, res.EventID, scheduledAt, now); err != nil {
		d.logger.Error().Err(err).Str("event_id", res.EventID).Msg("failed to attach event to digest batch")
	}
}

// attachToBatch appends the event to the pending batch for (user,
// channel) inside the digest window, creating the batch when none exists.
func (d *Dispatcher) attachToBatch(ctx context.Context, ev *models.Event, eventID string, scheduledAt, now time.Time) error {
	windowStart := scheduledAt.Add(-time.Duration(d.digest.WindowMinutes) * time.Minute)

	return d.db.WithTx(ctx, func(tx *database.Tx) error {
		batch, err := tx.FindPendingBatch(ctx, ev.UserID, ev.Channel, windowStart)
		if errors.Is(err, database.ErrNotFound) {
			return tx.CreateBatch(ctx, &models.DigestBatch{
				ID:          uuid.NewString(),
				UserID:      ev.UserID,
				Channel:     ev.Channel,
				EventIDs:    []string{eventID},
				ScheduledAt: scheduledAt.UTC(),
				Status:      models.BatchPending,
				CreatedAt:   now.UTC(),
			})
		}
		if err != nil {
			return err
		}
		return tx.UpdateBatchEvents(ctx, batch.ID, append(batch.EventIDs, eventID))
	})
}

// publish sends one payload; the message UUID is the event ID so brokers
// with dedup tracking drop re-publishes.
func (d *Dispatcher) publish(ctx context.Context, topic, eventID, userID string, payload any) {
	msg, err := bus.NewMessage(eventID, userID, payload)
	if err != nil {
		d.logger.Error().Err(err).Str("event_id", eventID).Msg("failed to build bus message")
		return
	}
	if err := d.pub.Publish(ctx, topic, msg); err != nil {
		d.logger.Error().Err(err).Str("event_id", eventID).Str("topic", topic).
			Msg("bus publish failed, decision stands")
	}
}
