// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package scheduler releases matured digest batches: deferred events
// whose scheduled time has arrived are bundled and published to the
// send-now topic. Runs as a suture-supervised service.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/triagehq/triage/internal/bus"
	"github.com/triagehq/triage/internal/config"
	"github.com/triagehq/triage/internal/database"
	"github.com/triagehq/triage/internal/logging"
	"github.com/triagehq/triage/internal/metrics"
	"github.com/triagehq/triage/internal/models"
)

// maxBatchesPerTick bounds one tick's work so a backlog drains across
// ticks instead of starving the transaction.
const maxBatchesPerTick = 100

// defaultItemPriority orders digest items whose metadata carries no
// priority_order.
const defaultItemPriority = 5

// Scheduler polls for due digest batches and dispatches them.
type Scheduler struct {
	db     *database.DB
	pub    bus.Publisher
	cfg    config.DigestConfig
	topic  string
	logger zerolog.Logger
}

// New creates a scheduler publishing matured batches to sendNowTopic.
func New(db *database.DB, pub bus.Publisher, cfg config.DigestConfig, sendNowTopic string) *Scheduler {
	return &Scheduler{
		db:     db,
		pub:    pub,
		cfg:    cfg,
		topic:  sendNowTopic,
		logger: logging.With().Str("component", "scheduler").Logger(),
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *Scheduler) String() string {
	return "digest-scheduler"
}

// Serve implements suture.Service: tick until the context is cancelled.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.logger.Info().Dur("poll_interval", s.cfg.PollInterval).Msg("digest scheduler started")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("digest scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx, time.Now()); err != nil {
				s.logger.Error().Err(err).Msg("scheduler tick failed")
			}
		}
	}
}

// tick processes all due batches in one transaction. Individual batch
// failures are logged and skipped; the tick itself only fails when the
// due-batch query or the transaction does.
func (s *Scheduler) tick(ctx context.Context, now time.Time) error {
	return s.db.WithTx(ctx, func(tx *database.Tx) error {
		batches, err := tx.DueBatches(ctx, now, maxBatchesPerTick)
		if err != nil {
			return fmt.Errorf("failed to load due batches: %w", err)
		}

		for _, batch := range batches {
			if err := s.processBatch(ctx, tx, batch, now); err != nil {
				metrics.RecordDigestBatch("error")
				s.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to process digest batch")
			}
		}
		return nil
	})
}

// processBatch releases one matured batch: expired events are dropped,
// a single survivor ships as a regular send, several ship as a digest.
func (s *Scheduler) processBatch(ctx context.Context, tx *database.Tx, batch *models.DigestBatch, now time.Time) error {
	events, err := tx.EventsByIDs(ctx, batch.EventIDs)
	if err != nil {
		return fmt.Errorf("failed to load batch events: %w", err)
	}

	valid := events[:0]
	for _, ev := range events {
		if ev.ExpiresAt != nil && !ev.ExpiresAt.After(now) {
			continue
		}
		valid = append(valid, ev)
	}

	switch len(valid) {
	case 0:
		if err := tx.CompleteBatch(ctx, batch.ID, models.BatchCancelled, now); err != nil {
			return err
		}
		metrics.RecordDigestBatch("cancelled")
		s.logger.Info().Str("batch_id", batch.ID).Msg("digest batch cancelled, all events expired")
		return nil

	case 1:
		if err := s.publishSingle(ctx, valid[0], now); err != nil {
			return err
		}
		if err := tx.CompleteBatch(ctx, batch.ID, models.BatchSent, now); err != nil {
			return err
		}
		metrics.RecordDigestBatch("sent")
		return nil

	default:
		if err := s.publishDigest(ctx, batch, valid, now); err != nil {
			return err
		}
		if err := tx.CompleteBatch(ctx, batch.ID, models.BatchSent, now); err != nil {
			return err
		}
		metrics.RecordDigestBatch("digest")
		return nil
	}
}

func (s *Scheduler) publishSingle(ctx context.Context, ev *models.StoredEvent, now time.Time) error {
	payload := bus.NowMessage{
		EventID:       ev.EventID,
		UserID:        ev.UserID,
		EventType:     ev.EventType,
		Title:         ev.Title,
		Message:       ev.Message,
		Channel:       ev.Channel,
		Source:        ev.Source,
		Metadata:      ev.Metadata,
		DispatchedAt:  now.UTC(),
		ScheduledSend: true,
	}
	msg, err := bus.NewMessage(ev.EventID, ev.UserID, payload)
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, s.topic, msg)
}

func (s *Scheduler) publishDigest(ctx context.Context, batch *models.DigestBatch, events []*models.StoredEvent, now time.Time) error {
	items := make([]bus.DigestItem, 0, len(events))
	for _, ev := range events {
		items = append(items, bus.DigestItem{
			EventID:       ev.EventID,
			EventType:     ev.EventType,
			Title:         ev.Title,
			Message:       ev.Message,
			Metadata:      ev.Metadata,
			PriorityOrder: itemPriority(ev.Metadata),
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PriorityOrder < items[j].PriorityOrder
	})

	payload := bus.DigestMessage{
		BatchID:      batch.ID,
		UserID:       batch.UserID,
		Channel:      batch.Channel,
		Type:         "digest",
		Items:        items,
		ItemCount:    len(items),
		DispatchedAt: now.UTC(),
	}
	msg, err := bus.NewMessage(batch.ID, batch.UserID, payload)
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, s.topic, msg)
}

// itemPriority reads the producer-supplied ordering hint.
func itemPriority(metadata map[string]any) int {
	if metadata == nil {
		return defaultItemPriority
	}
	switch v := metadata["priority_order"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultItemPriority
	}
}
