// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package bus publishes decision outcomes to downstream delivery workers
// over Watermill. Production deployments publish to NATS JetStream; when
// NATS is disabled the same interface is served by an in-process
// gochannel pub/sub, which is also what tests subscribe to.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/triagehq/triage/internal/models"
)

// Publisher is the engine's view of the message bus.
type Publisher interface {
	// Publish sends a message to the topic. The message UUID doubles as
	// the broker-side dedup ID.
	Publish(ctx context.Context, topic string, msg *message.Message) error
	Close() error
}

// NowMessage is the payload published to the send-now topic for
// immediate delivery. ScheduledSend marks messages released by the
// digest scheduler rather than the live pipeline.
type NowMessage struct {
	EventID       string         `json:"event_id"`
	UserID        string         `json:"user_id"`
	EventType     string         `json:"event_type"`
	Title         string         `json:"title"`
	Message       string         `json:"message"`
	Channel       models.Channel `json:"channel"`
	Source        string         `json:"source,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	DispatchedAt  time.Time      `json:"dispatched_at"`
	ScheduledSend bool           `json:"scheduled_send,omitempty"`
}

// DeferMessage is the payload published to the defer topic when an event
// is scheduled for later delivery.
type DeferMessage struct {
	EventID     string         `json:"event_id"`
	UserID      string         `json:"user_id"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	Channel     models.Channel `json:"channel"`
}

// DigestItem is one entry in a digest message, ordered by its
// metadata-supplied priority.
type DigestItem struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	Title         string         `json:"title"`
	Message       string         `json:"message"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	PriorityOrder int            `json:"priority_order"`
}

// DigestMessage bundles a matured digest batch into a single delivery.
type DigestMessage struct {
	BatchID      string         `json:"batch_id"`
	UserID       string         `json:"user_id"`
	Channel      models.Channel `json:"channel"`
	Type         string         `json:"type"`
	Items        []DigestItem   `json:"items"`
	ItemCount    int            `json:"item_count"`
	DispatchedAt time.Time      `json:"dispatched_at"`
}

// NewMessage serializes payload into a Watermill message with the given
// UUID and sets user_id metadata for downstream per-user correlation.
func NewMessage(uuid, userID string, payload any) (*message.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bus payload: %w", err)
	}

	msg := message.NewMessage(uuid, data)
	msg.Metadata.Set("user_id", userID)
	return msg, nil
}
