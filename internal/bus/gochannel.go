// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package bus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/triagehq/triage/internal/metrics"
)

// ChannelBus is an in-process Watermill pub/sub. It serves single-node
// deployments with NATS disabled and every test that needs to observe
// published messages.
type ChannelBus struct {
	pubsub *gochannel.GoChannel
}

// NewChannelBus creates an in-process bus.
func NewChannelBus(logger watermill.LoggerAdapter) *ChannelBus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &ChannelBus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, logger),
	}
}

// Publish sends a message to the topic.
func (b *ChannelBus) Publish(_ context.Context, topic string, msg *message.Message) error {
	err := b.pubsub.Publish(topic, msg)
	metrics.RecordBusPublish(topic, err == nil)
	return err
}

// Subscribe returns a channel of messages for the topic. Used by tests
// and by embedded delivery workers.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Healthy always succeeds; the in-process bus has no failure mode short
// of being closed, which only happens at shutdown.
func (b *ChannelBus) Healthy() error {
	return nil
}

// Close shuts down the pub/sub and all subscriber channels.
func (b *ChannelBus) Close() error {
	return b.pubsub.Close()
}
