// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package bus

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/triagehq/triage/internal/logging"
)

// zerologAdapter implements watermill.LoggerAdapter on the global
// zerolog logger so bus internals log like everything else.
type zerologAdapter struct {
	logger zerolog.Logger
	fields watermill.LogFields
}

// NewLoggerAdapter returns a watermill.LoggerAdapter backed by zerolog.
func NewLoggerAdapter() watermill.LoggerAdapter {
	return &zerologAdapter{
		logger: logging.With().Str("component", "bus").Logger(),
	}
}

func (a *zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.emit(a.logger.Error().Err(err), fields, msg)
}

func (a *zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.emit(a.logger.Info(), fields, msg)
}

func (a *zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.emit(a.logger.Debug(), fields, msg)
}

func (a *zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.emit(a.logger.Trace(), fields, msg)
}

func (a *zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zerologAdapter{
		logger: a.logger,
		fields: a.fields.Add(fields),
	}
}

func (a *zerologAdapter) emit(event *zerolog.Event, fields watermill.LogFields, msg string) {
	for k, v := range a.fields {
		event = event.Interface(k, v)
	}
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
