// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package scoring implements the L4 AI scorer: a Groq LLM call behind a
// circuit breaker, with a deterministic heuristic fallback. Scoring never
// fails the pipeline; every degradation path produces a usable score.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/triagehq/triage/internal/config"
	"github.com/triagehq/triage/internal/enrich"
	"github.com/triagehq/triage/internal/logging"
	"github.com/triagehq/triage/internal/metrics"
	"github.com/triagehq/triage/internal/models"
)

const (
	breakerName        = "groq-llm"
	breakerMaxFailures = 3
	breakerOpenTimeout = 30 * time.Second
	heuristicModel     = "heuristic"
)

// AILogger persists one AILog row per scoring call.
type AILogger interface {
	InsertAILog(ctx context.Context, log *models.AILog) error
}

// Score is the L4 output consumed by the arbiter.
type Score struct {
	Value        float64
	AIUsed       bool
	FallbackUsed bool
	Step         models.ReasonStep
}

// Scorer scores events with the LLM when available, falling back to the
// heuristic on breaker-open, timeout, or any call failure.
type Scorer struct {
	groq       *groqClient
	breaker    *gobreaker.CircuitBreaker[llmCall]
	logs       AILogger
	thresholds config.ScoringConfig
	model      string
	logger     zerolog.Logger
}

// New creates a scorer. An empty API key disables the LLM path entirely.
func New(groq config.GroqConfig, thresholds config.ScoringConfig, logs AILogger) *Scorer {
	s := &Scorer{
		logs:       logs,
		thresholds: thresholds,
		model:      groq.Model,
		logger:     logging.With().Str("component", "scoring").Logger(),
	}
	if groq.APIKey == "" {
		s.logger.Warn().Msg("no Groq API key configured, scoring in heuristic-only mode")
		return s
	}

	s.groq = newGroqClient(groq)
	s.breaker = gobreaker.NewCircuitBreaker[llmCall](gobreaker.Settings{
		Name:    breakerName,
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.SetBreakerState(name, to)
		},
	})
	return s
}

// Evaluate scores the event. It returns a score in [0,1] and the reason
// step to append; it never returns an error.
func (s *Scorer) Evaluate(ctx context.Context, ev *models.Event, uc *enrich.UserContext, eventID string) Score {
	start := time.Now()
	prompt := buildPrompt(ev, uc)

	if s.groq == nil {
		return s.fallback(ctx, ev, uc, eventID, prompt, "heuristic_primary", start)
	}

	call, err := s.breaker.Execute(func() (llmCall, error) {
		return s.groq.score(ctx, prompt)
	})
	if err != nil {
		return s.fallback(ctx, ev, uc, eventID, prompt, fallbackReason(err), start)
	}

	latency := time.Since(start).Milliseconds()
	verdict := call.verdict
	score := verdict.Score
	s.writeLog(ctx, &models.AILog{
		ID:           uuid.NewString(),
		EventID:      eventID,
		UserID:       ev.UserID,
		Model:        s.model,
		Prompt:       prompt,
		RawResponse:  &call.raw,
		LatencyMS:    latency,
		Score:        &score,
		DecisionHint: verdict.Decision,
	})

	return Score{
		Value:  score,
		AIUsed: true,
		Step: models.ReasonStep{
			Layer:  models.LayerAIScorer,
			Check:  "groq_llm",
			Result: models.ResultScored,
			Detail: fmt.Sprintf("score=%.3f urgency=%.2f engagement=%.2f fatigue=%.2f recency=%.2f",
				score, verdict.Urgency, verdict.Engagement, verdict.FatiguePenalty, verdict.RecencyBonus),
		},
	}
}

// fallback runs the heuristic and records why the LLM path was skipped.
// No model ran, so the AILog carries the prompt but no raw response.
func (s *Scorer) fallback(ctx context.Context, ev *models.Event, uc *enrich.UserContext, eventID, prompt, reason string, start time.Time) Score {
	metrics.RecordScoringFallback(reason)
	if reason != "heuristic_primary" {
		s.logger.Warn().Str("event_id", eventID).Str("reason", reason).Msg("scoring fell back to heuristic")
	}

	score := heuristicScore(ev, uc)
	s.writeLog(ctx, &models.AILog{
		ID:             uuid.NewString(),
		EventID:        eventID,
		UserID:         ev.UserID,
		Model:          heuristicModel,
		Prompt:         prompt,
		LatencyMS:      time.Since(start).Milliseconds(),
		Score:          &score,
		DecisionHint:   s.decisionHint(score),
		FallbackUsed:   true,
		FallbackReason: reason,
	})

	return Score{
		Value:        score,
		AIUsed:       false,
		FallbackUsed: true,
		Step: models.ReasonStep{
			Layer:  models.LayerAIScorer,
			Check:  "heuristic_fallback",
			Result: models.ResultScored,
			Detail: fmt.Sprintf("score=%.3f (fallback: %s)", score, reason),
		},
	}
}

func (s *Scorer) writeLog(ctx context.Context, log *models.AILog) {
	if err := s.logs.InsertAILog(ctx, log); err != nil {
		s.logger.Warn().Err(err).Str("event_id", log.EventID).Msg("failed to persist AI log")
	}
}

// decisionHint maps a score to the decision the arbiter would take on
// score alone.
func (s *Scorer) decisionHint(score float64) string {
	switch {
	case score >= s.thresholds.NowThreshold:
		return string(models.DecisionNow)
	case score >= s.thresholds.LaterThreshold:
		return string(models.DecisionLater)
	default:
		return string(models.DecisionNever)
	}
}

// fallbackReason classifies an LLM call failure.
func fallbackReason(err error) string {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "circuit_breaker_open"
	}
	var le *llmError
	if errors.As(err, &le) {
		if le.kind == "timeout" {
			return "llm_timeout"
		}
		return "llm_error:" + le.kind
	}
	return "llm_error:unknown"
}
