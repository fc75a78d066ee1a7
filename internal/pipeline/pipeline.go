// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package pipeline orchestrates the evaluation layers: expiry, dedup,
// rules, context enrichment, scoring, arbitration, and dispatch.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/triagehq/triage/internal/arbiter"
	"github.com/triagehq/triage/internal/config"
	"github.com/triagehq/triage/internal/dedup"
	"github.com/triagehq/triage/internal/dispatch"
	"github.com/triagehq/triage/internal/enrich"
	"github.com/triagehq/triage/internal/logging"
	"github.com/triagehq/triage/internal/metrics"
	"github.com/triagehq/triage/internal/models"
	"github.com/triagehq/triage/internal/rules"
	"github.com/triagehq/triage/internal/scoring"
)

const (
	// MaxBatchSize bounds one batch-evaluate request.
	MaxBatchSize = 500
	// batchConcurrency bounds parallel evaluations within a batch.
	batchConcurrency = 20
)

// Evaluator runs events through the full decision pipeline.
type Evaluator struct {
	guard      *dedup.Guard
	engine     *rules.Engine
	enricher   *enrich.Enricher
	scorer     *scoring.Scorer
	arbiter    *arbiter.Arbiter
	dispatcher *dispatch.Dispatcher
	fatigue    config.FatigueConfig
	logger     zerolog.Logger
}

// New wires the pipeline from its stages.
func New(guard *dedup.Guard, engine *rules.Engine, enricher *enrich.Enricher,
	scorer *scoring.Scorer, arb *arbiter.Arbiter, dispatcher *dispatch.Dispatcher,
	fatigue config.FatigueConfig) *Evaluator {
	return &Evaluator{
		guard:      guard,
		engine:     engine,
		enricher:   enricher,
		scorer:     scorer,
		arbiter:    arb,
		dispatcher: dispatcher,
		fatigue:    fatigue,
		logger:     logging.With().Str("component", "pipeline").Logger(),
	}
}

// Evaluate decides one event's fate. Every path, including suppressions
// and expiry, persists an audit record via the dispatcher. The returned
// error means the decision could not be recorded.
func (p *Evaluator) Evaluate(ctx context.Context, ev *models.Event) (*models.DecisionResult, error) {
	start := time.Now()
	ev.Normalize(start)

	res := &models.DecisionResult{
		EventID: uuid.NewString(),
		UserID:  ev.UserID,
	}

	if ev.Expired(start) {
		res.Decision = models.DecisionNever
		res.ReasonChain = []models.ReasonStep{{
			Layer:  models.LayerIngestion,
			Check:  "expiry_check",
			Result: models.ResultExpired,
			Detail: fmt.Sprintf("expired at %s", ev.ExpiresAt.UTC().Format(time.RFC3339)),
		}}
		return p.finish(ctx, ev, res, start)
	}

	dedupStart := time.Now()
	verdict := p.guard.Check(ev, res.EventID)
	metrics.ObserveStage("dedup", time.Since(dedupStart))
	res.ComputedFingerprint = verdict.Fingerprint
	res.ReasonChain = append(res.ReasonChain, verdict.Steps...)
	if verdict.Suppressed {
		res.Decision = models.DecisionNever
		return p.finish(ctx, ev, res, start)
	}

	rulesStart := time.Now()
	outcome := p.engine.Evaluate(ctx, ev, start)
	metrics.ObserveStage("rules", time.Since(rulesStart))
	res.ReasonChain = append(res.ReasonChain, outcome.Steps...)

	var (
		uc    *enrich.UserContext
		score float64
	)
	if outcome.Decision == models.DecisionNow || outcome.Decision == models.DecisionNever {
		// Hard rule outcome: context and LLM cost would change nothing.
		uc = enrich.Default(ev.UserID, p.fatigue)
		if outcome.Decision == models.DecisionNow {
			score = 1.0
		}
		res.ReasonChain = append(res.ReasonChain, models.ReasonStep{
			Layer:  models.LayerAIScorer,
			Check:  "skipped",
			Result: models.ResultSkipped,
			Detail: "hard rule outcome, scoring skipped",
		})
	} else {
		enrichStart := time.Now()
		uc = p.enricher.Context(ctx, ev, start)
		metrics.ObserveStage("context", time.Since(enrichStart))

		scoreStart := time.Now()
		sc := p.scorer.Evaluate(ctx, ev, uc, res.EventID)
		metrics.ObserveStage("scoring", time.Since(scoreStart))
		res.ReasonChain = append(res.ReasonChain, sc.Step)
		score = sc.Value
		res.AIUsed = sc.AIUsed
		res.FallbackUsed = sc.FallbackUsed
	}
	res.Score = score

	final := p.arbiter.Arbitrate(ev, uc, outcome, score, start)
	res.ReasonChain = append(res.ReasonChain, final.Step)
	res.Decision = final.Decision
	res.ScheduledSendAt = final.ScheduledSendAt
	res.RuleApplied = final.RuleApplied

	return p.finish(ctx, ev, res, start)
}

// finish dispatches the decision and stamps processing time.
func (p *Evaluator) finish(ctx context.Context, ev *models.Event, res *models.DecisionResult, start time.Time) (*models.DecisionResult, error) {
	dispatchStart := time.Now()
	err := p.dispatcher.Dispatch(ctx, ev, res, start)
	metrics.ObserveStage("dispatch", time.Since(dispatchStart))
	if err != nil {
		return nil, err
	}

	res.ProcessingMS = time.Since(start).Milliseconds()
	metrics.ObserveStage("total", time.Since(start))
	return res, nil
}

// EvaluateBatch fans a batch out across a bounded worker set. A failing
// or panicking evaluation never sinks the batch; the affected slot gets
// a synthesized deferral so the caller can retry it.
func (p *Evaluator) EvaluateBatch(ctx context.Context, events []*models.Event) []*models.DecisionResult {
	if len(events) > MaxBatchSize {
		events = events[:MaxBatchSize]
	}

	results := make([]*models.DecisionResult, len(events))
	sem := make(chan struct{}, batchConcurrency)
	var wg sync.WaitGroup

	for i, ev := range events {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, ev *models.Event) {
			userID := ""
			if ev != nil {
				userID = ev.UserID
			}
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error().Interface("panic", r).Str("user_id", userID).
						Msg("evaluation panicked")
					results[i] = errorResult(userID, fmt.Sprintf("panic: %v", r))
				}
			}()

			res, err := p.Evaluate(ctx, ev)
			if err != nil {
				p.logger.Error().Err(err).Str("user_id", userID).Msg("evaluation failed")
				results[i] = errorResult(userID, err.Error())
				return
			}
			results[i] = res
		}(i, ev)
	}
	wg.Wait()

	return results
}

// errorResult synthesizes a deferred decision for an event the pipeline
// could not process.
func errorResult(userID, detail string) *models.DecisionResult {
	return &models.DecisionResult{
		EventID:  uuid.NewString(),
		UserID:   userID,
		Decision: models.DecisionLater,
		ReasonChain: []models.ReasonStep{{
			Layer:  models.LayerError,
			Check:  "pipeline_error",
			Result: models.ResultError,
			Detail: detail,
		}},
	}
}
