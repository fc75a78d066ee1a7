// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package metrics defines the Prometheus instrumentation for the engine.
// All collectors are registered on the default registry via promauto and
// exposed at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	// DecisionsTotal counts final decisions by outcome and scoring mode.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_decisions_total",
		Help: "Final notification decisions by outcome.",
	}, []string{"decision", "ai_used"})

	// StageDuration tracks per-stage evaluation latency.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triage_stage_duration_seconds",
		Help:    "Evaluation pipeline stage latency.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"stage"})

	// DedupSuppressions counts suppressed events by dedup tier.
	DedupSuppressions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_dedup_suppressions_total",
		Help: "Events suppressed by the dedup guard, by tier.",
	}, []string{"tier"})

	// ScoringFallbacks counts heuristic fallbacks by reason.
	ScoringFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_scoring_fallbacks_total",
		Help: "Heuristic scoring fallbacks by reason.",
	}, []string{"reason"})

	// BreakerState exposes circuit breaker states (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "triage_circuit_breaker_state",
		Help: "Circuit breaker state: 0=closed, 1=half-open, 2=open.",
	}, []string{"breaker"})

	// BusPublishes counts bus publish attempts by topic and status.
	BusPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_bus_publishes_total",
		Help: "Message bus publish attempts.",
	}, []string{"topic", "status"})

	// DigestBatches counts digest batches processed by the scheduler.
	DigestBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_digest_batches_total",
		Help: "Digest batches processed by outcome.",
	}, []string{"outcome"})

	// HTTPRequestDuration tracks API latency by route and status code.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triage_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// HTTPRequestsInFlight gauges concurrent API requests.
	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triage_http_requests_in_flight",
		Help: "In-flight HTTP requests.",
	})
)

// RecordDecision records a final decision.
func RecordDecision(decision string, aiUsed bool) {
	DecisionsTotal.WithLabelValues(decision, strconv.FormatBool(aiUsed)).Inc()
}

// ObserveStage records the latency of one pipeline stage.
func ObserveStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordDedupSuppression records one suppression by tier
// (exact_duplicate, near_duplicate_lsh).
func RecordDedupSuppression(tier string) {
	DedupSuppressions.WithLabelValues(tier).Inc()
}

// RecordScoringFallback records one heuristic fallback.
func RecordScoringFallback(reason string) {
	ScoringFallbacks.WithLabelValues(reason).Inc()
}

// SetBreakerState mirrors a gobreaker state change into the gauge.
func SetBreakerState(name string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	BreakerState.WithLabelValues(name).Set(v)
}

// RecordBusPublish records one publish attempt.
func RecordBusPublish(topic string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	BusPublishes.WithLabelValues(topic, status).Inc()
}

// RecordDigestBatch records one scheduler batch outcome
// (sent, digest, cancelled, error).
func RecordDigestBatch(outcome string) {
	DigestBatches.WithLabelValues(outcome).Inc()
}
