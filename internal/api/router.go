// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package api provides the HTTP surface of the engine using the chi
// router: evaluation, rule management, user preferences, and the
// operational endpoints (health, metrics).
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/triagehq/triage/internal/config"
	"github.com/triagehq/triage/internal/database"
	"github.com/triagehq/triage/internal/enrich"
	"github.com/triagehq/triage/internal/kv"
	"github.com/triagehq/triage/internal/logging"
	"github.com/triagehq/triage/internal/pipeline"
	"github.com/triagehq/triage/internal/rules"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Server holds the handler dependencies.
type Server struct {
	pipeline *pipeline.Evaluator
	db       *database.DB
	store    *kv.Store
	engine   *rules.Engine
	enricher *enrich.Enricher
	fatigue  config.FatigueConfig
	api      config.APIConfig
	busCheck func() error
	logger   zerolog.Logger
}

// NewServer creates the HTTP server facade.
func NewServer(cfg *config.Config, db *database.DB, store *kv.Store,
	engine *rules.Engine, enricher *enrich.Enricher, pipe *pipeline.Evaluator) *Server {
	return &Server{
		pipeline: pipe,
		db:       db,
		store:    store,
		engine:   engine,
		enricher: enricher,
		fatigue:  cfg.Fatigue,
		api:      cfg.API,
		logger:   logging.With().Str("component", "api").Logger(),
	}
}

// SetBusCheck installs the message bus health probe.
func (s *Server) SetBusCheck(check func() error) {
	s.busCheck = check
}

// Routes builds the chi handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.api.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.api.RateLimit, s.api.RateWindow))
		r.Use(prometheusMetrics)

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/evaluate", s.handleEvaluate)
			r.Post("/batch-evaluate", s.handleBatchEvaluate)
			r.Get("/audit/{event_id}", s.handleAudit)
			r.Get("/history/{user_id}", s.handleHistory)
			r.Get("/ai-logs", s.handleAILogs)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Get("/{id}", s.handleGetRule)
			r.Put("/{id}", s.handleUpdateRule)
			r.Delete("/{id}", s.handleDeleteRule)
			r.Patch("/{id}/toggle", s.handleToggleRule)
		})

		r.Route("/users/{user_id}", func(r chi.Router) {
			r.Get("/notification-profile", s.handleNotificationProfile)
			r.Patch("/preferences", s.handleUpdatePreferences)
			r.Post("/opt-out/{topic}", s.handleOptOut)
			r.Delete("/opt-out/{topic}", s.handleOptIn)
			r.Post("/feedback", s.handleFeedback)
		})
	})

	return r
}

// handleRoot serves service info.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service": "triage",
		"version": Version,
		"status":  "ok",
	})
}
