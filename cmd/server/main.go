// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package main is the entry point for the Triage server.
//
// Triage is a notification prioritization engine. Producers submit
// notification candidates over HTTP and Triage decides each one's fate:
// send now, defer into a digest, or drop. It never delivers anything
// itself; decisions are published to downstream delivery workers.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 (defaults, YAML file, env vars)
//  2. KV store: BadgerDB for TTL'd state (dedup, counters, cooldowns)
//  3. Database: DuckDB durable store (events, audit, rules, profiles)
//  4. Rule seeding: default rules installed on first boot
//  5. Message bus: NATS JetStream, or in-process when NATS is disabled
//  6. Pipeline: dedup guard, rules engine, enricher, scorer, arbiter
//  7. Supervisor: digest scheduler and HTTP server under suture
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (TRIAGE_ prefix, e.g. TRIAGE_SERVER_PORT)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// An empty TRIAGE_GROQ_API_KEY runs the scorer in heuristic-only mode;
// the engine stays fully functional without LLM access.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: it stops
// accepting connections, drains in-flight requests, stops the digest
// scheduler, and closes the bus and both stores.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/triagehq/triage/internal/api"
	"github.com/triagehq/triage/internal/arbiter"
	"github.com/triagehq/triage/internal/bus"
	"github.com/triagehq/triage/internal/config"
	"github.com/triagehq/triage/internal/database"
	"github.com/triagehq/triage/internal/dedup"
	"github.com/triagehq/triage/internal/dispatch"
	"github.com/triagehq/triage/internal/enrich"
	"github.com/triagehq/triage/internal/kv"
	"github.com/triagehq/triage/internal/logging"
	"github.com/triagehq/triage/internal/pipeline"
	"github.com/triagehq/triage/internal/rules"
	"github.com/triagehq/triage/internal/scheduler"
	"github.com/triagehq/triage/internal/scoring"
	"github.com/triagehq/triage/internal/seed"
)

// publisher is the concrete bus surface main wires: publishing plus the
// health probe exposed on /health.
type publisher interface {
	bus.Publisher
	Healthy() error
}

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("db_path", cfg.Database.Path).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Bool("llm_enabled", cfg.Groq.APIKey != "").
		Msg("Configuration loaded")

	store, err := kv.Open(cfg.KV)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open KV store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing KV store")
		}
	}()

	db, err := database.New(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	if err := db.CreateSchema(context.Background()); err != nil {
		logging.Fatal().Err(err).Msg("Failed to create database schema")
	}
	logging.Info().Msg("Database initialized successfully")

	if err := seed.Rules(context.Background(), db); err != nil {
		logging.Fatal().Err(err).Msg("Failed to seed default rules")
	}

	var pub publisher
	if cfg.NATS.Enabled {
		natsPub, err := bus.NewNATSPublisher(cfg.NATS, bus.NewLoggerAdapter())
		if err != nil {
			logging.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		pub = natsPub
		logging.Info().Str("url", cfg.NATS.URL).Msg("NATS JetStream publisher connected")
	} else {
		pub = bus.NewChannelBus(bus.NewLoggerAdapter())
		logging.Info().Msg("NATS disabled, using in-process message bus")
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing message bus")
		}
	}()

	// Pipeline stages
	guard := dedup.NewGuard(store, cfg.Dedup, time.Duration(cfg.Fatigue.CooldownSeconds)*time.Second)
	engine := rules.NewEngine(db)
	enricher := enrich.New(store, db, cfg.Fatigue)
	scorer := scoring.New(cfg.Groq, cfg.Scoring, db)
	arb := arbiter.New(cfg.Scoring)
	dispatcher := dispatch.New(db, store, guard, pub, cfg.NATS, cfg.Digest)
	pipe := pipeline.New(guard, engine, enricher, scorer, arb, dispatcher, cfg.Fatigue)

	server := api.NewServer(cfg, db, store, engine, enricher, pipe)
	server.SetBusCheck(pub.Healthy)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Supervisor tree: digest scheduler and HTTP server restart
	// independently on failure.
	supervisor := suture.New("triage", suture.Spec{
		EventHook:        (&sutureslog.Handler{Logger: logging.NewSlogLogger()}).MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          cfg.Server.ShutdownTimeout,
	})
	supervisor.Add(scheduler.New(db, pub, cfg.Digest, cfg.NATS.SendNowTopic))
	supervisor.Add(newHTTPService(httpServer, cfg.Server.ShutdownTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", httpServer.Addr).Msg("Starting supervisor tree")
	errCh := supervisor.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	logging.Info().Msg("Triage stopped gracefully")
}
