// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package config defines the typed configuration for the Triage server and
// loads it with Koanf v2 using layered sources (defaults, YAML file,
// environment variables).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Triage server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	KV       KVConfig       `koanf:"kv"`
	Database DatabaseConfig `koanf:"database"`
	NATS     NATSConfig     `koanf:"nats"`
	Groq     GroqConfig     `koanf:"groq"`
	Scoring  ScoringConfig  `koanf:"scoring"`
	Fatigue  FatigueConfig  `koanf:"fatigue"`
	Dedup    DedupConfig    `koanf:"dedup"`
	Digest   DigestConfig   `koanf:"digest"`
	API      APIConfig      `koanf:"api"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// KVConfig holds BadgerDB settings for TTL'd operational state
// (dedup fingerprints, fatigue counters, cooldowns, profile cache).
type KVConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// DatabaseConfig holds DuckDB settings for the durable store.
type DatabaseConfig struct {
	// Path is the database file path. ":memory:" opens an in-memory
	// database (used by tests).
	Path string `koanf:"path"`
	// Threads limits DuckDB worker threads. 0 = runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// NATSConfig holds message bus settings. When Enabled is false the
// server publishes on an in-process Watermill gochannel bus instead,
// which keeps single-node deployments and tests broker-free.
type NATSConfig struct {
	Enabled      bool   `koanf:"enabled"`
	URL          string `koanf:"url"`
	SendNowTopic string `koanf:"send_now_topic"`
	DeferTopic   string `koanf:"defer_topic"`
}

// GroqConfig holds LLM scoring settings. An empty APIKey switches the
// scorer to heuristic-only mode.
type GroqConfig struct {
	APIKey  string        `koanf:"api_key"`
	BaseURL string        `koanf:"base_url"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

// ScoringConfig holds the decision thresholds applied to the [0,1] score.
type ScoringConfig struct {
	NowThreshold   float64 `koanf:"now_threshold"`
	LaterThreshold float64 `koanf:"later_threshold"`
}

// FatigueConfig holds default send caps and the per-topic cooldown.
// Per-user profile overrides take precedence over the defaults.
type FatigueConfig struct {
	DefaultHourlyCap int `koanf:"default_hourly_cap"`
	DefaultDailyCap  int `koanf:"default_daily_cap"`
	CooldownSeconds  int `koanf:"cooldown_seconds"`
}

// DedupConfig holds duplicate-detection settings.
type DedupConfig struct {
	ExactTTL         time.Duration `koanf:"exact_ttl"`
	LSHTTL           time.Duration `koanf:"lsh_ttl"`
	JaccardThreshold float64       `koanf:"jaccard_threshold"`
	NumPermutations  int           `koanf:"num_permutations"`
}

// DigestConfig holds digest batch scheduler settings.
type DigestConfig struct {
	PollInterval  time.Duration `koanf:"poll_interval"`
	WindowMinutes int           `koanf:"window_minutes"`
}

// APIConfig holds API-surface settings (rate limiting, CORS).
type APIConfig struct {
	RateLimit   int           `koanf:"rate_limit"`
	RateWindow  time.Duration `koanf:"rate_window"`
	CORSOrigins []string      `koanf:"cors_origins"`
}

// Addr returns the host:port listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the configuration for values that would misbehave at
// runtime. It is called by LoadWithKoanf after all layers are merged.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Scoring.NowThreshold < 0 || c.Scoring.NowThreshold > 1 {
		return fmt.Errorf("scoring.now_threshold must be in [0,1], got %g", c.Scoring.NowThreshold)
	}
	if c.Scoring.LaterThreshold < 0 || c.Scoring.LaterThreshold > 1 {
		return fmt.Errorf("scoring.later_threshold must be in [0,1], got %g", c.Scoring.LaterThreshold)
	}
	if c.Scoring.LaterThreshold > c.Scoring.NowThreshold {
		return fmt.Errorf("scoring.later_threshold %g exceeds now_threshold %g",
			c.Scoring.LaterThreshold, c.Scoring.NowThreshold)
	}
	if c.Fatigue.DefaultHourlyCap < 1 {
		return fmt.Errorf("fatigue.default_hourly_cap must be >= 1, got %d", c.Fatigue.DefaultHourlyCap)
	}
	if c.Fatigue.DefaultDailyCap < 1 {
		return fmt.Errorf("fatigue.default_daily_cap must be >= 1, got %d", c.Fatigue.DefaultDailyCap)
	}
	if c.Dedup.JaccardThreshold <= 0 || c.Dedup.JaccardThreshold > 1 {
		return fmt.Errorf("dedup.jaccard_threshold must be in (0,1], got %g", c.Dedup.JaccardThreshold)
	}
	if c.Dedup.NumPermutations < 1 {
		return fmt.Errorf("dedup.num_permutations must be >= 1, got %d", c.Dedup.NumPermutations)
	}
	if c.Digest.PollInterval < time.Second {
		return fmt.Errorf("digest.poll_interval must be >= 1s, got %s", c.Digest.PollInterval)
	}
	if c.Digest.WindowMinutes < 1 {
		return fmt.Errorf("digest.window_minutes must be >= 1, got %d", c.Digest.WindowMinutes)
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.enabled is true")
	}
	if c.NATS.SendNowTopic == "" || c.NATS.DeferTopic == "" {
		return fmt.Errorf("nats.send_now_topic and nats.defer_topic must be non-empty")
	}
	return nil
}
