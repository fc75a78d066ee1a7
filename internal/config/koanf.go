// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/triage/config.yaml",
	"/etc/triage/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "TRIAGE_CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		KV: KVConfig{
			Path:     "/data/triage/kv",
			InMemory: false,
		},
		Database: DatabaseConfig{
			Path:    "/data/triage/triage.duckdb",
			Threads: 0, // 0 = use runtime.NumCPU()
		},
		NATS: NATSConfig{
			Enabled:      false, // in-process gochannel bus by default
			URL:          "nats://127.0.0.1:4222",
			SendNowTopic: "send_now_queue",
			DeferTopic:   "defer_queue",
		},
		Groq: GroqConfig{
			APIKey:  "", // empty = heuristic-only scoring
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "llama-3.1-8b-instant",
			Timeout: 1500 * time.Millisecond,
		},
		Scoring: ScoringConfig{
			NowThreshold:   0.75,
			LaterThreshold: 0.40,
		},
		Fatigue: FatigueConfig{
			DefaultHourlyCap: 5,
			DefaultDailyCap:  20,
			CooldownSeconds:  3600,
		},
		Dedup: DedupConfig{
			ExactTTL:         time.Hour,
			LSHTTL:           24 * time.Hour,
			JaccardThreshold: 0.85,
			NumPermutations:  128,
		},
		Digest: DigestConfig{
			PollInterval:  30 * time.Second,
			WindowMinutes: 30,
		},
		API: APIConfig{
			RateLimit:   100,
			RateWindow:  time.Minute,
			CORSOrigins: []string{"*"},
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// Precedence: ENV > File > Defaults.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// TRIAGE_GROQ_API_KEY -> groq.api_key, TRIAGE_SERVER_PORT -> server.port
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices.
var sliceConfigPaths = []string{
	"api.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known
// slice fields. Env vars come in as strings but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML file) - skip
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config paths.
// Only variables with an explicit mapping are honored; everything else is
// skipped so random environment variables never pollute the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"triage_server_host":             "server.host",
		"triage_server_port":             "server.port",
		"triage_server_read_timeout":     "server.read_timeout",
		"triage_server_write_timeout":    "server.write_timeout",
		"triage_server_shutdown_timeout": "server.shutdown_timeout",

		// Logging mappings
		"triage_logging_level":  "logging.level",
		"triage_logging_format": "logging.format",
		"triage_logging_caller": "logging.caller",
		"log_level":             "logging.level",
		"log_format":            "logging.format",

		// KV mappings
		"triage_kv_path":      "kv.path",
		"triage_kv_in_memory": "kv.in_memory",

		// Database mappings
		"triage_duckdb_path":    "database.path",
		"triage_duckdb_threads": "database.threads",

		// NATS mappings
		"triage_nats_enabled":        "nats.enabled",
		"triage_nats_url":            "nats.url",
		"triage_nats_send_now_topic": "nats.send_now_topic",
		"triage_nats_defer_topic":    "nats.defer_topic",

		// Groq mappings
		"triage_groq_api_key":  "groq.api_key",
		"triage_groq_base_url": "groq.base_url",
		"triage_groq_model":    "groq.model",
		"triage_groq_timeout":  "groq.timeout",
		"groq_api_key":         "groq.api_key",

		// Scoring mappings
		"triage_score_threshold_now":   "scoring.now_threshold",
		"triage_score_threshold_later": "scoring.later_threshold",

		// Fatigue mappings
		"triage_default_hourly_cap": "fatigue.default_hourly_cap",
		"triage_default_daily_cap":  "fatigue.default_daily_cap",
		"triage_cooldown_seconds":   "fatigue.cooldown_seconds",

		// Dedup mappings
		"triage_dedup_exact_ttl":         "dedup.exact_ttl",
		"triage_dedup_lsh_ttl":           "dedup.lsh_ttl",
		"triage_dedup_jaccard_threshold": "dedup.jaccard_threshold",
		"triage_dedup_num_permutations":  "dedup.num_permutations",

		// Digest mappings
		"triage_digest_poll_interval":  "digest.poll_interval",
		"triage_digest_window_minutes": "digest.window_minutes",

		// API mappings
		"triage_rate_limit_requests": "api.rate_limit",
		"triage_rate_limit_window":   "api.rate_window",
		"triage_cors_origins":        "api.cors_origins",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them
	return ""
}
