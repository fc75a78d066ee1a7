// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package config

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Scoring.NowThreshold != 0.75 {
		t.Errorf("NowThreshold = %g, want 0.75", cfg.Scoring.NowThreshold)
	}
	if cfg.Scoring.LaterThreshold != 0.40 {
		t.Errorf("LaterThreshold = %g, want 0.40", cfg.Scoring.LaterThreshold)
	}
	if cfg.Fatigue.DefaultHourlyCap != 5 {
		t.Errorf("DefaultHourlyCap = %d, want 5", cfg.Fatigue.DefaultHourlyCap)
	}
	if cfg.Fatigue.DefaultDailyCap != 20 {
		t.Errorf("DefaultDailyCap = %d, want 20", cfg.Fatigue.DefaultDailyCap)
	}
	if cfg.Dedup.ExactTTL != time.Hour {
		t.Errorf("ExactTTL = %s, want 1h", cfg.Dedup.ExactTTL)
	}
	if cfg.Dedup.NumPermutations != 128 {
		t.Errorf("NumPermutations = %d, want 128", cfg.Dedup.NumPermutations)
	}
	if cfg.Groq.Model != "llama-3.1-8b-instant" {
		t.Errorf("Model = %q, want llama-3.1-8b-instant", cfg.Groq.Model)
	}
	if cfg.Groq.Timeout != 1500*time.Millisecond {
		t.Errorf("Groq.Timeout = %s, want 1.5s", cfg.Groq.Timeout)
	}
	if cfg.NATS.SendNowTopic != "send_now_queue" {
		t.Errorf("SendNowTopic = %q, want send_now_queue", cfg.NATS.SendNowTopic)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"now threshold above 1", func(c *Config) { c.Scoring.NowThreshold = 1.5 }},
		{"later above now", func(c *Config) { c.Scoring.LaterThreshold = 0.9 }},
		{"hourly cap zero", func(c *Config) { c.Fatigue.DefaultHourlyCap = 0 }},
		{"daily cap zero", func(c *Config) { c.Fatigue.DefaultDailyCap = 0 }},
		{"jaccard zero", func(c *Config) { c.Dedup.JaccardThreshold = 0 }},
		{"permutations zero", func(c *Config) { c.Dedup.NumPermutations = 0 }},
		{"poll interval sub-second", func(c *Config) { c.Digest.PollInterval = 100 * time.Millisecond }},
		{"nats enabled without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }},
		{"empty topic", func(c *Config) { c.NATS.SendNowTopic = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"TRIAGE_GROQ_API_KEY", "groq.api_key"},
		{"TRIAGE_SERVER_PORT", "server.port"},
		{"TRIAGE_NATS_URL", "nats.url"},
		{"LOG_LEVEL", "logging.level"},
		{"TRIAGE_SCORE_THRESHOLD_NOW", "scoring.now_threshold"},
		{"SOME_RANDOM_VAR", ""},
		{"PATH", ""},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.env); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestServerAddr(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 9090}
	if got := cfg.Addr(); got != "127.0.0.1:9090" {
		t.Errorf("Addr() = %q, want 127.0.0.1:9090", got)
	}
}
