// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package scoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/triagehq/triage/internal/config"
	"github.com/triagehq/triage/internal/enrich"
	"github.com/triagehq/triage/internal/models"
)

type logRecorder struct {
	entries []*models.AILog
}

func (r *logRecorder) InsertAILog(_ context.Context, log *models.AILog) error {
	r.entries = append(r.entries, log)
	return nil
}

func scoringThresholds() config.ScoringConfig {
	return config.ScoringConfig{NowThreshold: 0.75, LaterThreshold: 0.40}
}

func groqConfig(url, key string) config.GroqConfig {
	return config.GroqConfig{
		APIKey:  key,
		BaseURL: url,
		Model:   "llama-3.1-8b-instant",
		Timeout: 1500 * time.Millisecond,
	}
}

func scoreEvent(eventType string, hint models.Priority) *models.Event {
	return &models.Event{
		UserID:       "u1",
		EventType:    eventType,
		Title:        "title",
		Message:      "message body",
		Source:       "test",
		Channel:      models.ChannelPush,
		PriorityHint: hint,
	}
}

func neutralContext() *enrich.UserContext {
	return enrich.Default("u1", config.FatigueConfig{DefaultHourlyCap: 5, DefaultDailyCap: 20})
}

// fakeGroq returns an OpenAI-compatible completion whose content is the
// given verdict JSON.
func fakeGroq(t *testing.T, verdict string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		body := `{"choices":[{"message":{"content":` + jsonQuote(verdict) + `}}]}`
		w.Write([]byte(body))
	}))
}

// jsonQuote wraps a payload as a JSON string literal.
func jsonQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func TestHeuristicUrgency(t *testing.T) {
	tests := []struct {
		eventType string
		hint      models.Priority
		want      float64
	}{
		{"payment_failed", models.PriorityLow, 1.0},
		{"security_alert", models.PriorityLow, 1.0},
		{"otp_code", models.PriorityLow, 1.0},
		{"password_reset", models.PriorityLow, 0.9},
		{"account_alert", models.PriorityLow, 0.8},
		{"friend_message", models.PriorityLow, 0.7},
		{"system_update", models.PriorityLow, 0.5},
		{"promo_offer", models.PriorityLow, 0.2},
		{"something_else", models.PriorityLow, 0.4},
		// hint wins when stronger than the keyword
		{"weekly_newsletter", models.PriorityCritical, 1.0},
		{"weekly_newsletter", models.PriorityLow, 0.2},
		{"marketing_blast", models.PriorityLow, 0.2},
		{"promo_offer", models.PriorityHigh, 0.8},
		// keyword wins when stronger than the hint
		{"payment_failed", models.PriorityMedium, 1.0},
		// no hint at all: the keyword stands alone
		{"weekly_newsletter", "", 0.1},
		{"marketing_blast", "", 0.15},
		{"something_else", "", 0.4},
	}
	for _, tt := range tests {
		ev := scoreEvent(tt.eventType, tt.hint)
		if got := heuristicUrgency(ev); got != tt.want {
			t.Errorf("heuristicUrgency(%s, %s) = %g, want %g", tt.eventType, tt.hint, got, tt.want)
		}
	}
}

func TestComposeClamps(t *testing.T) {
	if got := compose(0, 0, 1, 0); got != 0 {
		t.Errorf("negative composite should clamp to 0, got %g", got)
	}
	if got := compose(1, 1, 0, 1); got != 0.75 {
		t.Errorf("max composite = %g, want 0.75", got)
	}
}

func TestHeuristicOnlyModeWithoutAPIKey(t *testing.T) {
	logs := &logRecorder{}
	s := New(groqConfig("http://unused", ""), scoringThresholds(), logs)

	out := s.Evaluate(context.Background(), scoreEvent("payment_failed", models.PriorityCritical), neutralContext(), "ev-1")

	if out.AIUsed {
		t.Error("no API key must not use AI")
	}
	if out.Step.Check != "heuristic_fallback" || out.Step.Result != models.ResultScored {
		t.Errorf("step = %+v", out.Step)
	}
	if len(logs.entries) != 1 {
		t.Fatalf("expected 1 AI log, got %d", len(logs.entries))
	}
	entry := logs.entries[0]
	if !entry.FallbackUsed || entry.FallbackReason != "heuristic_primary" {
		t.Errorf("log = %+v", entry)
	}
	if entry.Model != "heuristic" {
		t.Errorf("model = %q", entry.Model)
	}
	if !strings.Contains(entry.Prompt, "payment_failed") {
		t.Errorf("prompt not persisted: %q", entry.Prompt)
	}
	if entry.RawResponse != nil {
		t.Errorf("heuristic run must not record a model response, got %q", *entry.RawResponse)
	}
	if !out.FallbackUsed {
		t.Error("score must report the heuristic was used")
	}

	// urgency 1.0, engagement 0.5, fatigue 0, recency 1.0
	want := 0.35*1.0 + 0.25*0.5 + 0.15*1.0
	if diff := out.Value - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("score = %g, want %g", out.Value, want)
	}
}

func TestLLMPathParsesVerdict(t *testing.T) {
	srv := fakeGroq(t, `{"score":0.82,"decision":"now","urgency":0.9,"engagement":0.7,"fatigue_penalty":0.1,"recency_bonus":0.8,"reasoning":"important"}`, http.StatusOK)
	defer srv.Close()

	logs := &logRecorder{}
	s := New(groqConfig(srv.URL, "test-key"), scoringThresholds(), logs)

	out := s.Evaluate(context.Background(), scoreEvent("order_update", models.PriorityMedium), neutralContext(), "ev-2")

	if !out.AIUsed {
		t.Fatal("expected AI path")
	}
	if out.Value != 0.82 {
		t.Errorf("score = %g, want 0.82", out.Value)
	}
	if out.Step.Check != "groq_llm" {
		t.Errorf("step check = %q", out.Step.Check)
	}
	if len(logs.entries) != 1 || logs.entries[0].FallbackUsed {
		t.Errorf("logs = %+v", logs.entries)
	}
	entry := logs.entries[0]
	if entry.DecisionHint != "now" {
		t.Errorf("decision hint = %q", entry.DecisionHint)
	}
	if !strings.Contains(entry.Prompt, "order_update") {
		t.Errorf("prompt not persisted: %q", entry.Prompt)
	}
	if entry.RawResponse == nil || !strings.Contains(*entry.RawResponse, `"score":0.82`) {
		t.Errorf("raw model response not persisted: %v", entry.RawResponse)
	}
}

func TestLLMScoreClampedToUnit(t *testing.T) {
	srv := fakeGroq(t, `{"score":1.7,"decision":"now"}`, http.StatusOK)
	defer srv.Close()

	s := New(groqConfig(srv.URL, "test-key"), scoringThresholds(), &logRecorder{})
	out := s.Evaluate(context.Background(), scoreEvent("order_update", models.PriorityMedium), neutralContext(), "ev-3")
	if out.Value != 1.0 {
		t.Errorf("score = %g, want clamped 1.0", out.Value)
	}
}

func TestHTTPErrorFallsBack(t *testing.T) {
	srv := fakeGroq(t, "", http.StatusInternalServerError)
	defer srv.Close()

	logs := &logRecorder{}
	s := New(groqConfig(srv.URL, "test-key"), scoringThresholds(), logs)

	out := s.Evaluate(context.Background(), scoreEvent("promo_offer", models.PriorityLow), neutralContext(), "ev-4")

	if out.AIUsed {
		t.Error("HTTP 500 must fall back to heuristic")
	}
	if len(logs.entries) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs.entries))
	}
	if got := logs.entries[0].FallbackReason; got != "llm_error:http_status" {
		t.Errorf("fallback reason = %q", got)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := fakeGroq(t, "", http.StatusInternalServerError)
	defer srv.Close()

	logs := &logRecorder{}
	s := New(groqConfig(srv.URL, "test-key"), scoringThresholds(), logs)
	ev := scoreEvent("promo_offer", models.PriorityLow)
	uc := neutralContext()

	for i := 0; i < breakerMaxFailures; i++ {
		s.Evaluate(context.Background(), ev, uc, "ev-fail")
	}

	out := s.Evaluate(context.Background(), ev, uc, "ev-open")
	if out.AIUsed {
		t.Error("open breaker must use heuristic")
	}
	last := logs.entries[len(logs.entries)-1]
	if last.FallbackReason != "circuit_breaker_open" {
		t.Errorf("fallback reason = %q, want circuit_breaker_open", last.FallbackReason)
	}
}

func TestTimeoutFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := groqConfig(srv.URL, "test-key")
	cfg.Timeout = 50 * time.Millisecond
	logs := &logRecorder{}
	s := New(cfg, scoringThresholds(), logs)

	out := s.Evaluate(context.Background(), scoreEvent("order_update", models.PriorityMedium), neutralContext(), "ev-5")

	if out.AIUsed {
		t.Error("timeout must fall back to heuristic")
	}
	if got := logs.entries[0].FallbackReason; got != "llm_timeout" {
		t.Errorf("fallback reason = %q, want llm_timeout", got)
	}
}
