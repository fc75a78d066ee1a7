// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package scoring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/goccy/go-json"

	"github.com/triagehq/triage/internal/config"
	"github.com/triagehq/triage/internal/enrich"
	"github.com/triagehq/triage/internal/models"
)

// llmCall is one completed scoring call: the parsed verdict plus the
// model's raw completion text, kept for the audit log.
type llmCall struct {
	verdict llmVerdict
	raw     string
}

// llmVerdict is the structured response the model is asked to produce.
type llmVerdict struct {
	Score          float64 `json:"score"`
	Decision       string  `json:"decision"`
	Urgency        float64 `json:"urgency"`
	Engagement     float64 `json:"engagement"`
	FatiguePenalty float64 `json:"fatigue_penalty"`
	RecencyBonus   float64 `json:"recency_bonus"`
	Reasoning      string  `json:"reasoning"`
}

// llmError wraps a scoring call failure with a coarse kind used as the
// fallback_reason suffix (request, http_status, decode).
type llmError struct {
	kind string
	err  error
}

func (e *llmError) Error() string { return fmt.Sprintf("llm %s: %v", e.kind, e.err) }
func (e *llmError) Unwrap() error { return e.err }

const systemPrompt = `You are a notification prioritization scorer. ` +
	`Score how important it is to deliver a notification to a user right now. ` +
	`Compute: score = (0.35 * urgency) + (0.25 * engagement) - (0.25 * fatigue_penalty) + (0.15 * recency_bonus). ` +
	`All components are in [0,1]. Decision: "now" if score >= 0.75, "later" if score >= 0.40, else "never". ` +
	`Respond with a JSON object: {"score", "decision", "urgency", "engagement", "fatigue_penalty", "recency_bonus", "reasoning"}.`

// groqClient calls the Groq OpenAI-compatible chat completions endpoint.
type groqClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func newGroqClient(cfg config.GroqConfig) *groqClient {
	return &groqClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// score runs one chat completion for the given user prompt and parses
// the model's JSON verdict.
func (c *groqClient) score(ctx context.Context, prompt string) (llmCall, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Temperature: 0.2,
		MaxTokens:   300,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}
	reqBody.ResponseFormat.Type = "json_object"

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return llmCall{}, &llmError{kind: "request", err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return llmCall{}, &llmError{kind: "request", err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return llmCall{}, &llmError{kind: "timeout", err: err}
		}
		return llmCall{}, &llmError{kind: "request", err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return llmCall{}, &llmError{
			kind: "http_status",
			err:  fmt.Errorf("status %d: %s", resp.StatusCode, body),
		}
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return llmCall{}, &llmError{kind: "decode", err: err}
	}
	if len(chat.Choices) == 0 {
		return llmCall{}, &llmError{kind: "decode", err: errors.New("no choices in response")}
	}

	raw := chat.Choices[0].Message.Content
	var verdict llmVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return llmCall{}, &llmError{kind: "decode", err: err}
	}
	verdict.Score = clamp01(verdict.Score)
	return llmCall{verdict: verdict, raw: raw}, nil
}

// buildPrompt serializes the event and user context for the model.
func buildPrompt(ev *models.Event, uc *enrich.UserContext) string {
	lastSent := "never"
	if uc.LastSentSecondsAgo != nil {
		lastSent = fmt.Sprintf("%.0f seconds ago", *uc.LastSentSecondsAgo)
	}
	return fmt.Sprintf(
		"Event: type=%s title=%q message=%q source=%s channel=%s priority_hint=%s\n"+
			"User context: sent_last_1h=%d/%d sent_last_24h=%d/%d "+
			"last_sent_same_type=%s engagement_at_local_hour=%.2f "+
			"fatigue_ratio=%.2f recency_bonus=%.2f local_hour=%d dnd_active=%v",
		ev.EventType, ev.Title, ev.Message, ev.Source, ev.Channel, ev.PriorityHint,
		uc.SentLast1h, uc.HourlyCap, uc.SentLast24h, uc.DailyCap,
		lastSent, uc.EngagementScore,
		uc.FatigueRatio1h(), uc.RecencyBonus(), uc.LocalHour, uc.DNDActive,
	)
}
