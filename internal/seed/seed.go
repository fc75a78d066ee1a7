// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package seed installs the default rule set on first boot.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/triagehq/triage/internal/database"
	"github.com/triagehq/triage/internal/logging"
	"github.com/triagehq/triage/internal/models"
)

// defaultRules covers the baseline policy every deployment starts with:
// never sit on payment or security alerts, keep promotions off SMS, and
// respect a global overnight quiet window.
func defaultRules() []*models.Rule {
	return []*models.Rule{
		{
			RuleName: "Force critical payment alerts",
			RuleType: models.RuleForceNow,
			Conditions: map[string]any{
				"event_type": []any{"payment_failed", "payment_declined", "payment_error"},
			},
			PriorityOrder: 1,
		},
		{
			RuleName: "Force security and auth alerts",
			RuleType: models.RuleForceNow,
			Conditions: map[string]any{
				"event_type": []any{"security_alert", "login_attempt", "otp", "2fa", "password_reset"},
			},
			PriorityOrder: 2,
		},
		{
			RuleName: "Suppress all promotions via SMS",
			RuleType: models.RuleChannelOverride,
			Conditions: map[string]any{
				"event_type": []any{"promo_offer", "promotion", "marketing", "discount", "newsletter"},
			},
			ActionParams: map[string]any{
				"allowed_channels": []any{"push", "email", "in_app"},
			},
			PriorityOrder: 10,
		},
		{
			RuleName:   "Global quiet hours 22-08 UTC",
			RuleType:   models.RuleQuietHours,
			Conditions: map[string]any{},
			ActionParams: map[string]any{
				"start_hour": 22,
				"end_hour":   8,
			},
			PriorityOrder: 20,
		},
	}
}

// Rules installs the default rules, skipping any name that already
// exists so operator edits survive restarts.
func Rules(ctx context.Context, db *database.DB) error {
	logger := logging.With().Str("component", "seed").Logger()
	now := time.Now().UTC()

	created := 0
	for _, rule := range defaultRules() {
		rule.ID = uuid.NewString()
		rule.IsActive = true
		rule.CreatedAt = now
		rule.UpdatedAt = now

		err := db.CreateRule(ctx, rule)
		if errors.Is(err, database.ErrNameTaken) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to seed rule %q: %w", rule.RuleName, err)
		}
		created++
	}

	if created > 0 {
		logger.Info().Int("count", created).Msg("seeded default rules")
	}
	return nil
}
