// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package validation

import (
	"strings"
	"testing"

	"github.com/triagehq/triage/internal/models"
)

func TestValidateStructPasses(t *testing.T) {
	ev := models.Event{
		UserID:    "user-1",
		EventType: "payment_failed",
		Title:     "Payment failed",
		Message:   "Your card was declined",
		Source:    "billing",
		Channel:   models.ChannelPush,
	}

	if err := ValidateStruct(&ev); err != nil {
		t.Fatalf("expected valid event, got: %v", err)
	}
}

func TestValidateStructMissingRequired(t *testing.T) {
	ev := models.Event{
		EventType: "payment_failed",
		Title:     "Payment failed",
		Message:   "body",
		Source:    "billing",
	}

	verr := ValidateStruct(&ev)
	if verr == nil {
		t.Fatal("expected validation error for missing user_id")
	}

	apiErr := verr.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q, want VALIDATION_ERROR", apiErr.Code)
	}
	if !strings.Contains(apiErr.Message, "UserID") {
		t.Errorf("message should name the field, got %q", apiErr.Message)
	}
}

func TestValidateStructBadChannel(t *testing.T) {
	ev := models.Event{
		UserID:    "user-1",
		EventType: "promo",
		Title:     "Sale",
		Message:   "body",
		Source:    "marketing",
		Channel:   models.Channel("carrier_pigeon"),
	}

	if verr := ValidateStruct(&ev); verr == nil {
		t.Fatal("expected validation error for unknown channel")
	}
}

func TestValidateStructMultipleErrors(t *testing.T) {
	ev := models.Event{
		Title:   strings.Repeat("x", 300),
		Message: "body",
	}

	verr := ValidateStruct(&ev)
	if verr == nil {
		t.Fatal("expected validation errors")
	}
	if len(verr.Errors()) < 2 {
		t.Errorf("expected multiple field errors, got %d", len(verr.Errors()))
	}

	apiErr := verr.ToAPIError()
	if _, ok := apiErr.Details["fields"]; !ok {
		t.Error("multi-error APIError should carry a fields list")
	}
}

func TestValidateProfileBounds(t *testing.T) {
	bad := 25
	req := models.UpdatePreferencesRequest{DNDStartHour: &bad}
	if verr := ValidateStruct(&req); verr == nil {
		t.Fatal("expected validation error for dnd_start_hour=25")
	}

	ok := 9
	req = models.UpdatePreferencesRequest{DNDStartHour: &ok}
	if verr := ValidateStruct(&req); verr != nil {
		t.Fatalf("dnd_start_hour=9 should pass, got: %v", verr)
	}
}
