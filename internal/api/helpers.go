// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/triagehq/triage/internal/logging"
	"github.com/triagehq/triage/internal/validation"
)

// maxBodyBytes bounds request bodies; batch payloads stay well under it.
const maxBodyBytes = 4 << 20

// errorResponse is the uniform error envelope.
type errorResponse struct {
	Error *validation.APIError `json:"error"`
}

// respondJSON writes a JSON payload with proper headers.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

// respondError writes the error envelope.
func respondError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	respondJSON(w, status, errorResponse{Error: &validation.APIError{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// respondValidationError maps validator output to a 400.
func respondValidationError(w http.ResponseWriter, ve *validation.RequestValidationError) {
	apiErr := ve.ToAPIError()
	respondJSON(w, http.StatusBadRequest, errorResponse{Error: apiErr})
}

// decodeJSON reads and unmarshals a request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// getIntParam extracts an integer query parameter with a default.
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// limitParam reads ?limit with a default and a hard cap.
func limitParam(r *http.Request, defaultValue, maxValue int) int {
	limit := getIntParam(r, "limit", defaultValue)
	if limit < 1 {
		return defaultValue
	}
	if limit > maxValue {
		return maxValue
	}
	return limit
}
