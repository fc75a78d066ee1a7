// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package api

import (
	"net/http"
)

// healthCheck is one dependency's health state.
type healthCheck struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth reports per-dependency health: 200 when everything is
// reachable, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]healthCheck{}
	healthy := true

	if err := s.store.Ping(); err != nil {
		checks["kv"] = healthCheck{Status: "error", Error: err.Error()}
		healthy = false
	} else {
		checks["kv"] = healthCheck{Status: "ok"}
	}

	if err := s.db.Ping(r.Context()); err != nil {
		checks["database"] = healthCheck{Status: "error", Error: err.Error()}
		healthy = false
	} else {
		checks["database"] = healthCheck{Status: "ok"}
	}

	if s.busCheck != nil {
		if err := s.busCheck(); err != nil {
			checks["bus"] = healthCheck{Status: "error", Error: err.Error()}
			healthy = false
		} else {
			checks["bus"] = healthCheck{Status: "ok"}
		}
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, map[string]any{
		"status":  status,
		"version": Version,
		"checks":  checks,
	})
}
