// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/triagehq/triage/internal/models"
)

var nonWordRunes = regexp.MustCompile(`[^\w\s]`)

// NormalizeText lowercases, strips punctuation, and collapses whitespace
// so cosmetic variations of a title produce the same fingerprint.
func NormalizeText(s string) string {
	s = strings.ToLower(s)
	s = nonWordRunes.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// Fingerprint returns the exact-duplicate identity of an event:
// SHA-256 over user, type, dedupe basis, and source. Producers that set
// dedupe_key control the basis directly; otherwise the normalized title
// is used.
func Fingerprint(ev *models.Event) string {
	basis := ev.DedupeKey
	if basis == "" {
		basis = NormalizeText(ev.Title)
	}

	h := sha256.New()
	h.Write([]byte(ev.UserID))
	h.Write([]byte("|"))
	h.Write([]byte(ev.EventType))
	h.Write([]byte("|"))
	h.Write([]byte(basis))
	h.Write([]byte("|"))
	h.Write([]byte(ev.Source))
	return hex.EncodeToString(h.Sum(nil))
}
