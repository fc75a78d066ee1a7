// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package enrich

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/triagehq/triage/internal/config"
	"github.com/triagehq/triage/internal/database"
	"github.com/triagehq/triage/internal/kv"
	"github.com/triagehq/triage/internal/logging"
	"github.com/triagehq/triage/internal/models"
)

// profileCacheTTL bounds how long a cached profile may lag behind the
// durable store. Preference writes bust the cache explicitly.
const profileCacheTTL = 5 * time.Minute

// ProfileStore is the durable-store dependency.
type ProfileStore interface {
	Profile(ctx context.Context, userID string) (*models.UserProfile, error)
}

// Enricher assembles UserContext from the KV store and the profile store.
type Enricher struct {
	store   *kv.Store
	db      ProfileStore
	fatigue config.FatigueConfig
	logger  zerolog.Logger
}

// New creates an enricher.
func New(store *kv.Store, db ProfileStore, fatigue config.FatigueConfig) *Enricher {
	return &Enricher{
		store:   store,
		db:      db,
		fatigue: fatigue,
		logger:  logging.With().Str("component", "enrich").Logger(),
	}
}

// Context fetches counters, recency, and profile concurrently and
// derives the local-time fields. Individual fetch failures are logged
// and fall back to defaults.
func (e *Enricher) Context(ctx context.Context, ev *models.Event, now time.Time) *UserContext {
	uc := Default(ev.UserID, e.fatigue)

	var (
		wg       sync.WaitGroup
		sent1h   int64
		sent24h  int64
		lastSent *float64
		profile  *models.UserProfile
	)

	wg.Add(3)

	go func() {
		defer wg.Done()
		var err error
		if sent1h, err = e.store.GetInt64(kv.HourlyCountKey(ev.UserID)); err != nil {
			e.logger.Warn().Err(err).Str("user_id", ev.UserID).Msg("hourly counter fetch failed")
		}
		if sent24h, err = e.store.GetInt64(kv.DailyCountKey(ev.UserID)); err != nil {
			e.logger.Warn().Err(err).Str("user_id", ev.UserID).Msg("daily counter fetch failed")
		}
	}()

	go func() {
		defer wg.Done()
		val, err := e.store.Get(kv.LastSendKey(ev.UserID, ev.EventType))
		if errors.Is(err, kv.ErrNotFound) {
			return
		}
		if err != nil {
			e.logger.Warn().Err(err).Str("user_id", ev.UserID).Msg("last-send fetch failed")
			return
		}
		ts, err := strconv.ParseInt(string(val), 10, 64)
		if err != nil {
			return
		}
		secs := now.Sub(time.Unix(ts, 0)).Seconds()
		if secs < 0 {
			secs = 0
		}
		lastSent = &secs
	}()

	go func() {
		defer wg.Done()
		profile = e.fetchProfile(ctx, ev.UserID)
	}()

	wg.Wait()

	uc.SentLast1h = int(sent1h)
	uc.SentLast24h = int(sent24h)
	uc.LastSentSecondsAgo = lastSent

	if profile != nil {
		uc.Timezone = profile.Timezone
		uc.DNDStartHour = profile.DNDStartHour
		uc.DNDEndHour = profile.DNDEndHour
		if profile.OptedOutTopics != nil {
			uc.OptedOutTopics = profile.OptedOutTopics
		}
		if profile.HourlyCapOverride != nil {
			uc.HourlyCap = *profile.HourlyCapOverride
		}
		if profile.DailyCapOverride != nil {
			uc.DailyCap = *profile.DailyCapOverride
		}
		uc.Heatmap = profile.EngagementHeatmap
	}

	uc.LocalHour = LocalHour(uc.Timezone, now)
	uc.DNDActive = DNDActiveAt(uc.DNDStartHour, uc.DNDEndHour, uc.LocalHour)
	if len(uc.Heatmap) == models.HeatmapHours {
		uc.EngagementScore = uc.Heatmap[uc.LocalHour]
	}

	return uc
}

// fetchProfile reads through the KV cache to the durable store. Users
// without a stored profile get the default; cache and store failures
// degrade to the default as well.
func (e *Enricher) fetchProfile(ctx context.Context, userID string) *models.UserProfile {
	cacheKey := kv.ProfileCacheKey(userID)

	if data, err := e.store.Get(cacheKey); err == nil {
		var p models.UserProfile
		if err := json.Unmarshal(data, &p); err == nil {
			return &p
		}
	}

	p, err := e.db.Profile(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		p = models.DefaultProfile(userID)
	} else if err != nil {
		e.logger.Warn().Err(err).Str("user_id", userID).Msg("profile fetch failed, using defaults")
		return models.DefaultProfile(userID)
	}

	if data, err := json.Marshal(p); err == nil {
		if err := e.store.Set(cacheKey, data, profileCacheTTL); err != nil {
			e.logger.Warn().Err(err).Str("user_id", userID).Msg("profile cache write failed")
		}
	}
	return p
}

// InvalidateProfile drops a user's cached profile. Called after
// preference writes so the next evaluation sees fresh settings.
func (e *Enricher) InvalidateProfile(userID string) {
	if err := e.store.Delete(kv.ProfileCacheKey(userID)); err != nil {
		e.logger.Warn().Err(err).Str("user_id", userID).Msg("profile cache invalidation failed")
	}
}

// LocalHour converts now to the user's IANA timezone and returns the
// hour of day. Unknown timezones fall back to UTC.
func LocalHour(tz string, now time.Time) int {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return now.UTC().Hour()
	}
	return now.In(loc).Hour()
}
