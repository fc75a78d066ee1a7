// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package kv provides TTL'd operational state on BadgerDB: dedup
// fingerprints, near-duplicate signatures, fatigue counters, per-topic
// cooldowns, and the user profile cache. Expiry is handled by Badger's
// native entry TTLs, so no sweeper goroutine is needed.
package kv

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/triagehq/triage/internal/config"
	"github.com/triagehq/triage/internal/logging"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("kv: key not found")

// conflictBackoff paces optimistic-transaction retries. Conflicts only
// arise between overlapping read-write transactions, so the competing
// writer commits within a few of these windows.
const (
	conflictBackoff    = time.Millisecond
	conflictBackoffMax = 20 * time.Millisecond
)

// Store wraps a Badger database with the small TTL-aware surface the
// engine needs.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the Badger store at the configured path.
// With cfg.InMemory set the store lives entirely in memory, which is the
// mode used by tests and throwaway deployments.
func Open(cfg config.KVConfig) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	// Badger's default logger is chatty at INFO; route through zerolog instead.
	opts = opts.WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value for key, or ErrNotFound.
func (s *Store) Get(key string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value under key with the given TTL. A zero TTL stores the
// entry without expiry.
func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	err := s.update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

// SetNX stores value under key only if the key does not already exist.
// Returns true when this call created the entry.
func (s *Store) SetNX(key string, value []byte, ttl time.Duration) (bool, error) {
	created := false
	err := s.update(func(txn *badger.Txn) error {
		created = false
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("kv setnx %s: %w", key, err)
	}
	return created, nil
}

// Incr atomically increments the integer counter at key and returns the
// new value. The TTL is applied only when the counter is created; an
// existing counter keeps its original expiry, so the window is pinned to
// the first increment.
func (s *Store) Incr(key string, ttl time.Duration) (int64, error) {
	var count int64
	err := s.update(func(txn *badger.Txn) error {
		count = 0
		var remaining time.Duration

		item, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			count, err = strconv.ParseInt(string(val), 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt counter value %q: %w", val, err)
			}
			if exp := item.ExpiresAt(); exp > 0 {
				remaining = time.Until(time.Unix(int64(exp), 0))
				if remaining <= 0 {
					// Entry expired between Get and now; start a fresh window.
					count = 0
					remaining = ttl
				}
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			remaining = ttl
		default:
			return err
		}

		count++
		entry := badger.NewEntry([]byte(key), []byte(strconv.FormatInt(count, 10)))
		if remaining > 0 {
			entry = entry.WithTTL(remaining)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return 0, fmt.Errorf("kv incr %s: %w", key, err)
	}
	return count, nil
}

// GetInt64 returns the counter value at key, or 0 when absent.
func (s *Store) GetInt64(key string) (int64, error) {
	val, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(string(val), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt counter value %q: %w", val, err)
	}
	return n, nil
}

// TTL returns the remaining lifetime of key, or ErrNotFound. Entries
// stored without expiry report a zero duration.
func (s *Store) TTL(key string) (time.Duration, error) {
	var remaining time.Duration
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		if exp := item.ExpiresAt(); exp > 0 {
			remaining = time.Until(time.Unix(int64(exp), 0))
			if remaining < 0 {
				remaining = 0
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("kv ttl %s: %w", key, err)
	}
	return remaining, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	err := s.update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// ScanPrefix visits up to limit live entries whose keys start with prefix.
// The callback receives the full key and a copy of the value; returning an
// error aborts the scan.
func (s *Store) ScanPrefix(prefix string, limit int, fn func(key string, value []byte) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		seen := 0
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			if limit > 0 && seen >= limit {
				break
			}
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(string(item.KeyCopy(nil)), val); err != nil {
				return err
			}
			seen++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv scan %s: %w", prefix, err)
	}
	return nil
}

// Ping verifies the store is usable.
func (s *Store) Ping() error {
	return s.db.View(func(*badger.Txn) error { return nil })
}

// update runs fn in a read-write transaction, retrying optimistic
// conflicts with linear backoff until the write lands. Every other
// error returns immediately; only badger.ErrConflict loops, so a burst
// of concurrent counter increments never loses a write.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		backoff := time.Duration(attempt+1) * conflictBackoff
		if backoff > conflictBackoffMax {
			backoff = conflictBackoffMax
		}
		time.Sleep(backoff)
	}
}

// badgerLogger adapts Badger's logger interface to zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Debug().Str("component", "badger").Msgf(format, args...)
}
