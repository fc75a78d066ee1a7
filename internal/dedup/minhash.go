// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package dedup

import (
	"hash/fnv"
	"math/rand"
)

const (
	// shingleSize is the character n-gram width for MinHash shingling.
	shingleSize = 3

	// mersennePrime is 2^61-1, the modulus for the universal hash family.
	mersennePrime = uint64(1<<61 - 1)

	// hasherSeed fixes the permutation family so signatures are stable
	// across restarts; stored signatures stay comparable.
	hasherSeed = 1
)

// MinHasher computes fixed-length MinHash signatures over character
// shingles. Two signatures estimate the Jaccard similarity of the
// underlying shingle sets by counting matching positions.
type MinHasher struct {
	a []uint64
	b []uint64
}

// NewMinHasher creates a hasher with numPerm permutations.
func NewMinHasher(numPerm int) *MinHasher {
	rng := rand.New(rand.NewSource(hasherSeed))
	m := &MinHasher{
		a: make([]uint64, numPerm),
		b: make([]uint64, numPerm),
	}
	for i := 0; i < numPerm; i++ {
		// a must be non-zero for the hash family to be universal.
		m.a[i] = rng.Uint64()%(mersennePrime-1) + 1
		m.b[i] = rng.Uint64() % mersennePrime
	}
	return m
}

// Signature returns the MinHash signature of text. Texts shorter than
// one shingle produce a signature of all-max values, which matches
// nothing.
func (m *MinHasher) Signature(text string) []uint64 {
	sig := make([]uint64, len(m.a))
	for i := range sig {
		sig[i] = mersennePrime
	}

	runes := []rune(text)
	if len(runes) < shingleSize {
		return sig
	}

	for i := 0; i+shingleSize <= len(runes); i++ {
		x := hashShingle(string(runes[i : i+shingleSize]))
		for j := range sig {
			h := (m.a[j]*x + m.b[j]) % mersennePrime
			if h < sig[j] {
				sig[j] = h
			}
		}
	}
	return sig
}

// EstimateJaccard estimates the Jaccard similarity of the sets behind
// two signatures as the fraction of matching positions. Signatures of
// different lengths are incomparable and score 0.
func EstimateJaccard(a, b []uint64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	matches := 0
	for i := range a {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}

func hashShingle(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64() % mersennePrime
}
