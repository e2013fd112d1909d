// Package xttl computes effective TTLs with avalanche-resistant jitter and
// classifies cached entries for pre-refresh.
package xttl

import (
	"crypto/rand"
	"encoding/binary"
	"math"

	"github.com/cacheguard/cacheguard/pkg/xentry"
)

// Policy holds nothing but exists so the package has the same shape as the
// rest of the engine's components (construct once, call its methods
// concurrently). It carries no state: the PRNG below is per-call and
// crypto/rand-backed, so there is no shared global mutex to bottleneck on.
type Policy struct{}

// New returns a Policy. There are no options: jitter and threshold come from
// CacheOptions per call, not from construction-time configuration.
func New() Policy {
	return Policy{}
}

// FinalTTL computes the effective TTL in seconds for a write, following
// spec §4.2 exactly:
//   - baseTTL <= 0  -> infinite (-1), no jitter
//   - !randomize || variance == 0 -> baseTTL unchanged
//   - otherwise draw r uniform in [-variance, +variance] and return
//     max(1, round(baseTTL * (1 + r)))
func (Policy) FinalTTL(baseTTL int64, randomize bool, variance float64) int64 {
	if baseTTL <= 0 {
		return -1
	}
	if !randomize || variance == 0 {
		return baseTTL
	}
	r := (randomFloat64()*2 - 1) * variance // uniform in [-variance, +variance]
	jittered := math.Round(float64(baseTTL) * (1 + r))
	if jittered < 1 {
		jittered = 1
	}
	return int64(jittered)
}

// ShouldPreRefresh reports whether entry has crossed its pre-refresh
// threshold, per spec §4.2. It never fires for infinite-TTL entries, for
// disabled pre-refresh, or for an entry that has already hit zero remaining
// TTL (that's the miss path's job, not pre-refresh's).
func (Policy) ShouldPreRefresh(entry *xentry.Entry, enablePreRefresh bool, threshold float64, remainingSeconds float64) bool {
	if entry.OriginalTTLSeconds <= 0 || !enablePreRefresh {
		return false
	}
	if threshold <= 0 {
		threshold = 0.3
	}
	if remainingSeconds <= 0 {
		return false
	}
	return remainingSeconds < float64(entry.OriginalTTLSeconds)*threshold
}

// randomFloat64 draws a uniform float64 in [0, 1) from crypto/rand in
// preference to a shared, lock-guarded math/rand global.
func randomFloat64() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable (no entropy
		// source); fall back to the zero jitter rather than panic, since a
		// TTL policy must never crash a caller's read path.
		return 0.5
	}
	// Use the top 53 bits to build a float64 mantissa, the same technique
	// math/rand.Float64 uses internally.
	v := binary.BigEndian.Uint64(buf[:]) >> 11
	return float64(v) / (1 << 53)
}
