// Package xbloom implements the per-cache probabilistic membership filter
// that rejects reads for keys that were never cached, defending the origin
// against penetration by keys that don't exist anywhere.
package xbloom

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// defaultExpectedInsertions and defaultFalsePositiveRate size a cache's
// filter when the caller doesn't call EstimateParams itself.
const (
	defaultExpectedInsertions = 100_000
	defaultFalsePositiveRate  = 0.01
)

// entry pairs a Bloom filter with the lock that serializes access to it.
// bloom.BloomFilter has no internal synchronization, so every mutation and
// read goes through entry.mu.
type entry struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// Filter is a registry of per-cache-name Bloom filters, built lazily on
// first use. The zero value is not usable; construct with New.
type Filter struct {
	expectedInsertions uint
	falsePositiveRate  float64

	mu      sync.Mutex // guards creation of new per-cache entries
	entries map[string]*entry
}

// New returns a Filter whose per-cache Bloom filters are all sized for
// expectedInsertions keys at falsePositiveRate. EstimateParams can validate
// the pair first; New accepts the same raw parameters the underlying library
// does, which derives the bit array size and hash count from them.
func New(expectedInsertions uint, falsePositiveRate float64) *Filter {
	if expectedInsertions == 0 {
		expectedInsertions = defaultExpectedInsertions
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = defaultFalsePositiveRate
	}
	return &Filter{
		expectedInsertions: expectedInsertions,
		falsePositiveRate:  falsePositiveRate,
		entries:            make(map[string]*entry),
	}
}

// MightContain reports whether key may have been Add-ed to cache. A false
// return is a guarantee the key was never added (no false negatives); a true
// return may be a false positive. A cache with no filter yet (nothing ever
// added) correctly reports false for everything.
func (f *Filter) MightContain(cache, key string) bool {
	e := f.get(cache)
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.filter.TestString(key)
}

// Add records that key has been successfully written for cache. Called after
// a successful KV write, never before: an Add followed by a failed write
// would only widen the false-positive rate for no benefit.
func (f *Filter) Add(cache, key string) {
	e := f.getOrCreate(cache)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filter.AddString(key)
}

// Clear discards the filter for cache entirely; the next Add rebuilds it
// from empty. Per spec §4.3 this is always paired with a KV-side clear of
// the same cache, though the pairing itself is the caller's (xengine's)
// responsibility — a crash between the two is safe because an empty filter
// only ever under-reports membership, never over-reports.
func (f *Filter) Clear(cache string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, cache)
}

// Stats reports the current insertion estimate and the filter's configured
// false-positive rate for cache, for metrics export. A cache with no filter
// yet reports zero insertions.
func (f *Filter) Stats(cache string) (insertions uint, falsePositiveRate float64) {
	e := f.get(cache)
	if e == nil {
		return 0, f.falsePositiveRate
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return uint(e.filter.ApproximatedSize()), f.falsePositiveRate
}

func (f *Filter) get(cache string) *entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[cache]
}

func (f *Filter) getOrCreate(cache string) *entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[cache]
	if !ok {
		e = &entry{filter: bloom.NewWithEstimates(f.expectedInsertions, f.falsePositiveRate)}
		f.entries[cache] = e
	}
	return e
}

// EstimateParams checks a human-sized budget (how many keys you expect to
// cache, and how many false positives you can tolerate) and returns it
// unchanged as the (expectedInsertions, falsePositiveRate) pair New expects.
// It returns ErrInvalidParams for a zero count or a rate outside (0, 1).
func EstimateParams(expectedInsertions uint, falsePositiveRate float64) (uint, float64, error) {
	if expectedInsertions == 0 || falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		return 0, 0, ErrInvalidParams
	}
	return expectedInsertions, falsePositiveRate, nil
}
