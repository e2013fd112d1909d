package xengine

import "context"

// PreRefreshMode selects how the engine reacts to a read whose entry has
// crossed its pre-refresh threshold, per spec §4.8.
type PreRefreshMode int

const (
	// PreRefreshSync evicts the stale entry and forces the triggering
	// caller through a synchronous reload.
	PreRefreshSync PreRefreshMode = iota
	// PreRefreshAsync serves the stale-but-valid value immediately and
	// dispatches a deduplicated background reload.
	PreRefreshAsync
)

// LoadFn re-executes the origin call a read fell through to. A nil error
// with isNull=true represents "the origin legitimately returned nothing".
type LoadFn func(ctx context.Context) (value []byte, typeTag string, isNull bool, err error)

// CacheOptions is the per-read, per-key configuration described in spec §3.
// DefaultCacheOptions returns the documented defaults; callers override only
// what they need.
type CacheOptions struct {
	BaseTTLSeconds      int64 // > 0, or -1 for infinite
	RandomizeTTL        bool
	Variance            float64 // in [0.0, 1.0]
	CacheNullValues     bool
	UseMembershipFilter bool
	UseLocalLock        bool
	UseDistributedLock  bool
	DistributedLockKey  string // optional override; default "cache:lock:"+storageKey
	EnablePreRefresh    bool
	PreRefreshThreshold float64 // in (0.0, 1.0], default 0.3
	PreRefreshMode      PreRefreshMode
	SyncLoadTimeoutSec  int // default 10; 0 means attempt once and return immediately
	CustomStrategyTag   string
}

// DefaultCacheOptions returns spec-documented defaults: no jitter, no
// filter, no locking, no pre-refresh, a 10s load timeout.
func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		PreRefreshThreshold: 0.3,
		SyncLoadTimeoutSec:  10,
	}
}

// ReadRequest is the engine's sole entry point for a logical read, per
// spec §6.
type ReadRequest struct {
	Cache   string
	Key     string
	Options CacheOptions
	Load    LoadFn
}

// Outcome classifies a Result, mirroring the Result<Value|Null|Empty|Blocked>
// surface from spec §6.
type Outcome int

const (
	// OutcomeValue: a non-null value is being returned.
	OutcomeValue Outcome = iota
	// OutcomeNull: the cached-null sentinel is being returned.
	OutcomeNull
	// OutcomeEmpty: load_fn returned null and CacheNullValues is false;
	// nothing was written, nothing to return.
	OutcomeEmpty
	// OutcomeBlocked: H1's membership filter rejected the read outright.
	OutcomeBlocked
)

// Result is what Get returns on success.
type Result struct {
	Outcome Outcome
	Value   []byte
	TypeTag string
}

func storageKey(cache, key string) string {
	return cache + "::" + key
}

func defaultDistributedLockKey(storageKey string) string {
	return "cache:lock:" + storageKey
}

// leaseTTLSeconds standardizes the distributed lease TTL per spec §9:
// max(5, min(30, sync_load_timeout_s)).
func leaseTTLSeconds(syncLoadTimeoutSec int) int {
	t := syncLoadTimeoutSec
	if t > 30 {
		t = 30
	}
	if t < 5 {
		t = 5
	}
	return t
}
