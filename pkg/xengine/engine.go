// Package xengine implements the cache protection engine: a handler chain
// that wires the membership filter, the breakdown locks, the TTL policy,
// and the pre-refresh scheduler around a KvStore-backed read.
package xengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/cacheguard/cacheguard/pkg/xbloom"
	"github.com/cacheguard/cacheguard/pkg/xentry"
	"github.com/cacheguard/cacheguard/pkg/xkeylock"
	"github.com/cacheguard/cacheguard/pkg/xkvstore"
	"github.com/cacheguard/cacheguard/pkg/xlease"
	"github.com/cacheguard/cacheguard/pkg/xrefresh"
	"github.com/cacheguard/cacheguard/pkg/xregistry"
	"github.com/cacheguard/cacheguard/pkg/xttl"
)

// Engine is the ProtectionEngine. Construct with New; the zero value is not
// usable.
type Engine struct {
	store xkvstore.Store

	filter   *xbloom.Filter
	locks    xkeylock.Registry
	leases   xlease.Factory
	refresh  *xrefresh.Scheduler
	registry *xregistry.Registry
	ttl      xttl.Policy

	logger  Logger
	metrics Metrics

	breakerEnabled   bool
	trackAccessCount bool

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker[loadOutcome]
}

// loadOutcome is the circuit breaker's generic payload: H4's load_fn result
// carried through gobreaker.Execute.
type loadOutcome struct {
	value   []byte
	typeTag string
	isNull  bool
}

// New builds an Engine over store. Every optional component (filter,
// leases, refresh scheduler) that is omitted makes the corresponding
// CacheOptions flag degrade to a no-op rather than an error.
func New(store xkvstore.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		locks:    xkeylock.New(),
		registry: xregistry.New(),
		ttl:      xttl.New(),
		logger:   noopLogger{},
		metrics:  noopMetrics{},
		breakers: make(map[string]*gobreaker.CircuitBreaker[loadOutcome]),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Get executes the H1-H5 handler chain from spec §4.8 for one logical read.
func (e *Engine) Get(ctx context.Context, req ReadRequest) (Result, error) {
	sk := storageKey(req.Cache, req.Key)
	now := time.Now()

	// H1 — penetration filter.
	if req.Options.UseMembershipFilter && e.filter != nil {
		if !e.filter.MightContain(req.Cache, req.Key) {
			e.metrics.ObserveBlocked(req.Cache)
			return Result{Outcome: OutcomeBlocked}, nil
		}
	}

	// H2 — read and classify.
	entry, err := e.read(ctx, sk)
	if err != nil {
		return Result{}, err
	}
	if entry != nil && !entry.IsExpired(now) {
		e.maybeTrackAccess(req.Cache, sk, *entry, now)

		remaining := entry.RemainingTTL(now)
		if e.ttl.ShouldPreRefresh(entry, req.Options.EnablePreRefresh, req.Options.PreRefreshThreshold, remaining) {
			e.metrics.ObservePreRefresh(req.Cache, req.Options.PreRefreshMode)
			switch req.Options.PreRefreshMode {
			case PreRefreshSync:
				// Force the triggering caller through an immediate reload:
				// evict so nobody else observes the stale value, then skip
				// straight to H4 without contending for the breakdown lock.
				if _, derr := e.store.Delete(ctx, sk); derr != nil {
					e.logger.Warn(ctx, "xengine: pre-refresh evict failed", "cache", req.Cache, "error", derr)
				}
				return e.loadAndStore(ctx, req, sk, now)
			case PreRefreshAsync:
				e.scheduleAsyncRefresh(req, sk)
				e.metrics.ObserveHit(req.Cache)
				return resultFromEntry(*entry), nil
			}
		}
		e.metrics.ObserveHit(req.Cache)
		return resultFromEntry(*entry), nil
	}
	if entry != nil {
		// Expired: clear it so a concurrent reader doesn't spin on stale
		// bytes while this caller goes through the load path.
		if _, derr := e.store.Delete(ctx, sk); derr != nil {
			e.logger.Warn(ctx, "xengine: expired-entry evict failed", "cache", req.Cache, "error", derr)
		}
	}
	e.metrics.ObserveMiss(req.Cache)

	// H3 — breakdown lock.
	if !req.Options.UseLocalLock && !req.Options.UseDistributedLock {
		return e.loadAndStore(ctx, req, sk, now)
	}

	lockStart := time.Now()
	var localHandle xkeylock.Handle
	var leaseHandle xlease.Handle

	if req.Options.UseLocalLock {
		h, lerr := e.locks.Acquire(ctx, sk)
		switch {
		case lerr == nil:
			localHandle = h
		case errors.Is(lerr, context.Canceled), errors.Is(lerr, context.DeadlineExceeded):
			return Result{}, fmt.Errorf("%w: %w", ErrCancelled, lerr)
		default:
			e.logger.Warn(ctx, "xengine: local lock acquire failed, proceeding unlocked", "cache", req.Cache, "error", fmt.Errorf("%w: %w", ErrLockAcquireFailed, lerr))
		}
	}

	if req.Options.UseDistributedLock && e.leases != nil {
		key := req.Options.DistributedLockKey
		if key == "" {
			key = defaultDistributedLockKey(sk)
		}
		ttl := time.Duration(leaseTTLSeconds(req.Options.SyncLoadTimeoutSec)) * time.Second
		// key already carries its full form; an empty prefix stops xlease
		// from prepending its default "cache:lock:" a second time.
		lh, lerr := e.leases.TryLock(ctx, key, xlease.WithExpiry(ttl), xlease.WithKeyPrefix(""))
		if lerr != nil || lh == nil {
			if lerr != nil {
				e.logger.Warn(ctx, "xengine: distributed lease not acquired, degrading to unlocked load", "cache", req.Cache, "error", fmt.Errorf("%w: %w", ErrLockAcquireFailed, lerr))
			}
			// Per spec §4.8: fully degrade rather than run H4 under a
			// local-only lock when distributed locking was explicitly
			// requested and unavailable.
			if localHandle != nil {
				_ = localHandle.Unlock()
				localHandle = nil
			}
		} else {
			leaseHandle = lh
		}
	}
	e.metrics.ObserveLockWait(req.Cache, time.Since(lockStart))

	release := func() {
		if leaseHandle != nil {
			if uerr := leaseHandle.Unlock(context.Background()); uerr != nil {
				e.logger.Warn(ctx, "xengine: lease release failed", "cache", req.Cache, "error", uerr)
			}
		}
		if localHandle != nil {
			if uerr := localHandle.Unlock(); uerr != nil {
				e.logger.Warn(ctx, "xengine: local lock release failed", "cache", req.Cache, "error", uerr)
			}
		}
	}
	defer release()

	// Double-checked read under lock: a concurrent loader may have already
	// populated a fresh entry while this caller waited.
	if localHandle != nil || leaseHandle != nil {
		entry2, rerr := e.read(ctx, sk)
		if rerr != nil {
			return Result{}, rerr
		}
		if entry2 != nil && !entry2.IsExpired(time.Now()) {
			e.metrics.ObserveHit(req.Cache)
			return resultFromEntry(*entry2), nil
		}
	}

	// H4 + H5, still holding whatever locks were acquired above; release
	// runs via the deferred call regardless of outcome.
	return e.loadAndStore(ctx, req, sk, now)
}

// loadAndStore runs H4 (load, circuit-breaker-wrapped, timeout-bound) and,
// on success, H5 (jittered TTL write-back plus filter update). Used for the
// cold-miss path, the SYNC pre-refresh forced reload, and async refresh
// tasks.
func (e *Engine) loadAndStore(ctx context.Context, req ReadRequest, sk string, now time.Time) (Result, error) {
	loadCtx := ctx
	var cancel context.CancelFunc
	if req.Options.SyncLoadTimeoutSec > 0 {
		loadCtx, cancel = context.WithTimeout(ctx, time.Duration(req.Options.SyncLoadTimeoutSec)*time.Second)
		defer cancel()
	}

	start := time.Now()
	out, err := e.executeLoad(loadCtx, req.Cache, req.Load)
	e.metrics.ObserveLoad(req.Cache, time.Since(start), err)
	if err != nil {
		switch {
		case errors.Is(loadCtx.Err(), context.DeadlineExceeded):
			return Result{}, fmt.Errorf("%w: %w", ErrLoadTimeout, err)
		case errors.Is(ctx.Err(), context.Canceled):
			return Result{}, fmt.Errorf("%w: %w", ErrCancelled, err)
		default:
			return Result{}, fmt.Errorf("%w: %w", ErrLoadFnFailed, err)
		}
	}

	if out.isNull && !req.Options.CacheNullValues {
		return Result{Outcome: OutcomeEmpty}, nil
	}

	ttl := e.ttl.FinalTTL(req.Options.BaseTTLSeconds, req.Options.RandomizeTTL, req.Options.Variance)
	bytes := xentry.Encode(out.value, out.typeTag, ttl, out.isNull, now)
	if werr := e.store.Set(ctx, sk, bytes, ttl); werr != nil {
		e.logger.Warn(ctx, "xengine: write-back failed", "cache", req.Cache, "error", fmt.Errorf("%w: %w", ErrKvUnavailable, werr))
	} else if req.Options.UseMembershipFilter && e.filter != nil {
		e.filter.Add(req.Cache, req.Key)
	}

	outcome := OutcomeValue
	if out.isNull {
		outcome = OutcomeNull
	}
	return Result{Outcome: outcome, Value: out.value, TypeTag: out.typeTag}, nil
}

// executeLoad invokes load, optionally through a per-cache circuit breaker.
func (e *Engine) executeLoad(ctx context.Context, cache string, load LoadFn) (loadOutcome, error) {
	if !e.breakerEnabled {
		v, t, isNull, err := load(ctx)
		if err != nil {
			return loadOutcome{}, err
		}
		return loadOutcome{value: v, typeTag: t, isNull: isNull}, nil
	}
	cb := e.breakerFor(cache)
	return cb.Execute(func() (loadOutcome, error) {
		v, t, isNull, err := load(ctx)
		if err != nil {
			return loadOutcome{}, err
		}
		return loadOutcome{value: v, typeTag: t, isNull: isNull}, nil
	})
}

func (e *Engine) breakerFor(cache string) *gobreaker.CircuitBreaker[loadOutcome] {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	cb, ok := e.breakers[cache]
	if !ok {
		cb = gobreaker.NewCircuitBreaker[loadOutcome](gobreaker.Settings{
			Name:        cache,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		e.breakers[cache] = cb
	}
	return cb
}

// read fetches and decodes the entry at sk, treating a KV-unavailable
// failure and a decode failure both as "no entry", per spec §7. Only a
// caller-cancelled context propagates as an error.
func (e *Engine) read(ctx context.Context, sk string) (*xentry.Entry, error) {
	raw, ok, err := e.store.Get(ctx, sk)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		e.logger.Warn(ctx, "xengine: read failed, treating as miss", "error", fmt.Errorf("%w: %w", ErrKvUnavailable, err))
		return nil, nil
	}
	if !ok {
		return nil, nil
	}
	entry, derr := xentry.Decode(raw, time.Now())
	if derr != nil {
		e.logger.Warn(ctx, "xengine: decode failed, treating as miss", "error", fmt.Errorf("%w: %w", ErrDecodeFailed, derr))
		return nil, nil
	}
	return entry, nil
}

// maybeTrackAccess performs the optional AccessCount write-back, detached
// from the triggering request's context and failure so a read never slows
// down or fails because of bookkeeping.
func (e *Engine) maybeTrackAccess(cache, sk string, entry xentry.Entry, now time.Time) {
	if !e.trackAccessCount {
		return
	}
	bumped := entry.BumpAccess()
	remaining := entry.OriginalTTLSeconds
	if remaining > 0 {
		if r := int64(entry.RemainingTTL(now)); r > 0 {
			remaining = r
		}
	}
	go func() {
		bytes := xentry.Encode(bumped.Payload, bumped.TypeFingerprint, remaining, bumped.IsNull, now)
		if err := e.store.Set(context.Background(), sk, bytes, remaining); err != nil {
			e.logger.Warn(context.Background(), "xengine: access-count write-back failed", "cache", cache, "error", err)
		}
	}()
}

// scheduleAsyncRefresh dispatches a deduplicated background reload for sk.
// If no scheduler was wired in, ASYNC pre-refresh degrades to a logged
// no-op: the stale value is still served.
func (e *Engine) scheduleAsyncRefresh(req ReadRequest, sk string) {
	if e.refresh == nil {
		e.logger.Warn(context.Background(), "xengine: async pre-refresh requested but no scheduler configured", "cache", req.Cache, "key", req.Key)
		return
	}
	detached := context.Background()
	e.refresh.Submit(detached, req.Cache, sk, func(taskCtx context.Context) {
		if _, err := e.loadAndStore(taskCtx, req, sk, time.Now()); err != nil {
			e.logger.Warn(taskCtx, "xengine: async refresh failed", "cache", req.Cache, "key", req.Key, "error", err)
		}
	})
}

// Evict removes a single key's cached entry. The membership filter is left
// untouched: clearing it per key would undermine the no-false-negatives
// guarantee cheaply re-derivable only by a full Clear.
func (e *Engine) Evict(ctx context.Context, cache, key string) error {
	sk := storageKey(cache, key)
	if _, err := e.store.Delete(ctx, sk); err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrKvUnavailable, err)
		e.logger.Warn(ctx, "xengine: evict failed", "cache", cache, "key", key, "error", wrapped)
		return wrapped
	}
	return nil
}

// EvictAll removes every cached entry for cache, clears its membership
// filter, and unregisters every invocation record scoped to it, per spec
// §4.9.
func (e *Engine) EvictAll(ctx context.Context, cache string) error {
	prefix := cache + "::"
	it := e.store.Scan(ctx, prefix)
	defer it.Close()

	var firstErr error
	for it.Next(ctx) {
		if _, err := e.store.Delete(ctx, it.Key()); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %w", ErrKvUnavailable, err)
		}
	}
	if err := it.Err(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: %w", ErrKvUnavailable, err)
	}

	if e.filter != nil {
		e.filter.Clear(cache)
	}
	e.registry.UnregisterAll(cache)

	if firstErr != nil {
		e.logger.Warn(ctx, "xengine: evict_all encountered errors", "cache", cache, "error", firstErr)
	}
	return firstErr
}

// RegisterInvocation records rec as the load function to use for a future
// background refresh of (cache, key), per spec C9.
func (e *Engine) RegisterInvocation(cache, key string, rec xregistry.Record) {
	e.registry.Register(cache, key, rec)
}

func resultFromEntry(entry xentry.Entry) Result {
	outcome := OutcomeValue
	if entry.IsNull {
		outcome = OutcomeNull
	}
	return Result{Outcome: outcome, Value: entry.Payload, TypeTag: entry.TypeFingerprint}
}
