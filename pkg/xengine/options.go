package xengine

import (
	"github.com/cacheguard/cacheguard/pkg/xbloom"
	"github.com/cacheguard/cacheguard/pkg/xkeylock"
	"github.com/cacheguard/cacheguard/pkg/xlease"
	"github.com/cacheguard/cacheguard/pkg/xrefresh"
	"github.com/cacheguard/cacheguard/pkg/xregistry"
)

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithMembershipFilter wires H1's penetration defense. Omit to make
// CacheOptions.UseMembershipFilter a no-op on every read.
func WithMembershipFilter(f *xbloom.Filter) Option {
	return func(e *Engine) { e.filter = f }
}

// WithLocalLocks overrides the local lock registry used by H3. Engine
// builds a default registry via xkeylock.New if this option is omitted.
func WithLocalLocks(r xkeylock.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.locks = r
		}
	}
}

// WithDistributedLeases wires H3's distributed lease backend. Omit to make
// CacheOptions.UseDistributedLock a no-op.
func WithDistributedLeases(f xlease.Factory) Option {
	return func(e *Engine) { e.leases = f }
}

// WithRefreshScheduler wires the background pool behind ASYNC pre-refresh.
// Omit to make PreRefreshAsync degrade to a logged no-op.
func WithRefreshScheduler(s *xrefresh.Scheduler) Option {
	return func(e *Engine) { e.refresh = s }
}

// WithInvocationRegistry overrides the registry RegisterInvocation writes
// into. Engine builds a default one via xregistry.New if this option is
// omitted.
func WithInvocationRegistry(r *xregistry.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

// WithLogger supplies the logger used for every recoverable-error warning.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics supplies the instrumentation sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithCircuitBreaker enables a per-cache-name circuit breaker around H4
// load_fn invocations. Disabled by default: load_fn failures already
// surface as ErrLoadFnFailed on every call, and many callers would rather
// keep retrying than have the engine open a breaker on their behalf.
func WithCircuitBreaker(enabled bool) Option {
	return func(e *Engine) { e.breakerEnabled = enabled }
}

// WithAccessCountTracking turns on the best-effort CachedEntry.AccessCount
// write-back spec §9 leaves optional. Off by default: bumping the counter
// costs a full re-encode and KV write on every hit, which defeats much of
// the point of caching. When enabled, the write-back runs detached from
// the read's context and its failure is only logged.
func WithAccessCountTracking(enabled bool) Option {
	return func(e *Engine) { e.trackAccessCount = enabled }
}
