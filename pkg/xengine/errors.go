package xengine

import "errors"

// Error kinds the engine recognizes, matching spec §7 exactly. Kinds the
// caller must handle (ErrLoadFnFailed, ErrLoadTimeout, ErrCancelled) are
// returned from Get; kinds the engine recovers from locally
// (ErrKvUnavailable, ErrDecodeFailed, ErrLockAcquireFailed) are only logged
// by Get and never returned from it. Evict and EvictAll return
// ErrKvUnavailable when a delete or scan fails.
var (
	// ErrKvUnavailable marks a KvStore transport failure. A read failure is
	// treated as a miss; a write failure is a warning that does not stop the
	// loaded value from reaching the caller.
	ErrKvUnavailable = errors.New("xengine: kv store unavailable")

	// ErrDecodeFailed marks a CachedEntry that failed to decode even as the
	// legacy raw-value fallback; the engine treats the entry as absent.
	ErrDecodeFailed = errors.New("xengine: decode failed")

	// ErrLoadFnFailed wraps a load_fn error. Never produces a KV write or a
	// membership filter update.
	ErrLoadFnFailed = errors.New("xengine: load failed")

	// ErrLoadTimeout marks a load_fn call that exceeded
	// CacheOptions.SyncLoadTimeoutSec.
	ErrLoadTimeout = errors.New("xengine: load timed out")

	// ErrLockAcquireFailed marks a local or distributed lock that could not
	// be acquired; the engine degrades by proceeding without that lock.
	ErrLockAcquireFailed = errors.New("xengine: lock acquire failed")

	// ErrCancelled marks a request cancelled via its context, during either
	// the H3 lock wait or the H4 load.
	ErrCancelled = errors.New("xengine: request cancelled")
)
