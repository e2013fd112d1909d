package xlease

import "errors"

// Sentinel errors, matched with errors.Is.
var (
	// ErrLeaseHeld means the lease is currently owned by someone else.
	ErrLeaseHeld = errors.New("xlease: lease is held by another owner")

	// ErrAcquireFailed means TryLock/Lock failed for a reason other
	// than contention (retries exhausted, transport error translated by the
	// backend, etc).
	ErrAcquireFailed = errors.New("xlease: failed to acquire lease")

	// ErrExtendFailed means Extend failed but the lease may still be held;
	// callers may retry.
	ErrExtendFailed = errors.New("xlease: failed to extend lease")

	// ErrNilClient is returned when a backend constructor receives a nil
	// client.
	ErrNilClient = errors.New("xlease: client is nil")

	// ErrNilContext names the nil-context condition. The Factory and Handle
	// methods in this package do not check for a nil context and never
	// return it.
	ErrNilContext = errors.New("xlease: context must not be nil")

	// ErrSessionExpired means the etcd backend's Session has died; the
	// Factory must be recreated.
	ErrSessionExpired = errors.New("xlease: session expired")

	// ErrFactoryClosed is returned by calls made after Close.
	ErrFactoryClosed = errors.New("xlease: factory is closed")

	// ErrNotHeld is returned by Unlock/Extend on a lease already lost —
	// expired, released, or stolen.
	ErrNotHeld = errors.New("xlease: lease not held")

	// ErrEmptyKey is returned for an empty or whitespace-only lease key.
	ErrEmptyKey = errors.New("xlease: key must not be empty")
)
