// Package xlease implements the best-effort cluster-wide mutex described in
// spec §4.5: an atomic set-if-absent-with-TTL lease, released only by a
// token-matching compare-and-delete, with two interchangeable backends
// (Redis via redsync, etcd via Session+Mutex) behind one Factory interface.
package xlease

import "context"

// Handle represents one successful lease acquisition.
type Handle interface {
	// Unlock releases the lease. Only releases this acquisition — never
	// another instance's concurrently-held lease on the same key. Returns
	// ErrNotHeld if the lease already expired or was taken over.
	//
	// If ctx is already done, Unlock still makes a best-effort attempt on an
	// internally detached context so a cancelled caller doesn't leave a
	// lease dangling until its TTL expires.
	Unlock(ctx context.Context) error

	// Extend renews the lease. Redis backend: resets the TTL. etcd backend:
	// checks Session health (etcd leases auto-renew via keepalive, so there
	// is nothing to extend, only to verify).
	Extend(ctx context.Context) error

	// Key returns the full lease key (including any prefix).
	Key() string
}

// Factory acquires and manages leases against one backend.
type Factory interface {
	// TryLock acquires without retrying. Returns (nil, nil) if the lease is
	// currently held by someone else — that is a normal outcome, not an
	// error.
	TryLock(ctx context.Context, key string, opts ...Option) (Handle, error)

	// Lock acquires, retrying per the backend's configured policy until
	// acquired or ctx is done.
	Lock(ctx context.Context, key string, opts ...Option) (Handle, error)

	// Close releases the factory's own resources (e.g. the etcd Session).
	// It does not affect client connections passed in by the caller.
	Close(ctx context.Context) error

	// Health checks that the backend is reachable.
	Health(ctx context.Context) error
}
