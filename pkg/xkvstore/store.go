// Package xkvstore is the thin KvStore adapter the protection engine
// depends on: get, set-with-ttl, set-if-absent-with-ttl, delete,
// scan-by-prefix, ttl, and expire. Any store offering compare-and-set-with-
// TTL plus prefix scan could sit behind this interface; Store backs it with
// Redis, the most common remote KV transport for this kind of workload.
package xkvstore

import "context"

// Iterator walks the keys returned by Scan. Callers MUST call Close when
// done, even after an error or early break, to release the underlying Redis
// scan cursor state.
type Iterator interface {
	// Next advances to the next key. Returns false when exhausted or on
	// error; check Err afterward.
	Next(ctx context.Context) bool

	// Key returns the key at the iterator's current position. Valid only
	// after a Next call that returned true.
	Key() string

	// Err returns the first error encountered, if any.
	Err() error

	// Close releases iterator resources. Idempotent.
	Close() error
}

// Store is the narrow KvStore contract the engine depends on. Every method
// may fail with a wrapped ErrUnavailable after retrying transient transport
// errors a bounded number of times; it is the engine's job, not this
// package's, to decide what a failure means for a given call.
type Store interface {
	// Get returns the raw bytes at key, or ok=false if the key does not
	// exist.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set writes value at key with the given TTL in seconds. ttlSeconds < 0
	// means no expiry.
	Set(ctx context.Context, key string, value []byte, ttlSeconds int64) error

	// SetIfAbsent writes value at key only if key does not already exist,
	// returning whether the write happened.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttlSeconds int64) (bool, error)

	// Delete removes key, returning whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Scan iterates keys matching prefix+"*".
	Scan(ctx context.Context, prefix string) Iterator

	// TTL returns the remaining TTL in seconds: -2 if key is missing, -1 if
	// key exists with no expiry, >= 0 otherwise.
	TTL(ctx context.Context, key string) (int64, error)

	// Expire sets a new TTL on an existing key, returning whether the key
	// existed.
	Expire(ctx context.Context, key string, ttlSeconds int64) (bool, error)
}
