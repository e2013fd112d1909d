// Package xkeylock is the in-process half of the breakdown defense: a
// sharded, reference-counted mutex keyed by an arbitrary string. The
// protection engine combines cache name and logical key into one string and
// acquires it before (optionally) acquiring the cluster-wide distributed
// lease in [github.com/cacheguard/cacheguard/pkg/xlease], and releases it
// after — always local-then-distributed, released in reverse order.
//
// Acquire supports cancellation via context; TryAcquire is non-blocking.
// Unlock is idempotent. The shard map grows and shrinks with the set of keys
// currently being waited on or held — it does not retain an entry for a key
// once its last handle is released, so a long-lived process touching many
// unique keys does not leak lock structures.
package xkeylock
