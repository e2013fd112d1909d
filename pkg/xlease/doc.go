// Package xlease is the distributed half of the engine's breakdown defense:
// a best-effort, cluster-wide lease acquired by atomic set-if-absent-with-TTL
// and released only by a token-matching compare-and-delete, so a lease that
// expired and was re-acquired by someone else is never released out from
// under its new owner.
//
// Two backends share the Factory interface:
//
//	                Redis (redsync)         etcd (Session+Mutex)
//	lifetime        fixed Expiry            Session keepalive
//	multi-node      Redlock (majority)      single cluster, always CP
//	Extend           renews TTL              checks Session health only
//
// The protection engine computes the Redis Expiry as
// max(5, min(30, sync_load_timeout_s)) per spec §9 and is TTL-agnostic
// toward the etcd backend, whose lease lifetime is controlled by
// WithSessionTTL at Factory construction instead of per-call.
//
// A transport error during TryLock/Lock surfaces as an error, not a nil
// handle — callers fall back to the unprotected load path with a logged
// warning, exactly as spec §4.5 requires. A transport error during Unlock is
// logged by the caller and not retried: the TTL (Redis) or Session expiry
// (etcd) frees the lease on its own.
package xlease
