// Package xkvstore adapts a Redis client to the protection engine's narrow
// KvStore contract: the TTL sentinel values (-2 missing, -1 no expiry) and
// the storage key format (cache_name + "::" + key_string) that callers, not
// this package, are responsible for constructing.
package xkvstore
