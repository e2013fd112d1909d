// Package xregistry implements the invocation registry: a last-writer-wins
// map from (cache, key) to the load function most recently registered for
// that key, so a background refresh task can reload a value without the
// original caller's stack still being around.
package xregistry

import "sync"

// LoadFn re-executes the origin call that produced the value for a given
// key. It is the same closure shape the engine's ReadRequest carries.
type LoadFn func() (value []byte, typeTag string, isNull bool, err error)

// Record is what gets registered per (cache, key).
type Record struct {
	Load LoadFn
	// Options is kept as `any` here rather than importing the engine's
	// option type, so this package has no dependency on xengine and can be
	// constructed independently in tests.
	Options any
}

// Registry is a concurrent-safe (cache,key) -> Record map. Registration is
// last-writer-wins; there is no versioning or CAS.
type Registry struct {
	m sync.Map // map[string]Record
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

func storageKey(cache, key string) string {
	return cache + "::" + key
}

// Register stores rec under (cache, key), overwriting any prior entry.
func (r *Registry) Register(cache, key string, rec Record) {
	r.m.Store(storageKey(cache, key), rec)
}

// Lookup returns the record registered for (cache, key), if any.
func (r *Registry) Lookup(cache, key string) (Record, bool) {
	v, ok := r.m.Load(storageKey(cache, key))
	if !ok {
		return Record{}, false
	}
	return v.(Record), true
}

// Unregister removes the record for (cache, key), if any.
func (r *Registry) Unregister(cache, key string) {
	r.m.Delete(storageKey(cache, key))
}

// UnregisterAll removes every record belonging to cache. Called by EvictAll.
func (r *Registry) UnregisterAll(cache string) {
	prefix := cache + "::"
	r.m.Range(func(k, _ any) bool {
		if ks, ok := k.(string); ok && len(ks) >= len(prefix) && ks[:len(prefix)] == prefix {
			r.m.Delete(ks)
		}
		return true
	})
}
