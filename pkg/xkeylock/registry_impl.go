package xkeylock

import (
	"context"
	"hash/maphash"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// hashSeed seeds shard selection; it only needs to be stable within one
// process, so maphash is sufficient and cheaper than anything cryptographic.
var hashSeed = maphash.MakeSeed()

const cacheLineSize = 64

// shardPayload holds a shard's real fields; keeping them in their own type
// lets unsafe.Sizeof compute the padding below automatically instead of
// hardcoding a byte count that would drift across architectures.
type shardPayload struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type shard struct {
	shardPayload
	// Pad out to a cache line so adjacent shards don't false-share. If
	// shardPayload ever grows past cacheLineSize this array length goes
	// negative and the package fails to compile, which is the point.
	_ [cacheLineSize - unsafe.Sizeof(shardPayload{})]byte
}

// lockEntry is one key's lock state. ch is a size-1 channel used as a
// mutex: a successful send means "acquired", a blocked send means "held",
// a receive means "release".
type lockEntry struct {
	ch chan struct{}
	// refcnt counts goroutines referencing this entry (holder plus
	// waiters). The entry is removed from its shard map when it hits zero.
	refcnt atomic.Int32
}

type registry struct {
	shards   []shard
	mask     uint64
	opts     *options
	closed   atomic.Bool
	keyCount atomic.Int64
	done     chan struct{}
}

type handle struct {
	r     *registry
	key   string
	entry *lockEntry
	done  atomic.Bool
}

func newRegistry(o *options) *registry {
	shards := make([]shard, o.shardCount)
	for i := range shards {
		shards[i].entries = make(map[string]*lockEntry)
	}
	return &registry{
		shards: shards,
		mask:   uint64(o.shardCount) - 1,
		opts:   o,
		done:   make(chan struct{}),
	}
}

func (r *registry) getShard(key string) *shard {
	h := maphash.String(hashSeed, key)
	return &r.shards[h&r.mask]
}

func (r *registry) getOrCreate(key string) (*lockEntry, error) {
	s := r.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.closed.Load() {
		return nil, ErrClosed
	}

	e, ok := s.entries[key]
	if !ok {
		if r.opts.maxKeys > 0 {
			for {
				cur := r.keyCount.Load()
				if cur >= int64(r.opts.maxKeys) {
					return nil, ErrMaxKeysExceeded
				}
				if r.keyCount.CompareAndSwap(cur, cur+1) {
					break
				}
			}
		} else {
			r.keyCount.Add(1)
		}
		e = &lockEntry{ch: make(chan struct{}, 1)}
		s.entries[key] = e
	}
	e.refcnt.Add(1)
	return e, nil
}

func (r *registry) releaseRef(key string, entry *lockEntry) {
	s := r.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.refcnt.Add(-1) == 0 {
		delete(s.entries, key)
		r.keyCount.Add(-1)
	}
}

func (r *registry) Acquire(ctx context.Context, key string) (Handle, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if key == "" {
		return nil, ErrInvalidKey
	}
	// Fast path: prefer reporting ErrClosed over a ctx error when both are
	// already true.
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, err := r.getOrCreate(key)
	if err != nil {
		return nil, err
	}
	select {
	case entry.ch <- struct{}{}: // acquired
		// Re-check: closes the window between getOrCreate and this select
		// racing a concurrent Close. Close sets closed before closing done,
		// so this Load reliably observes it.
		if r.closed.Load() {
			<-entry.ch
			r.releaseRef(key, entry)
			return nil, ErrClosed
		}
		return &handle{r: r, key: key, entry: entry}, nil
	case <-ctx.Done():
		r.releaseRef(key, entry)
		return nil, ctx.Err()
	case <-r.done:
		r.releaseRef(key, entry)
		return nil, ErrClosed
	}
}

func (r *registry) AcquireTimeout(ctx context.Context, key string, timeout time.Duration) (Handle, error) {
	if timeout <= 0 {
		return r.TryAcquire(key)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.Acquire(tctx, key)
}

func (r *registry) TryAcquire(key string) (Handle, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	if r.closed.Load() {
		return nil, ErrClosed
	}
	entry, err := r.getOrCreate(key)
	if err != nil {
		return nil, err
	}
	select {
	case entry.ch <- struct{}{}: // acquired
		if r.closed.Load() {
			<-entry.ch
			r.releaseRef(key, entry)
			return nil, ErrClosed
		}
		return &handle{r: r, key: key, entry: entry}, nil
	default: // held by someone else
		r.releaseRef(key, entry)
		if r.closed.Load() {
			return nil, ErrClosed
		}
		return nil, ErrLockOccupied
	}
}

func (r *registry) Len() int {
	return int(max(r.keyCount.Load(), 0))
}

func (r *registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(r.done)
	return nil
}

func (h *handle) Unlock() error {
	if !h.done.CompareAndSwap(false, true) {
		return ErrLockNotHeld
	}
	<-h.entry.ch
	h.r.releaseRef(h.key, h.entry)
	h.r = nil
	h.entry = nil
	return nil
}

func (h *handle) Key() string { return h.key }

var (
	_ Registry = (*registry)(nil)
	_ Handle   = (*handle)(nil)
)
