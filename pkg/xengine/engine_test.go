package xengine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacheguard/cacheguard/pkg/xbloom"
	"github.com/cacheguard/cacheguard/pkg/xengine"
	"github.com/cacheguard/cacheguard/pkg/xentry"
	"github.com/cacheguard/cacheguard/pkg/xkvstore"
	"github.com/cacheguard/cacheguard/pkg/xrefresh"
)

func newTestEngine(t *testing.T, opts ...xengine.Option) (*xengine.Engine, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := xkvstore.NewRedisStore(client)
	return xengine.New(store, opts...), client
}

// seedStale writes an entry whose CreatedAtMs is backdated by age, so the
// engine's pre-refresh and expiry classification can be exercised without
// a real sleep.
func seedStale(t *testing.T, client *redis.Client, sk string, value []byte, baseTTL int64, age time.Duration) {
	t.Helper()
	bytes := xentry.Encode(value, "go:string", baseTTL, false, time.Now().Add(-age))
	require.NoError(t, client.Set(context.Background(), sk, bytes, time.Duration(baseTTL)*time.Second).Err())
}

func TestGetColdMissLoadsOnceAndWritesBack(t *testing.T) {
	e, client := newTestEngine(t)
	var calls atomic.Int32
	req := xengine.ReadRequest{
		Cache:   "users",
		Key:     "1",
		Options: xengine.DefaultCacheOptions(),
		Load: func(ctx context.Context) ([]byte, string, bool, error) {
			calls.Add(1)
			return []byte("david"), "go:string", false, nil
		},
	}
	res, err := e.Get(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, xengine.OutcomeValue, res.Outcome)
	assert.Equal(t, "david", string(res.Value))
	assert.Equal(t, int32(1), calls.Load())

	raw, err := client.Get(context.Background(), "users::1").Bytes()
	require.NoError(t, err)
	entry, err := xentry.Decode(raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "david", string(entry.Payload))
}

func TestGetHitDoesNotInvokeLoad(t *testing.T) {
	e, client := newTestEngine(t)
	seedStale(t, client, "users::1", []byte("cached"), 300, 0)

	var calls atomic.Int32
	req := xengine.ReadRequest{
		Cache:   "users",
		Key:     "1",
		Options: xengine.DefaultCacheOptions(),
		Load: func(ctx context.Context) ([]byte, string, bool, error) {
			calls.Add(1)
			return nil, "", false, errors.New("must not be called")
		},
	}
	res, err := e.Get(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(res.Value))
	assert.Equal(t, int32(0), calls.Load())
}

func TestGetPenetrationBlockedByFilter(t *testing.T) {
	filter := xbloom.New(1000, 0.01)
	e, _ := newTestEngine(t, xengine.WithMembershipFilter(filter))

	opts := xengine.DefaultCacheOptions()
	opts.UseMembershipFilter = true
	req := xengine.ReadRequest{
		Cache:   "users",
		Key:     "never-written",
		Options: opts,
		Load: func(ctx context.Context) ([]byte, string, bool, error) {
			t.Fatal("load_fn must not run for a filter-rejected key")
			return nil, "", false, nil
		},
	}
	res, err := e.Get(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, xengine.OutcomeBlocked, res.Outcome)
}

func TestGetFilterAllowsAfterWriteBack(t *testing.T) {
	filter := xbloom.New(1000, 0.01)
	e, _ := newTestEngine(t, xengine.WithMembershipFilter(filter))

	opts := xengine.DefaultCacheOptions()
	opts.UseMembershipFilter = true
	var calls atomic.Int32
	req := xengine.ReadRequest{
		Cache:   "users",
		Key:     "1",
		Options: opts,
		Load: func(ctx context.Context) ([]byte, string, bool, error) {
			calls.Add(1)
			return []byte("david"), "go:string", false, nil
		},
	}
	_, err := e.Get(context.Background(), req)
	require.NoError(t, err)

	_, err = e.Get(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second read should hit cache, not reload")
}

func TestGetSingleFlightUnderLocalLock(t *testing.T) {
	e, _ := newTestEngine(t)

	opts := xengine.DefaultCacheOptions()
	opts.UseLocalLock = true

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	req := xengine.ReadRequest{
		Cache:   "users",
		Key:     "1",
		Options: opts,
		Load: func(ctx context.Context) ([]byte, string, bool, error) {
			n := calls.Add(1)
			if n == 1 {
				close(started)
				<-release
			}
			return []byte("david"), "go:string", false, nil
		},
	}

	results := make(chan xengine.Result, 2)
	go func() {
		res, err := e.Get(context.Background(), req)
		require.NoError(t, err)
		results <- res
	}()
	<-started

	go func() {
		res, err := e.Get(context.Background(), req)
		require.NoError(t, err)
		results <- res
	}()
	time.Sleep(20 * time.Millisecond) // let the second caller block on the lock
	close(release)

	r1 := <-results
	r2 := <-results
	assert.Equal(t, "david", string(r1.Value))
	assert.Equal(t, "david", string(r2.Value))
	assert.Equal(t, int32(1), calls.Load(), "only one load_fn invocation across concurrent readers")
}

func TestGetSyncPreRefreshForcesReload(t *testing.T) {
	e, client := newTestEngine(t)
	// base_ttl=10s, threshold=0.5: an entry 6s old has 4s (< 5s) remaining.
	seedStale(t, client, "users::1", []byte("old"), 10, 6*time.Second)

	opts := xengine.DefaultCacheOptions()
	opts.BaseTTLSeconds = 10
	opts.EnablePreRefresh = true
	opts.PreRefreshThreshold = 0.5
	opts.PreRefreshMode = xengine.PreRefreshSync

	var calls atomic.Int32
	req := xengine.ReadRequest{
		Cache:   "users",
		Key:     "1",
		Options: opts,
		Load: func(ctx context.Context) ([]byte, string, bool, error) {
			calls.Add(1)
			return []byte("fresh"), "go:string", false, nil
		},
	}
	res, err := e.Get(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(res.Value))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetAsyncPreRefreshServesStaleAndSchedulesReload(t *testing.T) {
	scheduler := xrefresh.New(xrefresh.WithParallelism(2))
	t.Cleanup(func() { _ = scheduler.Close(context.Background()) })
	e, client := newTestEngine(t, xengine.WithRefreshScheduler(scheduler))
	seedStale(t, client, "users::1", []byte("old"), 10, 6*time.Second)

	opts := xengine.DefaultCacheOptions()
	opts.BaseTTLSeconds = 10
	opts.EnablePreRefresh = true
	opts.PreRefreshThreshold = 0.5
	opts.PreRefreshMode = xengine.PreRefreshAsync

	var calls atomic.Int32
	done := make(chan struct{})
	req := xengine.ReadRequest{
		Cache:   "users",
		Key:     "1",
		Options: opts,
		Load: func(ctx context.Context) ([]byte, string, bool, error) {
			calls.Add(1)
			close(done)
			return []byte("fresh"), "go:string", false, nil
		},
	}
	res, err := e.Get(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "old", string(res.Value), "async pre-refresh must serve the stale value immediately")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("background refresh did not run")
	}
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	raw, err := client.Get(context.Background(), "users::1").Bytes()
	require.NoError(t, err)
	entry, err := xentry.Decode(raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(entry.Payload))
}

func TestGetLoadFailureReturnsErrorWithoutWriteBack(t *testing.T) {
	e, client := newTestEngine(t)
	req := xengine.ReadRequest{
		Cache:   "users",
		Key:     "1",
		Options: xengine.DefaultCacheOptions(),
		Load: func(ctx context.Context) ([]byte, string, bool, error) {
			return nil, "", false, errors.New("origin unreachable")
		},
	}
	_, err := e.Get(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, xengine.ErrLoadFnFailed)

	n, err := client.Exists(context.Background(), "users::1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestGetNullValueNotCachedWhenDisabled(t *testing.T) {
	e, client := newTestEngine(t)
	opts := xengine.DefaultCacheOptions()
	opts.CacheNullValues = false
	req := xengine.ReadRequest{
		Cache:   "users",
		Key:     "missing",
		Options: opts,
		Load: func(ctx context.Context) ([]byte, string, bool, error) {
			return nil, "", true, nil
		},
	}
	res, err := e.Get(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, xengine.OutcomeEmpty, res.Outcome)

	n, err := client.Exists(context.Background(), "users::missing").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestGetNullValueCachedWhenEnabled(t *testing.T) {
	e, _ := newTestEngine(t)
	opts := xengine.DefaultCacheOptions()
	opts.CacheNullValues = true
	var calls atomic.Int32
	req := xengine.ReadRequest{
		Cache:   "users",
		Key:     "missing",
		Options: opts,
		Load: func(ctx context.Context) ([]byte, string, bool, error) {
			calls.Add(1)
			return nil, "", true, nil
		},
	}
	res, err := e.Get(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, xengine.OutcomeNull, res.Outcome)

	res, err = e.Get(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, xengine.OutcomeNull, res.Outcome)
	assert.Equal(t, int32(1), calls.Load(), "cached null must be served without reloading")
}

func TestEvictRemovesEntry(t *testing.T) {
	e, client := newTestEngine(t)
	seedStale(t, client, "users::1", []byte("david"), 300, 0)
	require.NoError(t, e.Evict(context.Background(), "users", "1"))

	n, err := client.Exists(context.Background(), "users::1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestEvictAllClearsCacheScopedEntries(t *testing.T) {
	e, client := newTestEngine(t)
	seedStale(t, client, "users::1", []byte("a"), 300, 0)
	seedStale(t, client, "users::2", []byte("b"), 300, 0)
	seedStale(t, client, "orders::1", []byte("c"), 300, 0)

	require.NoError(t, e.EvictAll(context.Background(), "users"))

	n1, _ := client.Exists(context.Background(), "users::1").Result()
	n2, _ := client.Exists(context.Background(), "users::2").Result()
	n3, _ := client.Exists(context.Background(), "orders::1").Result()
	assert.Equal(t, int64(0), n1)
	assert.Equal(t, int64(0), n2)
	assert.Equal(t, int64(1), n3, "other caches must be unaffected")
}
