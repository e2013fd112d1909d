package xkeylock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	r := New()
	h, err := r.Acquire(context.Background(), "user:1")
	require.NoError(t, err)
	require.Equal(t, "user:1", h.Key())
	require.NoError(t, h.Unlock())
	assert.ErrorIs(t, h.Unlock(), ErrLockNotHeld)
}

func TestAcquireSerializesConcurrentHolders(t *testing.T) {
	r := New()
	var counter atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := r.Acquire(context.Background(), "hot-key")
			require.NoError(t, err)
			counter.Add(1)
			time.Sleep(time.Millisecond)
			require.NoError(t, h.Unlock())
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(20), counter.Load())
	assert.Equal(t, 0, r.Len())
}

func TestTryAcquireReportsOccupied(t *testing.T) {
	r := New()
	h, err := r.Acquire(context.Background(), "k")
	require.NoError(t, err)

	_, err = r.TryAcquire("k")
	assert.ErrorIs(t, err, ErrLockOccupied)

	require.NoError(t, h.Unlock())
	h2, err := r.TryAcquire("k")
	require.NoError(t, err)
	require.NoError(t, h2.Unlock())
}

func TestAcquireTimeoutExpires(t *testing.T) {
	r := New()
	h, err := r.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer h.Unlock()

	_, err = r.AcquireTimeout(context.Background(), "k", 20*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseWakesWaiters(t *testing.T) {
	r := New()
	h, err := r.Acquire(context.Background(), "k")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Acquire(context.Background(), "k")
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Close")
	}
	assert.NoError(t, h.Unlock())
}

func TestMaxKeysExceeded(t *testing.T) {
	r := New(WithMaxKeys(1))
	h, err := r.Acquire(context.Background(), "a")
	require.NoError(t, err)

	_, err = r.Acquire(context.Background(), "b")
	assert.ErrorIs(t, err, ErrMaxKeysExceeded)

	require.NoError(t, h.Unlock())
	h2, err := r.Acquire(context.Background(), "b")
	require.NoError(t, err)
	require.NoError(t, h2.Unlock())
}

func TestAcquireRejectsNilContext(t *testing.T) {
	r := New()
	_, err := r.Acquire(nil, "k") //nolint:staticcheck
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestAcquireRejectsEmptyKey(t *testing.T) {
	r := New()
	_, err := r.Acquire(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
