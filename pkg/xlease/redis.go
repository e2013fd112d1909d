package xlease

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-redsync/redsync/v4"
	rsredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// redisFactory implements Factory over redsync. A single client behaves as
// a plain Redis lock; multiple clients run the Redlock algorithm, requiring
// a majority of nodes to agree.
type redisFactory struct {
	clients []redis.UniversalClient
	rs      *redsync.Redsync
	closed  atomic.Bool
}

// NewRedisFactory builds a Factory backed by one or more Redis nodes.
func NewRedisFactory(clients ...redis.UniversalClient) (Factory, error) {
	if len(clients) == 0 {
		return nil, ErrNilClient
	}
	for _, c := range clients {
		if c == nil {
			return nil, ErrNilClient
		}
	}
	pools := make([]rsredis.Pool, len(clients))
	for i, c := range clients {
		pools[i] = goredis.NewPool(c)
	}
	return &redisFactory{clients: clients, rs: redsync.New(pools...)}, nil
}

func (f *redisFactory) TryLock(ctx context.Context, key string, opts ...Option) (Handle, error) {
	if f.closed.Load() {
		return nil, ErrFactoryClosed
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	mutex, fullKey := f.buildMutex(key, opts...)
	if err := mutex.TryLockContext(ctx); err != nil {
		wrapped := wrapRedsyncError(err)
		if errors.Is(wrapped, ErrLeaseHeld) {
			return nil, nil
		}
		return nil, wrapped
	}
	return &redisHandle{mutex: mutex, key: fullKey}, nil
}

func (f *redisFactory) Lock(ctx context.Context, key string, opts ...Option) (Handle, error) {
	if f.closed.Load() {
		return nil, ErrFactoryClosed
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	mutex, fullKey := f.buildMutex(key, opts...)
	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, wrapRedsyncError(err)
	}
	return &redisHandle{mutex: mutex, key: fullKey}, nil
}

func (f *redisFactory) buildMutex(key string, opts ...Option) (*redsync.Mutex, string) {
	o := defaultLockOptions()
	for _, opt := range opts {
		opt(o)
	}
	fullKey := o.KeyPrefix + key
	rsOpts := []redsync.Option{
		redsync.WithExpiry(o.Expiry),
		redsync.WithTries(o.Tries),
		redsync.WithRetryDelay(o.RetryDelay),
		redsync.WithDriftFactor(o.DriftFactor),
		redsync.WithTimeoutFactor(o.TimeoutFactor),
		redsync.WithFailFast(o.FailFast),
		redsync.WithShufflePools(o.ShufflePools),
	}
	return f.rs.NewMutex(fullKey, rsOpts...), fullKey
}

func (f *redisFactory) Close(_ context.Context) error {
	f.closed.Store(true)
	return nil
}

func (f *redisFactory) Health(ctx context.Context) error {
	if f.closed.Load() {
		return ErrFactoryClosed
	}
	for _, c := range f.clients {
		if err := c.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

type redisHandle struct {
	mutex *redsync.Mutex
	key   string
}

func (h *redisHandle) Unlock(ctx context.Context) error {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		wrapped := wrapRedsyncError(err)
		if errors.Is(wrapped, ErrNotHeld) {
			return ErrNotHeld
		}
		return wrapped
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}

func (h *redisHandle) Extend(ctx context.Context) error {
	ok, err := h.mutex.ExtendContext(ctx)
	if err != nil {
		wrapped := wrapRedsyncError(err)
		if errors.Is(wrapped, ErrNotHeld) {
			return ErrNotHeld
		}
		return wrapped
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}

func (h *redisHandle) Key() string { return h.key }

// wrapRedsyncError translates redsync's error taxonomy into xlease's.
func wrapRedsyncError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var errTaken *redsync.ErrTaken
	if errors.As(err, &errTaken) {
		return fmt.Errorf("%w: %w", ErrLeaseHeld, err)
	}
	if errors.Is(err, redsync.ErrFailed) {
		return fmt.Errorf("%w: %w", ErrAcquireFailed, err)
	}
	if errors.Is(err, redsync.ErrExtendFailed) {
		return fmt.Errorf("%w: %w", ErrExtendFailed, err)
	}
	if errors.Is(err, redsync.ErrLockAlreadyExpired) {
		return fmt.Errorf("%w: %w", ErrNotHeld, err)
	}
	return err
}
