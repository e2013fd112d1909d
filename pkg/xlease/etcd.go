package xlease

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdOption configures the Session backing an etcd Factory.
type EtcdOption func(*etcdOptions)

type etcdOptions struct {
	ttlSeconds int
	ctx        context.Context
}

func defaultEtcdOptions() *etcdOptions {
	return &etcdOptions{ttlSeconds: 60, ctx: context.Background()}
}

// WithSessionTTL sets the etcd Session TTL in seconds; default 60.
func WithSessionTTL(seconds int) EtcdOption {
	return func(o *etcdOptions) {
		if seconds > 0 {
			o.ttlSeconds = seconds
		}
	}
}

// etcdFactory implements Factory over an etcd Session + Mutex. Unlike the
// Redis backend, a lease here is kept alive by the Session's keepalive
// stream rather than by a fixed Expiry, so there is no per-lock TTL option.
type etcdFactory struct {
	client  *clientv3.Client
	session *concurrency.Session
	closed  atomic.Bool
}

// NewEtcdFactory builds a Factory on top of an already-connected etcd
// client.
func NewEtcdFactory(client *clientv3.Client, opts ...EtcdOption) (Factory, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o := defaultEtcdOptions()
	for _, opt := range opts {
		opt(o)
	}
	session, err := concurrency.NewSession(client,
		concurrency.WithTTL(o.ttlSeconds),
		concurrency.WithContext(o.ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("xlease: create etcd session: %w", err)
	}
	return &etcdFactory{client: client, session: session}, nil
}

func (f *etcdFactory) checkSession() error {
	if f.closed.Load() {
		return ErrFactoryClosed
	}
	select {
	case <-f.session.Done():
		return ErrSessionExpired
	default:
		return nil
	}
}

func (f *etcdFactory) TryLock(ctx context.Context, key string, opts ...Option) (Handle, error) {
	if err := f.checkSession(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	o := defaultLockOptions()
	for _, opt := range opts {
		opt(o)
	}
	fullKey := o.KeyPrefix + key
	mutex := concurrency.NewMutex(f.session, fullKey)
	if err := mutex.TryLock(ctx); err != nil {
		wrapped := wrapEtcdError(err)
		if errors.Is(wrapped, ErrLeaseHeld) {
			return nil, nil
		}
		return nil, wrapped
	}
	return &etcdHandle{factory: f, mutex: mutex, key: fullKey}, nil
}

func (f *etcdFactory) Lock(ctx context.Context, key string, opts ...Option) (Handle, error) {
	if err := f.checkSession(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	o := defaultLockOptions()
	for _, opt := range opts {
		opt(o)
	}
	fullKey := o.KeyPrefix + key
	mutex := concurrency.NewMutex(f.session, fullKey)
	if err := mutex.Lock(ctx); err != nil {
		return nil, wrapEtcdError(err)
	}
	return &etcdHandle{factory: f, mutex: mutex, key: fullKey}, nil
}

func (f *etcdFactory) Close(_ context.Context) error {
	if f.closed.Swap(true) {
		return nil
	}
	return f.session.Close()
}

func (f *etcdFactory) Health(ctx context.Context) error {
	if err := f.checkSession(); err != nil {
		return err
	}
	for _, ep := range f.client.Endpoints() {
		if _, err := f.client.Status(ctx, ep); err != nil {
			return err
		}
	}
	return nil
}

type etcdHandle struct {
	factory *etcdFactory
	mutex   *concurrency.Mutex
	key     string
}

func (h *etcdHandle) Unlock(ctx context.Context) error {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := h.mutex.Unlock(ctx); err != nil {
		return wrapEtcdError(err)
	}
	return nil
}

// Extend checks Session health rather than renewing anything: etcd leases
// auto-renew via the Session's own keepalive goroutine.
func (h *etcdHandle) Extend(_ context.Context) error {
	return h.factory.checkSession()
}

func (h *etcdHandle) Key() string { return h.key }

func wrapEtcdError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, concurrency.ErrLocked) {
		return fmt.Errorf("%w: %w", ErrLeaseHeld, err)
	}
	if errors.Is(err, concurrency.ErrSessionExpired) {
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	if errors.Is(err, concurrency.ErrLockReleased) {
		return fmt.Errorf("%w: %w", ErrNotHeld, err)
	}
	return err
}
