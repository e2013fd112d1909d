package xkvstore

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
)

const (
	retryAttempts = 2
	retryDelay    = 20 * time.Millisecond
	scanCount     = 200
)

// redisStore implements Store over a go-redis UniversalClient (works
// unmodified against a standalone client, a Sentinel-backed client, or a
// ClusterClient).
type redisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an already-connected go-redis client as a Store.
func NewRedisStore(client redis.UniversalClient) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := withRetry(ctx, func() error {
		v, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	if err != nil {
		return nil, false, wrapUnavailable(err)
	}
	return value, found, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttlSeconds int64) error {
	ttl := ttlToDuration(ttlSeconds)
	err := withRetry(ctx, func() error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
	return wrapUnavailable(err)
}

func (s *redisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttlSeconds int64) (bool, error) {
	ttl := ttlToDuration(ttlSeconds)
	var wrote bool
	err := withRetry(ctx, func() error {
		ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
		if err != nil {
			return err
		}
		wrote = ok
		return nil
	})
	if err != nil {
		return false, wrapUnavailable(err)
	}
	return wrote, nil
}

func (s *redisStore) Delete(ctx context.Context, key string) (bool, error) {
	var deleted int64
	err := withRetry(ctx, func() error {
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		return false, wrapUnavailable(err)
	}
	return deleted > 0, nil
}

func (s *redisStore) TTL(ctx context.Context, key string) (int64, error) {
	var result time.Duration
	err := withRetry(ctx, func() error {
		d, err := s.client.TTL(ctx, key).Result()
		if err != nil {
			return err
		}
		result = d
		return nil
	})
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	// go-redis reports the -2/-1 sentinels as raw durations (-2ns/-1ns);
	// the scaled forms are accepted too.
	switch result {
	case -2, -2 * time.Second:
		return -2, nil
	case -1, -1 * time.Second:
		return -1, nil
	default:
		return int64(result.Seconds()), nil
	}
}

func (s *redisStore) Expire(ctx context.Context, key string, ttlSeconds int64) (bool, error) {
	var ok bool
	err := withRetry(ctx, func() error {
		applied, err := s.client.Expire(ctx, key, time.Duration(ttlSeconds)*time.Second).Result()
		if err != nil {
			return err
		}
		ok = applied
		return nil
	})
	if err != nil {
		return false, wrapUnavailable(err)
	}
	return ok, nil
}

func (s *redisStore) Scan(ctx context.Context, prefix string) Iterator {
	return &redisIterator{
		client:  s.client,
		match:   prefix + "*",
		hasMore: true,
	}
}

type redisIterator struct {
	client  redis.UniversalClient
	match   string
	cursor  uint64
	buf     []string
	pos     int
	hasMore bool
	current string
	err     error
}

func (it *redisIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	for it.pos >= len(it.buf) {
		if !it.hasMore {
			return false
		}
		keys, cursor, err := it.client.Scan(ctx, it.cursor, it.match, scanCount).Result()
		if err != nil {
			it.err = wrapUnavailable(err)
			return false
		}
		it.buf = keys
		it.pos = 0
		it.cursor = cursor
		it.hasMore = cursor != 0
	}
	it.current = it.buf[it.pos]
	it.pos++
	return true
}

func (it *redisIterator) Key() string { return it.current }
func (it *redisIterator) Err() error  { return it.err }
func (it *redisIterator) Close() error {
	it.hasMore = false
	return nil
}

// ttlToDuration converts this package's "-1 means infinite" seconds
// convention into go-redis's "0 means no TTL" convention.
func ttlToDuration(ttlSeconds int64) time.Duration {
	if ttlSeconds < 0 {
		return 0
	}
	return time.Duration(ttlSeconds) * time.Second
}

// withRetry retries a transient Redis operation a small bounded number of
// times before giving up, preferring "retry once, then degrade" over an
// unbounded retry loop against a down backend.
func withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.Delay(retryDelay),
		retry.LastErrorOnly(true),
	)
}

func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Join(ErrUnavailable, err)
}
