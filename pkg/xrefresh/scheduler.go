// Package xrefresh implements the bounded background worker pool behind
// ASYNC pre-refresh: a small fixed-parallelism pool that dedups concurrent
// refresh requests for the same storage key and drops tasks rather than
// growing an unbounded queue when the pool falls behind.
package xrefresh

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	defaultParallelism   = 4
	defaultQueueCapacity = 256
	defaultDrainTimeout  = 5 * time.Second
)

// Logger is the minimal logging surface xrefresh needs; xengine supplies an
// adapter over the real structured logger so this package stays dependency
// free.
type Logger interface {
	Warn(ctx context.Context, msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(context.Context, string, ...any) {}

// Option configures a Scheduler at construction time.
type Option func(*options)

type options struct {
	parallelism   int
	queueCapacity int
	drainTimeout  time.Duration
	logger        Logger
	limiter       *redis_rate.Limiter
	limitPerSec   int
}

func defaultOptions() *options {
	return &options{
		parallelism:   defaultParallelism,
		queueCapacity: defaultQueueCapacity,
		drainTimeout:  defaultDrainTimeout,
		logger:        noopLogger{},
	}
}

// WithParallelism sets how many refresh tasks may run concurrently. Default 4.
func WithParallelism(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// WithQueueCapacity bounds how many pending tasks may wait for a free
// worker before Submit starts dropping them. Default 256.
func WithQueueCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueCapacity = n
		}
	}
}

// WithDrainTimeout bounds how long Close waits for in-flight tasks before
// abandoning the rest. Default 5s.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.drainTimeout = d
		}
	}
}

// WithLogger supplies the logger used for queue-full and throttling
// warnings.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRateLimit throttles dispatch per cache name to perSecond tasks/second
// using limiter, so a cache whose entries all cross the pre-refresh
// threshold together doesn't turn into a refresh storm against the origin.
func WithRateLimit(limiter *redis_rate.Limiter, perSecond int) Option {
	return func(o *options) {
		o.limiter = limiter
		if perSecond > 0 {
			o.limitPerSec = perSecond
		}
	}
}

type job struct {
	key  string
	ctx  context.Context
	task func(context.Context)
}

// Scheduler is the bounded worker pool. Construct with New; the zero value
// is not usable.
type Scheduler struct {
	opts   *options
	sem    *semaphore.Weighted
	queue  chan job
	group  *errgroup.Group
	closed atomic.Bool
	once   sync.Once
	root   context.Context
	cancel context.CancelFunc

	inFlight sync.Map // storage key -> struct{}
}

// New starts a Scheduler and its dispatcher goroutine.
func New(opts ...Option) *Scheduler {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	root, cancel := context.WithCancel(context.Background())
	group, _ := errgroup.WithContext(context.Background())
	s := &Scheduler{
		opts:   o,
		sem:    semaphore.NewWeighted(int64(o.parallelism)),
		queue:  make(chan job, o.queueCapacity),
		group:  group,
		root:   root,
		cancel: cancel,
	}
	go s.dispatch()
	return s
}

// Submit dedups and enqueues a refresh task for storageKey. If the key is
// already in flight, Submit is a no-op and returns false — this is what
// makes ASYNC pre-refresh idempotent under concurrent triggering readers
// (spec invariant 7). A full queue or a rate-limited cache also returns
// false, with a logged warning; pre-refresh is best-effort by design.
//
// ctx is the context the task will run under; callers must pass a context
// detached from the triggering request, since the task is expected to
// outlive it.
func (s *Scheduler) Submit(ctx context.Context, cache, storageKey string, task func(context.Context)) bool {
	if s.closed.Load() {
		return false
	}
	if _, loaded := s.inFlight.LoadOrStore(storageKey, struct{}{}); loaded {
		return false
	}
	if s.opts.limiter != nil && s.opts.limitPerSec > 0 {
		res, err := s.opts.limiter.Allow(ctx, cache, redis_rate.PerSecond(s.opts.limitPerSec))
		if err != nil || res.Allowed == 0 {
			s.inFlight.Delete(storageKey)
			s.opts.logger.Warn(ctx, "xrefresh: throttled refresh dispatch", "cache", cache, "key", storageKey)
			return false
		}
	}
	select {
	case s.queue <- job{key: storageKey, ctx: ctx, task: task}:
		return true
	default:
		s.inFlight.Delete(storageKey)
		s.opts.logger.Warn(ctx, "xrefresh: queue full, dropping refresh task", "key", storageKey)
		return false
	}
}

func (s *Scheduler) dispatch() {
	for {
		// Wait for a free worker before taking a job, so pending jobs stay in
		// the queue and its capacity is the real bound on waiting tasks.
		if err := s.sem.Acquire(s.root, 1); err != nil {
			return
		}
		select {
		case <-s.root.Done():
			s.sem.Release(1)
			return
		case j, ok := <-s.queue:
			if !ok {
				s.sem.Release(1)
				return
			}
			s.group.Go(func() error {
				defer s.sem.Release(1)
				defer s.inFlight.Delete(j.key)
				j.task(j.ctx)
				return nil
			})
		}
	}
}

// Close stops accepting new submissions and waits up to the configured
// drain timeout (or until ctx is done, whichever comes first) for in-flight
// tasks to finish, then abandons whatever is left.
func (s *Scheduler) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.queue)
	})

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.opts.drainTimeout):
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}
