// Package fetch wraps a producer function with loading and error state,
// keyed caching, bounded retry, periodic refetch and cancellation.
//
// A Query is the Go counterpart of a mounted data hook: Start mounts it,
// Close unmounts it. Each Query runs at most one load at a time; starting a
// new load aborts the previous one, and nothing is applied or reported once
// Close has returned.
package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"kolibri/internal/cache"
	"kolibri/internal/retry"
	"kolibri/internal/utils"
)

// ErrClosed is returned by Refetch after Close.
var ErrClosed = errors.New("fetch: query closed")

// ErrDisabled is returned by Refetch while the query is disabled.
var ErrDisabled = errors.New("fetch: query disabled")

// Producer loads the value. It must honour ctx cancellation.
type Producer[T any] func(ctx context.Context) (T, error)

// Options configures a Query. The zero value is enabled, retries on error
// with retry.DefaultPolicy, and neither caches nor polls.
type Options[T any] struct {
	OnSuccess func(T)
	OnError   func(*utils.APIError)

	// Disabled keeps the query idle until SetEnabled(true).
	Disabled bool

	// CacheKey and Cache serve the first load from a fresh cached value
	// without calling the producer. Successful loads are written back.
	CacheKey string
	Cache    cache.Store
	CacheTTL time.Duration

	// RefetchInterval re-runs the producer on a fixed timer while enabled.
	RefetchInterval time.Duration

	// NoRetry turns off retry-on-error.
	NoRetry bool
	Retry   retry.Policy

	Logger *zap.Logger
}

// State is a snapshot of a Query.
type State[T any] struct {
	Data      T
	HasData   bool
	IsLoading bool
	Err       *utils.APIError
	UpdatedAt time.Time
}

// Query is a single data source with its own lifecycle.
type Query[T any] struct {
	producer Producer[T]
	opts     Options[T]
	logger   *zap.Logger

	base       context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	mu         sync.Mutex
	state      State[T]
	enabled    bool
	started    bool
	closed     bool
	gen        uint64
	cancel     context.CancelFunc
	failures   int
	retryTimer *time.Timer
	retrySeq   uint64
	stopTicker chan struct{}
}

// New creates an idle Query. Nothing runs until Start.
func New[T any](producer Producer[T], opts Options[T]) *Query[T] {
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = cache.DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Query[T]{
		producer:   producer,
		opts:       opts,
		logger:     logger,
		base:       base,
		cancelBase: cancel,
		enabled:    !opts.Disabled,
	}
}

// Start performs the initial load in the background and starts the refetch
// timer. It is a no-op if the query is disabled, already started or closed.
func (q *Query[T]) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	if q.enabled {
		q.activateLocked()
	}
}

// Refetch runs the producer now, bypassing the cache, and waits for it.
// A superseded or canceled load returns context.Canceled.
func (q *Query[T]) Refetch(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if !q.enabled {
		q.mu.Unlock()
		return ErrDisabled
	}
	q.failures = 0
	q.mu.Unlock()
	return q.load(ctx, false)
}

// ClearError drops the stored error without touching the data.
func (q *Query[T]) ClearError() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state.Err = nil
}

// SetEnabled flips the enabled flag. Enabling a started query re-enters
// loading and starts the timer; disabling aborts in-flight work.
func (q *Query[T]) SetEnabled(enabled bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.enabled == enabled {
		return
	}
	q.enabled = enabled
	if !q.started {
		return
	}
	if enabled {
		q.activateLocked()
		return
	}
	q.deactivateLocked()
}

// Snapshot returns the current state.
func (q *Query[T]) Snapshot() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Close aborts in-flight work, stops the timers and waits for background
// goroutines. Callbacks must not call Close.
func (q *Query[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.deactivateLocked()
	q.mu.Unlock()

	q.cancelBase()
	q.wg.Wait()
}

func (q *Query[T]) activateLocked() {
	q.failures = 0
	q.spawnLocked(true)
	if q.opts.RefetchInterval > 0 && q.stopTicker == nil {
		q.stopTicker = make(chan struct{})
		q.wg.Add(1)
		go q.tick(q.opts.RefetchInterval, q.stopTicker)
	}
}

func (q *Query[T]) deactivateLocked() {
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	q.stopRetryLocked()
	if q.stopTicker != nil {
		close(q.stopTicker)
		q.stopTicker = nil
	}
	q.state.IsLoading = false
}

// spawnLocked starts a background load. The caller holds q.mu.
func (q *Query[T]) spawnLocked(useCache bool) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.load(nil, useCache); err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Debug("background load failed", zap.Error(err))
		}
	}()
}

func (q *Query[T]) tick(every time.Duration, stop <-chan struct{}) {
	defer q.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-q.base.Done():
			return
		case <-ticker.C:
			_ = q.load(nil, false)
		}
	}
}

// load runs one producer call and applies its outcome. parent, when set,
// also cancels the call.
func (q *Query[T]) load(parent context.Context, useCache bool) error {
	q.mu.Lock()
	if q.closed || !q.enabled {
		q.mu.Unlock()
		return context.Canceled
	}
	if q.cancel != nil {
		q.cancel()
	}
	q.stopRetryLocked()
	ctx, cancel := context.WithCancel(q.base)
	q.gen++
	gen := q.gen
	q.cancel = cancel
	q.state.IsLoading = true
	q.state.Err = nil
	q.wg.Add(1)
	q.mu.Unlock()
	defer q.wg.Done()
	defer cancel()

	if parent != nil {
		stop := context.AfterFunc(parent, cancel)
		defer stop()
	}

	if useCache && q.opts.Cache != nil && q.opts.CacheKey != "" {
		cached, ok, err := cache.GetJSON[T](ctx, q.opts.Cache, q.opts.CacheKey)
		if err != nil {
			q.logger.Debug("cache read failed", zap.String("key", q.opts.CacheKey), zap.Error(err))
		}
		if ok {
			return q.succeed(gen, cached, 0, false)
		}
	}

	cacheGen := cache.Generation(q.opts.Cache, q.opts.CacheKey)
	result, err := q.producer(ctx)
	if err == nil {
		return q.succeed(gen, result, cacheGen, true)
	}
	if utils.IsCanceled(err) || (ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded)) {
		return q.canceled(gen)
	}
	return q.fail(gen, err)
}

// succeed publishes result. When store is set it is cached unless the key
// was invalidated after cacheGen was read.
func (q *Query[T]) succeed(gen uint64, result T, cacheGen uint64, store bool) error {
	q.mu.Lock()
	if q.closed || gen != q.gen {
		q.mu.Unlock()
		return context.Canceled
	}
	q.state.Data = result
	q.state.HasData = true
	q.state.IsLoading = false
	q.state.Err = nil
	q.state.UpdatedAt = time.Now()
	q.failures = 0
	q.cancel = nil
	q.mu.Unlock()

	if store && q.opts.Cache != nil && q.opts.CacheKey != "" {
		stored, err := cache.SetJSONIfCurrent(q.base, q.opts.Cache, q.opts.CacheKey, cacheGen, result, q.opts.CacheTTL)
		switch {
		case err != nil:
			q.logger.Debug("cache write failed", zap.String("key", q.opts.CacheKey), zap.Error(err))
		case !stored:
			q.logger.Debug("result overtaken by invalidation, not cached", zap.String("key", q.opts.CacheKey))
		}
	}
	if q.opts.OnSuccess != nil {
		q.opts.OnSuccess(result)
	}
	return nil
}

// canceled settles an aborted load: no error is stored and nothing retries.
func (q *Query[T]) canceled(gen uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if gen == q.gen && !q.closed {
		q.state.IsLoading = false
		q.cancel = nil
	}
	return context.Canceled
}

func (q *Query[T]) fail(gen uint64, err error) error {
	apiErr := utils.Normalize(err)

	q.mu.Lock()
	if q.closed || gen != q.gen {
		q.mu.Unlock()
		return context.Canceled
	}
	q.state.IsLoading = false
	q.state.Err = apiErr
	q.cancel = nil
	q.failures++
	if !q.opts.NoRetry && retry.AnyButAuth(apiErr) && q.failures <= q.opts.Retry.MaxRetries {
		delay := q.opts.Retry.Backoff(q.failures)
		q.logger.Debug("scheduling retry",
			zap.Int("attempt", q.failures),
			zap.Duration("delay", delay),
			zap.Int("status", apiErr.Status),
		)
		q.retrySeq++
		seq := q.retrySeq
		q.retryTimer = time.AfterFunc(delay, func() { q.retryNow(seq) })
	}
	q.mu.Unlock()

	if q.opts.OnError != nil {
		q.opts.OnError(apiErr)
	}
	return apiErr
}

func (q *Query[T]) retryNow(seq uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || !q.enabled || seq != q.retrySeq || q.retryTimer == nil {
		return
	}
	q.retryTimer = nil
	q.spawnLocked(false)
}

func (q *Query[T]) stopRetryLocked() {
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	q.retrySeq++
}
