package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Memory is an in-process Store.
type Memory struct {
	mu         sync.RWMutex
	data       map[string]*item
	maxEntries int
	now        func() time.Time
	logger     *zap.Logger
	gens       Generations

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type item struct {
	value     []byte
	expiresAt time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithLogger sets the logger used for eviction messages.
func WithLogger(logger *zap.Logger) MemoryOption {
	return func(m *Memory) { m.logger = logger }
}

// NewMemory creates a Memory store holding at most maxEntries values and
// starts its sweeper. Call Close to stop the sweeper.
func NewMemory(maxEntries int, sweepEvery time.Duration, opts ...MemoryOption) *Memory {
	m := &Memory{
		data:       make(map[string]*item),
		maxEntries: maxEntries,
		now:        time.Now,
		logger:     zap.NewNop(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	go m.sweep(sweepEvery)
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.data[key]
	if !ok || !m.now().Before(it.expiresAt) {
		return nil, false, nil
	}
	return it.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[key]; !exists && m.maxEntries > 0 && len(m.data) >= m.maxEntries {
		m.evictLocked()
	}
	m.data[key] = &item{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) InvalidatePrefix(_ context.Context, prefix string) error {
	m.gens.Bump(prefix)
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	return nil
}

func (m *Memory) Generation(key string) uint64 { return m.gens.Of(key) }

func (m *Memory) SetIfCurrent(ctx context.Context, key string, gen uint64, value []byte, ttl time.Duration) (bool, error) {
	return m.gens.Guard(key, gen, func() error { return m.Set(ctx, key, value, ttl) })
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Close stops the sweeper.
func (m *Memory) Close() {
	m.once.Do(func() {
		close(m.stop)
		<-m.done
	})
}

// evictLocked drops expired entries, or the entry closest to expiry if none
// have expired yet.
func (m *Memory) evictLocked() {
	now := m.now()
	var oldestKey string
	var oldest time.Time
	removed := 0
	for k, it := range m.data {
		if !now.Before(it.expiresAt) {
			delete(m.data, k)
			removed++
			continue
		}
		if oldestKey == "" || it.expiresAt.Before(oldest) {
			oldestKey, oldest = k, it.expiresAt
		}
	}
	if removed == 0 && oldestKey != "" {
		delete(m.data, oldestKey)
		m.logger.Debug("cache full, evicted entry", zap.String("key", oldestKey))
	}
}

func (m *Memory) sweep(every time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			now := m.now()
			for k, it := range m.data {
				if !now.Before(it.expiresAt) {
					delete(m.data, k)
				}
			}
			m.mu.Unlock()
		}
	}
}
