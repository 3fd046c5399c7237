// Package cache holds short-lived copies of backend responses keyed by
// request path and query, with prefix invalidation after mutations.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long a cached response stays fresh.
const DefaultTTL = 5 * time.Minute

// Store is a TTL cache of opaque values. Writes are last-write-wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// InvalidatePrefix drops every key starting with prefix.
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// Key builds the cache key for a request. url.Values.Encode sorts by name,
// so equal parameter sets always produce the same key.
func Key(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

// GetJSON decodes a cached value into T.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var out T
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return out, true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw, ttl)
}

// Versioned is a Store that counts invalidations, so a read that started
// before an invalidation can avoid writing its now stale result back.
type Versioned interface {
	Store
	// Generation returns the number of invalidations that covered key.
	Generation(key string) uint64
	// SetIfCurrent stores value only while key is still at generation gen.
	SetIfCurrent(ctx context.Context, key string, gen uint64, value []byte, ttl time.Duration) (bool, error)
}

// Generation returns key's generation in s, or 0 if s does not track them.
func Generation(s Store, key string) uint64 {
	if v, ok := s.(Versioned); ok {
		return v.Generation(key)
	}
	return 0
}

// SetJSONIfCurrent is SetJSON for a value read at generation gen. It reports
// false, storing nothing, if key was invalidated since.
func SetJSONIfCurrent(ctx context.Context, s Store, key string, gen uint64, v any, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("cache encode %s: %w", key, err)
	}
	if vs, ok := s.(Versioned); ok {
		return vs.SetIfCurrent(ctx, key, gen, raw, ttl)
	}
	return true, s.Set(ctx, key, raw, ttl)
}

// Generations counts invalidations per prefix. A key's generation is the
// sum over the prefixes it starts with, so it only ever grows.
type Generations struct {
	mu       sync.RWMutex
	byPrefix map[string]uint64
}

// Of returns key's current generation.
func (g *Generations) Of(key string) uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ofLocked(key)
}

func (g *Generations) ofLocked(key string) uint64 {
	var n uint64
	for p, c := range g.byPrefix {
		if strings.HasPrefix(key, p) {
			n += c
		}
	}
	return n
}

// Bump records an invalidation of prefix. Callers bump before deleting
// entries, so a Guard write either sees the new generation or lands before
// the delete.
func (g *Generations) Bump(prefix string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.byPrefix == nil {
		g.byPrefix = make(map[string]uint64)
	}
	g.byPrefix[prefix]++
}

// Guard runs write if key is still at generation gen. No Bump can happen
// while write runs.
func (g *Generations) Guard(key string, gen uint64, write func() error) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.ofLocked(key) != gen {
		return false, nil
	}
	return true, write()
}
