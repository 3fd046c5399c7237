package cache

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemory(t *testing.T, maxEntries int) (*Memory, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemory(maxEntries, time.Hour, WithClock(clock.Now))
	t.Cleanup(m.Close)
	return m, clock
}

func TestKey(t *testing.T) {
	a := Key("/api/mortgage-deeds", url.Values{"page": {"2"}, "deed_status": {"CREATED"}})
	b := Key("/api/mortgage-deeds", url.Values{"deed_status": {"CREATED"}, "page": {"2"}})

	assert.Equal(t, a, b)
	assert.Equal(t, "/api/mortgage-deeds?deed_status=CREATED&page=2", a)
	assert.Equal(t, "/api/statistics/summary", Key("/api/statistics/summary", nil))
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory(t, 0)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), DefaultTTL))

	clock.Advance(DefaultTTL - time.Second)
	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	clock.Advance(time.Second)
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry at exactly TTL must not be returned")
}

func TestMemoryInvalidatePrefix(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(t, 0)

	for _, k := range []string{
		"/api/mortgage-deeds?page=1",
		"/api/mortgage-deeds/4",
		"/api/housing-cooperatives?page=1",
	} {
		require.NoError(t, m.Set(ctx, k, []byte("x"), time.Minute))
	}

	require.NoError(t, m.InvalidatePrefix(ctx, "/api/mortgage-deeds"))

	_, ok, _ := m.Get(ctx, "/api/mortgage-deeds?page=1")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "/api/mortgage-deeds/4")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "/api/housing-cooperatives?page=1")
	assert.True(t, ok)
}

func TestMemoryEviction(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory(t, 2)

	require.NoError(t, m.Set(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "long", []byte("2"), time.Hour))

	clock.Advance(time.Second)
	require.NoError(t, m.Set(ctx, "new", []byte("3"), time.Hour))

	assert.Equal(t, 2, m.Len())
	_, ok, _ := m.Get(ctx, "short")
	assert.False(t, ok, "entry closest to expiry is evicted first")
	_, ok, _ = m.Get(ctx, "long")
	assert.True(t, ok)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(t, 0)

	type summary struct {
		TotalDeeds int `json:"total_deeds"`
	}
	require.NoError(t, SetJSON(ctx, m, "s", summary{TotalDeeds: 12}, time.Minute))

	got, ok, err := GetJSON[summary](ctx, m, "s")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 12, got.TotalDeeds)

	_, ok, err = GetJSON[summary](ctx, m, "missing")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `kolibri:/api/deeds\?page=\[1\]`, escapeGlob("kolibri:/api/deeds?page=[1]"))
}

func TestMemorySetIfCurrent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(t, 0)
	testSetIfCurrent(t, ctx, m)
}

// testSetIfCurrent checks that a value read before an invalidation of its
// prefix is not written back, while unrelated keys are unaffected.
func testSetIfCurrent(t *testing.T, ctx context.Context, s Versioned) {
	t.Helper()
	deed := "/api/mortgage-deeds/4|u1"
	coop := "/api/housing-cooperatives?page=1|u1"

	deedGen := s.Generation(deed)
	coopGen := s.Generation(coop)

	require.NoError(t, s.InvalidatePrefix(ctx, "/api/mortgage-deeds"))
	assert.NotEqual(t, deedGen, s.Generation(deed))
	assert.Equal(t, coopGen, s.Generation(coop))

	stored, err := SetJSONIfCurrent(ctx, s, deed, deedGen, "before-delete", time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)
	_, ok, err := s.Get(ctx, deed)
	require.NoError(t, err)
	assert.False(t, ok, "stale read must not be cached")

	stored, err = SetJSONIfCurrent(ctx, s, coop, coopGen, "page", time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = SetJSONIfCurrent(ctx, s, deed, s.Generation(deed), "after-delete", time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)
	got, ok, err := GetJSON[string](ctx, s, deed)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "after-delete", got)
}

func TestGenerationsOfPlainStore(t *testing.T) {
	assert.Equal(t, uint64(0), Generation(nil, "k"))

	var g Generations
	assert.Equal(t, uint64(0), g.Of("/api/statistics/summary"))
	g.Bump("/api/statistics")
	g.Bump("/api")
	assert.Equal(t, uint64(2), g.Of("/api/statistics/summary"))
	assert.Equal(t, uint64(1), g.Of("/api/mortgage-deeds"))

	ran, err := g.Guard("/api/mortgage-deeds", 0, func() error { return nil })
	require.NoError(t, err)
	assert.False(t, ran)
}

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), RedisOptions{Addr: mr.Addr(), Namespace: "kolibri-test"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRedis(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	keys := []string{"/api/housing-cooperatives"}
	for i := 0; i < 450; i++ {
		keys = append(keys, fmt.Sprintf("/api/mortgage-deeds?page=%d", i))
	}
	for _, k := range keys {
		require.NoError(t, r.Set(ctx, k, []byte("a"), time.Minute))
	}

	got, ok, err := r.Get(ctx, "/api/mortgage-deeds?page=1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("a"), got)

	// More keys than one SCAN batch.
	require.NoError(t, r.InvalidatePrefix(ctx, "/api/mortgage-deeds"))
	for _, k := range keys[1:] {
		_, ok, err = r.Get(ctx, k)
		require.NoError(t, err)
		require.False(t, ok, k)
	}
	_, ok, _ = r.Get(ctx, "/api/housing-cooperatives")
	assert.True(t, ok)

	require.NoError(t, r.Delete(ctx, "/api/housing-cooperatives"))
	_, ok, _ = r.Get(ctx, "/api/housing-cooperatives")
	assert.False(t, ok)
	assert.NoError(t, r.Ping(ctx))
}

func TestRedisSetIfCurrent(t *testing.T) {
	testSetIfCurrent(t, context.Background(), newTestRedis(t))
}
