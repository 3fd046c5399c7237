package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolibri/internal/cache"
	"kolibri/internal/devbackend"
	"kolibri/internal/models"
	"kolibri/internal/retry"
	"kolibri/internal/utils"
)

type harness struct {
	backend *devbackend.Backend
	srv     *httptest.Server
	cache   *cache.Memory
	client  *Client
	coop    *models.HousingCooperative
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newWrappedHarness(t, nil)
}

// newWrappedHarness serves the backend through wrap when it is set.
func newWrappedHarness(t *testing.T, wrap func(http.Handler) http.Handler) *harness {
	t.Helper()
	b := devbackend.New(devbackend.Options{})
	var h http.Handler = b
	if wrap != nil {
		h = wrap(b)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	mem := cache.NewMemory(100, 0)
	t.Cleanup(mem.Close)

	c, err := New(Config{
		BaseURL: srv.URL,
		Cache:   mem,
		Retry:   retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	require.NoError(t, err)

	_, err = b.SeedUser("bank@example.se", "secret123", models.User{Role: models.RoleBankUser})
	require.NoError(t, err)
	token := login(t, srv.URL, "bank@example.se", "secret123")

	coop, err := b.SeedCooperative(devbackend.SampleCooperative())
	require.NoError(t, err)

	return &harness{backend: b, srv: srv, cache: mem, client: c.ForUser("u1", token), coop: coop}
}

func login(t *testing.T, base, email, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(base+devbackend.AuthPrefix+"/token?grant_type=password", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
	return tok.AccessToken
}

func TestDeedCRUD(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d := devbackend.SampleDeed(h.coop.ID)
	created, err := h.client.CreateDeed(ctx, &d)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, models.StatusCreated, created.Status)

	got, err := h.client.GetDeed(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "BRF Solrosen", got.HousingCooperative.Name)

	got.Notes = "updated"
	got.HousingCooperative = nil
	updated, err := h.client.UpdateDeed(ctx, created.ID, got)
	require.NoError(t, err)
	assert.Equal(t, "updated", updated.Notes)

	logs, err := h.client.AuditLogs(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuditDeedCreated, logs[0].ActionType)

	require.NoError(t, h.client.DeleteDeed(ctx, created.ID))
	_, err = h.client.GetDeed(ctx, created.ID)
	assert.True(t, utils.IsNotFound(err))
}

func TestInvalidDeedNeverReachesBackend(t *testing.T) {
	h := newHarness(t)
	d := devbackend.SampleDeed(h.coop.ID)
	d.Borrowers[1].OwnershipPercentage = 30

	_, err := h.client.CreateDeed(context.Background(), &d)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, h.backend.Requests(http.MethodPost, "/api/mortgage-deeds/create"))
}

func TestReadsAreCachedAndMutationsInvalidate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const listPath = "/api/mortgage-deeds"

	_, err := h.client.ListDeeds(ctx, models.DeedFilters{})
	require.NoError(t, err)
	page, err := h.client.ListDeeds(ctx, models.DeedFilters{})
	require.NoError(t, err)
	assert.Empty(t, page.Deeds)
	assert.Equal(t, 1, h.backend.Requests(http.MethodGet, listPath), "second read served from cache")

	_, err = h.client.Summary(ctx)
	require.NoError(t, err)

	d := devbackend.SampleDeed(h.coop.ID)
	_, err = h.client.CreateDeed(ctx, &d)
	require.NoError(t, err)

	page, err = h.client.ListDeeds(ctx, models.DeedFilters{})
	require.NoError(t, err)
	assert.Len(t, page.Deeds, 1)
	assert.Equal(t, 1, page.Pagination.TotalCount)
	assert.Equal(t, 2, h.backend.Requests(http.MethodGet, listPath))

	s, err := h.client.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalDeeds, "statistics are invalidated by deed writes")
}

// holdFirstDeedRead answers the first single-deed GET with the body the
// backend produced at arrival time, but only once release is closed.
func holdFirstDeedRead(entered chan<- struct{}, release <-chan struct{}) func(http.Handler) http.Handler {
	var once sync.Once
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hold := false
			if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/mortgage-deeds/") &&
				!strings.Contains(r.URL.Path, "audit") {
				once.Do(func() { hold = true })
			}
			if !hold {
				next.ServeHTTP(w, r)
				return
			}
			rec := httptest.NewRecorder()
			next.ServeHTTP(rec, r)
			close(entered)
			<-release
			for k, v := range rec.Header() {
				w.Header()[k] = v
			}
			w.WriteHeader(rec.Code)
			_, _ = w.Write(rec.Body.Bytes())
		})
	}
}

func TestReadInFlightAcrossDeleteIsNotReused(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := newWrappedHarness(t, holdFirstDeedRead(entered, release))
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	ctx := context.Background()

	d := devbackend.SampleDeed(h.coop.ID)
	created, err := h.client.CreateDeed(ctx, &d)
	require.NoError(t, err)

	type result struct {
		deed *models.MortgageDeed
		err  error
	}
	first := make(chan result, 1)
	go func() {
		got, err := h.client.GetDeed(ctx, created.ID)
		first <- result{got, err}
	}()
	<-entered

	require.NoError(t, h.client.DeleteDeed(ctx, created.ID))

	// A read started after the delete must not join the stale one.
	second := make(chan error, 1)
	go func() {
		_, err := h.client.GetDeed(ctx, created.ID)
		second <- err
	}()
	select {
	case err := <-second:
		assert.True(t, utils.IsNotFound(err), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("read after delete waited on the read started before it")
	}

	unblock()
	r := <-first
	require.NoError(t, r.err)
	assert.Equal(t, created.ID, r.deed.ID)

	_, err = h.client.GetDeed(ctx, created.ID)
	assert.True(t, utils.IsNotFound(err), "stale read was cached: %v", err)
	assert.Equal(t, 3, h.backend.Requests(http.MethodGet, deedPath(created.ID)))
}

func TestCachedPaginationSurvives(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.backend.SeedDeed(devbackend.SampleDeed(h.coop.ID))
		require.NoError(t, err)
	}

	first, err := h.client.ListDeeds(ctx, models.DeedFilters{PageSize: 2})
	require.NoError(t, err)
	second, err := h.client.ListDeeds(ctx, models.DeedFilters{PageSize: 2})
	require.NoError(t, err)

	assert.Equal(t, models.Pagination{TotalCount: 3, TotalPages: 2, CurrentPage: 1, PageSize: 2}, second.Pagination)
	assert.Equal(t, first.Pagination, second.Pagination)
}

func TestCacheIsScopedPerUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.Summary(ctx)
	require.NoError(t, err)

	_, err = h.backend.SeedUser("other@example.se", "secret123", models.User{Role: models.RoleBankUser})
	require.NoError(t, err)
	other := h.client.ForUser("u2", login(t, h.srv.URL, "other@example.se", "secret123"))
	_, err = other.Summary(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, h.backend.Requests(http.MethodGet, "/api/statistics/summary"))
}

func TestTransientFailuresAreRetried(t *testing.T) {
	h := newHarness(t)
	h.backend.FailNext(http.StatusServiceUnavailable, http.StatusBadGateway)

	_, err := h.client.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, h.backend.Requests(http.MethodGet, "/api/statistics/summary"))
}

func TestRetryBudgetIsBounded(t *testing.T) {
	h := newHarness(t)
	h.backend.FailNext(500, 500, 500, 500, 500)

	_, err := h.client.Summary(context.Background())
	assert.Equal(t, http.StatusInternalServerError, utils.StatusOf(err))
	assert.Equal(t, 3, h.backend.Requests(http.MethodGet, "/api/statistics/summary"))
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	h := newHarness(t)
	anon := h.client.ForUser("u1", "not-a-token")

	_, err := anon.Summary(context.Background())
	assert.True(t, utils.IsUnauthorized(err))
	assert.Equal(t, 1, h.backend.Requests(http.MethodGet, "/api/statistics/summary"))
}

func TestMutationsAreNotRetried(t *testing.T) {
	h := newHarness(t)
	h.backend.FailNext(http.StatusServiceUnavailable)

	d := devbackend.SampleDeed(h.coop.ID)
	_, err := h.client.CreateDeed(context.Background(), &d)
	assert.Equal(t, http.StatusServiceUnavailable, utils.StatusOf(err))
	assert.Equal(t, 1, h.backend.Requests(http.MethodPost, "/api/mortgage-deeds/create"))
}

func TestNoTokenSource(t *testing.T) {
	c, err := New(Config{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = c.ListDeeds(context.Background(), models.DeedFilters{})
	assert.True(t, utils.IsUnauthorized(err))
}

func TestTimeoutAndCancellation(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(release) })

	c, err := New(Config{BaseURL: slow.URL, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	c = c.ForUser("u1", "tok")

	_, err = c.Summary(context.Background())
	assert.Equal(t, http.StatusRequestTimeout, utils.StatusOf(err))

	c.timeout = 5 * time.Second
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = c.Summary(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestConcurrentReadsCollapse(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	gate := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		<-gate
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total_deeds":4}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	c = c.ForUser("u1", "tok")

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := c.Summary(context.Background())
			if err == nil {
				results[i] = s.TotalDeeds
			}
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, []int{4, 4, 4, 4, 4}, results)
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, hits, 5)
	assert.GreaterOrEqual(t, hits, 1)
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"message":"Deed is locked"}`, "Deed is locked"},
		{`{"detail":"Not authenticated"}`, "Not authenticated"},
		{`{"detail":[{"msg":"a"},{"msg":"b"}]}`, "a; b"},
		{`{"error":"boom"}`, "boom"},
		{`<html>`, "Request failed: Bad Gateway"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorMessage(http.StatusBadGateway, []byte(tt.body)), tt.body)
	}
}
