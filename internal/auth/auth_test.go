package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolibri/internal/crypto"
	"kolibri/internal/devbackend"
	"kolibri/internal/models"
	"kolibri/internal/utils"
)

const anonKey = "anon-key"

func newAuthClient(t *testing.T) (*Client, *devbackend.Backend) {
	t.Helper()
	b := devbackend.New(devbackend.Options{AnonKey: anonKey})
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{URL: srv.URL + devbackend.AuthPrefix, AnonKey: anonKey})
	require.NoError(t, err)
	return c, b
}

func TestIsPublic(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/login", true},
		{"/login/", true},
		{"/signup", true},
		{"/logout", true},
		{"/sign/abc123", true},
		{"/health", true},
		{"/static/app.css", true},
		{"/dashboard", false},
		{"/loginx", false},
		{"/login/extra", true},
		{"/login/callback", true},
		{"/signup/confirm", true},
		{"/logout/all", true},
		{"/signupx", false},
		{"/dashboard/", false},
		{"/api/me", false},
		{"/skapa-pantbrev", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPublic(tt.path), tt.path)
	}
}

func TestClientSignInFlow(t *testing.T) {
	c, b := newAuthClient(t)
	ctx := context.Background()
	_, err := b.SeedUser("eva@bank.se", "hunter22", models.User{
		Role: models.RoleBankUser, UserName: "Eva", BankName: "Nordbanken", BankID: "12345678",
	})
	require.NoError(t, err)

	_, err = c.SignIn(ctx, "eva@bank.se", "wrong")
	assert.Same(t, ErrInvalidCredentials, err)

	sess, err := c.SignIn(ctx, "eva@bank.se", "hunter22")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.AccessToken)
	assert.NotEmpty(t, sess.RefreshToken)
	assert.Equal(t, "Eva", sess.User.UserName)
	assert.Equal(t, "Nordbanken", sess.User.BankName)
	assert.Equal(t, models.RoleBankUser, sess.User.Role)
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, time.Minute)

	u, err := c.User(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, u.ID)

	next, err := c.Refresh(ctx, sess.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, sess.AccessToken, next.AccessToken)

	_, err = c.Refresh(ctx, sess.RefreshToken)
	assert.Same(t, ErrRefreshFailed, err)

	require.NoError(t, c.SignOut(ctx, next.AccessToken))
	_, err = c.User(ctx, next.AccessToken)
	assert.True(t, utils.IsUnauthorized(err))
}

func TestClientRejectsWrongAPIKey(t *testing.T) {
	_, b := newAuthClient(t)
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	c, err := NewClient(ClientConfig{URL: srv.URL + devbackend.AuthPrefix, AnonKey: "nope"})
	require.NoError(t, err)

	_, err = c.SignUp(context.Background(), SignUpRequest{Email: "a@b.se", Password: "secret1"})
	assert.True(t, utils.IsUnauthorized(err))
}

func TestSignUp(t *testing.T) {
	c, _ := newAuthClient(t)
	ctx := context.Background()

	u, err := c.SignUp(ctx, SignUpRequest{Email: "new@bank.se", Password: "secret1", UserName: "Nils", Phone: "0701234567"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleBankUser, u.Role)
	assert.Equal(t, "0701234567", u.Phone)
	assert.Regexp(t, regexp.MustCompile(`^[1-9]\d{7}$`), u.BankID)

	_, err = c.SignUp(ctx, SignUpRequest{Email: "new@bank.se", Password: "secret1"})
	assert.Equal(t, http.StatusUnprocessableEntity, utils.StatusOf(err))

	_, err = c.SignUp(ctx, SignUpRequest{Email: "short@bank.se", Password: "123"})
	assert.Equal(t, http.StatusBadRequest, utils.StatusOf(err))

	coop, err := c.SignUp(ctx, SignUpRequest{Email: "board@brf.se", Password: "secret1", Role: models.RoleCooperativeAdmin})
	require.NoError(t, err)
	assert.Empty(t, coop.BankID)
}

func TestCookieStore(t *testing.T) {
	key := crypto.GenerateMasterKey()
	store, err := NewCookieStore("kolibri_session", true, key)
	require.NoError(t, err)

	sess := &Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		User:         models.User{ID: "u1", Role: models.RoleAccountingFirm},
	}
	w := httptest.NewRecorder()
	require.NoError(t, store.Save(w, sess))
	cookie := w.Result().Cookies()[0]
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.NotContains(t, cookie.Value, "access")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookie)
	got, err := store.Load(r)
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	t.Run("tampered cookie is no session", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		b := []byte(cookie.Value)
		if b[10] == 'A' {
			b[10] = 'B'
		} else {
			b[10] = 'A'
		}
		r.AddCookie(&http.Cookie{Name: "kolibri_session", Value: string(b)})
		_, err := store.Load(r)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("cookie from another key is no session", func(t *testing.T) {
		other, err := NewCookieStore("kolibri_session", true, crypto.GenerateMasterKey())
		require.NoError(t, err)
		_, err = other.Load(r)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

type fakeProvider struct {
	calls   atomic.Int32
	delay   time.Duration
	err     error
	expires time.Time
}

func (p *fakeProvider) Refresh(_ context.Context, refreshToken string) (*Session, error) {
	p.calls.Add(1)
	time.Sleep(p.delay)
	if p.err != nil {
		return nil, p.err
	}
	return &Session{AccessToken: "new-" + refreshToken, RefreshToken: "r2", ExpiresAt: p.expires}, nil
}

type countingRecorder struct {
	mu      sync.Mutex
	ok, bad int
}

func (r *countingRecorder) SessionRefreshed(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.ok++
	} else {
		r.bad++
	}
}

func TestManagerEnsure(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("fresh session is kept", func(t *testing.T) {
		p := &fakeProvider{}
		m := NewManager(p, 5*time.Minute, WithClock(clock))
		s := &Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(time.Hour)}

		got, refreshed, err := m.Ensure(context.Background(), s)
		require.NoError(t, err)
		assert.False(t, refreshed)
		assert.Same(t, s, got)
		assert.Zero(t, p.calls.Load())
	})

	t.Run("session near expiry is refreshed once for concurrent callers", func(t *testing.T) {
		p := &fakeProvider{delay: 100 * time.Millisecond, expires: now.Add(time.Hour)}
		rec := &countingRecorder{}
		m := NewManager(p, 5*time.Minute, WithClock(clock), WithRecorder(rec))
		s := &Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(time.Minute)}

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, refreshed, err := m.Ensure(context.Background(), s)
				assert.NoError(t, err)
				assert.True(t, refreshed)
				assert.Equal(t, "new-r", got.AccessToken)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), p.calls.Load())
	})

	t.Run("rejected refresh expires the session", func(t *testing.T) {
		rec := &countingRecorder{}
		m := NewManager(&fakeProvider{err: ErrRefreshFailed}, 5*time.Minute, WithClock(clock), WithRecorder(rec))
		s := &Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(time.Minute)}

		_, _, err := m.Ensure(context.Background(), s)
		assert.ErrorIs(t, err, ErrSessionExpired)
		assert.Equal(t, 1, rec.bad)
	})

	t.Run("any refresh failure expires the session", func(t *testing.T) {
		down := utils.NewAPIError(http.StatusServiceUnavailable, "authentication service unavailable")
		rec := &countingRecorder{}
		m := NewManager(&fakeProvider{err: down}, 5*time.Minute, WithClock(clock), WithRecorder(rec))
		s := &Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(time.Minute)}

		got, refreshed, err := m.Ensure(context.Background(), s)
		assert.ErrorIs(t, err, ErrSessionExpired)
		assert.False(t, refreshed)
		assert.Nil(t, got)
		assert.Equal(t, 1, rec.bad)
	})
}

type gateFixture struct {
	store    *CookieStore
	provider *fakeProvider
	handler  http.Handler
	now      time.Time
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	store, err := NewCookieStore("kolibri_session", false, crypto.GenerateMasterKey())
	require.NoError(t, err)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &fakeProvider{expires: now.Add(time.Hour)}
	m := NewManager(p, 5*time.Minute, WithClock(func() time.Time { return now }))

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s, ok := FromContext(r.Context()); ok {
			_, _ = w.Write([]byte("hello " + s.User.ID))
			return
		}
		_, _ = w.Write([]byte("hello anonymous"))
	})
	return &gateFixture{store: store, provider: p, handler: NewGate(store, m, nil).Middleware(inner), now: now}
}

func (f *gateFixture) request(t *testing.T, path string, sess *Session) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, path, nil)
	if sess != nil {
		w := httptest.NewRecorder()
		require.NoError(t, f.store.Save(w, sess))
		r.AddCookie(w.Result().Cookies()[0])
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func TestGate(t *testing.T) {
	f := newGateFixture(t)
	valid := &Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: f.now.Add(time.Hour), User: models.User{ID: "u1"}}

	t.Run("anonymous page visit goes to login", func(t *testing.T) {
		w := f.request(t, "/dashboard", nil)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, LoginPath, w.Header().Get("Location"))
	})

	t.Run("anonymous api call is 401 json", func(t *testing.T) {
		w := f.request(t, "/api/me", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), `"error_code":"UNAUTHORIZED"`)
	})

	t.Run("public pages are open", func(t *testing.T) {
		w := f.request(t, "/sign/tok", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "hello anonymous", w.Body.String())
	})

	t.Run("signed in user skips login", func(t *testing.T) {
		w := f.request(t, "/login", valid)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, DashboardPath, w.Header().Get("Location"))
	})

	t.Run("signed in user sees protected page", func(t *testing.T) {
		w := f.request(t, "/dashboard", valid)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "hello u1", w.Body.String())
	})

	t.Run("session near expiry is refreshed and written back", func(t *testing.T) {
		stale := *valid
		stale.ExpiresAt = f.now.Add(time.Minute)
		w := f.request(t, "/dashboard", &stale)
		require.Equal(t, http.StatusOK, w.Code)

		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(cookies[0])
		got, err := f.store.Load(r)
		require.NoError(t, err)
		assert.Equal(t, "new-r", got.AccessToken)
	})

	t.Run("public route subpaths are open", func(t *testing.T) {
		w := f.request(t, "/login/callback", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "hello anonymous", w.Body.String())
	})

	t.Run("refresh against unreachable auth service signs out", func(t *testing.T) {
		f.provider.err = utils.NewAPIError(http.StatusServiceUnavailable, "authentication service unavailable")
		defer func() { f.provider.err = nil }()
		stale := *valid
		stale.ExpiresAt = f.now.Add(time.Minute)

		w := f.request(t, "/dashboard", &stale)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, LoginPath, w.Header().Get("Location"))

		w = f.request(t, "/api/me", &stale)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("garbage cookie is cleared", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/arkiv", nil)
		r.AddCookie(&http.Cookie{Name: "kolibri_session", Value: "garbage"})
		w := httptest.NewRecorder()
		f.handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusFound, w.Code)
		cookies := w.Result().Cookies()
		require.NotEmpty(t, cookies)
		assert.Equal(t, -1, cookies[0].MaxAge)
	})
}
