package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"kolibri/internal/utils"
)

// Paths the gate redirects to.
const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

var publicRoutes = []string{"/", "/login", "/signup", "/logout"}

// Prefixes served without a session: signing links, probes and assets.
var publicPrefixes = []string{"/sign/", "/health", "/ready", "/static/"}

// IsPublic reports whether path is reachable without signing in. A route
// covers itself and everything below it; "/" covers only the root.
func IsPublic(path string) bool {
	for _, r := range publicRoutes {
		if path == r {
			return true
		}
		if r != "/" && strings.HasPrefix(path, r+"/") {
			return true
		}
	}
	for _, p := range publicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// isAuthPage reports whether path is a sign-in or sign-up page, which a
// signed-in user has no business seeing.
func isAuthPage(path string) bool {
	path = strings.TrimSuffix(path, "/")
	return path == "/login" || path == "/signup"
}

type sessionKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session stored by the gate, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}

// Gate guards every request: it resolves and refreshes the session, sends
// anonymous visitors of protected pages to the login page and keeps signed
// in users away from the login and signup pages.
type Gate struct {
	store   *CookieStore
	manager *Manager
	errors  *utils.ErrorHandler
	logger  *zap.Logger
}

// NewGate creates a Gate.
func NewGate(store *CookieStore, manager *Manager, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{store: store, manager: manager, errors: utils.NewErrorHandler(logger), logger: logger}
}

// Middleware returns the gate as HTTP middleware.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := g.resolve(w, r)
		path := r.URL.Path

		if IsPublic(path) {
			if sess != nil && isAuthPage(path) {
				http.Redirect(w, r, DashboardPath, http.StatusFound)
				return
			}
			if sess != nil {
				r = r.WithContext(WithSession(r.Context(), sess))
			}
			next.ServeHTTP(w, r)
			return
		}

		if sess == nil {
			g.store.Clear(w)
			if strings.HasPrefix(path, "/api/") {
				g.errors.HandleError(w, r, utils.NewAPIError(http.StatusUnauthorized, "Unauthorized: No session found"))
				return
			}
			http.Redirect(w, r, LoginPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

// resolve loads the request's session and refreshes it if needed. A
// refreshed session is written back; an unusable one is cleared.
func (g *Gate) resolve(w http.ResponseWriter, r *http.Request) *Session {
	sess, err := g.store.Load(r)
	if err != nil {
		return nil
	}
	fresh, refreshed, err := g.manager.Ensure(r.Context(), sess)
	if err != nil {
		g.store.Clear(w)
		return nil
	}
	if refreshed {
		if err := g.store.Save(w, fresh); err != nil {
			g.logger.Error("failed to persist refreshed session", zap.Error(err))
		}
	}
	return fresh
}
