package auth

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Provider renews sessions. *Client implements it.
type Provider interface {
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
}

// Recorder counts refresh outcomes. *metrics.Metrics implements it.
type Recorder interface {
	SessionRefreshed(ok bool)
}

type nopRecorder struct{}

func (nopRecorder) SessionRefreshed(bool) {}

// Manager keeps sessions fresh: a session close to expiry is refreshed
// before it is used.
type Manager struct {
	provider Provider
	window   time.Duration
	now      func() time.Time
	rec      Recorder
	logger   *zap.Logger
	group    singleflight.Group
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the manager's time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithRecorder reports refresh outcomes to rec.
func WithRecorder(rec Recorder) ManagerOption {
	return func(m *Manager) {
		if rec != nil {
			m.rec = rec
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager that refreshes sessions expiring within
// window.
func NewManager(provider Provider, window time.Duration, opts ...ManagerOption) *Manager {
	m := &Manager{
		provider: provider,
		window:   window,
		now:      time.Now,
		rec:      nopRecorder{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ensure returns a usable session for s. The second result reports whether
// s was replaced by a refreshed session, in which case the caller must
// persist it. Refresh tokens are single use, so concurrent callers holding
// the same session share one refresh. Any failed refresh ends the session.
func (m *Manager) Ensure(ctx context.Context, s *Session) (*Session, bool, error) {
	if s == nil {
		return nil, false, ErrSessionNotFound
	}
	if !s.ExpiresWithin(m.now(), m.window) {
		return s, false, nil
	}

	v, err, _ := m.group.Do(s.RefreshToken, func() (any, error) {
		return m.provider.Refresh(ctx, s.RefreshToken)
	})
	if err != nil {
		m.rec.SessionRefreshed(false)
		m.logger.Info("session refresh failed",
			zap.String("user_id", s.User.ID),
			zap.Error(err))
		return nil, false, ErrSessionExpired
	}
	m.rec.SessionRefreshed(true)
	next := v.(*Session)
	return next, true, nil
}
