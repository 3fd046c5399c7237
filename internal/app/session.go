package app

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"kolibri/internal/auth"
	"kolibri/internal/files"
	"kolibri/internal/utils"
)

// ErrNotSignedIn is returned by every authenticated command before login.
var ErrNotSignedIn = utils.NewAPIError(http.StatusUnauthorized, "not signed in, run `kolibri login` first")

// SessionTokens is the CLI's apiclient.TokenSource. It reads the session
// from the encrypted session file and refreshes it shortly before expiry,
// writing the renewed session back.
type SessionTokens struct {
	file    *files.SessionFile
	manager *auth.Manager
	logger  *zap.Logger

	mu      sync.Mutex
	current *auth.Session
}

// NewSessionTokens creates a token source over file.
func NewSessionTokens(file *files.SessionFile, manager *auth.Manager, logger *zap.Logger) *SessionTokens {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionTokens{file: file, manager: manager, logger: logger}
}

// Session returns the stored session, refreshed if needed.
func (t *SessionTokens) Session(ctx context.Context) (*auth.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		var s auth.Session
		if err := t.file.Load(&s); err != nil {
			if errors.Is(err, files.ErrNoSession) {
				return nil, ErrNotSignedIn
			}
			t.logger.Warn("unreadable session file, signing out", zap.String("path", t.file.Path()), zap.Error(err))
			_ = t.file.Remove()
			return nil, ErrNotSignedIn
		}
		t.current = &s
	}

	s, refreshed, err := t.manager.Ensure(ctx, t.current)
	if err != nil {
		if errors.Is(err, auth.ErrSessionExpired) {
			t.current = nil
			if rmErr := t.file.Remove(); rmErr != nil {
				t.logger.Warn("failed to remove expired session", zap.Error(rmErr))
			}
			return nil, auth.ErrRefreshFailed
		}
		return nil, err
	}
	if refreshed {
		if err := t.file.Save(s); err != nil {
			return nil, err
		}
		t.logger.Debug("session refreshed", zap.Time("expires_at", s.ExpiresAt))
	}
	t.current = s
	return s, nil
}

// Token implements apiclient.TokenSource.
func (t *SessionTokens) Token(ctx context.Context) (string, error) {
	s, err := t.Session(ctx)
	if err != nil {
		return "", err
	}
	return s.AccessToken, nil
}

// Store replaces the stored session.
func (t *SessionTokens) Store(s *auth.Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.file.Save(s); err != nil {
		return err
	}
	t.current = s
	return nil
}

// Clear forgets the stored session.
func (t *SessionTokens) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = nil
	return t.file.Remove()
}
