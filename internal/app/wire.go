package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"kolibri/internal/apiclient"
	"kolibri/internal/auth"
	"kolibri/internal/cache"
	"kolibri/internal/config"
	"kolibri/internal/files"
	"kolibri/internal/models"
	"kolibri/internal/retry"
	"kolibri/internal/utils"
)

// Options holds runtime wiring options for building the CLI.
type Options struct {
	Home       string       // state directory, e.g. $HOME/.kolibri
	ConfigPath string       // optional config file
	HTTP       *http.Client // optional; defaults to a fresh client
	Logger     *zap.Logger  // optional
}

// Wire bundles the clients and stores the CLI commands use.
type Wire struct {
	Config  *config.Config
	Home    string
	Auth    *auth.Client
	Tokens  *SessionTokens
	Backend *apiclient.Client
	Cache   *cache.Memory
	Logger  *zap.Logger
}

// NewWire constructs the dependency graph.
func NewWire(opts Options) (*Wire, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	return NewWireFromConfig(cfg, opts)
}

// NewWireFromConfig constructs the dependency graph from an already loaded
// configuration.
func NewWireFromConfig(cfg *config.Config, opts Options) (*Wire, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	home := opts.Home
	if home == "" {
		var err error
		if home, err = utils.DefaultHome(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, err
	}

	masterKey, err := files.EnsureMasterKey(home)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	sessionFile, err := files.NewSessionFile(home, masterKey)
	if err != nil {
		return nil, err
	}

	authClient, err := auth.NewClient(auth.ClientConfig{
		URL:        cfg.Auth.URL,
		AnonKey:    cfg.Auth.AnonKey,
		Timeout:    cfg.Backend.Timeout,
		HTTPClient: opts.HTTP,
		Logger:     logger.Named("auth"),
	})
	if err != nil {
		return nil, err
	}
	manager := auth.NewManager(authClient, cfg.Auth.RefreshWindow, auth.WithLogger(logger.Named("session")))
	tokens := NewSessionTokens(sessionFile, manager, logger.Named("session"))

	// The CLI is short lived; the cache only spans one invocation, which is
	// what `deeds watch` needs between refetches.
	mem := cache.NewMemory(cfg.Cache.MaxEntries, 0)
	base, err := apiclient.New(apiclient.Config{
		BaseURL:    cfg.Backend.BaseURL,
		Timeout:    cfg.Backend.Timeout,
		CacheTTL:   cfg.Cache.TTL,
		HTTPClient: opts.HTTP,
		Retry: retry.Policy{
			MaxRetries: cfg.Backend.MaxRetries,
			BaseDelay:  cfg.Backend.RetryBackoff,
			MaxDelay:   cfg.Backend.MaxBackoff,
		},
		Cache:  mem,
		Logger: logger.Named("backend"),
	})
	if err != nil {
		mem.Close()
		return nil, err
	}

	w := &Wire{
		Config: cfg,
		Home:   home,
		Auth:   authClient,
		Tokens: tokens,
		Cache:  mem,
		Logger: logger,
	}
	w.Backend = base.WithTokenSource(tokens, "")
	// Scope the cache to the stored user when there is one.
	var s auth.Session
	if err := sessionFile.Load(&s); err == nil {
		w.Backend = base.WithTokenSource(tokens, s.User.ID)
	}
	return w, nil
}

// Close releases the wire's resources.
func (w *Wire) Close() {
	w.Cache.Close()
}

// Login signs in and stores the session.
func (w *Wire) Login(ctx context.Context, email, password string) (*models.User, error) {
	s, err := w.Auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := w.Tokens.Store(s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	w.Logger.Debug("signed in", zap.String("user_id", s.User.ID))
	return &s.User, nil
}

// Logout revokes the session remotely, best effort, and forgets it locally.
func (w *Wire) Logout(ctx context.Context) error {
	s, err := w.Tokens.Session(ctx)
	if err == nil {
		if err := w.Auth.SignOut(ctx, s.AccessToken); err != nil {
			w.Logger.Warn("remote sign out failed", zap.Error(err))
		}
	}
	return w.Tokens.Clear()
}

// WhoAmI returns the signed-in user as the auth service currently sees it.
func (w *Wire) WhoAmI(ctx context.Context) (*models.User, error) {
	s, err := w.Tokens.Session(ctx)
	if err != nil {
		return nil, err
	}
	return w.Auth.User(ctx, s.AccessToken)
}

// Role returns the stored user's role without a network round trip, unless
// the session needs a refresh.
func (w *Wire) Role(ctx context.Context) (models.Role, error) {
	s, err := w.Tokens.Session(ctx)
	if err != nil {
		return "", err
	}
	return s.User.Role, nil
}
