// Package server assembles the portal and runs it: dependency wiring, the
// middleware chain, TLS, health reporting and graceful shutdown.
package server

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"kolibri/internal/api"
	"kolibri/internal/apiclient"
	"kolibri/internal/auth"
	"kolibri/internal/cache"
	"kolibri/internal/certs"
	"kolibri/internal/config"
	"kolibri/internal/files"
	"kolibri/internal/metrics"
	"kolibri/internal/middleware"
	"kolibri/internal/retry"
	"kolibri/internal/utils"
)

// certWarnWindow is how far ahead of expiry the serving certificate starts
// being reported.
const certWarnWindow = 30 * 24 * time.Hour

// Server is the portal HTTP server.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	handler    http.Handler
	backend    *apiclient.Client
	cache      cache.Store
	redis      *cache.Redis
	memory     *cache.Memory
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	limiter    *middleware.RateLimiter
	limitOn    atomic.Bool
	cert       *certs.CertManager
	leaf       *x509.Certificate
	logger     *zap.Logger

	closeOnce sync.Once
}

// New wires the portal from cfg. Connections to Redis are opened here; the
// backend and auth service are only contacted once requests arrive.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: logger}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = metrics.New(s.registry)

	if err := s.openCache(ctx); err != nil {
		return nil, err
	}

	backend, err := apiclient.New(apiclient.Config{
		BaseURL:  cfg.Backend.BaseURL,
		Timeout:  cfg.Backend.Timeout,
		CacheTTL: cfg.Cache.TTL,
		Retry: retry.Policy{
			MaxRetries: cfg.Backend.MaxRetries,
			BaseDelay:  cfg.Backend.RetryBackoff,
			MaxDelay:   cfg.Backend.MaxBackoff,
		},
		Cache:   s.cache,
		Metrics: s.metrics,
		Logger:  logger.Named("backend"),
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.backend = backend

	authClient, err := auth.NewClient(auth.ClientConfig{
		URL:     cfg.Auth.URL,
		AnonKey: cfg.Auth.AnonKey,
		Timeout: cfg.Backend.Timeout,
		Logger:  logger.Named("auth"),
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	keyDir := cfg.Server.MasterKeyDir
	if keyDir == "" {
		if keyDir, err = utils.DefaultHome(); err != nil {
			s.Close()
			return nil, err
		}
	}
	masterKey, err := files.EnsureMasterKey(keyDir)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("master key: %w", err)
	}
	cookies, err := auth.NewCookieStore(cfg.Auth.CookieName, cfg.Auth.CookieSecure, masterKey)
	if err != nil {
		s.Close()
		return nil, err
	}
	manager := auth.NewManager(authClient, cfg.Auth.RefreshWindow,
		auth.WithRecorder(s.metrics),
		auth.WithLogger(logger.Named("session")),
	)

	router, err := api.NewRouter(api.Deps{
		Backend: backend,
		Auth:    authClient,
		Cookies: cookies,
		Gate:    auth.NewGate(cookies, manager, logger.Named("gate")),
		Metrics: s.metrics,
		Ready:   s.Ready,
		Logger:  logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.limiter = middleware.NewRateLimiter(cfg.RateLimiter.RequestsPerSecond, cfg.RateLimiter.BurstSize, logger)
	s.limitOn.Store(cfg.RateLimiter.Enabled)

	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(logger),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.SecurityHeaders,
		middleware.CORS(cfg.Server.AllowedOrigins),
		s.rateLimit,
	}
	if cfg.Server.RequestTimeout > 0 {
		middlewareChain = append(middlewareChain, middleware.Timeout(cfg.Server.RequestTimeout))
	}
	s.handler = middleware.Chain(middlewareChain...)(router)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     zap.NewStdLog(logger.Named("http")),
	}

	if cfg.Server.TLSCertFile != "" {
		if err := s.loadTLS(); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Server) openCache(ctx context.Context) error {
	switch s.cfg.Cache.Backend {
	case "redis":
		r, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:      s.cfg.Cache.Redis.Addr,
			Password:  s.cfg.Cache.Redis.Password,
			DB:        s.cfg.Cache.Redis.DB,
			Namespace: s.cfg.Cache.Redis.Namespace,
		}, s.logger.Named("cache"))
		if err != nil {
			return err
		}
		s.redis, s.cache = r, r
	case "none":
	default:
		s.memory = cache.NewMemory(s.cfg.Cache.MaxEntries, s.cfg.Cache.SweepEvery, cache.WithLogger(s.logger.Named("cache")))
		s.cache = s.memory
	}
	return nil
}

func (s *Server) loadTLS() error {
	s.cert = certs.NewCertManager(filepath.Dir(s.cfg.Server.TLSCertFile))
	tlsCfg, leaf, err := s.cert.ServingConfig(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	s.httpServer.TLSConfig = tlsCfg
	s.leaf = leaf
	if s.cert.ExpiresWithin(leaf, certWarnWindow) {
		s.logger.Warn("serving certificate expires soon",
			zap.String("subject", leaf.Subject.CommonName),
			zap.Time("not_after", leaf.NotAfter),
		)
	}
	s.warnExpiringCertificates(leaf)
	return nil
}

// warnExpiringCertificates reports every other certificate next to the
// serving one that expires inside certWarnWindow.
func (s *Server) warnExpiringCertificates(leaf *x509.Certificate) {
	all, err := s.cert.LoadCertificates()
	if err != nil {
		s.logger.Warn("failed to scan TLS directory", zap.Error(err))
		return
	}
	for _, c := range all {
		if bytes.Equal(c.Raw, leaf.Raw) || !s.cert.ExpiresWithin(c, certWarnWindow) {
			continue
		}
		s.logger.Warn("certificate in TLS directory expires soon",
			zap.String("subject", c.Subject.CommonName),
			zap.Time("not_after", c.NotAfter),
			zap.Bool("expired", s.cert.IsExpired(c)),
		)
	}
}

// rateLimit applies the limiter while it is enabled. Enabling can change on
// config reload.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	limited := s.limiter.Limit(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limitOn.Load() {
			limited.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the fully wrapped portal handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry returns the Prometheus registry the portal reports to.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Ready reports whether the backend, and Redis when configured, answer.
func (s *Server) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.backend.Ping(ctx); err != nil {
		return fmt.Errorf("backend unavailable: %w", err)
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil {
			return fmt.Errorf("cache unavailable: %w", err)
		}
	}
	return nil
}

// ApplyConfig picks up the settings that can change without a restart.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.limiter.SetLimit(cfg.RateLimiter.RequestsPerSecond, cfg.RateLimiter.BurstSize)
	s.limitOn.Store(cfg.RateLimiter.Enabled)
	s.logger.Info("rate limiter updated",
		zap.Bool("enabled", cfg.RateLimiter.Enabled),
		zap.Float64("requests_per_second", cfg.RateLimiter.RequestsPerSecond),
		zap.Int("burst_size", cfg.RateLimiter.BurstSize),
	)
}

// Run serves until ctx is canceled or the listener fails, then shuts down
// gracefully within the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	var metricsServer *metrics.MetricsServer
	if s.cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(s.cfg.Metrics.Port, s.cfg.Metrics.Path, s.registry, s.logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				s.logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	go s.watchHealth(healthCtx, s.cfg.Server.HealthInterval)

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			zap.String("addr", s.httpServer.Addr),
			zap.Bool("tls", s.leaf != nil),
		)
		var err error
		if s.leaf != nil {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("failed to start HTTP server: %w", err)
		}
		close(errChan)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("initiating graceful shutdown")
	case runErr = <-errChan:
		s.logger.Error("server error", zap.Error(runErr))
	}
	stopHealth()
	s.metrics.SetHealthStatus(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("failed to shutdown HTTP server", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}
	s.Close()
	return runErr
}

// watchHealth mirrors Ready into the health gauge and logs transitions.
func (s *Server) watchHealth(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	healthy := true
	s.metrics.SetHealthStatus(true)
	for {
		err := s.Ready(ctx)
		if ctx.Err() != nil {
			return
		}
		now := err == nil
		s.metrics.SetHealthStatus(now)
		if now != healthy {
			if now {
				s.logger.Info("dependencies healthy again")
			} else {
				s.logger.Warn("dependencies unhealthy", zap.Error(err))
			}
			healthy = now
		}
		if s.leaf != nil && s.cert.IsExpired(s.leaf) {
			s.logger.Error("serving certificate has expired", zap.Time("not_after", s.leaf.NotAfter))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close releases the cache.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.memory != nil {
			s.memory.Close()
		}
		if s.redis != nil {
			if err := s.redis.Close(); err != nil {
				s.logger.Warn("failed to close redis", zap.Error(err))
			}
		}
	})
}
