package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"kolibri/internal/config"
	"kolibri/internal/devbackend"
)

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Port:            0,
			ShutdownTimeout: time.Second,
			RequestTimeout:  5 * time.Second,
			MasterKeyDir:    t.TempDir(),
			HealthInterval:  10 * time.Millisecond,
		},
		Backend: config.BackendConfig{
			BaseURL: backendURL,
			Timeout: time.Second,
		},
		Auth: config.AuthConfig{
			URL:           backendURL + devbackend.AuthPrefix,
			CookieName:    "kolibri_session",
			RefreshWindow: 5 * time.Minute,
		},
		Cache: config.CacheConfig{Backend: "memory", TTL: time.Minute, MaxEntries: 10},
		RateLimiter: config.RateLimiterConfig{
			Enabled:           true,
			RequestsPerSecond: 0.001,
			BurstSize:         2,
		},
		Logging: config.LoggingConfig{Level: "info"},
	}
}

func newTestServer(t *testing.T, logger *zap.Logger) (*Server, *httptest.Server) {
	t.Helper()
	backend := httptest.NewServer(devbackend.New(devbackend.Options{}))
	t.Cleanup(backend.Close)

	cfg := testConfig(t, backend.URL)
	s, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, backend
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHealthAndReadiness(t *testing.T) {
	s, backend := newTestServer(t, nil)
	s.ApplyConfig(&config.Config{RateLimiter: config.RateLimiterConfig{Enabled: false}})

	w := serve(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK\n", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = serve(s, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	backend.Close()
	w = serve(s, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "SERVICE_UNAVAILABLE")
}

func TestRateLimitReload(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s, _ := newTestServer(t, zap.New(core))

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/health").Code)
	}
	w := serve(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	s.ApplyConfig(&config.Config{RateLimiter: config.RateLimiterConfig{Enabled: false, RequestsPerSecond: 1, BurstSize: 1}})
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/health").Code)
	assert.Equal(t, 1, logs.FilterMessage("rate limiter updated").Len())
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestUnhealthyBackendIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s, backend := newTestServer(t, zap.New(core))
	backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.watchHealth(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("dependencies unhealthy").Len() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewRejectsBadBackendURL(t *testing.T) {
	cfg := testConfig(t, "://nope")
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func writeCert(t *testing.T, dir, name, host string, notAfter time.Time) (certPath, keyPath string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    notAfter.Add(-365 * 24 * time.Hour),
		NotAfter:     notAfter,
		DNSNames:     []string{host},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)

	certPath = filepath.Join(dir, name+".crt")
	keyPath = filepath.Join(dir, name+"-key.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestTLSDirectoryExpiryWarnings(t *testing.T) {
	backend := httptest.NewServer(devbackend.New(devbackend.Options{}))
	t.Cleanup(backend.Close)

	dir := t.TempDir()
	certFile, keyFile := writeCert(t, dir, "portal", "portal.local", time.Now().Add(90*24*time.Hour))
	writeCert(t, dir, "intermediate", "ca.local", time.Now().Add(5*24*time.Hour))
	writeCert(t, dir, "retired", "old.local", time.Now().Add(-time.Hour))
	writeCert(t, dir, "spare", "spare.local", time.Now().Add(200*24*time.Hour))

	cfg := testConfig(t, backend.URL)
	cfg.Server.TLSCertFile = certFile
	cfg.Server.TLSKeyFile = keyFile

	core, logs := observer.New(zapcore.WarnLevel)
	s, err := New(context.Background(), cfg, zap.New(core))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	assert.Zero(t, logs.FilterMessage("serving certificate expires soon").Len())
	warned := map[string]bool{}
	for _, e := range logs.FilterMessage("certificate in TLS directory expires soon").All() {
		warned[e.ContextMap()["subject"].(string)] = true
	}
	assert.Equal(t, map[string]bool{"ca.local": true, "old.local": true}, warned)
	assert.Zero(t, logs.FilterMessage("failed to scan TLS directory").Len())
}
