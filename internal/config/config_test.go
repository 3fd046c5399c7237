package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("KOLIBRI_HOME", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 3, cfg.Backend.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Auth.RefreshWindow)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "kolibri_session", cfg.Auth.CookieName)
}

func TestLoadFileAndEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "kolibri.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
backend:
  base_url: https://api.example.se
  timeout: 3s
cache:
  backend: redis
  redis:
    addr: cache:6379
`), 0o600))

	t.Setenv("KOLIBRI_BACKEND_TIMEOUT", "7s")
	t.Setenv("KOLIBRI_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "https://api.example.se", cfg.Backend.BaseURL)
	assert.Equal(t, 7*time.Second, cfg.Backend.Timeout, "env overrides file")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "cache:6379", cfg.Cache.Redis.Addr)
}

func TestValidate(t *testing.T) {
	isolate(t)
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"half tls", func(c *Config) { c.Server.TLSCertFile = "cert.pem" }},
		{"relative backend", func(c *Config) { c.Backend.BaseURL = "/api" }},
		{"zero timeout", func(c *Config) { c.Backend.Timeout = 0 }},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"redis without addr", func(c *Config) { c.Cache.Backend = "redis"; c.Cache.Redis.Addr = "" }},
		{"rate limiter burst", func(c *Config) { c.RateLimiter.BurstSize = 0 }},
		{"metrics port collision", func(c *Config) { c.Metrics.Port = c.Server.Port }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, base.Validate())
}

func TestLoadAndWatch(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "kolibri.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))

	changes := make(chan *Config, 16)
	cfg, err := LoadAndWatch(path, func(c *Config) { changes <- c }, nil)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Logging.Level == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("config change was not observed")
		}
	}
}
