package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 5*time.Second, cfg.Federation.FetchTimeout)
	assert.Equal(t, 1, cfg.Breaker.Threshold)
	assert.Equal(t, 5*time.Minute, cfg.Breaker.CoolOff)
	assert.Equal(t, BackendMemory, cfg.Breaker.Backend)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Store.StaleAfter)

	// local_domain has no default.
	assert.Error(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	t.Run("full file", func(t *testing.T) {
		t.Setenv("FEDSIG_TEST_DSN", "postgres://fedsig@db/fedsig")

		cfg, err := Parse([]byte(`
server:
  listen: 127.0.0.1:9000
  trusted_proxies: [10.0.0.0/8]
federation:
  local_domain: social.example
  fetch_timeout: 3s
  user_agent: test-agent
breaker:
  threshold: 2
  cool_off: 1m
  backend: redis
  redis:
    addr: redis:6379
    db: 2
store:
  driver: postgres
  dsn: ${FEDSIG_TEST_DSN}
  stale_after: 12h
policy:
  blocked_domains: [evil.example]
  rego_file: /etc/fedsig/policy.rego
signature:
  strict_params: true
log:
  level: debug
  format: json
`))
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
		assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Server.TrustedProxies)
		assert.Equal(t, "social.example", cfg.Federation.LocalDomain)
		assert.Equal(t, 3*time.Second, cfg.Federation.FetchTimeout)
		assert.Equal(t, 2, cfg.Breaker.Threshold)
		assert.Equal(t, time.Minute, cfg.Breaker.CoolOff)
		assert.Equal(t, "redis:6379", cfg.Breaker.Redis.Addr)
		assert.Equal(t, 2, cfg.Breaker.Redis.DB)
		assert.Equal(t, "fedsig:breaker:", cfg.Breaker.Redis.Prefix)
		assert.Equal(t, "postgres://fedsig@db/fedsig", cfg.Store.DSN)
		assert.Equal(t, 12*time.Hour, cfg.Store.StaleAfter)
		assert.Equal(t, []string{"evil.example"}, cfg.Policy.BlockedDomains)
		assert.True(t, cfg.Signature.StrictParams)

		level, err := cfg.Log.SlogLevel()
		require.NoError(t, err)
		assert.Equal(t, slog.LevelDebug, level)
	})

	t.Run("minimal file keeps defaults", func(t *testing.T) {
		cfg, err := Parse([]byte("federation:\n  local_domain: social.example\n"))
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.Server.Listen)
		assert.Equal(t, BackendMemory, cfg.Breaker.Backend)
	})

	t.Run("variable default", func(t *testing.T) {
		cfg, err := Parse([]byte(`
federation:
  local_domain: social.example
store:
  driver: postgres
  dsn: ${FEDSIG_TEST_UNSET_DSN:-postgres://localhost/fedsig}
`))
		require.NoError(t, err)
		assert.Equal(t, "postgres://localhost/fedsig", cfg.Store.DSN)
	})

	t.Run("unknown key rejected", func(t *testing.T) {
		_, err := Parse([]byte("federation:\n  local_domain: a.example\n  lcoal: typo\n"))
		assert.Error(t, err)
	})

	t.Run("empty file fails validation", func(t *testing.T) {
		_, err := Parse(nil)
		assert.ErrorContains(t, err, "federation.local_domain is required")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Federation.LocalDomain = "social.example"
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"redis without addr", func(c *Config) { c.Breaker.Backend = BackendRedis }, "breaker.redis.addr"},
		{"unknown backend", func(c *Config) { c.Breaker.Backend = "etcd" }, "breaker.backend"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "store.dsn"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }, "store.driver"},
		{"zero threshold", func(c *Config) { c.Breaker.Threshold = 0 }, "breaker.threshold"},
		{"zero cool off", func(c *Config) { c.Breaker.CoolOff = 0 }, "breaker.cool_off"},
		{"zero timeout", func(c *Config) { c.Federation.FetchTimeout = 0 }, "federation.fetch_timeout"},
		{"allowed and blocked", func(c *Config) {
			c.Policy.AllowedDomains = []string{"a.example"}
			c.Policy.BlockedDomains = []string{"a.example"}
		}, "both allowed and blocked"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("requires env", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")

		_, err := Load()
		assert.ErrorContains(t, err, "FEDSIG_CONFIG environment variable not set")
	})

	t.Run("reads env path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fedsig.yaml")
		require.NoError(t, os.WriteFile(path, []byte("federation:\n  local_domain: social.example\n"), 0o600))
		t.Setenv(EnvConfigPath, path)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "social.example", cfg.Federation.LocalDomain)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
