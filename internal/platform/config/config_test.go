package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"CRVS_ADDR", "DATABASE_URL", "REDIS_URL", "KAFKA_BROKERS", "ACTION_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT", "CRVS_ENV", EnvFileVar} {
		t.Setenv(k, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.ActionTimeout)
	assert.Empty(t, cfg.DB.URL, "empty url selects in-memory store")
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Index.FailureThreshold)
	assert.Equal(t, 120, cfg.RateLimit.Write)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("ACTION_TIMEOUT", "750ms")
	t.Setenv("DATABASE_URL", "postgres://crvs@db/crvs")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("REDIS_POOL_SIZE", "not-a-number")
	t.Setenv("LOG_FORMAT", "TEXT")
	t.Setenv("AUDIT_BUFFER_SIZE", "256")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.ActionTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 10, cfg.Redis.PoolSize, "unparseable values fall back")
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 256, cfg.Audit.BufferSize)
}

func TestFromEnv_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crvs.env")
	require.NoError(t, os.WriteFile(path, []byte("CRVS_ADDR=:9191\nLOG_LEVEL=debug\n"), 0o600))

	t.Run("fills unset variables", func(t *testing.T) {
		t.Setenv(EnvFileVar, path)
		t.Setenv("LOG_LEVEL", "warn")
		require.NoError(t, os.Unsetenv("CRVS_ADDR"))
		t.Cleanup(func() { _ = os.Unsetenv("CRVS_ADDR") })

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":9191", cfg.Addr)
		assert.Equal(t, "warn", cfg.Log.Level, "process environment wins")
	})

	t.Run("named file must exist", func(t *testing.T) {
		t.Setenv(EnvFileVar, filepath.Join(dir, "missing.env"))
		_, err := FromEnv()
		assert.ErrorContains(t, err, "missing.env")
	})
}

func TestValidate(t *testing.T) {
	valid := func() Server {
		return Server{
			ActionTimeout: time.Second,
			Log:           LogConfig{Level: "info", Format: "json"},
			Auth:          AuthConfig{JWTSigningKey: devSigningKey},
			Index:         IndexConfig{FailureThreshold: 1, SuccessThreshold: 1},
			Admin:         AdminConfig{StaleBatch: 10},
			RateLimit:     RateLimitConfig{Read: 10, Write: 5, Window: time.Minute},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("production requires a real signing key", func(t *testing.T) {
		c := valid()
		c.Environment = "production"
		assert.ErrorContains(t, c.Validate(), "JWT_SIGNING_KEY")
	})

	t.Run("kafka relay requires the outbox database", func(t *testing.T) {
		c := valid()
		c.Kafka.Brokers = []string{"k1:9092"}
		assert.ErrorContains(t, c.Validate(), "DATABASE_URL")
	})

	t.Run("rate limit window must be positive", func(t *testing.T) {
		c := valid()
		c.RateLimit.Window = 0
		assert.ErrorContains(t, c.Validate(), "RATE_LIMIT_WINDOW")
	})

	t.Run("audit buffer must not be negative", func(t *testing.T) {
		c := valid()
		c.Audit.BufferSize = -1
		assert.ErrorContains(t, c.Validate(), "AUDIT_BUFFER_SIZE")
	})

	t.Run("reports every problem", func(t *testing.T) {
		c := valid()
		c.ActionTimeout = 0
		c.Log.Level = "verbose"
		err := c.Validate()
		assert.ErrorContains(t, err, "ACTION_TIMEOUT")
		assert.ErrorContains(t, err, "LOG_LEVEL")
	})
}
