package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		t.Chdir(t.TempDir())

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "exchange-1c", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, "shop", cfg.Database.DBName)
		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, int64(100<<20), cfg.Exchange.FileLimit)
		assert.Equal(t, "exchange_sessid", cfg.Exchange.CookieName)
		assert.Equal(t, 500, cfg.Exchange.ChunkSize)
		assert.Equal(t, 3, cfg.Worker.RetryAttempts)
		assert.Equal(t, 2*time.Hour, cfg.Reaper.StaleAfter)
		assert.True(t, cfg.Reaper.Enabled)
		assert.False(t, cfg.Redis.Enabled())
		assert.False(t, cfg.Kafka.Enabled())
		assert.Equal(t, "local", cfg.Storage.Driver)
	})

	t.Run("loads values from environment variables with EXCHANGE prefix", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("EXCHANGE_APP_PORT", "9000")
		t.Setenv("EXCHANGE_DATABASE_HOST", "testdb.local")
		t.Setenv("EXCHANGE_DATABASE_PORT", "5433")
		t.Setenv("EXCHANGE_EXCHANGE_FILE_LIMIT", "1048576")
		t.Setenv("EXCHANGE_EXCHANGE_ZIP_ENABLED", "true")
		t.Setenv("EXCHANGE_WORKER_CONCURRENCY", "4")
		t.Setenv("EXCHANGE_REDIS_HOST", "redis.local")
		t.Setenv("EXCHANGE_REAPER_ENABLED", "false")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "9000", cfg.App.Port)
		assert.Equal(t, "testdb.local", cfg.Database.Host)
		assert.Equal(t, 5433, cfg.Database.Port)
		assert.Equal(t, int64(1048576), cfg.Exchange.FileLimit)
		assert.True(t, cfg.Exchange.ZipEnabled)
		assert.Equal(t, 4, cfg.Worker.Concurrency)
		assert.True(t, cfg.Redis.Enabled())
		assert.Equal(t, "redis.local:6379", cfg.Redis.Addr())
		assert.False(t, cfg.Reaper.Enabled)
	})

	t.Run("rejects a lock ttl shorter than the job timeout", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("EXCHANGE_LOCK_TTL", "1m")
		t.Setenv("EXCHANGE_WORKER_JOB_TIMEOUT", "10m")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lock.ttl")
	})
}

func TestValidateProduction(t *testing.T) {
	base := func() *Config {
		cfg := &Config{App: AppConfig{Env: "production"}}
		applyDefaults(cfg)
		cfg.Database.Password = "secret"
		cfg.Database.SSLMode = "require"
		cfg.Exchange.EmailSalt = "salt"
		cfg.Redis.Host = "redis"
		return cfg
	}

	require.NoError(t, base().validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing password", func(c *Config) { c.Database.Password = "" }, "database.password"},
		{"ssl disabled", func(c *Config) { c.Database.SSLMode = "disable" }, "sslmode"},
		{"missing salt", func(c *Config) { c.Exchange.EmailSalt = "" }, "email_salt"},
		{"no redis", func(c *Config) { c.Redis.Host = "" }, "redis.host"},
		{"sqlite in production", func(c *Config) { c.Database.Driver = "sqlite" }, "database.driver"},
		{"s3 without bucket", func(c *Config) { c.Storage.Driver = "s3" }, "storage.bucket"},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "ftp" }, "storage.driver"},
		{"bad sampling", func(c *Config) { c.Telemetry.SamplingRatio = 2 }, "sampling_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p@ss", DBName: "shop", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p%40ss@db:5432/shop?sslmode=disable", d.DSN())
}
