package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadForTest(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SWITCHYARD_AUTH_JWT_SECRET", "test-secret")

	cfg := loadForTest(t)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr())
	assert.Equal(t, 60*time.Second, cfg.Cache.SnapshotTTL)
	assert.Equal(t, 500, cfg.EvalLog.BatchSize)
	assert.Equal(t, 1.0, cfg.EvalLog.SampleRate)
	assert.Equal(t, 5, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.RetryBase)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RetryCap)
	assert.True(t, cfg.ClickHouse.Enabled)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoadConventionalEnvVars(t *testing.T) {
	t.Setenv("SWITCHYARD_AUTH_JWT_SECRET", "test-secret")
	t.Setenv("DATABASE_URL", "postgres://app:pw@db.internal:5432/switchyard?sslmode=require")
	t.Setenv("CACHE_URL", "redis://cache.internal:6379/2")
	t.Setenv("NATS_URL", "nats://broker.internal:4222")
	t.Setenv("CLICKHOUSE_URL", "clickhouse://default:@ch.internal:9000/switchyard")
	t.Setenv("AUTH_BACKEND_URL", "https://auth.internal")

	cfg := loadForTest(t)

	assert.Equal(t, "postgres://app:pw@db.internal:5432/switchyard?sslmode=require", cfg.PostgresDSN())
	assert.Equal(t, "redis://cache.internal:6379/2", cfg.RedisURL())
	assert.Equal(t, "clickhouse://default:@ch.internal:9000/switchyard", cfg.ClickHouseDSN())
	assert.Equal(t, "nats://broker.internal:4222", cfg.NATS.URL)
	assert.Equal(t, "https://auth.internal", cfg.Auth.BackendURL)
}

func TestLoadPrefixedEnvVars(t *testing.T) {
	t.Setenv("SWITCHYARD_AUTH_JWT_SECRET", "test-secret")
	t.Setenv("SWITCHYARD_SERVER_PORT", "9999")
	t.Setenv("SWITCHYARD_CACHE_SNAPSHOT_TTL", "90s")
	t.Setenv("SWITCHYARD_EVAL_LOG_SAMPLE_RATE", "0.25")

	cfg := loadForTest(t)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Cache.SnapshotTTL)
	assert.Equal(t, 0.25, cfg.EvalLog.SampleRate)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT secret")
}

func TestLoadRejectsBadSampleRate(t *testing.T) {
	t.Setenv("SWITCHYARD_AUTH_JWT_SECRET", "test-secret")
	t.Setenv("SWITCHYARD_EVAL_LOG_SAMPLE_RATE", "1.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample rate")
}

func TestComposedDSNs(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host: "localhost", Port: 5432, Database: "switchyard",
			Username: "postgres", Password: "pw", SSLMode: "disable",
		},
		Redis:      RedisConfig{Host: "localhost", Port: 6379, Database: 1},
		ClickHouse: ClickHouseConfig{Host: "localhost", Port: 9000, Database: "switchyard", Username: "default"},
	}

	assert.Equal(t, "postgres://postgres:pw@localhost:5432/switchyard?sslmode=disable", cfg.PostgresDSN())
	assert.Equal(t, "redis://localhost:6379/1", cfg.RedisURL())
	assert.Equal(t, "clickhouse://default:@localhost:9000/switchyard", cfg.ClickHouseDSN())

	cfg.Redis.Password = "s3cret"
	assert.Equal(t, "redis://:s3cret@localhost:6379/1", cfg.RedisURL())
}
