package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TodayTTL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.PastTTL)
	assert.True(t, cfg.Cache.UseStorage)
	assert.Equal(t, 15*time.Second, cfg.Advice.RequestTimeout)
	assert.Equal(t, []string{"stdout"}, cfg.Log.OutputPaths)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_STORAGE", "Redis")
	t.Setenv("CACHE_TODAY_TTL", "90s")
	t.Setenv("CACHE_USE_STORAGE", "false")
	t.Setenv("CRM_RETRIES", "5")
	t.Setenv("ADVICE_REQUEST_TIMEOUT", "2s")
	t.Setenv("LOG_OUTPUT", "stdout, ./logs/app.log,")

	cfg := FromEnv()

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Storage.Backend)
	assert.Equal(t, 90*time.Second, cfg.Cache.TodayTTL)
	assert.False(t, cfg.Cache.UseStorage)
	assert.Equal(t, 5, cfg.CRM.Retries)
	assert.Equal(t, 2*time.Second, cfg.Advice.RequestTimeout)
	assert.Equal(t, []string{"stdout", "./logs/app.log"}, cfg.Log.OutputPaths)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("CACHE_PAST_TTL", "tomorrow")
	t.Setenv("CRM_RETRIES", "many")
	t.Setenv("CACHE_USE_STORAGE", "maybe")

	cfg := FromEnv()

	assert.Equal(t, 24*time.Hour, cfg.Cache.PastTTL)
	assert.Equal(t, 2, cfg.CRM.Retries)
	assert.True(t, cfg.Cache.UseStorage)
}

func TestNewReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CRM_TOKEN=secret\n"), 0o600))
	t.Chdir(dir)
	t.Cleanup(func() { _ = os.Unsetenv("CRM_TOKEN") })

	cfg, loaded := New()

	assert.True(t, loaded)
	assert.Equal(t, "secret", cfg.CRM.Token)
}

func TestLocation(t *testing.T) {
	cfg := FromEnv()
	cfg.Cache.Timezone = "UTC"
	assert.Equal(t, time.UTC, cfg.Location())

	cfg.Cache.Timezone = "Nowhere/Atlantis"
	assert.Equal(t, time.Local, cfg.Location())
}
