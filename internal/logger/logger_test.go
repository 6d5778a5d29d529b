package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nadmax/callscope/internal/config"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	log, err := New(config.LogConfig{Level: "debug", Encoding: "json", OutputPaths: []string{path}})
	require.NoError(t, err)

	log.Debug("cache warmed", zap.String("slice", "start=2024-03-01&end=2024-03-01"))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"cache warmed"`)
	assert.Contains(t, string(data), `"slice":"start=2024-03-01&end=2024-03-01"`)
}

func TestNewFallsBackToInfo(t *testing.T) {
	log, err := New(config.LogConfig{Level: "chatty"})
	require.NoError(t, err)

	assert.False(t, log.Core().Enabled(zap.DebugLevel))
	assert.True(t, log.Core().Enabled(zap.InfoLevel))
}
