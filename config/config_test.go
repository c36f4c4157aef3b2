package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("REMOTE_TIMEOUT", "")
	cfg := Load()
	assert.Equal(t, 1500, cfg.Loader.ChunkSize)
	assert.Equal(t, 50, cfg.Loader.ChunkOverlap)
	assert.Equal(t, 60*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 768, cfg.AI.EmbeddingDim)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "200")
	t.Setenv("REMOTE_TIMEOUT", "15")
	t.Setenv("LOADER_MONITORING_TIME", "250ms")
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_PORT", "6543")
	t.Setenv("PG_USER", "u")
	t.Setenv("PG_PASS", "p")
	t.Setenv("PG_DB_NAME", "n")

	cfg := Load()
	assert.Equal(t, 200, cfg.Loader.ChunkSize)
	assert.Equal(t, 15*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Loader.MonitoringTime)
	assert.Equal(t, "host=db port=6543 user=u password=p dbname=n sslmode=disable", cfg.Database.DSN())
}

func TestBadNumbersFallBack(t *testing.T) {
	t.Setenv("CHUNK_OVERLAP", "lots")
	t.Setenv("PDF_CROP_TOP", "x")
	cfg := Load()
	assert.Equal(t, 50, cfg.Loader.ChunkOverlap)
	assert.Equal(t, 46.0, cfg.Loader.CropTop)
}

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tutor.log")
	cfg := &Config{App: AppConfig{LogLevel: "warn", LogFile: path, Environment: "production"}}

	logger := cfg.NewLogger()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	logger.Info("dropped")
	logger.Warn("kept", "assistant", "a1")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"kept"`)
	assert.NotContains(t, string(data), "dropped")
}
