package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thushan/olla-link/internal/config"
	"github.com/thushan/olla-link/internal/core/domain"
)

func withColours(t *testing.T, enabled bool) {
	t.Helper()
	prev := useColours
	useColours = func() bool { return enabled }
	t.Cleanup(func() { useColours = prev })
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.DefaultConfig().Logging)
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "./logs", cfg.LogDir)
	assert.False(t, cfg.FileOutput)
}

func TestNew_FileOutputWritesJSON(t *testing.T) {
	withColours(t, false)
	dir := t.TempDir()

	log, cleanup, err := New(&Config{Level: "debug", LogDir: dir, FileOutput: true, MaxSize: 1})
	require.NoError(t, err)

	log.Info("\x1b[32mready\x1b[0m", "error", errors.New("boom"))
	cleanup()

	data, err := os.ReadFile(filepath.Join(dir, DefaultLogOutputName))
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "ready", entry["msg"])
	assert.Equal(t, "boom", entry["error"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewWithTheme_PicksStyledVariant(t *testing.T) {
	withColours(t, false)
	_, styled, cleanup, err := NewWithTheme(&Config{Level: "error"})
	require.NoError(t, err)
	defer cleanup()
	assert.IsType(t, &PlainStyledLogger{}, styled)

	withColours(t, true)
	_, styled, cleanup, err = NewWithTheme(&Config{Level: "error"})
	require.NoError(t, err)
	defer cleanup()
	assert.IsType(t, &PrettyStyledLogger{}, styled)
}

func TestPlainStyledLogger(t *testing.T) {
	var buf bytes.Buffer
	sl := NewPlainStyledLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	sl.WithRequestID("abc").InfoReadiness("Adapter is", domain.StateReady)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Adapter is ready", entry["msg"])
	assert.Equal(t, "abc", entry["request_id"])
}
