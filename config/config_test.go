package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvDBPath, EnvAddr, EnvStorageTimeout, EnvLogLevel, EnvLogFormat} {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDBPath, "/tmp/lib.db")
	t.Setenv(EnvAddr, "127.0.0.1:9000")
	t.Setenv(EnvStorageTimeout, "250ms")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogFormat, "JSON")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/lib.db", cfg.DBPath)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.StorageTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{EnvStorageTimeout, "soon"},
		{EnvStorageTimeout, "-1s"},
		{EnvLogLevel, "loud"},
		{EnvLogFormat, "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides variables that are already set, even empty ones.
	require.NoError(t, os.Unsetenv(EnvDBPath))
	t.Cleanup(func() { os.Unsetenv(EnvDBPath) })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(EnvDBPath+"=from-file.db\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file.db", cfg.DBPath)
}

func TestLoadWithoutEnvFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogFormat = "json"
	cfg.NewLogger(&buf).Info("hello", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	cfg.LogFormat = "text"
	cfg.LogLevel = slog.LevelWarn
	cfg.NewLogger(&buf).Info("quiet")
	assert.Empty(t, buf.String())
}
