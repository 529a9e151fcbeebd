package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "log", cfg.UnhandledRejection)
	require.Equal(t, int64(1048576), cfg.StackSize)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	t.Setenv("WOTJS_UNHANDLED_REJECTION", "explode")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wotjs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nunhandled_rejection: reject\n"), 0644))
	t.Setenv("WOTJS_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "reject", cfg.UnhandledRejection)
}

func TestLoggingConfig(t *testing.T) {
	cfg := &Config{LogLevel: "warn", LogFormat: "json", LogOutput: "stderr"}
	lc := cfg.LoggingConfig()
	require.Equal(t, "warn", lc.Level)
	require.Equal(t, "json", lc.Format)
}
