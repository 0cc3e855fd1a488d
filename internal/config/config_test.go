package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"WXTAP_KEY", "WXTAP_DB_DIR", "WXTAP_POLL_INTERVAL", "WXTAP_LOG_PATH"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, "key: abc123\n"))
	require.NoError(t, err)

	assert.Equal(t, "abc123", cfg.Key)
	assert.Equal(t, DefaultDBDir(), cfg.DBDir)
	assert.Equal(t, 30*time.Second, cfg.PollEvery())
	assert.Empty(t, cfg.LogPath)
}

func TestLoadFullFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, `
key: deadbeef
db_dir: /tmp/store
poll_interval: 5s
log_path: /tmp/wxtap.log
`))
	require.NoError(t, err)

	assert.Equal(t, "deadbeef", cfg.Key)
	assert.Equal(t, "/tmp/store", cfg.DBDir)
	assert.Equal(t, 5*time.Second, cfg.PollEvery())
	assert.Equal(t, "/tmp/wxtap.log", cfg.LogPath)
}

func TestLoadInvalidDuration(t *testing.T) {
	clearEnv(t)

	_, err := Load(writeConfig(t, "poll_interval: soon\n"))
	assert.Error(t, err)
}

func TestLoadExplicitPathMustExist(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("WXTAP_KEY", "envkey")
	t.Setenv("WXTAP_DB_DIR", "/env/store")
	t.Setenv("WXTAP_POLL_INTERVAL", "90s")
	t.Setenv("WXTAP_LOG_PATH", "/env/log")

	cfg, err := Load(writeConfig(t, "key: filekey\ndb_dir: /file/store\n"))
	require.NoError(t, err)

	assert.Equal(t, "envkey", cfg.Key)
	assert.Equal(t, "/env/store", cfg.DBDir)
	assert.Equal(t, 90*time.Second, cfg.PollEvery())
	assert.Equal(t, "/env/log", cfg.LogPath)
}

func TestEnvInvalidInterval(t *testing.T) {
	clearEnv(t)
	t.Setenv("WXTAP_POLL_INTERVAL", "whenever")

	_, err := Load(writeConfig(t, "key: abc\n"))
	assert.Error(t, err)
}
