// ABOUTME: Tests for config loading, env var expansion, and duration parsing
// ABOUTME: Covers defaults, validation failures, and malformed duration strings

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: https://chat.example.com
  token: secret-token
session:
  max_cached: 16
  dedup_window: 500ms
  tool_clear_grace: 2s
resume:
  freshness: 45s
  poll_interval: 3s
  max_attempts: 5
backlog:
  path: /tmp/backlog.db
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "secret-token", cfg.Server.Token)
	assert.Equal(t, 16, cfg.Session.MaxCached)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.DedupWindow)
	assert.Equal(t, 2*time.Second, cfg.Session.ToolClearGrace)
	assert.Equal(t, 45*time.Second, cfg.Resume.Freshness)
	assert.Equal(t, 3*time.Second, cfg.Resume.PollInterval)
	assert.Equal(t, 5, cfg.Resume.MaxAttempts)
	assert.Equal(t, "/tmp/backlog.db", cfg.Backlog.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: http://localhost:8080
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.Session.MaxCached)
	assert.Equal(t, time.Second, cfg.Session.DedupWindow)
	assert.Equal(t, 1500*time.Millisecond, cfg.Session.ToolClearGrace)
	assert.Equal(t, 30*time.Second, cfg.Resume.Freshness)
	assert.Equal(t, 2*time.Second, cfg.Resume.PollInterval)
	assert.Equal(t, 10, cfg.Resume.MaxAttempts)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_CHAT_TOKEN", "token-from-env")

	path := writeConfig(t, `
server:
  base_url: http://localhost:8080
  token: ${TEST_CHAT_TOKEN}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "token-from-env", cfg.Server.Token)
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: http://localhost:8080
  token: ${DEFINITELY_NOT_SET_ANYWHERE}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Server.Token)
}

func TestLoad_MissingBaseURL(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: http://localhost:8080
session:
  dedup_window: not-a-duration
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 32, cfg.Session.MaxCached)
	assert.Empty(t, cfg.Server.BaseURL, "the server section still needs filling in")
}
