// ABOUTME: Tests for configuration loading
// ABOUTME: Verifies YAML parsing, env expansion, duration parsing, and validation

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
	path := filepath.Join(t.TempDir(), "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadComplete(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:5000"
database:
  path: "/tmp/parley.db"
chat:
  system_prompt: "You are terse."
  disable_summaries: true
  summary_timeout: "45s"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:5000", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/parley.db", cfg.Database.Path)
	assert.Equal(t, "You are terse.", cfg.Chat.SystemPrompt)
	assert.True(t, cfg.Chat.DisableSummaries)
	assert.Equal(t, 45*time.Second, cfg.Chat.SummaryTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadDefaultSummaryTimeout(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:5000"
database:
  path: "/tmp/parley.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Chat.SummaryTimeout)
	assert.False(t, cfg.Chat.DisableSummaries)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("PARLEY_TEST_DB", "/data/env.db")

	path := writeConfig(t, `
server:
  http_addr: "localhost:5000"
database:
  path: "${PARLEY_TEST_DB}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/env.db", cfg.Database.Path)
}

func TestLoadMissingHTTPAddr(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/parley.db"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http_addr")
}

func TestLoadMissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:5000"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:5000"
database:
  path: "/tmp/parley.db"
chat:
  summary_timeout: "not-a-duration"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summary_timeout")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
