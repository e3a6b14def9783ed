package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLoad(t *testing.T) {
	t.Run("should load defaults when the file does not exist", func(t *testing.T) {
		cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.json")).Load()

		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Server, cfg.Server)
		assert.Equal(t, 30*time.Minute, cfg.Session.IdleTTL)
	})

	t.Run("should merge file values over defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mcpgate.json")
		content := `{
			"server": {"listen": "0.0.0.0:8080"},
			"agent": {"provider": "anthropic", "model": "claude-3-5-sonnet-20241022", "max_iterations": 4},
			"tools": {"timeout": "5s", "remote": [{"name": "social", "url": "http://localhost:3001/mcp"}]}
		}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := NewLoader(path).Load()

		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0:8080", cfg.Server.Listen)
		assert.Equal(t, "/mcp", cfg.Server.Endpoint)
		assert.Equal(t, "anthropic", cfg.Agent.Provider)
		assert.Equal(t, 4, cfg.Agent.MaxIterations)
		assert.Equal(t, 5*time.Second, cfg.Tools.Timeout)
		require.Len(t, cfg.Tools.Remote, 1)
		assert.Equal(t, "social", cfg.Tools.Remote[0].Name)
	})

	t.Run("should apply environment overrides", func(t *testing.T) {
		t.Setenv("MCPGATE_AGENT_MODEL", "gemini-1.5-pro")
		t.Setenv("MCPGATE_AGENT_MAX_ITERATIONS", "3")

		cfg, err := NewLoader("").Load()

		require.NoError(t, err)
		assert.Equal(t, "gemini-1.5-pro", cfg.Agent.Model)
		assert.Equal(t, 3, cfg.Agent.MaxIterations)
	})

	t.Run("should fall back to the provider api key variable", func(t *testing.T) {
		t.Setenv("MCPGATE_AGENT_API_KEY", "")
		t.Setenv("GEMINI_API_KEY", "gem-key")

		cfg, err := NewLoader("").Load()

		require.NoError(t, err)
		assert.Equal(t, "gem-key", cfg.Agent.APIKey)
	})

	t.Run("should fail on malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"server":`), 0o644))

		_, err := NewLoader(path).Load()
		assert.Error(t, err)
	})
}
