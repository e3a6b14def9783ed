package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/harun/mcpgate/pkg/commandqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	t.Run("should print version and runtime", func(t *testing.T) {
		out, err := execute(t, "version")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "mcpgate "+GetVersion()))
	})
}

func TestStatusCommand(t *testing.T) {
	t.Run("should report a stopped server", func(t *testing.T) {
		out, err := execute(t, "status", "--config", writeConfig(t, ""))
		require.NoError(t, err)
		assert.Contains(t, out, "Status: stopped")
	})

	t.Run("should show help", func(t *testing.T) {
		out, err := execute(t, "status", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "status")
	})
}

func TestStopCommand(t *testing.T) {
	t.Run("should do nothing when no server runs", func(t *testing.T) {
		out, err := execute(t, "stop", "--config", writeConfig(t, ""))
		require.NoError(t, err)
		assert.Contains(t, out, "Server is not running")
	})

	t.Run("should document the timeout", func(t *testing.T) {
		out, err := execute(t, "stop", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "SIGTERM")
		assert.Contains(t, out, "timeout")
	})
}

func TestToolsCommand(t *testing.T) {
	t.Run("should list built-in tools", func(t *testing.T) {
		out, err := execute(t, "tools", "--config", writeConfig(t, ""))
		require.NoError(t, err)

		assert.Contains(t, out, "addTwoNumbers - ")
		assert.Contains(t, out, "openLink - ")
		assert.Contains(t, out, "url (string, required)")
	})

	t.Run("should print input schemas as JSON", func(t *testing.T) {
		defer func() { toolsJSON = false }()
		out, err := execute(t, "tools", "--json", "--config", writeConfig(t, ""))
		require.NoError(t, err)

		var entries []map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(out), &entries))
		require.Len(t, entries, 3)
		assert.Equal(t, "addTwoNumbers", entries[0]["name"])
		assert.Equal(t, "object", entries[0]["inputSchema"].(map[string]interface{})["type"])
	})

	t.Run("should report an empty catalog", func(t *testing.T) {
		out, err := execute(t, "tools", "--config", writeConfig(t, `,"tools":{"builtin":false}`))
		require.NoError(t, err)
		assert.Contains(t, out, "No tools registered")
	})
}

func TestAskCommand(t *testing.T) {
	t.Run("should require a message", func(t *testing.T) {
		_, err := execute(t, "ask")
		assert.Error(t, err)
	})
}

func TestHealth(t *testing.T) {
	t.Run("should map wildcard listen addresses to loopback", func(t *testing.T) {
		assert.Equal(t, "http://127.0.0.1:3000/healthz", healthURL(":3000"))
		assert.Equal(t, "http://127.0.0.1:3000/healthz", healthURL("0.0.0.0:3000"))
		assert.Equal(t, "http://10.0.0.5:8080/healthz", healthURL("10.0.0.5:8080"))
	})

	t.Run("should decode the health report", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"ok","sessions":4,"queue":{"lanes":2,"queued":1,"running":2}}`))
		}))
		defer srv.Close()

		report, err := fetchHealth(srv.URL)
		require.NoError(t, err)
		assert.Equal(t, "ok", report.Status)
		assert.Equal(t, 4, report.Sessions)
		assert.Equal(t, commandqueue.Stats{Lanes: 2, Queued: 1, Running: 2}, report.Queue)
	})

	t.Run("should fail on a non-200 answer", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := fetchHealth(srv.URL)
		assert.Error(t, err)
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
