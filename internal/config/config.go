package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the mcpgate process configuration.
type Config struct {
	Server  ServerConfig  `json:"server" mapstructure:"server"`
	Session SessionConfig `json:"session" mapstructure:"session"`
	Agent   AgentConfig   `json:"agent" mapstructure:"agent"`
	Tools   ToolsConfig   `json:"tools" mapstructure:"tools"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
	Hooks   HooksConfig   `json:"hooks" mapstructure:"hooks"`
}

// ServerConfig configures the HTTP session endpoint.
type ServerConfig struct {
	Listen          string        `json:"listen" mapstructure:"listen"`
	Endpoint        string        `json:"endpoint" mapstructure:"endpoint"`
	MaxBodyBytes    int64         `json:"max_body_bytes" mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MetricsEnabled  bool          `json:"metrics_enabled" mapstructure:"metrics_enabled"`
	PIDFile         string        `json:"pid_file" mapstructure:"pid_file"` // default ~/.mcpgate/mcpgate.pid
}

// SessionConfig configures session lifetime and conversation seeds.
type SessionConfig struct {
	IdleTTL       time.Duration `json:"idle_ttl" mapstructure:"idle_ttl"`
	SweepSchedule string        `json:"sweep_schedule" mapstructure:"sweep_schedule"`
	Greeting      string        `json:"greeting" mapstructure:"greeting"`
	ResetGreeting string        `json:"reset_greeting" mapstructure:"reset_greeting"`
}

// AgentConfig selects the model gateway and bounds the agent loop.
type AgentConfig struct {
	Provider       string        `json:"provider" mapstructure:"provider"` // gemini, anthropic, openai
	Model          string        `json:"model" mapstructure:"model"`
	APIKey         string        `json:"api_key" mapstructure:"api_key"`
	BaseURL        string        `json:"base_url" mapstructure:"base_url"`
	SystemPrompt   string        `json:"system_prompt" mapstructure:"system_prompt"`
	Temperature    float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens      int           `json:"max_tokens" mapstructure:"max_tokens"`
	MaxIterations  int           `json:"max_iterations" mapstructure:"max_iterations"`
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
}

// ToolsConfig configures the tool registry.
type ToolsConfig struct {
	Builtin        bool               `json:"builtin" mapstructure:"builtin"`
	Timeout        time.Duration      `json:"timeout" mapstructure:"timeout"`
	MaxOutputBytes int                `json:"max_output_bytes" mapstructure:"max_output_bytes"`
	Remote         []RemoteToolServer `json:"remote" mapstructure:"remote"`
}

// RemoteToolServer is an upstream MCP server whose tools are proxied.
type RemoteToolServer struct {
	Name   string `json:"name" mapstructure:"name"`
	URL    string `json:"url" mapstructure:"url"`
	Prefix string `json:"prefix" mapstructure:"prefix"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// TracingConfig configures the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// HooksConfig configures shell hooks run on lifecycle events.
type HooksConfig struct {
	Enabled bool         `json:"enabled" mapstructure:"enabled"`
	Hooks   []HookConfig `json:"hooks" mapstructure:"hooks"`
}

// HookConfig is one hook. Event is one of server:startup, server:shutdown,
// session:created, session:closed.
type HookConfig struct {
	ID      string        `json:"id" mapstructure:"id"`
	Event   string        `json:"event" mapstructure:"event"`
	Script  string        `json:"script" mapstructure:"script"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
}

const (
	DefaultGreeting      = "Hello there! I'm an AI assistant. How can I help you today?"
	DefaultResetGreeting = "Chat history cleared. How can I help you start fresh?"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:3000",
			Endpoint:        "/mcp",
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 10 * time.Second,
			MetricsEnabled:  true,
		},
		Session: SessionConfig{
			IdleTTL:       30 * time.Minute,
			SweepSchedule: "@every 1m",
			Greeting:      DefaultGreeting,
			ResetGreeting: DefaultResetGreeting,
		},
		Agent: AgentConfig{
			Provider:       "gemini",
			Model:          "gemini-2.0-flash",
			MaxTokens:      4096,
			MaxIterations:  10,
			RequestTimeout: 2 * time.Minute,
		},
		Tools: ToolsConfig{
			Builtin:        true,
			Timeout:        30 * time.Second,
			MaxOutputBytes: 10 * 1024,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			ServiceName: "mcpgate",
			SampleRatio: 1,
		},
	}
}

// String renders the configuration as indented JSON with the API key masked.
func (c *Config) String() string {
	masked := *c
	if masked.Agent.APIKey != "" {
		masked.Agent.APIKey = "***"
	}
	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

// PIDFilePath returns the PID file the server writes while running.
func (c *Config) PIDFilePath() string {
	if c.Server.PIDFile != "" {
		return c.Server.PIDFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "mcpgate.pid")
	}
	return filepath.Join(home, ".mcpgate", "mcpgate.pid")
}
