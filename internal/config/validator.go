package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider checks that provider names a supported model gateway.
func (v *Validator) ValidateProvider(provider string) error {
	if _, ok := providerKeyEnv[provider]; !ok {
		return fmt.Errorf("unsupported provider %q (want gemini, anthropic or openai)", provider)
	}
	return nil
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateListen checks a host:port listen address.
func (v *Validator) ValidateListen(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return nil
}

// ValidateSchedule checks a cron spec, including descriptors like "@every 1m".
func (v *Validator) ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateRemote checks an upstream MCP server entry.
func (v *Validator) ValidateRemote(r RemoteToolServer) error {
	if r.Name == "" {
		return fmt.Errorf("remote tool server name is required")
	}
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("remote tool server %s: invalid url %q", r.Name, r.URL)
	}
	return nil
}

// Validate checks the parts of cfg needed to serve. The API key is only
// required when requireKey is set, so the tools command works without one.
func (v *Validator) Validate(cfg *Config, requireKey bool) error {
	var errs []error

	if err := v.ValidateListen(cfg.Server.Listen); err != nil {
		errs = append(errs, err)
	}
	if !strings.HasPrefix(cfg.Server.Endpoint, "/") {
		errs = append(errs, fmt.Errorf("server endpoint must start with /"))
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("server max_body_bytes must be positive"))
	}
	if cfg.Session.IdleTTL < 0 {
		errs = append(errs, fmt.Errorf("session idle_ttl cannot be negative"))
	}
	if cfg.Session.IdleTTL > 0 {
		if err := v.ValidateSchedule(cfg.Session.SweepSchedule); err != nil {
			errs = append(errs, err)
		}
	}
	if err := v.ValidateProvider(cfg.Agent.Provider); err != nil {
		errs = append(errs, err)
	}
	if cfg.Agent.Model == "" {
		errs = append(errs, fmt.Errorf("agent model cannot be empty"))
	}
	if cfg.Agent.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("agent max_iterations must be at least 1"))
	}
	if requireKey {
		if err := v.ValidateAPIKey(cfg.Agent.APIKey, cfg.Agent.Provider); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Tools.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("tools timeout must be positive"))
	}

	seen := make(map[string]bool)
	for _, r := range cfg.Tools.Remote {
		if err := v.ValidateRemote(r); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[r.Name] {
			errs = append(errs, fmt.Errorf("duplicate remote tool server %s", r.Name))
		}
		seen[r.Name] = true
	}

	return errors.Join(errs...)
}
