// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the deployment type.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for the session kit's CLI and
// for applications embedding the manager.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	// Gateway configures the authentication service client.
	Gateway GatewayConfig `yaml:"gateway"`

	// Companion configures the dependent-session coordinator.
	Companion CompanionConfig `yaml:"companion"`

	// Session configures the lifecycle manager and its stores.
	Session SessionConfig `yaml:"session"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging"`

	// Per-environment overrides, applied after the base values load.
	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the sections that may differ per environment.
// When a section is present, its bool fields are applied
// unconditionally; string and integer fields apply only when set.
type Overrides struct {
	Gateway *GatewayConfig `yaml:"gateway,omitempty"`
	Session *SessionConfig `yaml:"session,omitempty"`
}

// GatewayConfig configures the authentication service client.
type GatewayConfig struct {
	// BaseURL is the authentication service base URL.
	BaseURL string `yaml:"base_url"`

	// RequestTimeoutSeconds bounds each gateway call.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

// RequestTimeout returns the per-call bound as a Duration.
func (g GatewayConfig) RequestTimeout() time.Duration {
	return time.Duration(g.RequestTimeoutSeconds) * time.Second
}

// CompanionConfig configures the dependent-session coordinator.
type CompanionConfig struct {
	// ConversationBaseURL is the companion conversation service.
	ConversationBaseURL string `yaml:"conversation_base_url"`

	// RevocationBaseURL is the grant revocation service. Empty
	// disables revocation calls.
	RevocationBaseURL string `yaml:"revocation_base_url"`

	// PersonaFile is the JSONC persona profile for new conversations.
	PersonaFile string `yaml:"persona_file"`

	// APIKeyFile is the age-sealed conversation service API key.
	APIKeyFile string `yaml:"api_key_file"`

	// IdentityFile is the machine identity that unseals APIKeyFile.
	IdentityFile string `yaml:"identity_file"`

	// CallTimeoutSeconds bounds each best-effort coordinator call.
	CallTimeoutSeconds int `yaml:"call_timeout_seconds"`
}

// CallTimeout returns the best-effort call bound as a Duration.
func (c CompanionConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// SessionConfig configures the lifecycle manager.
type SessionConfig struct {
	// InactivityMinutes is the idle threshold before automatic
	// sign-out. Default 30.
	InactivityMinutes int `yaml:"inactivity_minutes"`

	// ExpiryPollSeconds is the watchdog poll interval. Default 60.
	ExpiryPollSeconds int `yaml:"expiry_poll_seconds"`

	// TouchMinutes is the minimum interval between activity
	// heartbeats sent to the gateway. 0 disables heartbeats.
	TouchMinutes int `yaml:"touch_minutes"`

	// VerifyResetsActivity treats a successful remote verification
	// as local activity. Default true.
	VerifyResetsActivity bool `yaml:"verify_resets_activity"`

	// StorePath is the persisted session file.
	StorePath string `yaml:"store_path"`

	// Sealed selects the encrypted-at-rest session store.
	Sealed bool `yaml:"sealed"`

	// MachineKeyFile is the 32-byte key for the sealed store.
	MachineKeyFile string `yaml:"machine_key_file"`
}

// InactivityThreshold returns the idle threshold as a Duration.
func (s SessionConfig) InactivityThreshold() time.Duration {
	return time.Duration(s.InactivityMinutes) * time.Minute
}

// ExpiryPollInterval returns the watchdog interval as a Duration.
func (s SessionConfig) ExpiryPollInterval() time.Duration {
	return time.Duration(s.ExpiryPollSeconds) * time.Second
}

// TouchInterval returns the heartbeat floor as a Duration.
func (s SessionConfig) TouchInterval() time.Duration {
	return time.Duration(s.TouchMinutes) * time.Minute
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default info.
	Level string `yaml:"level"`
}

// Default returns a Config with development defaults. Used as the
// base before a config file loads over it, and directly when no
// config file is given.
func Default() *Config {
	configDir := "${HOME}/.config/simally"

	return &Config{
		Environment: Development,
		Gateway: GatewayConfig{
			BaseURL:               "http://localhost:8080",
			RequestTimeoutSeconds: 30,
		},
		Companion: CompanionConfig{
			ConversationBaseURL: "https://tavusapi.com",
			PersonaFile:         filepath.Join(configDir, "persona.jsonc"),
			APIKeyFile:          filepath.Join(configDir, "companion-key.age"),
			IdentityFile:        filepath.Join(configDir, "identity.key"),
			CallTimeoutSeconds:  10,
		},
		Session: SessionConfig{
			InactivityMinutes:    30,
			ExpiryPollSeconds:    60,
			TouchMinutes:         5,
			VerifyResetsActivity: true,
			StorePath:            filepath.Join(configDir, "session.json"),
			MachineKeyFile:       filepath.Join(configDir, "session.key"),
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load loads configuration from the path in SIMALLY_CONFIG. There is
// no file discovery: an unset variable is an error. Use LoadOrDefault
// for tools that should run on pure defaults.
func Load() (*Config, error) {
	path := os.Getenv("SIMALLY_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("config: SIMALLY_CONFIG is not set; point it at your simally.yaml or pass --config")
	}
	return LoadFile(path)
}

// LoadOrDefault loads from SIMALLY_CONFIG when set, and otherwise
// returns the expanded defaults.
func LoadOrDefault() (*Config, error) {
	if os.Getenv("SIMALLY_CONFIG") != "" {
		return Load()
	}
	cfg := Default()
	cfg.finish()
	return cfg, cfg.Validate()
}

// LoadFile loads configuration from a specific file. The file is the
// single source of truth: environment variables never override values
// in it. The only expansion is ${VAR} and ${VAR:-default} on path
// fields, for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.finish()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// finish applies environment overrides and variable expansion.
func (c *Config) finish() {
	c.applyEnvironmentOverrides()
	c.expandVariables()
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if o := overrides.Gateway; o != nil {
		if o.BaseURL != "" {
			c.Gateway.BaseURL = o.BaseURL
		}
		if o.RequestTimeoutSeconds != 0 {
			c.Gateway.RequestTimeoutSeconds = o.RequestTimeoutSeconds
		}
	}

	if o := overrides.Session; o != nil {
		if o.InactivityMinutes != 0 {
			c.Session.InactivityMinutes = o.InactivityMinutes
		}
		if o.ExpiryPollSeconds != 0 {
			c.Session.ExpiryPollSeconds = o.ExpiryPollSeconds
		}
		if o.TouchMinutes != 0 {
			c.Session.TouchMinutes = o.TouchMinutes
		}
		if o.StorePath != "" {
			c.Session.StorePath = o.StorePath
		}
		if o.MachineKeyFile != "" {
			c.Session.MachineKeyFile = o.MachineKeyFile
		}
		// Bools from an override section apply unconditionally.
		c.Session.VerifyResetsActivity = o.VerifyResetsActivity
		c.Session.Sealed = o.Sealed
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Companion.PersonaFile = expandVars(c.Companion.PersonaFile, vars)
	c.Companion.APIKeyFile = expandVars(c.Companion.APIKeyFile, vars)
	c.Companion.IdentityFile = expandVars(c.Companion.IdentityFile, vars)
	c.Session.StorePath = expandVars(c.Session.StorePath, vars)
	c.Session.MachineKeyFile = expandVars(c.Session.MachineKeyFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, checking
// the provided vars first and the environment second.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Gateway.BaseURL == "" {
		errs = append(errs, fmt.Errorf("gateway.base_url is required"))
	} else if parsed, err := url.Parse(c.Gateway.BaseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("gateway.base_url %q is not an absolute URL", c.Gateway.BaseURL))
	}

	if c.Gateway.RequestTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("gateway.request_timeout_seconds must be positive"))
	}
	if c.Session.InactivityMinutes <= 0 {
		errs = append(errs, fmt.Errorf("session.inactivity_minutes must be positive"))
	}
	if c.Session.ExpiryPollSeconds <= 0 {
		errs = append(errs, fmt.Errorf("session.expiry_poll_seconds must be positive"))
	}
	if c.Session.TouchMinutes < 0 {
		errs = append(errs, fmt.Errorf("session.touch_minutes must not be negative"))
	}
	if c.Session.StorePath == "" {
		errs = append(errs, fmt.Errorf("session.store_path is required"))
	}
	if c.Session.Sealed && c.Session.MachineKeyFile == "" {
		errs = append(errs, fmt.Errorf("session.machine_key_file is required when session.sealed is true"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn, or error"))
	}

	return errors.Join(errs...)
}
