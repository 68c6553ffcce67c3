// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable Load reads the path from.
const EnvironmentVariable = "CHATSYNC_CONFIG"

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Backend kinds.
const (
	BackendREST   = "rest"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Broadcast kinds. BroadcastGateway uses whatever broadcast facility
// the backend itself provides.
const (
	BroadcastRealtime = "realtime"
	BroadcastNATS     = "nats"
	BroadcastGateway  = "gateway"
)

// Config is the complete chatsync configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Backend   BackendConfig   `yaml:"backend"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Session   SessionConfig   `yaml:"session"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the per-environment replacements. Only non-empty
// fields are applied.
type Overrides struct {
	LogLevel  string           `yaml:"log_level,omitempty"`
	Backend   *BackendConfig   `yaml:"backend,omitempty"`
	Broadcast *BroadcastConfig `yaml:"broadcast,omitempty"`
	Session   *SessionConfig   `yaml:"session,omitempty"`
}

// BackendConfig selects and addresses the remote data gateway.
type BackendConfig struct {
	// Kind is rest, sqlite, or memory.
	Kind string `yaml:"kind"`

	// URL is the REST base URL (scheme and host, no /rest/v1 suffix).
	URL string `yaml:"url"`

	// RealtimeURL is the base URL of the realtime service when it is
	// not served from URL.
	RealtimeURL string `yaml:"realtime_url"`

	// APIKeyFile holds the anon key sent as apikey and bearer token.
	// "-" reads it from stdin.
	APIKeyFile string `yaml:"api_key_file"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`
}

// BroadcastConfig selects the ephemeral broadcast transport used for
// typing signals.
type BroadcastConfig struct {
	Kind string `yaml:"kind"`

	NATSURL string `yaml:"nats_url"`

	// TypingTopic is the shared channel name. Default: typing.
	TypingTopic string `yaml:"typing_topic"`
}

// SessionConfig configures the local user's session.
type SessionConfig struct {
	UserID string `yaml:"user_id"`

	// TypingTimeout is how long a remote typing=true stays visible
	// without a refresh. Default: 3s.
	TypingTimeout string `yaml:"typing_timeout"`

	// TypingPublishInterval throttles outgoing typing=true signals
	// per conversation. Default: 1s.
	TypingPublishInterval string `yaml:"typing_publish_interval"`

	// SearchLimit caps user search results. Default: 10.
	SearchLimit int `yaml:"search_limit"`
}

// Default returns the base configuration the file is merged over.
func Default() *Config {
	return &Config{
		Environment: Development,
		LogLevel:    "info",
		Backend: BackendConfig{
			Kind: BackendMemory,
		},
		Broadcast: BroadcastConfig{
			Kind:        BroadcastGateway,
			TypingTopic: "typing",
		},
		Session: SessionConfig{
			TypingTimeout:         "3s",
			TypingPublishInterval: "1s",
			SearchLimit:           10,
		},
	}
}

// Load reads the file named by CHATSYNC_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your chatsync.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile reads and validates the configuration at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies overrides and variable expansion, and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing: %w", err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	override(&c.LogLevel, overrides.LogLevel)
	if backend := overrides.Backend; backend != nil {
		override(&c.Backend.Kind, backend.Kind)
		override(&c.Backend.URL, backend.URL)
		override(&c.Backend.RealtimeURL, backend.RealtimeURL)
		override(&c.Backend.APIKeyFile, backend.APIKeyFile)
		override(&c.Backend.SQLitePath, backend.SQLitePath)
	}
	if broadcast := overrides.Broadcast; broadcast != nil {
		override(&c.Broadcast.Kind, broadcast.Kind)
		override(&c.Broadcast.NATSURL, broadcast.NATSURL)
		override(&c.Broadcast.TypingTopic, broadcast.TypingTopic)
	}
	if session := overrides.Session; session != nil {
		override(&c.Session.UserID, session.UserID)
		override(&c.Session.TypingTimeout, session.TypingTimeout)
		override(&c.Session.TypingPublishInterval, session.TypingPublishInterval)
		if session.SearchLimit > 0 {
			c.Session.SearchLimit = session.SearchLimit
		}
	}
}

func override(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func (c *Config) expandVariables() {
	for _, field := range []*string{
		&c.Backend.URL,
		&c.Backend.RealtimeURL,
		&c.Backend.APIKeyFile,
		&c.Backend.SQLitePath,
		&c.Broadcast.NATSURL,
		&c.Session.UserID,
	} {
		*field = expandVars(*field)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel))
	}

	switch c.Backend.Kind {
	case BackendREST:
		if c.Backend.URL == "" {
			errs = append(errs, errors.New("backend.url is required for the rest backend"))
		}
		if c.Backend.APIKeyFile == "" {
			errs = append(errs, errors.New("backend.api_key_file is required for the rest backend"))
		}
	case BackendSQLite:
		if c.Backend.SQLitePath == "" {
			errs = append(errs, errors.New("backend.sqlite_path is required for the sqlite backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("backend.kind must be rest, sqlite, or memory; got %q", c.Backend.Kind))
	}

	switch c.Broadcast.Kind {
	case BroadcastRealtime:
		if c.Backend.Kind != BackendREST {
			errs = append(errs, errors.New("broadcast.kind realtime requires backend.kind rest"))
		}
	case BroadcastNATS:
		if c.Broadcast.NATSURL == "" {
			errs = append(errs, errors.New("broadcast.nats_url is required for the nats broadcaster"))
		}
	case BroadcastGateway:
	default:
		errs = append(errs, fmt.Errorf("broadcast.kind must be realtime, nats, or gateway; got %q", c.Broadcast.Kind))
	}
	if c.Broadcast.TypingTopic == "" {
		errs = append(errs, errors.New("broadcast.typing_topic is required"))
	}

	for name, value := range map[string]string{
		"session.typing_timeout":          c.Session.TypingTimeout,
		"session.typing_publish_interval": c.Session.TypingPublishInterval,
	} {
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration; got %q", name, value))
		}
	}
	if c.Session.SearchLimit <= 0 {
		errs = append(errs, fmt.Errorf("session.search_limit must be positive; got %d", c.Session.SearchLimit))
	}

	return errors.Join(errs...)
}

// TypingTimeout returns the parsed session.typing_timeout. Only valid
// after Validate has succeeded.
func (c *Config) TypingTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Session.TypingTimeout)
	return d
}

// TypingPublishInterval returns the parsed
// session.typing_publish_interval. Only valid after Validate has
// succeeded.
func (c *Config) TypingPublishInterval() time.Duration {
	d, _ := time.ParseDuration(c.Session.TypingPublishInterval)
	return d
}
