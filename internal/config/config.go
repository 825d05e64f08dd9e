// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigrun-chat configuration.
type Config struct {
	// DefaultModel is the model id new sessions start with.
	DefaultModel string `toml:"default_model" json:"default_model"`

	// SystemPrompt seeds every conversation.
	SystemPrompt string `toml:"system_prompt" json:"system_prompt"`

	// Models replaces the built-in registry when non-empty. Order matters:
	// the first match wins when resolving a model command.
	Models []model.Info `toml:"models" json:"models"`

	Cloud   CloudConfig   `toml:"cloud" json:"cloud"`
	History HistoryConfig `toml:"history" json:"history"`
	Session SessionConfig `toml:"session" json:"session"`
	Server  ServerConfig  `toml:"server" json:"server"`
	Log     LogConfig     `toml:"log" json:"log"`
}

// CloudConfig contains completion provider (OpenRouter) configuration.
type CloudConfig struct {
	APIKey   string   `toml:"api_key" json:"api_key"`
	BaseURL  string   `toml:"base_url" json:"base_url"`
	SiteURL  string   `toml:"site_url" json:"site_url"`
	SiteName string   `toml:"site_name" json:"site_name"`
	Timeout  Duration `toml:"timeout" json:"timeout"`
}

// HistoryConfig bounds conversation history.
type HistoryConfig struct {
	// MaxTurns is the cap on turns kept, system turn included.
	MaxTurns int `toml:"max_turns" json:"max_turns"`
}

// SessionConfig controls session lifetime in the session manager.
type SessionConfig struct {
	// IdleTimeout is how long a session may sit unused before it is reaped.
	IdleTimeout Duration `toml:"idle_timeout" json:"idle_timeout"`
	// ReapInterval is how often the reaper runs.
	ReapInterval Duration `toml:"reap_interval" json:"reap_interval"`
}

// ServerConfig contains HTTP API settings for the serve command.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`
	// RateLimit is the sustained requests per second allowed per client IP.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	// RateBurst is the per-client burst size.
	RateBurst int `toml:"rate_burst" json:"rate_burst"`
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `toml:"max_body_bytes" json:"max_body_bytes"`
	// AuthToken, when set, is required as a bearer token on /v1 routes.
	AuthToken string `toml:"auth_token" json:"auth_token"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
}

// Duration is a time.Duration written as a string ("60s", "30m") in files.
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. A bare integer is
// read as seconds.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if secs, err := strconv.Atoi(s); err == nil {
		d.Duration = time.Duration(secs) * time.Second
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default values.
const (
	DefaultSiteURL      = "http://localhost:8000"
	DefaultSiteName     = "Agentic AI Chatbot"
	DefaultIdleTimeout  = 30 * time.Minute
	DefaultReapInterval = time.Minute
	DefaultAddr         = "127.0.0.1:8000"
	DefaultRateLimit    = 5.0
	DefaultRateBurst    = 10
	DefaultMaxBodyBytes = 2 << 20
)

// Default returns a configuration with built-in defaults.
func Default() *Config {
	models := make([]model.Info, len(model.DefaultModels))
	copy(models, model.DefaultModels)

	return &Config{
		DefaultModel: model.DefaultModelID,
		SystemPrompt: model.DefaultSystemPrompt,
		Models:       models,
		Cloud: CloudConfig{
			BaseURL:  cloud.DefaultBaseURL,
			SiteURL:  DefaultSiteURL,
			SiteName: DefaultSiteName,
			Timeout:  Duration{cloud.DefaultTimeout},
		},
		History: HistoryConfig{MaxTurns: model.DefaultHistoryCap},
		Session: SessionConfig{
			IdleTimeout:  Duration{DefaultIdleTimeout},
			ReapInterval: Duration{DefaultReapInterval},
		},
		Server: ServerConfig{
			Addr:         DefaultAddr,
			RateLimit:    DefaultRateLimit,
			RateBurst:    DefaultRateBurst,
			MaxBodyBytes: DefaultMaxBodyBytes,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// SetDefaults fills zero values with defaults. Values read from a file are
// left alone.
func (c *Config) SetDefaults() {
	d := Default()

	if c.DefaultModel == "" {
		c.DefaultModel = d.DefaultModel
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	if len(c.Models) == 0 {
		c.Models = d.Models
	}
	for i := range c.Models {
		if c.Models[i].Name == "" {
			c.Models[i].Name = c.Models[i].ID
		}
	}

	if c.Cloud.BaseURL == "" {
		c.Cloud.BaseURL = d.Cloud.BaseURL
	}
	if c.Cloud.SiteURL == "" {
		c.Cloud.SiteURL = d.Cloud.SiteURL
	}
	if c.Cloud.SiteName == "" {
		c.Cloud.SiteName = d.Cloud.SiteName
	}
	if c.Cloud.Timeout.Duration == 0 {
		c.Cloud.Timeout = d.Cloud.Timeout
	}

	if c.History.MaxTurns == 0 {
		c.History.MaxTurns = d.History.MaxTurns
	}

	if c.Session.IdleTimeout.Duration == 0 {
		c.Session.IdleTimeout = d.Session.IdleTimeout
	}
	if c.Session.ReapInterval.Duration == 0 {
		c.Session.ReapInterval = d.Session.ReapInterval
	}

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = d.Server.RateLimit
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = d.Server.RateBurst
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigrun-chat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun-chat"), nil
}

// ConfigPath returns the path to the default TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads configuration from path, or from the default location when
// path is empty. A missing default file is not an error. Defaults, then the
// file, then environment overrides are applied, and the result is validated.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := &Config{}
	if err := LoadTOML(cfg, path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	cfg.SetDefaults()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the TOML file at path into cfg. Unknown keys are
// rejected so typos surface early.
func LoadTOML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return DecodeTOML(cfg, data)
}

// DecodeTOML decodes TOML text into cfg.
func DecodeTOML(cfg *Config, data []byte) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes cfg to path atomically with 0600 permissions, since the
// file may hold an API key.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rigrun-chat configuration file\n")
	buf.WriteString("# Environment: RIGRUN_CHAT_API_KEY or OPENROUTER_API_KEY override cloud.api_key\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - OPENROUTER_API_KEY: cloud.api_key
//   - RIGRUN_CHAT_API_KEY: cloud.api_key (wins over OPENROUTER_API_KEY)
//   - RIGRUN_CHAT_BASE_URL: cloud.base_url
//   - RIGRUN_CHAT_MODEL: default_model
//   - RIGRUN_CHAT_TIMEOUT: cloud.timeout
//   - RIGRUN_CHAT_MAX_TURNS: history.max_turns
//   - RIGRUN_CHAT_ADDR: server.addr
//   - RIGRUN_CHAT_AUTH_TOKEN: server.auth_token
//   - RIGRUN_CHAT_LOG_LEVEL: log.level
//
// Unparseable numeric or duration values are ignored.
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.Cloud.APIKey = key
	}
	if key := os.Getenv("RIGRUN_CHAT_API_KEY"); key != "" {
		c.Cloud.APIKey = key
	}
	if u := os.Getenv("RIGRUN_CHAT_BASE_URL"); u != "" {
		c.Cloud.BaseURL = u
	}
	if m := os.Getenv("RIGRUN_CHAT_MODEL"); m != "" {
		c.DefaultModel = m
	}
	if v := os.Getenv("RIGRUN_CHAT_TIMEOUT"); v != "" {
		var d Duration
		if err := d.UnmarshalText([]byte(v)); err == nil {
			c.Cloud.Timeout = d
		}
	}
	if v := os.Getenv("RIGRUN_CHAT_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.History.MaxTurns = n
		}
	}
	if addr := os.Getenv("RIGRUN_CHAT_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if tok := os.Getenv("RIGRUN_CHAT_AUTH_TOKEN"); tok != "" {
		c.Server.AuthToken = tok
	}
	if lvl := os.Getenv("RIGRUN_CHAT_LOG_LEVEL"); lvl != "" {
		c.Log.Level = lvl
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns every problem found as
// ValidateErrors. A missing API key is not a validation error: commands
// that need the provider report it when building the client.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if _, err := model.NewRegistry(c.Models); err != nil {
		errs = append(errs, ValidationError{Field: "models", Message: err.Error()})
	} else {
		found := false
		for _, m := range c.Models {
			if m.ID == c.DefaultModel {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, ValidationError{
				Field:   "default_model",
				Message: fmt.Sprintf("'%s' is not one of the configured models", c.DefaultModel),
			})
		}
	}

	if strings.TrimSpace(c.SystemPrompt) == "" {
		errs = append(errs, ValidationError{Field: "system_prompt", Message: "must not be empty"})
	}

	if u, err := url.Parse(c.Cloud.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "cloud.base_url",
			Message: fmt.Sprintf("invalid URL '%s', must be http(s)://host[/path]", c.Cloud.BaseURL),
		})
	}
	if c.Cloud.Timeout.Duration < 0 {
		errs = append(errs, ValidationError{Field: "cloud.timeout", Message: "must not be negative"})
	}

	if c.History.MaxTurns < 1 {
		errs = append(errs, ValidationError{
			Field:   "history.max_turns",
			Message: fmt.Sprintf("must be at least 1, got %d", c.History.MaxTurns),
		})
	}

	if c.Session.IdleTimeout.Duration < 0 {
		errs = append(errs, ValidationError{Field: "session.idle_timeout", Message: "must not be negative"})
	}
	if c.Session.ReapInterval.Duration < 0 {
		errs = append(errs, ValidationError{Field: "session.reap_interval", Message: "must not be negative"})
	}

	if c.Server.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit", Message: "must not be negative"})
	}
	if c.Server.RateBurst < 1 {
		errs = append(errs, ValidationError{Field: "server.rate_burst", Message: "must be at least 1"})
	}
	if c.Server.MaxBodyBytes < 1 {
		errs = append(errs, ValidationError{Field: "server.max_body_bytes", Message: "must be at least 1"})
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: json, console", c.Log.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Registry builds the model registry from the configured list.
func (c *Config) Registry() (*model.Registry, error) {
	return model.NewRegistry(c.Models)
}

// CloudClientConfig returns the settings for cloud.NewClient.
func (c *Config) CloudClientConfig() cloud.Config {
	return cloud.Config{
		APIKey:   c.Cloud.APIKey,
		BaseURL:  c.Cloud.BaseURL,
		SiteURL:  c.Cloud.SiteURL,
		SiteName: c.Cloud.SiteName,
		Timeout:  c.Cloud.Timeout.Duration,
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Models = make([]model.Info, len(c.Models))
	copy(clone.Models, c.Models)
	return &clone
}

// String returns the config as JSON with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Cloud.APIKey != "" {
		safe.Cloud.APIKey = "[REDACTED]"
	}
	if safe.Server.AuthToken != "" {
		safe.Server.AuthToken = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
