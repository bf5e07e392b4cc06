// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// peerchat.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - path passed to LoadFrom
//   - ~/.peerchat/config.toml
//   - Built-in defaults
package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete peerchat configuration.
type Config struct {
	Version string `toml:"version"`

	// Server endpoints
	Server ServerConfig `toml:"server"`

	// Local user identity
	Identity IdentityConfig `toml:"identity"`

	// Chat behavior tuning
	Chat ChatConfig `toml:"chat"`

	// UI configuration
	UI UIConfig `toml:"ui"`
}

// ServerConfig contains the chat backend endpoints.
type ServerConfig struct {
	// APIURL is the REST base URL (conversation list, history, uploads).
	APIURL string `toml:"api_url"`
	// SocketURL is the websocket endpoint for the realtime channel.
	SocketURL string `toml:"socket_url"`
}

// IdentityConfig contains the authenticated local user identity. The
// client refuses to open a realtime connection without a user id.
type IdentityConfig struct {
	UserID string `toml:"user_id"`
	Token  string `toml:"token"`
}

// ChatConfig contains chat behavior tuning.
type ChatConfig struct {
	// PollIntervalSecs is how often the conversation list is re-fetched
	// as a fallback reconciliation pass. Default: 30.
	PollIntervalSecs int `toml:"poll_interval_secs"`
	// TypingIdleMillis is the inactivity window after the last keystroke
	// before typing:false is emitted. Default: 1500.
	TypingIdleMillis int `toml:"typing_idle_millis"`
	// AckTimeoutSecs is how long a send may wait for acknowledgment
	// before its placeholder is failed. Default: 10.
	AckTimeoutSecs int `toml:"ack_timeout_secs"`
	// MaxImageBytes is the client-side upload size limit. Default: 5MB.
	MaxImageBytes int64 `toml:"max_image_bytes"`
	// ReconnectAttempts bounds automatic reconnection. Default: 5.
	ReconnectAttempts int `toml:"reconnect_attempts"`
	// ReconnectDelaySecs is the fixed delay between attempts. Default: 2.
	ReconnectDelaySecs int `toml:"reconnect_delay_secs"`
	// CachePath is the sqlite conversation cache location
	// (empty = ~/.peerchat/cache.db, "off" disables the cache).
	CachePath string `toml:"cache_path"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is the color theme name: "dark" or "light".
	Theme string `toml:"theme"`
	// LogPath receives socket lifecycle diagnostics
	// (empty = ~/.peerchat/peerchat.log).
	LogPath string `toml:"log_path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			APIURL:    "http://localhost:8080",
			SocketURL: "ws://localhost:8080/ws",
		},
		Chat: ChatConfig{
			PollIntervalSecs:   30,
			TypingIdleMillis:   1500,
			AckTimeoutSecs:     10,
			MaxImageBytes:      5 * 1024 * 1024,
			ReconnectAttempts:  5,
			ReconnectDelaySecs: 2,
		},
		UI: UIConfig{
			Theme: "dark",
		},
	}
}

// =============================================================================
// DURATION ACCESSORS
// =============================================================================

// PollInterval returns the conversation refresh interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Chat.PollIntervalSecs) * time.Second
}

// TypingIdle returns the typing debounce window.
func (c *Config) TypingIdle() time.Duration {
	return time.Duration(c.Chat.TypingIdleMillis) * time.Millisecond
}

// AckTimeout returns the send acknowledgment timeout.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Chat.AckTimeoutSecs) * time.Second
}

// ReconnectDelay returns the fixed delay between reconnection attempts.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Chat.ReconnectDelaySecs) * time.Second
}

// =============================================================================
// LOADING
// =============================================================================

var (
	loadOnce sync.Once
	loaded   *Config
	loadErr  error
)

// Load returns the process-wide configuration, reading it once from the
// default location with environment overrides applied.
func Load() (*Config, error) {
	loadOnce.Do(func() {
		loaded, loadErr = LoadFrom(DefaultPath())
	})
	return loaded, loadErr
}

// DefaultPath returns ~/.peerchat/config.toml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".peerchat", "config.toml")
}

// LoadFrom reads configuration from the given path. A missing file is not
// an error; defaults plus environment overrides are returned instead.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
		// Fall through to defaults.
	default:
		return nil, err
	}

	applyEnvOverrides(cfg)
	cfg.clamp()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies PEERCHAT_* environment variables on top of the
// file values. Environment always wins.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PEERCHAT_API_URL"); v != "" {
		cfg.Server.APIURL = v
	}
	if v := os.Getenv("PEERCHAT_SOCKET_URL"); v != "" {
		cfg.Server.SocketURL = v
	}
	if v := os.Getenv("PEERCHAT_USER_ID"); v != "" {
		cfg.Identity.UserID = v
	}
	if v := os.Getenv("PEERCHAT_TOKEN"); v != "" {
		cfg.Identity.Token = v
	}
}

// clamp forces tuning values into sane bounds rather than failing.
func (c *Config) clamp() {
	if c.Chat.PollIntervalSecs < 5 {
		c.Chat.PollIntervalSecs = 5
	}
	if c.Chat.TypingIdleMillis < 100 {
		c.Chat.TypingIdleMillis = 100
	}
	if c.Chat.AckTimeoutSecs < 1 {
		c.Chat.AckTimeoutSecs = 1
	}
	if c.Chat.MaxImageBytes <= 0 {
		c.Chat.MaxImageBytes = 5 * 1024 * 1024
	}
	if c.Chat.ReconnectAttempts < 0 {
		c.Chat.ReconnectAttempts = 0
	}
	if c.Chat.ReconnectDelaySecs < 1 {
		c.Chat.ReconnectDelaySecs = 1
	}
	if c.UI.Theme != "dark" && c.UI.Theme != "light" {
		c.UI.Theme = "dark"
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

var (
	// ErrBadAPIURL indicates the REST base URL could not be parsed.
	ErrBadAPIURL = errors.New("invalid api_url")

	// ErrBadSocketURL indicates the websocket URL is missing or not ws/wss.
	ErrBadSocketURL = errors.New("invalid socket_url")
)

// Validate checks the endpoint URLs. Identity is deliberately not
// validated here: a missing user id is a runtime error state surfaced by
// the connection manager, not a configuration failure.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrBadAPIURL
	}

	s, err := url.Parse(c.Server.SocketURL)
	if err != nil || s.Host == "" || !strings.HasPrefix(s.Scheme, "ws") {
		return ErrBadSocketURL
	}
	return nil
}

// CachePath resolves the sqlite cache location. Returns "" when the cache
// is disabled.
func (c *Config) CachePath() string {
	switch c.Chat.CachePath {
	case "off":
		return ""
	case "":
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		return filepath.Join(home, ".peerchat", "cache.db")
	default:
		return c.Chat.CachePath
	}
}
