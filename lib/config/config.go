// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the modmail service.
//
// Configuration is loaded from a single YAML file specified by:
//   - MODMAIL_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides. The only expansion
// performed is ${VAR} and ${VAR:-default} in path fields for portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the modmail service.
type Config struct {
	// Homeserver configures the Matrix connection.
	Homeserver HomeserverConfig `yaml:"homeserver"`

	// Rooms configures the well-known rooms the service operates on.
	Rooms RoomsConfig `yaml:"rooms"`

	// Relay configures message mirroring behavior.
	Relay RelayConfig `yaml:"relay"`

	// Archive configures transcript storage.
	Archive ArchiveConfig `yaml:"archive"`

	// State configures the on-disk runtime state.
	State StateConfig `yaml:"state"`

	// Control configures the local control socket.
	Control ControlConfig `yaml:"control"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// HomeserverConfig configures the Matrix connection.
type HomeserverConfig struct {
	// URL is the base URL of the homeserver, e.g. https://matrix.example.org.
	URL string `yaml:"url"`

	// ServerName is the server name portion of Matrix IDs, e.g. example.org.
	// Used to qualify room aliases created by the service.
	ServerName string `yaml:"server_name"`

	// UserID is the service's own Matrix user ID.
	UserID string `yaml:"user_id"`

	// AccessTokenFile is the path to a file containing the access token.
	// The token is kept out of the config file so the config can be
	// committed to version control.
	AccessTokenFile string `yaml:"access_token_file"`
}

// RoomsConfig names the rooms the service operates on. All three are room
// aliases resolved against the homeserver at startup; a missing alias is a
// configuration error, not a runtime error.
type RoomsConfig struct {
	// TicketSpace is the alias of the space that new ticket rooms are
	// created under, e.g. #modmail-tickets.
	TicketSpace string `yaml:"ticket_space"`

	// StaffRoom is the alias of the room whose members are granted access
	// to new ticket rooms.
	StaffRoom string `yaml:"staff_room"`

	// ArchiveRoom is the alias of the room that receives transcripts of
	// closed tickets.
	ArchiveRoom string `yaml:"archive_room"`
}

// RelayConfig configures message mirroring behavior.
type RelayConfig struct {
	// HistoryLimit is the maximum number of messages fetched when a
	// ticket is archived. Matrix pagination is not followed past the
	// first page; tickets longer than this produce a truncated
	// transcript. Default: 100.
	HistoryLimit int `yaml:"history_limit"`

	// OpeningNotice is the message posted into a freshly created ticket
	// room before the first mirrored message.
	OpeningNotice string `yaml:"opening_notice"`

	// ClosingNotice is the message delivered to the user when their
	// ticket is archived.
	ClosingNotice string `yaml:"closing_notice"`
}

// ArchiveConfig configures local transcript storage.
type ArchiveConfig struct {
	// Dir is the directory where compressed transcript copies are kept.
	Dir string `yaml:"dir"`

	// Compression selects the codec for stored transcripts.
	// Values: "none", "lz4", "zstd". Default: zstd.
	Compression string `yaml:"compression"`
}

// StateConfig configures on-disk runtime state.
type StateConfig struct {
	// Dir is the directory holding the service database and sync token.
	Dir string `yaml:"dir"`
}

// ControlConfig configures the local control socket.
type ControlConfig struct {
	// SocketPath is the Unix socket path for modmailctl.
	SocketPath string `yaml:"socket_path"`
}

// Default returns the default configuration. These defaults ensure all
// fields have sensible zero-values; the config file is still required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "modmail")

	return &Config{
		Relay: RelayConfig{
			HistoryLimit:  100,
			OpeningNotice: "A staff member will be with you shortly.",
			ClosingNotice: "Your ticket has been closed. Message me again to open a new one.",
		},
		Archive: ArchiveConfig{
			Dir:         filepath.Join(defaultRoot, "archives"),
			Compression: "zstd",
		},
		State: StateConfig{
			Dir: filepath.Join(defaultRoot, "state"),
		},
		Control: ControlConfig{
			SocketPath: "/run/modmail/control.sock",
		},
		LogLevel: "info",
	}
}

// Load loads configuration from the MODMAIL_CONFIG environment variable.
//
// There are no fallbacks - if MODMAIL_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("MODMAIL_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("MODMAIL_CONFIG environment variable not set; " +
			"set it to the path of your modmail.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do
// not override config values; the only expansion performed is ${VAR} and
// ${VAR:-default} in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()

	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.State.Dir = expandVars(c.State.Dir, vars)
	vars["MODMAIL_STATE"] = c.State.Dir // Update for dependent paths.

	c.Archive.Dir = expandVars(c.Archive.Dir, vars)
	c.Control.SocketPath = expandVars(c.Control.SocketPath, vars)
	c.Homeserver.AccessTokenFile = expandVars(c.Homeserver.AccessTokenFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

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

		// Check provided vars first, then environment.
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

	if c.Homeserver.URL == "" {
		errs = append(errs, fmt.Errorf("homeserver.url is required"))
	}
	if c.Homeserver.ServerName == "" {
		errs = append(errs, fmt.Errorf("homeserver.server_name is required"))
	}
	if c.Homeserver.UserID == "" {
		errs = append(errs, fmt.Errorf("homeserver.user_id is required"))
	}
	if c.Homeserver.AccessTokenFile == "" {
		errs = append(errs, fmt.Errorf("homeserver.access_token_file is required"))
	}

	if c.Rooms.TicketSpace == "" {
		errs = append(errs, fmt.Errorf("rooms.ticket_space is required"))
	}
	if c.Rooms.StaffRoom == "" {
		errs = append(errs, fmt.Errorf("rooms.staff_room is required"))
	}
	if c.Rooms.ArchiveRoom == "" {
		errs = append(errs, fmt.Errorf("rooms.archive_room is required"))
	}

	if c.Relay.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("relay.history_limit must be positive"))
	}

	compressionValues := []string{"none", "lz4", "zstd"}
	if !contains(compressionValues, c.Archive.Compression) {
		errs = append(errs, fmt.Errorf("archive.compression must be one of: %v", compressionValues))
	}

	if c.State.Dir == "" {
		errs = append(errs, fmt.Errorf("state.dir is required"))
	}
	if c.Control.SocketPath == "" {
		errs = append(errs, fmt.Errorf("control.socket_path is required"))
	}

	logLevels := []string{"debug", "info", "warn", "error"}
	if !contains(logLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of: %v", logLevels))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.State.Dir,
		c.Archive.Dir,
		filepath.Dir(c.Control.SocketPath),
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
