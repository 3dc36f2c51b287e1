// Package config loads bridge configuration from an optional JSON file
// with environment variable overrides, matching the original bridge's
// CONFIG_FILE / PORT / TMUX_SESSION / TMUX_PANE / LOG_LEVEL surface.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all runtime settings for the bridge.
type Config struct {
	// Port is the HTTP/WebSocket listen port.
	Port string `json:"port"`

	// TmuxSession is the tmux session name commands are dispatched into.
	TmuxSession string `json:"tmux_session"`

	// TmuxPane is the pane index within the session's active window.
	TmuxPane string `json:"tmux_pane"`

	// LogLevel is "debug", "info", "warn" or "error".
	LogLevel string `json:"log_level"`

	// LogDir enables rotating file logs when non-empty.
	LogDir string `json:"log_dir"`

	// HistoryDB is the path of the SQLite command-history database.
	// Empty disables history recording.
	HistoryDB string `json:"history_db"`

	// PollIntervalMS is the foreground poll interval in milliseconds.
	PollIntervalMS int `json:"poll_interval_ms"`

	// MonitorIntervalMS is the background recheck interval in milliseconds.
	MonitorIntervalMS int `json:"monitor_interval_ms"`
}

// Defaults mirrors the original bridge's built-in configuration.
func Defaults() Config {
	return Config{
		Port:              "8080",
		TmuxSession:       "claude-bridge",
		TmuxPane:          "1",
		LogLevel:          "info",
		PollIntervalMS:    500,
		MonitorIntervalMS: 10000,
	}
}

// Load builds the effective configuration: defaults, then the JSON file
// named by the CONFIG_FILE env var (if set and readable), then individual
// env overrides. A malformed config file is an error; a missing one is not.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := mergeFile(&cfg, path); err != nil && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// LoadFile builds the effective configuration from an explicit file path
// plus env overrides. Used by the reload watcher.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("TMUX_SESSION"); v != "" {
		cfg.TmuxSession = v
	}
	if v := os.Getenv("TMUX_PANE"); v != "" {
		cfg.TmuxPane = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("HISTORY_DB"); v != "" {
		cfg.HistoryDB = v
	}
	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollIntervalMS = n
		}
	}
	if v := os.Getenv("MONITOR_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MonitorIntervalMS = n
		}
	}
}

// PollInterval returns the foreground poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// MonitorInterval returns the background recheck interval as a duration.
func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalMS) * time.Millisecond
}

// ListenAddr returns the HTTP listen address derived from Port.
func (c Config) ListenAddr() string {
	return ":" + c.Port
}
