package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "TMUX_SESSION", "TMUX_PANE",
		"LOG_LEVEL", "LOG_DIR", "HISTORY_DB",
		"POLL_INTERVAL_MS", "MONITOR_INTERVAL_MS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.TmuxSession != "claude-bridge" {
		t.Errorf("expected default session claude-bridge, got %s", cfg.TmuxSession)
	}
	if cfg.TmuxPane != "1" {
		t.Errorf("expected default pane 1, got %s", cfg.TmuxPane)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %s", cfg.LogLevel)
	}
	if cfg.PollInterval() != 500*time.Millisecond {
		t.Errorf("expected 500ms poll interval, got %v", cfg.PollInterval())
	}
	if cfg.MonitorInterval() != 10*time.Second {
		t.Errorf("expected 10s monitor interval, got %v", cfg.MonitorInterval())
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.json")
	data := []byte(`{"port":"9090","tmux_session":"work","poll_interval_ms":100}`)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090 from file, got %s", cfg.Port)
	}
	if cfg.TmuxSession != "work" {
		t.Errorf("expected session work from file, got %s", cfg.TmuxSession)
	}
	if cfg.PollIntervalMS != 100 {
		t.Errorf("expected poll_interval_ms 100 from file, got %d", cfg.PollIntervalMS)
	}
	// Unset keys keep defaults
	if cfg.TmuxPane != "1" {
		t.Errorf("expected default pane 1, got %s", cfg.TmuxPane)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"port":"9090"}`), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7000")
	t.Setenv("TMUX_PANE", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "7000" {
		t.Errorf("env PORT should win over file, got %s", cfg.Port)
	}
	if cfg.TmuxPane != "3" {
		t.Errorf("env TMUX_PANE should apply, got %s", cfg.TmuxPane)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Error("expected error for malformed config file")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"log_level":"info"}`), 0600); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan Config, 1)
	w, err := NewWatcher(path, func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()
	go w.Start()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"log_level":"debug"}`), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.LogLevel != "debug" {
			t.Errorf("expected reloaded log level debug, got %s", cfg.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not deliver reload")
	}
}
