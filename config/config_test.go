package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zhubert/agentdesk/paths"
)

func setupConfigHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(paths.HomeEnvVar, home)
	paths.Reset()
	t.Cleanup(paths.Reset)
	return home
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	home := setupConfigHome(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ClaudePath != DefaultClaudePath {
		t.Errorf("ClaudePath = %q, want %q", cfg.ClaudePath, DefaultClaudePath)
	}
	if cfg.StopGracePeriod.Std() != DefaultStopGracePeriod {
		t.Errorf("StopGracePeriod = %v, want %v", cfg.StopGracePeriod.Std(), DefaultStopGracePeriod)
	}
	if cfg.StatsInterval.Std() != DefaultStatsInterval {
		t.Errorf("StatsInterval = %v, want %v", cfg.StatsInterval.Std(), DefaultStatsInterval)
	}
	if want := filepath.Join(home, "agentdesk.sock"); cfg.SocketPath != want {
		t.Errorf("SocketPath = %q, want %q", cfg.SocketPath, want)
	}
	if want := filepath.Join(home, "config.yaml"); cfg.FilePath() != want {
		t.Errorf("FilePath = %q, want %q", cfg.FilePath(), want)
	}
}

func TestLoad_ParsesValues(t *testing.T) {
	home := setupConfigHome(t)
	path := writeConfig(t, home, `
claude_path: /opt/agent/cli.js
node_path: /usr/local/bin/node
extra_path:
  - /opt/tools/bin
stop_grace_period: 500ms
stats_interval: 5
default_provider_id: minimax
allowed_tools: [Read, "Bash(git:*)"]
debug: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ClaudePath != "/opt/agent/cli.js" || !cfg.UsesScriptCLI() {
		t.Errorf("ClaudePath = %q, UsesScriptCLI = %v", cfg.ClaudePath, cfg.UsesScriptCLI())
	}
	if cfg.StopGracePeriod.Std() != 500*time.Millisecond {
		t.Errorf("StopGracePeriod = %v, want 500ms", cfg.StopGracePeriod.Std())
	}
	if cfg.StatsInterval.Std() != 5*time.Second {
		t.Errorf("StatsInterval = %v, want 5s (bare integer is seconds)", cfg.StatsInterval.Std())
	}
	if len(cfg.AllowedTools) != 2 || cfg.AllowedTools[1] != "Bash(git:*)" {
		t.Errorf("AllowedTools = %v", cfg.AllowedTools)
	}
	if cfg.DefaultProviderID != "minimax" || !cfg.Debug {
		t.Errorf("DefaultProviderID = %q, Debug = %v", cfg.DefaultProviderID, cfg.Debug)
	}
	if cfg.MaxHistoryMessages != 0 {
		t.Errorf("MaxHistoryMessages = %d, want 0 (unlimited) when unset", cfg.MaxHistoryMessages)
	}
}

func TestLoad_HistoryCapIsOptIn(t *testing.T) {
	home := setupConfigHome(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxHistoryMessages != 0 {
		t.Errorf("default MaxHistoryMessages = %d, want 0", cfg.MaxHistoryMessages)
	}

	path := writeConfig(t, home, "max_history_messages: 0\n")
	if cfg, err = Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxHistoryMessages != 0 {
		t.Errorf("explicit 0 rewritten to %d", cfg.MaxHistoryMessages)
	}

	path = writeConfig(t, home, "max_history_messages: 50\n")
	if cfg, err = Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxHistoryMessages != 50 {
		t.Errorf("MaxHistoryMessages = %d, want 50", cfg.MaxHistoryMessages)
	}
}

func TestLoad_Errors(t *testing.T) {
	home := setupConfigHome(t)

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad duration", "stop_grace_period: soon\n", "invalid duration"},
		{"stats too fast", "stats_interval: 10ms\n", "stats_interval"},
		{"relative extra path", "extra_path: [bin]\n", "must be absolute"},
		{"not yaml", "claude_path: [unterminated\n", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, home, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	home := setupConfigHome(t)

	cfg := Default()
	cfg.StopGracePeriod = Duration(3 * time.Second)
	cfg.DefaultProviderID = "work"

	path := filepath.Join(home, "nested", "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "stop_grace_period: 3s") {
		t.Errorf("saved YAML should use duration strings:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.StopGracePeriod != cfg.StopGracePeriod || loaded.DefaultProviderID != "work" {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}
