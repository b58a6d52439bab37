package paths

import (
	"os"
	"path/filepath"
	"testing"
)

// setupTestHome points HOME at a temp dir, clears every override and resets the cache.
func setupTestHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv(HomeEnvVar, "")
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	Reset()
	t.Cleanup(Reset)
	return tmpDir
}

func assertDirs(t *testing.T, config, data, state string) {
	t.Helper()

	got, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir: %v", err)
	}
	if got != config {
		t.Errorf("ConfigDir = %q, want %q", got, config)
	}

	got, err = DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	if got != data {
		t.Errorf("DataDir = %q, want %q", got, data)
	}

	got, err = StateDir()
	if err != nil {
		t.Fatalf("StateDir: %v", err)
	}
	if got != state {
		t.Errorf("StateDir = %q, want %q", got, state)
	}
}

func TestFreshInstallNoXDG(t *testing.T) {
	home := setupTestHome(t)
	flat := filepath.Join(home, ".agentdesk")

	assertDirs(t, flat, flat, flat)
	if !IsFlatLayout() {
		t.Error("IsFlatLayout should be true for a fresh install without XDG")
	}
}

func TestHomeOverrideWins(t *testing.T) {
	home := setupTestHome(t)
	if err := os.MkdirAll(filepath.Join(home, ".agentdesk"), 0755); err != nil {
		t.Fatal(err)
	}
	override := filepath.Join(home, "elsewhere")
	t.Setenv(HomeEnvVar, override)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	Reset()

	assertDirs(t, override, override, override)
	if !IsFlatLayout() {
		t.Error("override should produce a flat layout")
	}
}

func TestFlatDirTakesPrecedenceOverXDG(t *testing.T) {
	home := setupTestHome(t)
	flat := filepath.Join(home, ".agentdesk")
	if err := os.MkdirAll(flat, 0755); err != nil {
		t.Fatal(err)
	}

	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	Reset()

	assertDirs(t, flat, flat, flat)
}

func TestXDGPartialVars(t *testing.T) {
	home := setupTestHome(t)

	xdgConfig := filepath.Join(home, "my-config")
	t.Setenv("XDG_CONFIG_HOME", xdgConfig)
	Reset()

	assertDirs(t,
		filepath.Join(xdgConfig, "agentdesk"),
		filepath.Join(home, ".local", "share", "agentdesk"),
		filepath.Join(home, ".local", "state", "agentdesk"),
	)
	if IsFlatLayout() {
		t.Error("IsFlatLayout should be false when using XDG")
	}
}

func TestDerivedPaths(t *testing.T) {
	home := setupTestHome(t)
	xdgConfig := filepath.Join(home, ".config")
	xdgData := filepath.Join(home, ".local", "share")
	xdgState := filepath.Join(home, ".local", "state")
	t.Setenv("XDG_CONFIG_HOME", xdgConfig)
	t.Setenv("XDG_DATA_HOME", xdgData)
	t.Setenv("XDG_STATE_HOME", xdgState)
	Reset()

	tests := []struct {
		name string
		fn   func() (string, error)
		want string
	}{
		{"ConfigFilePath", ConfigFilePath, filepath.Join(xdgConfig, "agentdesk", "config.yaml")},
		{"ProvidersFilePath", ProvidersFilePath, filepath.Join(xdgData, "agentdesk", "providers.json")},
		{"SessionsDir", SessionsDir, filepath.Join(xdgData, "agentdesk", "sessions")},
		{"LogsDir", LogsDir, filepath.Join(xdgState, "agentdesk", "logs")},
		{"PidsDir", PidsDir, filepath.Join(xdgState, "agentdesk", "pids")},
		{"HostPidFilePath", HostPidFilePath, filepath.Join(xdgState, "agentdesk", "agentdesk.pid")},
		{"SocketPath", SocketPath, filepath.Join(xdgState, "agentdesk", "agentdesk.sock")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn()
			if err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestResetClearsCache(t *testing.T) {
	home := setupTestHome(t)

	dir1, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir: %v", err)
	}
	if want := filepath.Join(home, ".agentdesk"); dir1 != want {
		t.Errorf("ConfigDir = %q, want %q", dir1, want)
	}

	xdgConfig := filepath.Join(home, "new-config")
	t.Setenv("XDG_CONFIG_HOME", xdgConfig)
	Reset()

	dir2, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir after reset: %v", err)
	}
	if want := filepath.Join(xdgConfig, "agentdesk"); dir2 != want {
		t.Errorf("ConfigDir after reset = %q, want %q", dir2, want)
	}
}

func TestFlatPathIsFileNotDir(t *testing.T) {
	home := setupTestHome(t)
	if err := os.WriteFile(filepath.Join(home, ".agentdesk"), []byte("not a dir"), 0644); err != nil {
		t.Fatal(err)
	}

	xdgConfig := filepath.Join(home, ".config")
	t.Setenv("XDG_CONFIG_HOME", xdgConfig)
	Reset()

	configDir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir: %v", err)
	}
	if want := filepath.Join(xdgConfig, "agentdesk"); configDir != want {
		t.Errorf("ConfigDir = %q, want %q", configDir, want)
	}
}
