// Package paths resolves where agentdesk keeps its files.
//
// Three kinds of files are kept apart when the platform allows it:
//
//   - Config (XDG_CONFIG_HOME): config.yaml
//   - Data (XDG_DATA_HOME): providers.json, sessions/*.json
//   - State (XDG_STATE_HOME): logs/, pids/, agentdesk.sock
//
// Resolution order:
//  1. AGENTDESK_HOME is set → everything lives under that directory
//  2. ~/.agentdesk/ exists → flat layout under ~/.agentdesk/
//  3. Any XDG variable is set → XDG layout, defaults for the unset ones
//  4. Otherwise → flat layout under ~/.agentdesk/
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

// HomeEnvVar overrides every other resolution rule when set.
const HomeEnvVar = "AGENTDESK_HOME"

const appName = "agentdesk"

var (
	mu       sync.Mutex
	resolved *layout
)

type layout struct {
	configDir string
	dataDir   string
	stateDir  string
	flat      bool
}

func flatLayout(dir string) *layout {
	return &layout{configDir: dir, dataDir: dir, stateDir: dir, flat: true}
}

// resolve computes the layout once and caches it.
func resolve() (*layout, error) {
	mu.Lock()
	defer mu.Unlock()

	if resolved != nil {
		return resolved, nil
	}

	if override := os.Getenv(HomeEnvVar); override != "" {
		resolved = flatLayout(override)
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	flatDir := filepath.Join(home, "."+appName)

	if info, err := os.Stat(flatDir); err == nil && info.IsDir() {
		resolved = flatLayout(flatDir)
		return resolved, nil
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	xdgData := os.Getenv("XDG_DATA_HOME")
	xdgState := os.Getenv("XDG_STATE_HOME")

	if xdgConfig == "" && xdgData == "" && xdgState == "" {
		resolved = flatLayout(flatDir)
		return resolved, nil
	}

	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}
	if xdgData == "" {
		xdgData = filepath.Join(home, ".local", "share")
	}
	if xdgState == "" {
		xdgState = filepath.Join(home, ".local", "state")
	}
	resolved = &layout{
		configDir: filepath.Join(xdgConfig, appName),
		dataDir:   filepath.Join(xdgData, appName),
		stateDir:  filepath.Join(xdgState, appName),
	}
	return resolved, nil
}

func join(dir func() (string, error), elem ...string) (string, error) {
	d, err := dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{d}, elem...)...), nil
}

// ConfigDir returns the directory holding config.yaml.
func ConfigDir() (string, error) {
	l, err := resolve()
	if err != nil {
		return "", err
	}
	return l.configDir, nil
}

// DataDir returns the directory for persistent data (providers, sessions).
func DataDir() (string, error) {
	l, err := resolve()
	if err != nil {
		return "", err
	}
	return l.dataDir, nil
}

// StateDir returns the directory for runtime state: logs, pid files, the socket.
func StateDir() (string, error) {
	l, err := resolve()
	if err != nil {
		return "", err
	}
	return l.stateDir, nil
}

// ConfigFilePath returns the full path to config.yaml.
func ConfigFilePath() (string, error) {
	return join(ConfigDir, "config.yaml")
}

// ProvidersFilePath returns the full path to the encrypted provider list.
func ProvidersFilePath() (string, error) {
	return join(DataDir, "providers.json")
}

// SessionsDir returns the directory for persisted session files.
func SessionsDir() (string, error) {
	return join(DataDir, "sessions")
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	return join(StateDir, "logs")
}

// PidsDir returns the directory holding one pid file per live agent process.
func PidsDir() (string, error) {
	return join(StateDir, "pids")
}

// HostPidFilePath returns the pid file guarding a single running host.
func HostPidFilePath() (string, error) {
	return join(StateDir, appName+".pid")
}

// SocketPath returns the default unix socket the host listens on.
func SocketPath() (string, error) {
	return join(StateDir, appName+".sock")
}

// IsFlatLayout reports whether all files share one directory.
func IsFlatLayout() bool {
	l, err := resolve()
	if err != nil {
		return true
	}
	return l.flat
}

// Reset clears the cached resolution. Tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = nil
}
