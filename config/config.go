package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/agentdesk/cli"
	"github.com/zhubert/agentdesk/paths"
)

// Defaults applied to keys missing from config.yaml.
const (
	DefaultClaudePath      = "claude"
	DefaultNodePath        = "node"
	DefaultStopGracePeriod = 2 * time.Second
	DefaultStatsInterval   = 2 * time.Second
)

// Duration is a time.Duration written as "2s" / "500ms" in YAML.
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings and bare integers (seconds).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if value.ShortTag() == "!!int" {
		var secs int64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the host configuration read from config.yaml.
type Config struct {
	ClaudePath         string   `yaml:"claude_path,omitempty"`         // CLI executable, or a cli.js run through node_path
	NodePath           string   `yaml:"node_path,omitempty"`           // Runtime for script CLIs
	ExtraPath          []string `yaml:"extra_path,omitempty"`          // Prepended to the child PATH after the built-in entries
	StopGracePeriod    Duration `yaml:"stop_grace_period,omitempty"`   // SIGTERM → SIGKILL delay
	StatsInterval      Duration `yaml:"stats_interval,omitempty"`      // Resource polling period
	SocketPath         string   `yaml:"socket_path,omitempty"`         // Unix socket for the IPC transport
	DefaultProviderID  string   `yaml:"default_provider_id,omitempty"` // Used when a session names no provider
	AllowedTools       []string `yaml:"allowed_tools,omitempty"`       // Pre-approved tools for every session
	MaxHistoryMessages int      `yaml:"max_history_messages,omitempty"` // Opt-in per-session cap; 0 keeps every message
	Debug              bool     `yaml:"debug,omitempty"`

	filePath string
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads config.yaml from path. A missing file yields Default().
// An empty path means paths.ConfigFilePath().
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := paths.ConfigFilePath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := &Config{filePath: path}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ClaudePath == "" {
		c.ClaudePath = DefaultClaudePath
	}
	if c.NodePath == "" {
		c.NodePath = DefaultNodePath
	}
	if c.StopGracePeriod == 0 {
		c.StopGracePeriod = Duration(DefaultStopGracePeriod)
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = Duration(DefaultStatsInterval)
	}
	if c.SocketPath == "" {
		if p, err := paths.SocketPath(); err == nil {
			c.SocketPath = p
		}
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.StopGracePeriod < 0 {
		return fmt.Errorf("stop_grace_period must not be negative")
	}
	if c.StatsInterval < Duration(100*time.Millisecond) {
		return fmt.Errorf("stats_interval must be at least 100ms")
	}
	if c.MaxHistoryMessages < 0 {
		return fmt.Errorf("max_history_messages must not be negative")
	}
	for _, p := range c.ExtraPath {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("extra_path entry %q must be absolute", p)
		}
	}
	return nil
}

// UsesScriptCLI reports whether ClaudePath is a JavaScript entrypoint that
// must be launched through NodePath.
func (c *Config) UsesScriptCLI() bool {
	return cli.IsScript(c.ClaudePath)
}

// FilePath returns where the config was loaded from, if anywhere.
func (c *Config) FilePath() string {
	return c.filePath
}

// Save writes the config as YAML to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	c.filePath = path
	return nil
}
