package manager

import (
	"slices"
	"time"

	"github.com/zhubert/agentdesk/claude"
	"github.com/zhubert/agentdesk/config"
)

// Options holds the host settings every turn is launched with.
type Options struct {
	ClaudePath        string
	NodePath          string
	ExtraPath         []string
	AllowedTools      []string // pre-approved for every session
	GracePeriod       time.Duration
	DefaultProviderID string
	BaseEnv           []string // nil means os.Environ()
	Tracker           claude.PidTracker
}

// OptionsFromConfig maps the host configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ClaudePath:        cfg.ClaudePath,
		NodePath:          cfg.NodePath,
		ExtraPath:         slices.Clone(cfg.ExtraPath),
		AllowedTools:      slices.Clone(cfg.AllowedTools),
		GracePeriod:       cfg.StopGracePeriod.Std(),
		DefaultProviderID: cfg.DefaultProviderID,
	}
}

// mergeTools combines the global and per-session allow lists, keeping
// first occurrence order.
func mergeTools(global, session []string) []string {
	var out []string
	for _, tool := range slices.Concat(global, session) {
		if tool != "" && !slices.Contains(out, tool) {
			out = append(out, tool)
		}
	}
	return out
}
