package provider

import "maps"

// Default is a provider that ships with agentdesk. It has no token of its
// own; the user supplies one by saving a provider with the same id.
type Default struct {
	Config
	IsDefault    bool              `json:"isDefault"`
	EnvOverrides map[string]string `json:"envOverrides"`
}

// DefaultProviderID is the id of the built-in provider.
const DefaultProviderID = "minimax"

const minimaxModel = "MiniMax-M2.1"

var defaults = []Default{
	{
		Config: Config{
			ID:           DefaultProviderID,
			Name:         "MiniMax (Default)",
			BaseURL:      "https://api.minimax.io/anthropic",
			DefaultModel: minimaxModel,
			Models: &Models{
				Opus:   minimaxModel,
				Sonnet: minimaxModel,
				Haiku:  minimaxModel,
			},
		},
		IsDefault: true,
		EnvOverrides: map[string]string{
			EnvModel:                                   minimaxModel,
			"API_TIMEOUT_MS":                           "3000000",
			"CLAUDE_CODE_DISABLE_NONESSENTIAL_TRAFFIC": "1",
			"CLAUDE_CODE_MAX_OUTPUT_TOKENS":            "64000",
			"CLAUDE_CODE_SUBAGENT_MODEL":               minimaxModel,
		},
	},
}

func (d Default) clone() Default {
	d.Config = d.Config.Clone()
	d.EnvOverrides = maps.Clone(d.EnvOverrides)
	return d
}

// ListDefaults returns copies of every built-in provider.
func ListDefaults() []Default {
	out := make([]Default, len(defaults))
	for i, d := range defaults {
		out[i] = d.clone()
	}
	return out
}

// GetDefault returns a copy of the built-in provider with id.
func GetDefault(id string) (Default, bool) {
	for _, d := range defaults {
		if d.ID == id {
			return d.clone(), true
		}
	}
	return Default{}, false
}

// IsDefault reports whether id names a built-in provider.
func IsDefault(id string) bool {
	_, ok := GetDefault(id)
	return ok
}
