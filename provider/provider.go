// Package provider describes LLM endpoint configurations and the built-in
// defaults that ship with agentdesk.
//
// A provider is a named base URL, credential and set of model aliases. The
// agent CLI picks them up through ANTHROPIC_* environment variables, so the
// main job of this package is turning a Config into that environment.
package provider

import (
	"maps"
	"net/url"
	"strings"

	"github.com/zhubert/agentdesk/apperr"
)

// Environment variables a provider can set on the agent process.
const (
	EnvBaseURL     = "ANTHROPIC_BASE_URL"
	EnvAuthToken   = "ANTHROPIC_AUTH_TOKEN"
	EnvModel       = "ANTHROPIC_MODEL"
	EnvOpusModel   = "ANTHROPIC_DEFAULT_OPUS_MODEL"
	EnvSonnetModel = "ANTHROPIC_DEFAULT_SONNET_MODEL"
	EnvHaikuModel  = "ANTHROPIC_DEFAULT_HAIKU_MODEL"
)

// Models maps the CLI's model tiers to provider model names.
type Models struct {
	Opus   string `json:"opus,omitempty"`
	Sonnet string `json:"sonnet,omitempty"`
	Haiku  string `json:"haiku,omitempty"`
}

// Config is one provider as persisted and as shown to the UI.
type Config struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	BaseURL      string  `json:"baseUrl"`
	AuthToken    string  `json:"authToken"`
	DefaultModel string  `json:"defaultModel,omitempty"`
	Models       *Models `json:"models,omitempty"`
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	if c.Models != nil {
		m := *c.Models
		c.Models = &m
	}
	return c
}

// Overlay returns c with every non-empty field of update applied on top.
// ID is taken from c.
func (c Config) Overlay(update Config) Config {
	out := c.Clone()
	if update.Name != "" {
		out.Name = update.Name
	}
	if update.BaseURL != "" {
		out.BaseURL = update.BaseURL
	}
	if update.AuthToken != "" {
		out.AuthToken = update.AuthToken
	}
	if update.DefaultModel != "" {
		out.DefaultModel = update.DefaultModel
	}
	if update.Models != nil {
		if out.Models == nil {
			out.Models = &Models{}
		}
		if update.Models.Opus != "" {
			out.Models.Opus = update.Models.Opus
		}
		if update.Models.Sonnet != "" {
			out.Models.Sonnet = update.Models.Sonnet
		}
		if update.Models.Haiku != "" {
			out.Models.Haiku = update.Models.Haiku
		}
	}
	return out
}

// Validate checks the fields a usable provider needs.
func Validate(c Config) error {
	if strings.TrimSpace(c.Name) == "" {
		return apperr.New(apperr.CodeValidation, "provider name is required").WithDetail("field", "name")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return apperr.New(apperr.CodeValidation, "provider baseUrl is required").WithDetail("field", "baseUrl")
	}
	if strings.TrimSpace(c.AuthToken) == "" {
		return apperr.New(apperr.CodeValidation, "provider authToken is required").WithDetail("field", "authToken")
	}

	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperr.Newf(apperr.CodeValidation, "provider baseUrl %q must be an http or https URL", c.BaseURL).
			WithDetail("field", "baseUrl")
	}
	return nil
}

// Env returns the environment variables c sets on the agent process.
// Empty fields set nothing.
func Env(c Config) map[string]string {
	env := make(map[string]string)
	if d, ok := GetDefault(c.ID); ok {
		maps.Copy(env, d.EnvOverrides)
	}

	set := func(key, value string) {
		if value != "" {
			env[key] = value
		}
	}
	set(EnvBaseURL, c.BaseURL)
	set(EnvAuthToken, c.AuthToken)
	set(EnvModel, c.DefaultModel)
	if c.Models != nil {
		set(EnvOpusModel, c.Models.Opus)
		set(EnvSonnetModel, c.Models.Sonnet)
		set(EnvHaikuModel, c.Models.Haiku)
	}
	return env
}

// Merge lists the built-in defaults followed by the user's providers.
// A user entry sharing an id with a default replaces it in place.
func Merge(user []Config) []Config {
	byID := make(map[string]Config, len(user))
	for _, c := range user {
		byID[c.ID] = c
	}

	defaults := ListDefaults()
	out := make([]Config, 0, len(defaults)+len(user))
	for _, d := range defaults {
		if u, ok := byID[d.ID]; ok {
			out = append(out, d.Config.Overlay(u))
			continue
		}
		out = append(out, d.Config)
	}
	for _, c := range user {
		if !IsDefault(c.ID) {
			out = append(out, c.Clone())
		}
	}
	return out
}

// Find returns the provider with id from list.
func Find(list []Config, id string) (Config, bool) {
	for _, c := range list {
		if c.ID == id {
			return c.Clone(), true
		}
	}
	return Config{}, false
}
