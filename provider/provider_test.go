package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/agentdesk/apperr"
)

func TestValidate(t *testing.T) {
	valid := Config{Name: "X", BaseURL: "https://api.example.com", AuthToken: "secret"}
	require.NoError(t, Validate(valid))

	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"missing name", func(c *Config) { c.Name = "  " }, "name"},
		{"missing baseUrl", func(c *Config) { c.BaseURL = "" }, "baseUrl"},
		{"missing token", func(c *Config) { c.AuthToken = "" }, "authToken"},
		{"ftp scheme", func(c *Config) { c.BaseURL = "ftp://example.com" }, "baseUrl"},
		{"no host", func(c *Config) { c.BaseURL = "https://" }, "baseUrl"},
		{"not a url", func(c *Config) { c.BaseURL = "api.example.com" }, "baseUrl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.edit(&c)
			err := Validate(c)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.CodeValidation))

			var coded *apperr.Error
			require.ErrorAs(t, err, &coded)
			assert.Equal(t, tt.field, coded.Details["field"])
		})
	}
}

func TestEnv_UserProvider(t *testing.T) {
	env := Env(Config{
		ID:           "custom",
		BaseURL:      "https://api.example.com",
		AuthToken:    "tok",
		DefaultModel: "big",
		Models:       &Models{Opus: "o", Haiku: "h"},
	})

	assert.Equal(t, map[string]string{
		EnvBaseURL:    "https://api.example.com",
		EnvAuthToken:  "tok",
		EnvModel:      "big",
		EnvOpusModel:  "o",
		EnvHaikuModel: "h",
	}, env)
}

func TestEnv_DefaultProviderCarriesOverrides(t *testing.T) {
	d, ok := GetDefault("minimax")
	require.True(t, ok)

	env := Env(d.Config.Overlay(Config{AuthToken: "mm-token", DefaultModel: "Custom-Model"}))

	assert.Equal(t, "mm-token", env[EnvAuthToken])
	assert.Equal(t, "3000000", env["API_TIMEOUT_MS"])
	assert.Equal(t, "1", env["CLAUDE_CODE_DISABLE_NONESSENTIAL_TRAFFIC"])
	// explicit field beats the override
	assert.Equal(t, "Custom-Model", env[EnvModel])
}

func TestDefaults_AreCopies(t *testing.T) {
	d, ok := GetDefault("minimax")
	require.True(t, ok)
	d.Models.Opus = "mutated"
	d.EnvOverrides["API_TIMEOUT_MS"] = "1"

	again, _ := GetDefault("minimax")
	assert.Equal(t, "MiniMax-M2.1", again.Models.Opus)
	assert.Equal(t, "3000000", again.EnvOverrides["API_TIMEOUT_MS"])

	assert.True(t, IsDefault("minimax"))
	assert.False(t, IsDefault("custom"))
	assert.Len(t, ListDefaults(), 1)
}

func TestMerge(t *testing.T) {
	user := []Config{
		{ID: "work", Name: "Work", BaseURL: "https://work.example.com", AuthToken: "w"},
		{ID: "minimax", AuthToken: "mm"},
	}

	merged := Merge(user)
	require.Len(t, merged, 2)

	assert.Equal(t, "minimax", merged[0].ID)
	assert.Equal(t, "MiniMax (Default)", merged[0].Name)
	assert.Equal(t, "mm", merged[0].AuthToken)
	assert.Equal(t, "work", merged[1].ID)

	found, ok := Find(merged, "work")
	require.True(t, ok)
	assert.Equal(t, "Work", found.Name)

	_, ok = Find(merged, "missing")
	assert.False(t, ok)
}

func TestOverlay_KeepsUnsetFields(t *testing.T) {
	base := Config{ID: "a", Name: "A", BaseURL: "https://a", AuthToken: "t", Models: &Models{Sonnet: "s"}}
	out := base.Overlay(Config{ID: "ignored", Name: "B", Models: &Models{Opus: "o"}})

	assert.Equal(t, "a", out.ID)
	assert.Equal(t, "B", out.Name)
	assert.Equal(t, "t", out.AuthToken)
	assert.Equal(t, &Models{Opus: "o", Sonnet: "s"}, out.Models)
	assert.Equal(t, "", base.Models.Opus, "overlay must not mutate the receiver")
}
