package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/agentdesk/apperr"
	"github.com/zhubert/agentdesk/credstore"
	"github.com/zhubert/agentdesk/logger"
	"github.com/zhubert/agentdesk/paths"
	"github.com/zhubert/agentdesk/provider"
	"github.com/zhubert/agentdesk/session"
)

func TestMain(m *testing.M) {
	home, err := os.MkdirTemp("", "agentdesk-cmd-test-")
	if err != nil {
		panic(err)
	}
	os.Setenv(paths.HomeEnvVar, home)
	paths.Reset()

	logger.Reset()
	logger.Init(os.DevNull)

	code := m.Run()

	logger.Reset()
	os.RemoveAll(home)
	os.Exit(code)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func useTestStore(t *testing.T) *credstore.Store {
	t.Helper()
	cipher, err := credstore.NewSecretboxCipher(make([]byte, 32))
	require.NoError(t, err)
	store := credstore.New(filepath.Join(t.TempDir(), "providers.json"), cipher, nil)

	prev := openStore
	openStore = func() (*credstore.Store, error) { return store, nil }
	t.Cleanup(func() { openStore = prev })
	return store
}

func TestProvidersCommands(t *testing.T) {
	store := useTestStore(t)

	out, err := run(t, "providers", "save",
		"--id", "work",
		"--name", "Work",
		"--base-url", "https://work.example.com",
		"--auth-token", "sk-secret-1234")
	require.NoError(t, err)
	assert.Contains(t, out, "saved provider work (Work)")

	stored, ok := store.Get("work")
	require.True(t, ok)
	assert.Equal(t, "sk-secret-1234", stored.AuthToken)

	out, err = run(t, "providers", "list")
	require.NoError(t, err)
	assert.Contains(t, out, provider.DefaultProviderID)
	assert.Contains(t, out, "built-in")
	assert.Contains(t, out, "****1234")
	assert.NotContains(t, out, "sk-secret")

	out, err = run(t, "providers", "get", "work")
	require.NoError(t, err)
	var got provider.Config
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "****1234", got.AuthToken)

	out, err = run(t, "providers", "get", "work", "--show-token")
	require.NoError(t, err)
	assert.Contains(t, out, "sk-secret-1234")

	// Unset flags keep stored values
	_, err = run(t, "providers", "save", "--id", "work", "--name", "Renamed")
	require.NoError(t, err)
	stored, _ = store.Get("work")
	assert.Equal(t, "Renamed", stored.Name)
	assert.Equal(t, "https://work.example.com", stored.BaseURL)

	_, err = run(t, "providers", "save", "--name", "incomplete")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	out, err = run(t, "providers", "delete", "work")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted provider work")

	_, err = run(t, "providers", "delete", "work")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	_, err = run(t, "providers", "get", "work")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestProvidersSave_ModelTiers(t *testing.T) {
	store := useTestStore(t)

	_, err := run(t, "providers", "save",
		"--id", "tiers",
		"--name", "Tiers",
		"--base-url", "https://tiers.example.com",
		"--auth-token", "tok",
		"--opus", "big-model",
		"--haiku", "small-model")
	require.NoError(t, err)

	stored, ok := store.Get("tiers")
	require.True(t, ok)
	require.NotNil(t, stored.Models)
	assert.Equal(t, provider.Models{Opus: "big-model", Haiku: "small-model"}, *stored.Models)

	env := provider.Env(stored)
	assert.Equal(t, "big-model", env[provider.EnvOpusModel])
	assert.Equal(t, "small-model", env[provider.EnvHaikuModel])
	assert.NotContains(t, env, provider.EnvSonnetModel)

	// A later tier flag merges into the stored aliases.
	_, err = run(t, "providers", "save", "--id", "tiers", "--sonnet", "mid-model")
	require.NoError(t, err)
	stored, _ = store.Get("tiers")
	assert.Equal(t, provider.Models{Opus: "big-model", Sonnet: "mid-model", Haiku: "small-model"}, *stored.Models)

	out, err := run(t, "providers", "get", "tiers")
	require.NoError(t, err)
	var got provider.Config
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.NotNil(t, got.Models)
	assert.Equal(t, "mid-model", got.Models.Sonnet)

	_, err = run(t, "providers", "save", "--id", "plain", "--name", "Plain",
		"--base-url", "https://plain.example.com", "--auth-token", "tok")
	require.NoError(t, err)
	plain, _ := store.Get("plain")
	assert.Nil(t, plain.Models, "no tier flags leaves models unset")
}

func TestSessionsCommands(t *testing.T) {
	dir, err := paths.SessionsDir()
	require.NoError(t, err)
	reg := session.NewRegistry(session.NewFileStore(dir), 0)
	info := reg.Create("Refactor parser", "/work/parser", session.CreateOptions{})
	require.NoError(t, reg.AppendMessage(info.ID, json.RawMessage(`{"type":"user_prompt","prompt":"go"}`)))
	reg.Flush()

	out, err := run(t, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, info.ID)
	assert.Contains(t, out, "Refactor parser")

	out, err = run(t, "sessions", "history", info.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"user_prompt","prompt":"go"}`, strings.TrimSpace(out))

	out, err = run(t, "sessions", "recent-cwds", "--limit", "3")
	require.NoError(t, err)
	assert.Equal(t, "/work/parser", strings.TrimSpace(out))

	_, err = run(t, "sessions", "history", "missing")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestLogsPath(t *testing.T) {
	out, err := run(t, "logs", "path")
	require.NoError(t, err)
	want, err := logger.DefaultLogPath()
	require.NoError(t, err)
	assert.Equal(t, want, strings.TrimSpace(out))
}

func TestStatus_NotRunning(t *testing.T) {
	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not running")
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", maskToken(""))
	assert.Equal(t, "****", maskToken("abcd"))
	assert.Equal(t, "****wxyz", maskToken("abcdwxyz"))
}
