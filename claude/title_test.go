package claude

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	pexec "github.com/zhubert/agentdesk/exec"
)

func titleTestConfig(t *testing.T) (TitleConfig, string) {
	t.Helper()
	cliPath := writeFakeCLI(t, "exit 0\n")
	return TitleConfig{
		ClaudePath:  cliPath,
		ProviderEnv: map[string]string{"ANTHROPIC_AUTH_TOKEN": "tok"},
		BaseEnv:     []string{"PATH=" + os.Getenv("PATH")},
	}, cliPath
}

func TestGenerateTitle_Success(t *testing.T) {
	cfg, cliPath := titleTestConfig(t)
	mock := pexec.NewMockExecutor(nil)
	mock.AddPrefixMatch(cliPath, []string{"-p"}, pexec.MockResponse{
		Stdout: []byte(`{"type":"result","subtype":"success","is_error":false,"result":"\"Fix Login Bug.\"\n"}`),
	})

	title := GenerateTitle(context.Background(), mock, cfg, "the login page crashes when I click submit")
	if title != "Fix Login Bug" {
		t.Errorf("title = %q", title)
	}

	calls := mock.GetCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	args := calls[0].Args
	if !strings.Contains(args[1], "the login page crashes") {
		t.Errorf("prompt should include the user intent: %q", args[1])
	}
	if !slices.Equal(args[2:], []string{"--output-format", "json"}) {
		t.Errorf("args = %v", args)
	}
	if v, _ := LookupEnv(calls[0].Env, "ANTHROPIC_AUTH_TOKEN"); v != "tok" {
		t.Errorf("provider env not passed: %q", v)
	}
}

func TestGenerateTitle_Fallbacks(t *testing.T) {
	cfg, cliPath := titleTestConfig(t)

	tests := []struct {
		name string
		resp pexec.MockResponse
	}{
		{"command error", pexec.MockResponse{Err: errors.New("exit status 1")}},
		{"invalid json", pexec.MockResponse{Stdout: []byte("not json")}},
		{"is_error", pexec.MockResponse{Stdout: []byte(`{"is_error":true,"result":"Invalid API key"}`)}},
		{"empty result", pexec.MockResponse{Stdout: []byte(`{"is_error":false,"result":"  \n"}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := pexec.NewMockExecutor(nil)
			mock.AddPrefixMatch(cliPath, []string{"-p"}, tt.resp)
			if got := GenerateTitle(context.Background(), mock, cfg, "do something"); got != DefaultTitle {
				t.Errorf("title = %q, want %q", got, DefaultTitle)
			}
		})
	}
}

func TestGenerateTitle_EmptyIntent(t *testing.T) {
	cfg, _ := titleTestConfig(t)
	mock := pexec.NewMockExecutor(nil)

	if got := GenerateTitle(context.Background(), mock, cfg, "   "); got != DefaultTitle {
		t.Errorf("title = %q", got)
	}
	if len(mock.GetCalls()) != 0 {
		t.Error("CLI should not be invoked for an empty intent")
	}
}

func TestGenerateTitle_MissingCLI(t *testing.T) {
	mock := pexec.NewMockExecutor(nil)
	cfg := TitleConfig{
		ClaudePath: filepath.Join(t.TempDir(), "missing"),
		BaseEnv:    []string{"PATH=/nonexistent"},
	}
	if got := GenerateTitle(context.Background(), mock, cfg, "hello"); got != DefaultTitle {
		t.Errorf("title = %q", got)
	}
	if len(mock.GetCalls()) != 0 {
		t.Error("CLI should not be invoked when it cannot be found")
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Refactor parser", "Refactor parser"},
		{"\n\n  \"Quoted title\"  \n", "Quoted title"},
		{"# Heading title\nsecond line", "Heading title"},
		{"Title: Add dark mode.", "Add dark mode"},
		{"**Bold**", "Bold"},
		{"", ""},
		{strings.Repeat("word ", 30), strings.TrimSpace(strings.Repeat("word ", 30)[:57]) + "..."},
	}
	for _, tt := range tests {
		if got := cleanTitle(tt.in); got != tt.want {
			t.Errorf("cleanTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
