package claude

import (
	"slices"
	"sort"
	"strings"
	"testing"
)

func TestBuildEnv_Precedence(t *testing.T) {
	base := []string{
		"HOME=/home/u",
		"PATH=/custom/bin:/usr/bin",
		"ANTHROPIC_MODEL=inherited-model",
		"ANTHROPIC_BASE_URL=https://inherited",
		"UNRELATED=keep",
	}
	provider := map[string]string{
		"ANTHROPIC_BASE_URL":   "https://provider",
		"ANTHROPIC_AUTH_TOKEN": "tok",
		"ANTHROPIC_MODEL":      "", // empty provider value does not clobber
	}

	env := BuildEnv(base, provider, nil)

	cases := map[string]string{
		"ANTHROPIC_BASE_URL":   "https://provider",
		"ANTHROPIC_AUTH_TOKEN": "tok",
		"ANTHROPIC_MODEL":      "inherited-model",
		"UNRELATED":            "keep",
		RunAsNodeEnv:           "1",
	}
	for k, want := range cases {
		got, ok := LookupEnv(env, k)
		if !ok || got != want {
			t.Errorf("%s = %q (set=%v), want %q", k, got, ok, want)
		}
	}

	if _, ok := LookupEnv(env, "ANTHROPIC_DEFAULT_OPUS_MODEL"); ok {
		t.Error("variables set by neither side must stay unset")
	}

	if !sort.StringsAreSorted(env) {
		t.Error("environment should be sorted for stable output")
	}
}

func TestBuildEnv_RunAsNodeForced(t *testing.T) {
	env := BuildEnv([]string{RunAsNodeEnv + "=0"}, map[string]string{RunAsNodeEnv: "1"}, nil)
	if v, _ := LookupEnv(env, RunAsNodeEnv); v != "1" {
		t.Errorf("%s = %q, want 1", RunAsNodeEnv, v)
	}
}

func TestBuildEnv_Path(t *testing.T) {
	env := BuildEnv([]string{"HOME=/home/u", "PATH=/custom/bin:/usr/bin:/bin"}, nil, []string{"/opt/tools/bin"})

	path, ok := LookupEnv(env, "PATH")
	if !ok {
		t.Fatal("PATH not set")
	}
	parts := strings.Split(path, ":")
	want := []string{"/usr/local/bin", "/opt/homebrew/bin", "/home/u/.bun/bin", "/usr/bin", "/bin", "/opt/tools/bin", "/custom/bin"}
	if !slices.Equal(parts, want) {
		t.Errorf("PATH = %v, want %v", parts, want)
	}
}

func TestBuildEnv_NoInheritedPath(t *testing.T) {
	env := BuildEnv([]string{"HOME=/h"}, nil, nil)
	path, _ := LookupEnv(env, "PATH")
	if !strings.HasPrefix(path, "/usr/local/bin:") || strings.HasSuffix(path, ":") {
		t.Errorf("PATH = %q", path)
	}
}

func TestBuildEnv_IgnoresMalformedEntries(t *testing.T) {
	env := BuildEnv([]string{"NOEQUALS", "=value", "A=b=c"}, nil, nil)
	if v, _ := LookupEnv(env, "A"); v != "b=c" {
		t.Errorf("A = %q, want b=c", v)
	}
	for _, kv := range env {
		if strings.HasPrefix(kv, "=") || kv == "NOEQUALS" {
			t.Errorf("malformed entry leaked: %q", kv)
		}
	}
}

func TestDefaultPathEntries(t *testing.T) {
	got := DefaultPathEntries("")
	if slices.Contains(got, "/.bun/bin") || len(got) != 4 {
		t.Errorf("without home: %v", got)
	}
	if !slices.Contains(DefaultPathEntries("/home/x"), "/home/x/.bun/bin") {
		t.Error("bun dir missing")
	}
}

func TestLookupEnv(t *testing.T) {
	env := []string{"A=1", "AB=2", "EMPTY="}
	if v, ok := LookupEnv(env, "A"); !ok || v != "1" {
		t.Errorf("A = %q, %v", v, ok)
	}
	if v, ok := LookupEnv(env, "EMPTY"); !ok || v != "" {
		t.Errorf("EMPTY = %q, %v", v, ok)
	}
	if _, ok := LookupEnv(env, "B"); ok {
		t.Error("B should not be found")
	}
}
