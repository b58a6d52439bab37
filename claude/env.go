package claude

import (
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// RunAsNodeEnv makes an Electron-embedded runtime behave as plain node.
const RunAsNodeEnv = "ELECTRON_RUN_AS_NODE"

// DefaultPathEntries are prepended to PATH so the CLI finds node, bun and
// git even when the host was launched from a desktop environment with a
// minimal PATH.
func DefaultPathEntries(home string) []string {
	entries := []string{"/usr/local/bin", "/opt/homebrew/bin"}
	if home != "" {
		entries = append(entries, filepath.Join(home, ".bun", "bin"))
	}
	return append(entries, "/usr/bin", "/bin")
}

// BuildEnv returns the environment for an agent process.
//
// base is the inherited environment (os.Environ() form). For every variable
// the provider value wins, then the inherited value; variables set by
// neither stay unset. PATH gets DefaultPathEntries and extraPath in front of
// the inherited value, and RunAsNodeEnv is always "1".
func BuildEnv(base []string, providerEnv map[string]string, extraPath []string) []string {
	env := make(map[string]string, len(base)+len(providerEnv)+2)
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}

	home := env["HOME"]
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	pathParts := append(DefaultPathEntries(home), extraPath...)
	if inherited := env["PATH"]; inherited != "" {
		pathParts = append(pathParts, inherited)
	}
	env["PATH"] = strings.Join(dedupePath(pathParts), string(os.PathListSeparator))
	env[RunAsNodeEnv] = "1"

	for k, v := range providerEnv {
		if v != "" {
			env[k] = v
		}
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// dedupePath keeps the first occurrence of each PATH entry.
func dedupePath(parts []string) []string {
	var out []string
	for _, part := range parts {
		for _, p := range filepath.SplitList(part) {
			if p != "" && !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	return out
}

// LookupEnv returns the value of key in an os.Environ()-style slice.
func LookupEnv(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}
