// Package cli locates the external tools agent sessions depend on and
// reports on them for the doctor command.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zhubert/agentdesk/apperr"
	pexec "github.com/zhubert/agentdesk/exec"
)

// Prerequisite represents a required CLI tool
type Prerequisite struct {
	Name        string // Display name (e.g., "claude", "node")
	Command     string // Configured command or path
	ConfigKey   string // config.yaml key that overrides Command
	Required    bool   // Whether sessions can run without it
	Description string // Human-readable description
	InstallURL  string // URL for installation instructions
}

// IsScript reports whether path is a JavaScript entrypoint that must be
// launched through node.
func IsScript(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs":
		return true
	}
	return false
}

// Prerequisites returns the tools needed for the configured agent CLI.
func Prerequisites(claudePath, nodePath string) []Prerequisite {
	return []Prerequisite{
		{
			Name:        "claude",
			Command:     claudePath,
			ConfigKey:   "claude_path",
			Required:    true,
			Description: "Claude Code CLI",
			InstallURL:  "https://claude.ai/code",
		},
		{
			Name:        "node",
			Command:     nodePath,
			ConfigKey:   "node_path",
			Required:    IsScript(claudePath),
			Description: "Node.js runtime (required when claude_path is a .js file)",
			InstallURL:  "https://nodejs.org",
		},
		{
			Name:        "git",
			Command:     "git",
			Required:    false,
			Description: "Git (optional, used by the agent's repository tools)",
			InstallURL:  "https://git-scm.com/downloads",
		},
	}
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found
	Version      string // Version string if available
	Error        error
}

// LookPathIn resolves name like exec.LookPath but against pathEnv instead
// of the host PATH. Names containing a separator are checked directly.
func LookPathIn(name, pathEnv string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty command")
	}
	if strings.ContainsRune(name, os.PathSeparator) || strings.Contains(name, "/") {
		if err := checkExecutable(name); err != nil {
			return "", err
		}
		return name, nil
	}
	for _, dir := range filepath.SplitList(pathEnv) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if checkExecutable(candidate) == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s not found in PATH", name)
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

// Check verifies that a CLI tool is available. Scripts only need to exist.
func Check(ctx context.Context, executor pexec.CommandExecutor, prereq Prerequisite, pathEnv string) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	if IsScript(prereq.Command) {
		if _, err := os.Stat(prereq.Command); err != nil {
			result.Error = fmt.Errorf("%s not found at %s", prereq.Name, prereq.Command)
			return result
		}
		result.Found = true
		result.Path = prereq.Command
		return result
	}

	path, err := LookPathIn(prereq.Command, pathEnv)
	if err != nil {
		result.Error = err
		return result
	}

	result.Found = true
	result.Path = path
	if executor != nil {
		result.Version = getVersion(ctx, executor, path)
	}
	return result
}

// CheckAll verifies all prerequisites and returns results
func CheckAll(ctx context.Context, executor pexec.CommandExecutor, prereqs []Prerequisite, pathEnv string) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = Check(ctx, executor, prereq, pathEnv)
	}
	return results
}

// AgentCommand is the resolved executable and leading arguments for the
// agent CLI.
type AgentCommand struct {
	Path string
	Args []string
}

// ResolveAgent finds the agent CLI. When claudePath is a script it is run
// through nodePath. Failures are SPAWN_FAILED errors naming the config key
// to fix.
func ResolveAgent(claudePath, nodePath, pathEnv string) (AgentCommand, error) {
	if IsScript(claudePath) {
		if _, err := os.Stat(claudePath); err != nil {
			return AgentCommand{}, apperr.Newf(apperr.CodeSpawnFailed,
				"Claude Code CLI script not found at %s; set claude_path in config.yaml", claudePath).
				WithDetail("key", "claude_path")
		}
		node, err := LookPathIn(nodePath, pathEnv)
		if err != nil {
			return AgentCommand{}, apperr.Newf(apperr.CodeSpawnFailed,
				"node runtime %q not found; install Node.js or set node_path in config.yaml", nodePath).
				WithDetail("key", "node_path")
		}
		return AgentCommand{Path: node, Args: []string{claudePath}}, nil
	}

	path, err := LookPathIn(claudePath, pathEnv)
	if err != nil {
		return AgentCommand{}, apperr.Newf(apperr.CodeSpawnFailed,
			"Claude Code CLI %q not found; install it from https://claude.ai/code or set claude_path in config.yaml", claudePath).
			WithDetail("key", "claude_path")
	}
	return AgentCommand{Path: path}, nil
}

// getVersion asks the tool for its version and keeps the first line.
func getVersion(ctx context.Context, executor pexec.CommandExecutor, path string) string {
	output, err := executor.CombinedOutput(ctx, pexec.Cmd{Name: path, Args: []string{"--version"}})
	if err != nil {
		return ""
	}
	version, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	version = strings.TrimSpace(version)
	// Limit length to avoid overly long version strings
	if len(version) > 100 {
		version = version[:100] + "..."
	}
	return version
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("CLI Prerequisites:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		fmt.Fprintf(&sb, "  %s %s", status, r.Prerequisite.Name)
		if r.Found {
			fmt.Fprintf(&sb, " %s", r.Path)
			if r.Version != "" {
				fmt.Fprintf(&sb, " (%s)", r.Version)
			}
		} else if r.Prerequisite.Required {
			sb.WriteString(" [REQUIRED]")
			if r.Prerequisite.ConfigKey != "" {
				fmt.Fprintf(&sb, " install: %s or set %s", r.Prerequisite.InstallURL, r.Prerequisite.ConfigKey)
			}
		} else {
			sb.WriteString(" [optional]")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// MissingRequired returns an error describing every required tool that was
// not found, or nil.
func MissingRequired(results []CheckResult) error {
	var missing []string
	for _, r := range results {
		if r.Prerequisite.Required && !r.Found {
			missing = append(missing, fmt.Sprintf("  - %s (%s)\n    Install: %s",
				r.Prerequisite.Name, r.Prerequisite.Description, r.Prerequisite.InstallURL))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required CLI tools:\n%s", strings.Join(missing, "\n"))
	}
	return nil
}
