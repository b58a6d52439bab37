package claude

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zhubert/agentdesk/cli"
	pexec "github.com/zhubert/agentdesk/exec"
	"github.com/zhubert/agentdesk/logger"
)

// DefaultTitle is used whenever a title cannot be generated.
const DefaultTitle = "New Session"

const (
	maxTitleLength      = 60
	defaultTitleTimeout = 30 * time.Second
)

const titleInstruction = "Write a short title (at most six words) for a chat that begins with the request below. " +
	"Reply with the title only, no quotes or punctuation at the end.\n\n"

// TitleConfig selects the CLI and credentials used for title generation.
type TitleConfig struct {
	ClaudePath  string
	NodePath    string
	ExtraPath   []string
	ProviderEnv map[string]string
	BaseEnv     []string // nil means os.Environ()
	Timeout     time.Duration
}

type titleResponse struct {
	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
}

// GenerateTitle asks the CLI for a short session title in one-shot print
// mode. Any failure yields DefaultTitle.
func GenerateTitle(ctx context.Context, executor pexec.CommandExecutor, cfg TitleConfig, userIntent string) string {
	log := logger.WithComponent("title")

	userIntent = strings.TrimSpace(userIntent)
	if userIntent == "" {
		return DefaultTitle
	}

	base := cfg.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	env := BuildEnv(base, cfg.ProviderEnv, cfg.ExtraPath)
	pathEnv, _ := LookupEnv(env, "PATH")

	claudePath, nodePath := cfg.ClaudePath, cfg.NodePath
	if claudePath == "" {
		claudePath = "claude"
	}
	if nodePath == "" {
		nodePath = "node"
	}
	agent, err := cli.ResolveAgent(claudePath, nodePath, pathEnv)
	if err != nil {
		log.Debug("title generation unavailable", "error", err)
		return DefaultTitle
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTitleTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, agent.Args...), "-p", titleInstruction+userIntent, "--output-format", "json")
	output, err := executor.Output(ctx, pexec.Cmd{Name: agent.Path, Args: args, Env: env})
	if err != nil {
		log.Warn("title generation failed", "error", err)
		return DefaultTitle
	}

	var resp titleResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		log.Warn("title generation returned invalid JSON", "error", err, "output", truncateForLog(string(output)))
		return DefaultTitle
	}
	if resp.IsError {
		log.Warn("title generation returned an error", "result", truncateForLog(resp.Result))
		return DefaultTitle
	}

	title := cleanTitle(resp.Result)
	if title == "" {
		return DefaultTitle
	}
	return title
}

// cleanTitle keeps the first non-empty line without decoration and bounds its length.
func cleanTitle(raw string) string {
	var title string
	for line := range strings.SplitSeq(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			title = line
			break
		}
	}
	title = strings.TrimLeft(title, "# ")
	title = strings.Trim(title, "\"'`*")
	title = strings.TrimSpace(strings.TrimRight(title, "."))
	title = strings.TrimPrefix(title, "Title: ")

	if utf8.RuneCountInString(title) > maxTitleLength {
		runes := []rune(title)
		title = strings.TrimSpace(string(runes[:maxTitleLength-3])) + "..."
	}
	return title
}
