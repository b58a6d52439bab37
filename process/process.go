// Package process keeps track of agent CLI processes on disk so that ones
// left behind by a crashed host can be found and killed on the next start.
package process

import (
	"context"
	"fmt"
	"strings"

	gprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/zhubert/agentdesk/logger"
)

// AgentProcess is a live process believed to be an agent CLI.
type AgentProcess struct {
	PID       int
	SessionID string // host session id from the pid file name
	Command   string
}

// IsProcessAlive checks if a process with the given PID is still running.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	alive, err := gprocess.PidExists(int32(pid))
	return err == nil && alive
}

// CommandLine returns the full command line of pid.
func CommandLine(ctx context.Context, pid int) (string, error) {
	p, err := gprocess.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return "", err
	}
	return p.CmdlineWithContext(ctx)
}

// LooksLikeAgent reports whether a command line is a stream-json agent CLI.
// Pid files can outlive their process and the pid can be reused, so this
// guards against killing an unrelated program.
func LooksLikeAgent(cmdLine string) bool {
	if !strings.Contains(cmdLine, "stream-json") {
		return false
	}
	return strings.Contains(cmdLine, "claude") || strings.Contains(cmdLine, "cli.js")
}

// extractResumeID extracts the CLI conversation id from a command line.
func extractResumeID(cmdLine string) string {
	_, after, ok := strings.Cut(cmdLine, "--resume")
	if !ok {
		return ""
	}
	fields := strings.Fields(strings.TrimLeft(after, " ="))
	if len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// KillProcess kills pid and any direct children.
func KillProcess(ctx context.Context, pid int) error {
	p, err := gprocess.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	log := logger.WithComponent("process")
	if children, err := p.ChildrenWithContext(ctx); err == nil {
		for _, child := range children {
			if err := child.KillWithContext(ctx); err != nil {
				log.Debug("failed to kill child process", "pid", child.Pid, "error", err)
			}
		}
	}

	if err := p.KillWithContext(ctx); err != nil {
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	return nil
}
