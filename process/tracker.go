package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zhubert/agentdesk/logger"
)

const pidFileExt = ".pid"

// Tracker writes one pid file per running agent process.
type Tracker struct {
	dir string
	log *slog.Logger
}

// NewTracker stores pid files in dir.
func NewTracker(dir string) *Tracker {
	return &Tracker{dir: dir, log: logger.WithComponent("process")}
}

// Dir returns the pid file directory.
func (t *Tracker) Dir() string {
	return t.dir
}

func (t *Tracker) path(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(t.dir, sessionID+pidFileExt), nil
}

// Track records pid for sessionID, replacing any previous entry.
func (t *Tracker) Track(sessionID string, pid int) error {
	path, err := t.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(t.dir, 0700); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Untrack removes the entry for sessionID. A missing entry is not an error.
func (t *Tracker) Untrack(sessionID string) error {
	path, err := t.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	return nil
}

// Tracked returns every recorded session id and pid. Unreadable files are
// reported with pid 0.
func (t *Tracker) Tracked() (map[string]int, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]int{}, nil
		}
		return nil, fmt.Errorf("failed to read pid directory: %w", err)
	}

	tracked := make(map[string]int)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, pidFileExt) {
			continue
		}
		sessionID := strings.TrimSuffix(name, pidFileExt)
		pid, _ := Read(filepath.Join(t.dir, name))
		tracked[sessionID] = pid
	}
	return tracked, nil
}

// FindOrphans returns tracked processes that are still alive and still look
// like agent CLIs. Callers run this before any session is started, so every
// live entry is an orphan.
func (t *Tracker) FindOrphans(ctx context.Context) ([]AgentProcess, error) {
	tracked, err := t.Tracked()
	if err != nil {
		return nil, err
	}

	var orphans []AgentProcess
	for sessionID, pid := range tracked {
		if !IsProcessAlive(pid) {
			continue
		}
		cmdLine, err := CommandLine(ctx, pid)
		if err != nil {
			t.log.Debug("cannot read command line", "pid", pid, "error", err)
			continue
		}
		if !LooksLikeAgent(cmdLine) {
			t.log.Debug("pid reused by another program, ignoring", "pid", pid, "command", cmdLine)
			continue
		}
		orphans = append(orphans, AgentProcess{PID: pid, SessionID: sessionID, Command: cmdLine})
	}
	return orphans, nil
}

// CleanupOrphans kills orphaned agent processes and removes every pid file.
// Returns the number of processes killed.
func (t *Tracker) CleanupOrphans(ctx context.Context) (int, error) {
	orphans, err := t.FindOrphans(ctx)
	if err != nil {
		return 0, err
	}

	killed := 0
	for _, proc := range orphans {
		t.log.Info("killing orphaned agent process", "pid", proc.PID, "sessionID", proc.SessionID, "resume", extractResumeID(proc.Command))
		if err := KillProcess(ctx, proc.PID); err != nil {
			t.log.Error("failed to kill process", "pid", proc.PID, "error", err)
			continue
		}
		killed++
	}

	tracked, err := t.Tracked()
	if err != nil {
		return killed, err
	}
	for sessionID := range tracked {
		if err := t.Untrack(sessionID); err != nil {
			t.log.Warn("failed to remove stale pid file", "sessionID", sessionID, "error", err)
		}
	}
	return killed, nil
}
