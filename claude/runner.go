package claude

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zhubert/agentdesk/apperr"
	"github.com/zhubert/agentdesk/cli"
	"github.com/zhubert/agentdesk/logger"
)

// EventChannelBuffer is the capacity of a runner's event channel.
const EventChannelBuffer = 256

// EventKind identifies what an Event carries.
type EventKind string

const (
	EventMessage    EventKind = "message"
	EventPermission EventKind = "permission"
	EventDone       EventKind = "done"
)

// Event is one item on a runner's output channel. The last event before the
// channel closes is EventDone, unless the runner was stopped.
type Event struct {
	Kind       EventKind
	Message    StreamMessage
	Permission PermissionRequest
	Err        error // set on EventDone when the turn failed
}

// PidTracker records live agent processes so they can be reaped after a
// host crash.
type PidTracker interface {
	Track(sessionID string, pid int) error
	Untrack(sessionID string) error
}

// RunnerConfig is everything one turn needs.
type RunnerConfig struct {
	SessionID    string
	ResumeID     string // CLI conversation id from a previous turn
	WorkingDir   string
	ClaudePath   string
	NodePath     string
	ExtraPath    []string
	AllowedTools []string
	ProviderEnv  map[string]string
	BaseEnv      []string // nil means os.Environ()
	GracePeriod  time.Duration
	Tracker      PidTracker
}

// BuildArgs returns the CLI flags for a stream-json turn.
func BuildArgs(resumeID string, allowedTools []string) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
		"--permission-prompt-tool", "stdio",
	}
	if resumeID != "" {
		args = append(args, "--resume", resumeID)
	}
	if len(allowedTools) > 0 {
		args = append(args, "--allowedTools")
		args = append(args, allowedTools...)
	}
	return args
}

// Runner drives one agent CLI process for one turn of a session.
type Runner struct {
	config RunnerConfig
	log    *slog.Logger

	mu            sync.Mutex
	pm            ProcessManagerInterface
	events        chan Event
	stopCh        chan struct{}
	exited        chan struct{}
	started       bool
	stopped       bool
	processExited bool
	pending       map[string]PermissionRequest // by tool use id
	resultSeen    bool
	resultErr     string
	streamLogFile *os.File

	stopOnce sync.Once
	stopErr  error
}

// NewRunner creates a runner. Nothing is spawned until Start.
func NewRunner(config RunnerConfig) *Runner {
	if config.ClaudePath == "" {
		config.ClaudePath = "claude"
	}
	if config.NodePath == "" {
		config.NodePath = "node"
	}
	return &Runner{
		config:  config,
		log:     logger.WithSession(config.SessionID),
		stopCh:  make(chan struct{}),
		exited:  make(chan struct{}),
		pending: make(map[string]PermissionRequest),
	}
}

// Start spawns the CLI, sends prompt, and returns the turn's event channel.
// A Runner can be started once.
func (r *Runner) Start(ctx context.Context, prompt string) (<-chan Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil, apperr.New(apperr.CodeInvalidState, "runner already started")
	}
	if r.stopped {
		r.mu.Unlock()
		return nil, apperr.New(apperr.CodeInvalidState, "runner was stopped")
	}
	r.started = true
	r.mu.Unlock()

	base := r.config.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	env := BuildEnv(base, r.config.ProviderEnv, r.config.ExtraPath)
	pathEnv, _ := LookupEnv(env, "PATH")

	agent, err := cli.ResolveAgent(r.config.ClaudePath, r.config.NodePath, pathEnv)
	if err != nil {
		r.log.Error("agent CLI not available", "error", err)
		return nil, err
	}

	if dir := r.config.WorkingDir; dir != "" {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return nil, apperr.Newf(apperr.CodeSpawnFailed, "working directory %s does not exist", dir).
				WithDetail("cwd", dir)
		}
	}

	input, err := encodeUserMessage(prompt)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeValidation, "failed to encode prompt")
	}

	args := append(append([]string{}, agent.Args...), BuildArgs(r.config.ResumeID, r.config.AllowedTools)...)

	r.openStreamLog()

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		r.closeStreamLog()
		return nil, apperr.New(apperr.CodeInvalidState, "runner was stopped")
	}
	r.events = make(chan Event, EventChannelBuffer)
	pm := NewProcessManager(ProcessConfig{
		SessionID:   r.config.SessionID,
		Command:     agent.Path,
		Args:        args,
		WorkingDir:  r.config.WorkingDir,
		Env:         env,
		GracePeriod: r.config.GracePeriod,
	}, r.createProcessCallbacks(), r.log)
	r.pm = pm
	r.mu.Unlock()

	if err := pm.Start(); err != nil {
		r.closeStreamLog()
		return nil, err
	}

	if err := pm.WriteMessage(input); err != nil {
		r.log.Error("failed to send prompt", "error", err)
		r.Stop()
		return nil, apperr.Wrap(err, apperr.CodeSpawnFailed, "failed to send prompt to Claude Code CLI")
	}

	go func() {
		select {
		case <-ctx.Done():
			r.log.Debug("context cancelled, stopping runner")
			r.Stop()
		case <-r.stopCh:
		case <-r.exited:
		}
	}()

	return r.events, nil
}

func (r *Runner) createProcessCallbacks() ProcessCallbacks {
	return ProcessCallbacks{
		OnStart:       r.handleProcessStart,
		OnLine:        r.handleProcessLine,
		OnProcessExit: r.handleProcessExit,
	}
}

func (r *Runner) handleProcessStart(pid int) {
	if r.config.Tracker == nil {
		return
	}
	if err := r.config.Tracker.Track(r.config.SessionID, pid); err != nil {
		r.log.Warn("failed to record pid", "pid", pid, "error", err)
	}
}

// handleProcessLine routes one stdout line.
func (r *Runner) handleProcessLine(line string) {
	r.writeStreamLog(line)

	parsed, err := parseLine(line)
	if err != nil {
		r.log.Warn("skipping unparseable CLI output", "error", err, "line", truncateForLog(line))
		return
	}

	switch parsed.kind {
	case lineSkip:
		return

	case lineMessage:
		if parsed.isResult {
			r.mu.Lock()
			r.resultSeen = true
			r.resultErr = parsed.resultErr
			pm := r.pm
			r.mu.Unlock()
			// The CLI waits for more input until stdin closes.
			if pm != nil {
				pm.CloseInput()
			}
		}
		r.emit(Event{Kind: EventMessage, Message: parsed.message})

	case linePermission:
		r.mu.Lock()
		r.pending[parsed.permission.ToolUseID] = parsed.permission
		r.mu.Unlock()
		r.log.Debug("permission requested", "tool", parsed.permission.ToolName, "toolUseId", parsed.permission.ToolUseID)
		r.emit(Event{Kind: EventPermission, Permission: parsed.permission})

	case lineControlCancel:
		r.mu.Lock()
		for id, req := range r.pending {
			if req.requestID == parsed.requestID {
				delete(r.pending, id)
			}
		}
		r.mu.Unlock()
		r.log.Debug("control request cancelled", "requestId", parsed.requestID)

	case lineControlOther:
		r.log.Debug("rejecting unsupported control request", "subtype", parsed.subtype)
		data, err := encodeControlError(parsed.requestID, fmt.Sprintf("unsupported control request: %s", parsed.subtype))
		if err == nil {
			r.write(data)
		}
	}
}

// handleProcessExit sends the final done event and closes the channel. It
// runs after the last handleProcessLine.
func (r *Runner) handleProcessExit(err error, stderrContent string, _ bool) {
	if r.config.Tracker != nil {
		if uerr := r.config.Tracker.Untrack(r.config.SessionID); uerr != nil {
			r.log.Warn("failed to remove pid file", "error", uerr)
		}
	}

	r.mu.Lock()
	r.processExited = true
	stopped := r.stopped
	resultSeen := r.resultSeen
	resultErr := r.resultErr
	r.pending = make(map[string]PermissionRequest)
	events := r.events
	r.mu.Unlock()

	if !stopped {
		var turnErr error
		switch {
		case resultErr != "":
			msg := resultErr
			if !strings.Contains(msg, ": ") && stderrContent != "" {
				msg += ": " + stderrContent
			}
			turnErr = apperr.New(apperr.CodeRuntimeFailed, msg)
		case !resultSeen && err != nil:
			msg := fmt.Sprintf("Claude Code CLI exited: %v", err)
			if stderrContent != "" {
				msg += ": " + stderrContent
			}
			turnErr = apperr.New(apperr.CodeRuntimeFailed, msg)
		}
		if turnErr != nil {
			r.log.Warn("turn failed", "error", turnErr)
		} else {
			r.log.Info("turn completed")
		}
		r.emit(Event{Kind: EventDone, Err: turnErr})
	}

	close(events)
	close(r.exited)
	r.closeStreamLog()
}

// emit delivers ev unless the runner is stopped.
func (r *Runner) emit(ev Event) {
	r.mu.Lock()
	events := r.events
	r.mu.Unlock()

	select {
	case <-r.stopCh:
		return
	default:
	}
	select {
	case events <- ev:
	case <-r.stopCh:
	}
}

func (r *Runner) write(data []byte) bool {
	r.mu.Lock()
	pm := r.pm
	r.mu.Unlock()
	if pm == nil {
		return false
	}
	if err := pm.WriteMessage(data); err != nil {
		r.log.Warn("failed to write to CLI", "error", err)
		return false
	}
	return true
}

// RespondPermission answers a pending permission request. Only the first
// answer for a tool use id is delivered; later or unknown ids return false.
func (r *Runner) RespondPermission(toolUseID string, result PermissionResult) bool {
	if err := result.Validate(); err != nil {
		r.log.Warn("invalid permission result", "error", err)
		return false
	}

	r.mu.Lock()
	req, ok := r.pending[toolUseID]
	if ok {
		delete(r.pending, toolUseID)
	}
	stopped := r.stopped
	r.mu.Unlock()

	if !ok || stopped {
		return false
	}

	data, err := encodeControlSuccess(req.requestID, permissionPayload(req, result))
	if err != nil {
		r.log.Error("failed to encode permission response", "error", err)
		return false
	}
	r.log.Debug("permission answered", "toolUseId", toolUseID, "behavior", result.Behavior)
	return r.write(data)
}

// permissionPayload shapes a result the way the CLI expects: allow must
// carry the (possibly edited) input, deny must carry a message.
func permissionPayload(req PermissionRequest, result PermissionResult) map[string]any {
	if result.Behavior == BehaviorAllow {
		input := result.UpdatedInput
		if len(input) == 0 {
			input = req.Input
		}
		payload := map[string]any{
			"behavior":     BehaviorAllow,
			"updatedInput": input,
		}
		if len(result.UpdatedPermissions) > 0 {
			payload["updatedPermissions"] = result.UpdatedPermissions
		}
		return payload
	}

	message := result.Message
	if message == "" {
		message = "Permission denied by user"
	}
	payload := map[string]any{
		"behavior": BehaviorDeny,
		"message":  message,
	}
	if result.Interrupt {
		payload["interrupt"] = true
	}
	return payload
}

// Exited reports whether the process ended without being stopped.
func (r *Runner) Exited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processExited && !r.stopped
}

// Stop kills the process (SIGTERM, then SIGKILL after the grace period),
// drops pending permission requests, and waits for the reader goroutines.
// No events are delivered once Stop has begun. Safe to call repeatedly.
func (r *Runner) Stop() error {
	r.stopOnce.Do(func() {
		r.log.Info("stopping runner")

		r.mu.Lock()
		r.stopped = true
		close(r.stopCh)
		r.pending = make(map[string]PermissionRequest)
		pm := r.pm
		r.mu.Unlock()

		if pm != nil {
			r.stopErr = pm.Stop()
		}
		if r.stopErr != nil {
			r.log.Error("failed to stop process", "error", r.stopErr)
		}
		r.closeStreamLog()
		r.log.Info("runner stopped")
	})
	return r.stopErr
}

func (r *Runner) openStreamLog() {
	path, err := logger.StreamLogPath(r.config.SessionID)
	if err != nil {
		r.log.Warn("failed to get stream log path", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		r.log.Warn("failed to create log directory", "error", err)
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		r.log.Warn("failed to open stream log file", "path", path, "error", err)
		return
	}
	r.mu.Lock()
	r.streamLogFile = f
	r.mu.Unlock()
}

func (r *Runner) writeStreamLog(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streamLogFile == nil {
		return
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	r.streamLogFile.WriteString(line)
}

func (r *Runner) closeStreamLog() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streamLogFile != nil {
		r.streamLogFile.Close()
		r.streamLogFile = nil
	}
}
