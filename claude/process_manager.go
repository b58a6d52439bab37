package claude

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/zhubert/agentdesk/apperr"
)

// DefaultGracePeriod is how long Stop waits after SIGTERM before SIGKILL.
const DefaultGracePeriod = 2 * time.Second

// killTimeout bounds the wait after SIGKILL.
const killTimeout = 5 * time.Second

// ProcessManagerInterface defines the contract for managing one agent process.
type ProcessManagerInterface interface {
	// Start launches the process. It fails with SPAWN_FAILED when the
	// executable cannot be started.
	Start() error

	// Stop terminates the process: SIGTERM, then SIGKILL after the grace
	// period. Safe to call multiple times.
	Stop() error

	// IsRunning returns whether the process is currently running.
	IsRunning() bool

	// WriteMessage writes one line to the process stdin.
	WriteMessage(data []byte) error

	// CloseInput closes stdin so the process finishes after its current turn.
	CloseInput()

	// Pid returns the process id, or 0 when not running.
	Pid() int
}

// ProcessConfig holds everything needed to launch the agent CLI.
type ProcessConfig struct {
	SessionID   string
	Command     string
	Args        []string
	WorkingDir  string
	Env         []string
	GracePeriod time.Duration
}

// ProcessCallbacks lets the Runner react to process events without owning
// the process.
//
// Callbacks run on the ProcessManager's goroutines. OnLine is called for
// every stdout line in order, and never after OnProcessExit. OnProcessExit is
// called exactly once per started process, after stdout has been fully read,
// including when the exit was caused by Stop.
type ProcessCallbacks struct {
	OnStart       func(pid int)
	OnLine        func(line string)
	OnProcessExit func(err error, stderrContent string, stopped bool)
}

// ProcessManager manages the lifecycle of one agent CLI process.
type ProcessManager struct {
	config    ProcessConfig
	callbacks ProcessCallbacks
	log       *slog.Logger

	// Process state (protected by mu)
	mu            sync.Mutex
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	stdout        *bufio.Reader
	stderr        io.ReadCloser
	stderrContent string
	stdoutDone    chan struct{}
	stderrDone    chan struct{}
	running       bool
	stopped       bool

	// waitDone is closed by monitorExit once cmd.Wait() returns. Stop selects
	// on it instead of calling Wait itself.
	waitDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// NewProcessManager creates a new ProcessManager with the given configuration and callbacks.
func NewProcessManager(config ProcessConfig, callbacks ProcessCallbacks, log *slog.Logger) *ProcessManager {
	if config.GracePeriod <= 0 {
		config.GracePeriod = DefaultGracePeriod
	}
	return &ProcessManager{
		config:    config,
		callbacks: callbacks,
		log:       log,
	}
}

// Start launches the process and its reader goroutines.
func (pm *ProcessManager) Start() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.running {
		return nil
	}
	if pm.stopped {
		return apperr.New(apperr.CodeInvalidState, "process manager was stopped")
	}

	startTime := time.Now()
	pm.log.Debug("starting process", "command", pm.config.Command+" "+strings.Join(pm.config.Args, " "))

	cmd := exec.Command(pm.config.Command, pm.config.Args...)
	cmd.Dir = pm.config.WorkingDir
	cmd.Env = pm.config.Env
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return apperr.Wrap(err, apperr.CodeSpawnFailed, "failed to get stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return apperr.Wrap(err, apperr.CodeSpawnFailed, "failed to get stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return apperr.Wrap(err, apperr.CodeSpawnFailed, "failed to get stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		pm.log.Error("failed to start process", "error", err)
		return apperr.Wrap(err, apperr.CodeSpawnFailed, fmt.Sprintf("failed to start %s", pm.config.Command))
	}

	pm.cmd = cmd
	pm.stdin = stdin
	pm.stdout = bufio.NewReader(stdout)
	pm.stderr = stderr
	pm.stderrContent = ""
	pm.stdoutDone = make(chan struct{})
	pm.stderrDone = make(chan struct{})
	pm.waitDone = make(chan struct{})
	pm.running = true
	pm.ctx, pm.cancel = context.WithCancel(context.Background())

	pid := cmd.Process.Pid
	pm.log.Info("process started", "elapsed", time.Since(startTime), "pid", pid)

	if pm.callbacks.OnStart != nil {
		pm.callbacks.OnStart(pid)
	}

	pm.wg.Go(pm.readOutput)
	pm.wg.Go(pm.drainStderr)
	pm.wg.Go(pm.monitorExit)

	return nil
}

// Stop terminates the process and waits for the reader goroutines.
// Subsequent calls are no-ops.
func (pm *ProcessManager) Stop() error {
	pm.mu.Lock()
	pm.stopped = true
	if pm.cancel != nil {
		pm.cancel()
	}
	if !pm.running {
		pm.mu.Unlock()
		return nil
	}

	pm.log.Debug("stopping process")
	pm.running = false

	if pm.stdin != nil {
		pm.stdin.Close()
		pm.stdin = nil
	}
	cmd := pm.cmd
	waitDone := pm.waitDone
	grace := pm.config.GracePeriod
	pm.mu.Unlock()

	if cmd != nil && cmd.Process != nil && waitDone != nil {
		if err := terminateProcess(cmd.Process); err != nil {
			pm.log.Debug("SIGTERM failed", "error", err)
		}
		select {
		case <-waitDone:
			pm.log.Debug("process exited gracefully")
		case <-time.After(grace):
			pm.log.Debug("force killing process", "grace", grace)
			if err := killProcess(cmd.Process); err != nil {
				pm.log.Warn("SIGKILL failed", "error", err)
			}
			select {
			case <-waitDone:
			case <-time.After(killTimeout):
				return apperr.Newf(apperr.CodeInternal, "process %d did not exit after SIGKILL", cmd.Process.Pid)
			}
		}
	}

	pm.wg.Wait()
	pm.log.Debug("all goroutines completed")
	return nil
}

// IsRunning returns whether the process is currently running.
func (pm *ProcessManager) IsRunning() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.running
}

// Pid returns the process id, or 0 when not running.
func (pm *ProcessManager) Pid() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if !pm.running || pm.cmd == nil || pm.cmd.Process == nil {
		return 0
	}
	return pm.cmd.Process.Pid
}

// WriteMessage writes a message to the process stdin.
func (pm *ProcessManager) WriteMessage(data []byte) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if !pm.running || pm.stdin == nil {
		return fmt.Errorf("process not running")
	}
	if _, err := pm.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to process: %w", err)
	}
	return nil
}

// CloseInput closes stdin. The CLI exits once it has answered everything
// it already read.
func (pm *ProcessManager) CloseInput() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.stdin != nil {
		pm.stdin.Close()
		pm.stdin = nil
	}
}

// readOutput delivers stdout lines until EOF. Lines read after Stop are dropped.
func (pm *ProcessManager) readOutput() {
	pm.mu.Lock()
	reader := pm.stdout
	done := pm.stdoutDone
	ctx := pm.ctx
	pm.mu.Unlock()
	defer close(done)

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 && ctx.Err() == nil && pm.callbacks.OnLine != nil {
			pm.callbacks.OnLine(line)
		}
		if err != nil {
			if err != io.EOF {
				pm.log.Debug("error reading stdout", "error", err)
			}
			return
		}
	}
}

// drainStderr captures stderr for error reporting. It must run
// concurrently with the process so the pipe never fills up.
func (pm *ProcessManager) drainStderr() {
	pm.mu.Lock()
	stderr := pm.stderr
	done := pm.stderrDone
	pm.mu.Unlock()
	defer close(done)

	if stderr == nil {
		return
	}
	stderrBytes, err := io.ReadAll(stderr)
	if err != nil {
		pm.log.Debug("error reading stderr", "error", err)
	}
	if len(stderrBytes) > 0 {
		content := strings.TrimSpace(string(stderrBytes))
		pm.mu.Lock()
		pm.stderrContent = content
		pm.mu.Unlock()
		pm.log.Debug("captured stderr", "content", truncateForLog(content))
	}
}

// monitorExit is the sole caller of cmd.Wait(). It waits for both output
// pipes to hit EOF first, since Wait closes them.
func (pm *ProcessManager) monitorExit() {
	pm.mu.Lock()
	cmd := pm.cmd
	stdoutDone := pm.stdoutDone
	stderrDone := pm.stderrDone
	waitDone := pm.waitDone
	pm.mu.Unlock()

	<-stdoutDone
	<-stderrDone
	err := cmd.Wait()
	close(waitDone)
	pm.log.Debug("process exited", "error", err)

	pm.mu.Lock()
	stderrContent := pm.stderrContent
	stopped := pm.stopped
	pm.running = false
	pm.cleanupLocked()
	pm.mu.Unlock()

	if pm.callbacks.OnProcessExit != nil {
		pm.callbacks.OnProcessExit(err, stderrContent, stopped)
	}
}

// cleanupLocked releases pipe handles. Caller must hold mu.
func (pm *ProcessManager) cleanupLocked() {
	if pm.stdin != nil {
		pm.stdin.Close()
		pm.stdin = nil
	}
	pm.stdout = nil
	pm.stderr = nil
}

// Ensure ProcessManager implements ProcessManagerInterface at compile time.
var _ ProcessManagerInterface = (*ProcessManager)(nil)
