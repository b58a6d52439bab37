package manager

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/zhubert/agentdesk/apperr"
	"github.com/zhubert/agentdesk/claude"
	pexec "github.com/zhubert/agentdesk/exec"
	"github.com/zhubert/agentdesk/logger"
	"github.com/zhubert/agentdesk/provider"
	"github.com/zhubert/agentdesk/session"
)

// ProviderSource lists the user's saved providers. *credstore.Store
// satisfies it.
type ProviderSource interface {
	Load() []provider.Config
}

// SessionManager owns every session's runner. It turns client operations
// into runner turns and runner events into emitted events, keeping the
// session registry in step.
type SessionManager struct {
	registry      *session.Registry
	providers     ProviderSource
	emitter       Emitter
	opts          Options
	stateManager  *SessionStateManager
	runnerFactory claude.RunnerFactory
	executor      pexec.CommandExecutor
	log           *slog.Logger

	// ctx outlives individual requests; runners are bound to it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // event consumers

	mu           sync.Mutex
	shuttingDown bool
}

// NewSessionManager creates a session manager. providers and emitter may be nil.
func NewSessionManager(registry *session.Registry, providers ProviderSource, emitter Emitter, opts Options) *SessionManager {
	if emitter == nil {
		emitter = discardEmitter{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		registry:      registry,
		providers:     providers,
		emitter:       emitter,
		opts:          opts,
		stateManager:  NewSessionStateManager(),
		runnerFactory: claude.NewRunnerFactory(),
		executor:      pexec.GetDefaultExecutor(),
		log:           logger.WithComponent("manager"),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// SetRunnerFactory sets a custom runner factory (for testing).
func (sm *SessionManager) SetRunnerFactory(factory claude.RunnerFactory) {
	sm.runnerFactory = factory
}

// SetExecutor sets the executor used for one-shot CLI calls (for testing).
func (sm *SessionManager) SetExecutor(executor pexec.CommandExecutor) {
	sm.executor = executor
}

// SetEmitter replaces the event sink.
func (sm *SessionManager) SetEmitter(emitter Emitter) {
	if emitter == nil {
		emitter = discardEmitter{}
	}
	sm.emitter = emitter
}

// StateManager returns the per-session live state.
func (sm *SessionManager) StateManager() *SessionStateManager {
	return sm.stateManager
}

// Registry returns the underlying session registry.
func (sm *SessionManager) Registry() *session.Registry {
	return sm.registry
}

func (sm *SessionManager) isShuttingDown() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.shuttingDown
}

// providerEnv resolves id (or the configured default) to the environment
// the agent process needs. No id and no default means no provider variables.
func (sm *SessionManager) providerEnv(id string) (map[string]string, error) {
	if id == "" {
		id = sm.opts.DefaultProviderID
	}
	if id == "" {
		return nil, nil
	}
	var user []provider.Config
	if sm.providers != nil {
		user = sm.providers.Load()
	}
	p, ok := provider.Find(provider.Merge(user), id)
	if !ok {
		return nil, apperr.Newf(apperr.CodeValidation, "unknown provider %q", id).WithDetail("field", "providerId")
	}
	return provider.Env(p), nil
}

func validatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return apperr.New(apperr.CodeValidation, "prompt is required").WithDetail("field", "prompt")
	}
	return nil
}

// Start creates a session and runs its first turn. A spawn failure leaves
// the session in the error state and is reported through session.status
// and runner.error rather than the returned error.
func (sm *SessionManager) Start(ctx context.Context, req StartRequest) (session.Info, error) {
	if err := ctx.Err(); err != nil {
		return session.Info{}, err
	}
	if sm.isShuttingDown() {
		return session.Info{}, apperr.New(apperr.CodeInvalidState, "host is shutting down")
	}
	if err := validatePrompt(req.Prompt); err != nil {
		return session.Info{}, err
	}
	providerID := req.ProviderID
	if providerID == "" {
		providerID = sm.opts.DefaultProviderID
	}
	env, err := sm.providerEnv(providerID)
	if err != nil {
		return session.Info{}, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = claude.DefaultTitle
	}
	info := sm.registry.Create(title, req.Cwd, session.CreateOptions{
		ProviderID:   providerID,
		AllowedTools: req.AllowedTools,
	})
	sm.log.Info("session created", "sessionID", info.ID, "cwd", info.Cwd, "provider", providerID)

	state := sm.stateManager.GetOrCreate(info.ID)
	state.mu.Lock()
	defer state.mu.Unlock()

	sm.emitStatus(info, "")
	return sm.runTurnLocked(state, info.ID, "", req.Prompt, env)
}

// Continue runs another turn of an existing session, resuming the CLI
// conversation. A non-empty providerID switches the session's provider.
func (sm *SessionManager) Continue(ctx context.Context, sessionID, prompt, providerID string) (session.Info, error) {
	if err := ctx.Err(); err != nil {
		return session.Info{}, err
	}
	if sm.isShuttingDown() {
		return session.Info{}, apperr.New(apperr.CodeInvalidState, "host is shutting down")
	}
	if _, ok := sm.registry.Get(sessionID); !ok {
		return session.Info{}, apperr.Newf(apperr.CodeNotFound, "session %s not found", sessionID)
	}
	if err := validatePrompt(prompt); err != nil {
		return session.Info{}, err
	}

	resolveID := providerID
	if resolveID == "" {
		if opts, ok := sm.registry.Options(sessionID); ok {
			resolveID = opts.ProviderID
		}
	}
	env, err := sm.providerEnv(resolveID)
	if err != nil {
		return session.Info{}, err
	}

	state := sm.stateManager.GetOrCreate(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	return sm.runTurnLocked(state, sessionID, providerID, prompt, env)
}

// runTurnLocked marks the session running, records the prompt and starts a
// runner. Caller holds state.mu.
func (sm *SessionManager) runTurnLocked(state *SessionState, sessionID, providerID, prompt string, env map[string]string) (session.Info, error) {
	info, err := sm.registry.BeginTurn(sessionID, providerID)
	if err != nil {
		return session.Info{}, err
	}
	log := logger.WithSession(sessionID)
	sm.emitStatus(info, "")

	userPrompt := claude.UserPromptMessage(prompt)
	if err := sm.registry.AppendMessage(sessionID, userPrompt.Raw); err != nil {
		log.Warn("failed to record prompt", "error", err)
	}
	sm.emitter.Emit(EventStreamUserPrompt, UserPromptPayload{SessionID: sessionID, Prompt: prompt})

	sessionOpts, _ := sm.registry.Options(sessionID)
	runner := sm.runnerFactory(claude.RunnerConfig{
		SessionID:    sessionID,
		ResumeID:     info.ClaudeSessionID,
		WorkingDir:   info.Cwd,
		ClaudePath:   sm.opts.ClaudePath,
		NodePath:     sm.opts.NodePath,
		ExtraPath:    sm.opts.ExtraPath,
		AllowedTools: mergeTools(sm.opts.AllowedTools, sessionOpts.AllowedTools),
		ProviderEnv:  env,
		BaseEnv:      sm.opts.BaseEnv,
		GracePeriod:  sm.opts.GracePeriod,
		Tracker:      sm.opts.Tracker,
	})

	events, err := runner.Start(sm.ctx, prompt)
	if err != nil {
		log.Error("failed to start agent", "error", err)
		info, _ = sm.registry.SetStatus(sessionID, session.StatusError)
		sm.emitStatus(info, err.Error())
		sm.emitter.Emit(EventRunnerError, RunnerErrorPayload{SessionID: sessionID, Message: err.Error()})
		return info, nil
	}

	turn := state.beginTurnLocked(runner)
	log.Info("turn started", "resume", info.ClaudeSessionID != "")
	sm.wg.Go(func() {
		sm.consume(state, sessionID, turn, events)
	})
	return info, nil
}

// consume relays one turn's events until the runner closes its channel.
func (sm *SessionManager) consume(state *SessionState, sessionID string, turn uint64, events <-chan claude.Event) {
	log := logger.WithSession(sessionID)
	for ev := range events {
		state.mu.Lock()
		if !state.isCurrentLocked(turn) {
			state.mu.Unlock()
			continue
		}
		switch ev.Kind {
		case claude.EventMessage:
			sm.handleMessageLocked(sessionID, ev.Message)
		case claude.EventPermission:
			state.pending[ev.Permission.ToolUseID] = ev.Permission
			sm.emitter.Emit(EventPermissionRequest, PermissionRequestPayload{
				SessionID: sessionID,
				ToolUseID: ev.Permission.ToolUseID,
				ToolName:  ev.Permission.ToolName,
				Input:     ev.Permission.Input,
			})
		case claude.EventDone:
			state.endTurnLocked()
			sm.finishTurnLocked(sessionID, ev.Err)
		}
		state.mu.Unlock()
	}

	// A runner that closes without a done event and was not stopped ended cleanly.
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.isCurrentLocked(turn) {
		log.Warn("event stream closed without completion")
		state.endTurnLocked()
		sm.finishTurnLocked(sessionID, nil)
	}
}

func (sm *SessionManager) handleMessageLocked(sessionID string, msg claude.StreamMessage) {
	if msg.SessionID != "" {
		if err := sm.registry.SetClaudeSessionID(sessionID, msg.SessionID); err != nil {
			logger.WithSession(sessionID).Warn("failed to record conversation id", "error", err)
		}
	}
	if err := sm.registry.AppendMessage(sessionID, msg.Raw); err != nil {
		logger.WithSession(sessionID).Warn("failed to record message", "error", err)
	}
	sm.emitter.Emit(EventStreamMessage, StreamMessagePayload{SessionID: sessionID, Message: msg})
}

// finishTurnLocked records how a turn ended.
func (sm *SessionManager) finishTurnLocked(sessionID string, turnErr error) {
	status := session.StatusCompleted
	errText := ""
	if turnErr != nil {
		status = session.StatusError
		errText = turnErr.Error()
	}
	info, err := sm.registry.SetStatus(sessionID, status)
	if err != nil {
		// deleted while running; nothing left to report on
		return
	}
	logger.WithSession(sessionID).Info("turn finished", "status", status, "error", errText)
	sm.emitStatus(info, errText)
	if turnErr != nil {
		sm.emitter.Emit(EventRunnerError, RunnerErrorPayload{SessionID: sessionID, Message: errText})
	}
}

func (sm *SessionManager) emitStatus(info session.Info, errText string) {
	sm.emitter.Emit(EventSessionStatus, StatusPayload{
		SessionID: info.ID,
		Status:    info.Status,
		Title:     info.Title,
		Cwd:       info.Cwd,
		Error:     errText,
	})
}

// Stop ends the session's running turn. Stopping a session that is not
// running is a no-op. Pending permission requests are dropped and no
// further stream events are emitted for the stopped turn once Stop returns.
// A turn whose process already exited is left to finish with its own
// completed or error status.
func (sm *SessionManager) Stop(sessionID string) error {
	if _, ok := sm.registry.Get(sessionID); !ok {
		return apperr.Newf(apperr.CodeNotFound, "session %s not found", sessionID)
	}
	state := sm.stateManager.GetIfExists(sessionID)
	if state == nil {
		return nil
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return sm.stopLocked(state, sessionID)
}

// stopLocked is Stop for a caller holding state.mu.
func (sm *SessionManager) stopLocked(state *SessionState, sessionID string) error {
	log := logger.WithSession(sessionID)
	if state.runner == nil {
		return nil
	}
	if state.runner.Exited() {
		log.Debug("stop skipped, turn already exited")
		return nil
	}
	runner := state.endTurnLocked()
	status := session.StatusIdle
	errText := ""
	if err := runner.Stop(); err != nil {
		log.Error("failed to stop agent", "error", err)
		status = session.StatusError
		errText = err.Error()
	} else {
		log.Info("session stopped")
	}

	info, err := sm.registry.SetStatus(sessionID, status)
	if err != nil {
		return err
	}
	sm.emitStatus(info, errText)
	return nil
}

// Delete removes a session that is not running.
func (sm *SessionManager) Delete(sessionID string) error {
	if state := sm.stateManager.GetIfExists(sessionID); state != nil && state.IsRunning() {
		return apperr.Newf(apperr.CodeInvalidState, "session %s is running; stop it before deleting", sessionID)
	}
	if err := sm.registry.Delete(sessionID); err != nil {
		return err
	}
	sm.stateManager.Delete(sessionID)
	if err := logger.RemoveStreamLog(sessionID); err != nil {
		sm.log.Warn("failed to remove stream log", "sessionID", sessionID, "error", err)
	}
	sm.log.Info("session deleted", "sessionID", sessionID)
	sm.emitter.Emit(EventSessionDeleted, DeletedPayload{SessionID: sessionID})
	return nil
}

// RespondPermission forwards the user's answer to the running turn. Unknown
// or already answered tool use ids are ignored.
func (sm *SessionManager) RespondPermission(sessionID, toolUseID string, result claude.PermissionResult) error {
	if err := result.Validate(); err != nil {
		return apperr.Wrap(err, apperr.CodeValidation, "invalid permission result")
	}
	if _, ok := sm.registry.Get(sessionID); !ok {
		return apperr.Newf(apperr.CodeNotFound, "session %s not found", sessionID)
	}
	state := sm.stateManager.GetIfExists(sessionID)
	if state == nil {
		return nil
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	log := logger.WithSession(sessionID)
	if _, ok := state.pending[toolUseID]; !ok || state.runner == nil {
		log.Debug("ignoring response for unknown permission request", "toolUseID", toolUseID)
		return nil
	}
	delete(state.pending, toolUseID)
	if !state.runner.RespondPermission(toolUseID, result) {
		log.Warn("runner rejected permission response", "toolUseID", toolUseID)
	}
	return nil
}

// List returns every session, most recently updated first.
func (sm *SessionManager) List() []session.Info {
	return sm.registry.List()
}

// History returns a session's messages and status.
func (sm *SessionManager) History(sessionID string) ([]json.RawMessage, session.Status, error) {
	return sm.registry.History(sessionID)
}

// ListRecentCwds returns recently used working directories.
func (sm *SessionManager) ListRecentCwds(limit int) []string {
	return sm.registry.ListRecentCwds(limit)
}

// GenerateTitle asks the agent CLI for a short title summarizing prompt,
// using the default provider. Any failure yields claude.DefaultTitle.
func (sm *SessionManager) GenerateTitle(ctx context.Context, prompt string) string {
	env, err := sm.providerEnv("")
	if err != nil {
		sm.log.Warn("default provider unavailable for title generation", "error", err)
	}
	return claude.GenerateTitle(ctx, sm.executor, claude.TitleConfig{
		ClaudePath:  sm.opts.ClaudePath,
		NodePath:    sm.opts.NodePath,
		ExtraPath:   sm.opts.ExtraPath,
		ProviderEnv: env,
		BaseEnv:     sm.opts.BaseEnv,
	}, prompt)
}

// Shutdown stops every running turn, waits for their event streams to
// drain and flushes the registry. New turns are refused afterwards.
func (sm *SessionManager) Shutdown() {
	sm.mu.Lock()
	if sm.shuttingDown {
		sm.mu.Unlock()
		return
	}
	sm.shuttingDown = true
	sm.mu.Unlock()

	var errs []error
	for _, id := range sm.stateManager.IDs() {
		if err := sm.Stop(id); err != nil && !apperr.Is(err, apperr.CodeNotFound) {
			errs = append(errs, err)
		}
	}
	sm.cancel()
	sm.wg.Wait()
	sm.registry.Flush()

	if err := errors.Join(errs...); err != nil {
		sm.log.Error("errors while stopping sessions", "error", err)
	}
	sm.log.Info("session manager shut down")
}
