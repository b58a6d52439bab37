package claude

import (
	"context"
	"slices"
	"sync"
)

// MockRunner is a test double for Runner that doesn't spawn real processes.
// Tests push events with Emit and end the turn with Finish.
//
// NOTE: This file is used by tests in manager/ and ipc/.
type MockRunner struct {
	mu sync.Mutex

	config  RunnerConfig
	events  chan Event
	prompts []string
	pending map[string]bool
	answers map[string]PermissionResult
	started bool
	stopped bool
	closed  bool

	// StartErr is returned by Start when set.
	StartErr error
	// StopErr is returned by Stop when set.
	StopErr error
	// OnStart is invoked after a successful Start.
	OnStart func(m *MockRunner)
}

// NewMockRunner creates a mock runner for testing.
func NewMockRunner(config RunnerConfig) *MockRunner {
	return &MockRunner{
		config:  config,
		pending: make(map[string]bool),
		answers: make(map[string]PermissionResult),
	}
}

// Start records the prompt and opens the event channel.
func (m *MockRunner) Start(ctx context.Context, prompt string) (<-chan Event, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	if m.StartErr != nil {
		err := m.StartErr
		m.mu.Unlock()
		return nil, err
	}
	m.started = true
	m.events = make(chan Event, EventChannelBuffer)
	events := m.events
	onStart := m.OnStart
	m.mu.Unlock()

	if onStart != nil {
		onStart(m)
	}
	return events, nil
}

// Emit delivers ev if the runner is started and not stopped.
func (m *MockRunner) Emit(ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.stopped || m.closed {
		return false
	}
	if ev.Kind == EventPermission {
		m.pending[ev.Permission.ToolUseID] = true
	}
	select {
	case m.events <- ev:
		return true
	default:
		return false
	}
}

// EmitLine parses a stream-json line and delivers it as a message event.
func (m *MockRunner) EmitLine(line string) bool {
	parsed, err := parseLine(line)
	if err != nil || parsed.kind != lineMessage {
		return false
	}
	return m.Emit(Event{Kind: EventMessage, Message: parsed.message})
}

// EmitPermission delivers a permission request for toolName.
func (m *MockRunner) EmitPermission(toolUseID, toolName string) bool {
	return m.Emit(Event{Kind: EventPermission, Permission: PermissionRequest{
		ToolUseID: toolUseID,
		ToolName:  toolName,
		Input:     []byte("{}"),
	}})
}

// Finish sends the done event and closes the channel.
func (m *MockRunner) Finish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.closed {
		return
	}
	if !m.stopped {
		select {
		case m.events <- Event{Kind: EventDone, Err: err}:
		default:
		}
	}
	m.closed = true
	close(m.events)
}

// RespondPermission records the answer. Only the first answer per id counts.
func (m *MockRunner) RespondPermission(toolUseID string, result PermissionResult) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || !m.pending[toolUseID] {
		return false
	}
	delete(m.pending, toolUseID)
	m.answers[toolUseID] = result
	return true
}

// Stop marks the runner stopped and closes its channel.
func (m *MockRunner) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return m.StopErr
	}
	m.stopped = true
	m.pending = make(map[string]bool)
	if m.started && !m.closed {
		m.closed = true
		close(m.events)
	}
	return m.StopErr
}

// Exited reports whether Finish ran before any Stop.
func (m *MockRunner) Exited() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed && !m.stopped
}

// Config returns the configuration the runner was built with.
func (m *MockRunner) Config() RunnerConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Prompts returns every prompt passed to Start.
func (m *MockRunner) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.prompts)
}

// Answer returns the recorded permission answer for toolUseID.
func (m *MockRunner) Answer(toolUseID string) (PermissionResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.answers[toolUseID]
	return r, ok
}

// Stopped reports whether Stop was called.
func (m *MockRunner) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// MockRunnerFactory hands out MockRunners and remembers them in order.
type MockRunnerFactory struct {
	mu      sync.Mutex
	runners []*MockRunner

	// Configure, when set, runs on each new runner before it is returned.
	Configure func(m *MockRunner)
}

// Factory returns a RunnerFactory backed by f.
func (f *MockRunnerFactory) Factory() RunnerFactory {
	return func(config RunnerConfig) RunnerInterface {
		m := NewMockRunner(config)
		f.mu.Lock()
		configure := f.Configure
		f.runners = append(f.runners, m)
		f.mu.Unlock()
		if configure != nil {
			configure(m)
		}
		return m
	}
}

// Runners returns every runner created so far.
func (f *MockRunnerFactory) Runners() []*MockRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.runners)
}

// Last returns the most recently created runner, or nil.
func (f *MockRunnerFactory) Last() *MockRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runners) == 0 {
		return nil
	}
	return f.runners[len(f.runners)-1]
}

// Ensure MockRunner implements RunnerInterface at compile time.
var _ RunnerInterface = (*MockRunner)(nil)
