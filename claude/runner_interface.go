package claude

import (
	"context"
)

// RunnerInterface defines the contract for agent runners.
// This allows for mock implementations in tests while keeping
// the production Runner implementation unchanged.
type RunnerInterface interface {
	// Start spawns the turn and returns its event channel.
	Start(ctx context.Context, prompt string) (<-chan Event, error)

	// RespondPermission answers a pending permission request once.
	RespondPermission(toolUseID string, result PermissionResult) bool

	// Stop terminates the turn. Idempotent.
	Stop() error

	// Exited reports whether the process ended on its own. Its final
	// events, including EventDone, are then already queued.
	Exited() bool
}

// RunnerFactory builds a runner for one turn.
type RunnerFactory func(config RunnerConfig) RunnerInterface

// NewRunnerFactory returns the production factory.
func NewRunnerFactory() RunnerFactory {
	return func(config RunnerConfig) RunnerInterface {
		return NewRunner(config)
	}
}

// Ensure Runner implements RunnerInterface at compile time.
var _ RunnerInterface = (*Runner)(nil)
