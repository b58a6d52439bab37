package manager

import (
	"sync"
	"time"

	"github.com/zhubert/agentdesk/claude"
)

// SessionState holds the live turn of one session.
//
// Thread Safety:
// The state's mutex is held for the whole of every operation that touches
// the turn: starting it, handling one of its events, answering a permission
// and stopping it. That serializes event emission against Stop, so once
// Stop returns nothing more is emitted for the stopped turn.
type SessionState struct {
	mu sync.Mutex

	runner    claude.RunnerInterface
	turn      uint64 // incremented whenever a turn begins or is abandoned
	waitStart time.Time
	pending   map[string]claude.PermissionRequest
}

// beginTurnLocked installs runner and returns the token identifying this turn.
func (s *SessionState) beginTurnLocked(runner claude.RunnerInterface) uint64 {
	s.turn++
	s.runner = runner
	s.waitStart = time.Now()
	s.pending = make(map[string]claude.PermissionRequest)
	return s.turn
}

// endTurnLocked detaches the runner and returns it. Events still queued for
// the old turn are ignored afterwards.
func (s *SessionState) endTurnLocked() claude.RunnerInterface {
	runner := s.runner
	s.turn++
	s.runner = nil
	s.pending = nil
	s.waitStart = time.Time{}
	return runner
}

func (s *SessionState) isCurrentLocked(turn uint64) bool {
	return s.runner != nil && s.turn == turn
}

// IsRunning reports whether a turn is in progress.
func (s *SessionState) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner != nil
}

// WaitStart returns when the current turn began, or the zero time.
func (s *SessionState) WaitStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitStart
}

// PendingPermissions returns the unanswered permission requests.
func (s *SessionState) PendingPermissions() []claude.PermissionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]claude.PermissionRequest, 0, len(s.pending))
	for _, req := range s.pending {
		out = append(out, req)
	}
	return out
}

// SessionStateManager maps session ids to their SessionState.
type SessionStateManager struct {
	mu     sync.RWMutex
	states map[string]*SessionState
}

// NewSessionStateManager creates an empty manager.
func NewSessionStateManager() *SessionStateManager {
	return &SessionStateManager{states: make(map[string]*SessionState)}
}

// GetIfExists returns the state for sessionID or nil.
func (m *SessionStateManager) GetIfExists(sessionID string) *SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[sessionID]
}

// GetOrCreate returns the state for sessionID, creating it if needed.
func (m *SessionStateManager) GetOrCreate(sessionID string) *SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[sessionID]
	if !ok {
		state = &SessionState{}
		m.states[sessionID] = state
	}
	return state
}

// Delete forgets sessionID.
func (m *SessionStateManager) Delete(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
}

// IDs returns every session id with state.
func (m *SessionStateManager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	return ids
}
