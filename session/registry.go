package session

import (
	"cmp"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhubert/agentdesk/apperr"
	"github.com/zhubert/agentdesk/logger"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Recent working directory limits.
const (
	DefaultRecentCwds = 8
	MaxRecentCwds     = 20
)

// Info is the UI-facing description of a session.
type Info struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Status          Status `json:"status"`
	ClaudeSessionID string `json:"claudeSessionId,omitempty"`
	Cwd             string `json:"cwd,omitempty"`
	CreatedAt       int64  `json:"createdAt"`
	UpdatedAt       int64  `json:"updatedAt"`
}

// CreateOptions carries the per-session settings that are not part of Info.
type CreateOptions struct {
	ProviderID   string
	AllowedTools []string
}

// Registry holds every known session. Safe for concurrent use.
type Registry struct {
	store       Store
	maxMessages int
	log         *slog.Logger
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Record
}

// NewRegistry creates an empty registry. store may be nil for an in-memory
// registry; maxMessages <= 0 keeps every message.
func NewRegistry(store Store, maxMessages int) *Registry {
	return &Registry{
		store:       store,
		maxMessages: maxMessages,
		log:         logger.WithComponent("session"),
		now:         time.Now,
		sessions:    make(map[string]*Record),
	}
}

// Load replaces the registry contents with the store's records. Sessions
// left running by a previous host are reset to idle.
func (r *Registry) Load() error {
	if r.store == nil {
		return nil
	}
	records, err := r.store.LoadAll()
	if err != nil {
		r.log.Warn("some sessions could not be loaded", "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = make(map[string]*Record, len(records))
	for i := range records {
		rec := records[i]
		if rec.Info.Status == StatusRunning {
			rec.Info.Status = StatusIdle
			r.persistLocked(&rec)
		}
		r.sessions[rec.Info.ID] = &rec
	}
	r.log.Info("sessions loaded", "count", len(r.sessions))
	return nil
}

func (r *Registry) stamp() int64 {
	return r.now().UnixMilli()
}

// persistLocked saves rec, logging failures. Caller must hold mu.
func (r *Registry) persistLocked(rec *Record) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(*rec); err != nil {
		r.log.Error("failed to persist session", "sessionID", rec.Info.ID, "error", err)
	}
}

func (r *Registry) getLocked(id string) (*Record, error) {
	rec, ok := r.sessions[id]
	if !ok {
		return nil, apperr.Newf(apperr.CodeNotFound, "session %s not found", id)
	}
	return rec, nil
}

// Create registers a new idle session.
func (r *Registry) Create(title, cwd string, opts CreateOptions) Info {
	now := r.stamp()
	rec := &Record{
		Info: Info{
			ID:        uuid.New().String(),
			Title:     title,
			Status:    StatusIdle,
			Cwd:       cwd,
			CreatedAt: now,
			UpdatedAt: now,
		},
		ProviderID:   opts.ProviderID,
		AllowedTools: slices.Clone(opts.AllowedTools),
		Messages:     []json.RawMessage{},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[rec.Info.ID] = rec
	r.persistLocked(rec)
	return rec.Info
}

// Get returns the session's Info.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[id]
	if !ok {
		return Info{}, false
	}
	return rec.Info, true
}

// Options returns the provider and tools the session runs with.
func (r *Registry) Options(id string) (CreateOptions, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[id]
	if !ok {
		return CreateOptions{}, false
	}
	return CreateOptions{ProviderID: rec.ProviderID, AllowedTools: slices.Clone(rec.AllowedTools)}, true
}

// List returns every session, most recently updated first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.sessions))
	for _, rec := range r.sessions {
		out = append(out, rec.Info)
	}
	slices.SortFunc(out, func(a, b Info) int {
		if c := cmp.Compare(b.UpdatedAt, a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// BeginTurn moves the session to running. It fails with INVALID_STATE if a
// turn is already running, leaving the session untouched. A non-empty
// providerID replaces the session's provider.
func (r *Registry) BeginTurn(id, providerID string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.getLocked(id)
	if err != nil {
		return Info{}, err
	}
	if rec.Info.Status == StatusRunning {
		return Info{}, apperr.Newf(apperr.CodeInvalidState, "session %s is already running", id)
	}
	if providerID != "" {
		rec.ProviderID = providerID
	}
	rec.Info.Status = StatusRunning
	rec.Info.UpdatedAt = r.stamp()
	r.persistLocked(rec)
	return rec.Info, nil
}

// SetStatus records a status change and persists the session with its
// history.
func (r *Registry) SetStatus(id string, status Status) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.getLocked(id)
	if err != nil {
		return Info{}, err
	}
	rec.Info.Status = status
	rec.Info.UpdatedAt = r.stamp()
	r.persistLocked(rec)
	return rec.Info, nil
}

// SetClaudeSessionID records the CLI conversation id used to resume.
func (r *Registry) SetClaudeSessionID(id, claudeSessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.getLocked(id)
	if err != nil {
		return err
	}
	if rec.Info.ClaudeSessionID == claudeSessionID {
		return nil
	}
	rec.Info.ClaudeSessionID = claudeSessionID
	r.persistLocked(rec)
	return nil
}

// SetTitle replaces the session title.
func (r *Registry) SetTitle(id, title string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.getLocked(id)
	if err != nil {
		return Info{}, err
	}
	rec.Info.Title = title
	rec.Info.UpdatedAt = r.stamp()
	r.persistLocked(rec)
	return rec.Info, nil
}

// AppendMessage adds msg to the end of the session's history. The history
// is written to disk with the next status change or Flush.
func (r *Registry) AppendMessage(id string, msg json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.getLocked(id)
	if err != nil {
		return err
	}
	rec.Messages = append(rec.Messages, slices.Clone(msg))
	if r.maxMessages > 0 && len(rec.Messages) > r.maxMessages {
		rec.Messages = slices.Clone(rec.Messages[len(rec.Messages)-r.maxMessages:])
	}
	return nil
}

// History returns the session's messages in order together with its status.
func (r *Registry) History(id string) ([]json.RawMessage, Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, err := r.getLocked(id)
	if err != nil {
		return nil, "", err
	}
	return slices.Clone(rec.Messages), rec.Info.Status, nil
}

// Delete removes the session and its file. Running sessions are refused.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.getLocked(id)
	if err != nil {
		return err
	}
	if rec.Info.Status == StatusRunning {
		return apperr.Newf(apperr.CodeInvalidState, "session %s is running; stop it before deleting", id)
	}
	delete(r.sessions, id)
	if r.store != nil {
		if err := r.store.Delete(id); err != nil {
			return apperr.Wrap(err, apperr.CodePersistence, "failed to delete session file")
		}
	}
	return nil
}

// Flush persists every session.
func (r *Registry) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.sessions {
		r.persistLocked(rec)
	}
}

// ClampRecentLimit maps a requested count onto [1, MaxRecentCwds]; zero
// means "not given" and yields DefaultRecentCwds.
func ClampRecentLimit(limit int) int {
	if limit == 0 {
		return DefaultRecentCwds
	}
	return min(max(limit, 1), MaxRecentCwds)
}

// ListRecentCwds returns distinct working directories, most recently used
// first, at most ClampRecentLimit(limit) of them.
func (r *Registry) ListRecentCwds(limit int) []string {
	limit = ClampRecentLimit(limit)

	seen := make(map[string]bool)
	out := make([]string, 0, limit)
	for _, info := range r.List() {
		if info.Cwd == "" || seen[info.Cwd] {
			continue
		}
		seen[info.Cwd] = true
		out = append(out, info.Cwd)
		if len(out) == limit {
			break
		}
	}
	return out
}
