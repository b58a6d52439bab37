package manager

import (
	"encoding/json"
	"strings"

	"github.com/zhubert/agentdesk/claude"
	"github.com/zhubert/agentdesk/session"
)

// Event types emitted by the session manager.
const (
	EventStreamMessage     = "stream.message"
	EventStreamUserPrompt  = "stream.user_prompt"
	EventSessionStatus     = "session.status"
	EventSessionDeleted    = "session.deleted"
	EventPermissionRequest = "permission.request"
	EventRunnerError       = "runner.error"
)

// Emitter receives every event the manager produces. Implementations must
// not block for long; events for one session are emitted in order.
type Emitter interface {
	Emit(eventType string, payload any)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(eventType string, payload any)

// Emit calls f.
func (f EmitterFunc) Emit(eventType string, payload any) {
	f(eventType, payload)
}

type discardEmitter struct{}

func (discardEmitter) Emit(string, any) {}

// ToolList is a list of tool names. In JSON it may also be written as a
// single comma separated string.
type ToolList []string

// UnmarshalJSON accepts either an array of names or "Read,Edit,Bash".
func (l *ToolList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return err
	}
	*l = nil
	for tool := range strings.SplitSeq(joined, ",") {
		if tool = strings.TrimSpace(tool); tool != "" {
			*l = append(*l, tool)
		}
	}
	return nil
}

// StartRequest describes a new session.
type StartRequest struct {
	Title        string   `json:"title"`
	Prompt       string   `json:"prompt"`
	Cwd          string   `json:"cwd,omitempty"`
	AllowedTools ToolList `json:"allowedTools,omitempty"`
	ProviderID   string   `json:"providerId,omitempty"`
}

// StatusPayload accompanies session.status.
type StatusPayload struct {
	SessionID string         `json:"sessionId"`
	Status    session.Status `json:"status"`
	Title     string         `json:"title,omitempty"`
	Cwd       string         `json:"cwd,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// StreamMessagePayload accompanies stream.message.
type StreamMessagePayload struct {
	SessionID string               `json:"sessionId"`
	Message   claude.StreamMessage `json:"message"`
}

// UserPromptPayload accompanies stream.user_prompt.
type UserPromptPayload struct {
	SessionID string `json:"sessionId"`
	Prompt    string `json:"prompt"`
}

// PermissionRequestPayload accompanies permission.request.
type PermissionRequestPayload struct {
	SessionID string          `json:"sessionId"`
	ToolUseID string          `json:"toolUseId"`
	ToolName  string          `json:"toolName"`
	Input     json.RawMessage `json:"input"`
}

// RunnerErrorPayload accompanies runner.error. SessionID is empty for
// errors not tied to a session.
type RunnerErrorPayload struct {
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

// DeletedPayload accompanies session.deleted.
type DeletedPayload struct {
	SessionID string `json:"sessionId"`
}
