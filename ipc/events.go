// Package ipc carries events between the chat UI and the host.
//
// Every message in either direction is a JSON envelope {"type", "payload"}.
// Client events enter through Relay.Handle; server events leave through the
// Bus, which the websocket transport fans out to every connected client.
package ipc

import (
	"encoding/json"

	"github.com/zhubert/agentdesk/claude"
	"github.com/zhubert/agentdesk/manager"
	"github.com/zhubert/agentdesk/provider"
	"github.com/zhubert/agentdesk/session"
	"github.com/zhubert/agentdesk/sysstats"
)

// Client event types.
const (
	ClientSessionStart       = "session.start"
	ClientSessionContinue    = "session.continue"
	ClientSessionStop        = "session.stop"
	ClientSessionDelete      = "session.delete"
	ClientSessionList        = "session.list"
	ClientSessionHistory     = "session.history"
	ClientPermissionResponse = "permission.response"
	ClientProviderList       = "provider.list"
	ClientProviderSave       = "provider.save"
	ClientProviderDelete     = "provider.delete"
	ClientProviderGet        = "provider.get"
)

// Server event types.
const (
	EventStreamMessage     = manager.EventStreamMessage
	EventStreamUserPrompt  = manager.EventStreamUserPrompt
	EventSessionStatus     = manager.EventSessionStatus
	EventSessionDeleted    = manager.EventSessionDeleted
	EventPermissionRequest = manager.EventPermissionRequest
	EventRunnerError       = manager.EventRunnerError
	EventSessionList       = "session.list"
	EventSessionHistory    = "session.history"
	EventProviderList      = "provider.list"
	EventProviderSaved     = "provider.saved"
	EventProviderDeleted   = "provider.deleted"
	EventProviderData      = "provider.data"
	EventStatistics        = sysstats.EventType
)

// ClientEvent is a request from the UI.
type ClientEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerEvent is a notification to the UI.
type ServerEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Client payloads

type continueRequest struct {
	SessionID  string `json:"sessionId"`
	Prompt     string `json:"prompt"`
	ProviderID string `json:"providerId,omitempty"`
}

type sessionRef struct {
	SessionID string `json:"sessionId"`
}

type permissionResponse struct {
	SessionID string                  `json:"sessionId"`
	ToolUseID string                  `json:"toolUseId"`
	Result    claude.PermissionResult `json:"result"`
}

type providerSave struct {
	Provider *provider.Config `json:"provider"`
}

type providerRef struct {
	ProviderID string `json:"providerId"`
}

// Server payloads

// SessionListPayload accompanies session.list.
type SessionListPayload struct {
	Sessions []session.Info `json:"sessions"`
}

// SessionHistoryPayload accompanies session.history.
type SessionHistoryPayload struct {
	SessionID string            `json:"sessionId"`
	Status    session.Status    `json:"status"`
	Messages  []json.RawMessage `json:"messages"`
}

// ProviderEntry is a provider as shown to the UI.
type ProviderEntry struct {
	provider.Config
	IsDefault bool `json:"isDefault,omitempty"`
}

// ProviderListPayload accompanies provider.list.
type ProviderListPayload struct {
	Providers []ProviderEntry `json:"providers"`
}

// ProviderPayload accompanies provider.saved and provider.data.
type ProviderPayload struct {
	Provider ProviderEntry `json:"provider"`
}

// ProviderDeletedPayload accompanies provider.deleted.
type ProviderDeletedPayload struct {
	ProviderID string `json:"providerId"`
}

func entryFor(c provider.Config) ProviderEntry {
	return ProviderEntry{Config: c, IsDefault: provider.IsDefault(c.ID)}
}
