package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/zhubert/agentdesk/apperr"
	"github.com/zhubert/agentdesk/claude"
	"github.com/zhubert/agentdesk/logger"
	"github.com/zhubert/agentdesk/manager"
	"github.com/zhubert/agentdesk/provider"
	"github.com/zhubert/agentdesk/session"
)

// Sessions is the session surface the relay drives. *manager.SessionManager
// satisfies it.
type Sessions interface {
	Start(ctx context.Context, req manager.StartRequest) (session.Info, error)
	Continue(ctx context.Context, sessionID, prompt, providerID string) (session.Info, error)
	Stop(sessionID string) error
	Delete(sessionID string) error
	List() []session.Info
	History(sessionID string) ([]json.RawMessage, session.Status, error)
	RespondPermission(sessionID, toolUseID string, result claude.PermissionResult) error
}

// ProviderStore persists user providers. *credstore.Store satisfies it.
type ProviderStore interface {
	Load() []provider.Config
	Save(p provider.Config) (provider.Config, error)
	Delete(id string) (bool, error)
}

// Relay is the single intake for client events. Every failure, including
// malformed input, is reported as a runner.error event.
type Relay struct {
	sessions  Sessions
	providers ProviderStore
	emitter   manager.Emitter
	log       *slog.Logger
}

// NewRelay creates a relay that answers through emitter.
func NewRelay(sessions Sessions, providers ProviderStore, emitter manager.Emitter) *Relay {
	return &Relay{
		sessions:  sessions,
		providers: providers,
		emitter:   emitter,
		log:       logger.WithComponent("ipc-relay"),
	}
}

func decodePayload[T any](ev ClientEvent) (T, error) {
	var v T
	if len(ev.Payload) == 0 || string(ev.Payload) == "null" {
		return v, apperr.Newf(apperr.CodeValidation, "%s requires a payload", ev.Type)
	}
	if err := json.Unmarshal(ev.Payload, &v); err != nil {
		return v, apperr.Wrap(err, apperr.CodeValidation, "invalid "+ev.Type+" payload")
	}
	return v, nil
}

func requireID(field, value string) error {
	if value == "" {
		return apperr.Newf(apperr.CodeValidation, "%s is required", field).WithDetail("field", field)
	}
	return nil
}

// Handle processes one client event. The returned error has already been
// emitted as runner.error; callers only need it for logging.
func (r *Relay) Handle(ctx context.Context, ev ClientEvent) (err error) {
	var sessionID string
	defer func() {
		if rec := recover(); rec != nil {
			err = apperr.Newf(apperr.CodeInternal, "failed to handle %s: %v", ev.Type, rec)
		}
		if err != nil {
			r.log.Warn("client event failed", "type", ev.Type, "sessionID", sessionID, "error", err)
			r.emitter.Emit(EventRunnerError, manager.RunnerErrorPayload{SessionID: sessionID, Message: err.Error()})
		}
	}()

	r.log.Debug("client event", "type", ev.Type)

	switch ev.Type {
	case ClientSessionStart:
		req, err := decodePayload[manager.StartRequest](ev)
		if err != nil {
			return err
		}
		info, err := r.sessions.Start(ctx, req)
		sessionID = info.ID
		return err

	case ClientSessionContinue:
		req, err := decodePayload[continueRequest](ev)
		if err != nil {
			return err
		}
		sessionID = req.SessionID
		if err := requireID("sessionId", req.SessionID); err != nil {
			return err
		}
		_, err = r.sessions.Continue(ctx, req.SessionID, req.Prompt, req.ProviderID)
		return err

	case ClientSessionStop, ClientSessionDelete, ClientSessionHistory:
		req, err := decodePayload[sessionRef](ev)
		if err != nil {
			return err
		}
		sessionID = req.SessionID
		if err := requireID("sessionId", req.SessionID); err != nil {
			return err
		}
		return r.handleSessionRef(ev.Type, req.SessionID)

	case ClientSessionList:
		r.emitter.Emit(EventSessionList, SessionListPayload{Sessions: r.sessions.List()})
		return nil

	case ClientPermissionResponse:
		req, err := decodePayload[permissionResponse](ev)
		if err != nil {
			return err
		}
		sessionID = req.SessionID
		if err := requireID("sessionId", req.SessionID); err != nil {
			return err
		}
		if err := requireID("toolUseId", req.ToolUseID); err != nil {
			return err
		}
		return r.sessions.RespondPermission(req.SessionID, req.ToolUseID, req.Result)

	case ClientProviderList:
		r.BroadcastProviders()
		return nil

	case ClientProviderSave:
		req, err := decodePayload[providerSave](ev)
		if err != nil {
			return err
		}
		if req.Provider == nil {
			return apperr.New(apperr.CodeValidation, "provider is required").WithDetail("field", "provider")
		}
		saved, err := r.providers.Save(*req.Provider)
		if err != nil {
			return err
		}
		r.emitter.Emit(EventProviderSaved, ProviderPayload{Provider: entryFor(saved)})
		r.BroadcastProviders()
		return nil

	case ClientProviderDelete:
		req, err := decodePayload[providerRef](ev)
		if err != nil {
			return err
		}
		if err := requireID("providerId", req.ProviderID); err != nil {
			return err
		}
		deleted, err := r.providers.Delete(req.ProviderID)
		if err != nil {
			return err
		}
		if !deleted {
			return apperr.Newf(apperr.CodeNotFound, "provider %s not found", req.ProviderID)
		}
		r.emitter.Emit(EventProviderDeleted, ProviderDeletedPayload{ProviderID: req.ProviderID})
		r.BroadcastProviders()
		return nil

	case ClientProviderGet:
		req, err := decodePayload[providerRef](ev)
		if err != nil {
			return err
		}
		if err := requireID("providerId", req.ProviderID); err != nil {
			return err
		}
		p, ok := provider.Find(provider.Merge(r.providers.Load()), req.ProviderID)
		if !ok {
			return apperr.Newf(apperr.CodeNotFound, "provider %s not found", req.ProviderID)
		}
		r.emitter.Emit(EventProviderData, ProviderPayload{Provider: entryFor(p)})
		return nil
	}

	return apperr.Newf(apperr.CodeValidation, "unknown event type %q", ev.Type)
}

func (r *Relay) handleSessionRef(eventType, sessionID string) error {
	switch eventType {
	case ClientSessionStop:
		return r.sessions.Stop(sessionID)
	case ClientSessionDelete:
		return r.sessions.Delete(sessionID)
	case ClientSessionHistory:
		messages, status, err := r.sessions.History(sessionID)
		if err != nil {
			return err
		}
		if messages == nil {
			messages = []json.RawMessage{}
		}
		r.emitter.Emit(EventSessionHistory, SessionHistoryPayload{
			SessionID: sessionID,
			Status:    status,
			Messages:  messages,
		})
		return nil
	}
	return fmt.Errorf("unexpected session event %s", eventType)
}

// Providers returns the built-in and user providers.
func (r *Relay) Providers() []ProviderEntry {
	merged := provider.Merge(r.providers.Load())
	out := make([]ProviderEntry, 0, len(merged))
	for _, p := range merged {
		out = append(out, entryFor(p))
	}
	return out
}

// BroadcastProviders emits provider.list.
func (r *Relay) BroadcastProviders() {
	r.emitter.Emit(EventProviderList, ProviderListPayload{Providers: r.Providers()})
}
