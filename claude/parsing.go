package claude

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Stream message types emitted by the CLI in stream-json mode, plus the
// locally synthesized user_prompt.
const (
	MessageTypeSystem     = "system"
	MessageTypeAssistant  = "assistant"
	MessageTypeUser       = "user"
	MessageTypeResult     = "result"
	MessageTypeUserPrompt = "user_prompt"

	typeControlRequest       = "control_request"
	typeControlResponse      = "control_response"
	typeControlCancelRequest = "control_cancel_request"

	subtypeInit       = "init"
	subtypeSuccess    = "success"
	subtypeCanUseTool = "can_use_tool"
)

// StreamMessage is one message from the agent, kept verbatim so the UI sees
// exactly what the CLI produced. Type and Subtype are decoded for routing.
type StreamMessage struct {
	Type      string
	Subtype   string
	SessionID string
	Raw       json.RawMessage
}

// MarshalJSON emits the original message.
func (m StreamMessage) MarshalJSON() ([]byte, error) {
	if len(m.Raw) == 0 {
		return []byte("null"), nil
	}
	return m.Raw, nil
}

// UserPromptMessage builds the synthesized message recording what the user sent.
func UserPromptMessage(prompt string) StreamMessage {
	raw, _ := json.Marshal(struct {
		Type   string `json:"type"`
		Prompt string `json:"prompt"`
	}{MessageTypeUserPrompt, prompt})
	return StreamMessage{Type: MessageTypeUserPrompt, Raw: raw}
}

// PermissionRequest asks the user whether a tool may run.
type PermissionRequest struct {
	ToolUseID string          `json:"toolUseId"`
	ToolName  string          `json:"toolName"`
	Input     json.RawMessage `json:"input"`

	requestID string
}

// Permission behaviors.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// PermissionResult is the user's answer to a PermissionRequest.
type PermissionResult struct {
	Behavior           string          `json:"behavior"`
	UpdatedInput       json.RawMessage `json:"updatedInput,omitempty"`
	UpdatedPermissions json.RawMessage `json:"updatedPermissions,omitempty"`
	Message            string          `json:"message,omitempty"`
	Interrupt          bool            `json:"interrupt,omitempty"`
}

// Validate checks the behavior field.
func (r PermissionResult) Validate() error {
	switch r.Behavior {
	case BehaviorAllow, BehaviorDeny:
		return nil
	}
	return fmt.Errorf("permission behavior must be %q or %q, got %q", BehaviorAllow, BehaviorDeny, r.Behavior)
}

// streamEnvelope holds the fields we route on. Everything else stays in Raw.
type streamEnvelope struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	IsError   bool            `json:"is_error"`
	Result    string          `json:"result"`
	Error     string          `json:"error"`
	Errors    []string        `json:"errors"`
	RequestID string          `json:"request_id"`
	Request   *controlRequest `json:"request"`
}

type controlRequest struct {
	Subtype   string          `json:"subtype"`
	ToolName  string          `json:"tool_name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
}

type lineKind int

const (
	lineSkip lineKind = iota
	lineMessage
	linePermission
	lineControlOther
	lineControlCancel
)

// parsedLine is the routing decision for one stdout line.
type parsedLine struct {
	kind       lineKind
	message    StreamMessage
	permission PermissionRequest
	requestID  string
	subtype    string

	// set for result messages
	isResult  bool
	resultErr string
}

// parseLine decodes one line of stream-json output.
func parseLine(line string) (parsedLine, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return parsedLine{kind: lineSkip}, nil
	}

	var env streamEnvelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return parsedLine{kind: lineSkip}, fmt.Errorf("invalid stream line: %w", err)
	}

	switch env.Type {
	case "":
		return parsedLine{kind: lineSkip}, fmt.Errorf("stream line has no type")
	case typeControlResponse:
		// acknowledgements of our own writes
		return parsedLine{kind: lineSkip}, nil
	case typeControlCancelRequest:
		return parsedLine{kind: lineControlCancel, requestID: env.RequestID}, nil
	case typeControlRequest:
		if env.Request == nil {
			return parsedLine{kind: lineSkip}, fmt.Errorf("control request %s has no body", env.RequestID)
		}
		if env.Request.Subtype != subtypeCanUseTool {
			return parsedLine{kind: lineControlOther, requestID: env.RequestID, subtype: env.Request.Subtype}, nil
		}
		toolUseID := env.Request.ToolUseID
		if toolUseID == "" {
			toolUseID = env.RequestID
		}
		input := env.Request.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return parsedLine{
			kind:      linePermission,
			requestID: env.RequestID,
			permission: PermissionRequest{
				ToolUseID: toolUseID,
				ToolName:  env.Request.ToolName,
				Input:     input,
				requestID: env.RequestID,
			},
		}, nil
	}

	p := parsedLine{
		kind: lineMessage,
		message: StreamMessage{
			Type:      env.Type,
			Subtype:   env.Subtype,
			SessionID: env.SessionID,
			Raw:       json.RawMessage(line),
		},
	}
	if env.Type == MessageTypeResult {
		p.isResult = true
		if env.Subtype != subtypeSuccess || env.IsError {
			p.resultErr = resultErrorText(env)
		}
	}
	return p, nil
}

// resultErrorText describes a non-success result as "<subtype>: <details>".
func resultErrorText(env streamEnvelope) string {
	subtype := env.Subtype
	if subtype == "" {
		subtype = "error"
	}

	var details []string
	details = append(details, env.Errors...)
	if env.Error != "" {
		details = append(details, env.Error)
	}
	if len(details) == 0 && env.Result != "" {
		details = append(details, env.Result)
	}
	if len(details) == 0 {
		return subtype
	}
	return subtype + ": " + strings.Join(details, "; ")
}

// encodeUserMessage returns the stdin line carrying a user prompt.
func encodeUserMessage(prompt string) ([]byte, error) {
	type textBlock struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	msg := struct {
		Type    string `json:"type"`
		Message struct {
			Role    string      `json:"role"`
			Content []textBlock `json:"content"`
		} `json:"message"`
	}{Type: MessageTypeUser}
	msg.Message.Role = "user"
	msg.Message.Content = []textBlock{{Type: "text", Text: prompt}}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// encodeControlSuccess answers a control request with a payload.
func encodeControlSuccess(requestID string, payload any) ([]byte, error) {
	msg := map[string]any{
		"type": typeControlResponse,
		"response": map[string]any{
			"subtype":    subtypeSuccess,
			"request_id": requestID,
			"response":   payload,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// encodeControlError rejects a control request we do not support.
func encodeControlError(requestID, message string) ([]byte, error) {
	msg := map[string]any{
		"type": typeControlResponse,
		"response": map[string]any{
			"subtype":    "error",
			"request_id": requestID,
			"error":      message,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// truncateForLog keeps log lines bounded
func truncateForLog(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
