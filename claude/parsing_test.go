package claude

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLine_Messages(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantType  string
		wantSub   string
		wantSess  string
		isResult  bool
		resultErr string
	}{
		{
			name:     "system init",
			line:     `{"type":"system","subtype":"init","session_id":"abc","tools":["Bash"]}`,
			wantType: MessageTypeSystem,
			wantSub:  "init",
			wantSess: "abc",
		},
		{
			name:     "assistant",
			line:     `{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`,
			wantType: MessageTypeAssistant,
		},
		{
			name:     "tool result from user",
			line:     `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"x"}]}}`,
			wantType: MessageTypeUser,
		},
		{
			name:     "successful result",
			line:     `{"type":"result","subtype":"success","is_error":false,"result":"done"}`,
			wantType: MessageTypeResult,
			wantSub:  "success",
			isResult: true,
		},
		{
			name:      "error result with errors list",
			line:      `{"type":"result","subtype":"error_max_turns","is_error":true,"errors":["too many turns","stopped"]}`,
			wantType:  MessageTypeResult,
			wantSub:   "error_max_turns",
			isResult:  true,
			resultErr: "error_max_turns: too many turns; stopped",
		},
		{
			name:      "success subtype flagged as error",
			line:      `{"type":"result","subtype":"success","is_error":true,"result":"API Error: 401"}`,
			wantType:  MessageTypeResult,
			wantSub:   "success",
			isResult:  true,
			resultErr: "success: API Error: 401",
		},
		{
			name:      "error result without details",
			line:      `{"type":"result","subtype":"error_during_execution"}`,
			wantType:  MessageTypeResult,
			wantSub:   "error_during_execution",
			isResult:  true,
			resultErr: "error_during_execution",
		},
		{
			name:     "unknown type passes through",
			line:     `{"type":"stream_event","event":{}}`,
			wantType: "stream_event",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := parseLine(tt.line + "\n")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.kind != lineMessage {
				t.Fatalf("kind = %v, want lineMessage", p.kind)
			}
			if p.message.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", p.message.Type, tt.wantType)
			}
			if p.message.Subtype != tt.wantSub {
				t.Errorf("Subtype = %q, want %q", p.message.Subtype, tt.wantSub)
			}
			if p.message.SessionID != tt.wantSess {
				t.Errorf("SessionID = %q, want %q", p.message.SessionID, tt.wantSess)
			}
			if p.isResult != tt.isResult {
				t.Errorf("isResult = %v, want %v", p.isResult, tt.isResult)
			}
			if p.resultErr != tt.resultErr {
				t.Errorf("resultErr = %q, want %q", p.resultErr, tt.resultErr)
			}
			if string(p.message.Raw) != tt.line {
				t.Errorf("Raw should be the trimmed line, got %s", p.message.Raw)
			}
		})
	}
}

func TestParseLine_Control(t *testing.T) {
	p, err := parseLine(`{"type":"control_request","request_id":"r1","request":{"subtype":"can_use_tool","tool_name":"Edit","input":{"file_path":"a.go"},"tool_use_id":"toolu_1"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.kind != linePermission {
		t.Fatalf("kind = %v, want linePermission", p.kind)
	}
	if p.permission.ToolUseID != "toolu_1" || p.permission.ToolName != "Edit" || p.permission.requestID != "r1" {
		t.Errorf("permission = %+v", p.permission)
	}
	if string(p.permission.Input) != `{"file_path":"a.go"}` {
		t.Errorf("Input = %s", p.permission.Input)
	}

	// Missing tool_use_id falls back to request id; missing input becomes {}
	p, err = parseLine(`{"type":"control_request","request_id":"r2","request":{"subtype":"can_use_tool","tool_name":"Bash"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.permission.ToolUseID != "r2" {
		t.Errorf("ToolUseID = %q, want r2", p.permission.ToolUseID)
	}
	if string(p.permission.Input) != "{}" {
		t.Errorf("Input = %s, want {}", p.permission.Input)
	}

	p, err = parseLine(`{"type":"control_request","request_id":"r3","request":{"subtype":"hook_callback"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.kind != lineControlOther || p.subtype != "hook_callback" || p.requestID != "r3" {
		t.Errorf("unexpected parse: %+v", p)
	}

	p, err = parseLine(`{"type":"control_cancel_request","request_id":"r1"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.kind != lineControlCancel || p.requestID != "r1" {
		t.Errorf("unexpected parse: %+v", p)
	}

	p, err = parseLine(`{"type":"control_response","response":{"subtype":"success"}}`)
	if err != nil || p.kind != lineSkip {
		t.Errorf("control_response should be skipped, got %+v, %v", p, err)
	}

	if _, err := parseLine(`{"type":"control_request","request_id":"r4"}`); err == nil {
		t.Error("control request without body should be an error")
	}
}

func TestParseLine_Invalid(t *testing.T) {
	for _, line := range []string{"not json", `{"no":"type"}`, `[1,2]`} {
		p, err := parseLine(line)
		if err == nil {
			t.Errorf("parseLine(%q) expected error", line)
		}
		if p.kind != lineSkip {
			t.Errorf("parseLine(%q) kind = %v, want lineSkip", line, p.kind)
		}
	}

	p, err := parseLine("   \n")
	if err != nil || p.kind != lineSkip {
		t.Errorf("blank line should skip silently, got %+v, %v", p, err)
	}
}

func TestStreamMessage_MarshalJSON(t *testing.T) {
	raw := `{"type":"assistant","extra":{"nested":true}}`
	data, err := json.Marshal(StreamMessage{Type: "assistant", Raw: json.RawMessage(raw)})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != raw {
		t.Errorf("Marshal = %s, want %s", data, raw)
	}

	data, _ = json.Marshal(StreamMessage{})
	if string(data) != "null" {
		t.Errorf("empty message should marshal to null, got %s", data)
	}
}

func TestUserPromptMessage(t *testing.T) {
	m := UserPromptMessage(`say "hi"`)
	if m.Type != MessageTypeUserPrompt {
		t.Errorf("Type = %q", m.Type)
	}
	var decoded map[string]string
	if err := json.Unmarshal(m.Raw, &decoded); err != nil {
		t.Fatalf("Raw is not JSON: %v", err)
	}
	if decoded["type"] != "user_prompt" || decoded["prompt"] != `say "hi"` {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestPermissionResult_Validate(t *testing.T) {
	if err := (PermissionResult{Behavior: BehaviorAllow}).Validate(); err != nil {
		t.Errorf("allow: %v", err)
	}
	if err := (PermissionResult{Behavior: BehaviorDeny}).Validate(); err != nil {
		t.Errorf("deny: %v", err)
	}
	if err := (PermissionResult{Behavior: "maybe"}).Validate(); err == nil {
		t.Error("expected error for unknown behavior")
	}
}

func TestEncodeUserMessage(t *testing.T) {
	data, err := encodeUserMessage("line one\nline two")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasSuffix(string(data), "}\n") {
		t.Error("message must be newline terminated")
	}
	if strings.Count(string(data), "\n") != 1 {
		t.Error("embedded newlines must be escaped")
	}
}

func TestEncodeControlResponses(t *testing.T) {
	data, err := encodeControlSuccess("r1", map[string]any{"behavior": "deny", "message": "no"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var ok struct {
		Type     string `json:"type"`
		Response struct {
			Subtype   string         `json:"subtype"`
			RequestID string         `json:"request_id"`
			Response  map[string]any `json:"response"`
		} `json:"response"`
	}
	if err := json.Unmarshal(data, &ok); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ok.Type != "control_response" || ok.Response.Subtype != "success" || ok.Response.RequestID != "r1" || ok.Response.Response["behavior"] != "deny" {
		t.Errorf("unexpected success response: %s", data)
	}

	data, err = encodeControlError("r2", "unsupported")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(data), `"subtype":"error"`) || !strings.Contains(string(data), `"error":"unsupported"`) {
		t.Errorf("unexpected error response: %s", data)
	}
}

func TestTruncateForLog(t *testing.T) {
	if truncateForLog("short") != "short" {
		t.Error("short strings should be unchanged")
	}
	long := strings.Repeat("x", 500)
	if got := truncateForLog(long); len(got) != 203 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncateForLog length = %d", len(got))
	}
}
