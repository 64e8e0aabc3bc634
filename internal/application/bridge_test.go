package application

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/opencursor/opencursor/gateway/internal/infrastructure/cursor/schema"
)

// === Id conventions ===

func TestNewCompletionID_Shape(t *testing.T) {
	id := NewCompletionID()
	if !strings.HasPrefix(id, "chatcmpl-") {
		t.Fatalf("prefix: %q", id)
	}
	if len(id) != len("chatcmpl-")+24 {
		t.Errorf("length: %d (%q)", len(id), id)
	}
}

func TestMakeToolCallID_DistinctAndInvertible(t *testing.T) {
	completionID := NewCompletionID()
	seen := map[string]bool{}
	for n := 0; n < 10; n++ {
		id := MakeToolCallID(completionID, n)
		if seen[id] {
			t.Fatalf("duplicate tool_call_id %q", id)
		}
		seen[id] = true

		sid, ok := SessionIDFromToolCallID(id)
		if !ok {
			t.Fatalf("id %q does not parse back", id)
		}
		if !strings.HasPrefix(strings.TrimPrefix(completionID, "chatcmpl-"), sid) {
			t.Errorf("session fragment %q not derived from %q", sid, completionID)
		}
	}
}

func TestSessionIDFromToolCallID_RejectsForeignIDs(t *testing.T) {
	for _, id := range []string{"", "call_", "toolu_abc123", "call_noindex"} {
		if _, ok := SessionIDFromToolCallID(id); ok {
			t.Errorf("%q should not parse", id)
		}
	}
}

// === Exec → tool_call mapping ===

func TestBridgeExec_Shell(t *testing.T) {
	call, err := BridgeExec(&schema.ExecRequest{
		ID:   1,
		Kind: schema.ExecShell,
		Args: map[string]any{"command": "ls -la", "cwd": "/srv"},
	}, "chatcmpl-0123456789abcdef01234567", 0)
	if err != nil {
		t.Fatalf("BridgeExec: %v", err)
	}
	if call.Name != "bash" {
		t.Errorf("name: %q", call.Name)
	}
	if call.ToolCallID != "call_01234567_0" {
		t.Errorf("tool_call_id: %q", call.ToolCallID)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		t.Fatalf("arguments must be valid JSON: %v", err)
	}
	if args["command"] != "ls -la" || args["cwd"] != "/srv" {
		t.Errorf("args: %+v", args)
	}
}

func TestBridgeExec_KindMapping(t *testing.T) {
	tests := []struct {
		kind     schema.ExecKind
		args     map[string]any
		wantName string
		wantKey  string
	}{
		{schema.ExecRead, map[string]any{"path": "/f"}, "read", "filePath"},
		{schema.ExecLs, map[string]any{"path": "/d"}, "list", "path"},
		{schema.ExecGrep, map[string]any{"pattern": "x"}, "grep", "pattern"},
		{schema.ExecGrep, map[string]any{"glob": "*.go"}, "glob", "pattern"},
		{schema.ExecWrite, map[string]any{"path": "/f", "content": "c"}, "write", "filePath"},
	}
	for _, tt := range tests {
		call, err := BridgeExec(&schema.ExecRequest{ID: 1, Kind: tt.kind, Args: tt.args}, "chatcmpl-feedfacefeedfacefeedface", 1)
		if err != nil {
			t.Fatalf("%s: %v", tt.kind, err)
		}
		if call.Name != tt.wantName {
			t.Errorf("%s: name %q, want %q", tt.kind, call.Name, tt.wantName)
		}
		var args map[string]any
		json.Unmarshal([]byte(call.Arguments), &args)
		if _, ok := args[tt.wantKey]; !ok {
			t.Errorf("%s: missing %q in %v", tt.kind, tt.wantKey, args)
		}
	}
}

func TestBridgeExec_MCPKeepsOriginalName(t *testing.T) {
	call, err := BridgeExec(&schema.ExecRequest{
		ID:   2,
		Kind: schema.ExecMCP,
		Args: map[string]any{
			"server": "files",
			"tool":   "search_docs",
			"args":   map[string]any{"query": "hello"},
		},
	}, NewCompletionID(), 0)
	if err != nil {
		t.Fatalf("BridgeExec: %v", err)
	}
	if call.Name != "search_docs" {
		t.Errorf("mcp must keep the original tool name: %q", call.Name)
	}
	var args map[string]any
	json.Unmarshal([]byte(call.Arguments), &args)
	if args["query"] != "hello" {
		t.Errorf("mcp args: %+v", args)
	}
}

func TestBridgeExec_UnknownKindNotDropped(t *testing.T) {
	call, err := BridgeExec(&schema.ExecRequest{
		ID:   3,
		Kind: schema.ExecFetch,
		Args: map[string]any{"url": "https://example.com"},
	}, NewCompletionID(), 0)
	if err != nil {
		t.Fatalf("BridgeExec: %v", err)
	}
	if call.Name != "fetch" {
		t.Errorf("unmapped kind should keep its kind name: %q", call.Name)
	}
}

// === Tool message → exec result ===

func TestResultFromToolMessage_Shell(t *testing.T) {
	req := &schema.ExecRequest{ID: 9, Kind: schema.ExecShell}
	res := ResultFromToolMessage(req, "total 0\n")
	if res.ID != 9 || res.Shell == nil || res.Shell.Stdout != "total 0\n" || res.Shell.ExitCode != 0 {
		t.Errorf("shell result: %+v", res)
	}
}

func TestResultFromToolMessage_Grep(t *testing.T) {
	req := &schema.ExecRequest{ID: 10, Kind: schema.ExecGrep}
	res := ResultFromToolMessage(req, "a.go\nb.go\n")
	if res.Grep == nil || res.Grep.Count != 2 {
		t.Errorf("grep result: %+v", res)
	}
}

// === Edit-read coupling ===

func TestIsFileModifyingTool(t *testing.T) {
	for _, name := range []string{"write", "edit", "apply_diff", "delete"} {
		if !IsFileModifyingTool(name) {
			t.Errorf("%s should arm the edit-read coupling", name)
		}
	}
	for _, name := range []string{"read", "grep", "bash", "list"} {
		if IsFileModifyingTool(name) {
			t.Errorf("%s should not arm the edit-read coupling", name)
		}
	}
}
