package handlers

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFlattenPrompt_SystemLeadsAndRolesPrefix(t *testing.T) {
	prompt := FlattenPrompt([]ChatMessage{
		{Role: "system", Content: "Be terse."},
		{Role: "system", Content: "Answer in English."},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "bye"},
	})

	want := "Be terse.\nAnswer in English.\n\nUser: hi\n\nAssistant: hello\n\nUser: bye"
	if prompt != want {
		t.Errorf("prompt:\n%q\nwant:\n%q", prompt, want)
	}
}

func TestFlattenPrompt_ToolRoundTrip(t *testing.T) {
	prompt := FlattenPrompt([]ChatMessage{
		{Role: "user", Content: "what os?"},
		{
			Role: "assistant",
			ToolCalls: []ToolCall{{
				ID:       "call_ab_0",
				Type:     "function",
				Function: ToolCallFunc{Name: "bash", Arguments: `{"command":"uname"}`},
			}},
		},
		{Role: "tool", ToolCallID: "call_ab_0", Content: "Linux"},
	})

	if !strings.Contains(prompt, `[Called tool: bash({"command":"uname"})]`) {
		t.Errorf("missing tool call line:\n%s", prompt)
	}
	if !strings.Contains(prompt, "[Tool result for call_ab_0]: Linux") {
		t.Errorf("missing tool result line:\n%s", prompt)
	}
	if !strings.HasSuffix(prompt, "\nBased on the tool results above, please continue your response:") {
		t.Errorf("missing continuation suffix:\n%s", prompt)
	}
}

func TestFlattenPrompt_NoToolsNoSuffix(t *testing.T) {
	prompt := FlattenPrompt([]ChatMessage{{Role: "user", Content: "hi"}})
	if strings.Contains(prompt, "Based on the tool results") {
		t.Error("continuation suffix without tool messages")
	}
}

func TestMessageContent_AcceptsBlocks(t *testing.T) {
	var msg ChatMessage
	raw := `{"role":"user","content":[{"type":"text","text":"part one"},{"type":"text","text":"part two"}]}`
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(msg.Content) != "part one\npart two" {
		t.Errorf("content: %q", msg.Content)
	}

	raw = `{"role":"user","content":"plain"}`
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(msg.Content) != "plain" {
		t.Errorf("content: %q", msg.Content)
	}
}

func TestEstimateTokens_RoundsUp(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tt := range tests {
		if got := estimateTokens(tt.in); got != tt.want {
			t.Errorf("estimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
