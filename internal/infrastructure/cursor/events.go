// Package cursor drives one turn of the vendor's bidirectional agent
// protocol: it opens the server-streaming call, seeds it with the initial
// append, and demultiplexes the framed response into a channel of typed
// events while serializing client-originated appends.
package cursor

import (
	"time"

	"github.com/opencursor/opencursor/gateway/internal/infrastructure/cursor/schema"
)

// EventType defines the type of event emitted during a vendor turn.
type EventType string

const (
	EventText              EventType = "text_delta"
	EventThinking          EventType = "thinking_delta"
	EventHeartbeat         EventType = "heartbeat"
	EventToolCallStarted   EventType = "tool_call_started"
	EventPartialToolCall   EventType = "partial_tool_call"
	EventToolCallCompleted EventType = "tool_call_completed"
	EventExecRequest       EventType = "exec_request"
	EventCheckpoint        EventType = "checkpoint"
	EventInteractionQuery  EventType = "interaction_query"
	EventDone              EventType = "done"
	EventError             EventType = "error"
)

// Event is a single event in a vendor turn. Consumers (the OpenAI adapter
// and the tool bridge) receive these in wire-arrival order.
type Event struct {
	Type      EventType              `json:"type"`
	Content   string                 `json:"content,omitempty"`
	Tool      *schema.ToolCallUpdate `json:"tool,omitempty"`
	Exec      *schema.ExecRequest    `json:"exec,omitempty"`
	Query     string                 `json:"query,omitempty"`
	Err       error                  `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
}
