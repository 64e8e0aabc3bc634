// Package schema holds the closed field-number tables for every message the
// gateway produces or consumes on the vendor wire, and the typed encoders and
// decoders driven by them. Unknown fields are ignored on decode and unknown
// tool kinds are preserved with their field numbers, never dropped.
package schema

import (
	"github.com/opencursor/opencursor/gateway/internal/infrastructure/wire"
)

// AgentClientMessage oneof branches (client → server).
const (
	ClientRunRequest        wire.Number = 1
	ClientExecMessage       wire.Number = 2
	ClientKvMessage         wire.Number = 3
	ClientConversationAct   wire.Number = 4
	ClientExecControl       wire.Number = 5
	ClientInteractionAnswer wire.Number = 6
)

// AgentServerMessage oneof branches (server → client).
const (
	ServerInteractionUpdate wire.Number = 1
	ServerExecMessage       wire.Number = 2
	ServerCheckpointUpdate  wire.Number = 3
	ServerKvMessage         wire.Number = 4
	ServerExecControl       wire.Number = 5
	ServerInteractionQuery  wire.Number = 7
)

// EnvInfo describes the client environment reported to the vendor in the
// initial request context and in request_context exec replies.
type EnvInfo struct {
	OSVersion     string
	WorkspacePath string
	Shell         string
	Timezone      string
	ProjectFolder string
}

// ToolCall is a decoded vendor tool-call payload. FieldNum is the vendor's
// tool-kind field number; it is preserved even for kinds this build does not
// know so the call can be forwarded opaquely.
type ToolCall struct {
	FieldNum wire.Number
	Name     string
	Args     map[string]any

	unknown bool
}

// Known reports whether the tool kind was present in the tool table.
func (t *ToolCall) Known() bool {
	return !t.unknown
}

// ToolCallUpdate is a tool-call lifecycle update inside an InteractionUpdate.
type ToolCallUpdate struct {
	CallID      string
	ModelCallID string
	// ArgsDelta carries the raw argument-text fragment of a partial update.
	ArgsDelta string
	// Call is set on started/completed updates.
	Call *ToolCall
}

// ExecKind names a vendor exec request kind.
type ExecKind string

const (
	ExecShell            ExecKind = "shell"
	ExecWrite            ExecKind = "write"
	ExecGrep             ExecKind = "grep"
	ExecRead             ExecKind = "read"
	ExecLs               ExecKind = "ls"
	ExecDiagnostics      ExecKind = "diagnostics"
	ExecRequestContext   ExecKind = "request_context"
	ExecMCP              ExecKind = "mcp"
	ExecBgShell          ExecKind = "bg_shell"
	ExecListMCPResources ExecKind = "list_mcp_resources"
	ExecReadMCPResource  ExecKind = "read_mcp_resource"
	ExecFetch            ExecKind = "fetch"
	ExecRecordScreen     ExecKind = "record_screen"
	ExecComputerUse      ExecKind = "computer_use"
)

// ExecRequest is a vendor request for the client to run a tool locally.
// ID is session-scoped and identifies the pending request until its result
// is appended.
type ExecRequest struct {
	ID       uint32
	ExecID   string
	Kind     ExecKind
	FieldNum wire.Number
	Args     map[string]any
}

// KvKind distinguishes the two KV back-channel operations.
type KvKind string

const (
	KvGet KvKind = "get_blob"
	KvSet KvKind = "set_blob"
)

// KvRequest is a vendor request against the per-session blob store.
type KvRequest struct {
	ID       uint32
	Kind     KvKind
	BlobID   []byte
	BlobData []byte
	// HasData distinguishes an empty set payload from an absent one; a set
	// without data is a protocol violation.
	HasData bool
}

// UpdateKind tags the decoded InteractionUpdate variants.
type UpdateKind string

const (
	UpdateText          UpdateKind = "text_delta"
	UpdateThinking      UpdateKind = "thinking_delta"
	UpdateToken         UpdateKind = "token_delta"
	UpdateHeartbeat     UpdateKind = "heartbeat"
	UpdateTurnEnded     UpdateKind = "turn_ended"
	UpdateToolStarted   UpdateKind = "tool_call_started"
	UpdateToolPartial   UpdateKind = "partial_tool_call"
	UpdateToolCompleted UpdateKind = "tool_call_completed"
)

// InteractionUpdate is one decoded interaction_update variant.
type InteractionUpdate struct {
	Kind UpdateKind
	// Text carries the delta for text/thinking/token updates.
	Text string
	// Tool is set for the three tool-call variants.
	Tool *ToolCallUpdate
}

// ServerMessage is one decoded AgentServerMessage. Exactly one branch is set.
type ServerMessage struct {
	Update      *InteractionUpdate
	Exec        *ExecRequest
	Checkpoint  bool
	Kv          *KvRequest
	ExecControl []byte
	// Query is the interaction_query type name; informational only.
	Query string
}
