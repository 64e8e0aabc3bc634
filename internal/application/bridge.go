// Package application wires the OpenAI-facing surface to the vendor
// session: the tool bridge that translates exec requests into OpenAI
// tool_calls, and the id conventions that tie the two sides together.
package application

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opencursor/opencursor/gateway/internal/infrastructure/cursor/schema"
)

// Completion and tool-call id shapes. The formats stay behind MakeToolCallID
// and SessionIDFromToolCallID; nothing else parses them.
const (
	completionIDPrefix = "chatcmpl-"
	completionIDHex    = 24
	toolCallIDHex      = 8
)

// NewCompletionID mints a chat-completion id: chatcmpl-<24 hex chars>.
func NewCompletionID() string {
	buf := make([]byte, completionIDHex/2)
	rand.Read(buf)
	return completionIDPrefix + hex.EncodeToString(buf)
}

// MakeToolCallID derives the n-th synthetic tool-call id for a completion:
// call_<8 hex chars of completion id>_<n>.
func MakeToolCallID(completionID string, n int) string {
	seed := strings.TrimPrefix(completionID, completionIDPrefix)
	if len(seed) > toolCallIDHex {
		seed = seed[:toolCallIDHex]
	}
	return fmt.Sprintf("call_%s_%d", seed, n)
}

// SessionIDFromToolCallID recovers the completion-id fragment a tool-call id
// was minted from. The second return is false when the id does not follow
// the convention.
func SessionIDFromToolCallID(toolCallID string) (string, bool) {
	rest, ok := strings.CutPrefix(toolCallID, "call_")
	if !ok {
		return "", false
	}
	seed, _, ok := strings.Cut(rest, "_")
	if !ok || seed == "" {
		return "", false
	}
	return seed, true
}

// BridgedCall is one vendor exec request translated to OpenAI tool_call
// shape.
type BridgedCall struct {
	ToolCallID string
	Name       string
	// Arguments is the JSON-encoded argument object.
	Arguments string
}

// BridgeExec translates one exec request into the tool_calls delta the
// adapter emits. The per-response counter n is owned by the caller.
func BridgeExec(req *schema.ExecRequest, completionID string, n int) (*BridgedCall, error) {
	call := &BridgedCall{ToolCallID: MakeToolCallID(completionID, n)}

	args := map[string]any{}
	switch req.Kind {
	case schema.ExecShell, schema.ExecBgShell:
		call.Name = "bash"
		args["command"] = req.Args["command"]
		if cwd, ok := req.Args["cwd"].(string); ok && cwd != "" {
			args["cwd"] = cwd
		}
	case schema.ExecRead:
		call.Name = "read"
		args["filePath"] = req.Args["path"]
	case schema.ExecLs:
		call.Name = "list"
		args["path"] = req.Args["path"]
	case schema.ExecGrep:
		if glob, ok := req.Args["glob"].(string); ok && glob != "" {
			call.Name = "glob"
			args["pattern"] = glob
		} else {
			call.Name = "grep"
			args["pattern"] = req.Args["pattern"]
		}
		if path, ok := req.Args["path"].(string); ok && path != "" {
			args["path"] = path
		}
	case schema.ExecWrite:
		call.Name = "write"
		args["filePath"] = req.Args["path"]
		args["content"] = req.Args["content"]
	case schema.ExecMCP:
		name, _ := req.Args["tool"].(string)
		if name == "" {
			name = "mcp"
		}
		call.Name = name
		if m, ok := req.Args["args"].(map[string]any); ok {
			args = m
		}
	default:
		// Unmapped kinds travel under their vendor kind name with the raw
		// argument map; they are never dropped.
		call.Name = string(req.Kind)
		args = req.Args
	}

	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	call.Arguments = string(encoded)
	return call, nil
}

// ResultFromToolMessage converts a role=tool message back into the exec
// result shape for the pending request it answers. Used by the optional
// same-session continuation path; the fresh-session default re-prompts
// instead.
func ResultFromToolMessage(req *schema.ExecRequest, content string) *schema.ExecResult {
	res := &schema.ExecResult{ID: req.ID, ExecID: req.ExecID, Kind: req.Kind}
	switch req.Kind {
	case schema.ExecShell, schema.ExecBgShell:
		res.Kind = schema.ExecShell
		res.Shell = &schema.ShellOutcome{Stdout: content, ExitCode: 0}
	case schema.ExecRead:
		res.Read = &schema.ReadOutcome{
			Content:    content,
			TotalLines: strings.Count(content, "\n") + 1,
			FileSize:   int64(len(content)),
		}
	case schema.ExecLs:
		res.Ls = &schema.LsOutcome{Listing: content}
	case schema.ExecGrep:
		var files []string
		for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
			if line != "" {
				files = append(files, line)
			}
		}
		res.Grep = &schema.GrepOutcome{Files: files, Count: len(files)}
	case schema.ExecWrite:
		res.Write = &schema.WriteOutcome{
			Path:     argPath(req),
			FileSize: int64(len(content)),
		}
	default:
		res.Kind = schema.ExecShell
		res.Shell = &schema.ShellOutcome{Stdout: content, ExitCode: 0}
	}
	return res
}

func argPath(req *schema.ExecRequest) string {
	p, _ := req.Args["path"].(string)
	return p
}

// fileModifyingTools are the tool names whose start arms the edit-read
// coupling: the vendor issues an internal read for these before emitting
// the write, and that read must be served locally even in tool-bridge mode.
var fileModifyingTools = map[string]bool{
	"write":      true,
	"edit":       true,
	"apply_diff": true,
	"delete":     true,
}

// IsFileModifyingTool reports whether a started tool call should arm the
// edit-read coupling.
func IsFileModifyingTool(name string) bool {
	return fileModifyingTools[name]
}
