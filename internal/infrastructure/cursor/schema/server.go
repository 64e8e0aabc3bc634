package schema

import (
	"fmt"

	"github.com/opencursor/opencursor/gateway/internal/infrastructure/wire"
	apperrors "github.com/opencursor/opencursor/gateway/pkg/errors"
)

// InteractionUpdate inner oneof field numbers.
const (
	updateTextDelta     wire.Number = 1
	updateThinkingDelta wire.Number = 4
	updateTokenDelta    wire.Number = 8
	updateToolStarted   wire.Number = 9
	updateToolPartial   wire.Number = 10
	updateToolCompleted wire.Number = 11
	updateHeartbeat     wire.Number = 13
	updateTurnEnded     wire.Number = 14
)

// text_delta / thinking_delta: text = 1. token_delta: tokens = 1.
const deltaText wire.Number = 1

// Tool-call update messages: call_id = 1, model_call_id = 2, payload = 3
// (started/completed), args text fragment = 3 (partial).
const (
	toolUpdateCallID      wire.Number = 1
	toolUpdateModelCallID wire.Number = 2
	toolUpdatePayload     wire.Number = 3
)

// ExecRequest: id = 1, exec_id = 12, args oneof keyed by kind field number.
const (
	execReqID     wire.Number = 1
	execReqExecID wire.Number = 12
)

// execKindSpec maps exec args oneof field numbers to kinds and arg schemas.
type execKindSpec struct {
	Num  wire.Number
	Kind ExecKind
	Args []ArgSpec
}

var execTable = []execKindSpec{
	{Num: 2, Kind: ExecShell, Args: []ArgSpec{
		{Num: 1, Name: "command", Type: ArgString},
		{Num: 2, Name: "cwd", Type: ArgString},
		{Num: 3, Name: "timeout_ms", Type: ArgInt},
	}},
	{Num: 3, Kind: ExecWrite, Args: []ArgSpec{
		{Num: 1, Name: "path", Type: ArgString},
		{Num: 2, Name: "content", Type: ArgString},
		{Num: 3, Name: "return_content", Type: ArgBool},
	}},
	{Num: 5, Kind: ExecGrep, Args: []ArgSpec{
		{Num: 1, Name: "pattern", Type: ArgString},
		{Num: 2, Name: "path", Type: ArgString},
		{Num: 3, Name: "glob", Type: ArgString},
	}},
	{Num: 7, Kind: ExecRead, Args: []ArgSpec{
		{Num: 1, Name: "path", Type: ArgString},
	}},
	{Num: 8, Kind: ExecLs, Args: []ArgSpec{
		{Num: 1, Name: "path", Type: ArgString},
	}},
	{Num: 9, Kind: ExecDiagnostics, Args: []ArgSpec{
		{Num: 1, Name: "paths", Type: ArgStrings},
	}},
	{Num: 10, Kind: ExecRequestContext},
	{Num: 11, Kind: ExecMCP, Args: []ArgSpec{
		{Num: 1, Name: "server", Type: ArgString},
		{Num: 2, Name: "tool", Type: ArgString},
		{Num: 3, Name: "args", Type: ArgValue},
	}},
	{Num: 14, Kind: ExecShell, Args: []ArgSpec{
		{Num: 1, Name: "command", Type: ArgString},
		{Num: 2, Name: "cwd", Type: ArgString},
		{Num: 3, Name: "timeout_ms", Type: ArgInt},
	}},
	{Num: 16, Kind: ExecBgShell, Args: []ArgSpec{
		{Num: 1, Name: "command", Type: ArgString},
		{Num: 2, Name: "cwd", Type: ArgString},
	}},
	{Num: 17, Kind: ExecListMCPResources, Args: []ArgSpec{
		{Num: 1, Name: "server", Type: ArgString},
	}},
	{Num: 18, Kind: ExecReadMCPResource, Args: []ArgSpec{
		{Num: 1, Name: "server", Type: ArgString},
		{Num: 2, Name: "uri", Type: ArgString},
	}},
	{Num: 20, Kind: ExecFetch, Args: []ArgSpec{
		{Num: 1, Name: "url", Type: ArgString},
		{Num: 2, Name: "method", Type: ArgString},
	}},
	{Num: 21, Kind: ExecRecordScreen, Args: []ArgSpec{
		{Num: 1, Name: "action", Type: ArgString},
	}},
	{Num: 22, Kind: ExecComputerUse, Args: []ArgSpec{
		{Num: 1, Name: "action", Type: ArgString},
		{Num: 2, Name: "coordinate", Type: ArgValue},
		{Num: 3, Name: "text", Type: ArgString},
	}},
}

var execByNum = func() map[wire.Number]*execKindSpec {
	m := make(map[wire.Number]*execKindSpec, len(execTable))
	for i := range execTable {
		m[execTable[i].Num] = &execTable[i]
	}
	return m
}()

// KvServerMessage: id = 1, oneof get_blob_args = 2 / set_blob_args = 3.
// get_blob_args: blob_id = 1. set_blob_args: blob_id = 1, blob_data = 2.
const (
	kvMsgID      wire.Number = 1
	kvGetArgs    wire.Number = 2
	kvSetArgs    wire.Number = 3
	kvBlobID     wire.Number = 1
	kvBlobData   wire.Number = 2
	kvResultData wire.Number = 1
)

// InteractionQuery: type = 1 (enum varint or string, depending on server
// build); both are accepted.
const queryType wire.Number = 1

var queryTypeNames = map[uint64]string{
	1: "web_search",
	2: "ask_question",
	3: "switch_mode",
	4: "mcp_tool_call",
	5: "apply_files",
}

// DecodeServerMessage decodes one AgentServerMessage frame payload. Unknown
// oneof branches decode to nil (forward compatibility): the caller skips
// them.
func DecodeServerMessage(payload []byte) (*ServerMessage, error) {
	fields, err := wire.Fields(payload)
	if err != nil {
		return nil, err
	}
	msg := &ServerMessage{}
	for _, f := range fields {
		switch f.Num {
		case ServerInteractionUpdate:
			upd, err := decodeInteractionUpdate(f.Data)
			if err != nil {
				return nil, err
			}
			msg.Update = upd
		case ServerExecMessage:
			exec, err := DecodeExecRequest(f.Data)
			if err != nil {
				return nil, err
			}
			msg.Exec = exec
		case ServerCheckpointUpdate:
			msg.Checkpoint = true
		case ServerKvMessage:
			kv, err := DecodeKvRequest(f.Data)
			if err != nil {
				return nil, err
			}
			msg.Kv = kv
		case ServerExecControl:
			msg.ExecControl = f.Data
		case ServerInteractionQuery:
			msg.Query = decodeQueryType(f.Data)
		}
	}
	return msg, nil
}

func decodeInteractionUpdate(payload []byte) (*InteractionUpdate, error) {
	fields, err := wire.Fields(payload)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		switch f.Num {
		case updateTextDelta, updateThinkingDelta, updateTokenDelta:
			kind := UpdateText
			switch f.Num {
			case updateThinkingDelta:
				kind = UpdateThinking
			case updateTokenDelta:
				kind = UpdateToken
			}
			inner, err := wire.Fields(f.Data)
			if err != nil {
				return nil, err
			}
			var text string
			if tf, ok := wire.First(inner, deltaText); ok {
				text = tf.String()
			}
			return &InteractionUpdate{Kind: kind, Text: text}, nil
		case updateHeartbeat:
			return &InteractionUpdate{Kind: UpdateHeartbeat}, nil
		case updateTurnEnded:
			return &InteractionUpdate{Kind: UpdateTurnEnded}, nil
		case updateToolStarted, updateToolPartial, updateToolCompleted:
			kind := UpdateToolStarted
			switch f.Num {
			case updateToolPartial:
				kind = UpdateToolPartial
			case updateToolCompleted:
				kind = UpdateToolCompleted
			}
			tool, err := decodeToolUpdate(f.Data, kind)
			if err != nil {
				return nil, err
			}
			return &InteractionUpdate{Kind: kind, Tool: tool}, nil
		}
	}
	// Unknown update variant — ignored by the session.
	return nil, nil
}

func decodeToolUpdate(payload []byte, kind UpdateKind) (*ToolCallUpdate, error) {
	fields, err := wire.Fields(payload)
	if err != nil {
		return nil, err
	}
	upd := &ToolCallUpdate{}
	for _, f := range fields {
		switch f.Num {
		case toolUpdateCallID:
			upd.CallID = f.String()
		case toolUpdateModelCallID:
			upd.ModelCallID = f.String()
		case toolUpdatePayload:
			if kind == UpdateToolPartial {
				upd.ArgsDelta = f.String()
				continue
			}
			call, err := DecodeToolCallPayload(f.Data)
			if err != nil {
				return nil, err
			}
			upd.Call = call
		}
	}
	return upd, nil
}

// DecodeExecRequest decodes an exec_server_message body.
func DecodeExecRequest(payload []byte) (*ExecRequest, error) {
	fields, err := wire.Fields(payload)
	if err != nil {
		return nil, err
	}
	req := &ExecRequest{}
	for _, f := range fields {
		switch f.Num {
		case execReqID:
			req.ID = uint32(f.Varint)
		case execReqExecID:
			req.ExecID = f.String()
		default:
			spec, ok := execByNum[f.Num]
			if !ok || f.Type != wire.TypeBytes {
				continue
			}
			args, err := DecodeArgs(f.Data, spec.Args)
			if err != nil {
				return nil, err
			}
			req.Kind = spec.Kind
			req.FieldNum = f.Num
			req.Args = args
		}
	}
	if req.Kind == "" {
		return nil, apperrors.NewCodecError(fmt.Sprintf("exec request %d carries no known kind", req.ID))
	}
	return req, nil
}

// DecodeKvRequest decodes a kv_server_message body.
func DecodeKvRequest(payload []byte) (*KvRequest, error) {
	fields, err := wire.Fields(payload)
	if err != nil {
		return nil, err
	}
	req := &KvRequest{}
	for _, f := range fields {
		switch f.Num {
		case kvMsgID:
			req.ID = uint32(f.Varint)
		case kvGetArgs:
			req.Kind = KvGet
			inner, err := wire.Fields(f.Data)
			if err != nil {
				return nil, err
			}
			if bf, ok := wire.First(inner, kvBlobID); ok {
				req.BlobID = bf.Data
			}
		case kvSetArgs:
			req.Kind = KvSet
			inner, err := wire.Fields(f.Data)
			if err != nil {
				return nil, err
			}
			if bf, ok := wire.First(inner, kvBlobID); ok {
				req.BlobID = bf.Data
			}
			if df, ok := wire.First(inner, kvBlobData); ok {
				req.BlobData = df.Data
				req.HasData = true
			}
		}
	}
	if req.Kind == "" {
		return nil, apperrors.NewCodecError("kv request carries neither get nor set args")
	}
	return req, nil
}

func decodeQueryType(payload []byte) string {
	fields, err := wire.Fields(payload)
	if err != nil {
		return "unknown"
	}
	for _, f := range fields {
		if f.Num != queryType {
			continue
		}
		switch f.Type {
		case wire.TypeBytes:
			return f.String()
		case wire.TypeVarint:
			if name, ok := queryTypeNames[f.Varint]; ok {
				return name
			}
			return fmt.Sprintf("query_%d", f.Varint)
		}
	}
	return "unknown"
}
