package schema

import (
	"encoding/hex"

	"github.com/opencursor/opencursor/gateway/internal/infrastructure/wire"
	apperrors "github.com/opencursor/opencursor/gateway/pkg/errors"
)

// This file carries the reverse direction of each codec: encoders for
// server-originated messages and decoders for client-originated ones. The
// gateway proper only needs the forward direction; these back the doctor
// command's loopback self-check and the protocol tests.

// EncodeTextDelta builds an AgentServerMessage.interaction_update.text_delta.
func EncodeTextDelta(text string) []byte {
	return encodeDelta(updateTextDelta, text)
}

// EncodeThinkingDelta builds a thinking_delta update.
func EncodeThinkingDelta(text string) []byte {
	return encodeDelta(updateThinkingDelta, text)
}

// EncodeTokenDelta builds a token_delta update.
func EncodeTokenDelta(tokens string) []byte {
	return encodeDelta(updateTokenDelta, tokens)
}

func encodeDelta(variant wire.Number, text string) []byte {
	var inner wire.Builder
	inner.StringAlways(deltaText, text)

	var upd wire.Builder
	upd.Message(variant, inner.Bytes())

	var msg wire.Builder
	msg.Message(ServerInteractionUpdate, upd.Bytes())
	return msg.Bytes()
}

// EncodeHeartbeat builds a heartbeat update.
func EncodeHeartbeat() []byte {
	var upd wire.Builder
	upd.Message(updateHeartbeat, nil)

	var msg wire.Builder
	msg.Message(ServerInteractionUpdate, upd.Bytes())
	return msg.Bytes()
}

// EncodeTurnEnded builds a turn_ended update.
func EncodeTurnEnded() []byte {
	var upd wire.Builder
	upd.Message(updateTurnEnded, nil)

	var msg wire.Builder
	msg.Message(ServerInteractionUpdate, upd.Bytes())
	return msg.Bytes()
}

// EncodeCheckpoint builds a conversation_checkpoint_update.
func EncodeCheckpoint() []byte {
	var msg wire.Builder
	msg.Message(ServerCheckpointUpdate, nil)
	return msg.Bytes()
}

// EncodeToolCallStarted builds a tool_call_started update around an encoded
// tool payload (see EncodeToolCallPayload).
func EncodeToolCallStarted(callID, modelCallID string, payload []byte) []byte {
	return encodeToolUpdate(updateToolStarted, callID, modelCallID, payload)
}

// EncodeToolCallCompleted builds a tool_call_completed update.
func EncodeToolCallCompleted(callID, modelCallID string, payload []byte) []byte {
	return encodeToolUpdate(updateToolCompleted, callID, modelCallID, payload)
}

// EncodePartialToolCall builds a partial_tool_call update carrying an
// argument-text fragment.
func EncodePartialToolCall(callID, argsDelta string) []byte {
	var upd wire.Builder
	upd.String(toolUpdateCallID, callID)
	upd.StringAlways(toolUpdatePayload, argsDelta)

	var iu wire.Builder
	iu.Message(updateToolPartial, upd.Bytes())

	var msg wire.Builder
	msg.Message(ServerInteractionUpdate, iu.Bytes())
	return msg.Bytes()
}

func encodeToolUpdate(variant wire.Number, callID, modelCallID string, payload []byte) []byte {
	var upd wire.Builder
	upd.String(toolUpdateCallID, callID)
	upd.String(toolUpdateModelCallID, modelCallID)
	upd.Message(toolUpdatePayload, payload)

	var iu wire.Builder
	iu.Message(variant, upd.Bytes())

	var msg wire.Builder
	msg.Message(ServerInteractionUpdate, iu.Bytes())
	return msg.Bytes()
}

// EncodeToolCallPayload encodes a tool call for the tool-kind oneof. Known
// kinds encode through their argument schema; unknown kinds re-emit the raw
// bytes preserved by DecodeToolCallPayload.
func EncodeToolCallPayload(call *ToolCall) ([]byte, error) {
	var body []byte
	if call.unknown {
		raw, _ := call.Args["_raw"].([]byte)
		body = raw
	} else {
		spec, ok := ToolByNum(call.FieldNum)
		if !ok {
			return nil, apperrors.NewCodecError("tool call without a table entry")
		}
		enc, err := EncodeArgs(call.Args, spec.Args)
		if err != nil {
			return nil, err
		}
		body = enc
	}
	var b wire.Builder
	b.Message(call.FieldNum, body)
	return b.Bytes(), nil
}

// EncodeExecRequest builds an AgentServerMessage.exec_server_message.
func EncodeExecRequest(req *ExecRequest) ([]byte, error) {
	num := req.FieldNum
	if num == 0 {
		for _, spec := range execTable {
			if spec.Kind == req.Kind {
				num = spec.Num
				break
			}
		}
	}
	spec, ok := execByNum[num]
	if !ok {
		return nil, apperrors.NewCodecError("exec request for unmapped kind " + string(req.Kind))
	}
	args, err := EncodeArgs(req.Args, spec.Args)
	if err != nil {
		return nil, err
	}

	var esm wire.Builder
	esm.VarintAlways(execReqID, uint64(req.ID))
	esm.String(execReqExecID, req.ExecID)
	esm.Message(num, args)

	var msg wire.Builder
	msg.Message(ServerExecMessage, esm.Bytes())
	return msg.Bytes(), nil
}

// EncodeKvGet builds a kv_server_message.get_blob_args.
func EncodeKvGet(id uint32, blobID []byte) []byte {
	var args wire.Builder
	args.RawBytesAlways(kvBlobID, blobID)

	var ksm wire.Builder
	ksm.VarintAlways(kvMsgID, uint64(id))
	ksm.Message(kvGetArgs, args.Bytes())

	var msg wire.Builder
	msg.Message(ServerKvMessage, ksm.Bytes())
	return msg.Bytes()
}

// EncodeKvSet builds a kv_server_message.set_blob_args. Pass hasData=false
// to synthesize the protocol violation of a set without data.
func EncodeKvSet(id uint32, blobID, blobData []byte, hasData bool) []byte {
	var args wire.Builder
	args.RawBytesAlways(kvBlobID, blobID)
	if hasData {
		args.RawBytesAlways(kvBlobData, blobData)
	}

	var ksm wire.Builder
	ksm.VarintAlways(kvMsgID, uint64(id))
	ksm.Message(kvSetArgs, args.Bytes())

	var msg wire.Builder
	msg.Message(ServerKvMessage, ksm.Bytes())
	return msg.Bytes()
}

// EncodeInteractionQuery builds an interaction_query with a string type.
func EncodeInteractionQuery(queryName string) []byte {
	var q wire.Builder
	q.StringAlways(queryType, queryName)

	var msg wire.Builder
	msg.Message(ServerInteractionQuery, q.Bytes())
	return msg.Bytes()
}

// AppendEnvelope is a decoded BidiAppendRequest.
type AppendEnvelope struct {
	// Message is the hex-decoded AgentClientMessage payload.
	Message   []byte
	RequestID string
	Seqno     int64
}

// DecodeBidiAppend decodes a BidiAppendRequest body.
func DecodeBidiAppend(payload []byte) (*AppendEnvelope, error) {
	fields, err := wire.Fields(payload)
	if err != nil {
		return nil, err
	}
	env := &AppendEnvelope{}
	for _, f := range fields {
		switch f.Num {
		case appendData:
			msg, err := hex.DecodeString(f.String())
			if err != nil {
				return nil, apperrors.NewCodecError("append data is not valid hex")
			}
			env.Message = msg
		case appendRequestID:
			inner, err := wire.Fields(f.Data)
			if err != nil {
				return nil, err
			}
			if rf, ok := wire.First(inner, bidiRequestID); ok {
				env.RequestID = rf.String()
			}
		case appendSeqno:
			env.Seqno = int64(f.Varint)
		}
	}
	return env, nil
}

// ClientMessage is a decoded AgentClientMessage, one branch set.
type ClientMessage struct {
	RunRequest []byte
	Exec       *ExecResultSummary
	Kv         *KvResultSummary
}

// ExecResultSummary is the decoded skeleton of an exec_client_message.
type ExecResultSummary struct {
	ID       uint32
	ExecID   string
	FieldNum wire.Number
	// Success reports which branch of the result oneof was populated.
	Success bool
	Body    []byte
}

// KvResultSummary is the decoded skeleton of a kv_client_message.
type KvResultSummary struct {
	ID       uint32
	Kind     KvKind
	BlobData []byte
	Found    bool
}

// DecodeClientMessage decodes an AgentClientMessage.
func DecodeClientMessage(payload []byte) (*ClientMessage, error) {
	fields, err := wire.Fields(payload)
	if err != nil {
		return nil, err
	}
	msg := &ClientMessage{}
	for _, f := range fields {
		switch f.Num {
		case ClientRunRequest:
			msg.RunRequest = f.Data
		case ClientExecMessage:
			sum, err := decodeExecResultSummary(f.Data)
			if err != nil {
				return nil, err
			}
			msg.Exec = sum
		case ClientKvMessage:
			sum, err := decodeKvResultSummary(f.Data)
			if err != nil {
				return nil, err
			}
			msg.Kv = sum
		}
	}
	return msg, nil
}

func decodeExecResultSummary(payload []byte) (*ExecResultSummary, error) {
	fields, err := wire.Fields(payload)
	if err != nil {
		return nil, err
	}
	sum := &ExecResultSummary{}
	for _, f := range fields {
		switch f.Num {
		case execResID:
			sum.ID = uint32(f.Varint)
		case execResExecID:
			sum.ExecID = f.String()
		default:
			if f.Type != wire.TypeBytes {
				continue
			}
			sum.FieldNum = f.Num
			inner, err := wire.Fields(f.Data)
			if err != nil {
				return nil, err
			}
			if bf, ok := wire.First(inner, resSuccess); ok {
				sum.Success = true
				sum.Body = bf.Data
			} else if bf, ok := wire.First(inner, resError); ok {
				sum.Body = bf.Data
			}
		}
	}
	return sum, nil
}

func decodeKvResultSummary(payload []byte) (*KvResultSummary, error) {
	fields, err := wire.Fields(payload)
	if err != nil {
		return nil, err
	}
	sum := &KvResultSummary{}
	for _, f := range fields {
		switch f.Num {
		case kvMsgID:
			sum.ID = uint32(f.Varint)
		case kvResGet:
			sum.Kind = KvGet
			inner, err := wire.Fields(f.Data)
			if err != nil {
				return nil, err
			}
			if df, ok := wire.First(inner, kvResultData); ok {
				sum.BlobData = df.Data
				sum.Found = true
			}
		case kvResSet:
			sum.Kind = KvSet
		}
	}
	return sum, nil
}
