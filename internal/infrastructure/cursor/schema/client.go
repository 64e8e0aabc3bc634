package schema

import (
	"encoding/hex"

	"github.com/opencursor/opencursor/gateway/internal/infrastructure/wire"
	apperrors "github.com/opencursor/opencursor/gateway/pkg/errors"
)

// RunRequest field numbers.
const (
	runConversationState  wire.Number = 1
	runConversationAction wire.Number = 2
	runModelDetails       wire.Number = 3
	runConversationID     wire.Number = 4
)

// ConversationAction: user_message_action = 1.
// UserMessageAction: user_message = 1, request_context = 2.
// UserMessage: text = 1, message_id = 2, mode = 3.
// RequestContext: env = 1.
// Env: os_version = 1, workspace_path = 2, shell = 3, timezone = 4,
// project_folder = 5. ModelDetails: model_id = 1.
const (
	actUserMessageAction wire.Number = 1
	umaUserMessage       wire.Number = 1
	umaRequestContext    wire.Number = 2
	umText               wire.Number = 1
	umMessageID          wire.Number = 2
	umMode               wire.Number = 3
	rcEnv                wire.Number = 1
	envOSVersion         wire.Number = 1
	envWorkspacePath     wire.Number = 2
	envShell             wire.Number = 3
	envTimezone          wire.Number = 4
	envProjectFolder     wire.Number = 5
	mdModelID            wire.Number = 1
)

// BidiRequestId: request_id = 1.
// BidiAppendRequest: data = 1 (hex string), request_id = 2, append_seqno = 3.
const (
	bidiRequestID   wire.Number = 1
	appendData      wire.Number = 1
	appendRequestID wire.Number = 2
	appendSeqno     wire.Number = 3
)

// ExecClientMessage: id = 1, exec_id = 13, result oneof mirroring the
// request kind numbers (shell = 2, write = 3, grep = 5, read = 7, ls = 8,
// request_context = 10, mcp = 11). Each result body is a oneof with
// success = 1 / error = 2.
const (
	execResID      wire.Number = 1
	execResExecID  wire.Number = 13
	execResShell   wire.Number = 2
	execResWrite   wire.Number = 3
	execResGrep    wire.Number = 5
	execResRead    wire.Number = 7
	execResLs      wire.Number = 8
	execResContext wire.Number = 10
	execResMCP     wire.Number = 11
	resSuccess     wire.Number = 1
	resError       wire.Number = 2
)

// Result body field numbers per kind.
const (
	shellStdout     wire.Number = 1
	shellStderr     wire.Number = 2
	shellExitCode   wire.Number = 3
	shellDurationMs wire.Number = 4

	readContent    wire.Number = 1
	readTotalLines wire.Number = 2
	readFileSize   wire.Number = 3
	readTruncated  wire.Number = 4

	writePath     wire.Number = 1
	writeLines    wire.Number = 2
	writeFileSize wire.Number = 3
	writeContent  wire.Number = 4

	lsListing wire.Number = 1

	grepFiles wire.Number = 1
	grepCount wire.Number = 2

	errPath    wire.Number = 1
	errMessage wire.Number = 2
)

// KvClientMessage: id = 1, get_blob_result = 2 {blob_data = 1, absent when
// not found}, set_blob_result = 3 {} (empty).
const (
	kvResGet wire.Number = 2
	kvResSet wire.Number = 3
)

// RunParams carries everything the initial run_request needs.
type RunParams struct {
	Prompt         string
	MessageID      string
	Mode           string
	ConversationID string
	ModelID        string
	Env            EnvInfo
}

func encodeEnv(env EnvInfo) []byte {
	var b wire.Builder
	b.String(envOSVersion, env.OSVersion)
	b.String(envWorkspacePath, env.WorkspacePath)
	b.String(envShell, env.Shell)
	b.String(envTimezone, env.Timezone)
	b.String(envProjectFolder, env.ProjectFolder)
	return b.Bytes()
}

// EncodeRunRequest builds the AgentClientMessage.run_request that seeds a
// turn. conversation_state is an empty message but must be present.
func EncodeRunRequest(p RunParams) []byte {
	var um wire.Builder
	um.StringAlways(umText, p.Prompt)
	um.String(umMessageID, p.MessageID)
	um.String(umMode, p.Mode)

	var rc wire.Builder
	rc.Message(rcEnv, encodeEnv(p.Env))

	var uma wire.Builder
	uma.Message(umaUserMessage, um.Bytes())
	uma.Message(umaRequestContext, rc.Bytes())

	var act wire.Builder
	act.Message(actUserMessageAction, uma.Bytes())

	var md wire.Builder
	md.String(mdModelID, p.ModelID)

	var run wire.Builder
	run.Message(runConversationState, nil)
	run.Message(runConversationAction, act.Bytes())
	run.Message(runModelDetails, md.Bytes())
	run.String(runConversationID, p.ConversationID)

	var msg wire.Builder
	msg.Message(ClientRunRequest, run.Bytes())
	return msg.Bytes()
}

// EncodeBidiRequestID builds the bare BidiRequestId message that opens the
// server stream.
func EncodeBidiRequestID(requestID string) []byte {
	var b wire.Builder
	b.StringAlways(bidiRequestID, requestID)
	return b.Bytes()
}

// EncodeBidiAppend wraps an encoded AgentClientMessage for the unary append
// endpoint. The message bytes travel hex-encoded in the data field.
func EncodeBidiAppend(msg []byte, requestID string, seq int64) []byte {
	var b wire.Builder
	b.StringAlways(appendData, hex.EncodeToString(msg))
	b.Message(appendRequestID, EncodeBidiRequestID(requestID))
	b.VarintAlways(appendSeqno, uint64(seq))
	return b.Bytes()
}

// ShellOutcome is the result payload of a shell exec.
type ShellOutcome struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMs int64
}

// ReadOutcome is the result payload of a read exec.
type ReadOutcome struct {
	Content    string
	TotalLines int
	FileSize   int64
	Truncated  bool
}

// WriteOutcome is the result payload of a write exec.
type WriteOutcome struct {
	Path         string
	LinesCreated int
	FileSize     int64
	Content      string
}

// LsOutcome is the result payload of an ls exec.
type LsOutcome struct {
	Listing string
}

// GrepOutcome is the result payload of a grep/glob exec.
type GrepOutcome struct {
	Files []string
	Count int
}

// ExecError is the error branch of any exec result.
type ExecError struct {
	Path    string
	Message string
}

// ExecResult is one exec reply to the vendor. Exactly one outcome pointer
// (or Err) is set, matching Kind.
type ExecResult struct {
	ID     uint32
	ExecID string
	Kind   ExecKind

	Shell   *ShellOutcome
	Read    *ReadOutcome
	Write   *WriteOutcome
	Ls      *LsOutcome
	Grep    *GrepOutcome
	Context *EnvInfo
	Err     *ExecError
}

var execResultNum = map[ExecKind]wire.Number{
	ExecShell:          execResShell,
	ExecBgShell:        execResShell,
	ExecWrite:          execResWrite,
	ExecGrep:           execResGrep,
	ExecRead:           execResRead,
	ExecLs:             execResLs,
	ExecRequestContext: execResContext,
	ExecMCP:            execResMCP,
}

func encodeShellOutcome(o *ShellOutcome) []byte {
	var b wire.Builder
	b.String(shellStdout, o.Stdout)
	b.String(shellStderr, o.Stderr)
	b.Varint(shellExitCode, uint64(o.ExitCode))
	b.Varint(shellDurationMs, uint64(o.DurationMs))
	return b.Bytes()
}

func encodeExecError(e *ExecError) []byte {
	var b wire.Builder
	b.String(errPath, e.Path)
	b.StringAlways(errMessage, e.Message)
	return b.Bytes()
}

// EncodeExecResult wraps res as AgentClientMessage.exec_client_message.
func EncodeExecResult(res *ExecResult) ([]byte, error) {
	num, ok := execResultNum[res.Kind]
	if !ok {
		return nil, apperrors.NewCodecError("exec result for unmapped kind " + string(res.Kind))
	}

	var body wire.Builder
	switch {
	case res.Kind == ExecShell || res.Kind == ExecBgShell:
		// ShellOutcome goes in the success or error branch keyed by exit code.
		if res.Shell == nil {
			return nil, apperrors.NewCodecError("shell result without outcome")
		}
		branch := resSuccess
		if res.Shell.ExitCode != 0 {
			branch = resError
		}
		body.Message(branch, encodeShellOutcome(res.Shell))
	case res.Err != nil:
		body.Message(resError, encodeExecError(res.Err))
	case res.Kind == ExecRead:
		var o wire.Builder
		o.String(readContent, res.Read.Content)
		o.Varint(readTotalLines, uint64(res.Read.TotalLines))
		o.Varint(readFileSize, uint64(res.Read.FileSize))
		o.Bool(readTruncated, res.Read.Truncated)
		body.Message(resSuccess, o.Bytes())
	case res.Kind == ExecWrite:
		var o wire.Builder
		o.String(writePath, res.Write.Path)
		o.Varint(writeLines, uint64(res.Write.LinesCreated))
		o.Varint(writeFileSize, uint64(res.Write.FileSize))
		o.String(writeContent, res.Write.Content)
		body.Message(resSuccess, o.Bytes())
	case res.Kind == ExecLs:
		var o wire.Builder
		o.StringAlways(lsListing, res.Ls.Listing)
		body.Message(resSuccess, o.Bytes())
	case res.Kind == ExecGrep:
		var o wire.Builder
		for _, f := range res.Grep.Files {
			o.StringAlways(grepFiles, f)
		}
		o.Varint(grepCount, uint64(res.Grep.Count))
		body.Message(resSuccess, o.Bytes())
	case res.Kind == ExecRequestContext:
		body.Message(resSuccess, encodeEnv(*res.Context))
	default:
		return nil, apperrors.NewCodecError("exec result for kind " + string(res.Kind) + " has no payload")
	}

	var ecm wire.Builder
	ecm.VarintAlways(execResID, uint64(res.ID))
	ecm.String(execResExecID, res.ExecID)
	ecm.Message(num, body.Bytes())

	var msg wire.Builder
	msg.Message(ClientExecMessage, ecm.Bytes())
	return msg.Bytes(), nil
}

// EncodeKvGetResult wraps a get_blob reply. Absence of blob_data signals
// "not found".
func EncodeKvGetResult(id uint32, data []byte, found bool) []byte {
	var res wire.Builder
	if found {
		res.RawBytesAlways(kvResultData, data)
	}

	var kcm wire.Builder
	kcm.VarintAlways(kvMsgID, uint64(id))
	kcm.Message(kvResGet, res.Bytes())

	var msg wire.Builder
	msg.Message(ClientKvMessage, kcm.Bytes())
	return msg.Bytes()
}

// EncodeKvSetResult wraps an empty set_blob acknowledgement.
func EncodeKvSetResult(id uint32) []byte {
	var kcm wire.Builder
	kcm.VarintAlways(kvMsgID, uint64(id))
	kcm.Message(kvResSet, nil)

	var msg wire.Builder
	msg.Message(ClientKvMessage, kcm.Bytes())
	return msg.Bytes()
}
