package cursor

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"github.com/opencursor/opencursor/gateway/internal/infrastructure/cursor/schema"
	"github.com/opencursor/opencursor/gateway/internal/infrastructure/wire"
	apperrors "github.com/opencursor/opencursor/gateway/pkg/errors"
	"github.com/opencursor/opencursor/gateway/pkg/safego"
)

// DefaultSessionTimeout bounds a whole turn. Heartbeats do not extend it.
const DefaultSessionTimeout = 120 * time.Second

// SessionConfig describes one vendor turn.
type SessionConfig struct {
	Prompt  string
	ModelID string
	// Mode is the vendor conversation mode; empty selects "agent".
	Mode    string
	Env     schema.EnvInfo
	Timeout time.Duration
}

// Session performs exactly one vendor turn. It owns its stream reader, blob
// store, append counter, and pending-exec bookkeeping; nothing is shared
// across sessions except the read-only transport.
type Session struct {
	requestID      string
	conversationID string
	messageID      string

	transport *Transport
	logger    *zap.Logger
	phase     *phaseTracker
	blobs     *blobStore
	events    chan Event

	// appendMu serializes appends; the seqno assignment is part of the
	// critical section so observed seqnos are gapless and increasing.
	appendMu  sync.Mutex
	appendSeq int64

	// pendingExecs tracks forwarded exec requests by synthetic tool_call_id
	// until their results come back (or the session is discarded).
	pendingMu    sync.Mutex
	pendingExecs map[string]*schema.ExecRequest

	// editPending is set while a file-modifying tool call is underway and no
	// matching completion has been observed; the next read exec is then
	// consumed locally instead of being forwarded.
	editMu      sync.Mutex
	editPending bool

	body      io.ReadCloser
	cancel    context.CancelFunc
	closeOnce sync.Once
	canceled  bool
	timeout   time.Duration

	// clientGone unblocks the reader's emits once the consumer hangs up;
	// closed by Close() only.
	clientGone chan struct{}
	goneOnce   sync.Once

	// fatal holds the first fatal error recorded outside the reader; the
	// reader surfaces it as the final Error event.
	fatalMu sync.Mutex
	fatal   error
}

// Open establishes the server-streaming call, posts the seeding append, and
// starts the frame reader. The returned session yields events on Events()
// until Done or Error.
func Open(ctx context.Context, transport *Transport, cfg SessionConfig, logger *zap.Logger) (*Session, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSessionTimeout
	}
	if cfg.Mode == "" {
		cfg.Mode = "agent"
	}

	sessionCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)

	s := &Session{
		requestID:      uuid.NewString(),
		conversationID: uuid.NewString(),
		messageID:      uuid.NewString(),
		transport:      transport,
		blobs:          newBlobStore(),
		pendingExecs:   make(map[string]*schema.ExecRequest),
		events:         make(chan Event),
		cancel:         cancel,
		timeout:        cfg.Timeout,
		clientGone:     make(chan struct{}),
	}
	s.logger = logger.With(
		zap.String("component", "cursor-session"),
		zap.String("request_id", s.requestID),
	)
	s.phase = newPhaseTracker(s.logger)

	body, err := transport.OpenRun(sessionCtx, s.requestID)
	if err != nil {
		cancel()
		s.phase.To(PhaseTerminated)
		return nil, err
	}
	s.body = body

	run := schema.EncodeRunRequest(schema.RunParams{
		Prompt:         cfg.Prompt,
		MessageID:      s.messageID,
		Mode:           cfg.Mode,
		ConversationID: s.conversationID,
		ModelID:        cfg.ModelID,
		Env:            cfg.Env,
	})
	if err := s.Append(sessionCtx, run); err != nil {
		body.Close()
		cancel()
		return nil, err
	}
	s.phase.To(PhaseStreaming)

	safego.Go(s.logger, "session-reader", func() {
		s.readLoop(sessionCtx)
	})

	return s, nil
}

// Events returns the turn's event sequence in wire-arrival order. The
// channel closes after the final Done or Error event.
func (s *Session) Events() <-chan Event {
	return s.events
}

// RequestID returns the per-turn request id.
func (s *Session) RequestID() string { return s.requestID }

// ConversationID returns the per-turn conversation id.
func (s *Session) ConversationID() string { return s.conversationID }

// Phase returns the current session phase.
func (s *Session) Phase() Phase { return s.phase.Phase() }

// Append posts one AgentClientMessage on the turn's append channel. Appends
// are serialized; a transport failure is fatal to the session.
func (s *Session) Append(ctx context.Context, msg []byte) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	if s.phase.Terminal() {
		return apperrors.NewTransportError("append on terminated session", nil)
	}
	if err := s.transport.Append(ctx, s.requestID, msg, s.appendSeq); err != nil {
		s.recordFatal(err)
		s.cancel()
		return err
	}
	s.appendSeq++
	return nil
}

// SendExecResult encodes and appends one exec result.
func (s *Session) SendExecResult(ctx context.Context, res *schema.ExecResult) error {
	msg, err := schema.EncodeExecResult(res)
	if err != nil {
		return err
	}
	return s.Append(ctx, msg)
}

// MarkEditPending records that a file-modifying tool call has started.
func (s *Session) MarkEditPending() {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	s.editPending = true
}

// ClearEditPending records the matching tool completion.
func (s *Session) ClearEditPending() {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	s.editPending = false
}

// ConsumeEditPending reports and clears the edit-pending flag. Callers use it
// to decide whether an incoming read exec belongs to an in-flight edit.
func (s *Session) ConsumeEditPending() bool {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	was := s.editPending
	s.editPending = false
	return was
}

// RecordPendingExec tracks a forwarded exec request under its synthetic
// tool_call_id.
func (s *Session) RecordPendingExec(toolCallID string, req *schema.ExecRequest) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pendingExecs[toolCallID] = req
}

// TakePendingExec removes and returns the exec request recorded under
// toolCallID, if any.
func (s *Session) TakePendingExec(toolCallID string) (*schema.ExecRequest, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	req, ok := s.pendingExecs[toolCallID]
	if ok {
		delete(s.pendingExecs, toolCallID)
	}
	return req, ok
}

// Park transitions the session into the tool-bridge suspension: the vendor
// stream is aborted and the tool result arrives on a future HTTP call.
func (s *Session) Park() {
	s.phase.To(PhaseWaitingToolResult)
	s.terminate()
}

// Close aborts the turn on behalf of the HTTP client. Silent: no further
// events are yielded and the vendor side is torn down.
func (s *Session) Close() {
	s.fatalMu.Lock()
	s.canceled = true
	s.fatalMu.Unlock()
	s.goneOnce.Do(func() { close(s.clientGone) })
	s.terminate()
}

func (s *Session) terminate() {
	s.closeOnce.Do(func() {
		s.phase.To(PhaseTerminated)
		s.cancel()
		if s.body != nil {
			s.body.Close()
		}
	})
}

func (s *Session) recordFatal(err error) {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	if s.fatal == nil {
		s.fatal = err
	}
}

func (s *Session) takeFatal() error {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	return s.fatal
}

func (s *Session) clientCanceled() bool {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	return s.canceled
}

// emit delivers ev to the consumer. Delivery only aborts when the client
// hung up (Close); internal cancellation still delivers its final Error so
// the consumer learns why the turn died.
func (s *Session) emit(ev Event) bool {
	ev.Timestamp = time.Now()
	select {
	case s.events <- ev:
		return true
	case <-s.clientGone:
		return false
	}
}

// readLoop pulls bytes from the server stream, reassembles frames, and
// translates them into events. It is the only goroutine that sends on or
// closes the events channel.
func (s *Session) readLoop(ctx context.Context) {
	defer close(s.events)
	defer s.terminate()

	var framer wire.Framer
	buf := make([]byte, 32*1024)

	for {
		n, readErr := s.body.Read(buf)
		if n > 0 {
			frames := framer.Push(buf[:n])
			for _, frame := range frames {
				done := s.handleFrame(ctx, frame)
				if done {
					return
				}
			}
		}
		if readErr != nil {
			s.finish(ctx, readErr)
			return
		}
	}
}

// handleFrame processes one complete frame. It returns true when the turn is
// over and the final event has been emitted.
func (s *Session) handleFrame(ctx context.Context, frame wire.Frame) bool {
	if frame.IsTrailer() {
		return s.handleTrailer(frame.Payload)
	}
	if frame.IsError() {
		s.emit(Event{Type: EventError, Err: apperrors.NewWireError(string(frame.Payload))})
		return true
	}

	msg, err := schema.DecodeServerMessage(frame.Payload)
	if err != nil {
		// Codec failures are soft: drop the frame, keep the turn alive.
		s.logger.Warn("Skipping undecodable frame", zap.Error(err))
		return false
	}

	switch {
	case msg.Update != nil:
		return s.handleUpdate(msg.Update)
	case msg.Exec != nil:
		s.emit(Event{Type: EventExecRequest, Exec: msg.Exec})
	case msg.Kv != nil:
		return s.handleKv(ctx, msg.Kv)
	case msg.Checkpoint:
		s.emit(Event{Type: EventCheckpoint})
		s.emit(Event{Type: EventDone})
		return true
	case msg.Query != "":
		s.emit(Event{Type: EventInteractionQuery, Query: msg.Query})
	}
	return false
}

func (s *Session) handleUpdate(upd *schema.InteractionUpdate) bool {
	switch upd.Kind {
	case schema.UpdateText, schema.UpdateToken:
		s.emit(Event{Type: EventText, Content: upd.Text})
	case schema.UpdateThinking:
		s.emit(Event{Type: EventThinking, Content: upd.Text})
	case schema.UpdateHeartbeat:
		s.emit(Event{Type: EventHeartbeat})
	case schema.UpdateTurnEnded:
		s.emit(Event{Type: EventDone})
		return true
	case schema.UpdateToolStarted:
		s.emit(Event{Type: EventToolCallStarted, Tool: upd.Tool})
	case schema.UpdateToolPartial:
		s.emit(Event{Type: EventPartialToolCall, Tool: upd.Tool})
	case schema.UpdateToolCompleted:
		s.emit(Event{Type: EventToolCallCompleted, Tool: upd.Tool})
	}
	return false
}

// handleKv serves the KV back-channel inline; KV traffic is never surfaced
// to the adapter.
func (s *Session) handleKv(ctx context.Context, kv *schema.KvRequest) bool {
	switch kv.Kind {
	case schema.KvGet:
		data, found := s.blobs.get(kv.BlobID)
		if err := s.Append(ctx, schema.EncodeKvGetResult(kv.ID, data, found)); err != nil {
			s.emit(Event{Type: EventError, Err: err})
			return true
		}
	case schema.KvSet:
		if !kv.HasData {
			s.emit(Event{Type: EventError,
				Err: apperrors.NewProtocolViolation("kv set without blob data")})
			return true
		}
		s.blobs.set(kv.BlobID, kv.BlobData)
		if err := s.Append(ctx, schema.EncodeKvSetResult(kv.ID)); err != nil {
			s.emit(Event{Type: EventError, Err: err})
			return true
		}
	}
	return false
}

func (s *Session) handleTrailer(payload []byte) bool {
	meta := wire.ParseTrailer(payload)
	status, _ := strconv.Atoi(meta["grpc-status"])
	if status == 0 {
		s.emit(Event{Type: EventDone})
		return true
	}
	message := meta["grpc-message"]
	if message == "" {
		message = codes.Code(status).String()
	}
	s.logger.Warn("Turn failed with grpc trailer",
		zap.Int("grpc_status", status),
		zap.String("grpc_message", message),
	)
	s.emit(Event{Type: EventError, Err: apperrors.NewWireError(message)})
	return true
}

// finish emits the terminal event for a read error on the stream body.
func (s *Session) finish(ctx context.Context, readErr error) {
	if s.clientCanceled() {
		return
	}
	if fatal := s.takeFatal(); fatal != nil {
		s.emit(Event{Type: EventError, Err: fatal})
		return
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.emit(Event{Type: EventError,
			Err: apperrors.NewTimeoutError("session exceeded " + s.timeout.String())})
		return
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		// Upstream cancellation (client disconnect); nothing to report.
		return
	}
	if errors.Is(readErr, io.EOF) {
		// Stream closed without an explicit turn end; treat as a clean stop.
		s.emit(Event{Type: EventDone})
		return
	}
	s.emit(Event{Type: EventError,
		Err: apperrors.NewTransportError("stream read failed", readErr)})
}
