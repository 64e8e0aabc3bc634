package cursor

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/opencursor/opencursor/gateway/internal/infrastructure/cursor/schema"
	"github.com/opencursor/opencursor/gateway/internal/infrastructure/wire"
	apperrors "github.com/opencursor/opencursor/gateway/pkg/errors"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// fakeVendor speaks the framed agent protocol over httptest. The script
// writes server frames and may wait for appends via appendCh.
type fakeVendor struct {
	t      *testing.T
	script func(v *fakeVendor, send func(frame []byte))

	mu       sync.Mutex
	appends  []*schema.AppendEnvelope
	appendCh chan *schema.AppendEnvelope

	// appendStatus lets a test fail the unary endpoint.
	appendStatus int

	srv *httptest.Server
}

func newFakeVendor(t *testing.T, script func(v *fakeVendor, send func(frame []byte))) *fakeVendor {
	v := &fakeVendor{
		t:            t,
		script:       script,
		appendCh:     make(chan *schema.AppendEnvelope, 16),
		appendStatus: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/agent.v1.AgentService/RunSSE", v.handleRun)
	mux.HandleFunc("/aiserver.v1.BidiService/BidiAppend", v.handleAppend)
	v.srv = httptest.NewServer(mux)
	t.Cleanup(v.srv.Close)
	return v
}

func (v *fakeVendor) handleRun(w http.ResponseWriter, r *http.Request) {
	if got := r.Header.Get("content-type"); got != "application/grpc-web+proto" {
		v.t.Errorf("run content-type: %q", got)
	}
	if r.Header.Get("authorization") == "" || r.Header.Get("x-cursor-checksum") == "" {
		v.t.Error("run call missing mandatory headers")
	}

	flusher := w.(http.Flusher)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(frame []byte) {
		w.Write(wire.EncodeEnvelope(0, frame))
		flusher.Flush()
	}
	v.script(v, send)
}

func (v *fakeVendor) handleAppend(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	buf.ReadFrom(r.Body)

	var framer wire.Framer
	frames := framer.Push(buf.Bytes())
	if len(frames) != 1 {
		v.t.Errorf("append body must be exactly one envelope, got %d", len(frames))
	}
	env, err := schema.DecodeBidiAppend(frames[0].Payload)
	if err != nil {
		v.t.Errorf("decode append: %v", err)
	}

	v.mu.Lock()
	status := v.appendStatus
	v.appends = append(v.appends, env)
	v.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	v.appendCh <- env
	w.WriteHeader(http.StatusOK)
}

func (v *fakeVendor) recorded() []*schema.AppendEnvelope {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*schema.AppendEnvelope, len(v.appends))
	copy(out, v.appends)
	return out
}

func (v *fakeVendor) waitAppend() *schema.AppendEnvelope {
	select {
	case env := <-v.appendCh:
		return env
	case <-time.After(5 * time.Second):
		v.t.Error("timed out waiting for append")
		return &schema.AppendEnvelope{}
	}
}

func openTestSession(t *testing.T, v *fakeVendor, cfg SessionConfig) *Session {
	t.Helper()
	transport := NewTransport(TransportConfig{
		BaseURL:     v.srv.URL,
		AccessToken: "test-token",
	}, testLogger())
	if cfg.Prompt == "" {
		cfg.Prompt = "ping"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "gpt-4o"
	}
	session, err := Open(context.Background(), transport, cfg, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(session.Close)
	return session
}

func collect(t *testing.T, s *Session) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out collecting events; got %d so far", len(events))
		}
	}
}

// === Streaming text ===

func TestSession_TextStreamToDone(t *testing.T) {
	v := newFakeVendor(t, func(v *fakeVendor, send func([]byte)) {
		run := v.waitAppend() // seeding append
		if run.Seqno != 0 {
			v.t.Errorf("seed append seqno: %d", run.Seqno)
		}
		msg, err := schema.DecodeClientMessage(run.Message)
		if err != nil || msg.RunRequest == nil {
			v.t.Errorf("seed append must carry run_request: %v", err)
		}

		send(schema.EncodeTextDelta("Hello "))
		send(schema.EncodeTextDelta("world"))
		send(schema.EncodeHeartbeat())
		send(schema.EncodeTurnEnded())
	})

	s := openTestSession(t, v, SessionConfig{Prompt: "say hello"})
	events := collect(t, s)

	var text string
	var sawHeartbeat, sawDone bool
	for _, ev := range events {
		switch ev.Type {
		case EventText:
			text += ev.Content
		case EventHeartbeat:
			sawHeartbeat = true
		case EventDone:
			sawDone = true
		case EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}
	if text != "Hello world" {
		t.Errorf("text: %q", text)
	}
	if !sawHeartbeat || !sawDone {
		t.Errorf("missing lifecycle events: heartbeat=%v done=%v", sawHeartbeat, sawDone)
	}
	if s.Phase() != PhaseTerminated {
		t.Errorf("phase after done: %s", s.Phase())
	}
}

// === KV back-channel ===

func TestSession_KvSetGetRoundTrip(t *testing.T) {
	blobID := []byte{0xAB, 0xCD}
	blobData := []byte{0x01, 0x02, 0x03}

	v := newFakeVendor(t, func(v *fakeVendor, send func([]byte)) {
		v.waitAppend() // seed

		send(schema.EncodeKvSet(7, blobID, blobData, true))
		setReply := v.waitAppend()
		msg, _ := schema.DecodeClientMessage(setReply.Message)
		if msg.Kv == nil || msg.Kv.Kind != schema.KvSet || msg.Kv.ID != 7 {
			v.t.Errorf("set reply: %+v", msg.Kv)
		}

		send(schema.EncodeKvGet(8, blobID))
		getReply := v.waitAppend()
		msg, _ = schema.DecodeClientMessage(getReply.Message)
		if msg.Kv == nil || msg.Kv.Kind != schema.KvGet || msg.Kv.ID != 8 {
			v.t.Errorf("get reply: %+v", msg.Kv)
		}
		if !msg.Kv.Found || !bytes.Equal(msg.Kv.BlobData, blobData) {
			v.t.Errorf("get reply data: %+v", msg.Kv)
		}

		send(schema.EncodeKvGet(9, []byte{0xFF}))
		missReply := v.waitAppend()
		msg, _ = schema.DecodeClientMessage(missReply.Message)
		if msg.Kv.Found {
			v.t.Error("unset blob must come back absent")
		}

		send(schema.EncodeTurnEnded())
	})

	s := openTestSession(t, v, SessionConfig{})
	events := collect(t, s)

	// KV traffic must never surface to the adapter.
	for _, ev := range events {
		if ev.Type != EventDone {
			t.Errorf("unexpected surfaced event: %s", ev.Type)
		}
	}

	// append_seqno strictly increasing from 0 with no gaps.
	appends := v.recorded()
	if len(appends) != 4 {
		t.Fatalf("expected 4 appends, got %d", len(appends))
	}
	for i, env := range appends {
		if env.Seqno != int64(i) {
			t.Errorf("append %d has seqno %d", i, env.Seqno)
		}
		if env.RequestID != s.RequestID() {
			t.Errorf("append %d request id %q", i, env.RequestID)
		}
	}
}

func TestSession_KvSetWithoutDataIsProtocolViolation(t *testing.T) {
	v := newFakeVendor(t, func(v *fakeVendor, send func([]byte)) {
		v.waitAppend()
		send(schema.EncodeKvSet(1, []byte{0x01}, nil, false))
	})

	s := openTestSession(t, v, SessionConfig{})
	events := collect(t, s)

	if len(events) == 0 {
		t.Fatal("expected an error event")
	}
	last := events[len(events)-1]
	if last.Type != EventError || !apperrors.IsCode(last.Err, apperrors.CodeProtocolViolation) {
		t.Errorf("final event: %+v", last)
	}
}

// === Exec round trip ===

func TestSession_ExecRequestAndResult(t *testing.T) {
	v := newFakeVendor(t, func(v *fakeVendor, send func([]byte)) {
		v.waitAppend()

		enc, err := schema.EncodeExecRequest(&schema.ExecRequest{
			ID:   42,
			Kind: schema.ExecShell,
			Args: map[string]any{"command": "echo hi"},
		})
		if err != nil {
			v.t.Fatalf("encode exec: %v", err)
		}
		send(enc)

		result := v.waitAppend()
		msg, _ := schema.DecodeClientMessage(result.Message)
		if msg.Exec == nil || msg.Exec.ID != 42 || !msg.Exec.Success {
			v.t.Errorf("exec result: %+v", msg.Exec)
		}

		send(schema.EncodeTextDelta("done"))
		send(schema.EncodeTurnEnded())
	})

	s := openTestSession(t, v, SessionConfig{})

	var sawExec bool
	for ev := range s.Events() {
		switch ev.Type {
		case EventExecRequest:
			sawExec = true
			if ev.Exec.ID != 42 || ev.Exec.Kind != schema.ExecShell {
				t.Errorf("exec event: %+v", ev.Exec)
			}
			// Consumer answers with a matching-id result, like the adapter.
			err := s.SendExecResult(context.Background(), &schema.ExecResult{
				ID:    ev.Exec.ID,
				Kind:  schema.ExecShell,
				Shell: &schema.ShellOutcome{Stdout: "hi\n", ExitCode: 0},
			})
			if err != nil {
				t.Errorf("SendExecResult: %v", err)
			}
		case EventError:
			t.Fatalf("unexpected error: %v", ev.Err)
		}
	}
	if !sawExec {
		t.Error("exec request never surfaced")
	}
}

// === Trailer handling ===

func TestSession_TrailerWithNonzeroStatus(t *testing.T) {
	trailer := newFakeVendorRaw(t, func(w http.ResponseWriter, flusher http.Flusher, v *fakeVendor) {
		v.waitAppend()
		w.Write(wire.EncodeEnvelope(0, schema.EncodeTextDelta("partial")))
		flusher.Flush()
		w.Write(wire.EncodeEnvelope(wire.FlagTrailer, []byte("grpc-status: 7\r\ngrpc-message: permission denied\r\n")))
		flusher.Flush()
	})

	s := openTestSession(t, trailer, SessionConfig{})
	events := collect(t, s)

	last := events[len(events)-1]
	if last.Type != EventError {
		t.Fatalf("expected trailing error, got %s", last.Type)
	}
	if !apperrors.IsCode(last.Err, apperrors.CodeWire) {
		t.Errorf("error code: %v", last.Err)
	}
	if want := "permission denied"; !bytes.Contains([]byte(last.Err.Error()), []byte(want)) {
		t.Errorf("error message: %v", last.Err)
	}
}

func TestSession_CleanTrailerIsDone(t *testing.T) {
	v := newFakeVendorRaw(t, func(w http.ResponseWriter, flusher http.Flusher, v *fakeVendor) {
		v.waitAppend()
		w.Write(wire.EncodeEnvelope(0, schema.EncodeTextDelta("all good")))
		w.Write(wire.EncodeEnvelope(wire.FlagTrailer, []byte("grpc-status: 0\r\n")))
		flusher.Flush()
	})

	s := openTestSession(t, v, SessionConfig{})
	events := collect(t, s)
	last := events[len(events)-1]
	if last.Type != EventDone {
		t.Errorf("clean trailer should end with Done, got %s", last.Type)
	}
}

// newFakeVendorRaw gives the script the raw response writer so tests can
// write frames with non-default envelope flags.
func newFakeVendorRaw(t *testing.T, script func(http.ResponseWriter, http.Flusher, *fakeVendor)) *fakeVendor {
	v := &fakeVendor{
		t:            t,
		appendCh:     make(chan *schema.AppendEnvelope, 16),
		appendStatus: http.StatusOK,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/agent.v1.AgentService/RunSSE", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		script(w, flusher, v)
	})
	mux.HandleFunc("/aiserver.v1.BidiService/BidiAppend", v.handleAppend)
	v.srv = httptest.NewServer(mux)
	t.Cleanup(v.srv.Close)
	return v
}

// === Failure paths ===

func TestSession_AppendFailureIsFatal(t *testing.T) {
	v := newFakeVendor(t, func(v *fakeVendor, send func([]byte)) {
		v.waitAppend()
		// Fail every subsequent append.
		v.mu.Lock()
		v.appendStatus = http.StatusInternalServerError
		v.mu.Unlock()

		send(schema.EncodeKvSet(1, []byte{0x01}, []byte{0x02}, true))
		// Keep the stream open; the failed append must kill the session.
		time.Sleep(2 * time.Second)
	})

	s := openTestSession(t, v, SessionConfig{})
	events := collect(t, s)

	var sawTransportError bool
	for _, ev := range events {
		if ev.Type == EventError && apperrors.IsCode(ev.Err, apperrors.CodeTransport) {
			sawTransportError = true
		}
	}
	if !sawTransportError {
		t.Errorf("expected a transport error event, got %+v", events)
	}
	if s.Phase() != PhaseTerminated {
		t.Errorf("phase: %s", s.Phase())
	}
}

func TestSession_EOFWithoutTurnEndIsDone(t *testing.T) {
	v := newFakeVendor(t, func(v *fakeVendor, send func([]byte)) {
		v.waitAppend()
		send(schema.EncodeTextDelta("bye"))
	})

	s := openTestSession(t, v, SessionConfig{})
	events := collect(t, s)
	last := events[len(events)-1]
	if last.Type != EventDone {
		t.Errorf("EOF should close the turn cleanly, got %s", last.Type)
	}
}

func TestSession_CloseIsSilent(t *testing.T) {
	release := make(chan struct{})
	v := newFakeVendor(t, func(v *fakeVendor, send func([]byte)) {
		v.waitAppend()
		send(schema.EncodeTextDelta("start"))
		<-release
	})
	defer close(release)

	s := openTestSession(t, v, SessionConfig{})

	// Consume the first event, then hang up like a disconnecting client.
	select {
	case <-s.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("no first event")
	}
	s.Close()

	for ev := range s.Events() {
		if ev.Type == EventError {
			t.Errorf("client cancel must be silent, got %v", ev.Err)
		}
	}
	if s.Phase() != PhaseTerminated {
		t.Errorf("phase: %s", s.Phase())
	}
}

// === Queries and tool updates ===

func TestSession_InteractionQuerySurfaced(t *testing.T) {
	v := newFakeVendor(t, func(v *fakeVendor, send func([]byte)) {
		v.waitAppend()
		send(schema.EncodeInteractionQuery("web_search"))
		send(schema.EncodeTurnEnded())
	})

	s := openTestSession(t, v, SessionConfig{})
	events := collect(t, s)

	var sawQuery bool
	for _, ev := range events {
		if ev.Type == EventInteractionQuery && ev.Query == "web_search" {
			sawQuery = true
		}
	}
	if !sawQuery {
		t.Error("interaction query not surfaced")
	}
}

func TestSession_ToolCallLifecycleSurfaced(t *testing.T) {
	payload, err := schema.EncodeToolCallPayload(&schema.ToolCall{
		FieldNum: 3,
		Name:     "write",
		Args:     map[string]any{"path": "/tmp/f", "content": "x"},
	})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}

	v := newFakeVendor(t, func(v *fakeVendor, send func([]byte)) {
		v.waitAppend()
		send(schema.EncodeToolCallStarted("call-1", "model-call-1", payload))
		send(schema.EncodePartialToolCall("call-1", `{"path":`))
		send(schema.EncodeToolCallCompleted("call-1", "model-call-1", payload))
		send(schema.EncodeTurnEnded())
	})

	s := openTestSession(t, v, SessionConfig{})
	events := collect(t, s)

	var started, partial, completed bool
	for _, ev := range events {
		switch ev.Type {
		case EventToolCallStarted:
			started = true
			if ev.Tool.CallID != "call-1" || ev.Tool.Call == nil || ev.Tool.Call.Name != "write" {
				t.Errorf("started: %+v", ev.Tool)
			}
		case EventPartialToolCall:
			partial = true
			if ev.Tool.ArgsDelta != `{"path":` {
				t.Errorf("partial: %+v", ev.Tool)
			}
		case EventToolCallCompleted:
			completed = true
		}
	}
	if !started || !partial || !completed {
		t.Errorf("lifecycle: started=%v partial=%v completed=%v", started, partial, completed)
	}
}

// === Edit-pending flag ===

func TestSession_EditPendingConsumeOnce(t *testing.T) {
	v := newFakeVendor(t, func(v *fakeVendor, send func([]byte)) {
		v.waitAppend()
		send(schema.EncodeTurnEnded())
	})
	s := openTestSession(t, v, SessionConfig{})
	collect(t, s)

	if s.ConsumeEditPending() {
		t.Error("flag must start clear")
	}
	s.MarkEditPending()
	if !s.ConsumeEditPending() {
		t.Error("flag was set")
	}
	if s.ConsumeEditPending() {
		t.Error("consume must clear the flag")
	}
	s.MarkEditPending()
	s.ClearEditPending()
	if s.ConsumeEditPending() {
		t.Error("clear must drop the flag")
	}
}

// === Phases ===

func TestPhaseTracker_ValidPaths(t *testing.T) {
	tests := []struct {
		name string
		path []Phase
	}{
		{"open -> stream -> done", []Phase{PhaseStreaming, PhaseTerminated}},
		{"open -> stream -> park -> done", []Phase{PhaseStreaming, PhaseWaitingToolResult, PhaseTerminated}},
		{"open -> done", []Phase{PhaseTerminated}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPhaseTracker(testLogger())
			for _, next := range tt.path {
				if err := p.To(next); err != nil {
					t.Fatalf("transition to %s: %v", next, err)
				}
			}
		})
	}
}

func TestPhaseTracker_InvalidTransitions(t *testing.T) {
	p := newPhaseTracker(testLogger())
	if err := p.To(PhaseWaitingToolResult); err == nil {
		t.Error("opening cannot park")
	}
	p.To(PhaseStreaming)
	p.To(PhaseTerminated)
	if err := p.To(PhaseStreaming); err == nil {
		t.Error("terminated is terminal")
	}
	if !p.Terminal() {
		t.Error("Terminal() after termination")
	}
}

// === Pending execs ===

func TestSession_PendingExecBookkeeping(t *testing.T) {
	v := newFakeVendor(t, func(v *fakeVendor, send func([]byte)) {
		v.waitAppend()
		send(schema.EncodeTurnEnded())
	})
	s := openTestSession(t, v, SessionConfig{})
	collect(t, s)

	req := &schema.ExecRequest{ID: 5, Kind: schema.ExecShell}
	s.RecordPendingExec("call_abc_0", req)

	got, ok := s.TakePendingExec("call_abc_0")
	if !ok || got.ID != 5 {
		t.Errorf("take: %+v %v", got, ok)
	}
	if _, ok := s.TakePendingExec("call_abc_0"); ok {
		t.Error("take must remove the entry")
	}
}
