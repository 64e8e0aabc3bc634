package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/opencursor/opencursor/gateway/internal/application"
	"github.com/opencursor/opencursor/gateway/internal/infrastructure/cursor"
	"github.com/opencursor/opencursor/gateway/internal/infrastructure/cursor/schema"
	apperrors "github.com/opencursor/opencursor/gateway/pkg/errors"
)

// OpenAIHandler implements the OpenAI chat-completions compatible API on top
// of one fresh vendor turn per request.
type OpenAIHandler struct {
	gateway *application.Gateway
	logger  *zap.Logger
	models  []OpenAIModel
}

// NewOpenAIHandler creates a new OpenAI-compatible handler.
func NewOpenAIHandler(gateway *application.Gateway, models []OpenAIModel, logger *zap.Logger) *OpenAIHandler {
	if len(models) == 0 {
		models = []OpenAIModel{
			{ID: "auto", Object: "model", Created: time.Now().Unix(), OwnedBy: "cursor"},
		}
	}
	return &OpenAIHandler{
		gateway: gateway,
		logger:  logger,
		models:  models,
	}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, h.errorResponse(err.Error(), "invalid_request_error"))
		return
	}

	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, h.errorResponse("messages array must not be empty", "invalid_request_error"))
		return
	}

	if req.Stream {
		h.handleStream(c, &req)
		return
	}
	h.handleNonStream(c, &req)
}

// ListModels handles GET /v1/models.
func (h *OpenAIHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, ModelsResponse{
		Object: "list",
		Data:   h.models,
	})
}

// turnState tracks one HTTP response worth of translation.
type turnState struct {
	completionID  string
	created       int64
	model         string
	toolsProvided bool
	toolIndex     int
}

// handleStream processes streaming chat completions (SSE).
func (h *OpenAIHandler) handleStream(c *gin.Context, req *ChatCompletionRequest) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	st := &turnState{
		completionID:  application.NewCompletionID(),
		created:       time.Now().Unix(),
		model:         req.Model,
		toolsProvided: len(req.Tools) > 0,
	}

	// Role delta first.
	h.writeSSEChunk(c.Writer, ChatStreamChunk{
		ID:      st.completionID,
		Object:  "chat.completion.chunk",
		Created: st.created,
		Model:   st.model,
		Choices: []ChatStreamChoice{{Index: 0, Delta: ChatStreamDelta{Role: "assistant"}}},
	})
	c.Writer.Flush()

	prompt := FlattenPrompt(req.Messages)
	session, err := h.gateway.OpenSession(c.Request.Context(), prompt, req.Model)
	if err != nil {
		h.logger.Error("Failed to open vendor session", zap.Error(err))
		h.writeSSEError(c.Writer, err)
		h.writeSSEDone(c.Writer)
		return
	}
	defer session.Close()

	for ev := range session.Events() {
		switch ev.Type {
		case cursor.EventText:
			h.writeSSEChunk(c.Writer, ChatStreamChunk{
				ID:      st.completionID,
				Object:  "chat.completion.chunk",
				Created: st.created,
				Model:   st.model,
				Choices: []ChatStreamChoice{{Index: 0, Delta: ChatStreamDelta{Content: ev.Content}}},
			})
			c.Writer.Flush()

		case cursor.EventThinking, cursor.EventHeartbeat, cursor.EventPartialToolCall:
			// Not part of the OpenAI surface.

		case cursor.EventInteractionQuery:
			h.logger.Debug("Interaction query (informational)", zap.String("query", ev.Query))

		case cursor.EventToolCallStarted:
			if ev.Tool != nil && ev.Tool.Call != nil && application.IsFileModifyingTool(ev.Tool.Call.Name) {
				session.MarkEditPending()
			}

		case cursor.EventToolCallCompleted:
			if ev.Tool != nil && ev.Tool.Call != nil && application.IsFileModifyingTool(ev.Tool.Call.Name) {
				session.ClearEditPending()
			}

		case cursor.EventExecRequest:
			done, err := h.handleExec(c, session, st, ev.Exec)
			if err != nil {
				h.writeSSEError(c.Writer, err)
				h.writeSSEDone(c.Writer)
				return
			}
			if done {
				h.writeSSEDone(c.Writer)
				return
			}

		case cursor.EventCheckpoint:
			// Terminal; the session yields Done next.

		case cursor.EventError:
			h.writeSSEError(c.Writer, ev.Err)
			h.writeSSEDone(c.Writer)
			return

		case cursor.EventDone:
			h.writeSSEFinish(c.Writer, st, "stop")
			h.writeSSEDone(c.Writer)
			return
		}
	}

	// Channel closed without a terminal event (client cancel): nothing to do.
}

// handleExec routes one exec request: serve it locally, or bridge it to the
// client as a tool call and finish the response. done=true means the SSE
// stream is complete (finish chunk already written).
func (h *OpenAIHandler) handleExec(c *gin.Context, session *cursor.Session, st *turnState, req *schema.ExecRequest) (bool, error) {
	// Edit-read coupling: a read that belongs to an in-flight file edit is
	// served locally even when tools are provided.
	if req.Kind == schema.ExecRead && session.ConsumeEditPending() {
		return false, h.execLocally(c, session, req)
	}

	if st.toolsProvided {
		call, err := application.BridgeExec(req, st.completionID, st.toolIndex)
		if err != nil {
			return false, apperrors.NewInternalErrorWithCause("bridge exec request", err)
		}
		st.toolIndex++
		session.RecordPendingExec(call.ToolCallID, req)

		h.writeSSEChunk(c.Writer, ChatStreamChunk{
			ID:      st.completionID,
			Object:  "chat.completion.chunk",
			Created: st.created,
			Model:   st.model,
			Choices: []ChatStreamChoice{{Index: 0, Delta: ChatStreamDelta{
				ToolCalls: []ToolCall{{
					Index: 0,
					ID:    call.ToolCallID,
					Type:  "function",
					Function: ToolCallFunc{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				}},
			}}},
		})
		c.Writer.Flush()

		h.writeSSEFinish(c.Writer, st, "tool_calls")
		session.Park()
		return true, nil
	}

	// Bare chat client: built-ins run locally, MCP cannot.
	if req.Kind == schema.ExecMCP {
		return false, apperrors.NewProtocolViolation("vendor requested an MCP tool but the client provided no tools")
	}
	if !h.gateway.Exec().CanHandle(req) {
		return false, apperrors.NewProtocolViolation(
			fmt.Sprintf("vendor requested exec kind %q which cannot run locally", req.Kind))
	}
	return false, h.execLocally(c, session, req)
}

// execLocally runs the exec and appends its result to the ongoing turn.
func (h *OpenAIHandler) execLocally(c *gin.Context, session *cursor.Session, req *schema.ExecRequest) error {
	res, err := h.gateway.Exec().Handle(c.Request.Context(), req)
	if err != nil {
		return err
	}
	return session.SendExecResult(c.Request.Context(), res)
}

// handleNonStream processes non-streaming chat completions.
func (h *OpenAIHandler) handleNonStream(c *gin.Context, req *ChatCompletionRequest) {
	st := &turnState{
		completionID:  application.NewCompletionID(),
		created:       time.Now().Unix(),
		model:         req.Model,
		toolsProvided: len(req.Tools) > 0,
	}

	prompt := FlattenPrompt(req.Messages)
	session, err := h.gateway.OpenSession(c.Request.Context(), prompt, req.Model)
	if err != nil {
		h.logger.Error("Failed to open vendor session", zap.Error(err))
		c.JSON(http.StatusBadGateway, h.errorResponse(err.Error(), "upstream_error"))
		return
	}
	defer session.Close()

	var content string
	var toolCalls []ToolCall
	finishReason := "stop"

	for ev := range session.Events() {
		switch ev.Type {
		case cursor.EventText:
			content += ev.Content

		case cursor.EventToolCallStarted:
			if ev.Tool != nil && ev.Tool.Call != nil && application.IsFileModifyingTool(ev.Tool.Call.Name) {
				session.MarkEditPending()
			}

		case cursor.EventToolCallCompleted:
			if ev.Tool != nil && ev.Tool.Call != nil && application.IsFileModifyingTool(ev.Tool.Call.Name) {
				session.ClearEditPending()
			}

		case cursor.EventExecRequest:
			execReq := ev.Exec
			if execReq.Kind == schema.ExecRead && session.ConsumeEditPending() {
				if err := h.execLocally(c, session, execReq); err != nil {
					c.JSON(http.StatusBadGateway, h.errorResponse(err.Error(), "upstream_error"))
					return
				}
				continue
			}
			if st.toolsProvided {
				call, err := application.BridgeExec(execReq, st.completionID, st.toolIndex)
				if err != nil {
					c.JSON(http.StatusBadGateway, h.errorResponse(err.Error(), "upstream_error"))
					return
				}
				st.toolIndex++
				session.RecordPendingExec(call.ToolCallID, execReq)
				toolCalls = append(toolCalls, ToolCall{
					ID:   call.ToolCallID,
					Type: "function",
					Function: ToolCallFunc{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
				finishReason = "tool_calls"
				session.Park()
				goto respond
			}
			if execReq.Kind == schema.ExecMCP || !h.gateway.Exec().CanHandle(execReq) {
				c.JSON(http.StatusBadGateway, h.errorResponse(
					fmt.Sprintf("vendor requested exec kind %q without client tools", execReq.Kind), "upstream_error"))
				return
			}
			if err := h.execLocally(c, session, execReq); err != nil {
				c.JSON(http.StatusBadGateway, h.errorResponse(err.Error(), "upstream_error"))
				return
			}

		case cursor.EventError:
			c.JSON(http.StatusBadGateway, h.errorResponse(ev.Err.Error(), "upstream_error"))
			return

		case cursor.EventDone:
			goto respond
		}
	}

respond:
	c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:      st.completionID,
		Object:  "chat.completion",
		Created: st.created,
		Model:   st.model,
		Choices: []ChatChoice{{
			Index: 0,
			Message: ResponseMessage{
				Role:      "assistant",
				Content:   content,
				ToolCalls: toolCalls,
			},
			FinishReason: finishReason,
		}},
		Usage: &ChatUsage{
			PromptTokens:     estimateTokens(prompt),
			CompletionTokens: estimateTokens(content),
			TotalTokens:      estimateTokens(prompt) + estimateTokens(content),
		},
	})
}

// writeSSEChunk writes a single SSE event.
func (h *OpenAIHandler) writeSSEChunk(w io.Writer, chunk ChatStreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		h.logger.Error("Failed to marshal SSE chunk", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// writeSSEFinish writes the terminal content-bearing chunk.
func (h *OpenAIHandler) writeSSEFinish(w gin.ResponseWriter, st *turnState, reason string) {
	h.writeSSEChunk(w, ChatStreamChunk{
		ID:      st.completionID,
		Object:  "chat.completion.chunk",
		Created: st.created,
		Model:   st.model,
		Choices: []ChatStreamChoice{{Index: 0, Delta: ChatStreamDelta{}, FinishReason: &reason}},
	})
	w.Flush()
}

// writeSSEError emits a mid-stream error object.
func (h *OpenAIHandler) writeSSEError(w gin.ResponseWriter, err error) {
	payload, marshalErr := json.Marshal(gin.H{
		"error": gin.H{
			"message": err.Error(),
			"type":    string(apperrors.CodeOf(err)),
		},
	})
	if marshalErr != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	w.Flush()
}

// writeSSEDone terminates the SSE stream.
func (h *OpenAIHandler) writeSSEDone(w gin.ResponseWriter) {
	io.WriteString(w, "data: [DONE]\n\n")
	w.Flush()
}

// errorResponse constructs an OpenAI-compatible error body.
func (h *OpenAIHandler) errorResponse(message, errType string) gin.H {
	return gin.H{
		"error": gin.H{
			"message": message,
			"type":    errType,
		},
	}
}
