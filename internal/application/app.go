package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opencursor/opencursor/gateway/internal/infrastructure/cursor"
	"github.com/opencursor/opencursor/gateway/internal/infrastructure/cursor/schema"
	"github.com/opencursor/opencursor/gateway/internal/infrastructure/exec"
)

// Gateway bundles the per-process collaborators a chat-completion request
// needs: the vendor transport, the local exec handler, and the environment
// descriptor. Sessions are per-request; everything here is shared read-only.
type Gateway struct {
	transport      *cursor.Transport
	execHandler    *exec.Handler
	env            schema.EnvInfo
	defaultModel   string
	sessionTimeout time.Duration
	logger         *zap.Logger
}

// Config configures the gateway application.
type Config struct {
	Transport      *cursor.Transport
	ExecHandler    *exec.Handler
	Env            schema.EnvInfo
	DefaultModel   string
	SessionTimeout time.Duration
}

// NewGateway creates the application layer.
func NewGateway(cfg Config, logger *zap.Logger) *Gateway {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	return &Gateway{
		transport:      cfg.Transport,
		execHandler:    cfg.ExecHandler,
		env:            cfg.Env,
		defaultModel:   cfg.DefaultModel,
		sessionTimeout: cfg.SessionTimeout,
		logger:         logger,
	}
}

// OpenSession starts one fresh vendor turn for the flattened prompt.
// "auto" and the empty string select the configured default model.
func (g *Gateway) OpenSession(ctx context.Context, prompt, modelID string) (*cursor.Session, error) {
	if modelID == "" || modelID == "auto" {
		modelID = g.defaultModel
	}
	return cursor.Open(ctx, g.transport, cursor.SessionConfig{
		Prompt:  prompt,
		ModelID: modelID,
		Env:     g.env,
		Timeout: g.sessionTimeout,
	}, g.logger)
}

// Exec returns the local exec handler.
func (g *Gateway) Exec() *exec.Handler {
	return g.execHandler
}

// Env returns the environment descriptor shared with the vendor.
func (g *Gateway) Env() schema.EnvInfo {
	return g.env
}
