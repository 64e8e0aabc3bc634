// Package exec runs vendor exec requests locally (shell, read, ls, grep,
// glob, write, request-context) and shapes the results for the append
// channel. MCP requests are never executed here; the tool bridge forwards
// them.
package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opencursor/opencursor/gateway/internal/infrastructure/cursor/schema"
	apperrors "github.com/opencursor/opencursor/gateway/pkg/errors"
)

// Handler executes exec requests against the local machine.
type Handler struct {
	workDir string
	env     schema.EnvInfo
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler creates a local exec handler rooted at workDir.
func NewHandler(workDir string, env schema.EnvInfo, logger *zap.Logger) *Handler {
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	return &Handler{
		workDir: workDir,
		env:     env,
		timeout: 60 * time.Second,
		logger:  logger.With(zap.String("component", "exec-handler")),
	}
}

// CanHandle reports whether req is executable locally.
func (h *Handler) CanHandle(req *schema.ExecRequest) bool {
	switch req.Kind {
	case schema.ExecShell, schema.ExecBgShell, schema.ExecRead, schema.ExecLs,
		schema.ExecGrep, schema.ExecWrite, schema.ExecRequestContext:
		return true
	}
	return false
}

// Handle runs req and returns its result message. Execution failures land in
// the result's error branch, not in the returned error; only requests this
// handler cannot serve at all produce an error.
func (h *Handler) Handle(ctx context.Context, req *schema.ExecRequest) (*schema.ExecResult, error) {
	res := &schema.ExecResult{ID: req.ID, ExecID: req.ExecID, Kind: req.Kind}

	h.logger.Info("Executing local exec request",
		zap.Uint32("id", req.ID),
		zap.String("kind", string(req.Kind)),
	)

	switch req.Kind {
	case schema.ExecShell, schema.ExecBgShell:
		res.Kind = schema.ExecShell
		res.Shell = h.runShell(ctx, req.Args)
	case schema.ExecRead:
		h.runRead(req.Args, res)
	case schema.ExecLs:
		h.runLs(req.Args, res)
	case schema.ExecGrep:
		h.runGrep(ctx, req.Args, res)
	case schema.ExecWrite:
		h.runWrite(req.Args, res)
	case schema.ExecRequestContext:
		env := h.env
		res.Context = &env
	default:
		return nil, apperrors.NewHandlerError(
			fmt.Sprintf("exec kind %s cannot run locally", req.Kind), nil)
	}
	return res, nil
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// runShell spawns `/bin/sh -c command` and captures the outcome. A nonzero
// exit code is an outcome, not an error.
func (h *Handler) runShell(ctx context.Context, args map[string]any) *schema.ShellOutcome {
	command := argString(args, "command")
	cwd := argString(args, "cwd")
	if cwd == "" {
		cwd = h.workDir
	}

	timeout := h.timeout
	if ms, ok := args["timeout_ms"].(int64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := osexec.CommandContext(execCtx, "/bin/sh", "-c", command)
	cmd.Dir = cwd
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	outcome := &schema.ShellOutcome{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		var exitErr *osexec.ExitError
		switch {
		case errors.As(err, &exitErr):
			outcome.ExitCode = exitErr.ExitCode()
		default:
			outcome.ExitCode = -1
			if outcome.Stderr == "" {
				outcome.Stderr = err.Error()
			}
		}
		h.logger.Warn("Shell command failed",
			zap.Int("exit_code", outcome.ExitCode),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return outcome
}

func (h *Handler) runRead(args map[string]any, res *schema.ExecResult) {
	path := h.resolve(argString(args, "path"))
	data, err := os.ReadFile(path)
	if err != nil {
		res.Err = &schema.ExecError{Path: path, Message: err.Error()}
		return
	}
	content := string(data)
	res.Read = &schema.ReadOutcome{
		Content:    content,
		TotalLines: countLines(content),
		FileSize:   int64(len(data)),
		Truncated:  false,
	}
}

func (h *Handler) runLs(args map[string]any, res *schema.ExecResult) {
	path := h.resolve(argString(args, "path"))
	entries, err := os.ReadDir(path)
	if err != nil {
		res.Err = &schema.ExecError{Path: path, Message: err.Error()}
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	res.Ls = &schema.LsOutcome{Listing: strings.Join(names, "\n")}
}

// runGrep matches filenames when a glob pattern is set; otherwise it shells
// out to grep for content search.
func (h *Handler) runGrep(ctx context.Context, args map[string]any, res *schema.ExecResult) {
	root := h.resolve(argString(args, "path"))
	if glob := argString(args, "glob"); glob != "" {
		matches := h.globFiles(root, glob)
		res.Grep = &schema.GrepOutcome{Files: matches, Count: len(matches)}
		return
	}

	pattern := argString(args, "pattern")
	execCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := osexec.CommandContext(execCtx, "grep", "-rl", "--", pattern, root)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *osexec.ExitError
		// grep exits 1 on "no matches"; that is an empty result.
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
			res.Err = &schema.ExecError{Path: root, Message: err.Error()}
			return
		}
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	res.Grep = &schema.GrepOutcome{Files: files, Count: len(files)}
}

func (h *Handler) globFiles(root, pattern string) []string {
	var matches []string
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			matches = append(matches, path)
		}
		return nil
	})
	return matches
}

func (h *Handler) runWrite(args map[string]any, res *schema.ExecResult) {
	path := h.resolve(argString(args, "path"))
	content := argString(args, "content")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		res.Err = &schema.ExecError{Path: path, Message: err.Error()}
		return
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		res.Err = &schema.ExecError{Path: path, Message: err.Error()}
		return
	}
	out := &schema.WriteOutcome{
		Path:         path,
		LinesCreated: countLines(content),
		FileSize:     int64(len(content)),
	}
	if wantBack, _ := args["return_content"].(bool); wantBack {
		out.Content = content
	}
	res.Write = out
}

// resolve anchors relative paths at the handler's work dir.
func (h *Handler) resolve(path string) string {
	if path == "" {
		return h.workDir
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(h.workDir, path)
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
