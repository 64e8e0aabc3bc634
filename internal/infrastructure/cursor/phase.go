package cursor

import (
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/opencursor/opencursor/gateway/pkg/errors"
)

// Phase represents the discrete states of one vendor turn.
type Phase string

const (
	PhaseOpening           Phase = "opening"             // stream not yet established
	PhaseStreaming         Phase = "streaming"           // frames flowing
	PhaseWaitingToolResult Phase = "waiting_tool_result" // parked after forwarding a tool call
	PhaseTerminated        Phase = "terminated"
)

// validTransitions defines the allowed phase transitions.
// Key = from phase, value = set of allowed target phases.
var validTransitions = map[Phase]map[Phase]bool{
	PhaseOpening: {
		PhaseStreaming:  true,
		PhaseTerminated: true,
	},
	PhaseStreaming: {
		PhaseWaitingToolResult: true,
		PhaseTerminated:        true,
	},
	PhaseWaitingToolResult: {
		PhaseTerminated: true,
	},
	// Terminal — no transitions out.
	PhaseTerminated: {},
}

// phaseTracker guards the session phase. Thread-safe; multiple goroutines
// read the phase concurrently while the reader and the consumer drive it.
type phaseTracker struct {
	mu     sync.RWMutex
	phase  Phase
	logger *zap.Logger
}

func newPhaseTracker(logger *zap.Logger) *phaseTracker {
	return &phaseTracker{phase: PhaseOpening, logger: logger}
}

// Phase returns the current phase.
func (p *phaseTracker) Phase() Phase {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.phase
}

// Terminal reports whether the session has terminated.
func (p *phaseTracker) Terminal() bool {
	return p.Phase() == PhaseTerminated
}

// To transitions to next, rejecting transitions the protocol never makes.
// Re-entering the current phase is a no-op.
func (p *phaseTracker) To(next Phase) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase == next {
		return nil
	}
	if !validTransitions[p.phase][next] {
		return apperrors.NewProtocolViolation("invalid phase transition " + string(p.phase) + " -> " + string(next))
	}
	p.logger.Debug("Session phase transition",
		zap.String("from", string(p.phase)),
		zap.String("to", string(next)),
	)
	p.phase = next
	return nil
}
