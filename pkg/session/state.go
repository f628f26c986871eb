// Package session defines the durable session record and the phase state
// machine that drives the orchestration loop.
package session

import (
	"fmt"
	"time"
)

// Phase is one named stage of the autonomous workflow.
type Phase string

// Phase constants - single source of truth for phase names. Values are
// lower-case because they are persisted in the session file and run journal.
const (
	PhasePlanning       Phase = "planning"
	PhaseImplementation Phase = "implementation"
	PhaseTesting        Phase = "testing"
	PhaseCritique       Phase = "critique"
	PhaseCompletion     Phase = "completion"
	PhaseError          Phase = "error"
)

// PhaseTransitions defines the canonical transition map for the engine.
// This is the single source of truth; code and tests must match it exactly.
//
//nolint:gochecknoglobals // Canonical state machine table
var PhaseTransitions = map[Phase][]Phase{
	// PLANNING captures the session handle then hands off to implementation.
	PhasePlanning: {PhaseImplementation, PhaseError},

	// IMPLEMENTATION always proceeds to testing.
	PhaseImplementation: {PhaseTesting, PhaseError},

	// TESTING routes on the failure-indicator scan: issues found → critique,
	// clean → completion.
	PhaseTesting: {PhaseCritique, PhaseCompletion, PhaseError},

	// CRITIQUE sends the run back for another implementation pass.
	PhaseCritique: {PhaseImplementation, PhaseError},

	// ERROR is entered on a hard failure and leaves back to the phase that
	// was active when the failure occurred.
	PhaseError: {PhasePlanning, PhaseImplementation, PhaseTesting, PhaseCritique, PhaseCompletion},

	// COMPLETION is terminal on success, but a failed completion operation
	// still routes through error for recovery.
	PhaseCompletion: {PhaseError},
}

// IsValidTransition checks whether from → to is an edge of the canonical map.
func IsValidTransition(from, to Phase) bool {
	allowed, exists := PhaseTransitions[from]
	if !exists {
		return false
	}
	for _, p := range allowed {
		if p == to {
			return true
		}
	}
	return false
}

// ValidPhases returns all phases of the canonical map.
func ValidPhases() []Phase {
	return []Phase{
		PhasePlanning, PhaseImplementation, PhaseTesting,
		PhaseCritique, PhaseCompletion, PhaseError,
	}
}

// IsValidPhase checks whether p names a known phase.
func IsValidPhase(p Phase) bool {
	for _, v := range ValidPhases() {
		if v == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether p ends the loop.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompletion
}

// Outcome is the result classification a completed phase operation maps to.
type Outcome int8

const (
	// OutcomeAdvance means the phase completed and the run moves forward.
	OutcomeAdvance Outcome = iota
	// OutcomeIssuesFound means the testing scan detected failure indicators.
	OutcomeIssuesFound
)

// Next is the pure transition function: given the current phase and the
// operation outcome it returns the next phase. It involves no I/O and is the
// only place forward edges are decided.
func Next(p Phase, o Outcome) Phase {
	switch p {
	case PhasePlanning:
		return PhaseImplementation
	case PhaseImplementation:
		return PhaseTesting
	case PhaseTesting:
		if o == OutcomeIssuesFound {
			return PhaseCritique
		}
		return PhaseCompletion
	case PhaseCritique:
		return PhaseImplementation
	case PhaseCompletion, PhaseError:
		return p
	default:
		return p
	}
}

// ErrorEntry is one entry of the append-only error audit trail.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     Phase     `json:"phase"`
	Message   string    `json:"message"`
	Recovered bool      `json:"recovered"`
}

// Metrics counts phase operations over the lifetime of the run.
type Metrics struct {
	TotalOperations      int `json:"total_operations"`
	SuccessfulOperations int `json:"successful_operations"`
	FailedOperations     int `json:"failed_operations"`
}

// State is the single mutable session record for one run. It is owned and
// mutated exclusively by the phase engine; other components receive it only
// as read context.
//
//nolint:govet // field order follows the session file layout, not alignment
type State struct {
	RunID         string       `json:"run_id"`
	SessionHandle string       `json:"session_handle,omitempty"`
	Goal          string       `json:"goal"`
	Phase         Phase        `json:"phase"`
	Iteration     int          `json:"iteration"`
	MaxIterations int          `json:"max_iterations"`
	Errors        []ErrorEntry `json:"errors"`
	Metrics       Metrics      `json:"metrics"`
	StartTime     time.Time    `json:"start_time"`
}

// NewState creates a fresh session record starting in planning.
func NewState(runID, goal string, maxIterations int) *State {
	return &State{
		RunID:         runID,
		Goal:          goal,
		Phase:         PhasePlanning,
		MaxIterations: maxIterations,
		StartTime:     time.Now().UTC(),
	}
}

// RecordError appends an unrecovered entry to the audit trail.
func (s *State) RecordError(phase Phase, message string) {
	s.Errors = append(s.Errors, ErrorEntry{
		Timestamp: time.Now().UTC(),
		Phase:     phase,
		Message:   message,
	})
}

// MarkLastErrorRecovered flags the most recent audit entry as recovered.
func (s *State) MarkLastErrorRecovered() {
	if len(s.Errors) == 0 {
		return
	}
	s.Errors[len(s.Errors)-1].Recovered = true
}

// Transition moves the session to the given phase, enforcing the canonical
// edge set.
func (s *State) Transition(to Phase) error {
	if !IsValidTransition(s.Phase, to) {
		return fmt.Errorf("invalid phase transition: %s -> %s", s.Phase, to)
	}
	s.Phase = to
	return nil
}

// Uptime returns the elapsed run time.
func (s *State) Uptime() time.Duration {
	return time.Since(s.StartTime)
}
