// Package faults provides structured error classification for orchestration
// failures: resource limits, timeouts, agent subprocess failures, and rate
// limiting. The classification drives the engine's recovery policy.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Kind represents a category of orchestration failure.
type Kind int8

const (
	// KindConcurrencyExceeded means the resource manager's in-flight cap was
	// reached before the operation could start. The caller must not retry
	// immediately.
	KindConcurrencyExceeded Kind = iota
	// KindOperationTimedOut means the operation lost the race against its
	// deadline. The subprocess, if any, has been forcibly terminated.
	KindOperationTimedOut
	// KindAgentProcessFailed means the agent subprocess exited nonzero.
	KindAgentProcessFailed
	// KindAgentProducedNoOutput means the subprocess exited cleanly without
	// emitting a single output line.
	KindAgentProducedNoOutput
	// KindAgentOutputMalformed means an output line failed structured parsing.
	KindAgentOutputMalformed
	// KindRateLimited means the failure text matched a rate-limit phrase.
	// Never fatal; the recovery policy absorbs it with a cooldown.
	KindRateLimited
	// KindRecoveryExhausted means all recovery attempts failed. Fatal.
	KindRecoveryExhausted
	// KindUnknown is the default for unclassified failures.
	KindUnknown
)

// String returns the string representation of the fault kind.
func (k Kind) String() string {
	switch k {
	case KindConcurrencyExceeded:
		return "concurrency_exceeded"
	case KindOperationTimedOut:
		return "operation_timed_out"
	case KindAgentProcessFailed:
		return "agent_process_failed"
	case KindAgentProducedNoOutput:
		return "agent_no_output"
	case KindAgentOutputMalformed:
		return "agent_output_malformed"
	case KindRateLimited:
		return "rate_limited"
	case KindRecoveryExhausted:
		return "recovery_exhausted"
	case KindUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified orchestration failure.
type Error struct {
	Err      error  // Wrapped underlying error
	Message  string // Human-readable message
	Output   string // Diagnostic subprocess output, possibly truncated
	Kind     Kind   // Classified fault kind
	ExitCode int    // Subprocess exit code if applicable
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind.String(), e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified fault.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified fault with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCause creates a classified fault wrapping another error.
func WithCause(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Err: cause, Message: message}
}

// Is checks whether err is a fault of the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf returns the fault kind of err, or KindUnknown if unclassified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// rateLimitPhrases are matched case-insensitively against failure diagnostics.
var rateLimitPhrases = []string{"rate limit", "too many requests"} //nolint:gochecknoglobals

// IsRateLimitText reports whether the diagnostic text contains a rate-limit
// phrase. The check is a substring heuristic over combined stdout/stderr,
// matching what the agent CLI actually prints when throttled.
func IsRateLimitText(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether err is a rate-limit fault, checking both the
// classified kind and the diagnostic text of process failures.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, KindRateLimited) {
		return true
	}
	var fe *Error
	if errors.As(err, &fe) {
		return IsRateLimitText(fe.Message) || IsRateLimitText(fe.Output)
	}
	return IsRateLimitText(err.Error())
}

// TruncateSample shortens raw diagnostic text for inclusion in errors.
func TruncateSample(raw string, maxLen int) string {
	if len(raw) <= maxLen {
		return raw
	}
	return raw[:maxLen] + "...[truncated]"
}
