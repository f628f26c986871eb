package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/nikitparakh/auto-claude-docker/pkg/claude"
	"github.com/nikitparakh/auto-claude-docker/pkg/feedback"
	"github.com/nikitparakh/auto-claude-docker/pkg/session"
)

// Timeout multipliers per phase, applied to the configured default.
// Implementation does the heavy lifting; testing runs suites; the rest are
// conversational.
var phaseTimeoutFactor = map[session.Phase]float64{
	session.PhasePlanning:       1.0,
	session.PhaseImplementation: 2.0,
	session.PhaseTesting:        1.5,
	session.PhaseCritique:       1.0,
	session.PhaseCompletion:     1.0,
}

// recoveryTimeoutFactor shortens recovery attempts; they ask for a quick
// assessment, not a full work phase.
const recoveryTimeoutFactor = 0.5

// phaseTimeout returns the operation timeout for a phase.
func phaseTimeout(base time.Duration, phase session.Phase) time.Duration {
	factor, ok := phaseTimeoutFactor[phase]
	if !ok {
		factor = 1.0
	}
	return time.Duration(float64(base) * factor)
}

// failureIndicators drive the testing-phase scan. The match is a plain
// substring check: output mentioning "0 errors" still routes to critique.
var failureIndicators = []string{"fail", "error", "critical"}

// TestingIndicatesIssues scans the result texts of a testing run for failure
// indicators, case-insensitively.
func TestingIndicatesIssues(resultTexts []string) bool {
	combined := strings.ToLower(strings.Join(resultTexts, "\n"))
	for _, indicator := range failureIndicators {
		if strings.Contains(combined, indicator) {
			return true
		}
	}
	return false
}

// classifyOutcome maps a completed invocation to a transition outcome. Only
// the testing phase branches.
func classifyOutcome(phase session.Phase, result *claude.InvocationResult) session.Outcome {
	if phase == session.PhaseTesting && TestingIndicatesIssues(claude.ResultTexts(result.Turns)) {
		return session.OutcomeIssuesFound
	}
	return session.OutcomeAdvance
}

// phasePrompt builds the base instruction for a phase before feedback is
// merged in.
func (e *Engine) phasePrompt(phase session.Phase) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", e.state.Goal)
	fmt.Fprintf(&b, "Iteration %d of %d.\n\n", e.state.Iteration+1, e.state.MaxIterations)

	switch phase {
	case session.PhasePlanning:
		b.WriteString("Plan how to accomplish the goal. Break it into concrete steps, " +
			"identify the files involved, and state the order of work. Do not write code yet.")
	case session.PhaseImplementation:
		b.WriteString("Implement the next portion of the plan. Write the code, keep changes " +
			"focused, and note anything you had to defer.")
		if e.lastCritique != "" {
			b.WriteString("\n\nAddress the issues raised in the last review:\n" + e.lastCritique)
		}
	case session.PhaseTesting:
		b.WriteString("Run the test suite and any relevant checks for the work so far. " +
			"Report results verbatim, including failures.")
	case session.PhaseCritique:
		b.WriteString("Review the current state of the work critically. The last test run " +
			"reported problems:\n" + e.lastResult + "\n\nList concrete defects and how to fix them.")
	case session.PhaseCompletion:
		b.WriteString("Wrap up. Summarize what was accomplished, what remains, and verify " +
			"the work is in a consistent state.")
	}
	return b.String()
}

// recoveryPrompt asks the agent to assess and repair after a failed phase.
func (e *Engine) recoveryPrompt(phase session.Phase, cause string) string {
	return fmt.Sprintf("The previous %s operation failed: %s\n\n"+
		"Assess the current state of the work, repair anything left inconsistent, "+
		"and report whether it is safe to continue.", phase, cause)
}

// promptBuilder returns the prompt constructor handed to the runner. It is
// re-invoked on every process launch, so feedback that arrives mid-invocation
// is folded into the restarted prompt.
func (e *Engine) promptBuilder(phase session.Phase) func() string {
	return func() string {
		prompt := e.phasePrompt(phase)
		entries := e.drainFeedback()
		if len(entries) == 0 {
			return prompt
		}
		return prompt + "\n\n" + formatFeedback(entries)
	}
}

// formatFeedback renders drained entries as a high-priority addendum.
func formatFeedback(entries []feedback.Entry) string {
	var b strings.Builder
	b.WriteString("HIGH PRIORITY feedback from the user. Address this before anything else:\n")
	for _, entry := range entries {
		fmt.Fprintf(&b, "- [%s] %s\n", entry.AuthorTag, entry.Content)
		for _, att := range entry.Attachments {
			fmt.Fprintf(&b, "  attachment: %s (%s)\n", att.Name, att.URL)
		}
	}
	return b.String()
}
