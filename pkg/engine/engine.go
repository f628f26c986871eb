// Package engine drives the phase loop: it dispatches agent operations,
// applies transitions, persists progress, and recovers from failures.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nikitparakh/auto-claude-docker/pkg/checkpoint"
	"github.com/nikitparakh/auto-claude-docker/pkg/claude"
	"github.com/nikitparakh/auto-claude-docker/pkg/config"
	"github.com/nikitparakh/auto-claude-docker/pkg/faults"
	"github.com/nikitparakh/auto-claude-docker/pkg/feedback"
	"github.com/nikitparakh/auto-claude-docker/pkg/logx"
	"github.com/nikitparakh/auto-claude-docker/pkg/metrics"
	"github.com/nikitparakh/auto-claude-docker/pkg/persistence"
	"github.com/nikitparakh/auto-claude-docker/pkg/resource"
	"github.com/nikitparakh/auto-claude-docker/pkg/session"
)

// rateLimitCooldown is how long the engine parks after the agent reports
// throttling. Cooldown waits do not consume recovery attempts.
const rateLimitCooldown = 30 * time.Minute

// backoffBase is the unit for exponential recovery backoff (base << attempt).
const backoffBase = time.Second

// AgentRunner invokes the external reasoning agent. *claude.Runner is the
// production implementation.
type AgentRunner interface {
	Invoke(ctx context.Context, buildPrompt func() string, resumeHandle string) (*claude.InvocationResult, error)
	RequestInterrupt()
}

// Options wires an Engine's collaborators.
type Options struct {
	Config      config.Config
	State       *session.State
	Store       *session.Store
	Queue       *feedback.Queue
	Runner      AgentRunner
	Resources   *resource.Manager
	Checkpoints *checkpoint.Manager
	Journal     chan<- *persistence.Request
	Notifier    Notifier
}

// Engine owns the session state and runs the phase loop to completion.
type Engine struct {
	cfg config.Config

	// mu guards state for readers on other goroutines (status, health).
	// The loop goroutine is the only writer.
	mu          sync.RWMutex
	state       *session.State
	store       *session.Store
	queue       *feedback.Queue
	runner      AgentRunner
	resources   *resource.Manager
	checkpoints *checkpoint.Manager
	journal     chan<- *persistence.Request
	notifier    Notifier
	logger      *logx.Logger

	// lastResult and lastCritique carry phase output into later prompts.
	lastResult   string
	lastCritique string

	// Overridable in tests.
	cooldown time.Duration
	backoff  time.Duration
}

// New creates an engine. Options.State, Store, Queue, Runner, Resources, and
// Checkpoints are required; Journal and Notifier may be nil.
func New(opts Options) *Engine {
	return &Engine{
		cfg:         opts.Config,
		state:       opts.State,
		store:       opts.Store,
		queue:       opts.Queue,
		runner:      opts.Runner,
		resources:   opts.Resources,
		checkpoints: opts.Checkpoints,
		journal:     opts.Journal,
		notifier:    opts.Notifier,
		logger:      logx.NewLogger("engine"),
		cooldown:    rateLimitCooldown,
		backoff:     backoffBase,
	}
}

// State returns the engine's session record. The engine is its only writer;
// callers must treat it as read-only.
func (e *Engine) State() *session.State {
	return e.state
}

// SubmitFeedback queues user guidance and preempts the live agent invocation
// so it restarts with the new input folded in.
func (e *Engine) SubmitFeedback(authorTag, content string, attachments []feedback.Attachment) string {
	id := e.queue.Enqueue(authorTag, content, attachments)
	metrics.FeedbackPending.Set(float64(e.queue.Size()))
	persistence.PersistFeedback(&persistence.FeedbackRecord{
		RunID:      e.state.RunID,
		FeedbackID: id,
		AuthorTag:  authorTag,
		Content:    content,
		ReceivedAt: time.Now().UTC(),
	}, e.journal)
	e.runner.RequestInterrupt()
	return id
}

// drainFeedback empties the queue and records injection in the journal.
func (e *Engine) drainFeedback() []feedback.Entry {
	entries := e.queue.DrainAll()
	metrics.FeedbackPending.Set(float64(e.queue.Size()))
	now := time.Now().UTC()
	for _, entry := range entries {
		persistence.PersistFeedback(&persistence.FeedbackRecord{
			RunID:      e.state.RunID,
			FeedbackID: entry.ID,
			AuthorTag:  entry.AuthorTag,
			Content:    entry.Content,
			ReceivedAt: entry.ReceivedAt,
			InjectedAt: &now,
		}, e.journal)
	}
	return entries
}

// Run executes the phase loop until completion, shutdown, or an unrecoverable
// failure. On context cancellation it checkpoints and returns ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Engine starting: run=%s phase=%s iteration=%d/%d",
		e.state.RunID, e.state.Phase, e.state.Iteration, e.state.MaxIterations)

	for {
		if err := ctx.Err(); err != nil {
			e.shutdown()
			return err
		}

		// The iteration cap forces one final wrap-up pass.
		if e.state.Iteration >= e.state.MaxIterations && !e.state.Phase.IsTerminal() {
			e.logger.Warn("Iteration cap reached (%d); forcing completion pass", e.state.MaxIterations)
			e.mu.Lock()
			e.state.Phase = session.PhaseCompletion
			e.mu.Unlock()
		}

		phase := e.state.Phase
		if err := e.runPhase(ctx, phase); err != nil {
			if errors.Is(err, ctx.Err()) && ctx.Err() != nil {
				e.shutdown()
				return ctx.Err()
			}
			if recErr := e.recoverFrom(ctx, phase, err); recErr != nil {
				e.persistAll(checkpoint.StatusError)
				return recErr
			}
			continue
		}

		if phase.IsTerminal() {
			e.logger.Info("Run %s completed after %d iterations (%s elapsed)",
				e.state.RunID, e.state.Iteration, e.state.Uptime().Round(time.Second))
			e.persistAll(checkpoint.StatusSuccess)
			return nil
		}
	}
}

// runPhase dispatches one phase operation through the resource manager and,
// on success, advances the session.
func (e *Engine) runPhase(ctx context.Context, phase session.Phase) error {
	timeout := phaseTimeout(e.cfg.DefaultTimeout(), phase)
	opID := fmt.Sprintf("%s-iter%d", phase, e.state.Iteration)

	e.logger.Info("Dispatching %s operation (timeout %s)", phase, timeout)
	start := time.Now()

	var result *claude.InvocationResult
	err := e.resources.Execute(ctx, opID, timeout, func(opCtx context.Context) error {
		res, invokeErr := e.runner.Invoke(opCtx, e.promptBuilder(phase), e.state.SessionHandle)
		if invokeErr != nil {
			return invokeErr
		}
		result = res
		return nil
	})

	e.mu.Lock()
	e.state.Metrics.TotalOperations++
	if err != nil {
		e.state.Metrics.FailedOperations++
	} else {
		e.state.Metrics.SuccessfulOperations++
	}
	e.mu.Unlock()
	metrics.OperationDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.OperationsTotal.WithLabelValues(string(phase), operationResult(err)).Inc()
		return err
	}

	metrics.OperationsTotal.WithLabelValues(string(phase), metrics.ResultSuccess).Inc()
	e.applyResult(phase, result)
	e.persistAll(checkpoint.StatusSuccess)
	return nil
}

// applyResult folds a successful invocation into the session.
func (e *Engine) applyResult(phase session.Phase, result *claude.InvocationResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// The first operation of a run names the conversation; later phases
	// resume it.
	if e.state.SessionHandle == "" && result.SessionHandle != "" {
		e.state.SessionHandle = result.SessionHandle
		e.logger.Info("Captured session handle %s", result.SessionHandle)
	}

	e.lastResult = result.ResultText()
	if phase == session.PhaseCritique {
		e.lastCritique = result.ResultText()
	}

	outcome := classifyOutcome(phase, result)
	next := session.Next(phase, outcome)
	if next != phase {
		if err := e.state.Transition(next); err != nil {
			// Next only produces canonical edges; this is a programming error.
			e.logger.Error("Transition rejected: %v", err)
			return
		}
	}
	e.state.Iteration++
	e.logger.Info("Phase %s complete (outcome=%d); next phase %s, iteration %d",
		phase, outcome, next, e.state.Iteration)
	e.notify(fmt.Sprintf("%s complete, moving to %s (iteration %d/%d)",
		phase, next, e.state.Iteration, e.state.MaxIterations))
}

// operationResult maps a dispatch error to a metrics label.
func operationResult(err error) string {
	if faults.Is(err, faults.KindOperationTimedOut) {
		return metrics.ResultTimeout
	}
	return metrics.ResultFailure
}

// persistAll saves the session file, journals progress, and writes a
// checkpoint. Persistence failures are logged, never fatal.
func (e *Engine) persistAll(status string) {
	if err := e.store.Save(e.state); err != nil {
		e.logger.Error("Failed to save session: %v", err)
	}
	persistence.PersistProgress(e.state.RunID, string(e.state.Phase), e.state.Iteration, e.journal)
	if _, err := e.checkpoints.Write(e.state, status); err != nil {
		e.logger.Error("Failed to write checkpoint: %v", err)
	}
}

// shutdown records a graceful stop: cancel stragglers, give them a bounded
// window to drain, then persist the final state.
func (e *Engine) shutdown() {
	e.logger.Info("Shutdown requested; checkpointing at phase %s iteration %d",
		e.state.Phase, e.state.Iteration)
	e.resources.CancelAll()
	e.resources.Cleanup(30 * time.Second)
	e.persistAll(checkpoint.StatusShutdown)
}

func (e *Engine) notify(message string) {
	if e.notifier != nil {
		e.notifier.Notify(message)
	}
}
