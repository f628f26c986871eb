package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nikitparakh/auto-claude-docker/pkg/checkpoint"
	"github.com/nikitparakh/auto-claude-docker/pkg/faults"
	"github.com/nikitparakh/auto-claude-docker/pkg/metrics"
	"github.com/nikitparakh/auto-claude-docker/pkg/persistence"
	"github.com/nikitparakh/auto-claude-docker/pkg/session"
)

// recoverFrom handles a failed phase operation. Rate limiting is a cooldown,
// not a failure: the engine parks and retries the same phase without spending
// a recovery attempt. Anything else gets up to MaxRetries recovery
// invocations with exponential backoff between them.
func (e *Engine) recoverFrom(ctx context.Context, phase session.Phase, cause error) error {
	e.mu.Lock()
	e.state.RecordError(phase, cause.Error())
	e.mu.Unlock()
	persistence.PersistError(&persistence.RunError{
		RunID:   e.state.RunID,
		Phase:   string(phase),
		Kind:    faults.KindOf(cause).String(),
		Message: cause.Error(),
	}, e.journal)
	e.persistAll(checkpoint.StatusError)

	if faults.IsRateLimited(cause) {
		if err := e.waitForRateLimit(ctx); err != nil {
			return err
		}
		e.mu.Lock()
		e.state.MarkLastErrorRecovered()
		e.mu.Unlock()
		persistence.PersistRecovered(e.state.RunID, e.journal)
		return nil
	}
	return e.attemptRecovery(ctx, phase, cause)
}

// waitForRateLimit parks until the cooldown elapses or the run is canceled.
func (e *Engine) waitForRateLimit(ctx context.Context) error {
	metrics.RateLimitWaitsTotal.Inc()
	e.logger.Warn("Agent rate limited; cooling down for %s", e.cooldown)
	e.notify(fmt.Sprintf("Rate limited, pausing for %s", e.cooldown))

	timer := time.NewTimer(e.cooldown)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		e.logger.Info("Cooldown complete; resuming phase %s", e.state.Phase)
		return nil
	}
}

// attemptRecovery parks the session in the error phase and asks the agent to
// assess and repair, restoring the failed phase on success.
func (e *Engine) attemptRecovery(ctx context.Context, phase session.Phase, cause error) error {
	e.mu.Lock()
	err := e.state.Transition(session.PhaseError)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("cannot enter error phase from %s: %w", phase, err)
	}
	e.persistAll(checkpoint.StatusError)

	timeout := time.Duration(float64(e.cfg.DefaultTimeout()) * recoveryTimeoutFactor)
	prompt := e.recoveryPrompt(phase, cause.Error())

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		e.logger.Info("Recovery attempt %d/%d for failed %s phase", attempt, e.cfg.MaxRetries, phase)

		opID := fmt.Sprintf("recovery-%s-attempt%d", phase, attempt)
		err := e.resources.Execute(ctx, opID, timeout, func(opCtx context.Context) error {
			_, invokeErr := e.runner.Invoke(opCtx, func() string { return prompt }, e.state.SessionHandle)
			return invokeErr
		})
		if err == nil {
			metrics.RecoveryAttemptsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
			e.mu.Lock()
			e.state.MarkLastErrorRecovered()
			terr := e.state.Transition(phase)
			e.mu.Unlock()
			persistence.PersistRecovered(e.state.RunID, e.journal)
			if terr != nil {
				return fmt.Errorf("cannot restore phase %s after recovery: %w", phase, terr)
			}
			e.logger.Info("Recovery succeeded; resuming phase %s", phase)
			e.persistAll(checkpoint.StatusSuccess)
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Throttling during recovery parks the engine without spending the
		// attempt.
		if faults.IsRateLimited(err) {
			if waitErr := e.waitForRateLimit(ctx); waitErr != nil {
				return waitErr
			}
			attempt--
			continue
		}

		metrics.RecoveryAttemptsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		e.logger.Warn("Recovery attempt %d failed: %v", attempt, err)

		if attempt < e.cfg.MaxRetries {
			wait := e.backoff * (1 << attempt)
			e.logger.Debug("Backing off %s before next recovery attempt", wait)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	e.notify(fmt.Sprintf("Recovery exhausted after %d attempts in %s phase", e.cfg.MaxRetries, phase))
	return faults.WithCause(faults.KindRecoveryExhausted, cause,
		fmt.Sprintf("recovery exhausted after %d attempts for %s phase", e.cfg.MaxRetries, phase))
}
