package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nikitparakh/auto-claude-docker/pkg/session"
)

// Notifier receives human-readable progress updates. Implementations decide
// where they go (log, chat webhook, terminal).
type Notifier interface {
	Notify(message string)
}

// StatusSnapshot reports current progress for the health server and status
// broadcasts.
func (e *Engine) StatusSnapshot() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.state
	return map[string]any{
		"run_id":         s.RunID,
		"goal":           s.Goal,
		"phase":          string(s.Phase),
		"iteration":      s.Iteration,
		"max_iterations": s.MaxIterations,
		"errors":         len(s.Errors),
		"operations":     s.Metrics.TotalOperations,
		"uptime":         s.Uptime().Round(time.Second).String(),
		"in_flight":      e.resources.InFlight(),
		"feedback":       e.queue.Size(),
	}
}

// StartStatusTicker broadcasts a progress summary at the configured interval
// until ctx is canceled.
func (e *Engine) StartStatusTicker(ctx context.Context) {
	interval := e.cfg.StatusUpdateInterval()
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.broadcastStatus()
			}
		}
	}()
}

func (e *Engine) broadcastStatus() {
	e.mu.RLock()
	s := e.state
	msg := fmt.Sprintf("Status: goal=%q phase=%s iteration=%d/%d operations=%d (ok=%d failed=%d) feedback=%d errors=%d uptime=%s",
		s.Goal, s.Phase, s.Iteration, s.MaxIterations,
		s.Metrics.TotalOperations, s.Metrics.SuccessfulOperations, s.Metrics.FailedOperations,
		e.queue.Size(), len(s.Errors), s.Uptime().Round(time.Second))
	inError := s.Phase == session.PhaseError
	e.mu.RUnlock()

	e.logger.Info("%s", msg)
	e.notify(msg)
	if inError {
		e.notify("Engine is in the error phase awaiting recovery")
	}
}
