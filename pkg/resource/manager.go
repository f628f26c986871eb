// Package resource bounds concurrent agent operations and enforces per
// operation timeouts.
package resource

import (
	"context"
	"sync"
	"time"

	"github.com/nikitparakh/auto-claude-docker/pkg/faults"
	"github.com/nikitparakh/auto-claude-docker/pkg/logx"
	"github.com/nikitparakh/auto-claude-docker/pkg/metrics"
)

// cleanupPollInterval is how often Cleanup re-checks the in-flight set.
const cleanupPollInterval = 100 * time.Millisecond

// Operation is a unit of work executed under the manager's supervision. It
// must honor ctx cancellation; the manager stops waiting at the deadline
// whether the operation does or not.
type Operation func(ctx context.Context) error

// entry tracks one registered operation for diagnostics.
type entry struct {
	startedAt time.Time
	cancel    context.CancelFunc
}

// Manager admits at most maxConcurrent operations at a time and races each
// against its timeout.
type Manager struct {
	mu            sync.Mutex
	inFlight      map[string]entry
	maxConcurrent int
	logger        *logx.Logger
}

// NewManager creates a manager admitting up to maxConcurrent operations.
func NewManager(maxConcurrent int) *Manager {
	return &Manager{
		inFlight:      make(map[string]entry),
		maxConcurrent: maxConcurrent,
		logger:        logx.NewLogger("resource"),
	}
}

// Execute runs op under the concurrency cap with the given timeout. Admission
// is checked and the operation registered under one lock, so racing callers
// cannot both slip past the cap. On timeout the operation's context is
// canceled and Execute returns immediately; the operation unregisters itself
// whenever it finishes.
func (m *Manager) Execute(ctx context.Context, opID string, timeout time.Duration, op Operation) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)

	m.mu.Lock()
	if len(m.inFlight) >= m.maxConcurrent {
		n := len(m.inFlight)
		m.mu.Unlock()
		cancel()
		return faults.Newf(faults.KindConcurrencyExceeded,
			"concurrency limit reached: %d operations in flight (max %d)", n, m.maxConcurrent)
	}
	m.inFlight[opID] = entry{startedAt: time.Now(), cancel: cancel}
	m.mu.Unlock()

	metrics.InFlightOperations.Inc()
	m.logger.Debug("Operation %s started (timeout %s)", opID, timeout)

	done := make(chan error, 1)
	go func() {
		defer m.unregister(opID)
		defer cancel()
		done <- op(opCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-opCtx.Done():
		if ctx.Err() != nil {
			// Parent canceled, not a deadline.
			return ctx.Err()
		}
		m.logger.Warn("Operation %s exceeded its %s timeout", opID, timeout)
		return faults.Newf(faults.KindOperationTimedOut,
			"operation %s timed out after %s", opID, timeout)
	}
}

func (m *Manager) unregister(opID string) {
	m.mu.Lock()
	delete(m.inFlight, opID)
	m.mu.Unlock()
	metrics.InFlightOperations.Dec()
}

// InFlight returns the IDs of currently executing operations.
func (m *Manager) InFlight() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.inFlight))
	for id := range m.inFlight {
		ids = append(ids, id)
	}
	return ids
}

// CancelAll cancels every in-flight operation's context.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.inFlight {
		m.logger.Debug("Canceling operation %s", id)
		e.cancel()
	}
}

// Cleanup waits up to maxWait for in-flight operations to unregister. It
// never cancels them itself; callers cancel via CancelAll or the parent
// context. Stragglers are logged and abandoned so shutdown cannot block
// indefinitely.
func (m *Manager) Cleanup(maxWait time.Duration) {
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		if len(m.InFlight()) == 0 {
			return
		}
		time.Sleep(cleanupPollInterval)
	}

	if remaining := m.InFlight(); len(remaining) > 0 {
		m.logger.Warn("Cleanup abandoned %d operations still in flight: %v",
			len(remaining), remaining)
	}
}
