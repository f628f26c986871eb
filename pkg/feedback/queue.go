// Package feedback collects user guidance submitted while the engine runs and
// releases it atomically to the prompt builder.
package feedback

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikitparakh/auto-claude-docker/pkg/logx"
)

// Attachment references a file the feedback author supplied alongside the
// message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Entry is one piece of user feedback awaiting injection.
type Entry struct {
	ID          string       `json:"id"`
	AuthorTag   string       `json:"author_tag"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReceivedAt  time.Time    `json:"received_at"`
}

// Queue buffers feedback entries between phase operations. All methods are
// safe for concurrent use; DrainAll is atomic so two racing readers never see
// the same entry.
type Queue struct {
	mu      sync.Mutex
	pending []Entry
	logger  *logx.Logger
}

// NewQueue creates an empty feedback queue.
func NewQueue() *Queue {
	return &Queue{
		logger: logx.NewLogger("feedback"),
	}
}

// Enqueue appends a feedback entry and returns its assigned ID.
func (q *Queue) Enqueue(authorTag, content string, attachments []Attachment) string {
	entry := Entry{
		ID:          uuid.New().String(),
		AuthorTag:   authorTag,
		Content:     content,
		Attachments: attachments,
		ReceivedAt:  time.Now().UTC(),
	}

	q.mu.Lock()
	q.pending = append(q.pending, entry)
	n := len(q.pending)
	q.mu.Unlock()

	q.logger.Info("Queued feedback %s from %s (%d pending)", entry.ID, authorTag, n)
	return entry.ID
}

// HasPending reports whether any feedback awaits injection.
func (q *Queue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) > 0
}

// Size returns the number of pending entries.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DrainAll removes and returns all pending entries in arrival order. The
// read and clear happen under one lock, so each entry is delivered to
// exactly one caller.
func (q *Queue) DrainAll() []Entry {
	q.mu.Lock()
	drained := q.pending
	q.pending = nil
	q.mu.Unlock()

	if len(drained) > 0 {
		q.logger.Debug("Drained %d feedback entries", len(drained))
	}
	return drained
}
