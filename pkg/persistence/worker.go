package persistence

import (
	"database/sql"
	"time"

	"github.com/nikitparakh/auto-claude-docker/pkg/logx"
)

// Operation names for journal requests.
const (
	OpUpdateRunProgress = "update_run_progress"
	OpRecordRunError    = "record_run_error"
	OpArchiveFeedback   = "archive_feedback"
	OpMarkRecovered     = "mark_recovered"
)

// Request is one unit of journal work sent to the worker. Response is
// optional; nil means fire-and-forget.
type Request struct {
	Operation string
	Data      any
	Response  chan<- error
}

// ProgressUpdate carries a phase and iteration update.
type ProgressUpdate struct {
	RunID     string
	Phase     string
	Iteration int
}

// FeedbackRecord carries a feedback archive entry.
type FeedbackRecord struct {
	RunID      string
	FeedbackID string
	AuthorTag  string
	Content    string
	ReceivedAt time.Time
	InjectedAt *time.Time
}

// Worker drains journal requests on a single goroutine so SQLite sees one
// writer. Close the channel to stop it.
func Worker(db *sql.DB, requests <-chan *Request) {
	logger := logx.NewLogger("persistence-worker")

	for req := range requests {
		err := dispatch(db, req)
		if req.Response != nil {
			req.Response <- err
		} else if err != nil {
			logger.Warn("Journal write failed (%s): %v", req.Operation, err)
		}
	}
	logger.Debug("Persistence worker stopped")
}

func dispatch(db *sql.DB, req *Request) error {
	switch req.Operation {
	case OpUpdateRunProgress:
		u, ok := req.Data.(*ProgressUpdate)
		if !ok {
			return logx.Errorf("invalid data for %s", req.Operation)
		}
		return UpdateRunProgress(db, u.RunID, u.Phase, u.Iteration)
	case OpRecordRunError:
		e, ok := req.Data.(*RunError)
		if !ok {
			return logx.Errorf("invalid data for %s", req.Operation)
		}
		return RecordRunError(db, e)
	case OpArchiveFeedback:
		f, ok := req.Data.(*FeedbackRecord)
		if !ok {
			return logx.Errorf("invalid data for %s", req.Operation)
		}
		return ArchiveFeedback(db, f.RunID, f.FeedbackID, f.AuthorTag, f.Content, f.ReceivedAt, f.InjectedAt)
	case OpMarkRecovered:
		runID, ok := req.Data.(string)
		if !ok {
			return logx.Errorf("invalid data for %s", req.Operation)
		}
		return MarkLastRunErrorRecovered(db, runID)
	default:
		return logx.Errorf("unknown journal operation %q", req.Operation)
	}
}

// PersistProgress sends a fire-and-forget progress update.
func PersistProgress(runID, phase string, iteration int, requests chan<- *Request) {
	if requests == nil {
		return
	}
	requests <- &Request{
		Operation: OpUpdateRunProgress,
		Data:      &ProgressUpdate{RunID: runID, Phase: phase, Iteration: iteration},
	}
}

// PersistError sends a fire-and-forget error audit entry.
func PersistError(e *RunError, requests chan<- *Request) {
	if requests == nil || e == nil {
		return
	}
	requests <- &Request{Operation: OpRecordRunError, Data: e}
}

// PersistFeedback sends a fire-and-forget feedback archive entry.
func PersistFeedback(f *FeedbackRecord, requests chan<- *Request) {
	if requests == nil || f == nil {
		return
	}
	requests <- &Request{Operation: OpArchiveFeedback, Data: f}
}

// PersistRecovered marks the newest error of a run as recovered.
func PersistRecovered(runID string, requests chan<- *Request) {
	if requests == nil || runID == "" {
		return
	}
	requests <- &Request{Operation: OpMarkRecovered, Data: runID}
}
