package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerProcessesRequests(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, CreateRun(db, "run-1", "goal", nil))

	requests := make(chan *Request, 16)
	done := make(chan struct{})
	go func() {
		Worker(db, requests)
		close(done)
	}()

	PersistProgress("run-1", "implementation", 2, requests)
	PersistError(&RunError{
		RunID: "run-1", Phase: "implementation", Kind: "rate_limited", Message: "throttled",
	}, requests)
	PersistRecovered("run-1", requests)
	PersistFeedback(&FeedbackRecord{
		RunID: "run-1", FeedbackID: "fb-1", AuthorTag: "bob",
		Content: "use the existing helper", ReceivedAt: time.Now().UTC(),
	}, requests)

	// A synchronous request flushes everything queued before it.
	resp := make(chan error, 1)
	requests <- &Request{Operation: OpUpdateRunProgress,
		Data: &ProgressUpdate{RunID: "run-1", Phase: "testing", Iteration: 3}, Response: resp}
	require.NoError(t, <-resp)

	close(requests)
	<-done

	run, err := GetRun(db, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "testing", run.Phase)
	assert.Equal(t, 3, run.Iteration)

	errs, err := GetRunErrors(db, "run-1")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.True(t, errs[0].Recovered)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM feedback_archive`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWorkerRejectsBadPayload(t *testing.T) {
	db := openTestDB(t)

	requests := make(chan *Request, 1)
	go Worker(db, requests)
	defer close(requests)

	resp := make(chan error, 1)
	requests <- &Request{Operation: OpRecordRunError, Data: "not a RunError", Response: resp}
	assert.Error(t, <-resp)
}
