package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindClassification(t *testing.T) {
	err := New(KindOperationTimedOut, "operation op-1 exceeded 5s")
	assert.True(t, Is(err, KindOperationTimedOut))
	assert.False(t, Is(err, KindRateLimited))
	assert.Equal(t, KindOperationTimedOut, KindOf(err))

	// Classification survives wrapping.
	wrapped := fmt.Errorf("phase planning: %w", err)
	assert.True(t, Is(wrapped, KindOperationTimedOut))
	assert.Equal(t, KindOperationTimedOut, KindOf(wrapped))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestIsRateLimitText(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"Rate Limit exceeded, retry later", true},
		{"HTTP 429: Too Many Requests", true},
		{"RATE LIMIT", true},
		{"connection refused", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsRateLimitText(tc.text), "text=%q", tc.text)
	}
}

func TestIsRateLimitedChecksDiagnosticOutput(t *testing.T) {
	// A process failure whose captured output mentions throttling is treated
	// as rate limited even though its kind is AgentProcessFailed.
	err := &Error{
		Kind:     KindAgentProcessFailed,
		Message:  "claude exited with code 1",
		Output:   "error: too many requests, slow down",
		ExitCode: 1,
	}
	assert.True(t, IsRateLimited(err))

	plain := &Error{Kind: KindAgentProcessFailed, Message: "segfault", ExitCode: 139}
	assert.False(t, IsRateLimited(plain))

	assert.True(t, IsRateLimited(New(KindRateLimited, "throttled")))
	assert.False(t, IsRateLimited(nil))
}

func TestTruncateSample(t *testing.T) {
	assert.Equal(t, "short", TruncateSample("short", 10))
	got := TruncateSample("0123456789abcdef", 8)
	assert.Equal(t, "01234567...[truncated]", got)
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "rate_limited: throttled", New(KindRateLimited, "throttled").Error())
	cause := errors.New("exit status 2")
	e := WithCause(KindAgentProcessFailed, cause, "")
	assert.Contains(t, e.Error(), "agent_process_failed")
	assert.ErrorIs(t, e, cause)
}
