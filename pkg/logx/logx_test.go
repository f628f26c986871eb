package logx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugGating(t *testing.T) {
	orig := IsDebugEnabled()
	defer SetDebug(orig)

	SetDebug(false)
	assert.False(t, IsDebugEnabled())

	SetDebug(true)
	assert.True(t, IsDebugEnabled())
}

func TestWrap(t *testing.T) {
	base := errors.New("connection refused")
	wrapped := Wrap(base, "db connect")
	require.Error(t, wrapped)
	assert.Equal(t, "db connect: connection refused", wrapped.Error())
	assert.ErrorIs(t, wrapped, base)

	assert.NoError(t, Wrap(nil, "nothing"))
}

func TestErrorfReturnsError(t *testing.T) {
	base := errors.New("boom")
	err := Errorf("phase failed: %w", base)
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
}

func TestWithComponent(t *testing.T) {
	l := NewLogger("engine")
	assert.Equal(t, "engine", l.Component())

	l2 := l.WithComponent("runner")
	assert.Equal(t, "runner", l2.Component())
	assert.Equal(t, "engine", l.Component())
}
