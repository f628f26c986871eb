package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseTransitionsMatchNext(t *testing.T) {
	// Every forward edge Next produces must be present in the canonical map.
	cases := []struct {
		from    Phase
		outcome Outcome
		want    Phase
	}{
		{PhasePlanning, OutcomeAdvance, PhaseImplementation},
		{PhaseImplementation, OutcomeAdvance, PhaseTesting},
		{PhaseTesting, OutcomeAdvance, PhaseCompletion},
		{PhaseTesting, OutcomeIssuesFound, PhaseCritique},
		{PhaseCritique, OutcomeAdvance, PhaseImplementation},
	}
	for _, tc := range cases {
		got := Next(tc.from, tc.outcome)
		assert.Equal(t, tc.want, got, "Next(%s, %d)", tc.from, tc.outcome)
		assert.True(t, IsValidTransition(tc.from, got),
			"edge %s -> %s missing from canonical map", tc.from, got)
	}
}

func TestNextIsPure(t *testing.T) {
	// Same inputs, same output, no dependence on call order.
	for i := 0; i < 3; i++ {
		assert.Equal(t, PhaseCritique, Next(PhaseTesting, OutcomeIssuesFound))
		assert.Equal(t, PhaseCompletion, Next(PhaseTesting, OutcomeAdvance))
	}
}

func TestCompletionIsTerminal(t *testing.T) {
	assert.True(t, PhaseCompletion.IsTerminal())
	// Completion's only outgoing edge is the recovery detour through error.
	assert.Equal(t, []Phase{PhaseError}, PhaseTransitions[PhaseCompletion])
	assert.Equal(t, PhaseCompletion, Next(PhaseCompletion, OutcomeAdvance))
}

func TestErrorPhaseEdges(t *testing.T) {
	// Any phase may fail into error, and error restores to the phase that
	// was active when the failure occurred.
	for _, p := range []Phase{PhasePlanning, PhaseImplementation, PhaseTesting, PhaseCritique, PhaseCompletion} {
		assert.True(t, IsValidTransition(p, PhaseError), "%s -> error", p)
		assert.True(t, IsValidTransition(PhaseError, p), "error -> %s", p)
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	assert.False(t, IsValidTransition(PhasePlanning, PhaseTesting))
	assert.False(t, IsValidTransition(PhaseImplementation, PhaseCompletion))
	assert.False(t, IsValidTransition(PhaseCompletion, PhasePlanning))
	assert.False(t, IsValidTransition(Phase("bogus"), PhasePlanning))
}

func TestStateTransitionEnforcesMap(t *testing.T) {
	s := NewState("run-1", "build the thing", 12)
	require.Equal(t, PhasePlanning, s.Phase)

	require.NoError(t, s.Transition(PhaseImplementation))
	require.NoError(t, s.Transition(PhaseTesting))
	err := s.Transition(PhasePlanning)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid phase transition")
	assert.Equal(t, PhaseTesting, s.Phase)
}

func TestRecordAndRecoverError(t *testing.T) {
	s := NewState("run-1", "goal", 12)
	s.RecordError(PhaseImplementation, "agent process exited with code 1")
	require.Len(t, s.Errors, 1)
	assert.False(t, s.Errors[0].Recovered)

	s.MarkLastErrorRecovered()
	assert.True(t, s.Errors[0].Recovered)

	// No-op on an empty trail.
	empty := NewState("run-2", "goal", 12)
	empty.MarkLastErrorRecovered()
	assert.Empty(t, empty.Errors)
}
