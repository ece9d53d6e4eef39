package runmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionHappyPath(t *testing.T) {
	assert.True(t, CanTransition(StateRunCreated, StatePhaseQueueing))
	assert.True(t, CanTransition(StatePhaseQueueing, StatePhaseExecution))
	assert.True(t, CanTransition(StatePhaseExecution, StateGate))
	assert.True(t, CanTransition(StateGate, StateCIRunning))
	assert.True(t, CanTransition(StateCIRunning, StatePhaseQueueing))
	assert.True(t, CanTransition(StateGate, StateSnapshotCreated))
	assert.True(t, CanTransition(StateSnapshotCreated, StateDoneSuccess))
}

func TestCanTransitionRejectsSkippingStates(t *testing.T) {
	assert.False(t, CanTransition(StateRunCreated, StateGate))
	assert.False(t, CanTransition(StatePhaseQueueing, StateDoneSuccess+"bogus"))
}

func TestCanTransitionAnyStateToFailureSink(t *testing.T) {
	for _, from := range []RunState{StatePlanBootstrap, StateRunCreated, StatePhaseQueueing, StatePhaseExecution, StateGate, StateCIRunning} {
		assert.True(t, CanTransition(from, StateDoneFailedBudget), "from=%s", from)
	}
}

func TestCanTransitionTerminalIsFinal(t *testing.T) {
	for _, term := range []RunState{StateDoneSuccess, StateDoneFailedBudget, StateDoneFailedPolicy, StateDoneFailedInfra, StateDoneFailedCI} {
		assert.True(t, term.IsTerminal())
		assert.False(t, CanTransition(term, StatePhaseQueueing))
	}
}

func TestRunWithinTokenCap(t *testing.T) {
	r := &Run{BudgetsSnapshot: RunBudgets{RunTokenCap: 300000}, TokensUsed: 250000}
	assert.True(t, r.WithinTokenCap(50000))
	assert.False(t, r.WithinTokenCap(50001))
}

func TestRunWithinPhaseCap(t *testing.T) {
	r := &Run{BudgetsSnapshot: RunBudgets{RunMaxPhases: 2}, PhasesUsed: 2}
	assert.False(t, r.WithinPhaseCap())
	r.PhasesUsed = 1
	assert.True(t, r.WithinPhaseCap())
}

func TestIntegrationBranchNameNeverTargetsMain(t *testing.T) {
	name := IntegrationBranchName("run-123")
	assert.Equal(t, "autonomous/run-123", name)
	assert.NotEqual(t, "main", name)
}
