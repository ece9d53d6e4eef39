package budget

import (
	"testing"

	"github.com/autopack-dev/autopack/internal/autopackerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChargeWithinCapSucceeds(t *testing.T) {
	a := New()
	a.RegisterRun("run-1", 1000)
	a.RegisterPhase("phase-1", 500)

	err := a.Charge("run-1", "", "phase-1", Delta{Tokens: 100})
	require.NoError(t, err)

	assert.Equal(t, int64(400), a.RemainingFor("phase-1").Tokens)
	assert.Equal(t, int64(100), a.RunTokensUsed("run-1"))
}

func TestChargeExceedingRunCapReturnsBudgetExceeded(t *testing.T) {
	a := New()
	a.RegisterRun("run-1", 100)
	a.RegisterPhase("phase-1", 1000)

	err := a.Charge("run-1", "", "phase-1", Delta{Tokens: 150})
	require.Error(t, err)

	var aerr *autopackerr.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, autopackerr.CodeBudgetExceeded, aerr.Code)

	// Overage is still recorded (spec §8 scenario 4).
	assert.Equal(t, int64(150), a.RunTokensUsed("run-1"))
	assert.True(t, a.RunExhausted("run-1"))
}

func TestChargeOnlyReturnsErrorOnceTippingPast(t *testing.T) {
	a := New()
	a.RegisterRun("run-1", 200)
	a.RegisterPhase("phase-1", 1000)

	require.NoError(t, a.Charge("run-1", "", "phase-1", Delta{Tokens: 100}))
	err := a.Charge("run-1", "", "phase-1", Delta{Tokens: 100})
	require.NoError(t, err) // lands exactly on the cap, not over

	err = a.Charge("run-1", "", "phase-1", Delta{Tokens: 1})
	require.Error(t, err)
}

func TestZeroTokenCapPhaseIsImmediatelyTerminalOnFirstCharge(t *testing.T) {
	a := New()
	a.RegisterRun("run-1", 1000)
	a.RegisterPhase("phase-1", 0)

	err := a.Charge("run-1", "", "phase-1", Delta{Tokens: 1})
	require.Error(t, err)

	var aerr *autopackerr.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, autopackerr.CodeBudgetExceeded, aerr.Code)
}

func TestTierCapIndependentOfRunCap(t *testing.T) {
	a := New()
	a.RegisterRun("run-1", 10000)
	a.RegisterTier("tier-1", 100)
	a.RegisterPhase("phase-1", 10000)

	err := a.Charge("run-1", "tier-1", "phase-1", Delta{Tokens: 150})
	require.Error(t, err)

	var aerr *autopackerr.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, autopackerr.CodeBudgetExceeded, aerr.Code)
}

func TestReserveRejectsEstimateThatWouldOverflowCap(t *testing.T) {
	a := New()
	a.RegisterRun("run-1", 100)
	a.RegisterPhase("phase-1", 50)

	err := a.Reserve("run-1", "phase-1", 60)
	require.Error(t, err)

	err = a.Reserve("run-1", "phase-1", 40)
	require.NoError(t, err)
}

func TestUnregisteredScopesAreNotCharged(t *testing.T) {
	a := New()
	// Charging against an unregistered run/phase is a no-op, not a panic:
	// callers that forgot RegisterRun/RegisterPhase get silently ignored
	// caps rather than a crash.
	err := a.Charge("ghost-run", "", "ghost-phase", Delta{Tokens: 100})
	assert.NoError(t, err)
	assert.Equal(t, int64(0), a.RunTokensUsed("ghost-run"))
}
