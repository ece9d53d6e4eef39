package cigate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopack-dev/autopack/internal/autopackerr"
)

type scriptedRunner struct {
	verdicts []Verdict
	calls    int
}

func (s *scriptedRunner) RunOnce(_ context.Context, _ string, _ Profile) (Attempt, error) {
	v := s.verdicts[s.calls]
	s.calls++
	a := Attempt{Verdict: v}
	if v == VerdictRed {
		a.Failures = []Failure{{Suite: "unit", Message: "TestFoo failed", EvidenceRef: "trace-1"}}
	}
	return a, nil
}

func noSleep(time.Duration) {}

func TestRunGreenOnFirstAttempt(t *testing.T) {
	runner := &scriptedRunner{verdicts: []Verdict{VerdictGreen}}
	g := New(runner).WithSleepFunc(noSleep)

	result, err := g.Run(context.Background(), "autopack/run-1", DefaultNormalProfile())
	require.NoError(t, err)
	assert.Equal(t, VerdictGreen, result.Verdict)
	assert.Equal(t, 0, result.RetriesUsed)
}

func TestRunRetriesFlakyThenGreen(t *testing.T) {
	runner := &scriptedRunner{verdicts: []Verdict{VerdictFlaky, VerdictFlaky, VerdictGreen}}
	g := New(runner).WithSleepFunc(noSleep)

	result, err := g.Run(context.Background(), "autopack/run-1", DefaultNormalProfile())
	require.NoError(t, err)
	assert.Equal(t, VerdictGreen, result.Verdict)
	assert.Equal(t, 2, result.RetriesUsed)
}

func TestRunRedIsNeverRetried(t *testing.T) {
	runner := &scriptedRunner{verdicts: []Verdict{VerdictRed, VerdictGreen}}
	g := New(runner).WithSleepFunc(noSleep)

	result, err := g.Run(context.Background(), "autopack/run-1", DefaultNormalProfile())
	require.Error(t, err)

	var aerr *autopackerr.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, autopackerr.CodeCIRed, aerr.Code)
	assert.Equal(t, VerdictRed, result.Verdict)
	assert.Equal(t, 1, runner.calls) // never re-invoked after red
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "unit", result.Issues[0].Category)
}

func TestRunExhaustsRetryBudgetStillFlaky(t *testing.T) {
	profile := DefaultNormalProfile()
	profile.MaxRetries = 1
	runner := &scriptedRunner{verdicts: []Verdict{VerdictFlaky, VerdictFlaky, VerdictFlaky}}
	g := New(runner).WithSleepFunc(noSleep)

	result, err := g.Run(context.Background(), "autopack/run-1", profile)
	require.NoError(t, err) // flaky isn't converted to an error, only red is
	assert.Equal(t, VerdictFlaky, result.Verdict)
	assert.Equal(t, 1, result.RetriesUsed)
	assert.Equal(t, 2, runner.calls)
}

func TestStrictProfileHasTighterRetryBudget(t *testing.T) {
	normal := DefaultNormalProfile()
	strict := DefaultStrictProfile()
	assert.True(t, strict.Strict)
	assert.Less(t, strict.MaxRetries, normal.MaxRetries)
}

func TestNextDelayGrowsExponentiallyAndCaps(t *testing.T) {
	p := Profile{InitialBackoff: time.Second, BackoffMultiplier: 2.0, MaxBackoff: 5 * time.Second}
	assert.Equal(t, time.Second, p.nextDelay(1))
	assert.Equal(t, 2*time.Second, p.nextDelay(2))
	assert.Equal(t, 4*time.Second, p.nextDelay(3))
	assert.Equal(t, 5*time.Second, p.nextDelay(4)) // capped
}
