package issuetracker

import (
	"testing"

	"github.com/autopack-dev/autopack/internal/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordIssueCollapsesExactDuplicates(t *testing.T) {
	tr := New()
	tr.RegisterPhase("run-1", "alpha", "phase-1", []string{"docs/**"})

	issue := contracts.Issue{IssueKey: "scope_violation:abc", Severity: contracts.SeverityMinor, Source: contracts.IssueSourceBuilder, Category: "scope_violation"}
	tr.RecordIssue("run-1", "phase-1", issue)
	tr.RecordIssue("run-1", "phase-1", issue)

	list := tr.GetPhaseIssues("run-1", "phase-1")
	require.Len(t, list, 1)

	index := tr.GetRunIssueIndex("run-1")
	require.Contains(t, index, "scope_violation:abc")
	assert.Equal(t, 2, index["scope_violation:abc"].OccurrenceCount)
}

func TestRunIssueIndexMarksResolvedWhenAbsentInLaterIntersectingPhase(t *testing.T) {
	tr := New()
	tr.RegisterPhase("run-1", "alpha", "phase-1", []string{"src/auth/**"})
	tr.RegisterPhase("run-1", "alpha", "phase-2", []string{"src/auth/**"})

	key := "missing_type_hints:abc"
	tr.RecordIssue("run-1", "phase-1", contracts.Issue{IssueKey: key, Severity: contracts.SeverityMinor, Source: contracts.IssueSourceAuditor, Category: "missing_type_hints"})
	// Phase 2 touches an intersecting scope and does NOT re-report the key.
	tr.RecordIssue("run-1", "phase-2", contracts.Issue{IssueKey: "unrelated:xyz", Severity: contracts.SeverityMinor, Source: contracts.IssueSourceAuditor, Category: "unrelated"})

	index := tr.GetRunIssueIndex("run-1")
	require.Contains(t, index, key)
	assert.True(t, index[key].IsResolved)
}

func TestRunIssueIndexNotResolvedWithoutIntersectingLaterPhase(t *testing.T) {
	tr := New()
	tr.RegisterPhase("run-1", "alpha", "phase-1", []string{"src/auth/**"})
	tr.RegisterPhase("run-1", "alpha", "phase-2", []string{"docs/**"})

	key := "missing_type_hints:abc"
	tr.RecordIssue("run-1", "phase-1", contracts.Issue{IssueKey: key, Category: "missing_type_hints"})

	index := tr.GetRunIssueIndex("run-1")
	assert.False(t, index[key].IsResolved)
}

func TestOnRunCompleteFoldsIntoBacklogAndAges(t *testing.T) {
	// Mirrors spec §8 scenario 3: an unresolved issue produces
	// age_in_runs=1 in the project backlog.
	tr := New()
	tr.RegisterPhase("run-1", "alpha", "phase-1", []string{"src/**"})

	key := "major_issue:abc"
	tr.RecordIssue("run-1", "phase-1", contracts.Issue{IssueKey: key, Severity: contracts.SeverityMajor, Category: "major_issue"})

	tr.OnRunComplete("run-1", 5)

	backlog := tr.GetProjectBacklog("alpha")
	require.Contains(t, backlog, key)
	assert.Equal(t, 1, backlog[key].AgeInRuns)
	assert.False(t, backlog[key].NeedsCleanup)
}

func TestOnRunCompleteIsIdempotent(t *testing.T) {
	tr := New()
	tr.RegisterPhase("run-1", "alpha", "phase-1", []string{"src/**"})
	tr.RecordIssue("run-1", "phase-1", contracts.Issue{IssueKey: "k:1", Category: "k"})

	tr.OnRunComplete("run-1", 5)
	tr.OnRunComplete("run-1", 5)

	backlog := tr.GetProjectBacklog("alpha")
	assert.Equal(t, 1, backlog["k:1"].OccurrenceCountAcrossRuns)
	assert.Equal(t, 1, backlog["k:1"].AgeInRuns)
}

func TestAgingResetsToZeroWhenResolvedInSubsequentRun(t *testing.T) {
	tr := New()
	key := "k:1"

	tr.RegisterPhase("run-1", "alpha", "p1", []string{"src/**"})
	tr.RecordIssue("run-1", "p1", contracts.Issue{IssueKey: key, Category: "k"})
	tr.OnRunComplete("run-1", 5)

	tr.RegisterPhase("run-2", "alpha", "p1", []string{"src/**"})
	tr.RegisterPhase("run-2", "alpha", "p2", []string{"src/**"})
	tr.RecordIssue("run-2", "p1", contracts.Issue{IssueKey: key, Category: "k"})
	// p2 touches intersecting scope, doesn't re-report -> resolved in run-2.
	tr.RecordIssue("run-2", "p2", contracts.Issue{IssueKey: "other:2", Category: "other"})
	tr.OnRunComplete("run-2", 5)

	backlog := tr.GetProjectBacklog("alpha")
	assert.Equal(t, 0, backlog[key].AgeInRuns)
}

func TestNeedsCleanupFlipsAtThreshold(t *testing.T) {
	tr := New()
	key := "k:1"
	for i := 0; i < 3; i++ {
		runID := "run-" + string(rune('1'+i))
		tr.RegisterPhase(runID, "alpha", "p1", []string{"src/**"})
		tr.RecordIssue(runID, "p1", contracts.Issue{IssueKey: key, Category: "k"})
		tr.OnRunComplete(runID, 3)
	}

	backlog := tr.GetProjectBacklog("alpha")
	assert.True(t, backlog[key].NeedsCleanup)
}
