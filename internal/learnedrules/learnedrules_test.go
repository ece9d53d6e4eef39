package learnedrules

import (
	"testing"
	"time"

	"github.com/autopack-dev/autopack/internal/runmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateHintBoundedAndStable(t *testing.T) {
	h1 := GenerateHint("missing_type_hints", []string{"src/auth/login.go"})
	h2 := GenerateHint("missing_type_hints", []string{"src/auth/login.go"})
	assert.Equal(t, h1, h2)
	assert.LessOrEqual(t, len(h1), maxHintLen)
	assert.Contains(t, h1, "src/auth/login.go")
}

func TestGenerateHintCapsScopeParams(t *testing.T) {
	h := GenerateHint("missing_type_hints", []string{"a", "b", "c", "d", "e", "f"})
	assert.NotContains(t, h, ", e")
	assert.NotContains(t, h, ", f")
}

func TestGenerateHintUnknownClassFallsBack(t *testing.T) {
	h := GenerateHint("never_seen_before", []string{"src/x"})
	assert.Contains(t, h, "src/x")
}

func TestPromotionAcrossRunScenario(t *testing.T) {
	// Mirrors spec §8 scenario 5: two hints with the same
	// (issue_key_class, task_category, scope_prefix) in one run promote a
	// LearnedRule with promotion_count>=1 whose source_hint_ids include both.
	s := NewStore()

	h1 := s.RecordRunHint("run-1", RunRuleHint{
		PhaseID:         "phase-1",
		TaskCategory:    runmodel.CategoryFeatureScaffolding,
		ScopePaths:      []string{"src/auth/login.go"},
		SourceIssueKeys: []string{"missing_type_hints:abc"},
		HintText:        GenerateHint("missing_type_hints", []string{"src/auth/login.go"}),
	})
	h2 := s.RecordRunHint("run-1", RunRuleHint{
		PhaseID:         "phase-2",
		TaskCategory:    runmodel.CategoryFeatureScaffolding,
		ScopePaths:      []string{"src/auth/session.go"},
		SourceIssueKeys: []string{"missing_type_hints:def"},
		HintText:        GenerateHint("missing_type_hints", []string{"src/auth/session.go"}),
	})

	promoted := s.PromoteHintsToRules("run-1", "alpha", 2)
	require.Len(t, promoted, 1)
	assert.GreaterOrEqual(t, promoted[0].PromotionCount, 1)
	assert.Equal(t, runmodel.CategoryFeatureScaffolding, promoted[0].TaskCategory)
	assert.ElementsMatch(t, []string{h1.HintID, h2.HintID}, promoted[0].SourceHintIDs)

	snapshot := s.LoadProjectRulesSnapshot("alpha")
	require.Len(t, snapshot, 1)
}

func TestPromoteHintsToRulesBelowThresholdDoesNotPromote(t *testing.T) {
	s := NewStore()
	s.RecordRunHint("run-1", RunRuleHint{
		TaskCategory: runmodel.CategoryDocsCreation,
		ScopePaths:   []string{"docs/readme.md"},
		HintText:     "one hint only",
	})

	promoted := s.PromoteHintsToRules("run-1", "alpha", 2)
	assert.Empty(t, promoted)
}

func TestPromoteHintsToRulesDeduplicatesAcrossRuns(t *testing.T) {
	s := NewStore()
	for _, runID := range []string{"run-1", "run-2"} {
		s.RecordRunHint(runID, RunRuleHint{
			TaskCategory:    runmodel.CategoryFeatureScaffolding,
			ScopePaths:      []string{"src/auth/x.go"},
			SourceIssueKeys: []string{"missing_type_hints:a"},
			HintText:        GenerateHint("missing_type_hints", []string{"src/auth/x.go"}),
		})
		s.RecordRunHint(runID, RunRuleHint{
			TaskCategory:    runmodel.CategoryFeatureScaffolding,
			ScopePaths:      []string{"src/auth/y.go"},
			SourceIssueKeys: []string{"missing_type_hints:b"},
			HintText:        GenerateHint("missing_type_hints", []string{"src/auth/x.go"}),
		})
		s.PromoteHintsToRules(runID, "alpha", 2)
	}

	snapshot := s.LoadProjectRulesSnapshot("alpha")
	require.Len(t, snapshot, 1)
	assert.Equal(t, 2, snapshot[0].PromotionCount)
}

func TestLoadProjectRulesSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.RecordRunHint("run-1", RunRuleHint{
		TaskCategory:    runmodel.CategoryDocsCreation,
		ScopePaths:      []string{"docs/a.md"},
		SourceIssueKeys: []string{"lint_violation:1"},
		HintText:        "x",
	})
	s.RecordRunHint("run-1", RunRuleHint{
		TaskCategory:    runmodel.CategoryDocsCreation,
		ScopePaths:      []string{"docs/b.md"},
		SourceIssueKeys: []string{"lint_violation:2"},
		HintText:        "y",
	})
	s.PromoteHintsToRules("run-1", "alpha", 2)

	snap := s.LoadProjectRulesSnapshot("alpha")
	snap[0].Status = RuleDeprecated

	fresh := s.LoadProjectRulesSnapshot("alpha")
	assert.Equal(t, RuleActive, fresh[0].Status, "mutating a snapshot must not affect the store")
}

func TestDeprecateStale(t *testing.T) {
	s := NewStore()
	s.RecordRunHint("run-1", RunRuleHint{TaskCategory: runmodel.CategoryDocsCreation, ScopePaths: []string{"docs/a"}, HintText: "x"})
	s.RecordRunHint("run-1", RunRuleHint{TaskCategory: runmodel.CategoryDocsCreation, ScopePaths: []string{"docs/a"}, HintText: "x"})
	s.PromoteHintsToRules("run-1", "alpha", 2)

	s.DeprecateStale("alpha", 3, func(lastSeen time.Time) int { return 5 })

	snap := s.LoadProjectRulesSnapshot("alpha")
	require.Len(t, snap, 1)
	assert.Equal(t, RuleDeprecated, snap[0].Status)
}
