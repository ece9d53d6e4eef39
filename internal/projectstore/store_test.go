package projectstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopack-dev/autopack/internal/issuetracker"
	"github.com/autopack-dev/autopack/internal/learnedrules"
	"github.com/autopack-dev/autopack/internal/runmodel"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "project.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRunsMigrationsIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.db")
	s1, err := Open(path)
	require.NoError(t, err)
	s1.Close()

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
}

func TestSaveAndLoadBacklogEntryRoundTrips(t *testing.T) {
	s := openTestStore(t)

	entry := issuetracker.BacklogEntry{
		IssueKey:                  "k:1",
		OccurrenceCountAcrossRuns: 3,
		RunsSeen:                  []string{"run-1", "run-2"},
		AgeInRuns:                 2,
		NeedsCleanup:              true,
	}
	require.NoError(t, s.SaveBacklogEntry("proj-1", entry))

	loaded, err := s.LoadBacklog("proj-1")
	require.NoError(t, err)
	require.Contains(t, loaded, "k:1")
	assert.Equal(t, entry, loaded["k:1"])
}

func TestSaveBacklogEntryUpsertsOnConflict(t *testing.T) {
	s := openTestStore(t)

	entry := issuetracker.BacklogEntry{IssueKey: "k:1", AgeInRuns: 1}
	require.NoError(t, s.SaveBacklogEntry("proj-1", entry))

	entry.AgeInRuns = 5
	entry.NeedsCleanup = true
	require.NoError(t, s.SaveBacklogEntry("proj-1", entry))

	loaded, err := s.LoadBacklog("proj-1")
	require.NoError(t, err)
	assert.Equal(t, 5, loaded["k:1"].AgeInRuns)
	assert.True(t, loaded["k:1"].NeedsCleanup)
}

func TestSaveAndLoadLearnedRuleRoundTrips(t *testing.T) {
	s := openTestStore(t)

	rule := learnedrules.LearnedRule{
		RuleID:         "rule-000001",
		TaskCategory:   runmodel.TaskCategory("feature_impl"),
		ScopePattern:   "src/auth/**",
		ConstraintText: "add explicit type hints",
		SourceHintIDs:  []string{"hint-1", "hint-2"},
		PromotionCount: 2,
		Status:         learnedrules.RuleActive,
	}
	require.NoError(t, s.SaveLearnedRule("proj-1", rule))

	loaded, err := s.LoadLearnedRules("proj-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, rule.RuleID, loaded[0].RuleID)
	assert.Equal(t, rule.TaskCategory, loaded[0].TaskCategory)
	assert.Equal(t, rule.SourceHintIDs, loaded[0].SourceHintIDs)
	assert.Equal(t, learnedrules.RuleActive, loaded[0].Status)
}

func TestRulesetCacheRoundTrips(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveRulesetCache("proj-1", []byte(`{"category_defaults":{}}`)))

	loaded, err := s.LoadRulesetCache("proj-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"category_defaults":{}}`, string(loaded))
}

func TestLoadRulesetCacheReturnsNilWhenAbsent(t *testing.T) {
	s := openTestStore(t)

	loaded, err := s.LoadRulesetCache("unknown-project")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStrategyHashRoundTrips(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordStrategyHash("run-1", "proj-1", "abc123"))

	hash, err := s.StrategyHashFor("run-1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", hash)
}

func TestStrategyHashForUnknownRunReturnsEmpty(t *testing.T) {
	s := openTestStore(t)

	hash, err := s.StrategyHashFor("ghost-run")
	require.NoError(t, err)
	assert.Empty(t, hash)
}
