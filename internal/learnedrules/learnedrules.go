// Package learnedrules implements the two-level learning loop from spec
// §4.4: within-run hints recorded by the Supervisor, promoted into
// persistent project-level LearnedRules at run end.
package learnedrules

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/autopack-dev/autopack/internal/runmodel"
)

// RunRuleHint is a per-run-only lesson recorded when a phase resolves an
// issue pattern (spec §3.1).
type RunRuleHint struct {
	HintID          string
	PhaseID         string
	TaskCategory    runmodel.TaskCategory
	ScopePaths      []string
	SourceIssueKeys []string
	HintText        string
	CreatedAt       time.Time
}

// RuleStatus is a LearnedRule's lifecycle state (spec §3.1).
type RuleStatus string

const (
	RuleActive     RuleStatus = "active"
	RuleDeprecated RuleStatus = "deprecated"
)

// LearnedRule is a persistent project-level constraint promoted from
// repeated hints (spec §3.1).
type LearnedRule struct {
	RuleID         string
	TaskCategory   runmodel.TaskCategory
	ScopePattern   string
	ConstraintText string
	SourceHintIDs  []string
	PromotionCount int
	FirstSeen      time.Time
	LastSeen       time.Time
	Status         RuleStatus
}

// hintTemplates maps an issue_key class to a deterministic, bounded hint
// template. Generation never calls an external LLM (spec §4.4).
var hintTemplates = map[string]string{
	"missing_type_hints": "add explicit type hints for new functions under %s",
	"scope_violation":    "keep changes scoped to %s for this category",
	"flaky_test":         "stabilize tests touching %s before resubmitting",
	"lint_violation":     "match existing lint conventions under %s",
}

const maxHintLen = 256
const defaultHintTemplate = "review prior issues in %s before resubmitting"

// GenerateHint builds a bounded, stable hint string for an issue_key class
// and up to the first four scope paths (spec §4.4: "parameters are
// scope_paths[0..3]").
func GenerateHint(issueKeyClass string, scopePaths []string) string {
	limited := scopePaths
	if len(limited) > 4 {
		limited = limited[:4]
	}
	scope := strings.Join(limited, ", ")
	if scope == "" {
		scope = "the phase scope"
	}

	tmpl, ok := hintTemplates[issueKeyClass]
	if !ok {
		tmpl = defaultHintTemplate
	}
	text := fmt.Sprintf(tmpl, scope)
	if len(text) > maxHintLen {
		text = text[:maxHintLen]
	}
	return text
}

// Store holds the in-run hint ledger plus the persistent project-level rule
// set. One Store is created per project and shared (read-only snapshot at
// Run start) across concurrent Runs for that project.
type Store struct {
	mu           sync.Mutex
	runHints     map[string][]RunRuleHint // run_id -> hints
	projectRules map[string][]LearnedRule // project_id -> rules
	idSeq        int
}

// NewStore creates an empty in-memory learned-rules store. Persistence is
// layered on top by internal/projectstore.
func NewStore() *Store {
	return &Store{
		runHints:     map[string][]RunRuleHint{},
		projectRules: map[string][]LearnedRule{},
	}
}

func (s *Store) nextID(prefix string) string {
	s.idSeq++
	return fmt.Sprintf("%s-%06d", prefix, s.idSeq)
}

// RecordRunHint appends a hint to the given Run's ledger.
func (s *Store) RecordRunHint(runID string, hint RunRuleHint) RunRuleHint {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hint.HintID == "" {
		hint.HintID = s.nextID("hint")
	}
	if hint.CreatedAt.IsZero() {
		hint.CreatedAt = time.Now()
	}
	s.runHints[runID] = append(s.runHints[runID], hint)
	return hint
}

// GetHintsForPhase returns hints recorded so far in this run that match the
// given task_category and intersect scopePaths, most-recent first, capped
// at `limit` entries (spec §4.1 step 1: "cap: top N by recency/weight").
func (s *Store) GetHintsForPhase(runID string, category runmodel.TaskCategory, scopePaths []string, limit int) []RunRuleHint {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []RunRuleHint
	for _, h := range s.runHints[runID] {
		if h.TaskCategory != category {
			continue
		}
		if !scopesIntersect(h.ScopePaths, scopePaths) {
			continue
		}
		matched = append(matched, h)
	}

	// Most-recent-first.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// LoadProjectRulesSnapshot returns a copy of a project's persistent learned
// rules. Called exactly once per run, at RUN_CREATED (spec §4.4 snapshot
// semantics); the caller attaches the result to the RunStrategy, which is
// then immutable for the run's duration regardless of concurrent
// promotions by other runs.
func (s *Store) LoadProjectRulesSnapshot(projectID string) []LearnedRule {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.projectRules[projectID]
	out := make([]LearnedRule, len(src))
	copy(out, src)
	return out
}

// normalizedGroupKey groups hints by (issue_key_class, task_category,
// scope_prefix) for promotion (spec §4.4).
type normalizedGroupKey struct {
	category    runmodel.TaskCategory
	scopePrefix string
	issueClass  string
}

// scopePrefix picks the directory part of the first scope path (the text
// before its last "/") as the normalized prefix, so files and globs under
// one directory share a prefix; "" when no path is present.
func scopePrefix(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	if i := strings.LastIndexByte(paths[0], '/'); i > 0 {
		return paths[0][:i]
	}
	return paths[0]
}

// issueClassOf derives the issue_key_class portion from a source issue_key.
// By construction (see internal/issuetracker), issue_keys are
// "<category>:<signature>"; the class is the category segment.
func issueClassOf(issueKey string) string {
	if idx := strings.IndexByte(issueKey, ':'); idx >= 0 {
		return issueKey[:idx]
	}
	return issueKey
}

// PromoteHintsToRules groups this run's hints by
// (issue_key_class, task_category, scope_prefix) and promotes any group
// whose size reaches the threshold into a LearnedRule, deduplicating
// against existing project rules by
// (task_category, scope_pattern, constraint_text) (spec §4.4).
func (s *Store) PromoteHintsToRules(runID, projectID string, threshold int) []LearnedRule {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := map[normalizedGroupKey][]RunRuleHint{}
	for _, h := range s.runHints[runID] {
		class := "generic"
		if len(h.SourceIssueKeys) > 0 {
			class = issueClassOf(h.SourceIssueKeys[0])
		}
		key := normalizedGroupKey{
			category:    h.TaskCategory,
			scopePrefix: scopePrefix(h.ScopePaths),
			issueClass:  class,
		}
		groups[key] = append(groups[key], h)
	}

	now := time.Now()
	var promoted []LearnedRule
	existing := s.projectRules[projectID]

	for key, hints := range groups {
		if len(hints) < threshold {
			continue
		}

		constraintText := hints[len(hints)-1].HintText
		scopePattern := key.scopePrefix
		if scopePattern != "" && !strings.HasSuffix(scopePattern, "**") {
			scopePattern = strings.TrimSuffix(scopePattern, "/") + "/**"
		}

		var hintIDs []string
		for _, h := range hints {
			hintIDs = append(hintIDs, h.HintID)
		}

		if idx := findExistingRule(existing, key.category, scopePattern, constraintText); idx >= 0 {
			existing[idx].PromotionCount++
			existing[idx].LastSeen = now
			existing[idx].SourceHintIDs = append(existing[idx].SourceHintIDs, hintIDs...)
			existing[idx].Status = RuleActive
			promoted = append(promoted, existing[idx])
			continue
		}

		rule := LearnedRule{
			RuleID:         s.nextID("rule"),
			TaskCategory:   key.category,
			ScopePattern:   scopePattern,
			ConstraintText: constraintText,
			SourceHintIDs:  hintIDs,
			PromotionCount: 1,
			FirstSeen:      now,
			LastSeen:       now,
			Status:         RuleActive,
		}
		existing = append(existing, rule)
		promoted = append(promoted, rule)
	}

	s.projectRules[projectID] = existing
	return promoted
}

func findExistingRule(rules []LearnedRule, cat runmodel.TaskCategory, scopePattern, constraintText string) int {
	for i, r := range rules {
		if r.TaskCategory == cat && r.ScopePattern == scopePattern && r.ConstraintText == constraintText {
			return i
		}
	}
	return -1
}

// DeprecateStale marks rules deprecated when they haven't been promoted or
// reinforced in the last N runs. runsSinceSeen is supplied by the caller
// (the project store tracks run ordinals); N comes from the safety
// profile's aging window (spec §4.4).
func (s *Store) DeprecateStale(projectID string, n int, runsSinceSeen func(lastSeen time.Time) int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules := s.projectRules[projectID]
	for i := range rules {
		if runsSinceSeen(rules[i].LastSeen) >= n {
			rules[i].Status = RuleDeprecated
		}
	}
}

// scopesIntersect reports whether any path in a shares a directory prefix
// with any path in b. This is a coarse intersection test; exact glob
// matching for scope enforcement lives in internal/gitadapter.
func scopesIntersect(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == 0 && len(b) == 0
	}
	for _, x := range a {
		for _, y := range b {
			if x == y || strings.HasPrefix(x, y) || strings.HasPrefix(y, x) {
				return true
			}
		}
	}
	return false
}
