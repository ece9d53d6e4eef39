// Package issuetracker implements the three-level dedup-and-age ledger from
// spec §4.3: Phase -> Run -> Project.
package issuetracker

import (
	"sync"
	"time"

	"github.com/autopack-dev/autopack/internal/contracts"
)

// AggregatedIssue is one entry in a RunIssueIndex: an issue_key's
// occurrences aggregated across every phase of a run (spec §3.1).
type AggregatedIssue struct {
	IssueKey        string                `json:"issue_key"`
	Severity        contracts.Severity    `json:"severity"`
	Source          contracts.IssueSource `json:"source"`
	Category        string                `json:"category"`
	FirstSeen       time.Time             `json:"first_seen"`
	LastSeen        time.Time             `json:"last_seen"`
	OccurrenceCount int                   `json:"occurrence_count"`
	IsResolved      bool                  `json:"is_resolved"`
}

// BacklogEntry is one project-level aging record (spec §3.1).
type BacklogEntry struct {
	IssueKey                  string   `json:"issue_key"`
	OccurrenceCountAcrossRuns int      `json:"occurrence_count_across_runs"`
	RunsSeen                  []string `json:"runs_seen"`
	AgeInRuns                 int      `json:"age_in_runs"`
	NeedsCleanup              bool     `json:"needs_cleanup"`
}

// phaseRecord is the append-only per-phase list entry.
type phaseRecord struct {
	issue           contracts.Issue
	firstSeen       time.Time
	lastSeen        time.Time
	occurrenceCount int
}

// Tracker implements RecordIssue / GetPhaseIssues / GetRunIssueIndex /
// GetProjectBacklog / OnRunComplete (spec §4.3).
type Tracker struct {
	mu sync.Mutex

	// phaseIssues[runID][phaseID][issueKey] -> record
	phaseIssues map[string]map[string]map[string]*phaseRecord
	// phaseOrder preserves declared phase order per run, needed to compute
	// "resolved in a later phase j>i that touched an intersecting scope".
	phaseOrder map[string][]string
	phaseScope map[string]map[string][]string // runID -> phaseID -> scope paths

	runIndex map[string]map[string]*AggregatedIssue // runID -> issueKey -> aggregate

	backlog map[string]map[string]*BacklogEntry // projectID -> issueKey -> entry

	// runToProject remembers which project a run belongs to, so
	// OnRunComplete can fold into the right backlog.
	runToProject  map[string]string
	completedRuns map[string]bool
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		phaseIssues:   map[string]map[string]map[string]*phaseRecord{},
		phaseOrder:    map[string][]string{},
		phaseScope:    map[string]map[string][]string{},
		runIndex:      map[string]map[string]*AggregatedIssue{},
		backlog:       map[string]map[string]*BacklogEntry{},
		runToProject:  map[string]string{},
		completedRuns: map[string]bool{},
	}
}

// RegisterPhase declares a phase's position and scope so later resolution
// detection (§4.3 run-level dedup) can reason about "subsequent phase that
// touched an intersecting scope". Called once when a Phase is created.
func (t *Tracker) RegisterPhase(runID, projectID, phaseID string, scopePaths []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runToProject[runID] = projectID
	t.phaseOrder[runID] = append(t.phaseOrder[runID], phaseID)
	if t.phaseScope[runID] == nil {
		t.phaseScope[runID] = map[string][]string{}
	}
	t.phaseScope[runID][phaseID] = scopePaths
}

// RecordIssue appends an issue to a phase's list, collapsing exact
// duplicates (same issue_key) within the phase by incrementing
// occurrence_count (spec §4.3, §8 universally-quantified invariant).
func (t *Tracker) RecordIssue(runID, phaseID string, issue contracts.Issue) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()

	if t.phaseIssues[runID] == nil {
		t.phaseIssues[runID] = map[string]map[string]*phaseRecord{}
	}
	if t.phaseIssues[runID][phaseID] == nil {
		t.phaseIssues[runID][phaseID] = map[string]*phaseRecord{}
	}

	rec, exists := t.phaseIssues[runID][phaseID][issue.IssueKey]
	if exists {
		rec.occurrenceCount++
		rec.lastSeen = now
	} else {
		t.phaseIssues[runID][phaseID][issue.IssueKey] = &phaseRecord{
			issue:           issue,
			firstSeen:       now,
			lastSeen:        now,
			occurrenceCount: 1,
		}
	}

	t.reindexRunLocked(runID)
}

// reindexRunLocked recomputes the RunIssueIndex for runID from its phase
// records. Must be called with t.mu held.
func (t *Tracker) reindexRunLocked(runID string) {
	index := map[string]*AggregatedIssue{}

	order := t.phaseOrder[runID]
	scopes := t.phaseScope[runID]

	// presentInPhase[issueKey] -> set of phase indices where it appears.
	presentAt := map[string][]int{}

	for phaseIdx, phaseID := range order {
		for key, rec := range t.phaseIssues[runID][phaseID] {
			agg, ok := index[key]
			if !ok {
				agg = &AggregatedIssue{
					IssueKey:  key,
					Severity:  rec.issue.Severity,
					Source:    rec.issue.Source,
					Category:  rec.issue.Category,
					FirstSeen: rec.firstSeen,
					LastSeen:  rec.lastSeen,
				}
				index[key] = agg
			}
			agg.OccurrenceCount += rec.occurrenceCount
			if rec.lastSeen.After(agg.LastSeen) {
				agg.LastSeen = rec.lastSeen
			}
			presentAt[key] = append(presentAt[key], phaseIdx)
		}
	}

	// A key is resolved in this run if it appeared in phase i and is absent
	// from the final issue set of some later phase j>i that touched an
	// intersecting scope (spec §4.3 run-level dedup & aging).
	for key, indices := range presentAt {
		if len(indices) == 0 {
			continue
		}
		firstIdx := indices[0]
		resolved := false
		for j := firstIdx + 1; j < len(order); j++ {
			laterPhase := order[j]
			if _, stillPresent := t.phaseIssues[runID][laterPhase][key]; stillPresent {
				continue
			}
			if !scopesIntersectAny(scopes[order[firstIdx]], scopes[laterPhase]) {
				continue
			}
			resolved = true
			break
		}
		index[key].IsResolved = resolved
	}

	t.runIndex[runID] = index
}

func scopesIntersectAny(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
			if len(x) > 0 && len(y) > 0 && (hasGlobPrefix(x, y) || hasGlobPrefix(y, x)) {
				return true
			}
		}
	}
	return false
}

// hasGlobPrefix is a coarse check that the non-wildcard directory prefix of
// pattern p contains path-like string s (or vice versa); exact matching is
// GitAdapter's job (internal/gitadapter).
func hasGlobPrefix(p, s string) bool {
	prefix := p
	for i, r := range p {
		if r == '*' || r == '?' {
			prefix = p[:i]
			break
		}
	}
	if prefix == "" {
		return true
	}
	cut := min(len(prefix), len(s))
	return s[:cut] == prefix[:cut]
}

// GetPhaseIssues returns the deduplicated issue list for one phase.
func (t *Tracker) GetPhaseIssues(runID, phaseID string) []contracts.Issue {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []contracts.Issue
	for _, rec := range t.phaseIssues[runID][phaseID] {
		out = append(out, rec.issue)
	}
	return out
}

// GetRunIssueIndex returns a copy of the run-level aggregated issue map.
func (t *Tracker) GetRunIssueIndex(runID string) map[string]AggregatedIssue {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := map[string]AggregatedIssue{}
	for k, v := range t.runIndex[runID] {
		out[k] = *v
	}
	return out
}

// GetProjectBacklog returns a copy of the project-level aging ledger.
func (t *Tracker) GetProjectBacklog(projectID string) map[string]BacklogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := map[string]BacklogEntry{}
	for k, v := range t.backlog[projectID] {
		out[k] = *v
	}
	return out
}

// RecomputeNeedsCleanup re-derives needs_cleanup for every backlog entry of
// projectID against agingThreshold, without waiting on a run to complete.
// Used by the background aging sweep (internal/aging) to keep a project's
// backlog in sync after its ruleset's aging_threshold_runs changes.
func (t *Tracker) RecomputeNeedsCleanup(projectID string, agingThreshold int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.backlog[projectID] {
		entry.NeedsCleanup = entry.AgeInRuns >= agingThreshold
	}
}

// ProjectIDs returns the set of projects with a non-empty backlog.
func (t *Tracker) ProjectIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.backlog))
	for id := range t.backlog {
		ids = append(ids, id)
	}
	return ids
}

// OnRunComplete folds the RunIssueIndex into the ProjectIssueBacklog (the
// aging step, spec §4.3). Idempotent: calling it twice for the same run_id
// must not double-count aging (spec §8 round-trip law).
func (t *Tracker) OnRunComplete(runID string, agingThreshold int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.completedRuns[runID] {
		return
	}
	t.completedRuns[runID] = true

	projectID := t.runToProject[runID]
	if projectID == "" {
		return
	}
	if t.backlog[projectID] == nil {
		t.backlog[projectID] = map[string]*BacklogEntry{}
	}

	for key, agg := range t.runIndex[runID] {
		entry, ok := t.backlog[projectID][key]
		if !ok {
			entry = &BacklogEntry{IssueKey: key}
			t.backlog[projectID][key] = entry
		}
		entry.OccurrenceCountAcrossRuns += agg.OccurrenceCount
		entry.RunsSeen = append(entry.RunsSeen, runID)

		if agg.IsResolved {
			entry.AgeInRuns = 0
		} else {
			entry.AgeInRuns++
		}
		entry.NeedsCleanup = entry.AgeInRuns >= agingThreshold
	}
}
