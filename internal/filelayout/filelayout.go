// Package filelayout materializes the on-disk artifact tree for a run
// (spec §6.3), grounded on the JSON/YAML export shape of
// randalmurphal-orc's internal/storage/export.go, adapted to Autopack's
// run/tier/phase/issue tree and made atomic (temp file + rename) since
// run_summary.json is the authoritative record read by operators even
// while a run is in flight.
package filelayout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/autopack-dev/autopack/internal/autopackerr"
)

// trailingTimestampRe recognizes the timestamp segment Autopack appends to
// a run_id (e.g. "checkout-flow-20260731T120000Z"); Family() strips it.
var trailingTimestampRe = regexp.MustCompile(`-\d{8}T\d{6}Z$`)

// Family derives the run family directory name from a run_id by stripping
// its trailing timestamp segment (spec §6.3).
func Family(runID string) string {
	if loc := trailingTimestampRe.FindStringIndex(runID); loc != nil {
		return runID[:loc[0]]
	}
	return runID
}

// Layout resolves and creates the directory tree for one run.
type Layout struct {
	root      string // autonomous_runs_dir
	projectID string
	runID     string
}

// New returns a Layout rooted at root for projectID/runID. It does not
// touch the filesystem; call EnsureDirs to create the tree.
func New(root, projectID, runID string) *Layout {
	return &Layout{root: root, projectID: projectID, runID: runID}
}

func (l *Layout) projectDir() string {
	return filepath.Join(l.root, l.projectID)
}

func (l *Layout) runDir() string {
	return filepath.Join(l.projectDir(), "runs", Family(l.runID), l.runID)
}

// EnsureDirs creates run_summary's parent tree (tiers/, issues/, phases/)
// plus the project root, idempotently.
func (l *Layout) EnsureDirs() error {
	for _, dir := range []string{
		l.projectDir(),
		l.runDir(),
		filepath.Join(l.runDir(), "tiers"),
		filepath.Join(l.runDir(), "phases"),
		filepath.Join(l.runDir(), "issues"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "create run directory failed", err)
		}
	}
	return nil
}

// RunSummaryPath is the path to run_summary.json.
func (l *Layout) RunSummaryPath() string {
	return filepath.Join(l.runDir(), "run_summary.json")
}

// TierPath is the path to a tier's JSON artifact (tier_{nn}_{name}.json).
func (l *Layout) TierPath(index int, name string) string {
	return filepath.Join(l.runDir(), "tiers", fmt.Sprintf("tier_%02d_%s.json", index, slug(name)))
}

// PhasePath is the path to a phase's JSON artifact (phase_{nn}_{phase_id}.json).
func (l *Layout) PhasePath(index int, phaseID string) string {
	return filepath.Join(l.runDir(), "phases", fmt.Sprintf("phase_%02d_%s.json", index, slug(phaseID)))
}

// PhaseIssuesPath is the path to a phase's issue list
// (phase_{nn}_{phase_id}_issues.json).
func (l *Layout) PhaseIssuesPath(index int, phaseID string) string {
	return filepath.Join(l.runDir(), "issues", fmt.Sprintf("phase_%02d_%s_issues.json", index, slug(phaseID)))
}

// RunIssueIndexPath is the path to run_issue_index.json.
func (l *Layout) RunIssueIndexPath() string {
	return filepath.Join(l.runDir(), "run_issue_index.json")
}

// RunRuleHintsPath is the path to run_rule_hints.json.
func (l *Layout) RunRuleHintsPath() string {
	return filepath.Join(l.runDir(), "run_rule_hints.json")
}

// ProjectBacklogPath is the path to the project-level issue backlog,
// shared by every run of the project (spec §6.3).
func (l *Layout) ProjectBacklogPath() string {
	return filepath.Join(l.projectDir(), "project_issue_backlog.json")
}

// ProjectLearnedRulesPath is the path to the project-level learned rules
// store, shared by every run of the project.
func (l *Layout) ProjectLearnedRulesPath() string {
	return filepath.Join(l.projectDir(), "project_learned_rules.json")
}

func slug(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
	return s
}

// WriteJSON atomically writes v as indented JSON to path: it writes to a
// sibling temp file and renames over the target, so a concurrent reader
// (or a crash mid-write) never observes a truncated file.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "marshal artifact failed", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "create artifact directory failed", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "create temp artifact file failed", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "write temp artifact file failed", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "sync temp artifact file failed", err)
	}
	if err := tmp.Close(); err != nil {
		return autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "close temp artifact file failed", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "rename artifact file failed", err)
	}
	return nil
}

// ReadJSON reads and decodes the JSON artifact at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "read artifact failed", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "decode artifact failed", err)
	}
	return nil
}
