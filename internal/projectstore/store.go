// Package projectstore provides sqlite-backed cross-run persistence for
// the two shared writable resources spec §5 names (ProjectIssueBacklog,
// ProjectLearnedRules), plus a ProjectRuleset cache and the RunStrategy
// hash ledger. Grounded on randalmurphal-orc's internal/db package: the
// same migration-table bootstrap, embedded schema files, and
// database/sql-over-modernc.org/sqlite driver choice, scoped down to one
// project database per Autopack project instead of orc's global+project
// split.
package projectstore

import (
	"database/sql"
	"embed"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/autopack-dev/autopack/internal/autopackerr"
	"github.com/autopack-dev/autopack/internal/issuetracker"
	"github.com/autopack-dev/autopack/internal/learnedrules"
	"github.com/autopack-dev/autopack/internal/runmodel"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Store wraps one project's sqlite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if absent) the sqlite database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "create project store directory failed", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "open project store failed", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL;`); err != nil {
		db.Close()
		return nil, autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "set pragmas failed", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (version INTEGER PRIMARY KEY, applied_at TEXT DEFAULT (datetime('now')))`); err != nil {
		return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "create migrations table failed", err)
	}

	applied := map[int]bool{}
	rows, err := s.db.Query(`SELECT version FROM _migrations`)
	if err != nil {
		return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "query migrations failed", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "scan migration version failed", err)
		}
		applied[v] = true
	}
	rows.Close()

	entries, err := schemaFS.ReadDir("schema")
	if err != nil {
		return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "read embedded schema failed", err)
	}

	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "project_") && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		version := migrationVersion(name)
		if applied[version] {
			continue
		}
		content, err := schemaFS.ReadFile("schema/" + name)
		if err != nil {
			return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "read migration file failed", err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "begin migration transaction failed", err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "apply migration failed", err)
		}
		if _, err := tx.Exec(`INSERT INTO _migrations (version) VALUES (?)`, version); err != nil {
			tx.Rollback()
			return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "record migration failed", err)
		}
		if err := tx.Commit(); err != nil {
			return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "commit migration failed", err)
		}
	}
	return nil
}

func migrationVersion(filename string) int {
	name := strings.TrimSuffix(filename, ".sql")
	parts := strings.Split(name, "_")
	v, _ := strconv.Atoi(parts[len(parts)-1])
	return v
}

// SaveBacklogEntry upserts one project backlog entry (spec §6.3
// project_issue_backlog.json's sqlite-backed counterpart).
func (s *Store) SaveBacklogEntry(projectID string, entry issuetracker.BacklogEntry) error {
	runsSeen, err := json.Marshal(entry.RunsSeen)
	if err != nil {
		return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "marshal runs_seen failed", err)
	}
	needsCleanup := 0
	if entry.NeedsCleanup {
		needsCleanup = 1
	}
	_, err = s.db.Exec(`
		INSERT INTO issue_backlog (project_id, issue_key, occurrence_count_across_runs, runs_seen, age_in_runs, needs_cleanup, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(project_id, issue_key) DO UPDATE SET
			occurrence_count_across_runs = excluded.occurrence_count_across_runs,
			runs_seen = excluded.runs_seen,
			age_in_runs = excluded.age_in_runs,
			needs_cleanup = excluded.needs_cleanup,
			updated_at = datetime('now')
	`, projectID, entry.IssueKey, entry.OccurrenceCountAcrossRuns, string(runsSeen), entry.AgeInRuns, needsCleanup)
	if err != nil {
		return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "save backlog entry failed", err)
	}
	return nil
}

// LoadBacklog returns every backlog entry for projectID.
func (s *Store) LoadBacklog(projectID string) (map[string]issuetracker.BacklogEntry, error) {
	rows, err := s.db.Query(`
		SELECT issue_key, occurrence_count_across_runs, runs_seen, age_in_runs, needs_cleanup
		FROM issue_backlog WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "load backlog failed", err)
	}
	defer rows.Close()

	out := map[string]issuetracker.BacklogEntry{}
	for rows.Next() {
		var entry issuetracker.BacklogEntry
		var runsSeenJSON string
		var needsCleanup int
		if err := rows.Scan(&entry.IssueKey, &entry.OccurrenceCountAcrossRuns, &runsSeenJSON, &entry.AgeInRuns, &needsCleanup); err != nil {
			return nil, autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "scan backlog row failed", err)
		}
		if err := json.Unmarshal([]byte(runsSeenJSON), &entry.RunsSeen); err != nil {
			return nil, autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "decode runs_seen failed", err)
		}
		entry.NeedsCleanup = needsCleanup != 0
		out[entry.IssueKey] = entry
	}
	return out, rows.Err()
}

// SaveLearnedRule upserts one learned rule (ProjectLearnedRules, spec §4.4).
func (s *Store) SaveLearnedRule(projectID string, rule learnedrules.LearnedRule) error {
	sourceIDs, err := json.Marshal(rule.SourceHintIDs)
	if err != nil {
		return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "marshal source_hint_ids failed", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO learned_rules (project_id, rule_id, task_category, scope_pattern, constraint_text, promotion_count, source_hint_ids, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(project_id, rule_id) DO UPDATE SET
			promotion_count = excluded.promotion_count,
			source_hint_ids = excluded.source_hint_ids,
			status = excluded.status,
			updated_at = datetime('now')
	`, projectID, rule.RuleID, string(rule.TaskCategory), rule.ScopePattern, rule.ConstraintText, rule.PromotionCount, string(sourceIDs), string(rule.Status))
	if err != nil {
		return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "save learned rule failed", err)
	}
	return nil
}

// LoadLearnedRules returns every learned rule for projectID, active or not;
// callers filter by status as needed (e.g. the snapshot loader keeps only
// RuleActive).
func (s *Store) LoadLearnedRules(projectID string) ([]learnedrules.LearnedRule, error) {
	rows, err := s.db.Query(`
		SELECT rule_id, task_category, scope_pattern, constraint_text, promotion_count, source_hint_ids, status
		FROM learned_rules WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "load learned rules failed", err)
	}
	defer rows.Close()

	var out []learnedrules.LearnedRule
	for rows.Next() {
		var rule learnedrules.LearnedRule
		var sourceIDsJSON, status, category string
		if err := rows.Scan(&rule.RuleID, &category, &rule.ScopePattern, &rule.ConstraintText, &rule.PromotionCount, &sourceIDsJSON, &status); err != nil {
			return nil, autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "scan learned rule row failed", err)
		}
		rule.TaskCategory = runmodel.TaskCategory(category)
		if err := json.Unmarshal([]byte(sourceIDsJSON), &rule.SourceHintIDs); err != nil {
			return nil, autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "decode source_hint_ids failed", err)
		}
		rule.Status = learnedrules.RuleStatus(status)
		out = append(out, rule)
	}
	return out, rows.Err()
}

// SaveRulesetCache caches the resolved ProjectRuleset as JSON.
func (s *Store) SaveRulesetCache(projectID string, rulesetJSON []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO ruleset_cache (project_id, ruleset_json, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(project_id) DO UPDATE SET ruleset_json = excluded.ruleset_json, updated_at = datetime('now')
	`, projectID, string(rulesetJSON))
	if err != nil {
		return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "save ruleset cache failed", err)
	}
	return nil
}

// LoadRulesetCache returns the cached ruleset JSON, or nil if none exists.
func (s *Store) LoadRulesetCache(projectID string) ([]byte, error) {
	var rulesetJSON string
	err := s.db.QueryRow(`SELECT ruleset_json FROM ruleset_cache WHERE project_id = ?`, projectID).Scan(&rulesetJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "load ruleset cache failed", err)
	}
	return []byte(rulesetJSON), nil
}

// RecordStrategyHash records the compiled RunStrategy's content hash for
// runID, for later audit/reproducibility checks.
func (s *Store) RecordStrategyHash(runID, projectID, hash string) error {
	_, err := s.db.Exec(`
		INSERT INTO strategy_hashes (run_id, project_id, strategy_hash)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET strategy_hash = excluded.strategy_hash
	`, runID, projectID, hash)
	if err != nil {
		return autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "record strategy hash failed", err)
	}
	return nil
}

// StrategyHashFor returns the recorded strategy hash for runID, or "" if none.
func (s *Store) StrategyHashFor(runID string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT strategy_hash FROM strategy_hashes WHERE run_id = ?`, runID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", autopackerr.Wrap(autopackerr.CodePersistenceCorrupted, "read strategy hash failed", err)
	}
	return hash, nil
}

// Path returns the database file path, for diagnostics.
func (s *Store) Path() string {
	return s.path
}
