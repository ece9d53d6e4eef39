// Package supervisor implements the Run/Tier/Phase state machine and
// scheduler (spec §4.1): the Supervisor composes StrategyEngine,
// BudgetAccountant, IssueTracker, LearnedRules, GitAdapter, and CIGate to
// drive every Run from creation to a terminal state. Grounded on
// randalmurphal-orc's internal/orchestrator package: one goroutine per
// active unit of work (there: Worker per task; here: runWorker per Run),
// a pool that enforces a concurrency ceiling, and status polling via a
// small message-passing inbox rather than shared mutable state.
package supervisor

import (
	"time"

	"github.com/autopack-dev/autopack/internal/contracts"
	"github.com/autopack-dev/autopack/internal/runmodel"
)

// PhaseView is the read-only snapshot of one Phase returned by GetRun.
type PhaseView struct {
	Phase  runmodel.Phase    `json:"phase"`
	Issues []contracts.Issue `json:"issues,omitempty"`
}

// TierView is the read-only snapshot of one Tier returned by GetRun.
type TierView struct {
	Tier   runmodel.Tier `json:"tier"`
	Phases []PhaseView   `json:"phases"`
}

// RunView is the full state snapshot returned by GetRun (spec §4.1:
// "returns the current state snapshot including all Tiers, Phases, budget
// usage, integration branch status").
type RunView struct {
	Run   runmodel.Run `json:"run"`
	Tiers []TierView   `json:"tiers"`
}

// IntegrationStatus is GetIntegrationStatus's return value (spec §4.1, §6.2).
type IntegrationStatus struct {
	Branch         string             `json:"branch"`
	Commits        []string           `json:"commits,omitempty"`
	CIProfile      runmodel.CIProfile `json:"ci_profile,omitempty"`
	LastCIVerdict  string             `json:"last_ci_verdict,omitempty"`
	HasRunCIBefore bool               `json:"has_run_ci_before"`
}

// AuditorRequest is RequestAuditorReview's return value: the assembled
// prompt context for the Auditor's review of the current Builder attempt
// (spec §4.1 step 5).
type AuditorRequest struct {
	RunID              string   `json:"run_id"`
	PhaseID            string   `json:"phase_id"`
	AttemptIndex       int      `json:"attempt_index"`
	Patch              []byte   `json:"patch"`
	ScopePaths         []string `json:"scope_paths"`
	AppliedFiles       []string `json:"applied_files"`
	LearnedRules       []string `json:"learned_rules,omitempty"` // constraint_text snapshot filtered by category/scope
	RunHints           []string `json:"run_hints,omitempty"`     // hint_text from same-run earlier phases
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`

	// UseEscalatedTier is true once AttemptIndex has reached the
	// RunStrategy's compiled EscalateOnAttempt for this phase's
	// (task_category, complexity), telling an external Auditor client to
	// switch to its escalated model tier (spec §4.2).
	UseEscalatedTier bool `json:"use_escalated_tier"`
}

// Ack is the contentless success marker named throughout spec §4.1 and §6.2.
type Ack struct {
	AcceptedAt time.Time `json:"accepted_at"`
}
