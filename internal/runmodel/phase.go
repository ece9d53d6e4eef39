package runmodel

import "github.com/autopack-dev/autopack/internal/contracts"

// PhaseState is a Phase's lifecycle state (spec §3.1).
type PhaseState string

const (
	PhaseQueued    PhaseState = "QUEUED"
	PhaseExecuting PhaseState = "EXECUTING"
	PhaseGate      PhaseState = "GATE"
	PhaseCIRunning PhaseState = "CI_RUNNING"
	PhaseComplete  PhaseState = "COMPLETE"
	PhaseFailed    PhaseState = "FAILED"
	PhaseSkipped   PhaseState = "SKIPPED"
)

// IsTerminal reports whether s ends the Phase's lifecycle.
func (s PhaseState) IsTerminal() bool {
	switch s {
	case PhaseComplete, PhaseFailed, PhaseSkipped:
		return true
	default:
		return false
	}
}

// PhaseBudgets is the per-phase policy compiled by StrategyEngine (§4.2).
type PhaseBudgets struct {
	TokenCap           int64 `json:"token_cap"`
	MaxBuilderAttempts int   `json:"max_builder_attempts"`
	MaxAuditorAttempts int   `json:"max_auditor_attempts"`
}

// Phase is the smallest unit of work (spec §3.1).
type Phase struct {
	PhaseID      string       `json:"phase_id"`
	TierID       string       `json:"tier_id"`
	Index        int          `json:"index"`
	Name         string       `json:"name"`
	TaskCategory TaskCategory `json:"task_category"`
	Complexity   Complexity   `json:"complexity"`
	BuilderMode  BuilderMode  `json:"builder_mode"`

	ScopePaths           []string `json:"scope_paths"`
	ReadOnlyContextPaths []string `json:"read_only_context_paths,omitempty"`
	AcceptanceCriteria   []string `json:"acceptance_criteria,omitempty"`

	PhaseBudgets PhaseBudgets `json:"phase_budgets"`

	State             PhaseState `json:"state"`
	BuilderAttempts   int        `json:"builder_attempts"`
	AuditorAttempts   int        `json:"auditor_attempts"`
	TokensUsed        int64      `json:"tokens_used"`
	LastFailureReason string     `json:"last_failure_reason,omitempty"`
	ArtifactRefs      []string   `json:"artifact_refs,omitempty"`

	// Issues is the phase-local append-only issue list (owned by Phase per
	// §3.2; IssueTracker's run/project indices are derived views).
	Issues []contracts.Issue `json:"issues,omitempty"`

	// AppliedFiles is the set of files GitAdapter reported as applied for
	// the currently-accepted patch; used to re-verify scope (§7, §8).
	AppliedFiles []string `json:"applied_files,omitempty"`

	RequiresCI bool `json:"requires_ci"`
}

// WithinBuilderAttempts reports whether one more Builder attempt would stay
// within max_builder_attempts.
func (p *Phase) WithinBuilderAttempts() bool {
	return p.BuilderAttempts < p.PhaseBudgets.MaxBuilderAttempts
}

// WithinAuditorAttempts reports whether one more Auditor attempt would stay
// within max_auditor_attempts.
func (p *Phase) WithinAuditorAttempts() bool {
	return p.AuditorAttempts < p.PhaseBudgets.MaxAuditorAttempts
}

// WithinTokenCap reports whether charging `delta` additional tokens keeps
// the Phase within its phase_budgets.token_cap.
func (p *Phase) WithinTokenCap(delta int64) bool {
	return p.TokensUsed+delta <= p.PhaseBudgets.TokenCap
}
