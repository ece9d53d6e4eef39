package runmodel

import "time"

// RunState is one of the Run lifecycle states from spec §4.1. States are
// monotonic: a Run never transitions backward except the explicit re-queues
// back to PHASE_QUEUEING for the next Phase (from PHASE_EXECUTION,
// CI_RUNNING, or SNAPSHOT_CREATED).
type RunState string

const (
	StatePlanBootstrap   RunState = "PLAN_BOOTSTRAP"
	StateRunCreated      RunState = "RUN_CREATED"
	StatePhaseQueueing   RunState = "PHASE_QUEUEING"
	StatePhaseExecution  RunState = "PHASE_EXECUTION"
	StateGate            RunState = "GATE"
	StateCIRunning       RunState = "CI_RUNNING"
	StateSnapshotCreated RunState = "SNAPSHOT_CREATED"
	StateDoneSuccess     RunState = "DONE_SUCCESS"

	StateDoneFailedBudget RunState = "DONE_FAILED_BUDGET"
	StateDoneFailedPolicy RunState = "DONE_FAILED_POLICY"
	StateDoneFailedInfra  RunState = "DONE_FAILED_INFRA"
	StateDoneFailedCI     RunState = "DONE_FAILED_CI"
)

// IsTerminal reports whether s is one of the DONE_* sinks.
func (s RunState) IsTerminal() bool {
	switch s {
	case StateDoneSuccess, StateDoneFailedBudget, StateDoneFailedPolicy,
		StateDoneFailedInfra, StateDoneFailedCI:
		return true
	default:
		return false
	}
}

// runTransitions is the adjacency list of legal RunState transitions
// (spec §4.1). Budget exhaustion can strike from any non-terminal state, so
// it is checked separately rather than enumerated here.
var runTransitions = map[RunState][]RunState{
	StatePlanBootstrap:   {StateRunCreated, StateDoneFailedInfra, StateDoneFailedPolicy},
	StateRunCreated:      {StatePhaseQueueing, StateDoneFailedInfra},
	StatePhaseQueueing:   {StatePhaseExecution, StateDoneSuccess, StateDoneFailedPolicy, StateDoneFailedInfra},
	StatePhaseExecution:  {StateGate, StateDoneFailedPolicy, StateDoneFailedInfra, StatePhaseQueueing},
	StateGate:            {StateCIRunning, StateSnapshotCreated, StateDoneFailedInfra},
	StateCIRunning:       {StatePhaseQueueing, StateDoneFailedCI, StateDoneFailedInfra},
	StateSnapshotCreated: {StatePhaseQueueing, StateDoneSuccess},
}

// CanTransition reports whether from -> to is a legal Run transition, or is
// the universal escape hatch to a DONE_FAILED_* sink.
func CanTransition(from, to RunState) bool {
	if from.IsTerminal() {
		return false
	}
	if isFailureSink(to) {
		return true
	}
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func isFailureSink(s RunState) bool {
	switch s {
	case StateDoneFailedBudget, StateDoneFailedPolicy, StateDoneFailedInfra, StateDoneFailedCI:
		return true
	default:
		return false
	}
}

// RunBudgets is the frozen, compiled budget view attached to a Run by
// StrategyEngine.Compile (§4.2). Values come from the ruleset, never
// hardcoded by the core.
type RunBudgets struct {
	RunTokenCap     int64         `json:"run_token_cap"`
	RunMaxPhases    int           `json:"run_max_phases"`
	RunMaxWallClock time.Duration `json:"run_max_wallclock"`
}

// Run is one autonomous build attempt (spec §3.1).
type Run struct {
	RunID               string        `json:"run_id"`
	ProjectID           string        `json:"project_id"`
	StackProfile        string        `json:"stack_profile"`
	SafetyProfile       SafetyProfile `json:"safety_profile"`
	State               RunState      `json:"state"`
	CreatedAt           time.Time     `json:"created_at"`
	BudgetsSnapshot     RunBudgets    `json:"budgets_snapshot"`
	TokensUsed          int64         `json:"tokens_used"`
	PhasesUsed          int           `json:"phases_used"`
	Duration            time.Duration `json:"duration"`
	IntegrationBranch   string        `json:"integration_branch"`
	CompiledStrategyRef string        `json:"compiled_strategy_ref"`
	TierIDsInOrder      []string      `json:"tier_ids_in_order"`

	// FailureReason is set when State is a DONE_FAILED_* sink.
	FailureReason string `json:"failure_reason,omitempty"`
	Cancelled     bool   `json:"cancelled,omitempty"`
}

// IntegrationBranchName derives the per-run integration branch name. Never
// main — the core refuses to write anywhere else (§4.6, §5).
func IntegrationBranchName(runID string) string {
	return "autonomous/" + runID
}

// WithinTokenCap reports whether charging `delta` additional tokens would
// keep the Run within its budgets_snapshot.run_token_cap.
func (r *Run) WithinTokenCap(delta int64) bool {
	return r.TokensUsed+delta <= r.BudgetsSnapshot.RunTokenCap
}

// WithinPhaseCap reports whether starting one more Phase would keep the Run
// within its budgets_snapshot.run_max_phases.
func (r *Run) WithinPhaseCap() bool {
	return r.PhasesUsed < r.BudgetsSnapshot.RunMaxPhases
}
