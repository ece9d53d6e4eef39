// Package supervisor implements the core Run/Tier/Phase state machine and
// scheduler (spec §2, §4.1, §6.2): the message-driven Supervisor. Grounded
// on randalmurphal-orc's internal/orchestrator.Orchestrator, adapted from a
// subprocess-spawning worker pool to one whose workers block on
// asynchronous POST-and-callback exchanges with external Builder/Auditor
// clients instead of a local `cmd.Run()`.
package supervisor

import (
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/autopack-dev/autopack/internal/contracts"
	"github.com/autopack-dev/autopack/internal/learnedrules"
	"github.com/autopack-dev/autopack/internal/runmodel"
	"github.com/autopack-dev/autopack/internal/strategy"
)

// Supervisor owns every active Run's runState and the collaborators every
// Run worker shares.
type Supervisor struct {
	deps *Deps
	sem  *semaphore.Weighted

	mu   sync.RWMutex
	runs map[string]*runState
}

// New creates a Supervisor backed by deps.
func New(deps *Deps) *Supervisor {
	return &Supervisor{
		deps: deps,
		sem:  semaphore.NewWeighted(deps.maxConcurrentRuns()),
		runs: map[string]*runState{},
	}
}

// StartRun compiles spec into a RunStrategy, materializes its Run/Tier/
// Phase tree, and launches its worker goroutine. It returns the new
// run_id immediately; the Run itself may sit in PLAN_BOOTSTRAP for a while
// if MaxConcurrentRuns is saturated (spec §6.2 POST /runs/start).
func (s *Supervisor) StartRun(spec strategy.RunSpec) (string, error) {
	ruleset, err := s.deps.Rulesets.Ruleset(spec.ProjectID)
	if err != nil {
		return "", err
	}

	learned := s.deps.LearnedRules.LoadProjectRulesSnapshot(spec.ProjectID)
	active := make([]learnedrules.LearnedRule, 0, len(learned))
	for _, r := range learned {
		if r.Status == learnedrules.RuleActive {
			active = append(active, r)
		}
	}

	rs, err := strategy.Compile(ruleset, active, spec, false)
	if err != nil {
		return "", err
	}

	runID := newRunID(spec.ProjectID)
	run, tiers, phases, err := buildRun(runID, spec, rs)
	if err != nil {
		return "", err
	}

	git, repo, err := s.deps.newGitAdapter(spec.ProjectID)
	if err != nil {
		return "", err
	}
	ci, err := s.deps.newCIGate(spec.ProjectID)
	if err != nil {
		return "", err
	}
	layout := s.deps.layout(spec.ProjectID, runID)

	rst := newRunState(run, tiers, phases, rs, git, ci, repo, layout, s.deps)

	s.mu.Lock()
	s.runs[runID] = rst
	s.mu.Unlock()

	go s.driveRun(rst)

	return runID, nil
}

// driveRun waits for a free concurrency slot, then runs rst to completion.
func (s *Supervisor) driveRun(rst *runState) {
	if err := s.sem.Acquire(rst.ctx, 1); err != nil {
		rst.finishFailed(runmodel.StateDoneFailedPolicy, "cancelled")
		close(rst.done)
		return
	}
	defer s.sem.Release(1)
	rst.execute(s.deps)
}

func (s *Supervisor) lookup(runID string) (*runState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rst, ok := s.runs[runID]
	if !ok {
		return nil, unknownRunErr(runID)
	}
	return rst, nil
}

// GetRun returns a point-in-time view of a Run and every Tier/Phase
// beneath it (spec §6.2 GET /runs/{run_id}).
func (s *Supervisor) GetRun(runID string) (RunView, error) {
	rst, err := s.lookup(runID)
	if err != nil {
		return RunView{}, err
	}
	return rst.view(), nil
}

// ListRuns returns a point-in-time view of every Run the Supervisor knows
// about, active or terminal, for aggregate reporting (spec §6.4 per-run
// metrics shape).
func (s *Supervisor) ListRuns() []RunView {
	s.mu.RLock()
	rsts := make([]*runState, 0, len(s.runs))
	for _, rst := range s.runs {
		rsts = append(rsts, rst)
	}
	s.mu.RUnlock()

	views := make([]RunView, 0, len(rsts))
	for _, rst := range rsts {
		views = append(views, rst.view())
	}
	return views
}

// GetIntegrationStatus reports the integration branch state for a Run
// (spec §6.2 GET /runs/{run_id}/integration_status).
func (s *Supervisor) GetIntegrationStatus(runID string) (IntegrationStatus, error) {
	rst, err := s.lookup(runID)
	if err != nil {
		return IntegrationStatus{}, err
	}
	return rst.integrationStatus()
}

// RequestAuditorReview assembles the context an Auditor client needs to
// review the most recently applied Builder patch for phaseID (spec §6.2
// GET /runs/{run_id}/phases/{phase_id}/auditor_request). This is a pure
// read: it never blocks waiting on anything.
func (s *Supervisor) RequestAuditorReview(runID, phaseID string) (AuditorRequest, error) {
	rst, err := s.lookup(runID)
	if err != nil {
		return AuditorRequest{}, err
	}
	return rst.auditorRequest(phaseID)
}

// SubmitBuilderResult delivers a Builder client's attempt to the Run
// worker and blocks until it is accepted or rejected (spec §6.2 POST
// /runs/{run_id}/phases/{phase_id}/builder_result).
func (s *Supervisor) SubmitBuilderResult(runID string, result contracts.BuilderResult) (Ack, error) {
	rst, err := s.lookup(runID)
	if err != nil {
		return Ack{}, err
	}
	reply := make(chan workerReply, 1)
	return rst.send(workerMsg{kind: msgBuilderResult, builderResult: &result, reply: reply})
}

// SubmitAuditorResult delivers an Auditor client's verdict to the Run
// worker (spec §6.2 POST /runs/{run_id}/phases/{phase_id}/auditor_result).
func (s *Supervisor) SubmitAuditorResult(runID string, result contracts.AuditorResult) (Ack, error) {
	rst, err := s.lookup(runID)
	if err != nil {
		return Ack{}, err
	}
	reply := make(chan workerReply, 1)
	return rst.send(workerMsg{kind: msgAuditorResult, auditorResult: &result, reply: reply})
}

// UpdatePhaseStatus lets an external caller attach evidence to, or nudge
// the state of, a non-terminal Phase (spec §6.2 POST
// /runs/{run_id}/phases/{phase_id}/update_status).
func (s *Supervisor) UpdatePhaseStatus(runID, phaseID string, state runmodel.PhaseState, evidence string) (Ack, error) {
	rst, err := s.lookup(runID)
	if err != nil {
		return Ack{}, err
	}
	reply := make(chan workerReply, 1)
	return rst.send(workerMsg{kind: msgStatusUpdate, status: &statusUpdate{PhaseID: phaseID, State: state, Evidence: evidence}, reply: reply})
}

// Cancel stops a Run's worker. The Run lands in DONE_FAILED_POLICY with
// failure_reason "cancelled"; in-flight Builder/Auditor waits are
// abandoned and the integration branch is left intact for inspection
// (spec §6.2 POST /runs/{run_id}/cancel).
func (s *Supervisor) Cancel(runID string) error {
	rst, err := s.lookup(runID)
	if err != nil {
		return err
	}
	rst.cancel()
	return nil
}
