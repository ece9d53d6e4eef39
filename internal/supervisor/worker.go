package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/autopack-dev/autopack/internal/autopackerr"
	"github.com/autopack-dev/autopack/internal/budget"
	"github.com/autopack-dev/autopack/internal/cigate"
	"github.com/autopack-dev/autopack/internal/contracts"
	"github.com/autopack-dev/autopack/internal/events"
	"github.com/autopack-dev/autopack/internal/filelayout"
	"github.com/autopack-dev/autopack/internal/gitadapter"
	"github.com/autopack-dev/autopack/internal/issuetracker"
	"github.com/autopack-dev/autopack/internal/learnedrules"
	"github.com/autopack-dev/autopack/internal/metrics"
	"github.com/autopack-dev/autopack/internal/runmodel"
	"github.com/autopack-dev/autopack/internal/strategy"
)

type msgKind int

const (
	msgBuilderResult msgKind = iota
	msgAuditorResult
	msgStatusUpdate
)

// statusUpdate is the payload of a POST .../update_status call (spec §6.2):
// an external caller (ControlPlane forwarding an operator action, or the
// Builder/Auditor client reporting evidence) nudging one Phase's state or
// attaching evidence without going through the Builder/Auditor result
// contract.
type statusUpdate struct {
	PhaseID  string
	State    runmodel.PhaseState
	Evidence string
}

type workerMsg struct {
	kind          msgKind
	builderResult *contracts.BuilderResult
	auditorResult *contracts.AuditorResult
	status        *statusUpdate
	reply         chan workerReply
}

type workerReply struct {
	ack Ack
	err error
}

func ack() Ack { return Ack{AcceptedAt: time.Now()} }

// runState is the live, mutable view of one Run. The worker goroutine is
// its sole writer; readers (GetRun, GetIntegrationStatus,
// RequestAuditorReview) take mu.RLock. Grounded on randalmurphal-orc's
// Worker: a status enum plus a mutex-guarded struct read concurrently by
// the Orchestrator's polling loop, except here concurrent access comes from
// ControlPlane handlers rather than a poll ticker.
type runState struct {
	mu sync.RWMutex

	run      *runmodel.Run
	tiers    []*runmodel.Tier
	tierByID map[string]*runmodel.Tier
	phases   map[string]*runmodel.Phase

	// lastPatch/lastAppliedFiles back RequestAuditorReview's synchronous
	// prompt-context assembly (spec §4.1 step 5): the Auditor reviews
	// whatever the most recent accepted Builder patch touched.
	lastPatch        map[string][]byte // phaseID -> patch
	lastAttemptIndex map[string]int

	lastCIProfile  runmodel.CIProfile
	lastCIVerdict  string
	hasRunCIBefore bool

	rs     *strategy.RunStrategy
	layout *filelayout.Layout
	git    *gitadapter.Adapter
	ci     *cigate.Gate
	repo   ProjectRepo

	inbox  chan workerMsg
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	deps *Deps
}

func newRunState(run *runmodel.Run, tiers []*runmodel.Tier, phases map[string]*runmodel.Phase, rs *strategy.RunStrategy, git *gitadapter.Adapter, ci *cigate.Gate, repo ProjectRepo, layout *filelayout.Layout, deps *Deps) *runState {
	tierByID := make(map[string]*runmodel.Tier, len(tiers))
	for _, t := range tiers {
		tierByID[t.TierID] = t
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &runState{
		run:              run,
		tiers:            tiers,
		tierByID:         tierByID,
		phases:           phases,
		lastPatch:        map[string][]byte{},
		lastAttemptIndex: map[string]int{},
		rs:               rs,
		layout:           layout,
		git:              git,
		ci:               ci,
		repo:             repo,
		inbox:            make(chan workerMsg),
		ctx:              ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
		deps:             deps,
	}
}

// view builds a point-in-time RunView snapshot under RLock.
func (rst *runState) view() RunView {
	rst.mu.RLock()
	defer rst.mu.RUnlock()

	tiers := make([]TierView, 0, len(rst.tiers))
	for _, t := range rst.tiers {
		tv := TierView{Tier: *t}
		for _, phaseID := range t.PhaseIDsInOrder {
			p := rst.phases[phaseID]
			tv.Phases = append(tv.Phases, PhaseView{
				Phase:  *p,
				Issues: rst.deps.Issues.GetPhaseIssues(rst.run.RunID, phaseID),
			})
		}
		tiers = append(tiers, tv)
	}
	return RunView{Run: *rst.run, Tiers: tiers}
}

// integrationStatus builds an IntegrationStatus snapshot under RLock.
func (rst *runState) integrationStatus() (IntegrationStatus, error) {
	rst.mu.RLock()
	branch := rst.run.IntegrationBranch
	rst.mu.RUnlock()

	status, err := rst.git.Status(branch)
	if err != nil {
		return IntegrationStatus{}, err
	}
	rst.mu.RLock()
	defer rst.mu.RUnlock()
	return IntegrationStatus{
		Branch:         branch,
		Commits:        status.ChangedPaths,
		CIProfile:      rst.lastCIProfile,
		LastCIVerdict:  rst.lastCIVerdict,
		HasRunCIBefore: rst.hasRunCIBefore,
	}, nil
}

// auditorRequest assembles a synchronous read-only AuditorRequest for
// phaseID's current attempt (spec §4.1 step 5: request is pure context
// assembly, never a blocking wait on the Auditor).
func (rst *runState) auditorRequest(phaseID string) (AuditorRequest, error) {
	rst.mu.RLock()
	defer rst.mu.RUnlock()

	phase, ok := rst.phases[phaseID]
	if !ok {
		return AuditorRequest{}, unknownPhaseErr(rst.run.RunID, phaseID)
	}

	hints := rst.deps.LearnedRules.GetHintsForPhase(rst.run.RunID, phase.TaskCategory, phase.ScopePaths, 10)
	var hintTexts []string
	for _, h := range hints {
		hintTexts = append(hintTexts, h.HintText)
	}

	var ruleTexts []string
	for _, r := range rst.rs.LearnedRulesSnapshot {
		if r.Status != learnedrules.RuleActive || r.TaskCategory != phase.TaskCategory {
			continue
		}
		ruleTexts = append(ruleTexts, r.ConstraintText)
	}

	attemptIndex := rst.lastAttemptIndex[phaseID]
	var escalated bool
	if policy, ok := rst.rs.PolicyFor(phase.TaskCategory, phase.Complexity); ok {
		escalated = policy.EscalateOnAttempt > 0 && attemptIndex >= policy.EscalateOnAttempt
	}

	return AuditorRequest{
		RunID:              rst.run.RunID,
		PhaseID:            phaseID,
		AttemptIndex:       attemptIndex,
		Patch:              rst.lastPatch[phaseID],
		ScopePaths:         phase.ScopePaths,
		AppliedFiles:       phase.AppliedFiles,
		LearnedRules:       ruleTexts,
		RunHints:           hintTexts,
		AcceptanceCriteria: phase.AcceptanceCriteria,
		UseEscalatedTier:   escalated,
	}, nil
}

// send delivers msg to the worker inbox and waits for its reply, or returns
// early if the run has already terminated or is cancelled.
func (rst *runState) send(msg workerMsg) (Ack, error) {
	select {
	case rst.inbox <- msg:
	case <-rst.done:
		return Ack{}, autopackTerminatedErr(rst.run.RunID)
	}
	select {
	case reply := <-msg.reply:
		return reply.ack, reply.err
	case <-rst.done:
		return Ack{}, autopackTerminatedErr(rst.run.RunID)
	}
}

// execute drives the Run from PLAN_BOOTSTRAP to a terminal state. It is the
// sole mutator of rst's Run/Tier/Phase fields; every read elsewhere takes
// rst.mu.RLock.
func (rst *runState) execute(deps *Deps) {
	defer close(rst.done)
	defer rst.cancel()

	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	if err := rst.bootstrap(); err != nil {
		rst.finishFailed(runmodel.StateDoneFailedInfra, err.Error())
		return
	}

	rst.setRunState(runmodel.StatePhaseQueueing)

	for _, tier := range rst.tiers {
		rst.setTierState(tier.TierID, runmodel.TierInProgress)

		tierFailed := false
		for _, phaseID := range tier.PhaseIDsInOrder {
			if rst.ctx.Err() != nil {
				rst.finishFailed(runmodel.StateDoneFailedPolicy, "cancelled")
				return
			}

			phase := rst.getPhase(phaseID)
			if !rst.runBudgetOK(phase) {
				rst.markPhaseFailed(phase, "run token cap exhausted before phase could start")
				rst.finishFailed(runmodel.StateDoneFailedBudget, "run_token_cap exhausted")
				return
			}

			outcome := rst.runPhase(phase, tier)
			switch outcome {
			case outcomeCancelled:
				rst.finishFailed(runmodel.StateDoneFailedPolicy, "cancelled")
				return
			case outcomeBudgetExceeded:
				rst.finishFailed(runmodel.StateDoneFailedBudget, fmt.Sprintf("phase %s exhausted its token cap", phaseID))
				return
			case outcomeCIRed:
				rst.finishFailed(runmodel.StateDoneFailedCI, fmt.Sprintf("phase %s failed CI", phaseID))
				return
			case outcomeInfra:
				rst.finishFailed(runmodel.StateDoneFailedInfra, fmt.Sprintf("phase %s hit an infra error", phaseID))
				return
			case outcomeFailed:
				tierFailed = true
				rst.incPhasesUsed()
				continue
			case outcomeComplete:
				rst.incPhasesUsed()
			}

			rst.setRunState(runmodel.StatePhaseQueueing)
			if !rst.run.WithinPhaseCap() {
				rst.finishFailed(runmodel.StateDoneFailedBudget, "run_max_phases reached")
				return
			}
		}

		if tierFailed {
			rst.setTierState(tier.TierID, runmodel.TierFailed)
			rst.finishFailed(runmodel.StateDoneFailedPolicy, fmt.Sprintf("tier %s has an unrecovered major issue", tier.TierID))
			return
		}
		rst.setTierState(tier.TierID, runmodel.TierComplete)
	}

	rst.setRunState(runmodel.StateSnapshotCreated)
	if _, err := rst.git.TagCommit(rst.run.IntegrationBranch, "autopack: run "+rst.run.RunID+" snapshot"); err != nil {
		rst.finishFailed(runmodel.StateDoneFailedInfra, "snapshot commit failed: "+err.Error())
		return
	}
	rst.finishSuccess()
}

func (rst *runState) bootstrap() error {
	rst.mu.Lock()
	rst.run.State = runmodel.StateRunCreated
	rst.mu.Unlock()

	if err := rst.git.EnsureIntegrationBranch(rst.run.IntegrationBranch, rst.repo.BaseBranch); err != nil {
		return err
	}
	if err := rst.layout.EnsureDirs(); err != nil {
		return err
	}

	rst.deps.Budgets.RegisterRun(rst.run.RunID, rst.rs.RunBudgets.RunTokenCap)
	for _, tier := range rst.tiers {
		rst.deps.Budgets.RegisterTier(tier.TierID, tier.TierBudgets.TierTokenCap)
		for _, phaseID := range tier.PhaseIDsInOrder {
			phase := rst.phases[phaseID]
			rst.deps.Budgets.RegisterPhase(phaseID, phase.PhaseBudgets.TokenCap)
			rst.deps.Issues.RegisterPhase(rst.run.RunID, rst.run.ProjectID, phaseID, phase.ScopePaths)
		}
	}
	return nil
}

type phaseOutcome int

const (
	outcomeComplete phaseOutcome = iota
	outcomeFailed
	outcomeCancelled
	outcomeBudgetExceeded
	outcomeCIRed
	outcomeInfra
)

// runPhase drives one Phase through the Builder/Auditor iteration loop
// (spec §4.1 steps 1-7), then its CI gate if required.
func (rst *runState) runPhase(phase *runmodel.Phase, tier *runmodel.Tier) phaseOutcome {
	rst.setPhaseState(phase.PhaseID, runmodel.PhaseExecuting)
	rst.publish(events.TypePhaseStatus, events.PhaseStatusData{TierIndex: tier.Index, PhaseID: phase.PhaseID, Status: string(runmodel.PhaseExecuting)})

	for {
		if !rst.getPhase(phase.PhaseID).WithinBuilderAttempts() {
			rst.markPhaseFailed(phase, "builder attempts exhausted")
			return outcomeFailed
		}

		attemptIndex := rst.getPhase(phase.PhaseID).BuilderAttempts + 1
		builderResult, err := rst.awaitBuilderResult(phase.PhaseID, attemptIndex)
		if err != nil {
			return outcomeCancelled
		}

		rst.mu.Lock()
		phase.BuilderAttempts++
		phase.TokensUsed += builderResult.TokensUsed
		rst.run.TokensUsed += builderResult.TokensUsed
		rst.mu.Unlock()

		metrics.RecordPhaseAttempt(string(phase.TaskCategory), float64(builderResult.TokensUsed), float64(builderResult.ElapsedMS)/1000)

		if err := rst.deps.Budgets.Charge(rst.run.RunID, tier.TierID, phase.PhaseID, budgetDelta(builderResult.TokensUsed)); err != nil {
			return outcomeBudgetExceeded
		}

		applyResult, applyErr := rst.git.ApplyPatch(rst.run.IntegrationBranch, string(builderResult.Patch), phase.ScopePaths)
		if applyErr != nil {
			category := "patch_apply"
			if autopackerr.CodeOf(applyErr) == autopackerr.CodeScopeViolation {
				category = "scope_violation"
			}
			rst.deps.Issues.RecordIssue(rst.run.RunID, phase.PhaseID, contracts.Issue{
				IssueKey:    issuetracker.Fingerprint(category, applyErr.Error(), phase.PhaseID),
				Severity:    contracts.SeverityMinor,
				Source:      contracts.IssueSourceBuilder,
				Category:    category,
				Message:     applyErr.Error(),
				EvidenceRef: phase.PhaseID,
			})
			metrics.RecordIssueRecorded(string(contracts.IssueSourceBuilder), string(contracts.SeverityMinor))
			continue // retry with another Builder attempt if any remain
		}
		if applyResult.ModeUsed != gitadapter.ModePlain {
			metrics.RecordPatchApplyEscalation(string(applyResult.ModeUsed))
		}

		rst.mu.Lock()
		phase.AppliedFiles = applyResult.AppliedFiles
		rst.lastPatch[phase.PhaseID] = builderResult.Patch
		rst.lastAttemptIndex[phase.PhaseID] = attemptIndex
		rst.mu.Unlock()

		auditorResult, err := rst.awaitAuditorResult(phase.PhaseID, attemptIndex)
		if err != nil {
			return outcomeCancelled
		}

		rst.mu.Lock()
		phase.AuditorAttempts++
		phase.TokensUsed += auditorResult.TokensUsed
		rst.run.TokensUsed += auditorResult.TokensUsed
		rst.mu.Unlock()
		if err := rst.deps.Budgets.Charge(rst.run.RunID, tier.TierID, phase.PhaseID, budgetDelta(auditorResult.TokensUsed)); err != nil {
			return outcomeBudgetExceeded
		}

		rst.publish(events.TypeAuditorVerdict, map[string]any{"phase_id": phase.PhaseID, "verdict": string(auditorResult.Verdict)})

		for _, issue := range auditorResult.FoundIssues {
			if issue.IssueKey == "" {
				issue.IssueKey = issuetracker.Fingerprint(issue.Category, issue.Message, issue.EvidenceRef)
			}
			rst.deps.Issues.RecordIssue(rst.run.RunID, phase.PhaseID, issue)
			metrics.RecordIssueRecorded(string(issue.Source), string(issue.Severity))
		}

		minorTolerated := rst.rs.MinorIssueTolerance >= 1.0
		if auditorResult.Verdict.IsClean(minorTolerated) {
			rst.recordRuleHints(phase)
			break
		}

		if !rst.getPhase(phase.PhaseID).WithinAuditorAttempts() {
			rst.markPhaseFailed(phase, "auditor attempts exhausted")
			return outcomeFailed
		}
	}

	rst.setPhaseState(phase.PhaseID, runmodel.PhaseGate)
	rst.setRunState(runmodel.StateGate)

	if !phase.RequiresCI {
		rst.setPhaseState(phase.PhaseID, runmodel.PhaseComplete)
		return outcomeComplete
	}

	rst.setRunState(runmodel.StateCIRunning)
	rst.setPhaseState(phase.PhaseID, runmodel.PhaseCIRunning)

	policy, _ := rst.rs.PolicyFor(phase.TaskCategory, phase.Complexity)
	profile := ciProfileFor(policy.CIProfile, rst.rs.CIMaxRetries[policy.CIProfile])

	result, err := rst.ci.Run(rst.ctx, rst.run.IntegrationBranch, profile)
	if err != nil && result == nil {
		return outcomeInfra
	}
	for i := 0; i < result.RetriesUsed; i++ {
		metrics.RecordCIGateRetry(string(cigate.VerdictFlaky))
	}
	rst.publish(events.TypeCIResult, map[string]any{"phase_id": phase.PhaseID, "verdict": string(result.Verdict), "retries": result.RetriesUsed})

	rst.mu.Lock()
	rst.lastCIProfile = policy.CIProfile
	rst.lastCIVerdict = string(result.Verdict)
	rst.hasRunCIBefore = true
	rst.mu.Unlock()

	for _, issue := range result.Issues {
		if issue.IssueKey == "" {
			issue.IssueKey = issuetracker.Fingerprint(issue.Category, issue.Message, issue.EvidenceRef)
		}
		rst.deps.Issues.RecordIssue(rst.run.RunID, phase.PhaseID, issue)
		metrics.RecordIssueRecorded(string(issue.Source), string(issue.Severity))
	}

	if result.Verdict == cigate.VerdictRed {
		rst.markPhaseFailed(phase, "ci gate returned red")
		return outcomeCIRed
	}

	rst.setPhaseState(phase.PhaseID, runmodel.PhaseComplete)
	return outcomeComplete
}

func budgetDelta(tokens int64) budget.Delta {
	return budget.Delta{Tokens: tokens}
}

func ciProfileFor(kind runmodel.CIProfile, maxRetries int) cigate.Profile {
	var profile cigate.Profile
	if kind == runmodel.CIProfileStrict {
		profile = cigate.DefaultStrictProfile()
	} else {
		profile = cigate.DefaultNormalProfile()
	}
	if maxRetries > 0 {
		profile.MaxRetries = maxRetries
	}
	return profile
}

// recordRuleHints records one RunRuleHint for phase when any issue was
// recorded against it during the Run (spec §4.1 step 7). The hint carries
// every recorded issue_key and is worded from the first returned issue's
// category. Issues are not filtered by severity, and whether they are
// absent from the final Auditor result is not checked.
func (rst *runState) recordRuleHints(phase *runmodel.Phase) {
	issues := rst.deps.Issues.GetPhaseIssues(rst.run.RunID, phase.PhaseID)
	if len(issues) == 0 {
		return
	}
	var keys []string
	for _, issue := range issues {
		keys = append(keys, issue.IssueKey)
	}
	hint := learnedrules.GenerateHint(issues[0].Category, phase.ScopePaths)
	rst.deps.LearnedRules.RecordRunHint(rst.run.RunID, learnedrules.RunRuleHint{
		PhaseID:         phase.PhaseID,
		TaskCategory:    phase.TaskCategory,
		ScopePaths:      phase.ScopePaths,
		SourceIssueKeys: keys,
		HintText:        hint,
	})
}

// awaitBuilderResult blocks until a matching Builder submission arrives on
// the inbox, the Run is cancelled, or the context is done. Messages that
// don't match the phase/attempt currently awaited are NACKed immediately
// rather than queued, so a stray or duplicate submission never wedges the
// worker.
func (rst *runState) awaitBuilderResult(phaseID string, attemptIndex int) (*contracts.BuilderResult, error) {
	for {
		select {
		case <-rst.ctx.Done():
			return nil, rst.ctx.Err()
		case msg := <-rst.inbox:
			switch msg.kind {
			case msgBuilderResult:
				if msg.builderResult.PhaseID == phaseID && msg.builderResult.AttemptIndex == attemptIndex {
					msg.reply <- workerReply{ack: ack()}
					return msg.builderResult, nil
				}
				msg.reply <- workerReply{err: invalidTransitionErr("not awaiting this builder attempt")}
			case msgAuditorResult:
				msg.reply <- workerReply{err: invalidTransitionErr("awaiting a builder attempt, not an auditor result")}
			case msgStatusUpdate:
				rst.applyStatusUpdate(msg.status)
				msg.reply <- workerReply{ack: ack()}
			}
		}
	}
}

func (rst *runState) awaitAuditorResult(phaseID string, attemptIndex int) (*contracts.AuditorResult, error) {
	for {
		select {
		case <-rst.ctx.Done():
			return nil, rst.ctx.Err()
		case msg := <-rst.inbox:
			switch msg.kind {
			case msgAuditorResult:
				if msg.auditorResult.PhaseID == phaseID && msg.auditorResult.AttemptIndex == attemptIndex {
					msg.reply <- workerReply{ack: ack()}
					return msg.auditorResult, nil
				}
				msg.reply <- workerReply{err: invalidTransitionErr("not awaiting this auditor attempt")}
			case msgBuilderResult:
				msg.reply <- workerReply{err: invalidTransitionErr("awaiting an auditor result, not a builder attempt")}
			case msgStatusUpdate:
				rst.applyStatusUpdate(msg.status)
				msg.reply <- workerReply{ack: ack()}
			}
		}
	}
}

// applyStatusUpdate handles a POST .../update_status call that arrived
// while the worker was waiting on something else: it records evidence and,
// when legal, nudges the named Phase's state.
func (rst *runState) applyStatusUpdate(u *statusUpdate) {
	rst.mu.Lock()
	defer rst.mu.Unlock()

	phase, ok := rst.phases[u.PhaseID]
	if !ok {
		return
	}
	if u.Evidence != "" {
		phase.ArtifactRefs = append(phase.ArtifactRefs, u.Evidence)
	}
	if u.State != "" && !phase.State.IsTerminal() {
		phase.State = u.State
	}
}

func (rst *runState) getPhase(phaseID string) *runmodel.Phase {
	rst.mu.RLock()
	defer rst.mu.RUnlock()
	return rst.phases[phaseID]
}

func (rst *runState) setRunState(s runmodel.RunState) {
	rst.mu.Lock()
	rst.run.State = s
	rst.mu.Unlock()
}

func (rst *runState) setTierState(tierID string, s runmodel.TierState) {
	rst.mu.Lock()
	defer rst.mu.Unlock()
	if t, ok := rst.tierByID[tierID]; ok {
		t.State = s
	}
}

func (rst *runState) setPhaseState(phaseID string, s runmodel.PhaseState) {
	rst.mu.Lock()
	defer rst.mu.Unlock()
	if p, ok := rst.phases[phaseID]; ok {
		p.State = s
	}
}

func (rst *runState) markPhaseFailed(phase *runmodel.Phase, reason string) {
	rst.mu.Lock()
	phase.State = runmodel.PhaseFailed
	phase.LastFailureReason = reason
	rst.mu.Unlock()
}

func (rst *runState) incPhasesUsed() {
	rst.mu.Lock()
	rst.run.PhasesUsed++
	rst.mu.Unlock()
}

func (rst *runState) runBudgetOK(phase *runmodel.Phase) bool {
	return !rst.deps.Budgets.RunExhausted(rst.run.RunID)
}

func (rst *runState) publish(t events.Type, data any) {
	rst.deps.Publisher.Publish(events.New(t, rst.run.RunID, data))
}

func (rst *runState) finishSuccess() {
	rst.mu.Lock()
	rst.run.State = runmodel.StateDoneSuccess
	rst.mu.Unlock()
	rst.finalize("")
}

func (rst *runState) finishFailed(state runmodel.RunState, reason string) {
	rst.mu.Lock()
	rst.run.State = state
	rst.run.FailureReason = reason
	if state == runmodel.StateDoneFailedPolicy && reason == "cancelled" {
		rst.run.Cancelled = true
	}
	rst.mu.Unlock()
	rst.finalize(reason)
}

// finalize runs the once-per-run wrap-up steps common to every terminal
// state: fold issues into the project backlog, promote run hints into
// LearnedRules, persist both, write the run_summary artifact, publish the
// completion event and terminal metric.
func (rst *runState) finalize(reason string) {
	rst.mu.RLock()
	runCopy := *rst.run
	rst.mu.RUnlock()

	unlockProject := rst.deps.Locks.AcquireProject(runCopy.ProjectID)
	rst.deps.Issues.OnRunComplete(runCopy.RunID, rst.rs.AgingThresholdRuns)
	promoted := rst.deps.LearnedRules.PromoteHintsToRules(runCopy.RunID, runCopy.ProjectID, rst.rs.PromotionThreshold)
	unlockProject()

	if store, err := rst.deps.Stores.Store(runCopy.ProjectID); err == nil {
		for key, entry := range rst.deps.Issues.GetProjectBacklog(runCopy.ProjectID) {
			_ = key
			_ = store.SaveBacklogEntry(runCopy.ProjectID, entry)
		}
		for _, rule := range promoted {
			_ = store.SaveLearnedRule(runCopy.ProjectID, rule)
		}
		_ = store.RecordStrategyHash(runCopy.RunID, runCopy.ProjectID, rst.rs.Hash)
	}

	_ = filelayout.WriteJSON(rst.layout.RunSummaryPath(), rst.view())

	failureSink := ""
	if reason != "" {
		failureSink = strings.ToLower(strings.TrimPrefix(string(runCopy.State), "DONE_FAILED_"))
	}
	metrics.RecordRunTerminated(string(runCopy.State), failureSink)
	rst.publish(events.TypeRunComplete, events.RunCompleteData{Status: string(runCopy.State), Duration: runCopy.Duration.String()})
}
