// Package budget implements the BudgetAccountant (spec §4.5): centralized,
// O(1) accounting of tokens against run, tier, and phase caps. Only tokens
// are accounted: Delta.WallClockDelta is accepted but not recorded, and
// phase counts and wall time are not tracked by this package.
package budget

import (
	"sync"
	"time"

	"github.com/autopack-dev/autopack/internal/autopackerr"
)

// Delta is one accounting charge (spec §4.5 Charge contract).
type Delta struct {
	Tokens         int64
	WallClockDelta time.Duration
}

type caps struct {
	tokenCap int64
	used     int64
}

// Accountant tracks budgets for runs, tiers, and phases. All charges are
// atomic with respect to state reads (spec §4.5): the Supervisor treats
// ErrBudgetExceeded as a hard terminal error for the affected scope.
type Accountant struct {
	mu sync.Mutex

	runCaps   map[string]*caps
	tierCaps  map[string]*caps
	phaseCaps map[string]*caps

	phaseAttempts map[string]int // phase_id -> reserved attempt count, advisory only
}

// New creates an empty Accountant.
func New() *Accountant {
	return &Accountant{
		runCaps:       map[string]*caps{},
		tierCaps:      map[string]*caps{},
		phaseCaps:     map[string]*caps{},
		phaseAttempts: map[string]int{},
	}
}

// RegisterRun declares a run's token cap. Must be called once at
// RUN_CREATED before any Charge for that run.
func (a *Accountant) RegisterRun(runID string, tokenCap int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runCaps[runID] = &caps{tokenCap: tokenCap}
}

// RegisterTier declares a tier's token cap.
func (a *Accountant) RegisterTier(tierID string, tokenCap int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tierCaps[tierID] = &caps{tokenCap: tokenCap}
}

// RegisterPhase declares a phase's token cap. A zero cap means the phase is
// immediately terminal on the first charge (spec §8 boundary behavior).
func (a *Accountant) RegisterPhase(phaseID string, tokenCap int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.phaseCaps[phaseID] = &caps{tokenCap: tokenCap}
}

// Reserve is an advisory preflight check: it verifies a token_estimate
// would fit before a Builder request is issued, without charging anything
// (spec §4.5). Required only when RunStrategy says preflight is mandatory.
func (a *Accountant) Reserve(runID, phaseID string, tokenEstimate int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.phaseCaps[phaseID]; ok && p.used+tokenEstimate > p.tokenCap {
		return autopackerr.Withf(autopackerr.CodeBudgetExceeded, "phase token reservation would exceed cap", "phase=%s estimate=%d remaining=%d", phaseID, tokenEstimate, p.tokenCap-p.used)
	}
	if r, ok := a.runCaps[runID]; ok && r.used+tokenEstimate > r.tokenCap {
		return autopackerr.Withf(autopackerr.CodeBudgetExceeded, "run token reservation would exceed cap", "run=%s estimate=%d remaining=%d", runID, tokenEstimate, r.tokenCap-r.used)
	}
	return nil
}

// Charge atomically debits tokens against the phase, tier (optional), and
// run caps. The core trusts BuilderResult.tokens_used /
// AuditorResult.tokens_used as authoritative (spec §4.5): it never
// recomputes them. Charges are applied even when they overshoot the cap
// (the overage is recorded, matching spec §8 scenario 4), but the call
// returns ErrBudgetExceeded the first time a charge would violate any cap
// so the caller can treat it as terminal.
func (a *Accountant) Charge(runID, tierID, phaseID string, delta Delta) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var exceeded error

	if p, ok := a.phaseCaps[phaseID]; ok {
		wasWithin := p.used <= p.tokenCap
		p.used += delta.Tokens
		if wasWithin && p.used > p.tokenCap {
			exceeded = autopackerr.Withf(autopackerr.CodeBudgetExceeded, "phase token cap exceeded", "phase=%s used=%d cap=%d", phaseID, p.used, p.tokenCap)
		} else if p.tokenCap == 0 && delta.Tokens >= 0 {
			exceeded = autopackerr.Withf(autopackerr.CodeBudgetExceeded, "phase token cap exceeded", "phase=%s used=%d cap=%d", phaseID, p.used, p.tokenCap)
		}
	}

	if tierID != "" {
		if tc, ok := a.tierCaps[tierID]; ok {
			wasWithin := tc.used <= tc.tokenCap
			tc.used += delta.Tokens
			if wasWithin && tc.used > tc.tokenCap && exceeded == nil {
				exceeded = autopackerr.Withf(autopackerr.CodeBudgetExceeded, "tier token cap exceeded", "tier=%s used=%d cap=%d", tierID, tc.used, tc.tokenCap)
			}
		}
	}

	if r, ok := a.runCaps[runID]; ok {
		wasWithin := r.used <= r.tokenCap
		r.used += delta.Tokens
		if wasWithin && r.used > r.tokenCap && exceeded == nil {
			exceeded = autopackerr.Withf(autopackerr.CodeBudgetExceeded, "run token cap exceeded", "run=%s used=%d cap=%d", runID, r.used, r.tokenCap)
		}
	}

	return exceeded
}

// Remaining reports remaining budget for a phase.
type Remaining struct {
	Tokens int64
}

// RemainingFor returns the remaining token budget for phaseID.
func (a *Accountant) RemainingFor(phaseID string) Remaining {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.phaseCaps[phaseID]
	if !ok {
		return Remaining{}
	}
	remaining := p.tokenCap - p.used
	if remaining < 0 {
		remaining = 0
	}
	return Remaining{Tokens: remaining}
}

// RunTokensUsed returns the authoritative tokens_used for a run, including
// any overage from the charge that tipped it past the cap (spec §8
// scenario 4: "the overage is recorded, but no further charges accepted").
func (a *Accountant) RunTokensUsed(runID string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r, ok := a.runCaps[runID]; ok {
		return r.used
	}
	return 0
}

// RunExhausted reports whether a run's token usage has reached or exceeded
// its cap.
func (a *Accountant) RunExhausted(runID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.runCaps[runID]
	if !ok {
		return false
	}
	return r.used >= r.tokenCap
}
