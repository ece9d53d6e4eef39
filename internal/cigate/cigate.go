// Package cigate implements the CIGate capability (spec §4.7): runs a
// configured CI profile against an integration branch with bounded,
// exponential-backoff retry on flaky verdicts. Retry/backoff shape is
// grounded on marcus-qen-legator's internal/controlplane/jobs retry
// policy resolver.
package cigate

import (
	"context"
	"math"
	"time"

	"github.com/autopack-dev/autopack/internal/autopackerr"
	"github.com/autopack-dev/autopack/internal/contracts"
)

// Verdict is the outcome of one CIGate run.
type Verdict string

const (
	VerdictGreen Verdict = "green"
	VerdictRed   Verdict = "red"
	VerdictFlaky Verdict = "flaky"
)

// Profile selects which suites a run exercises (spec §4.7: normal ==
// unit+integration, strict adds e2e and safety-critical suites).
type Profile struct {
	Name              string
	MaxRetries        int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	Timeout           time.Duration
	Strict            bool
}

// DefaultNormalProfile is the baseline "normal" CI profile.
func DefaultNormalProfile() Profile {
	return Profile{
		Name:              "normal",
		MaxRetries:        2,
		InitialBackoff:    5 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        60 * time.Second,
		Timeout:           10 * time.Minute,
	}
}

// DefaultStrictProfile adds e2e and safety-critical suites on top of normal.
func DefaultStrictProfile() Profile {
	p := DefaultNormalProfile()
	p.Name = "strict"
	p.Strict = true
	p.MaxRetries = 1 // strict suites are expensive; retry budget is tighter
	p.Timeout = 30 * time.Minute
	return p
}

func (p Profile) nextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(attempt-1)))
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

// Runner executes one CI attempt against a branch. Swappable per §4.6's
// capability-interface design: the core knows nothing about the concrete
// CI system.
type Runner interface {
	RunOnce(ctx context.Context, branch string, profile Profile) (Attempt, error)
}

// Attempt is a single CI execution's raw result, before conversion to
// contracts.Issue.
type Attempt struct {
	Verdict  Verdict
	Failures []Failure
}

// Failure is one CI-reported test or suite failure.
type Failure struct {
	Suite       string
	Message     string
	EvidenceRef string
}

// Result is CIGate.Run's return value (spec §4.7 contract).
type Result struct {
	Verdict     Verdict
	Issues      []contracts.Issue
	RetriesUsed int
}

// Gate runs Runner with the retry/backoff policy.
type Gate struct {
	runner Runner
	sleep  func(time.Duration)
}

// New creates a Gate backed by runner. sleep defaults to time.Sleep; tests
// inject a no-op to keep runs fast.
func New(runner Runner) *Gate {
	return &Gate{runner: runner, sleep: time.Sleep}
}

// WithSleepFunc overrides the backoff sleep (used by tests).
func (g *Gate) WithSleepFunc(fn func(time.Duration)) *Gate {
	g.sleep = fn
	return g
}

// Run executes profile against branch, retrying flaky verdicts up to
// profile.MaxRetries times with exponential backoff (spec §4.7). A red
// verdict is terminal immediately, never retried. CI-reported failures are
// converted into Issues with source=ci.
func (g *Gate) Run(ctx context.Context, branch string, profile Profile) (*Result, error) {
	var lastAttempt Attempt
	retries := 0

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "ci gate cancelled", ctx.Err())
		default:
		}

		runCtx := ctx
		var cancel context.CancelFunc
		if profile.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, profile.Timeout)
		}
		a, err := g.runner.RunOnce(runCtx, branch, profile)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			return nil, autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "ci runner unreachable", err)
		}
		lastAttempt = a

		if a.Verdict != VerdictFlaky {
			break
		}
		if attempt > profile.MaxRetries {
			break
		}
		retries++
		g.sleep(profile.nextDelay(attempt))
	}

	result := &Result{Verdict: lastAttempt.Verdict, RetriesUsed: retries}
	for _, f := range lastAttempt.Failures {
		result.Issues = append(result.Issues, contracts.Issue{
			IssueKey:    "",
			Severity:    contracts.SeverityMajor,
			Source:      contracts.IssueSourceCI,
			Category:    f.Suite,
			Message:     f.Message,
			EvidenceRef: f.EvidenceRef,
		})
	}

	if result.Verdict == VerdictRed {
		return result, autopackerr.Withf(autopackerr.CodeCIRed, "ci gate returned red", "branch=%s retries=%d", branch, retries)
	}
	return result, nil
}
