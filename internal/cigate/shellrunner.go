package cigate

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// Suite is one named command a ShellRunner executes, e.g. `go test ./...`
// or `golangci-lint run`.
type Suite struct {
	Name    string
	Command string
	// StrictOnly marks a suite that only runs under a strict Profile
	// (e2e and safety-critical suites, spec §4.7).
	StrictOnly bool
}

// ShellRunner is the default Runner: it shells out to a configured set of
// suites (build/lint/test/typecheck) and aggregates pass/fail with output
// capture, the same way randalmurphal-orc's executor.QualityCheckRunner
// runs project commands against a worktree.
type ShellRunner struct {
	workDir string
	suites  []Suite
	logger  *slog.Logger
	shell   string
}

// NewShellRunner creates a ShellRunner rooted at workDir, running suites in
// order. A failing non-strict suite still reports red; strict-only suites
// are skipped unless the profile passed to RunOnce has Strict set.
func NewShellRunner(workDir string, suites []Suite, logger *slog.Logger) *ShellRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShellRunner{workDir: workDir, suites: suites, logger: logger, shell: detectShell()}
}

func detectShell() string {
	if _, err := exec.LookPath("bash"); err == nil {
		return "bash"
	}
	if _, err := exec.LookPath("sh"); err == nil {
		return "sh"
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "sh"
}

// RunOnce checks out branch implicitly (the caller is responsible for the
// working tree already being on branch) and runs every applicable suite
// sequentially, short-circuiting on the first failure it finds but still
// recording all prior successes.
func (r *ShellRunner) RunOnce(ctx context.Context, branch string, profile Profile) (Attempt, error) {
	attempt := Attempt{Verdict: VerdictGreen}

	for _, suite := range r.suites {
		if suite.StrictOnly && !profile.Strict {
			continue
		}

		passed, output, timedOut := r.runSuite(ctx, suite)
		if passed {
			continue
		}

		if timedOut {
			attempt.Verdict = VerdictFlaky
			attempt.Failures = append(attempt.Failures, Failure{
				Suite:       suite.Name,
				Message:     fmt.Sprintf("suite timed out: %s", truncateOutput(output, 2000)),
				EvidenceRef: suite.Name,
			})
			break
		}

		attempt.Verdict = VerdictRed
		attempt.Failures = append(attempt.Failures, Failure{
			Suite:       suite.Name,
			Message:     truncateOutput(output, 4000),
			EvidenceRef: suite.Name,
		})
		break
	}

	return attempt, nil
}

// runSuite executes a single suite command and reports success, captured
// output, and whether the caller's context (the gate's profile timeout or a
// cancellation) ended before the suite finished; suites carry no deadline
// of their own.
func (r *ShellRunner) runSuite(ctx context.Context, suite Suite) (passed bool, output string, timedOut bool) {
	r.logger.Debug("ci suite starting", "suite", suite.Name, "command", suite.Command)

	cmd := exec.CommandContext(ctx, r.shell, "-c", suite.Command)
	cmd.Dir = r.workDir
	cmd.Env = append(os.Environ(), "GOWORK=off")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := stdout.String()
	if stderr.Len() > 0 {
		if out != "" {
			out += "\n"
		}
		out += stderr.String()
	}

	if ctx.Err() != nil {
		r.logger.Warn("ci suite cancelled or timed out", "suite", suite.Name)
		return false, out, true
	}

	passed = err == nil
	r.logger.Info("ci suite finished", "suite", suite.Name, "passed", passed)
	return passed, out, false
}

func truncateOutput(output string, maxLen int) string {
	if len(output) <= maxLen {
		return output
	}
	return "...[truncated]\n" + output[len(output)-maxLen:]
}

// DefaultGoSuites returns the conventional Go build/vet/test/lint suite
// set, run in order: a fast failure (build break) is reported before
// spending time on the full test suite.
func DefaultGoSuites() []Suite {
	return []Suite{
		{Name: "build", Command: "go build ./..."},
		{Name: "vet", Command: "go vet ./..."},
		{Name: "test", Command: "go test ./..."},
		{Name: "lint", Command: "golangci-lint run", StrictOnly: true},
		{Name: "e2e", Command: "go test -tags=e2e ./...", StrictOnly: true},
	}
}
