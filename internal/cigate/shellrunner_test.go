package cigate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestShellRunnerAllSuitesPassYieldsGreen(t *testing.T) {
	dir := t.TempDir()
	suites := []Suite{{Name: "noop", Command: "true"}}
	r := NewShellRunner(dir, suites, nil)

	attempt, err := r.RunOnce(context.Background(), "main", DefaultNormalProfile())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if attempt.Verdict != VerdictGreen {
		t.Errorf("Verdict = %v, want green", attempt.Verdict)
	}
	if len(attempt.Failures) != 0 {
		t.Errorf("Failures = %v, want none", attempt.Failures)
	}
}

func TestShellRunnerFailingSuiteYieldsRed(t *testing.T) {
	dir := t.TempDir()
	suites := []Suite{{Name: "broken", Command: "echo boom && false"}}
	r := NewShellRunner(dir, suites, nil)

	attempt, err := r.RunOnce(context.Background(), "main", DefaultNormalProfile())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if attempt.Verdict != VerdictRed {
		t.Errorf("Verdict = %v, want red", attempt.Verdict)
	}
	if len(attempt.Failures) != 1 || attempt.Failures[0].Suite != "broken" {
		t.Errorf("Failures = %+v, want one failure from suite broken", attempt.Failures)
	}
	if want := "boom"; !strings.Contains(attempt.Failures[0].Message, want) {
		t.Errorf("failure message = %q, want to contain %q", attempt.Failures[0].Message, want)
	}
}

func TestShellRunnerStrictOnlySuiteSkippedUnderNormalProfile(t *testing.T) {
	dir := t.TempDir()
	suites := []Suite{{Name: "e2e", Command: "false", StrictOnly: true}}
	r := NewShellRunner(dir, suites, nil)

	attempt, err := r.RunOnce(context.Background(), "main", DefaultNormalProfile())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if attempt.Verdict != VerdictGreen {
		t.Errorf("Verdict = %v, want green (strict-only suite must be skipped)", attempt.Verdict)
	}
}

func TestShellRunnerStrictOnlySuiteRunsUnderStrictProfile(t *testing.T) {
	dir := t.TempDir()
	suites := []Suite{{Name: "e2e", Command: "false", StrictOnly: true}}
	r := NewShellRunner(dir, suites, nil)

	attempt, err := r.RunOnce(context.Background(), "main", DefaultStrictProfile())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if attempt.Verdict != VerdictRed {
		t.Errorf("Verdict = %v, want red (strict-only suite should run under strict profile)", attempt.Verdict)
	}
}

func TestShellRunnerUsesWorkDir(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker.txt")
	suites := []Suite{{Name: "touch", Command: "pwd > marker.txt"}}
	r := NewShellRunner(dir, suites, nil)

	attempt, err := r.RunOnce(context.Background(), "main", DefaultNormalProfile())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if attempt.Verdict != VerdictGreen {
		t.Fatalf("Verdict = %v, want green", attempt.Verdict)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("expected marker file in workDir: %v", err)
	}
}

func TestGateIntegratesWithShellRunner(t *testing.T) {
	dir := t.TempDir()
	suites := []Suite{{Name: "tests", Command: "true"}}
	runner := NewShellRunner(dir, suites, nil)
	gate := New(runner)

	result, err := gate.Run(context.Background(), "main", DefaultNormalProfile())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Verdict != VerdictGreen {
		t.Errorf("Verdict = %v, want green", result.Verdict)
	}
}
