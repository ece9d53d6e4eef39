// Package gitadapter implements the GitAdapter capability (spec §4.6):
// integration-branch management and patch application with a bounded
// escalation ladder, grounded on the protected-branch and worktree-safety
// discipline of randalmurphal/orc's internal/git package, adapted to shell
// out to git directly (no devflow dependency is fetchable here).
package gitadapter

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/autopack-dev/autopack/internal/autopackerr"
)

// ApplyMode names one rung of the patch-apply escalation ladder (spec
// §4.1 step 4 / §7).
type ApplyMode string

const (
	ModePlain               ApplyMode = "plain"
	ModeIgnoreWhitespace    ApplyMode = "ignore_whitespace"
	ModeThreeWay            ApplyMode = "three_way"
	ModeDirectWriteFallback ApplyMode = "direct_write_fallback"
)

// escalationOrder is the fixed sequence tried by ApplyPatch.
var escalationOrder = []ApplyMode{ModePlain, ModeIgnoreWhitespace, ModeThreeWay, ModeDirectWriteFallback}

// DefaultProtectedBranches mirrors the branches that must never receive a
// direct write from an automated Builder.
var DefaultProtectedBranches = []string{"main", "master", "develop", "release"}

// ApplyResult reports which rung of the ladder succeeded.
type ApplyResult struct {
	Applied      bool
	ModeUsed     ApplyMode
	AttemptLog   []string
	AppliedFiles []string
}

// StatusResult mirrors `git status --porcelain` for a working tree.
type StatusResult struct {
	Clean        bool
	ChangedPaths []string
}

// Adapter shells out to the system git binary. A single Adapter is scoped
// to one repository checkout; run isolation is the caller's responsibility
// (one checkout per run, per spec §5).
type Adapter struct {
	repoDir           string
	protectedBranches []string
	log               *slog.Logger
}

// Config configures an Adapter.
type Config struct {
	RepoDir           string
	ProtectedBranches []string
	Logger            *slog.Logger
}

// New creates an Adapter rooted at cfg.RepoDir.
func New(cfg Config) *Adapter {
	protected := cfg.ProtectedBranches
	if len(protected) == 0 {
		protected = DefaultProtectedBranches
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{repoDir: cfg.RepoDir, protectedBranches: protected, log: logger}
}

func (a *Adapter) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = a.repoDir
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(errBuf.String()))
	}
	return out.String(), nil
}

// IsProtected reports whether branch is in the protected set.
func (a *Adapter) IsProtected(branch string) bool {
	for _, p := range a.protectedBranches {
		if branch == p {
			return true
		}
	}
	return false
}

// EnsureIntegrationBranch creates runID's integration branch from
// baseBranch if it doesn't already exist locally (spec §4.1 step 1). It
// refuses to operate when the integration branch name collides with a
// protected branch.
func (a *Adapter) EnsureIntegrationBranch(branchName, baseBranch string) error {
	if a.IsProtected(branchName) {
		return autopackerr.Withf(autopackerr.CodePolicyViolation, "refusing to use a protected branch as an integration branch", "branch=%s", branchName)
	}

	if _, err := a.run("show-ref", "--verify", "--quiet", "refs/heads/"+branchName); err == nil {
		return nil // already exists
	}

	if _, err := a.run("rev-parse", "--verify", baseBranch); err != nil {
		if _, ferr := a.run("fetch", "origin", baseBranch); ferr != nil {
			return autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "base branch unavailable locally or on remote", ferr)
		}
	}

	if _, err := a.run("branch", branchName, baseBranch); err != nil {
		return autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "create integration branch failed", err)
	}
	return nil
}

// patchTouchesOnlyScope rejects a patch before it is ever applied if it
// targets a path outside every allowed scope glob (spec §4.2 scope
// enforcement, grounded on doublestar matching). With no scope globs every
// path is outside, so the first path is reported as offending.
func patchTouchesOnlyScope(patchPaths, scopeGlobs []string) (bool, string) {
	for _, p := range patchPaths {
		matched := false
		for _, g := range scopeGlobs {
			if ok, _ := doublestar.Match(g, p); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false, p
		}
	}
	return true, ""
}

// extractPatchPaths parses the `diff --git a/X b/Y` header lines of a
// unified diff to recover the touched file paths, without needing to
// apply the patch first.
func extractPatchPaths(patch string) []string {
	var paths []string
	for _, line := range strings.Split(patch, "\n") {
		if !strings.HasPrefix(line, "diff --git ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		b := fields[3]
		paths = append(paths, strings.TrimPrefix(b, "b/"))
	}
	return paths
}

// ApplyPatch applies a unified diff to branchName, walking the escalation
// ladder plain -> ignore_whitespace -> three_way -> direct_write_fallback
// (spec §4.1 step 4). Never writes to a protected branch. Enforces the
// phase's declared scope globs before attempting any rung.
func (a *Adapter) ApplyPatch(branchName, patch string, scopeGlobs []string) (*ApplyResult, error) {
	if a.IsProtected(branchName) {
		return nil, autopackerr.Withf(autopackerr.CodePolicyViolation, "refusing to write to a protected branch", "branch=%s", branchName)
	}

	paths := extractPatchPaths(patch)
	if ok, offending := patchTouchesOnlyScope(paths, scopeGlobs); !ok {
		return nil, autopackerr.Withf(autopackerr.CodeScopeViolation, "patch touches a path outside the declared scope", "path=%s", offending)
	}

	if _, err := a.run("checkout", branchName); err != nil {
		return nil, autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "checkout integration branch failed", err)
	}

	result := &ApplyResult{}
	patchFile, err := writeTempPatch(patch)
	if err != nil {
		return nil, autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "write temp patch failed", err)
	}
	defer os.Remove(patchFile)

	for _, mode := range escalationOrder {
		applied, attemptErr := a.tryApply(mode, patchFile, patch)
		result.AttemptLog = append(result.AttemptLog, fmt.Sprintf("%s: %v", mode, attemptErrString(attemptErr)))
		if applied {
			result.Applied = true
			result.ModeUsed = mode
			result.AppliedFiles = paths
			a.log.Info("patch applied", "branch", branchName, "mode", mode)
			return result, nil
		}
	}

	return result, autopackerr.Withf(autopackerr.CodePatchApplyFailed, "patch failed at every escalation rung", "branch=%s attempts=%v", branchName, result.AttemptLog)
}

func attemptErrString(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

func writeTempPatch(patch string) (string, error) {
	f, err := os.CreateTemp("", "autopack-*.patch")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(patch); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func (a *Adapter) tryApply(mode ApplyMode, patchFile, rawPatch string) (bool, error) {
	switch mode {
	case ModePlain:
		_, err := a.run("apply", "--index", patchFile)
		return err == nil, err
	case ModeIgnoreWhitespace:
		_, err := a.run("apply", "--index", "--ignore-whitespace", "--whitespace=fix", patchFile)
		return err == nil, err
	case ModeThreeWay:
		_, err := a.run("apply", "--index", "--3way", patchFile)
		return err == nil, err
	case ModeDirectWriteFallback:
		return a.directWriteFallback(rawPatch)
	default:
		return false, fmt.Errorf("unknown apply mode %q", mode)
	}
}

// directWriteFallback is the last rung: it writes the patch's target file
// contents directly using `git apply --reject` to salvage the hunks that
// do apply, then stages whatever landed. This never touches a protected
// branch (checked by the caller before any rung is attempted).
func (a *Adapter) directWriteFallback(rawPatch string) (bool, error) {
	patchFile, err := writeTempPatch(rawPatch)
	if err != nil {
		return false, err
	}
	defer os.Remove(patchFile)

	_, err = a.run("apply", "--reject", "--whitespace=fix", patchFile)
	rejectFiles, _ := a.run("diff", "--name-only")
	if strings.TrimSpace(rejectFiles) == "" {
		return false, err
	}
	if _, addErr := a.run("add", "-A"); addErr != nil {
		return false, addErr
	}
	return true, nil
}

// TagCommit creates a lightweight marker commit, used by the Supervisor to
// mark tier/phase boundaries in the integration branch history.
func (a *Adapter) TagCommit(branchName, message string) (string, error) {
	if a.IsProtected(branchName) {
		return "", autopackerr.Withf(autopackerr.CodePolicyViolation, "refusing to commit to a protected branch", "branch=%s", branchName)
	}
	if _, err := a.run("commit", "--allow-empty", "-m", message); err != nil {
		return "", autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "tag commit failed", err)
	}
	sha, err := a.run("rev-parse", "HEAD")
	if err != nil {
		return "", autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "read HEAD failed", err)
	}
	return strings.TrimSpace(sha), nil
}

// Status reports the working tree status for branchName.
func (a *Adapter) Status(branchName string) (*StatusResult, error) {
	if _, err := a.run("checkout", branchName); err != nil {
		return nil, autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "checkout for status failed", err)
	}
	out, err := a.run("status", "--porcelain")
	if err != nil {
		return nil, autopackerr.Wrap(autopackerr.CodeInfraUnavailable, "status failed", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return &StatusResult{Clean: true}, nil
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		paths = append(paths, strings.TrimSpace(line[3:]))
	}
	return &StatusResult{Clean: false, ChangedPaths: paths}, nil
}

// IntegrationBranchPath returns the filesystem checkout path an Adapter
// operates on, useful for diagnostics.
func (a *Adapter) IntegrationBranchPath() string {
	return filepath.Clean(a.repoDir)
}
