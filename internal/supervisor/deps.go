package supervisor

import (
	"log/slog"

	"github.com/autopack-dev/autopack/internal/budget"
	"github.com/autopack-dev/autopack/internal/cigate"
	"github.com/autopack-dev/autopack/internal/config"
	"github.com/autopack-dev/autopack/internal/events"
	"github.com/autopack-dev/autopack/internal/filelayout"
	"github.com/autopack-dev/autopack/internal/gitadapter"
	"github.com/autopack-dev/autopack/internal/issuetracker"
	"github.com/autopack-dev/autopack/internal/learnedrules"
	"github.com/autopack-dev/autopack/internal/lock"
	"github.com/autopack-dev/autopack/internal/projectstore"
)

// RulesetProvider resolves a project's compiled ruleset. Grounded on
// config.LoadRuleset; a real deployment backs this with a cached loader
// keyed by project_id, one ruleset file per project.
type RulesetProvider interface {
	Ruleset(projectID string) (*config.ProjectRuleset, error)
}

// RulesetProviderFunc adapts a plain function to RulesetProvider.
type RulesetProviderFunc func(projectID string) (*config.ProjectRuleset, error)

// Ruleset calls f.
func (f RulesetProviderFunc) Ruleset(projectID string) (*config.ProjectRuleset, error) {
	return f(projectID)
}

// ProjectRepo resolves the working-tree checkout a project's GitAdapter and
// CIGate operate against, and the branch new integration branches fork
// from.
type ProjectRepo struct {
	WorkDir    string
	BaseBranch string
}

// ProjectRepoProvider resolves a project's repository location.
type ProjectRepoProvider interface {
	Repo(projectID string) (ProjectRepo, error)
}

// ProjectRepoProviderFunc adapts a plain function to ProjectRepoProvider.
type ProjectRepoProviderFunc func(projectID string) (ProjectRepo, error)

// Repo calls f.
func (f ProjectRepoProviderFunc) Repo(projectID string) (ProjectRepo, error) {
	return f(projectID)
}

// ProjectStoreProvider resolves the persistent store for a project. One
// projectstore.Store backs one sqlite file; callers typically keep a
// map[project_id]*projectstore.Store and wrap it in a
// ProjectStoreProviderFunc.
type ProjectStoreProvider interface {
	Store(projectID string) (*projectstore.Store, error)
}

// ProjectStoreProviderFunc adapts a plain function to ProjectStoreProvider.
type ProjectStoreProviderFunc func(projectID string) (*projectstore.Store, error)

// Store calls f.
func (f ProjectStoreProviderFunc) Store(projectID string) (*projectstore.Store, error) {
	return f(projectID)
}

// Deps bundles every collaborator capability the Supervisor composes (spec
// §2: StrategyEngine, BudgetAccountant, IssueTracker, LearnedRules,
// GitAdapter, CIGate, ControlPlane-facing event/metrics sinks). Grounded on
// randalmurphal-orc's Orchestrator constructor, which likewise takes its
// git/prompt/backend collaborators as fields rather than globals.
type Deps struct {
	Rulesets     RulesetProvider
	Repos        ProjectRepoProvider
	Stores       ProjectStoreProvider
	LearnedRules *learnedrules.Store
	Issues       *issuetracker.Tracker
	Budgets      *budget.Accountant
	Locks        *lock.Manager
	Publisher    events.Publisher
	RunsDir      string // autonomous_runs_dir root for filelayout.Layout
	Logger       *slog.Logger
	CISuites     []cigate.Suite // defaults to cigate.DefaultGoSuites() if nil

	// MaxConcurrentRuns bounds how many Run workers actually execute their
	// Phase loop at once; additional StartRun calls queue in
	// PLAN_BOOTSTRAP until a slot frees up. Defaults to 4.
	MaxConcurrentRuns int
}

func (d *Deps) maxConcurrentRuns() int64 {
	if d.MaxConcurrentRuns > 0 {
		return int64(d.MaxConcurrentRuns)
	}
	return 4
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Deps) ciSuites() []cigate.Suite {
	if d.CISuites != nil {
		return d.CISuites
	}
	return cigate.DefaultGoSuites()
}

// newGitAdapter builds a GitAdapter scoped to a project's repo checkout.
func (d *Deps) newGitAdapter(projectID string) (*gitadapter.Adapter, ProjectRepo, error) {
	repo, err := d.Repos.Repo(projectID)
	if err != nil {
		return nil, ProjectRepo{}, err
	}
	return gitadapter.New(gitadapter.Config{RepoDir: repo.WorkDir, Logger: d.logger()}), repo, nil
}

// newCIGate builds a CIGate scoped to a project's repo checkout.
func (d *Deps) newCIGate(projectID string) (*cigate.Gate, error) {
	repo, err := d.Repos.Repo(projectID)
	if err != nil {
		return nil, err
	}
	runner := cigate.NewShellRunner(repo.WorkDir, d.ciSuites(), d.logger())
	return cigate.New(runner), nil
}

func (d *Deps) layout(projectID, runID string) *filelayout.Layout {
	return filelayout.New(d.RunsDir, projectID, runID)
}
