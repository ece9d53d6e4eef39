// Command autopackd runs the Autopack ControlPlane: the HTTP API that
// drives Runs through the Supervisor state machine (spec §6.2), plus its
// ambient background sweep. There is no CLI surface by design (spec
// Non-goals) — every operation is reached over HTTP by external
// Builder/Auditor clients and dashboards.
//
// Grounded on marcus-qen-legator's cmd/control-plane/main.go: a plain
// net/http.Server driven by signal.NotifyContext, with graceful shutdown
// on SIGINT/SIGTERM, adapted to slog (the logger randalmurphal-orc uses
// throughout its own server code) instead of zap.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopack-dev/autopack/internal/aging"
	"github.com/autopack-dev/autopack/internal/budget"
	"github.com/autopack-dev/autopack/internal/config"
	"github.com/autopack-dev/autopack/internal/controlplane"
	"github.com/autopack-dev/autopack/internal/events"
	"github.com/autopack-dev/autopack/internal/issuetracker"
	"github.com/autopack-dev/autopack/internal/learnedrules"
	"github.com/autopack-dev/autopack/internal/lock"
	"github.com/autopack-dev/autopack/internal/metrics"
	"github.com/autopack-dev/autopack/internal/runmodel"
	"github.com/autopack-dev/autopack/internal/supervisor"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a YAML server config file (optional; AUTOPACK_ env vars and defaults apply otherwise)")
	flag.Parse()

	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		logger.Error("failed to load server config", "error", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("autopackd exited with error", "error", err)
		os.Exit(3)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	rulesets := newRulesetCache(cfg.RulesetsDir)
	repos := supervisor.ProjectRepoProviderFunc(func(projectID string) (supervisor.ProjectRepo, error) {
		return supervisor.ProjectRepo{
			WorkDir:    filepath.Join(cfg.ReposDir, projectID),
			BaseBranch: cfg.BaseBranch,
		}, nil
	})

	issues := issuetracker.New()
	learned := learnedrules.NewStore()
	publisher := events.NewMemoryPublisher()
	registry := metrics.NewRegistry()

	deps := &supervisor.Deps{
		Rulesets:     rulesets,
		Repos:        repos,
		LearnedRules: learned,
		Issues:       issues,
		Budgets:      budget.New(),
		Locks:        lock.NewManager(),
		Publisher:    publisher,
		RunsDir:      cfg.AutonomousRunsDir,
		Logger:       logger,
	}
	super := supervisor.New(deps)

	sweeper, err := aging.New(aging.Config{
		Issues:   issues,
		Schedule: cfg.AgingSweepSchedule,
		Logger:   logger,
		Thresholds: aging.ThresholdProviderFunc(func(projectID string) int {
			ruleset, err := rulesets.Ruleset(projectID)
			if err != nil {
				return 0
			}
			overrides := ruleset.SafetyOverrides[runmodel.SafetyCritical]
			if overrides.AgingThresholdRuns > 0 {
				return overrides.AgingThresholdRuns
			}
			return 5
		}),
	})
	if err != nil {
		return err
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()

	api := controlplane.New(controlplane.Config{
		Addr:       cfg.ListenAddr,
		RunsDir:    cfg.AutonomousRunsDir,
		Logger:     logger,
		Supervisor: super,
		Issues:     issues,
		Publisher:  publisher,
	})

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting metrics server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := api.Start(ctx); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// rulesetCache loads and caches one ProjectRuleset per project_id from
// {rulesets_dir}/{project_id}.yaml, the way a real deployment would back
// supervisor.RulesetProvider without re-reading the file on every StartRun.
type rulesetCache struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*config.ProjectRuleset
}

func newRulesetCache(dir string) *rulesetCache {
	return &rulesetCache{dir: dir, cache: map[string]*config.ProjectRuleset{}}
}

func (c *rulesetCache) Ruleset(projectID string) (*config.ProjectRuleset, error) {
	c.mu.RLock()
	rs, ok := c.cache[projectID]
	c.mu.RUnlock()
	if ok {
		return rs, nil
	}

	rs, err := config.LoadRuleset(filepath.Join(c.dir, projectID+".yaml"))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[projectID] = rs
	c.mu.Unlock()
	return rs, nil
}
