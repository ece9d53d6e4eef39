// Package aging runs a background sweep that keeps ProjectIssueBacklog's
// needs_cleanup flags current (spec §4.3) for projects with no Run in
// flight, since age_in_runs only advances on OnRunComplete and a project
// that has gone quiet would otherwise show a stale snapshot to anyone
// polling GET /project/{project_id}/issues/backlog. Grounded on
// marcus-qen-legator's internal/controlplane/jobs.Scheduler: cron.ParseStandard
// validates the configured schedule up front, and a plain time.Ticker
// loop (not cron.New's own goroutine pool) drives the actual tick.
package aging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/autopack-dev/autopack/internal/autopackerr"
	"github.com/autopack-dev/autopack/internal/issuetracker"
)

// ThresholdProvider resolves the aging threshold (in runs) that applies to
// a project's backlog, typically backed by a cached ProjectRuleset lookup.
type ThresholdProvider interface {
	AgingThreshold(projectID string) int
}

// ThresholdProviderFunc adapts a plain function to ThresholdProvider.
type ThresholdProviderFunc func(projectID string) int

// AgingThreshold calls f.
func (f ThresholdProviderFunc) AgingThreshold(projectID string) int {
	return f(projectID)
}

// Sweeper periodically recomputes needs_cleanup across every project the
// Tracker has a backlog for.
type Sweeper struct {
	issues     *issuetracker.Tracker
	thresholds ThresholdProvider
	schedule   cron.Schedule
	interval   time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures a Sweeper.
type Config struct {
	Issues     *issuetracker.Tracker
	Thresholds ThresholdProvider

	// Schedule is a standard five-field cron expression (e.g. "0 */6 * * *"
	// for every six hours); validated up front via cron.ParseStandard so a
	// malformed schedule fails at construction rather than silently never
	// firing. Defaults to hourly ("0 * * * *") when empty.
	Schedule string
	Logger   *slog.Logger
}

// New validates cfg.Schedule and builds a Sweeper. It does not start
// sweeping until Start is called.
func New(cfg Config) (*Sweeper, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "0 * * * *"
	}
	spec, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, autopackerr.Wrap(autopackerr.CodeRulesetInvalid, "invalid aging sweep schedule", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		issues:     cfg.Issues,
		thresholds: cfg.Thresholds,
		schedule:   spec,
		interval:   nextInterval(spec),
		logger:     logger,
	}, nil
}

// nextInterval estimates the poll interval for the ticker loop from the
// parsed schedule: the gap between the next two firings from now. This is
// an approximation (cron schedules are not always uniformly spaced) good
// enough for a background hygiene sweep, not a precise scheduler.
func nextInterval(schedule cron.Schedule) time.Duration {
	now := time.Now()
	first := schedule.Next(now)
	second := schedule.Next(first)
	d := second.Sub(first)
	if d <= 0 {
		return time.Hour
	}
	return d
}

// Start runs the sweep loop until ctx is cancelled. Safe to call once; a
// second call is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.sweepOnce()
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// sweepOnce recomputes needs_cleanup for every project the Tracker knows
// of, logging but not failing on a per-project lookup error so one
// misconfigured project's ruleset never blocks the rest of the sweep.
func (s *Sweeper) sweepOnce() {
	for _, projectID := range s.issues.ProjectIDs() {
		threshold := s.thresholds.AgingThreshold(projectID)
		if threshold <= 0 {
			s.logger.Warn("skipping aging sweep for project with no resolvable threshold", "project_id", projectID)
			continue
		}
		s.issues.RecomputeNeedsCleanup(projectID, threshold)
	}
}
