// Package tracker reconciles active deployments against the provider on a
// fixed interval. It is the polling half of the hybrid poll/webhook loop and
// the only component that times out stale records.
package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/nebur242/deploy-hub/internal/domain"
	"github.com/nebur242/deploy-hub/internal/repository"
	"github.com/nebur242/deploy-hub/internal/service/deploy"
)

const (
	defaultInterval      = 30 * time.Second
	defaultMaxPendingAge = 10 * time.Minute
	defaultMaxRunningAge = 30 * time.Minute
	sweepTimeout         = 2 * time.Minute
)

// Tracker polls running deployments and expires stale ones.
type Tracker struct {
	deployments  repository.DeploymentRepository
	orchestrator *deploy.Service
	logger       *slog.Logger

	interval      time.Duration
	maxPendingAge time.Duration
	maxRunningAge time.Duration

	now func() time.Time
}

// New constructs a Tracker.
func New(deployments repository.DeploymentRepository, orchestrator *deploy.Service, logger *slog.Logger, interval, maxPendingAge, maxRunningAge time.Duration) *Tracker {
	if interval <= 0 {
		interval = defaultInterval
	}
	if maxPendingAge <= 0 {
		maxPendingAge = defaultMaxPendingAge
	}
	if maxRunningAge <= 0 {
		maxRunningAge = defaultMaxRunningAge
	}
	return &Tracker{
		deployments:   deployments,
		orchestrator:  orchestrator,
		logger:        logger.With("component", "tracker"),
		interval:      interval,
		maxPendingAge: maxPendingAge,
		maxRunningAge: maxRunningAge,
		now:           time.Now,
	}
}

// Run executes the sweep loop until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info("tracker started", "interval", t.interval)
	t.runSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("tracker stopped")
			return
		case <-ticker.C:
			t.runSweep(ctx)
		}
	}
}

func (t *Tracker) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()
	t.pollRunning(sweepCtx)
	t.expireStale(sweepCtx, domain.StatusPending, t.maxPendingAge)
	t.expireStale(sweepCtx, domain.StatusRunning, t.maxRunningAge)
}

// pollRunning asks the provider for the state of every RUNNING deployment
// and applies terminal transitions through the shared status-update path.
func (t *Tracker) pollRunning(ctx context.Context) {
	running, err := t.deployments.ListDeploymentsWithStatus(ctx, domain.StatusRunning)
	if err != nil {
		t.logger.Error("list running deployments failed", "error", err)
		return
	}
	for i := range running {
		d := running[i]
		state, err := t.orchestrator.CheckRun(ctx, &d)
		if err != nil {
			t.logger.Warn("status poll failed", "deployment_id", d.ID, "error", err)
			continue
		}
		if !state.Finished() {
			continue
		}
		if err := t.orchestrator.ApplyRunState(ctx, &d, state); err != nil {
			t.logger.Error("apply run state failed", "deployment_id", d.ID, "error", err)
		}
	}
}

// expireStale times out deployments whose last update exceeds the maximum
// age for their status, regardless of upstream provider state.
func (t *Tracker) expireStale(ctx context.Context, status domain.DeploymentStatus, maxAge time.Duration) {
	cutoff := t.now().UTC().Add(-maxAge)
	stale, err := t.deployments.ListDeploymentsWithStatusUpdatedBefore(ctx, status, cutoff)
	if err != nil {
		t.logger.Error("stale deployment lookup failed", "status", status, "error", err)
		return
	}
	for i := range stale {
		d := stale[i]
		age := t.now().UTC().Sub(d.UpdatedAt)
		t.logger.Warn("deployment timed out", "deployment_id", d.ID, "status", status, "age", age.Round(time.Second))
		if err := t.orchestrator.MarkTimedOut(ctx, &d, age); err != nil {
			t.logger.Error("timeout transition failed", "deployment_id", d.ID, "error", err)
		}
	}
}
