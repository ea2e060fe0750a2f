// Package sched runs the in-process cron jobs: the periodic reconcile
// sweep and the daily scan that fans out and drives a visibility job for
// every organization. Deployments relying on an external cron service use
// the HTTP trigger endpoints instead and leave this disabled.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/brandscope/brandscope/internal/batch"
	"github.com/brandscope/brandscope/internal/config"
	"github.com/brandscope/brandscope/internal/store"
)

const (
	reconcileTimeout = 5 * time.Minute
	dailyScanTimeout = time.Hour
)

type Scheduler struct {
	cron       *cron.Cron
	store      store.Store
	fanout     *batch.Fanout
	driver     *batch.Driver
	reconciler *batch.Reconciler
	cfg        config.SchedulerConfig
}

func New(st store.Store, fanout *batch.Fanout, driver *batch.Driver, rec *batch.Reconciler, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		store:      st,
		fanout:     fanout,
		driver:     driver,
		reconciler: rec,
		cfg:        cfg,
	}
}

// Start registers the cron entries and starts the scheduler goroutine.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.ReconcileSpec, s.runReconcile); err != nil {
		return fmt.Errorf("registering reconcile schedule %q: %w", s.cfg.ReconcileSpec, err)
	}
	if _, err := s.cron.AddFunc(s.cfg.DailyScanSpec, s.runDailyScan); err != nil {
		return fmt.Errorf("registering daily scan schedule %q: %w", s.cfg.DailyScanSpec, err)
	}
	s.cron.Start()
	slog.Info("scheduler started",
		"reconcile_spec", s.cfg.ReconcileSpec,
		"daily_scan_spec", s.cfg.DailyScanSpec,
	)
	return nil
}

// Stop halts the scheduler and waits for running entries to finish, up to
// the context deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	outcomes, err := s.reconciler.Sweep(ctx)
	if err != nil {
		slog.Error("scheduled reconcile sweep failed", "error", err)
		return
	}
	if len(outcomes) > 0 {
		slog.Info("scheduled reconcile sweep", "reconciled", len(outcomes))
	}
}

// runDailyScan fans out one job per organization and drives each to
// completion sequentially. Organizations that already ran today are
// skipped by the fan-out's idempotency guard.
func (s *Scheduler) runDailyScan() {
	ctx, cancel := context.WithTimeout(context.Background(), dailyScanTimeout)
	defer cancel()

	orgs, err := s.store.ListOrganizations(ctx)
	if err != nil {
		slog.Error("daily scan: listing organizations failed", "error", err)
		return
	}

	var created, skipped, failed int
	for _, org := range orgs {
		res, err := s.fanout.CreateJob(ctx, org.ID, false)
		if err != nil {
			if errors.Is(err, batch.ErrNoActivePrompts) || errors.Is(err, batch.ErrNoEntitledProviders) {
				skipped++
				continue
			}
			slog.Error("daily scan: fan-out failed", "org_id", org.ID, "error", err)
			failed++
			continue
		}
		if res.Action != batch.ActionCreated {
			skipped++
			continue
		}
		created++

		if _, err := s.driver.Drive(ctx, res.Job.ID); err != nil {
			// Stalls and ceilings leave the job for the reconciler.
			slog.Warn("daily scan: drive ended early", "org_id", org.ID, "job_id", res.Job.ID, "error", err)
		}
	}

	slog.Info("daily scan finished",
		"organizations", len(orgs),
		"jobs_created", created,
		"skipped", skipped,
		"failed", failed,
	)
}
