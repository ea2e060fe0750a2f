package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/brandscope/brandscope/internal/cache"
	"github.com/brandscope/brandscope/internal/entitlement"
	"github.com/brandscope/brandscope/internal/metrics"
	"github.com/brandscope/brandscope/internal/provider"
	"github.com/brandscope/brandscope/internal/store"
	"github.com/brandscope/brandscope/pkg/models"
)

const snapshotTTL = 30 * time.Second

// Fanout creates batch jobs: it sizes the (prompt × provider) product for
// an organization and persists the job plus one task per combination.
type Fanout struct {
	store     store.Store
	cache     cache.Cache
	providers provider.Registry
}

func NewFanout(st store.Store, ca cache.Cache, reg provider.Registry) *Fanout {
	return &Fanout{store: st, cache: ca, providers: reg}
}

// CreateJob fans out a new batch job for the organization. With
// replace=false, an already-active or same-day job is returned as-is
// (daily idempotency guard); with replace=true any live job is cancelled
// first so at most one job per org is ever pending or processing.
func (f *Fanout) CreateJob(ctx context.Context, orgID uuid.UUID, replace bool) (*Result, error) {
	org, err := f.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("loading organization: %w", err)
	}

	if replace {
		cancelled, err := f.store.CancelActiveJobs(ctx, orgID)
		if err != nil {
			return nil, fmt.Errorf("cancelling active jobs: %w", err)
		}
		if cancelled > 0 {
			slog.Info("cancelled active jobs for replacement", "org_id", orgID, "count", cancelled)
		}
	} else {
		if existing, err := f.store.ActiveJob(ctx, orgID); err == nil {
			return &Result{Action: ActionExisting, Job: existing, Remaining: existing.RemainingTasks()}, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("checking active job: %w", err)
		}

		startOfDay := time.Now().UTC().Truncate(24 * time.Hour)
		if existing, err := f.store.LatestJobSince(ctx, orgID, startOfDay); err == nil {
			return &Result{Action: ActionExisting, Job: existing, Remaining: existing.RemainingTasks()}, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("checking same-day job: %w", err)
		}

		// Redis guard narrows the window between the store check and the
		// insert. On cache failure we fall through to the store alone.
		day := time.Now().UTC().Format("2006-01-02")
		acquired, err := f.cache.AcquireDailyGuard(ctx, orgID, day, 24*time.Hour)
		if err != nil {
			slog.Warn("daily guard unavailable, relying on store check", "org_id", orgID, "error", err)
		} else if !acquired {
			if existing, err := f.store.LatestJobSince(ctx, orgID, startOfDay); err == nil {
				return &Result{Action: ActionExisting, Job: existing, Remaining: existing.RemainingTasks()}, nil
			}
		}
	}

	prompts, err := f.store.ListActivePrompts(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}
	if limit := entitlement.PromptLimit(org.PlanTier); len(prompts) > limit {
		prompts = prompts[:limit]
	}
	if len(prompts) == 0 {
		return nil, ErrNoActivePrompts
	}

	// Entitled providers the server actually has clients for.
	var provs []string
	for _, name := range entitlement.Providers(org.PlanTier) {
		if f.providers.Get(name) != nil {
			provs = append(provs, name)
		}
	}
	if len(provs) == 0 {
		return nil, ErrNoEntitledProviders
	}

	now := time.Now().UTC()
	job := &models.BatchJob{
		ID:         uuid.New(),
		OrgID:      orgID,
		Status:     models.JobStatusPending,
		TotalTasks: len(prompts) * len(provs),
		Metadata: models.JobMetadata{
			Providers:     provs,
			CorrelationID: uuid.NewString(),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	tasks := make([]*models.BatchTask, 0, job.TotalTasks)
	for _, p := range prompts {
		for _, prov := range provs {
			tasks = append(tasks, &models.BatchTask{
				ID:        uuid.New(),
				JobID:     job.ID,
				PromptID:  p.ID,
				Provider:  prov,
				Status:    models.TaskStatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
	}
	if err := f.store.CreateTasks(ctx, tasks); err != nil {
		return nil, fmt.Errorf("creating tasks: %w", err)
	}

	metrics.JobsCreated.Inc()
	if err := f.cache.SetJobSnapshot(ctx, job, snapshotTTL); err != nil {
		slog.Warn("caching job snapshot failed", "job_id", job.ID, "error", err)
	}

	slog.Info("job fanned out",
		"job_id", job.ID,
		"org_id", orgID,
		"prompts", len(prompts),
		"providers", len(provs),
		"total_tasks", job.TotalTasks,
		"correlation_id", job.Metadata.CorrelationID,
	)

	return &Result{Action: ActionCreated, Job: job, Remaining: job.TotalTasks}, nil
}
