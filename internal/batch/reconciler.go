package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/brandscope/brandscope/internal/cache"
	"github.com/brandscope/brandscope/internal/config"
	"github.com/brandscope/brandscope/internal/metrics"
	"github.com/brandscope/brandscope/internal/store"
	"github.com/brandscope/brandscope/pkg/models"
)

// staleScanLimit caps how many stale jobs one sweep repairs, so a pile-up
// after an outage is worked off across sweeps instead of one giant pass.
const staleScanLimit = 50

// Reconciler repairs jobs whose runner died mid-invocation: processing jobs
// with no recent heartbeat. Stuck tasks are released back to pending, job
// counters are resynced from task rows, and the job is either finalized or
// handed back to the executor for a fresh budget-boxed run.
type Reconciler struct {
	store store.Store
	cache cache.Cache
	exec  *Executor
	cfg   config.BatchConfig
}

func NewReconciler(st store.Store, ca cache.Cache, exec *Executor, cfg config.BatchConfig) *Reconciler {
	return &Reconciler{store: st, cache: ca, exec: exec, cfg: cfg}
}

// ReconcileOutcome reports what the sweep did to one stale job.
type ReconcileOutcome struct {
	JobID      uuid.UUID `json:"job_id"`
	Action     string    `json:"action"`
	TasksReset int64     `json:"tasks_reset"`
}

// Sweep finds processing jobs whose heartbeat is older than the staleness
// threshold and reconciles each one. A failure on one job does not stop
// the sweep.
func (r *Reconciler) Sweep(ctx context.Context) ([]ReconcileOutcome, error) {
	cutoff := time.Now().Add(-r.cfg.StaleAfter)
	jobs, err := r.store.StaleJobs(ctx, cutoff, staleScanLimit)
	if err != nil {
		return nil, fmt.Errorf("listing stale jobs: %w", err)
	}

	outcomes := make([]ReconcileOutcome, 0, len(jobs))
	for _, job := range jobs {
		out, err := r.reconcileJob(ctx, job)
		if err != nil {
			slog.Error("reconciling job failed", "job_id", job.ID, "error", err)
			outcomes = append(outcomes, ReconcileOutcome{JobID: job.ID, Action: ActionError})
			continue
		}
		outcomes = append(outcomes, out)
	}
	if len(jobs) > 0 {
		slog.Info("reconcile sweep finished", "stale_jobs", len(jobs))
	}
	return outcomes, nil
}

func (r *Reconciler) reconcileJob(ctx context.Context, job *models.BatchJob) (ReconcileOutcome, error) {
	out := ReconcileOutcome{JobID: job.ID}

	if job.CancelRequested {
		if _, err := r.store.CancelPendingTasks(ctx, job.ID); err != nil {
			return out, fmt.Errorf("cancelling pending tasks: %w", err)
		}
		if _, err := r.store.TransitionJob(ctx, job.ID, models.JobStatusCancelled); err != nil {
			return out, fmt.Errorf("cancelling job: %w", err)
		}
		metrics.JobsFinished.WithLabelValues(models.JobStatusCancelled).Inc()
		r.refreshSnapshot(ctx, job.ID)
		out.Action = ActionCancelled
		return out, nil
	}

	reset, err := r.store.ResetStuckTasks(ctx, job.ID)
	if err != nil {
		return out, fmt.Errorf("resetting stuck tasks: %w", err)
	}
	out.TasksReset = reset
	if reset > 0 {
		slog.Info("released stuck tasks back to pending", "job_id", job.ID, "count", reset)
	}

	counts, err := r.store.TaskCounts(ctx, job.ID)
	if err != nil {
		return out, fmt.Errorf("counting tasks: %w", err)
	}
	if err := r.repairCounters(ctx, job, counts); err != nil {
		return out, err
	}

	if counts.AllTerminal() {
		// All the work was done before the runner died; only the job row
		// needs finalizing. No executor invocation required.
		to := models.JobStatusCompleted
		if counts.Completed == 0 && counts.Failed > 0 {
			to = models.JobStatusFailed
		}
		won, err := r.store.TransitionJob(ctx, job.ID, to)
		if err != nil {
			return out, fmt.Errorf("finalizing job: %w", err)
		}
		if won {
			metrics.JobsFinished.WithLabelValues(to).Inc()
			metrics.ReconcilerFinalized.Inc()
			slog.Info("finalized abandoned job", "job_id", job.ID, "status", to)
		}
		r.refreshSnapshot(ctx, job.ID)
		out.Action = ActionFinalized
		return out, nil
	}

	// Work remains: hand the job a fresh budget-boxed invocation.
	res, err := r.exec.Run(ctx, job.ID)
	if err != nil {
		return out, fmt.Errorf("resuming job: %w", err)
	}
	metrics.ReconcilerResumed.Inc()
	slog.Info("resumed abandoned job",
		"job_id", job.ID, "processed", res.Processed, "remaining", res.Remaining)
	out.Action = ActionResumed
	return out, nil
}

// repairCounters resyncs the job's denormalized counters with the actual
// task rows. A runner that died between marking tasks terminal and bumping
// the counters leaves them behind; the deltas here catch the job up.
func (r *Reconciler) repairCounters(ctx context.Context, job *models.BatchJob, counts models.TaskCounts) error {
	dCompleted := counts.Completed - job.CompletedTasks
	dFailed := counts.Failed - job.FailedTasks
	if dCompleted <= 0 && dFailed <= 0 {
		return nil
	}
	if dCompleted < 0 {
		dCompleted = 0
	}
	if dFailed < 0 {
		dFailed = 0
	}
	if err := r.store.UpdateJobProgress(ctx, job.ID, dCompleted, dFailed, nil); err != nil {
		return fmt.Errorf("repairing counters: %w", err)
	}
	slog.Info("repaired job counters",
		"job_id", job.ID, "completed_delta", dCompleted, "failed_delta", dFailed)
	return nil
}

func (r *Reconciler) refreshSnapshot(ctx context.Context, jobID uuid.UUID) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return
	}
	if err := r.cache.SetJobSnapshot(ctx, job, snapshotTTL); err != nil {
		slog.Warn("caching job snapshot failed", "job_id", jobID, "error", err)
	}
}
