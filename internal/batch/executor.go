package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/brandscope/brandscope/internal/cache"
	"github.com/brandscope/brandscope/internal/config"
	"github.com/brandscope/brandscope/internal/metrics"
	"github.com/brandscope/brandscope/internal/provider"
	"github.com/brandscope/brandscope/internal/scoring"
	"github.com/brandscope/brandscope/internal/store"
	"github.com/brandscope/brandscope/pkg/models"
)

// Executor processes a job's tasks in micro-batches within a wall-clock
// budget. Each Run is one short-lived invocation: it claims small slices of
// pending tasks, calls providers, persists results, and returns partial
// progress before the budget expires so a follow-up invocation can resume.
type Executor struct {
	store     store.Store
	cache     cache.Cache
	providers provider.Registry
	cfg       config.BatchConfig
	runnerID  string
}

func NewExecutor(st store.Store, ca cache.Cache, reg provider.Registry, cfg config.BatchConfig) *Executor {
	host, _ := os.Hostname()
	return &Executor{
		store:     st,
		cache:     ca,
		providers: reg,
		cfg:       cfg,
		runnerID:  fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
	}
}

// RunnerID identifies this executor instance in heartbeats.
func (e *Executor) RunnerID() string { return e.runnerID }

// Run executes one budget-boxed invocation against the job. Invoking a
// terminal job is a counter-neutral no-op. The budget is checked at
// iteration boundaries only; in-flight provider calls are bounded by their
// own per-call timeout, and cancellation is observed cooperatively at the
// top of each iteration.
func (e *Executor) Run(ctx context.Context, jobID uuid.UUID) (*Result, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return &Result{Action: terminalAction(job.Status), Job: job}, nil
	}

	if job.Status == models.JobStatusPending {
		if _, err := e.store.TransitionJob(ctx, jobID, models.JobStatusProcessing); err != nil {
			return nil, fmt.Errorf("starting job: %w", err)
		}
	}
	if err := e.store.Heartbeat(ctx, jobID, e.runnerID); err != nil {
		slog.Warn("heartbeat failed", "job_id", jobID, "error", err)
	}

	org, err := e.store.GetOrganization(ctx, job.OrgID)
	if err != nil {
		return nil, fmt.Errorf("loading organization: %w", err)
	}
	analyzer := scoring.NewAnalyzer(org.BrandName, org.Competitors)

	prompts, err := e.store.ListActivePrompts(ctx, job.OrgID)
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}
	promptsByID := make(map[uuid.UUID]*models.Prompt, len(prompts))
	for _, p := range prompts {
		promptsByID[p.ID] = p
	}

	breaker := newPromptBreaker(e.cfg.BreakerThreshold, job.Metadata.PromptFailures)
	deadline := time.Now().Add(e.cfg.Budget)
	processed := 0

	for time.Now().Before(deadline) {
		job, err = e.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.IsTerminal() {
			// Another runner or the reconciler finished it first.
			return &Result{Action: terminalAction(job.Status), Job: job, Processed: processed}, nil
		}
		if job.CancelRequested {
			return e.cancelJob(ctx, job)
		}

		tasks, err := e.store.ClaimTasks(ctx, jobID, e.cfg.MicroBatchSize)
		if err != nil {
			return nil, fmt.Errorf("claiming tasks: %w", err)
		}
		if len(tasks) == 0 {
			counts, err := e.store.TaskCounts(ctx, jobID)
			if err != nil {
				return nil, fmt.Errorf("counting tasks: %w", err)
			}
			if counts.AllTerminal() {
				return e.finalize(ctx, jobID, counts, processed)
			}
			// Another runner still holds claims; nothing for us to do.
			return &Result{
				Action:    ActionInProgress,
				Job:       job,
				Processed: processed,
				Remaining: counts.Pending + counts.Processing,
			}, nil
		}

		var mu sync.Mutex
		var dCompleted, dFailed int

		g := new(errgroup.Group)
		g.SetLimit(e.cfg.MaxInFlight)
		for _, task := range tasks {
			g.Go(func() error {
				ok := e.processTask(ctx, job, promptsByID[task.PromptID], task, analyzer, breaker)
				mu.Lock()
				if ok {
					dCompleted++
				} else {
					dFailed++
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		processed += len(tasks)

		if err := e.store.UpdateJobProgress(ctx, jobID, dCompleted, dFailed, breaker.Counts()); err != nil {
			if errors.Is(err, store.ErrProgressConflict) {
				slog.Warn("progress update rejected by counter guard", "job_id", jobID)
			} else {
				return nil, fmt.Errorf("updating progress: %w", err)
			}
		}

		if fresh, err := e.store.GetJob(ctx, jobID); err == nil {
			job = fresh
			if err := e.cache.SetJobSnapshot(ctx, fresh, snapshotTTL); err != nil {
				slog.Warn("caching job snapshot failed", "job_id", jobID, "error", err)
			}
		}
	}

	counts, err := e.store.TaskCounts(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	if counts.AllTerminal() {
		return e.finalize(ctx, jobID, counts, processed)
	}

	remaining := counts.Pending + counts.Processing
	slog.Info("budget exhausted, yielding",
		"job_id", jobID,
		"processed", processed,
		"remaining", remaining,
		"runner_id", e.runnerID,
	)
	return &Result{Action: ActionInProgress, Job: job, Processed: processed, Remaining: remaining}, nil
}

// processTask runs a single (prompt, provider) combination to a terminal
// state. Every outcome, success or failure, persists a ResponseRecord so
// nothing disappears from the dashboard. Returns true if the task completed.
func (e *Executor) processTask(ctx context.Context, job *models.BatchJob, prompt *models.Prompt, task *models.BatchTask, analyzer *scoring.Analyzer, breaker *promptBreaker) bool {
	if prompt == nil {
		e.failTask(ctx, job, task, "prompt is no longer active")
		return false
	}
	if breaker.Open(task.PromptID) {
		e.failTask(ctx, job, task, "circuit breaker open: repeated provider failures for this prompt")
		return false
	}
	prov := e.providers.Get(task.Provider)
	if prov == nil {
		e.failTask(ctx, job, task, fmt.Sprintf("provider %q not configured", task.Provider))
		return false
	}

	start := time.Now()
	answer, err := e.askWithRetry(ctx, prov, prompt.Text)
	metrics.ProviderCallDuration.WithLabelValues(task.Provider).Observe(time.Since(start).Seconds())
	if err != nil {
		if tripped := breaker.Failure(task.PromptID); tripped {
			metrics.BreakerTripped.Inc()
			slog.Warn("circuit breaker opened for prompt",
				"job_id", job.ID, "prompt_id", task.PromptID, "provider", task.Provider)
		}
		e.failTask(ctx, job, task, err.Error())
		return false
	}
	breaker.Success(task.PromptID)

	scored := analyzer.Score(answer.Text)
	rec := &models.ResponseRecord{
		ID:                   uuid.New(),
		TaskID:               task.ID,
		JobID:                job.ID,
		OrgID:                job.OrgID,
		PromptID:             task.PromptID,
		Provider:             task.Provider,
		Model:                answer.Model,
		Answer:               answer.Text,
		VisibilityScore:      scored.VisibilityScore,
		BrandMentioned:       scored.BrandMentioned,
		CompetitorsMentioned: scored.CompetitorsMentioned,
		TokensIn:             answer.TokensIn,
		TokensOut:            answer.TokensOut,
		Status:               models.ResponseStatusOK,
		CreatedAt:            time.Now().UTC(),
	}
	if err := e.store.CreateResponse(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			// A previous runner already recorded a response for this task but
			// died before completing it. The work is done; just finish the task.
			slog.Info("response already recorded, completing task", "job_id", job.ID, "task_id", task.ID)
		} else {
			// The task still reaches a terminal state so the job can finish.
			slog.Error("persisting response failed", "job_id", job.ID, "task_id", task.ID, "error", err)
			if err := e.store.FailTask(ctx, task.ID, fmt.Sprintf("persisting response: %v", err)); err != nil {
				slog.Error("marking task failed", "task_id", task.ID, "error", err)
			}
			metrics.TasksProcessed.WithLabelValues(task.Provider, models.TaskStatusFailed).Inc()
			return false
		}
	}

	if err := e.store.CompleteTask(ctx, task.ID); err != nil {
		slog.Error("marking task completed", "task_id", task.ID, "error", err)
	}
	metrics.TasksProcessed.WithLabelValues(task.Provider, models.TaskStatusCompleted).Inc()
	return true
}

// failTask records a terminal failure: an error-status ResponseRecord plus
// the failed task row.
func (e *Executor) failTask(ctx context.Context, job *models.BatchJob, task *models.BatchTask, msg string) {
	rec := &models.ResponseRecord{
		ID:                   uuid.New(),
		TaskID:               task.ID,
		JobID:                job.ID,
		OrgID:                job.OrgID,
		PromptID:             task.PromptID,
		Provider:             task.Provider,
		CompetitorsMentioned: []string{},
		Status:               models.ResponseStatusError,
		ErrorMessage:         &msg,
		CreatedAt:            time.Now().UTC(),
	}
	if err := e.store.CreateResponse(ctx, rec); err != nil {
		slog.Error("persisting error response failed", "job_id", job.ID, "task_id", task.ID, "error", err)
	}
	if err := e.store.FailTask(ctx, task.ID, msg); err != nil {
		slog.Error("marking task failed", "task_id", task.ID, "error", err)
	}
	metrics.TasksProcessed.WithLabelValues(task.Provider, models.TaskStatusFailed).Inc()
}

// askWithRetry calls the provider with bounded retries: exponential backoff
// with jitter, failing fast on auth and bad-request errors.
func (e *Executor) askWithRetry(ctx context.Context, prov models.AssistantProvider, prompt string) (models.Answer, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.cfg.MaxAttempts-1)), ctx)

	var answer models.Answer
	op := func() error {
		var err error
		answer, err = prov.Ask(ctx, prompt)
		if err != nil && !provider.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, policy); err != nil {
		return models.Answer{}, err
	}
	return answer, nil
}

// cancelJob honors a cooperative cancellation request: pending tasks are
// cancelled, in-flight ones were already ours, and the job goes terminal.
func (e *Executor) cancelJob(ctx context.Context, job *models.BatchJob) (*Result, error) {
	cancelled, err := e.store.CancelPendingTasks(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("cancelling pending tasks: %w", err)
	}
	if _, err := e.store.TransitionJob(ctx, job.ID, models.JobStatusCancelled); err != nil {
		return nil, fmt.Errorf("cancelling job: %w", err)
	}
	fresh, err := e.store.GetJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	metrics.JobsFinished.WithLabelValues(models.JobStatusCancelled).Inc()
	if err := e.cache.SetJobSnapshot(ctx, fresh, snapshotTTL); err != nil {
		slog.Warn("caching job snapshot failed", "job_id", job.ID, "error", err)
	}
	slog.Info("job cancelled cooperatively", "job_id", job.ID, "tasks_cancelled", cancelled)
	return &Result{Action: ActionCancelled, Job: fresh}, nil
}

// finalize completes a job whose tasks are all terminal. The conditional
// transition means exactly one of any racing callers wins.
func (e *Executor) finalize(ctx context.Context, jobID uuid.UUID, counts models.TaskCounts, processed int) (*Result, error) {
	to := models.JobStatusCompleted
	if counts.Completed == 0 && counts.Failed > 0 {
		to = models.JobStatusFailed
	}

	won, err := e.store.TransitionJob(ctx, jobID, to)
	if err != nil {
		return nil, fmt.Errorf("finalizing job: %w", err)
	}
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if won {
		metrics.JobsFinished.WithLabelValues(job.Status).Inc()
		slog.Info("job finalized",
			"job_id", jobID,
			"status", job.Status,
			"completed", counts.Completed,
			"failed", counts.Failed,
		)
	}
	if err := e.cache.SetJobSnapshot(ctx, job, snapshotTTL); err != nil {
		slog.Warn("caching job snapshot failed", "job_id", jobID, "error", err)
	}
	return &Result{Action: terminalAction(job.Status), Job: job, Processed: processed}, nil
}
