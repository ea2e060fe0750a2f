package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/brandscope/brandscope/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")

	// ErrProgressConflict is returned when a progress increment would push
	// completed+failed past total_tasks. The guard lives in SQL so racing
	// runners cannot overshoot.
	ErrProgressConflict = errors.New("progress update exceeds total tasks")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// Organizations and prompts.
	GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	ListOrganizations(ctx context.Context) ([]*models.Organization, error)
	ListActivePrompts(ctx context.Context, orgID uuid.UUID) ([]*models.Prompt, error)

	// API keys (auth middleware).
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error

	// Jobs. Status never changes except through TransitionJob, which is
	// gated on the models.CanTransition table and applied as a conditional
	// update, so concurrent callers cannot double-finalize or resurrect a
	// terminal job.
	CreateJob(ctx context.Context, job *models.BatchJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.BatchJob, error)
	ActiveJob(ctx context.Context, orgID uuid.UUID) (*models.BatchJob, error)
	LatestJobSince(ctx context.Context, orgID uuid.UUID, since time.Time) (*models.BatchJob, error)
	TransitionJob(ctx context.Context, id uuid.UUID, to string) (bool, error)
	UpdateJobProgress(ctx context.Context, id uuid.UUID, deltaCompleted, deltaFailed int, promptFailures map[string]int) error
	Heartbeat(ctx context.Context, id uuid.UUID, runnerID string) error
	RequestCancellation(ctx context.Context, id uuid.UUID) error
	CancelActiveJobs(ctx context.Context, orgID uuid.UUID) (int64, error)
	StaleJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.BatchJob, error)

	// Tasks. Claiming is the only pending→processing path and is a single
	// conditional update with SKIP LOCKED, so a task is processed at most
	// once per claim.
	CreateTasks(ctx context.Context, tasks []*models.BatchTask) error
	ClaimTasks(ctx context.Context, jobID uuid.UUID, limit int) ([]*models.BatchTask, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID) error
	FailTask(ctx context.Context, taskID uuid.UUID, errMsg string) error
	CancelPendingTasks(ctx context.Context, jobID uuid.UUID) (int64, error)
	ResetStuckTasks(ctx context.Context, jobID uuid.UUID) (int64, error)
	TaskCounts(ctx context.Context, jobID uuid.UUID) (models.TaskCounts, error)
	ListTasks(ctx context.Context, jobID uuid.UUID) ([]*models.BatchTask, error)

	// Responses are insert-only.
	CreateResponse(ctx context.Context, rec *models.ResponseRecord) error
	ListResponses(ctx context.Context, jobID uuid.UUID) ([]*models.ResponseRecord, error)
}
