package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brandscope/brandscope/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Organizations ---

func (s *PostgresStore) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var o models.Organization
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, brand_name, competitors, plan_tier, created_at, updated_at
		 FROM organizations WHERE id = $1`, id,
	).Scan(&o.ID, &o.Name, &o.BrandName, &o.Competitors, &o.PlanTier, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &o, nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]*models.Organization, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, brand_name, competitors, plan_tier, created_at, updated_at
		 FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		var o models.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.BrandName, &o.Competitors, &o.PlanTier,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, &o)
	}
	return orgs, rows.Err()
}

// --- Prompts ---

func (s *PostgresStore) ListActivePrompts(ctx context.Context, orgID uuid.UUID) ([]*models.Prompt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, org_id, text, active, created_at, updated_at
		 FROM prompts WHERE org_id = $1 AND active ORDER BY created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list active prompts: %w", err)
	}
	defer rows.Close()

	var prompts []*models.Prompt
	for rows.Next() {
		var p models.Prompt
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Text, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompts = append(prompts, &p)
	}
	return prompts, rows.Err()
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, org_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.OrgID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, org_id, status, total_tasks, completed_tasks, failed_tasks,
	cancel_requested, runner_id, metadata, started_at, completed_at, last_heartbeat,
	created_at, updated_at`

func scanJob(row pgx.Row) (*models.BatchJob, error) {
	var j models.BatchJob
	var metadata []byte
	err := row.Scan(&j.ID, &j.OrgID, &j.Status, &j.TotalTasks, &j.CompletedTasks, &j.FailedTasks,
		&j.CancelRequested, &j.RunnerID, &metadata, &j.StartedAt, &j.CompletedAt, &j.LastHeartbeat,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &j.Metadata); err != nil {
			return nil, fmt.Errorf("decode job metadata: %w", err)
		}
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.BatchJob) error {
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("encode job metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO batch_jobs (id, org_id, status, total_tasks, completed_tasks, failed_tasks,
		   cancel_requested, runner_id, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.OrgID, job.Status, job.TotalTasks, job.CompletedTasks, job.FailedTasks,
		job.CancelRequested, job.RunnerID, metadata, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.BatchJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM batch_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ActiveJob returns the organization's live job, if any. At most one job
// per org should be pending or processing at a time.
func (s *PostgresStore) ActiveJob(ctx context.Context, orgID uuid.UUID) (*models.BatchJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM batch_jobs
		 WHERE org_id = $1 AND status IN ('pending', 'processing')
		 ORDER BY created_at DESC LIMIT 1`, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) LatestJobSince(ctx context.Context, orgID uuid.UUID, since time.Time) (*models.BatchJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM batch_jobs
		 WHERE org_id = $1 AND created_at >= $2
		 ORDER BY created_at DESC LIMIT 1`, orgID, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest job since: %w", err)
	}
	return job, nil
}

// TransitionJob moves a job to a new status. The update is conditioned on
// the set of statuses allowed to reach the target, so a terminal job is
// never resurrected and two callers racing to finalize see exactly one
// true result. Returns false when no eligible row was found.
func (s *PostgresStore) TransitionJob(ctx context.Context, id uuid.UUID, to string) (bool, error) {
	froms := models.TransitionsTo(to)
	if len(froms) == 0 {
		return false, fmt.Errorf("no valid transition to status %q", to)
	}

	query := `UPDATE batch_jobs SET status = $2, updated_at = NOW()`
	if to == models.JobStatusProcessing {
		query += `, started_at = COALESCE(started_at, NOW())`
	}
	if models.IsTerminalJobStatus(to) {
		query += `, completed_at = NOW()`
	}
	query += ` WHERE id = $1 AND status = ANY($3)`

	tag, err := s.pool.Exec(ctx, query, id, to, froms)
	if err != nil {
		return false, fmt.Errorf("transition job to %s: %w", to, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing job from an ineligible one.
		if _, err := s.GetJob(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// UpdateJobProgress atomically bumps the progress counters and stamps the
// heartbeat. The completed+failed <= total guard is part of the statement;
// callers must not read-modify-write the counters.
func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, deltaCompleted, deltaFailed int, promptFailures map[string]int) error {
	query := `UPDATE batch_jobs
		 SET completed_tasks = completed_tasks + $2,
		     failed_tasks = failed_tasks + $3,
		     last_heartbeat = NOW(),
		     updated_at = NOW()`
	args := []any{id, deltaCompleted, deltaFailed}

	if promptFailures != nil {
		failures, err := json.Marshal(promptFailures)
		if err != nil {
			return fmt.Errorf("encode prompt failures: %w", err)
		}
		query += `, metadata = jsonb_set(COALESCE(metadata, '{}'::jsonb), '{prompt_failures}', $4::jsonb, true)`
		args = append(args, failures)
	}

	query += ` WHERE id = $1 AND completed_tasks + failed_tasks + $2 + $3 <= total_tasks`

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return ErrProgressConflict
	}
	return nil
}

// Heartbeat stamps liveness and records which runner currently owns the job.
func (s *PostgresStore) Heartbeat(ctx context.Context, id uuid.UUID, runnerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_jobs SET last_heartbeat = NOW(), runner_id = $2, updated_at = NOW()
		 WHERE id = $1`, id, runnerID)
	if err != nil {
		return fmt.Errorf("heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RequestCancellation sets the cooperative cancellation flag. The executor
// observes it at its next iteration boundary; in-flight provider calls are
// not interrupted.
func (s *PostgresStore) RequestCancellation(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_jobs SET cancel_requested = TRUE, updated_at = NOW()
		 WHERE id = $1 AND status IN ('pending', 'processing')`, id)
	if err != nil {
		return fmt.Errorf("request cancellation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		// Already terminal; nothing to cancel.
	}
	return nil
}

// CancelActiveJobs cancels every pending/processing job for an org, along
// with their unprocessed tasks. Used by fan-out when replace=true.
func (s *PostgresStore) CancelActiveJobs(ctx context.Context, orgID uuid.UUID) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin cancel active jobs: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE batch_tasks SET status = 'cancelled', updated_at = NOW()
		 WHERE status IN ('pending', 'processing')
		   AND job_id IN (SELECT id FROM batch_jobs WHERE org_id = $1 AND status IN ('pending', 'processing'))`,
		orgID)
	if err != nil {
		return 0, fmt.Errorf("cancel active job tasks: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE batch_jobs SET status = 'cancelled', completed_at = NOW(), updated_at = NOW()
		 WHERE org_id = $1 AND status IN ('pending', 'processing')`, orgID)
	if err != nil {
		return 0, fmt.Errorf("cancel active jobs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit cancel active jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// StaleJobs returns processing jobs whose heartbeat is older than cutoff
// (or that never heartbeated), oldest first.
func (s *PostgresStore) StaleJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.BatchJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM batch_jobs
		 WHERE status = 'processing' AND (last_heartbeat IS NULL OR last_heartbeat < $1)
		 ORDER BY last_heartbeat ASC NULLS FIRST LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.BatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// --- Tasks ---

const taskColumns = `id, job_id, prompt_id, provider, status, attempts, error_message, created_at, updated_at`

func scanTask(row pgx.Row) (*models.BatchTask, error) {
	var t models.BatchTask
	err := row.Scan(&t.ID, &t.JobID, &t.PromptID, &t.Provider, &t.Status, &t.Attempts,
		&t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) CreateTasks(ctx context.Context, tasks []*models.BatchTask) error {
	if len(tasks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range tasks {
		batch.Queue(
			`INSERT INTO batch_tasks (id, job_id, prompt_id, provider, status, attempts, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			t.ID, t.JobID, t.PromptID, t.Provider, t.Status, t.Attempts, t.CreatedAt, t.UpdatedAt)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range tasks {
		if _, err := results.Exec(); err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("create tasks: %w", err)
		}
	}
	return nil
}

// ClaimTasks atomically moves up to limit pending tasks to processing and
// returns them. SKIP LOCKED keeps two concurrent runners from claiming the
// same rows.
func (s *PostgresStore) ClaimTasks(ctx context.Context, jobID uuid.UUID, limit int) ([]*models.BatchTask, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE batch_tasks SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
		 WHERE id IN (
		   SELECT id FROM batch_tasks
		   WHERE job_id = $1 AND status = 'pending'
		   ORDER BY created_at
		   LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+taskColumns, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.BatchTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_tasks SET status = 'completed', updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`, taskID)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_tasks SET status = 'failed', error_message = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`, taskID, errMsg)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CancelPendingTasks(ctx context.Context, jobID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_tasks SET status = 'cancelled', updated_at = NOW()
		 WHERE job_id = $1 AND status = 'pending'`, jobID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetStuckTasks returns tasks abandoned mid-claim by a crashed runner to
// the pending pool. Only the reconciler calls this, and only for jobs whose
// heartbeat already went stale.
func (s *PostgresStore) ResetStuckTasks(ctx context.Context, jobID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_tasks SET status = 'pending', updated_at = NOW()
		 WHERE job_id = $1 AND status = 'processing'`, jobID)
	if err != nil {
		return 0, fmt.Errorf("reset stuck tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) TaskCounts(ctx context.Context, jobID uuid.UUID) (models.TaskCounts, error) {
	var c models.TaskCounts
	err := s.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE status = 'pending'),
		   COUNT(*) FILTER (WHERE status = 'processing'),
		   COUNT(*) FILTER (WHERE status = 'completed'),
		   COUNT(*) FILTER (WHERE status = 'failed'),
		   COUNT(*) FILTER (WHERE status = 'cancelled')
		 FROM batch_tasks WHERE job_id = $1`, jobID,
	).Scan(&c.Pending, &c.Processing, &c.Completed, &c.Failed, &c.Cancelled)
	if err != nil {
		return models.TaskCounts{}, fmt.Errorf("count tasks: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, jobID uuid.UUID) ([]*models.BatchTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM batch_tasks WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.BatchTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// --- Responses ---

func (s *PostgresStore) CreateResponse(ctx context.Context, rec *models.ResponseRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO responses (id, task_id, job_id, org_id, prompt_id, provider, model, answer,
		   visibility_score, brand_mentioned, competitors_mentioned, tokens_in, tokens_out,
		   status, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.ID, rec.TaskID, rec.JobID, rec.OrgID, rec.PromptID, rec.Provider, rec.Model, rec.Answer,
		rec.VisibilityScore, rec.BrandMentioned, rec.CompetitorsMentioned, rec.TokensIn, rec.TokensOut,
		rec.Status, rec.ErrorMessage, rec.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create response: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListResponses(ctx context.Context, jobID uuid.UUID) ([]*models.ResponseRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, job_id, org_id, prompt_id, provider, model, answer,
		   visibility_score, brand_mentioned, competitors_mentioned, tokens_in, tokens_out,
		   status, error_message, created_at
		 FROM responses WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var recs []*models.ResponseRecord
	for rows.Next() {
		var r models.ResponseRecord
		if err := rows.Scan(&r.ID, &r.TaskID, &r.JobID, &r.OrgID, &r.PromptID, &r.Provider, &r.Model,
			&r.Answer, &r.VisibilityScore, &r.BrandMentioned, &r.CompetitorsMentioned,
			&r.TokensIn, &r.TokensOut, &r.Status, &r.ErrorMessage, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		recs = append(recs, &r)
	}
	return recs, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
