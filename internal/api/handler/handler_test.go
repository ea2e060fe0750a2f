package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandscope/brandscope/internal/api/handler"
	mw "github.com/brandscope/brandscope/internal/api/middleware"
	"github.com/brandscope/brandscope/internal/batch"
	"github.com/brandscope/brandscope/internal/store"
	"github.com/brandscope/brandscope/pkg/models"
)

// fakeStore implements just what the job handlers touch; everything else
// panics via the embedded nil interface.
type fakeStore struct {
	store.Store
	jobs      map[uuid.UUID]*models.BatchJob
	counts    models.TaskCounts
	tasks     []*models.BatchTask
	responses []*models.ResponseRecord

	orgs []*models.Organization

	cancellationRequested bool
	pendingCancelled      bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[uuid.UUID]*models.BatchJob)}
}

func (f *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*models.BatchJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeStore) RequestCancellation(_ context.Context, id uuid.UUID) error {
	f.cancellationRequested = true
	if job, ok := f.jobs[id]; ok {
		job.CancelRequested = true
	}
	return nil
}

func (f *fakeStore) CancelPendingTasks(_ context.Context, _ uuid.UUID) (int64, error) {
	f.pendingCancelled = true
	return 1, nil
}

func (f *fakeStore) TransitionJob(_ context.Context, id uuid.UUID, to string) (bool, error) {
	job, ok := f.jobs[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if !models.CanTransition(job.Status, to) {
		return false, nil
	}
	job.Status = to
	return true, nil
}

func (f *fakeStore) TaskCounts(_ context.Context, _ uuid.UUID) (models.TaskCounts, error) {
	return f.counts, nil
}

func (f *fakeStore) ListTasks(_ context.Context, _ uuid.UUID) ([]*models.BatchTask, error) {
	return f.tasks, nil
}

func (f *fakeStore) ListResponses(_ context.Context, _ uuid.UUID) ([]*models.ResponseRecord, error) {
	return f.responses, nil
}

func (f *fakeStore) ListOrganizations(_ context.Context) ([]*models.Organization, error) {
	return f.orgs, nil
}

type fakeCreator struct {
	res *batch.Result
	err error
}

func (f *fakeCreator) CreateJob(_ context.Context, _ uuid.UUID, _ bool) (*batch.Result, error) {
	return f.res, f.err
}

type fakeRunner struct {
	res *batch.Result
	err error
}

func (f *fakeRunner) Run(_ context.Context, _ uuid.UUID) (*batch.Result, error) {
	return f.res, f.err
}

type fakeSnapshots struct {
	job *models.BatchJob
}

func (f *fakeSnapshots) GetJobSnapshot(_ context.Context, _ uuid.UUID) (*models.BatchJob, bool, error) {
	if f.job == nil {
		return nil, false, nil
	}
	cp := *f.job
	return &cp, true, nil
}

// serve mounts the handler on a chi route and executes an authenticated
// request against it.
func serve(t *testing.T, method, pattern, target string, body string, orgID uuid.UUID, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req = req.WithContext(mw.SetOrgID(req.Context(), orgID))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type engineBody struct {
	Success   bool             `json:"success"`
	Action    string           `json:"action"`
	Job       *models.BatchJob `json:"job"`
	Processed int              `json:"processed"`
	Remaining int              `json:"remaining"`
	Error     string           `json:"error"`
}

func decodeEngine(t *testing.T, w *httptest.ResponseRecorder) engineBody {
	t.Helper()
	var body engineBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func testJob(orgID uuid.UUID, status string) *models.BatchJob {
	return &models.BatchJob{
		ID:         uuid.New(),
		OrgID:      orgID,
		Status:     status,
		TotalTasks: 10,
		CreatedAt:  time.Now().UTC(),
	}
}

// --- Create ---

func TestCreateJobReturnsCreated(t *testing.T) {
	orgID := uuid.New()
	job := testJob(orgID, models.JobStatusPending)
	h := handler.NewCreateJobHandler(&fakeCreator{res: &batch.Result{Action: batch.ActionCreated, Job: job}})

	w := serve(t, http.MethodPost, "/api/v1/jobs", "/api/v1/jobs", `{"replace":false}`, orgID, h)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeEngine(t, w)
	assert.True(t, body.Success)
	assert.Equal(t, batch.ActionCreated, body.Action)
	require.NotNil(t, body.Job)
	assert.Equal(t, job.ID, body.Job.ID)
}

func TestCreateJobDomainErrorsAreHTTP200(t *testing.T) {
	orgID := uuid.New()
	h := handler.NewCreateJobHandler(&fakeCreator{err: batch.ErrNoActivePrompts})

	w := serve(t, http.MethodPost, "/api/v1/jobs", "/api/v1/jobs", "", orgID, h)

	assert.Equal(t, http.StatusOK, w.Code, "engine outcomes ride on action, not status code")
	body := decodeEngine(t, w)
	assert.False(t, body.Success)
	assert.Equal(t, batch.ActionError, body.Action)
	assert.Contains(t, body.Error, "no active prompts")
}

func TestCreateJobUnknownOrgIs404(t *testing.T) {
	h := handler.NewCreateJobHandler(&fakeCreator{err: store.ErrNotFound})
	w := serve(t, http.MethodPost, "/api/v1/jobs", "/api/v1/jobs", "", uuid.New(), h)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateJobInvalidBody(t *testing.T) {
	h := handler.NewCreateJobHandler(&fakeCreator{})
	w := serve(t, http.MethodPost, "/api/v1/jobs", "/api/v1/jobs", "{bad json", uuid.New(), h)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Run ---

func TestRunJobReturnsExecutorResult(t *testing.T) {
	orgID := uuid.New()
	st := newFakeStore()
	job := testJob(orgID, models.JobStatusProcessing)
	st.jobs[job.ID] = job

	runner := &fakeRunner{res: &batch.Result{Action: batch.ActionInProgress, Job: job, Processed: 12, Remaining: 8}}
	h := handler.NewRunJobHandler(st, runner)

	w := serve(t, http.MethodPost, "/api/v1/jobs/{jobID}/run", "/api/v1/jobs/"+job.ID.String()+"/run", "", orgID, h)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeEngine(t, w)
	assert.Equal(t, batch.ActionInProgress, body.Action)
	assert.Equal(t, 12, body.Processed)
	assert.Equal(t, 8, body.Remaining)
}

func TestRunJobOtherOrgReadsAsNotFound(t *testing.T) {
	st := newFakeStore()
	job := testJob(uuid.New(), models.JobStatusPending)
	st.jobs[job.ID] = job

	h := handler.NewRunJobHandler(st, &fakeRunner{})
	w := serve(t, http.MethodPost, "/api/v1/jobs/{jobID}/run", "/api/v1/jobs/"+job.ID.String()+"/run", "", uuid.New(), h)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunJobExecutorFailure(t *testing.T) {
	orgID := uuid.New()
	st := newFakeStore()
	job := testJob(orgID, models.JobStatusPending)
	st.jobs[job.ID] = job

	h := handler.NewRunJobHandler(st, &fakeRunner{err: errors.New("db down")})
	w := serve(t, http.MethodPost, "/api/v1/jobs/{jobID}/run", "/api/v1/jobs/"+job.ID.String()+"/run", "", orgID, h)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeEngine(t, w)
	assert.False(t, body.Success)
	assert.Equal(t, batch.ActionError, body.Action)
}

// --- Get ---

func TestGetJobServedFromSnapshot(t *testing.T) {
	orgID := uuid.New()
	job := testJob(orgID, models.JobStatusProcessing)

	// Store is empty: a hit proves the snapshot served the read.
	h := handler.NewGetJobHandler(newFakeStore(), &fakeSnapshots{job: job})
	w := serve(t, http.MethodGet, "/api/v1/jobs/{jobID}", "/api/v1/jobs/"+job.ID.String(), "", orgID, h)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeEngine(t, w)
	assert.Equal(t, batch.ActionInProgress, body.Action)
	require.NotNil(t, body.Job)
	assert.Equal(t, job.ID, body.Job.ID)
}

func TestGetJobFallsBackToStore(t *testing.T) {
	orgID := uuid.New()
	st := newFakeStore()
	job := testJob(orgID, models.JobStatusCompleted)
	job.CompletedTasks = 10
	st.jobs[job.ID] = job

	h := handler.NewGetJobHandler(st, &fakeSnapshots{})
	w := serve(t, http.MethodGet, "/api/v1/jobs/{jobID}", "/api/v1/jobs/"+job.ID.String(), "", orgID, h)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeEngine(t, w)
	assert.Equal(t, batch.ActionCompleted, body.Action)
}

func TestGetJobInvalidID(t *testing.T) {
	h := handler.NewGetJobHandler(newFakeStore(), &fakeSnapshots{})
	w := serve(t, http.MethodGet, "/api/v1/jobs/{jobID}", "/api/v1/jobs/not-a-uuid", "", uuid.New(), h)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Cancel ---

func TestCancelPendingJobCancelsImmediately(t *testing.T) {
	orgID := uuid.New()
	st := newFakeStore()
	job := testJob(orgID, models.JobStatusPending)
	st.jobs[job.ID] = job

	h := handler.NewCancelJobHandler(st)
	w := serve(t, http.MethodPost, "/api/v1/jobs/{jobID}/cancel", "/api/v1/jobs/"+job.ID.String()+"/cancel", "", orgID, h)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeEngine(t, w)
	assert.Equal(t, batch.ActionCancelled, body.Action)
	assert.True(t, st.cancellationRequested)
	assert.True(t, st.pendingCancelled)
}

func TestCancelProcessingJobSetsFlagOnly(t *testing.T) {
	orgID := uuid.New()
	st := newFakeStore()
	job := testJob(orgID, models.JobStatusProcessing)
	st.jobs[job.ID] = job

	h := handler.NewCancelJobHandler(st)
	w := serve(t, http.MethodPost, "/api/v1/jobs/{jobID}/cancel", "/api/v1/jobs/"+job.ID.String()+"/cancel", "", orgID, h)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeEngine(t, w)
	assert.Equal(t, batch.ActionInProgress, body.Action, "executor finishes the cancel at its next boundary")
	require.NotNil(t, body.Job)
	assert.True(t, body.Job.CancelRequested)
	assert.False(t, st.pendingCancelled)
}

func TestCancelTerminalJobIsNoOp(t *testing.T) {
	orgID := uuid.New()
	st := newFakeStore()
	job := testJob(orgID, models.JobStatusCompleted)
	st.jobs[job.ID] = job

	h := handler.NewCancelJobHandler(st)
	w := serve(t, http.MethodPost, "/api/v1/jobs/{jobID}/cancel", "/api/v1/jobs/"+job.ID.String()+"/cancel", "", orgID, h)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeEngine(t, w)
	assert.Equal(t, batch.ActionCompleted, body.Action)
	assert.False(t, st.cancellationRequested)
}

// --- Diagnostics ---

func TestJobDiagnostics(t *testing.T) {
	orgID := uuid.New()
	st := newFakeStore()
	job := testJob(orgID, models.JobStatusProcessing)
	st.jobs[job.ID] = job
	st.counts = models.TaskCounts{Pending: 4, Completed: 5, Failed: 1}
	errMsg := "provider unavailable"
	st.responses = []*models.ResponseRecord{
		{ID: uuid.New(), JobID: job.ID, Status: models.ResponseStatusOK},
		{ID: uuid.New(), JobID: job.ID, Status: models.ResponseStatusError, ErrorMessage: &errMsg},
	}

	h := handler.NewJobDiagnosticsHandler(st)
	w := serve(t, http.MethodGet, "/api/v1/jobs/{jobID}/diagnostics", "/api/v1/jobs/"+job.ID.String()+"/diagnostics", "", orgID, h)

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data struct {
			TaskCounts     models.TaskCounts        `json:"task_counts"`
			ErrorResponses []*models.ResponseRecord `json:"error_responses"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 4, body.Data.TaskCounts.Pending)
	require.Len(t, body.Data.ErrorResponses, 1, "only error responses surface in diagnostics")
	assert.Equal(t, models.ResponseStatusError, body.Data.ErrorResponses[0].Status)
}

// --- Reconcile ---

type fakeSweeper struct {
	outcomes []batch.ReconcileOutcome
	err      error
}

func (f *fakeSweeper) Sweep(_ context.Context) ([]batch.ReconcileOutcome, error) {
	return f.outcomes, f.err
}

func TestReconcileHandler(t *testing.T) {
	sweeper := &fakeSweeper{outcomes: []batch.ReconcileOutcome{
		{JobID: uuid.New(), Action: batch.ActionFinalized},
		{JobID: uuid.New(), Action: batch.ActionResumed, TasksReset: 3},
	}}

	h := handler.NewReconcileHandler(sweeper)
	w := serve(t, http.MethodPost, "/api/v1/reconcile", "/api/v1/reconcile", "", uuid.New(), h)

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data struct {
			Reconciled int `json:"reconciled"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 2, body.Data.Reconciled)
}

func TestReconcileHandlerError(t *testing.T) {
	h := handler.NewReconcileHandler(&fakeSweeper{err: errors.New("db down")})
	w := serve(t, http.MethodPost, "/api/v1/reconcile", "/api/v1/reconcile", "", uuid.New(), h)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// --- Scan ---

// orgCreator returns a per-org canned fan-out result.
type orgCreator struct {
	results map[uuid.UUID]*batch.Result
	errs    map[uuid.UUID]error
}

func (c *orgCreator) CreateJob(_ context.Context, orgID uuid.UUID, _ bool) (*batch.Result, error) {
	if err, ok := c.errs[orgID]; ok {
		return nil, err
	}
	return c.results[orgID], nil
}

func TestScanHandlerFansOutPerOrganization(t *testing.T) {
	st := newFakeStore()
	orgA := &models.Organization{ID: uuid.New(), Name: "a"}
	orgB := &models.Organization{ID: uuid.New(), Name: "b"}
	orgC := &models.Organization{ID: uuid.New(), Name: "c"}
	st.orgs = []*models.Organization{orgA, orgB, orgC}

	jobA := testJob(orgA.ID, models.JobStatusPending)
	jobB := testJob(orgB.ID, models.JobStatusProcessing)
	creator := &orgCreator{
		results: map[uuid.UUID]*batch.Result{
			orgA.ID: {Action: batch.ActionCreated, Job: jobA},
			orgB.ID: {Action: batch.ActionExisting, Job: jobB},
		},
		errs: map[uuid.UUID]error{
			orgC.ID: batch.ErrNoActivePrompts,
		},
	}

	h := handler.NewScanHandler(st, creator)
	w := serve(t, http.MethodPost, "/api/v1/scan", "/api/v1/scan", "", uuid.New(), h)

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data struct {
			Organizations int `json:"organizations"`
			JobsCreated   int `json:"jobs_created"`
			Outcomes      []struct {
				OrgID  uuid.UUID  `json:"org_id"`
				Action string     `json:"action"`
				JobID  *uuid.UUID `json:"job_id"`
				Error  string     `json:"error"`
			} `json:"outcomes"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 3, body.Data.Organizations)
	assert.Equal(t, 1, body.Data.JobsCreated, "existing jobs do not count as created")
	require.Len(t, body.Data.Outcomes, 3)
	assert.Equal(t, batch.ActionCreated, body.Data.Outcomes[0].Action)
	require.NotNil(t, body.Data.Outcomes[0].JobID)
	assert.Equal(t, jobA.ID, *body.Data.Outcomes[0].JobID)
	assert.Equal(t, batch.ActionExisting, body.Data.Outcomes[1].Action)
	assert.Equal(t, batch.ActionError, body.Data.Outcomes[2].Action)
	assert.Contains(t, body.Data.Outcomes[2].Error, "no active prompts")
}

// --- Health ---

type pinger struct{ err error }

func (p pinger) Ping(_ context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	h := handler.NewHealthHandler(pinger{}, pinger{})
	w := serve(t, http.MethodGet, "/api/v1/health", "/api/v1/health", "", uuid.New(), h)
	assert.Equal(t, http.StatusOK, w.Code)

	h = handler.NewHealthHandler(pinger{}, pinger{err: errors.New("redis: connection refused")})
	w = serve(t, http.MethodGet, "/api/v1/health", "/api/v1/health", "", uuid.New(), h)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
