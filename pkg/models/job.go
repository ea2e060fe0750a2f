package models

import (
	"time"

	"github.com/google/uuid"
)

// Batch job statuses. Transitions are validated by CanTransition; terminal
// statuses absorb.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// jobTransitions is the single source of truth for the job state machine.
// Every status mutation (creator, executor, reconciler, cancel handler)
// goes through a store method gated on this table.
var jobTransitions = map[string][]string{
	JobStatusPending:    {JobStatusProcessing, JobStatusCancelled, JobStatusFailed},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to string) bool {
	for _, allowed := range jobTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionsTo returns every status from which a job may reach to.
func TransitionsTo(to string) []string {
	var froms []string
	for from, allowed := range jobTransitions {
		for _, a := range allowed {
			if a == to {
				froms = append(froms, from)
			}
		}
	}
	return froms
}

// IsTerminalJobStatus reports whether a status has no outgoing transitions.
func IsTerminalJobStatus(status string) bool {
	return len(jobTransitions[status]) == 0
}

// JobMetadata is free-form bookkeeping stored on the job row as JSONB.
// PromptFailures carries per-prompt consecutive failure counts so the
// circuit breaker survives across invocations.
type JobMetadata struct {
	Providers      []string       `json:"providers,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	PromptFailures map[string]int `json:"prompt_failures,omitempty"`
}

// BatchJob identifies one fan-out run for one organization: the full set of
// (prompt, provider) combinations asked in a single scan. Progress counters
// are mutated through atomic store increments; completed+failed never
// exceeds TotalTasks. Rows are retained after completion for history.
type BatchJob struct {
	ID              uuid.UUID   `db:"id"               json:"id"`
	OrgID           uuid.UUID   `db:"org_id"           json:"org_id"`
	Status          string      `db:"status"           json:"status"`
	TotalTasks      int         `db:"total_tasks"      json:"total_tasks"`
	CompletedTasks  int         `db:"completed_tasks"  json:"completed_tasks"`
	FailedTasks     int         `db:"failed_tasks"     json:"failed_tasks"`
	CancelRequested bool        `db:"cancel_requested" json:"cancel_requested"`
	RunnerID        string      `db:"runner_id"        json:"runner_id,omitempty"`
	Metadata        JobMetadata `db:"metadata"         json:"metadata"`
	StartedAt       *time.Time  `db:"started_at"       json:"started_at,omitempty"`
	CompletedAt     *time.Time  `db:"completed_at"     json:"completed_at,omitempty"`
	LastHeartbeat   *time.Time  `db:"last_heartbeat"   json:"last_heartbeat,omitempty"`
	CreatedAt       time.Time   `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at"       json:"updated_at"`
}

// RemainingTasks returns the number of tasks not yet counted as terminal.
func (j *BatchJob) RemainingTasks() int {
	return j.TotalTasks - j.CompletedTasks - j.FailedTasks
}

// IsTerminal reports whether the job has reached a final status.
func (j *BatchJob) IsTerminal() bool {
	return IsTerminalJobStatus(j.Status)
}
