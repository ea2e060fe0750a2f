package models

import (
	"time"

	"github.com/google/uuid"
)

// Batch task statuses. A task is claimed pending→processing by exactly one
// runner via a conditional update, then ends terminal.
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusCancelled  = "cancelled"
)

// BatchTask is one (prompt, provider) unit of work within a job. The
// (job_id, prompt_id, provider) triple is unique per job.
type BatchTask struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	JobID        uuid.UUID `db:"job_id"        json:"job_id"`
	PromptID     uuid.UUID `db:"prompt_id"     json:"prompt_id"`
	Provider     string    `db:"provider"      json:"provider"`
	Status       string    `db:"status"        json:"status"`
	Attempts     int       `db:"attempts"      json:"attempts"`
	ErrorMessage *string   `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}

// TaskCounts is a per-status tally for one job, used by the reconciler to
// decide between finalizing and resuming.
type TaskCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// AllTerminal reports whether no task is still pending or in flight.
func (c TaskCounts) AllTerminal() bool {
	return c.Pending == 0 && c.Processing == 0
}

// Total returns the sum across all statuses.
func (c TaskCounts) Total() int {
	return c.Pending + c.Processing + c.Completed + c.Failed + c.Cancelled
}
