// Package batch is the job scheduling and reconciliation core. A fan-out
// turns an organization's (prompt × provider) combinations into a persisted
// job plus one task per combination; the executor processes tasks in
// budget-boxed micro-batches; the reconciler recovers jobs whose heartbeat
// went stale; the driver re-invokes the executor until the job finishes.
package batch

import (
	"errors"

	"github.com/brandscope/brandscope/pkg/models"
)

// Actions reported to callers. Matches the wire contract of the HTTP layer.
const (
	ActionCreated    = "created"
	ActionExisting   = "existing"
	ActionInProgress = "in_progress"
	ActionCompleted  = "completed"
	ActionResumed    = "resumed"
	ActionFinalized  = "finalized"
	ActionCancelled  = "cancelled"
	ActionFailed     = "failed"
	ActionError      = "error"
)

// Typed fan-out failures: fail fast, no job row is created.
var (
	ErrNoActivePrompts     = errors.New("organization has no active prompts")
	ErrNoEntitledProviders = errors.New("organization has no entitled providers configured")
)

// Driver loop failures. The job itself is left intact for the reconciler.
var (
	ErrDriveStalled = errors.New("drive aborted: no progress across consecutive iterations")
	ErrDriveCeiling = errors.New("drive aborted: iteration ceiling reached")
)

// Result is the outcome of one engine operation.
type Result struct {
	Action    string           `json:"action"`
	Job       *models.BatchJob `json:"job,omitempty"`
	Processed int              `json:"processed,omitempty"`
	Remaining int              `json:"remaining,omitempty"`
}

// terminalAction maps a terminal job status to its result action.
func terminalAction(status string) string {
	switch status {
	case models.JobStatusCompleted:
		return ActionCompleted
	case models.JobStatusFailed:
		return ActionFailed
	case models.JobStatusCancelled:
		return ActionCancelled
	default:
		return ActionError
	}
}
