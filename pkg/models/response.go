package models

import (
	"time"

	"github.com/google/uuid"
)

// Response record statuses. Error responses are persisted too so failures
// stay visible instead of being silently dropped.
const (
	ResponseStatusOK    = "ok"
	ResponseStatusError = "error"
)

// ResponseRecord is the persisted outcome of asking one provider one
// prompt: the raw answer, its visibility score, and detected mentions.
// Immutable after insert; exactly one per terminal task.
type ResponseRecord struct {
	ID                   uuid.UUID `db:"id"                    json:"id"`
	TaskID               uuid.UUID `db:"task_id"               json:"task_id"`
	JobID                uuid.UUID `db:"job_id"                json:"job_id"`
	OrgID                uuid.UUID `db:"org_id"                json:"org_id"`
	PromptID             uuid.UUID `db:"prompt_id"             json:"prompt_id"`
	Provider             string    `db:"provider"              json:"provider"`
	Model                string    `db:"model"                 json:"model"`
	Answer               string    `db:"answer"                json:"answer"`
	VisibilityScore      float64   `db:"visibility_score"      json:"visibility_score"`
	BrandMentioned       bool      `db:"brand_mentioned"       json:"brand_mentioned"`
	CompetitorsMentioned []string  `db:"competitors_mentioned" json:"competitors_mentioned"`
	TokensIn             int       `db:"tokens_in"             json:"tokens_in"`
	TokensOut            int       `db:"tokens_out"            json:"tokens_out"`
	Status               string    `db:"status"                json:"status"`
	ErrorMessage         *string   `db:"error_message"         json:"error_message,omitempty"`
	CreatedAt            time.Time `db:"created_at"            json:"created_at"`
}
