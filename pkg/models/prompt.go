package models

import (
	"time"

	"github.com/google/uuid"
)

// Prompt is one question we ask AI assistants on behalf of an organization.
// Only active prompts are included when a batch job fans out.
type Prompt struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	OrgID     uuid.UUID `db:"org_id"     json:"org_id"`
	Text      string    `db:"text"       json:"text"`
	Active    bool      `db:"active"     json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
