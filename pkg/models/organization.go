// Package models contains shared data models used across the BrandScope codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization represents a customer account. Every prompt, job, and
// response belongs to an organization.
type Organization struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	Name        string    `db:"name"         json:"name"`
	BrandName   string    `db:"brand_name"   json:"brand_name"`
	Competitors []string  `db:"competitors"  json:"competitors"`
	PlanTier    string    `db:"plan_tier"    json:"plan_tier"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"   json:"updated_at"`
}
