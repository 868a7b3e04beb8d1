package models

import (
	"time"

	"github.com/google/uuid"
)

// OfficeType classifies the kind of welfare-service office
type OfficeType string

const (
	OfficeTypeTransitionToEmployment OfficeType = "transition_to_employment"
	OfficeTypeContinuousSupportA     OfficeType = "continuous_support_a"
	OfficeTypeContinuousSupportB     OfficeType = "continuous_support_b"
)

// Office is a tenant organization. A soft-deleted office (deleted_at set)
// is retained until purge_after, when an external sweep removes it.
type Office struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	OfficeType OfficeType `db:"office_type" json:"office_type"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt  *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	PurgeAfter *time.Time `db:"purge_after" json:"purge_after,omitempty"`
}

// TableName returns the database table name
func (Office) TableName() string {
	return "offices"
}

// IsWithdrawn reports whether the office has been soft-deleted.
func (o *Office) IsWithdrawn() bool {
	return o.DeletedAt != nil
}
