package models

import (
	"time"

	"github.com/google/uuid"
)

// WelfareRecipient is a client record owned by an office. At most one of
// its support plan cycles carries is_latest_cycle at any time.
type WelfareRecipient struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	OfficeID  uuid.UUID  `db:"office_id" json:"office_id"`
	Name      string     `db:"name" json:"name"`
	Furigana  *string    `db:"furigana" json:"furigana,omitempty"`
	BirthDate *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (WelfareRecipient) TableName() string {
	return "welfare_recipients"
}

// RegisterRecipientRequest creates a recipient and their first cycle.
type RegisterRecipientRequest struct {
	Name           string     `json:"name" validate:"required"`
	Furigana       *string    `json:"furigana,omitempty"`
	BirthDate      *time.Time `json:"birth_date,omitempty"`
	CycleStartDate time.Time  `json:"cycle_start_date" validate:"required"`
}
