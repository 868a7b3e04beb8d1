package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded by the core. The set is open; these are the
// actions Clover itself writes.
const (
	AuditActionRequestSubmitted  = "request.submitted"
	AuditActionRequestApproved   = "request.approved"
	AuditActionRequestRejected   = "request.rejected"
	AuditActionRequestDeleted    = "request.deleted"
	AuditActionApplyFailed       = "request.apply_failed"
	AuditActionStepCompleted     = "support_plan.step_completed"
	AuditActionDeadlineUpdated   = "support_plan.deadline_updated"
	AuditActionCycleStarted      = "support_plan.cycle_started"
	AuditActionOfficeWithdrawn   = "office.withdrawn"
	AuditActionRecipientCreated  = "recipient.created"
)

// AuditLogEntry is an immutable record of a state-changing event.
type AuditLogEntry struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	ActorID    uuid.UUID       `db:"actor_id" json:"actor_id"`
	ActorRole  Role            `db:"actor_role" json:"actor_role"`
	Action     string          `db:"action" json:"action"`
	TargetType string          `db:"target_type" json:"target_type"`
	TargetID   uuid.UUID       `db:"target_id" json:"target_id"`
	OfficeID   uuid.UUID       `db:"office_id" json:"office_id"`
	Details    json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (AuditLogEntry) TableName() string {
	return "audit_log_entries"
}

// AuditQuery filters the audit query API. Zero values mean "no filter".
type AuditQuery struct {
	OfficeID   *uuid.UUID `json:"office_id,omitempty"`
	TargetType string     `json:"target_type,omitempty"`
	Action     string     `json:"action,omitempty"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
}
