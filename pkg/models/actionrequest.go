package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ResourceType discriminates the three action request specializations.
type ResourceType string

const (
	ResourceRoleChange        ResourceType = "role_change"
	ResourceOfficeWithdrawal  ResourceType = "office_withdrawal"
	ResourceSupportPlanStatus ResourceType = "support_plan_status"
)

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceRoleChange, ResourceOfficeWithdrawal, ResourceSupportPlanStatus:
		return true
	}
	return false
}

// ActionType is the kind of mutation a request defers.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// RequestStatus is the review state of an action request. It moves from
// pending to approved or rejected exactly once and never back.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// ActionRequest is a deferred-mutation envelope awaiting review. The
// payload in RequestData is applied to the target resource only when a
// privileged reviewer approves the request.
type ActionRequest struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	OfficeID     uuid.UUID       `db:"office_id" json:"office_id"`
	ResourceType ResourceType    `db:"resource_type" json:"resource_type"`
	ActionType   ActionType      `db:"action_type" json:"action_type"`
	RequestedBy  uuid.UUID       `db:"requested_by" json:"requested_by"`
	Status       RequestStatus   `db:"status" json:"status"`
	RequestData  json.RawMessage `db:"request_data" json:"request_data"`
	ReviewerID   *uuid.UUID      `db:"reviewer_id" json:"reviewer_id,omitempty"`
	ReviewedAt   *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
	Notes        *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (ActionRequest) TableName() string {
	return "action_requests"
}

// Pending reports whether the request is still awaiting review.
func (r *ActionRequest) Pending() bool {
	return r.Status == RequestStatusPending
}

// RoleChangePayload is the request_data shape for role_change requests.
// Staff submit these for themselves only.
type RoleChangePayload struct {
	StaffID       uuid.UUID `json:"staff_id"`
	FromRole      Role      `json:"from_role"`
	RequestedRole Role      `json:"requested_role"`
}

// WithdrawalPayload is the request_data shape for office_withdrawal
// requests. Only the office owner may submit one; only app_admin
// reviews it.
type WithdrawalPayload struct {
	OfficeID uuid.UUID `json:"office_id"`
	Title    string    `json:"title"`
	Reason   string    `json:"reason"`
}

// StepCompletionPayload is the request_data shape for
// support_plan_status requests raised by employees. The deliverable is
// already staged in the artifact store and is linked on approval.
type StepCompletionPayload struct {
	CycleID     uuid.UUID          `json:"cycle_id"`
	StepType    StepType           `json:"step_type"`
	Deliverable *DeliverableUpload `json:"deliverable,omitempty"`
	// MonitoringDeadlineDays is set for deferred deadline configuration
	// instead of a step completion.
	MonitoringDeadlineDays *int       `json:"monitoring_deadline_days,omitempty"`
	MonitoringDueDate      *time.Time `json:"monitoring_due_date,omitempty"`
}

// RequestQuery filters action request listings. Nil fields match all.
type RequestQuery struct {
	OfficeID     *uuid.UUID
	ResourceType *ResourceType
	Status       *RequestStatus
	RequestedBy  *uuid.UUID
	Limit        int
	Offset       int
}

// SubmitRequest is the mutation submission API body.
type SubmitRequest struct {
	ResourceType ResourceType    `json:"resource_type" validate:"required"`
	ActionType   ActionType      `json:"action_type" validate:"required"`
	RequestData  json.RawMessage `json:"request_data" validate:"required"`
}

// ReviewRequest is the approve/reject API body.
type ReviewRequest struct {
	Notes *string `json:"notes,omitempty"`
}
