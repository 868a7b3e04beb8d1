package models

import (
	"time"

	"github.com/google/uuid"
)

// StepType is one of the four fixed stages within a support plan cycle.
type StepType string

const (
	// StepAssessmentOrMonitoring resolves to "assessment" on cycle 1 and
	// "monitoring" on every later cycle.
	StepAssessmentOrMonitoring StepType = "assessment_or_monitoring"
	StepDraftPlan              StepType = "draft_plan"
	StepStaffMeeting           StepType = "staff_meeting"
	StepFinalPlanSigned        StepType = "final_plan_signed"
)

// StepTypes lists the step types in cycle order.
var StepTypes = []StepType{
	StepAssessmentOrMonitoring,
	StepDraftPlan,
	StepStaffMeeting,
	StepFinalPlanSigned,
}

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	for _, s := range StepTypes {
		if s == t {
			return true
		}
	}
	return false
}

// Resolve returns the display name of the step for a given cycle number.
func (t StepType) Resolve(cycleNumber int) string {
	if t != StepAssessmentOrMonitoring {
		return string(t)
	}
	if cycleNumber == 1 {
		return "assessment"
	}
	return "monitoring"
}

// Monitoring deadline bounds, in days.
const (
	MonitoringDeadlineDaysMin     = 7
	MonitoringDeadlineDaysMax     = 30
	MonitoringDeadlineDaysDefault = 7
)

// SupportPlanCycle is one numbered iteration of a recipient's support
// plan. Exactly one cycle per recipient is the latest.
type SupportPlanCycle struct {
	ID                     uuid.UUID  `db:"id" json:"id"`
	RecipientID            uuid.UUID  `db:"recipient_id" json:"recipient_id"`
	OfficeID               uuid.UUID  `db:"office_id" json:"office_id"`
	CycleNumber            int        `db:"cycle_number" json:"cycle_number"`
	IsLatestCycle          bool       `db:"is_latest_cycle" json:"is_latest_cycle"`
	PlanCycleStartDate     time.Time  `db:"plan_cycle_start_date" json:"plan_cycle_start_date"`
	MonitoringDeadlineDays int        `db:"monitoring_deadline_days" json:"monitoring_deadline_days"`
	// MonitoringDueDate is supplied by callers when configuring the
	// monitoring deadline; the service never derives an anchor date.
	MonitoringDueDate *time.Time `db:"monitoring_due_date" json:"monitoring_due_date,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (SupportPlanCycle) TableName() string {
	return "support_plan_cycles"
}

// StepStatus records progress of one step within a cycle.
type StepStatus struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	CycleID       uuid.UUID  `db:"cycle_id" json:"cycle_id"`
	StepType      StepType   `db:"step_type" json:"step_type"`
	Completed     bool       `db:"completed" json:"completed"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	DeliverableID *uuid.UUID `db:"deliverable_id" json:"deliverable_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (StepStatus) TableName() string {
	return "step_statuses"
}

// Deliverable is the uploaded artifact evidencing a step's completion.
// A deliverable row exists only once its step is completed.
type Deliverable struct {
	ID         uuid.UUID `db:"id" json:"id"`
	FileName   string    `db:"file_name" json:"file_name"`
	SizeBytes  int64     `db:"size_bytes" json:"size_bytes"`
	StorageURL string    `db:"storage_url" json:"storage_url"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Deliverable) TableName() string {
	return "deliverables"
}

// DeliverableUpload describes an artifact already placed in the
// deliverable store, ready to be linked to a step.
type DeliverableUpload struct {
	FileName   string `json:"file_name"`
	SizeBytes  int64  `json:"size_bytes"`
	StorageURL string `json:"storage_url"`
}

// StepView is a step status with its deliverable resolved.
type StepView struct {
	StepStatus
	ResolvedName string       `json:"resolved_name"`
	Deliverable  *Deliverable `json:"deliverable,omitempty"`
}

// CycleView is a cycle with nested steps and computed deadline fields.
// Renewal and monitoring deadline inputs are included verbatim so
// clients can recompute urgency locally.
type CycleView struct {
	SupportPlanCycle
	Steps                   []StepView `json:"steps"`
	RenewalDeadline         time.Time  `json:"renewal_deadline"`
	RenewalDaysRemaining    int        `json:"renewal_days_remaining"`
	RenewalUrgency          string     `json:"renewal_urgency"`
	MonitoringDaysRemaining *int       `json:"monitoring_days_remaining,omitempty"`
	MonitoringUrgency       *string    `json:"monitoring_urgency,omitempty"`
}

// RecipientPlanView is the support-plan read model for one recipient:
// cycles in descending cycle order, each with nested step statuses.
type RecipientPlanView struct {
	Recipient WelfareRecipient `json:"recipient"`
	Cycles    []CycleView      `json:"cycles"`
}
