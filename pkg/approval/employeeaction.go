package approval

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Ramsey-B/stem/pkg/database"

	"github.com/Ramsey-B/clover/internal/repositories/supportplan"
	"github.com/Ramsey-B/clover/pkg/deliverables"
	"github.com/Ramsey-B/clover/pkg/models"
)

// EmployeeActionStrategy defers support plan mutations raised by
// employees: step completion, deliverable re-upload and monitoring
// deadline configuration. A manager or owner of the same office
// reviews. Staged deliverables are promoted when the request is
// approved.
type EmployeeActionStrategy struct {
	plans *supportplan.Repository
	store *deliverables.Store
}

// NewEmployeeActionStrategy creates the support_plan_status strategy
func NewEmployeeActionStrategy(plans *supportplan.Repository, store *deliverables.Store) *EmployeeActionStrategy {
	return &EmployeeActionStrategy{
		plans: plans,
		store: store,
	}
}

func (s *EmployeeActionStrategy) ResourceType() models.ResourceType {
	return models.ResourceSupportPlanStatus
}

func (s *EmployeeActionStrategy) payload(request *models.ActionRequest) (*models.StepCompletionPayload, error) {
	var payload models.StepCompletionPayload
	if err := json.Unmarshal(request.RequestData, &payload); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "malformed support plan payload")
	}
	return &payload, nil
}

func (s *EmployeeActionStrategy) ValidateSubmit(ctx context.Context, actor models.Actor, request *models.ActionRequest) error {
	payload, err := s.payload(request)
	if err != nil {
		return err
	}

	if actor.Role != models.RoleEmployee {
		return httperror.NewHTTPError(http.StatusForbidden, "only employees submit support plan requests")
	}

	cycle, err := s.plans.GetCycle(ctx, payload.CycleID)
	if err != nil {
		return err
	}
	if !actor.MemberOf(cycle.OfficeID) {
		return httperror.NewHTTPError(http.StatusForbidden, "cycle belongs to another office")
	}

	if payload.MonitoringDeadlineDays != nil {
		days := *payload.MonitoringDeadlineDays
		if days < models.MonitoringDeadlineDaysMin || days > models.MonitoringDeadlineDaysMax {
			return httperror.NewHTTPError(http.StatusBadRequest, "monitoring_deadline_days must be between 7 and 30")
		}
		if !cycle.IsLatestCycle {
			return httperror.NewHTTPError(http.StatusConflict, "monitoring deadline can only be set on the latest cycle")
		}
		request.OfficeID = cycle.OfficeID
		return nil
	}

	if !payload.StepType.Valid() {
		return httperror.NewHTTPError(http.StatusBadRequest, "unknown step type")
	}
	if request.ActionType == models.ActionUpdate && payload.Deliverable == nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "a replacement deliverable is required")
	}
	if payload.Deliverable != nil && payload.Deliverable.StorageURL == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "deliverable storage reference is missing")
	}

	request.OfficeID = cycle.OfficeID
	return nil
}

func (s *EmployeeActionStrategy) AuthorizeReview(ctx context.Context, actor models.Actor, request *models.ActionRequest) error {
	if !actor.MemberOf(request.OfficeID) {
		return httperror.NewHTTPError(http.StatusForbidden, "reviewer must belong to the request's office")
	}
	if actor.Role != models.RoleOwner && actor.Role != models.RoleManager {
		return httperror.NewHTTPError(http.StatusForbidden, "reviewer must be an owner or manager")
	}
	return nil
}

func (s *EmployeeActionStrategy) ValidateRejection(request *models.ActionRequest, notes *string) error {
	return nil
}

func (s *EmployeeActionStrategy) Apply(ctx context.Context, tx database.Tx, actor models.Actor, request *models.ActionRequest) error {
	payload, err := s.payload(request)
	if err != nil {
		return err
	}

	if payload.MonitoringDeadlineDays != nil {
		return s.plans.SetMonitoringDeadlineTx(ctx, tx, payload.CycleID, *payload.MonitoringDeadlineDays, payload.MonitoringDueDate)
	}

	upload := payload.Deliverable
	if upload != nil && deliverables.Staged(upload.StorageURL) {
		final, err := s.store.Promote(ctx, upload.StorageURL)
		if err != nil {
			return err
		}
		promoted := *upload
		promoted.StorageURL = final
		upload = &promoted
	}

	now := time.Now().UTC()
	if request.ActionType == models.ActionUpdate {
		if upload == nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "a replacement deliverable is required")
		}
		_, err = s.plans.ReplaceDeliverableTx(ctx, tx, payload.CycleID, payload.StepType, now, *upload)
		return err
	}

	_, err = s.plans.CompleteStepTx(ctx, tx, payload.CycleID, payload.StepType, now, upload)
	return err
}
