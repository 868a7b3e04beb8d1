package approval

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Ramsey-B/stem/pkg/database"

	"github.com/Ramsey-B/clover/internal/repositories/staff"
	"github.com/Ramsey-B/clover/pkg/models"
)

// RoleChangeStrategy defers staff role changes. Staff submit for
// themselves only; the office owner reviews, and a manager may review
// too unless the requested role is owner.
type RoleChangeStrategy struct {
	staff *staff.Repository
}

// NewRoleChangeStrategy creates the role_change strategy
func NewRoleChangeStrategy(staffRepo *staff.Repository) *RoleChangeStrategy {
	return &RoleChangeStrategy{staff: staffRepo}
}

func (s *RoleChangeStrategy) ResourceType() models.ResourceType {
	return models.ResourceRoleChange
}

func (s *RoleChangeStrategy) payload(request *models.ActionRequest) (*models.RoleChangePayload, error) {
	var payload models.RoleChangePayload
	if err := json.Unmarshal(request.RequestData, &payload); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "malformed role change payload")
	}
	return &payload, nil
}

func (s *RoleChangeStrategy) ValidateSubmit(ctx context.Context, actor models.Actor, request *models.ActionRequest) error {
	payload, err := s.payload(request)
	if err != nil {
		return err
	}

	if payload.StaffID != actor.StaffID {
		return httperror.NewHTTPError(http.StatusForbidden, "role changes may only be requested for yourself")
	}
	if actor.OfficeID == nil {
		return httperror.NewHTTPError(http.StatusForbidden, "actor has no office")
	}
	if !payload.RequestedRole.Valid() || payload.RequestedRole == models.RoleAppAdmin {
		return httperror.NewHTTPError(http.StatusBadRequest, "requested role must be owner, manager or employee")
	}
	if payload.FromRole != actor.Role {
		return httperror.NewHTTPError(http.StatusBadRequest, "from_role does not match the current role")
	}
	if payload.RequestedRole == actor.Role {
		return httperror.NewHTTPError(http.StatusBadRequest, "requested role matches the current role")
	}

	request.OfficeID = *actor.OfficeID
	return nil
}

func (s *RoleChangeStrategy) AuthorizeReview(ctx context.Context, actor models.Actor, request *models.ActionRequest) error {
	payload, err := s.payload(request)
	if err != nil {
		return err
	}

	if !actor.MemberOf(request.OfficeID) {
		return httperror.NewHTTPError(http.StatusForbidden, "reviewer must belong to the request's office")
	}

	switch actor.Role {
	case models.RoleOwner:
		return nil
	case models.RoleManager:
		if payload.RequestedRole == models.RoleOwner {
			return httperror.NewHTTPError(http.StatusForbidden, "only the owner may review a promotion to owner")
		}
		return nil
	default:
		return httperror.NewHTTPError(http.StatusForbidden, "reviewer must be an owner or manager")
	}
}

func (s *RoleChangeStrategy) ValidateRejection(request *models.ActionRequest, notes *string) error {
	return nil
}

func (s *RoleChangeStrategy) Apply(ctx context.Context, tx database.Tx, actor models.Actor, request *models.ActionRequest) error {
	payload, err := s.payload(request)
	if err != nil {
		return err
	}

	target, err := s.staff.Get(ctx, payload.StaffID)
	if err != nil {
		return err
	}
	if target.Role != payload.FromRole {
		return httperror.NewHTTPError(http.StatusConflict, "staff role changed since the request was submitted")
	}

	return s.staff.UpdateRoleTx(ctx, tx, payload.StaffID, payload.RequestedRole)
}
