package approval

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Ramsey-B/stem/pkg/database"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tenancy"
)

// WithdrawalStrategy defers office withdrawal. Only the office owner
// may submit, only app_admin reviews, and rejections must carry notes.
type WithdrawalStrategy struct {
	coordinator *tenancy.Coordinator
}

// NewWithdrawalStrategy creates the office_withdrawal strategy
func NewWithdrawalStrategy(coordinator *tenancy.Coordinator) *WithdrawalStrategy {
	return &WithdrawalStrategy{coordinator: coordinator}
}

func (s *WithdrawalStrategy) ResourceType() models.ResourceType {
	return models.ResourceOfficeWithdrawal
}

func (s *WithdrawalStrategy) payload(request *models.ActionRequest) (*models.WithdrawalPayload, error) {
	var payload models.WithdrawalPayload
	if err := json.Unmarshal(request.RequestData, &payload); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "malformed withdrawal payload")
	}
	return &payload, nil
}

func (s *WithdrawalStrategy) ValidateSubmit(ctx context.Context, actor models.Actor, request *models.ActionRequest) error {
	payload, err := s.payload(request)
	if err != nil {
		return err
	}

	if actor.Role != models.RoleOwner {
		return httperror.NewHTTPError(http.StatusForbidden, "only the office owner may request withdrawal")
	}
	if !actor.MemberOf(payload.OfficeID) {
		return httperror.NewHTTPError(http.StatusForbidden, "withdrawal may only be requested for your own office")
	}
	if strings.TrimSpace(payload.Title) == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "title is required")
	}
	if strings.TrimSpace(payload.Reason) == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "reason is required")
	}

	request.OfficeID = payload.OfficeID
	return nil
}

func (s *WithdrawalStrategy) AuthorizeReview(ctx context.Context, actor models.Actor, request *models.ActionRequest) error {
	if actor.Role != models.RoleAppAdmin {
		return httperror.NewHTTPError(http.StatusForbidden, "only an app administrator may review withdrawal requests")
	}
	return nil
}

func (s *WithdrawalStrategy) ValidateRejection(request *models.ActionRequest, notes *string) error {
	if notes == nil || strings.TrimSpace(*notes) == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "notes are required when rejecting a withdrawal request")
	}
	return nil
}

func (s *WithdrawalStrategy) Apply(ctx context.Context, tx database.Tx, actor models.Actor, request *models.ActionRequest) error {
	payload, err := s.payload(request)
	if err != nil {
		return err
	}

	return s.coordinator.WithdrawTx(ctx, tx, actor, payload.OfficeID, payload.Reason)
}
