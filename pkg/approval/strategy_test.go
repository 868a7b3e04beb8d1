package approval

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func makeActor(role models.Role, officeID *uuid.UUID) models.Actor {
	return models.Actor{
		StaffID:  uuid.New(),
		OfficeID: officeID,
		Role:     role,
	}
}

func mustPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func assertStatus(t *testing.T, err error, want int) {
	t.Helper()
	require.Error(t, err)
	require.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, want, httperror.GetStatusCode(err))
}

func TestRoleChangeValidateSubmit(t *testing.T) {
	ctx := context.Background()
	strategy := NewRoleChangeStrategy(nil)
	officeID := uuid.New()

	newRequest := func(actor models.Actor, payload models.RoleChangePayload) *models.ActionRequest {
		return &models.ActionRequest{
			ResourceType: models.ResourceRoleChange,
			ActionType:   models.ActionUpdate,
			RequestedBy:  actor.StaffID,
			RequestData:  mustPayload(t, payload),
		}
	}

	t.Run("employee requests promotion to manager", func(t *testing.T) {
		actor := makeActor(models.RoleEmployee, &officeID)
		request := newRequest(actor, models.RoleChangePayload{
			StaffID:       actor.StaffID,
			FromRole:      models.RoleEmployee,
			RequestedRole: models.RoleManager,
		})

		require.NoError(t, strategy.ValidateSubmit(ctx, actor, request))
		assert.Equal(t, officeID, request.OfficeID)
	})

	t.Run("cannot request for someone else", func(t *testing.T) {
		actor := makeActor(models.RoleEmployee, &officeID)
		request := newRequest(actor, models.RoleChangePayload{
			StaffID:       uuid.New(),
			FromRole:      models.RoleEmployee,
			RequestedRole: models.RoleManager,
		})

		assertStatus(t, strategy.ValidateSubmit(ctx, actor, request), http.StatusForbidden)
	})

	t.Run("cannot request app_admin", func(t *testing.T) {
		actor := makeActor(models.RoleManager, &officeID)
		request := newRequest(actor, models.RoleChangePayload{
			StaffID:       actor.StaffID,
			FromRole:      models.RoleManager,
			RequestedRole: models.RoleAppAdmin,
		})

		assertStatus(t, strategy.ValidateSubmit(ctx, actor, request), http.StatusBadRequest)
	})

	t.Run("from_role must match current role", func(t *testing.T) {
		actor := makeActor(models.RoleEmployee, &officeID)
		request := newRequest(actor, models.RoleChangePayload{
			StaffID:       actor.StaffID,
			FromRole:      models.RoleManager,
			RequestedRole: models.RoleOwner,
		})

		assertStatus(t, strategy.ValidateSubmit(ctx, actor, request), http.StatusBadRequest)
	})

	t.Run("requested role must differ", func(t *testing.T) {
		actor := makeActor(models.RoleManager, &officeID)
		request := newRequest(actor, models.RoleChangePayload{
			StaffID:       actor.StaffID,
			FromRole:      models.RoleManager,
			RequestedRole: models.RoleManager,
		})

		assertStatus(t, strategy.ValidateSubmit(ctx, actor, request), http.StatusBadRequest)
	})

	t.Run("malformed payload", func(t *testing.T) {
		actor := makeActor(models.RoleEmployee, &officeID)
		request := &models.ActionRequest{RequestData: json.RawMessage(`{bad`)}

		assertStatus(t, strategy.ValidateSubmit(ctx, actor, request), http.StatusBadRequest)
	})
}

func TestRoleChangeAuthorizeReview(t *testing.T) {
	ctx := context.Background()
	strategy := NewRoleChangeStrategy(nil)
	officeID := uuid.New()
	otherOffice := uuid.New()

	toManager := &models.ActionRequest{
		OfficeID: officeID,
		RequestData: mustPayload(t, models.RoleChangePayload{
			FromRole:      models.RoleEmployee,
			RequestedRole: models.RoleManager,
		}),
	}
	toOwner := &models.ActionRequest{
		OfficeID: officeID,
		RequestData: mustPayload(t, models.RoleChangePayload{
			FromRole:      models.RoleManager,
			RequestedRole: models.RoleOwner,
		}),
	}

	t.Run("owner reviews anything", func(t *testing.T) {
		owner := makeActor(models.RoleOwner, &officeID)
		assert.NoError(t, strategy.AuthorizeReview(ctx, owner, toManager))
		assert.NoError(t, strategy.AuthorizeReview(ctx, owner, toOwner))
	})

	t.Run("manager reviews non-owner promotions", func(t *testing.T) {
		manager := makeActor(models.RoleManager, &officeID)
		assert.NoError(t, strategy.AuthorizeReview(ctx, manager, toManager))
	})

	t.Run("manager cannot review promotion to owner", func(t *testing.T) {
		manager := makeActor(models.RoleManager, &officeID)
		assertStatus(t, strategy.AuthorizeReview(ctx, manager, toOwner), http.StatusForbidden)
	})

	t.Run("employee cannot review", func(t *testing.T) {
		employee := makeActor(models.RoleEmployee, &officeID)
		assertStatus(t, strategy.AuthorizeReview(ctx, employee, toManager), http.StatusForbidden)
	})

	t.Run("reviewer from another office", func(t *testing.T) {
		owner := makeActor(models.RoleOwner, &otherOffice)
		assertStatus(t, strategy.AuthorizeReview(ctx, owner, toManager), http.StatusForbidden)
	})

	t.Run("app_admin is not an office member", func(t *testing.T) {
		admin := makeActor(models.RoleAppAdmin, nil)
		assertStatus(t, strategy.AuthorizeReview(ctx, admin, toManager), http.StatusForbidden)
	})
}

func TestWithdrawalValidateSubmit(t *testing.T) {
	ctx := context.Background()
	strategy := NewWithdrawalStrategy(nil)
	officeID := uuid.New()

	newRequest := func(payload models.WithdrawalPayload) *models.ActionRequest {
		return &models.ActionRequest{
			ResourceType: models.ResourceOfficeWithdrawal,
			ActionType:   models.ActionDelete,
			RequestData:  mustPayload(t, payload),
		}
	}

	valid := models.WithdrawalPayload{
		OfficeID: officeID,
		Title:    "Closing down",
		Reason:   "Office is merging with the regional branch",
	}

	t.Run("owner submits for own office", func(t *testing.T) {
		owner := makeActor(models.RoleOwner, &officeID)
		request := newRequest(valid)

		require.NoError(t, strategy.ValidateSubmit(ctx, owner, request))
		assert.Equal(t, officeID, request.OfficeID)
	})

	t.Run("manager may not submit", func(t *testing.T) {
		manager := makeActor(models.RoleManager, &officeID)
		assertStatus(t, strategy.ValidateSubmit(ctx, manager, newRequest(valid)), http.StatusForbidden)
	})

	t.Run("owner of another office may not submit", func(t *testing.T) {
		other := uuid.New()
		owner := makeActor(models.RoleOwner, &other)
		assertStatus(t, strategy.ValidateSubmit(ctx, owner, newRequest(valid)), http.StatusForbidden)
	})

	t.Run("title and reason are required", func(t *testing.T) {
		owner := makeActor(models.RoleOwner, &officeID)

		missingTitle := valid
		missingTitle.Title = "  "
		assertStatus(t, strategy.ValidateSubmit(ctx, owner, newRequest(missingTitle)), http.StatusBadRequest)

		missingReason := valid
		missingReason.Reason = ""
		assertStatus(t, strategy.ValidateSubmit(ctx, owner, newRequest(missingReason)), http.StatusBadRequest)
	})
}

func TestWithdrawalReview(t *testing.T) {
	ctx := context.Background()
	strategy := NewWithdrawalStrategy(nil)
	officeID := uuid.New()
	request := &models.ActionRequest{OfficeID: officeID}

	t.Run("only app_admin reviews", func(t *testing.T) {
		admin := makeActor(models.RoleAppAdmin, nil)
		assert.NoError(t, strategy.AuthorizeReview(ctx, admin, request))

		owner := makeActor(models.RoleOwner, &officeID)
		assertStatus(t, strategy.AuthorizeReview(ctx, owner, request), http.StatusForbidden)
	})

	t.Run("rejection requires notes", func(t *testing.T) {
		assertStatus(t, strategy.ValidateRejection(request, nil), http.StatusBadRequest)

		blank := "   "
		assertStatus(t, strategy.ValidateRejection(request, &blank), http.StatusBadRequest)

		notes := "missing signed consent forms"
		assert.NoError(t, strategy.ValidateRejection(request, &notes))
	})
}

func TestEmployeeActionReview(t *testing.T) {
	ctx := context.Background()
	strategy := NewEmployeeActionStrategy(nil, nil)
	officeID := uuid.New()
	request := &models.ActionRequest{OfficeID: officeID}

	t.Run("manager and owner of the office review", func(t *testing.T) {
		assert.NoError(t, strategy.AuthorizeReview(ctx, makeActor(models.RoleManager, &officeID), request))
		assert.NoError(t, strategy.AuthorizeReview(ctx, makeActor(models.RoleOwner, &officeID), request))
	})

	t.Run("employee cannot review", func(t *testing.T) {
		assertStatus(t, strategy.AuthorizeReview(ctx, makeActor(models.RoleEmployee, &officeID), request), http.StatusForbidden)
	})

	t.Run("reviewer must share the office", func(t *testing.T) {
		other := uuid.New()
		assertStatus(t, strategy.AuthorizeReview(ctx, makeActor(models.RoleManager, &other), request), http.StatusForbidden)
	})

	t.Run("rejection notes are optional", func(t *testing.T) {
		assert.NoError(t, strategy.ValidateRejection(request, nil))
	})
}

func TestEmployeeActionSubmitRoleGate(t *testing.T) {
	ctx := context.Background()
	strategy := NewEmployeeActionStrategy(nil, nil)
	officeID := uuid.New()

	request := &models.ActionRequest{
		ActionType: models.ActionCreate,
		RequestData: mustPayload(t, models.StepCompletionPayload{
			CycleID:  uuid.New(),
			StepType: models.StepDraftPlan,
		}),
	}

	t.Run("manager submits directly instead", func(t *testing.T) {
		manager := makeActor(models.RoleManager, &officeID)
		assertStatus(t, strategy.ValidateSubmit(ctx, manager, request), http.StatusForbidden)
	})
}
