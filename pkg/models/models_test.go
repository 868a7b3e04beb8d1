package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRolePrivileged(t *testing.T) {
	assert.True(t, RoleOwner.Privileged())
	assert.True(t, RoleManager.Privileged())
	assert.True(t, RoleAppAdmin.Privileged())
	assert.False(t, RoleEmployee.Privileged())
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleOwner.Valid())
	assert.False(t, Role("admin").Valid())
	assert.False(t, Role("").Valid())
}

func TestActorMemberOf(t *testing.T) {
	officeID := uuid.New()

	t.Run("member of own office", func(t *testing.T) {
		actor := Actor{StaffID: uuid.New(), OfficeID: &officeID, Role: RoleManager}
		assert.True(t, actor.MemberOf(officeID))
		assert.False(t, actor.MemberOf(uuid.New()))
	})

	t.Run("app_admin belongs to no office", func(t *testing.T) {
		admin := Actor{StaffID: uuid.New(), Role: RoleAppAdmin}
		assert.False(t, admin.MemberOf(officeID))
	})
}

func TestStepTypeResolve(t *testing.T) {
	assert.Equal(t, "assessment", StepAssessmentOrMonitoring.Resolve(1))
	assert.Equal(t, "monitoring", StepAssessmentOrMonitoring.Resolve(2))
	assert.Equal(t, "monitoring", StepAssessmentOrMonitoring.Resolve(7))
	assert.Equal(t, "draft_plan", StepDraftPlan.Resolve(1))
	assert.Equal(t, "final_plan_signed", StepFinalPlanSigned.Resolve(3))
}

func TestStepTypeValid(t *testing.T) {
	for _, s := range StepTypes {
		assert.True(t, s.Valid(), "step %s", s)
	}
	assert.False(t, StepType("intake").Valid())
}

func TestResourceAndActionValidity(t *testing.T) {
	assert.True(t, ResourceRoleChange.Valid())
	assert.True(t, ResourceOfficeWithdrawal.Valid())
	assert.True(t, ResourceSupportPlanStatus.Valid())
	assert.False(t, ResourceType("invoice").Valid())

	assert.True(t, ActionCreate.Valid())
	assert.True(t, ActionUpdate.Valid())
	assert.True(t, ActionDelete.Valid())
	assert.False(t, ActionType("merge").Valid())
}
