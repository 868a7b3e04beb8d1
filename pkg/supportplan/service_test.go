package supportplan

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testService() *Service {
	return NewService(nil, nil, nil, nil, nil, nil, nil, testLogger())
}

func assertStatus(t *testing.T, err error, want int) {
	t.Helper()
	require.Error(t, err)
	require.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, want, httperror.GetStatusCode(err))
}

func TestCompleteStepRejectsUnknownStepType(t *testing.T) {
	s := testService()
	employee := models.Actor{StaffID: uuid.New(), Role: models.RoleEmployee}

	_, err := s.CompleteStep(context.Background(), employee, uuid.New(), models.StepType("onboarding"), nil)
	assertStatus(t, err, http.StatusBadRequest)
}

func TestSetMonitoringDeadlineDaysRange(t *testing.T) {
	s := testService()
	manager := models.Actor{StaffID: uuid.New(), Role: models.RoleManager}

	for _, days := range []int{0, 6, 31, -1, 365} {
		_, err := s.SetMonitoringDeadline(context.Background(), manager, uuid.New(), days, nil)
		assertStatus(t, err, http.StatusBadRequest)
	}
}

func TestStartNewCycleRequiresPrivilege(t *testing.T) {
	s := testService()
	officeID := uuid.New()
	employee := models.Actor{StaffID: uuid.New(), OfficeID: &officeID, Role: models.RoleEmployee}

	_, err := s.StartNewCycle(context.Background(), employee, uuid.New(), time.Now())
	assertStatus(t, err, http.StatusForbidden)
}

func TestRegisterRecipientRequiresOffice(t *testing.T) {
	s := testService()
	admin := models.Actor{StaffID: uuid.New(), Role: models.RoleAppAdmin}

	_, _, err := s.RegisterRecipient(context.Background(), admin, models.RegisterRecipientRequest{
		Name:           "Sato Hanako",
		CycleStartDate: time.Now(),
	})
	assertStatus(t, err, http.StatusForbidden)
}

func TestListRecipientsRequiresOffice(t *testing.T) {
	s := testService()
	admin := models.Actor{StaffID: uuid.New(), Role: models.RoleAppAdmin}

	_, err := s.ListRecipients(context.Background(), admin, 50, 0)
	assertStatus(t, err, http.StatusForbidden)
}
