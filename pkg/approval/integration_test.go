package approval_test

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/stem/pkg/database"

	requestrepo "github.com/Ramsey-B/clover/internal/repositories/actionrequest"
	auditlogrepo "github.com/Ramsey-B/clover/internal/repositories/auditlog"
	officerepo "github.com/Ramsey-B/clover/internal/repositories/office"
	staffrepo "github.com/Ramsey-B/clover/internal/repositories/staff"
	"github.com/Ramsey-B/clover/pkg/approval"
	"github.com/Ramsey-B/clover/pkg/audit"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tenancy"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}
	dbUser := os.Getenv("DB_USER_NAME")
	if dbUser == "" {
		dbUser = "user"
	}
	dbPass := os.Getenv("DB_PASSWORD")
	if dbPass == "" {
		dbPass = "password"
	}
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "clover"
	}

	dsn := "host=" + dbHost + " user=" + dbUser + " password=" + dbPass + " dbname=" + dbName + " sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	return database.NewDatabaseInstance(db, getTestLogger())
}

// recordingPublisher collects emitted case events in memory.
type recordingPublisher struct {
	events []*kafka.CaseEvent
}

func (p *recordingPublisher) PublishCaseEvent(_ context.Context, event *kafka.CaseEvent) error {
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) eventTypes() []string {
	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.EventType)
	}
	return types
}

type testEnv struct {
	offices   *officerepo.Repository
	staff     *staffrepo.Repository
	requests  *requestrepo.Repository
	auditLogs *auditlogrepo.Repository
	audit     *audit.Writer
	engine    *approval.Engine
	published *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	logger := getTestLogger()
	db := getTestDB(t)

	offices := officerepo.NewRepository(db, logger)
	staff := staffrepo.NewRepository(db, logger)
	requests := requestrepo.NewRepository(db, logger)
	auditLogs := auditlogrepo.NewRepository(db, logger)
	auditWriter := audit.NewWriter(auditLogs, logger)
	published := &recordingPublisher{}
	emitter := events.NewEmitter(published, logger)

	coordinator := tenancy.NewCoordinator(offices, staff, auditWriter, 30*24*time.Hour, logger)
	engine := approval.NewEngine(requests, auditWriter, emitter, logger,
		approval.NewRoleChangeStrategy(staff),
		approval.NewWithdrawalStrategy(coordinator),
	)

	return &testEnv{
		offices:   offices,
		staff:     staff,
		requests:  requests,
		auditLogs: auditLogs,
		audit:     auditWriter,
		engine:    engine,
		published: published,
	}
}

func (env *testEnv) createOffice(t *testing.T, ctx context.Context) *models.Office {
	t.Helper()
	office, err := env.offices.Create(ctx, &models.Office{
		Name:       "Test Office " + uuid.NewString()[:8],
		OfficeType: models.OfficeTypeContinuousSupportB,
	})
	require.NoError(t, err)
	return office
}

func (env *testEnv) createStaff(t *testing.T, ctx context.Context, officeID uuid.UUID, role models.Role) models.Actor {
	t.Helper()
	s, err := env.staff.Create(ctx, &models.Staff{
		OfficeID: &officeID,
		Name:     "Staff " + uuid.NewString()[:8],
		Email:    uuid.NewString() + "@example.test",
		Role:     role,
	})
	require.NoError(t, err)
	return models.ActorFromStaff(s)
}

func (env *testEnv) createAppAdmin(t *testing.T, ctx context.Context) models.Actor {
	t.Helper()
	s, err := env.staff.Create(ctx, &models.Staff{
		Name:  "Admin " + uuid.NewString()[:8],
		Email: uuid.NewString() + "@example.test",
		Role:  models.RoleAppAdmin,
	})
	require.NoError(t, err)
	return models.ActorFromStaff(s)
}

func rawPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestIntegrationRoleChangeLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	env := newTestEnv(t)
	office := env.createOffice(t, ctx)
	owner := env.createStaff(t, ctx, office.ID, models.RoleOwner)
	employee := env.createStaff(t, ctx, office.ID, models.RoleEmployee)

	submit := models.SubmitRequest{
		ResourceType: models.ResourceRoleChange,
		ActionType:   models.ActionUpdate,
		RequestData: rawPayload(t, models.RoleChangePayload{
			StaffID:       employee.StaffID,
			FromRole:      models.RoleEmployee,
			RequestedRole: models.RoleManager,
		}),
	}

	request, err := env.engine.Submit(ctx, employee, submit)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, request.Status)
	assert.Equal(t, office.ID, request.OfficeID)

	t.Run("submitter sees the pending request", func(t *testing.T) {
		found, err := env.engine.Get(ctx, employee, request.ID)
		require.NoError(t, err)
		assert.Equal(t, request.ID, found.ID)

		listed, err := env.engine.List(ctx, employee, models.RequestQuery{})
		require.NoError(t, err)
		require.NotEmpty(t, listed)
	})

	t.Run("another office cannot see it", func(t *testing.T) {
		otherOffice := env.createOffice(t, ctx)
		outsider := env.createStaff(t, ctx, otherOffice.ID, models.RoleOwner)

		_, err := env.engine.Get(ctx, outsider, request.ID)
		require.Error(t, err)
		assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
	})

	t.Run("duplicate pending submissions are allowed", func(t *testing.T) {
		dup, err := env.engine.Submit(ctx, employee, submit)
		require.NoError(t, err)
		assert.NotEqual(t, request.ID, dup.ID)

		require.NoError(t, env.engine.Delete(ctx, employee, dup.ID))
	})

	t.Run("approval applies the role change", func(t *testing.T) {
		approved, err := env.engine.Approve(ctx, owner, request.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusApproved, approved.Status)
		require.NotNil(t, approved.ReviewerID)
		assert.Equal(t, owner.StaffID, *approved.ReviewerID)
		assert.NotNil(t, approved.ReviewedAt)

		updated, err := env.staff.Get(ctx, employee.StaffID)
		require.NoError(t, err)
		assert.Equal(t, models.RoleManager, updated.Role)
	})

	t.Run("review is first-wins", func(t *testing.T) {
		_, err := env.engine.Approve(ctx, owner, request.ID, nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))

		_, err = env.engine.Reject(ctx, owner, request.ID, nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))
	})

	t.Run("reviewed requests cannot be deleted", func(t *testing.T) {
		err := env.engine.Delete(ctx, employee, request.ID)
		require.Error(t, err)
		assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))
	})

	t.Run("the lifecycle leaves an audit trail", func(t *testing.T) {
		entries, err := env.auditLogs.Query(ctx, models.AuditQuery{OfficeID: &office.ID})
		require.NoError(t, err)

		actions := make(map[string]bool, len(entries))
		for _, entry := range entries {
			actions[entry.Action] = true
		}
		assert.True(t, actions[models.AuditActionRequestSubmitted])
		assert.True(t, actions[models.AuditActionRequestApproved])
		assert.True(t, actions[models.AuditActionRequestDeleted])
	})
}

func TestIntegrationRoleChangeApplyConflict(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	env := newTestEnv(t)
	office := env.createOffice(t, ctx)
	owner := env.createStaff(t, ctx, office.ID, models.RoleOwner)
	employee := env.createStaff(t, ctx, office.ID, models.RoleEmployee)

	request, err := env.engine.Submit(ctx, employee, models.SubmitRequest{
		ResourceType: models.ResourceRoleChange,
		ActionType:   models.ActionUpdate,
		RequestData: rawPayload(t, models.RoleChangePayload{
			StaffID:       employee.StaffID,
			FromRole:      models.RoleEmployee,
			RequestedRole: models.RoleManager,
		}),
	})
	require.NoError(t, err)

	// The role moves out from under the request before review.
	_, tx, err := env.staff.DB().GetTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, env.staff.UpdateRoleTx(ctx, tx, employee.StaffID, models.RoleOwner))
	require.NoError(t, tx.Commit(ctx))

	_, err = env.engine.Approve(ctx, owner, request.ID, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, httperror.GetStatusCode(err))

	// The apply failure left the request pending for a retry or reject.
	found, err := env.engine.Get(ctx, employee, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, found.Status)

	still, err := env.staff.Get(ctx, employee.StaffID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, still.Role)
}

func TestIntegrationWithdrawalLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	env := newTestEnv(t)
	office := env.createOffice(t, ctx)
	owner := env.createStaff(t, ctx, office.ID, models.RoleOwner)
	env.createStaff(t, ctx, office.ID, models.RoleEmployee)
	admin := env.createAppAdmin(t, ctx)

	payload := rawPayload(t, models.WithdrawalPayload{
		OfficeID: office.ID,
		Title:    "Closing the office",
		Reason:   "Merging with the regional branch",
	})

	request, err := env.engine.Submit(ctx, owner, models.SubmitRequest{
		ResourceType: models.ResourceOfficeWithdrawal,
		ActionType:   models.ActionDelete,
		RequestData:  payload,
	})
	require.NoError(t, err)

	duplicate, err := env.engine.Submit(ctx, owner, models.SubmitRequest{
		ResourceType: models.ResourceOfficeWithdrawal,
		ActionType:   models.ActionDelete,
		RequestData:  payload,
	})
	require.NoError(t, err)

	t.Run("owner cannot review a withdrawal", func(t *testing.T) {
		_, err := env.engine.Approve(ctx, owner, request.ID, nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusForbidden, httperror.GetStatusCode(err))
	})

	t.Run("rejection requires notes", func(t *testing.T) {
		_, err := env.engine.Reject(ctx, admin, request.ID, nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	})

	t.Run("approval withdraws the office", func(t *testing.T) {
		approved, err := env.engine.Approve(ctx, admin, request.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusApproved, approved.Status)

		withdrawn, err := env.offices.Get(ctx, office.ID)
		require.NoError(t, err)
		assert.True(t, withdrawn.IsWithdrawn())
		require.NotNil(t, withdrawn.PurgeAfter)
		assert.True(t, withdrawn.PurgeAfter.After(time.Now().AddDate(0, 0, 29)))

		// Staff are soft-deleted with the office.
		_, err = env.staff.Get(ctx, owner.StaffID)
		require.Error(t, err)
		assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))

		assert.Contains(t, env.published.eventTypes(), "office.withdrawn")
	})

	t.Run("cascade failure leaves the duplicate pending", func(t *testing.T) {
		before, err := env.offices.Get(ctx, office.ID)
		require.NoError(t, err)

		// The office is already withdrawn, so the cascade cannot apply.
		_, err = env.engine.Approve(ctx, admin, duplicate.ID, nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, httperror.GetStatusCode(err))

		found, err := env.engine.Get(ctx, admin, duplicate.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusPending, found.Status)

		after, err := env.offices.Get(ctx, office.ID)
		require.NoError(t, err)
		assert.Equal(t, before.DeletedAt, after.DeletedAt)
		assert.Equal(t, before.PurgeAfter, after.PurgeAfter)
	})
}
