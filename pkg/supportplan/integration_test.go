package supportplan_test

import (
	"context"
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
	recipientrepo "github.com/Ramsey-B/clover/internal/repositories/recipient"
	staffrepo "github.com/Ramsey-B/clover/internal/repositories/staff"
	supportplanrepo "github.com/Ramsey-B/clover/internal/repositories/supportplan"
	"github.com/Ramsey-B/clover/pkg/approval"
	"github.com/Ramsey-B/clover/pkg/audit"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/supportplan"
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

type planEnv struct {
	offices *officerepo.Repository
	staff   *staffrepo.Repository
	plans   *supportplanrepo.Repository
	service *supportplan.Service
}

func newPlanEnv(t *testing.T) *planEnv {
	logger := getTestLogger()
	db := getTestDB(t)

	offices := officerepo.NewRepository(db, logger)
	staff := staffrepo.NewRepository(db, logger)
	recipients := recipientrepo.NewRepository(db, logger)
	plans := supportplanrepo.NewRepository(db, logger)
	requests := requestrepo.NewRepository(db, logger)
	auditWriter := audit.NewWriter(auditlogrepo.NewRepository(db, logger), logger)
	emitter := events.NewEmitter(nil, logger)

	engine := approval.NewEngine(requests, auditWriter, emitter, logger,
		approval.NewEmployeeActionStrategy(plans, nil),
	)
	service := supportplan.NewService(plans, recipients, engine, auditWriter, emitter, nil, nil, logger)

	return &planEnv{
		offices: offices,
		staff:   staff,
		plans:   plans,
		service: service,
	}
}

func (env *planEnv) setup(t *testing.T, ctx context.Context) (manager, employee models.Actor, recipientID uuid.UUID, cycle *models.SupportPlanCycle) {
	t.Helper()

	office, err := env.offices.Create(ctx, &models.Office{
		Name:       "Plan Office " + uuid.NewString()[:8],
		OfficeType: models.OfficeTypeTransitionToEmployment,
	})
	require.NoError(t, err)

	makeStaff := func(role models.Role) models.Actor {
		s, err := env.staff.Create(ctx, &models.Staff{
			OfficeID: &office.ID,
			Name:     "Staff " + uuid.NewString()[:8],
			Email:    uuid.NewString() + "@example.test",
			Role:     role,
		})
		require.NoError(t, err)
		return models.ActorFromStaff(s)
	}
	manager = makeStaff(models.RoleManager)
	employee = makeStaff(models.RoleEmployee)

	rec, firstCycle, err := env.service.RegisterRecipient(ctx, manager, models.RegisterRecipientRequest{
		Name:           "Yamada Taro",
		CycleStartDate: time.Now().UTC().AddDate(0, 0, -30),
	})
	require.NoError(t, err)

	return manager, employee, rec.ID, firstCycle
}

func TestIntegrationSupportPlanLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	env := newPlanEnv(t)
	manager, employee, recipientID, cycle := env.setup(t, ctx)

	t.Run("registration creates cycle one with the full step set", func(t *testing.T) {
		assert.Equal(t, 1, cycle.CycleNumber)
		assert.True(t, cycle.IsLatestCycle)

		steps, err := env.plans.ListStepsByCycleIDs(ctx, []uuid.UUID{cycle.ID})
		require.NoError(t, err)
		assert.Len(t, steps, len(models.StepTypes))
		for _, step := range steps {
			assert.False(t, step.Completed)
		}
	})

	t.Run("manager completes a step directly", func(t *testing.T) {
		outcome, err := env.service.CompleteStep(ctx, manager, cycle.ID, models.StepAssessmentOrMonitoring, nil)
		require.NoError(t, err)
		assert.True(t, outcome.Applied)
		require.NotNil(t, outcome.Step)
		assert.True(t, outcome.Step.Completed)
		assert.NotNil(t, outcome.Step.CompletedAt)
	})

	t.Run("completing a completed step without an upload conflicts", func(t *testing.T) {
		_, err := env.service.CompleteStep(ctx, manager, cycle.ID, models.StepAssessmentOrMonitoring, nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))
	})

	t.Run("employee completion defers to the approval workflow", func(t *testing.T) {
		outcome, err := env.service.CompleteStep(ctx, employee, cycle.ID, models.StepDraftPlan, nil)
		require.NoError(t, err)
		assert.False(t, outcome.Applied)
		require.NotNil(t, outcome.Request)
		assert.Equal(t, models.RequestStatusPending, outcome.Request.Status)

		// The step itself is untouched until review.
		step, err := env.plans.GetStep(ctx, cycle.ID, models.StepDraftPlan)
		require.NoError(t, err)
		assert.False(t, step.Completed)
	})

	t.Run("monitoring deadline is set on the latest cycle", func(t *testing.T) {
		due := time.Now().UTC().AddDate(0, 0, 14)
		outcome, err := env.service.SetMonitoringDeadline(ctx, manager, cycle.ID, 14, &due)
		require.NoError(t, err)
		assert.True(t, outcome.Applied)
	})

	t.Run("plan view computes urgency tiers", func(t *testing.T) {
		now := time.Now().UTC()
		view, err := env.service.GetRecipientPlan(ctx, manager, recipientID, now)
		require.NoError(t, err)
		require.Len(t, view.Cycles, 1)

		cv := view.Cycles[0]
		assert.Equal(t, 150, cv.RenewalDaysRemaining)
		assert.Equal(t, "normal", cv.RenewalUrgency)
		require.NotNil(t, cv.MonitoringDaysRemaining)
		assert.Equal(t, 14, *cv.MonitoringDaysRemaining)
		require.NotNil(t, cv.MonitoringUrgency)
		assert.Equal(t, "warning", *cv.MonitoringUrgency)

		require.Len(t, cv.Steps, len(models.StepTypes))
		for _, step := range cv.Steps {
			if step.StepType == models.StepAssessmentOrMonitoring {
				assert.Equal(t, "assessment", step.ResolvedName)
			}
		}
	})

	t.Run("rollover demotes the old cycle", func(t *testing.T) {
		next, err := env.service.StartNewCycle(ctx, manager, recipientID, time.Now().UTC())
		require.NoError(t, err)
		assert.Equal(t, 2, next.CycleNumber)
		assert.True(t, next.IsLatestCycle)

		previous, err := env.plans.GetCycle(ctx, cycle.ID)
		require.NoError(t, err)
		assert.False(t, previous.IsLatestCycle)

		// Monitoring resolves to its later-cycle name now.
		view, err := env.service.GetRecipientPlan(ctx, manager, recipientID, time.Now().UTC())
		require.NoError(t, err)
		require.Len(t, view.Cycles, 2)
		for _, cv := range view.Cycles {
			if cv.CycleNumber != 2 {
				continue
			}
			for _, step := range cv.Steps {
				if step.StepType == models.StepAssessmentOrMonitoring {
					assert.Equal(t, "monitoring", step.ResolvedName)
				}
			}
		}
	})

	t.Run("monitoring deadline rejected on a demoted cycle", func(t *testing.T) {
		due := time.Now().UTC().AddDate(0, 0, 10)
		_, err := env.service.SetMonitoringDeadline(ctx, manager, cycle.ID, 10, &due)
		require.Error(t, err)
		assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))
	})

	t.Run("outside office the recipient does not exist", func(t *testing.T) {
		otherOffice, err := env.offices.Create(ctx, &models.Office{
			Name:       "Other Office " + uuid.NewString()[:8],
			OfficeType: models.OfficeTypeContinuousSupportA,
		})
		require.NoError(t, err)
		s, err := env.staff.Create(ctx, &models.Staff{
			OfficeID: &otherOffice.ID,
			Name:     "Outsider",
			Email:    uuid.NewString() + "@example.test",
			Role:     models.RoleManager,
		})
		require.NoError(t, err)

		_, err = env.service.GetRecipientPlan(ctx, models.ActorFromStaff(s), recipientID, time.Now().UTC())
		require.Error(t, err)
		assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
	})
}
