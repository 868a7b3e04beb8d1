package tenancy_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/stem/pkg/database"

	auditlogrepo "github.com/Ramsey-B/clover/internal/repositories/auditlog"
	officerepo "github.com/Ramsey-B/clover/internal/repositories/office"
	staffrepo "github.com/Ramsey-B/clover/internal/repositories/staff"
	"github.com/Ramsey-B/clover/pkg/audit"
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

// staffFailTx delegates to a real transaction but fails any statement
// against the staff table, simulating a partial cascade failure.
type staffFailTx struct {
	database.Tx
}

func (t *staffFailTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if strings.Contains(query, "UPDATE staff") {
		return nil, errors.New("simulated staff update failure")
	}
	return t.Tx.ExecContext(ctx, query, args...)
}

func TestIntegrationWithdrawCascadeIsAtomic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	logger := getTestLogger()
	db := getTestDB(t)

	offices := officerepo.NewRepository(db, logger)
	staff := staffrepo.NewRepository(db, logger)
	auditLogs := auditlogrepo.NewRepository(db, logger)
	auditWriter := audit.NewWriter(auditLogs, logger)
	coordinator := tenancy.NewCoordinator(offices, staff, auditWriter, 30*24*time.Hour, logger)

	office, err := offices.Create(ctx, &models.Office{
		Name:       "Atomicity Office " + uuid.NewString()[:8],
		OfficeType: models.OfficeTypeContinuousSupportB,
	})
	require.NoError(t, err)

	member, err := staff.Create(ctx, &models.Staff{
		OfficeID: &office.ID,
		Name:     "Staff " + uuid.NewString()[:8],
		Email:    uuid.NewString() + "@example.test",
		Role:     models.RoleOwner,
	})
	require.NoError(t, err)

	admin := models.Actor{StaffID: uuid.New(), Role: models.RoleAppAdmin}

	_, tx, err := db.GetTx(ctx, nil)
	require.NoError(t, err)

	// The office soft delete succeeds, then the staff cascade fails.
	err = coordinator.WithdrawTx(ctx, &staffFailTx{Tx: tx}, admin, office.ID, "closing")
	require.Error(t, err)
	require.NoError(t, tx.Rollback(ctx))

	// Nothing from the cascade survived the rollback.
	found, err := offices.Get(ctx, office.ID)
	require.NoError(t, err)
	assert.False(t, found.IsWithdrawn())
	assert.Nil(t, found.DeletedAt)
	assert.Nil(t, found.PurgeAfter)

	still, err := staff.Get(ctx, member.ID)
	require.NoError(t, err)
	assert.Nil(t, still.DeletedAt)
}
