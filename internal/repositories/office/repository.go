package office

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/database"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/models"
)

const officesTable = "offices"

// Repository handles office persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new office repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB returns the underlying database handle
func (r *Repository) DB() database.DB {
	return r.db
}

// Create creates a new office
func (r *Repository) Create(ctx context.Context, office *models.Office) (*models.Office, error) {
	ctx, span := tracing.StartSpan(ctx, "office.Repository.Create")
	defer span.End()

	if office.ID == uuid.Nil {
		office.ID = uuid.New()
	}
	office.CreatedAt = time.Now().UTC()
	office.UpdatedAt = office.CreatedAt

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(officesTable)
	ib.Cols("id", "name", "office_type", "created_at", "updated_at")
	ib.Values(office.ID, office.Name, office.OfficeType, office.CreatedAt, office.UpdatedAt)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"office_id": office.ID}).Error("Failed to create office")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create office")
	}

	return office, nil
}

// Get retrieves an office by ID, including soft-deleted ones so that
// withdrawal state is visible to reviewers.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Office, error) {
	ctx, span := tracing.StartSpan(ctx, "office.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "name", "office_type", "created_at", "updated_at", "deleted_at", "purge_after")
	sb.From(officesTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var office models.Office
	if err := r.db.GetContext(ctx, &office, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("office %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get office")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get office")
	}

	return &office, nil
}

// SoftDeleteTx marks the office withdrawn and schedules its purge. Runs
// on the caller's transaction so the staff cascade commits with it.
func (r *Repository) SoftDeleteTx(ctx context.Context, tx database.Tx, id uuid.UUID, deletedAt time.Time, purgeAfter time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "office.Repository.SoftDeleteTx")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(officesTable)
	ub.Set(
		ub.Assign("deleted_at", deletedAt),
		ub.Assign("purge_after", purgeAfter),
		ub.Assign("updated_at", deletedAt),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"office_id": id}).Error("Failed to soft delete office")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to soft delete office")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("office %s is already withdrawn", id))
	}

	return nil
}
