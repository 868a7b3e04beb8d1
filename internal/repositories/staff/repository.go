package staff

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

const staffTable = "staff"

var staffColumns = []string{"id", "office_id", "name", "email", "role", "created_at", "updated_at", "deleted_at"}

// Repository handles staff persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new staff repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database for callers that own transactions
func (r *Repository) DB() database.DB {
	return r.db
}

// Create creates a new staff member
func (r *Repository) Create(ctx context.Context, s *models.Staff) (*models.Staff, error) {
	ctx, span := tracing.StartSpan(ctx, "staff.Repository.Create")
	defer span.End()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(staffTable)
	ib.Cols("id", "office_id", "name", "email", "role", "created_at", "updated_at")
	ib.Values(s.ID, s.OfficeID, s.Name, s.Email, s.Role, s.CreatedAt, s.UpdatedAt)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"staff_id": s.ID}).Error("Failed to create staff")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create staff")
	}

	return s, nil
}

// Get retrieves an active staff member by ID
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Staff, error) {
	ctx, span := tracing.StartSpan(ctx, "staff.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(staffColumns...)
	sb.From(staffTable)
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var s models.Staff
	if err := r.db.GetContext(ctx, &s, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("staff %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get staff")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get staff")
	}

	return &s, nil
}

// ListByOffice lists active staff for an office
func (r *Repository) ListByOffice(ctx context.Context, officeID uuid.UUID) ([]models.Staff, error) {
	ctx, span := tracing.StartSpan(ctx, "staff.Repository.ListByOffice")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(staffColumns...)
	sb.From(staffTable)
	sb.Where(
		sb.Equal("office_id", officeID),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var members []models.Staff
	if err := r.db.SelectContext(ctx, &members, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list staff")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list staff")
	}

	return members, nil
}

// UpdateRoleTx changes a staff member's role on the caller's transaction.
// Used by the approval engine when a role-change request is approved.
func (r *Repository) UpdateRoleTx(ctx context.Context, tx database.Tx, staffID uuid.UUID, role models.Role) error {
	ctx, span := tracing.StartSpan(ctx, "staff.Repository.UpdateRoleTx")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(staffTable)
	ub.Set(
		ub.Assign("role", role),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("id", staffID),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"staff_id": staffID}).Error("Failed to update staff role")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update staff role")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("staff %s not found", staffID))
	}

	return nil
}

// SoftDeleteByOfficeTx soft-deletes every active staff member of an
// office on the caller's transaction. Returns the number of rows marked.
func (r *Repository) SoftDeleteByOfficeTx(ctx context.Context, tx database.Tx, officeID uuid.UUID, deletedAt time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "staff.Repository.SoftDeleteByOfficeTx")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(staffTable)
	ub.Set(
		ub.Assign("deleted_at", deletedAt),
		ub.Assign("updated_at", deletedAt),
	)
	ub.Where(
		ub.Equal("office_id", officeID),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"office_id": officeID}).Error("Failed to soft delete office staff")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to soft delete office staff")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}
