package actionrequest

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

const requestTable = "action_requests"

var requestColumns = []string{"id", "office_id", "resource_type", "action_type", "requested_by", "status", "request_data", "reviewer_id", "reviewed_at", "notes", "created_at", "updated_at"}

const maxPageSize = 200

// Repository handles action request persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new action request repository
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

// Create inserts a pending action request
func (r *Repository) Create(ctx context.Context, request *models.ActionRequest) (*models.ActionRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "actionrequest.Repository.Create")
	defer span.End()

	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	request.Status = models.RequestStatusPending
	request.CreatedAt = time.Now().UTC()
	request.UpdatedAt = request.CreatedAt

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(requestTable)
	ib.Cols("id", "office_id", "resource_type", "action_type", "requested_by", "status", "request_data", "created_at", "updated_at")
	ib.Values(request.ID, request.OfficeID, request.ResourceType, request.ActionType, request.RequestedBy, request.Status, []byte(request.RequestData), request.CreatedAt, request.UpdatedAt)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"office_id":     request.OfficeID,
			"resource_type": request.ResourceType,
		}).Error("Failed to create action request")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create action request")
	}

	return request, nil
}

// Get retrieves an action request by ID
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.ActionRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "actionrequest.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(requestColumns...)
	sb.From(requestTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var request models.ActionRequest
	if err := r.db.GetContext(ctx, &request, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("request %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get action request")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get action request")
	}

	return &request, nil
}

// GetForUpdateTx retrieves an action request on the caller's transaction
// with a row lock, so concurrent reviews of the same request serialize.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx database.Tx, id uuid.UUID) (*models.ActionRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "actionrequest.Repository.GetForUpdateTx")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(requestColumns...)
	sb.From(requestTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	query += " FOR UPDATE"

	var request models.ActionRequest
	if err := tx.GetContext(ctx, &request, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("request %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to lock action request")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to lock action request")
	}

	return &request, nil
}

// List returns action requests matching the query, newest first
func (r *Repository) List(ctx context.Context, q models.RequestQuery) ([]models.ActionRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "actionrequest.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(requestColumns...)
	sb.From(requestTable)

	if q.OfficeID != nil {
		sb.Where(sb.Equal("office_id", *q.OfficeID))
	}
	if q.ResourceType != nil {
		sb.Where(sb.Equal("resource_type", *q.ResourceType))
	}
	if q.Status != nil {
		sb.Where(sb.Equal("status", *q.Status))
	}
	if q.RequestedBy != nil {
		sb.Where(sb.Equal("requested_by", *q.RequestedBy))
	}

	sb.OrderBy("created_at DESC")

	limit := q.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	sb.Limit(limit)
	if q.Offset > 0 {
		sb.Offset(q.Offset)
	}

	query, args := sb.Build()
	var requests []models.ActionRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list action requests")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list action requests")
	}

	return requests, nil
}

// MarkReviewedTx moves a pending request to approved or rejected on the
// caller's transaction. The update is conditional on the request still
// being pending, so the first concurrent reviewer wins and the second
// gets 409.
func (r *Repository) MarkReviewedTx(ctx context.Context, tx database.Tx, id uuid.UUID, status models.RequestStatus, reviewerID uuid.UUID, reviewedAt time.Time, notes *string) error {
	ctx, span := tracing.StartSpan(ctx, "actionrequest.Repository.MarkReviewedTx")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(requestTable)
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("reviewer_id", reviewerID),
		ub.Assign("reviewed_at", reviewedAt),
		ub.Assign("notes", notes),
		ub.Assign("updated_at", reviewedAt),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.RequestStatusPending),
	)

	query, args := ub.Build()
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"request_id": id}).Error("Failed to mark request reviewed")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark request reviewed")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("request %s has already been reviewed", id))
	}

	return nil
}

// Delete removes a pending request. Only the submitter may delete, and
// only while the request is still pending.
func (r *Repository) Delete(ctx context.Context, id, requestedBy uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "actionrequest.Repository.Delete")
	defer span.End()

	dlb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	dlb.DeleteFrom(requestTable)
	dlb.Where(
		dlb.Equal("id", id),
		dlb.Equal("requested_by", requestedBy),
		dlb.Equal("status", models.RequestStatusPending),
	)

	query, args := dlb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"request_id": id}).Error("Failed to delete action request")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete action request")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		request, getErr := r.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if !request.Pending() {
			return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("request %s has already been reviewed", id))
		}
		return httperror.NewHTTPError(http.StatusForbidden, "only the submitter may delete a pending request")
	}

	return nil
}
