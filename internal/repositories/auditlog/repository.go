package auditlog

import (
	"context"
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

const auditTable = "audit_log_entries"

var auditColumns = []string{"id", "actor_id", "actor_role", "action", "target_type", "target_id", "office_id", "details", "created_at"}

const maxPageSize = 500

// Repository handles audit log persistence. Entries are append only;
// there is no update or delete path.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new audit log repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Insert appends an audit entry outside any transaction
func (r *Repository) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	ctx, span := tracing.StartSpan(ctx, "auditlog.Repository.Insert")
	defer span.End()

	query, args := r.insertQuery(entry)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"action": entry.Action}).Error("Failed to insert audit entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert audit entry")
	}

	return nil
}

// InsertTx appends an audit entry on the caller's transaction, so the
// entry commits or rolls back with the mutation it records.
func (r *Repository) InsertTx(ctx context.Context, tx database.Tx, entry *models.AuditLogEntry) error {
	ctx, span := tracing.StartSpan(ctx, "auditlog.Repository.InsertTx")
	defer span.End()

	query, args := r.insertQuery(entry)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"action": entry.Action}).Error("Failed to insert audit entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert audit entry")
	}

	return nil
}

func (r *Repository) insertQuery(entry *models.AuditLogEntry) (string, []any) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var details any
	if len(entry.Details) > 0 {
		details = []byte(entry.Details)
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(auditTable)
	ib.Cols("id", "actor_id", "actor_role", "action", "target_type", "target_id", "office_id", "details", "created_at")
	ib.Values(entry.ID, entry.ActorID, entry.ActorRole, entry.Action, entry.TargetType, entry.TargetID, entry.OfficeID, details, entry.CreatedAt)

	return ib.Build()
}

// Query returns audit entries matching the filters, newest first
func (r *Repository) Query(ctx context.Context, q models.AuditQuery) ([]models.AuditLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "auditlog.Repository.Query")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(auditColumns...)
	sb.From(auditTable)

	if q.OfficeID != nil {
		sb.Where(sb.Equal("office_id", *q.OfficeID))
	}
	if q.TargetType != "" {
		sb.Where(sb.Equal("target_type", q.TargetType))
	}
	if q.Action != "" {
		sb.Where(sb.Equal("action", q.Action))
	}
	if q.ActorID != nil {
		sb.Where(sb.Equal("actor_id", *q.ActorID))
	}
	if q.From != nil {
		sb.Where(sb.GreaterEqualThan("created_at", *q.From))
	}
	if q.To != nil {
		sb.Where(sb.LessThan("created_at", *q.To))
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
	var entries []models.AuditLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to query audit log")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to query audit log")
	}

	return entries, nil
}
