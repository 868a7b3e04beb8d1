package recipient

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

const recipientTable = "welfare_recipients"

var recipientColumns = []string{"id", "office_id", "name", "furigana", "birth_date", "created_at", "updated_at"}

// Repository handles welfare recipient persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new recipient repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateTx inserts a recipient on the caller's transaction. Registration
// creates the recipient and their first cycle atomically, so the insert
// never owns its own transaction.
func (r *Repository) CreateTx(ctx context.Context, tx database.Tx, recipient *models.WelfareRecipient) (*models.WelfareRecipient, error) {
	ctx, span := tracing.StartSpan(ctx, "recipient.Repository.CreateTx")
	defer span.End()

	if recipient.ID == uuid.Nil {
		recipient.ID = uuid.New()
	}
	recipient.CreatedAt = time.Now().UTC()
	recipient.UpdatedAt = recipient.CreatedAt

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(recipientTable)
	ib.Cols("id", "office_id", "name", "furigana", "birth_date", "created_at", "updated_at")
	ib.Values(recipient.ID, recipient.OfficeID, recipient.Name, recipient.Furigana, recipient.BirthDate, recipient.CreatedAt, recipient.UpdatedAt)

	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"office_id": recipient.OfficeID}).Error("Failed to create recipient")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create recipient")
	}

	return recipient, nil
}

// Get retrieves a recipient by ID
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.WelfareRecipient, error) {
	ctx, span := tracing.StartSpan(ctx, "recipient.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(recipientColumns...)
	sb.From(recipientTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var recipient models.WelfareRecipient
	if err := r.db.GetContext(ctx, &recipient, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("recipient %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get recipient")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get recipient")
	}

	return &recipient, nil
}

// ListByOffice lists an office's recipients, oldest first
func (r *Repository) ListByOffice(ctx context.Context, officeID uuid.UUID, limit, offset int) ([]models.WelfareRecipient, error) {
	ctx, span := tracing.StartSpan(ctx, "recipient.Repository.ListByOffice")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(recipientColumns...)
	sb.From(recipientTable)
	sb.Where(sb.Equal("office_id", officeID))
	sb.OrderBy("created_at ASC")
	if limit > 0 {
		sb.Limit(limit)
	}
	if offset > 0 {
		sb.Offset(offset)
	}

	query, args := sb.Build()
	var recipients []models.WelfareRecipient
	if err := r.db.SelectContext(ctx, &recipients, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list recipients")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list recipients")
	}

	return recipients, nil
}
