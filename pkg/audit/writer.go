package audit

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/database"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/internal/repositories/auditlog"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Writer records state-changing events to the audit log. Details
// payloads are marshalled here so callers pass plain values.
type Writer struct {
	repo   *auditlog.Repository
	logger ectologger.Logger
}

// NewWriter creates a new audit writer
func NewWriter(repo *auditlog.Repository, logger ectologger.Logger) *Writer {
	return &Writer{
		repo:   repo,
		logger: logger,
	}
}

// Event is one auditable occurrence.
type Event struct {
	Actor      models.Actor
	Action     string
	TargetType string
	TargetID   uuid.UUID
	OfficeID   uuid.UUID
	Details    any
}

// Record appends an event outside any transaction. Used for events that
// must survive the failure of the operation they describe, such as an
// apply failure after its transaction rolled back.
func (w *Writer) Record(ctx context.Context, event Event) error {
	ctx, span := tracing.StartSpan(ctx, "audit.Writer.Record")
	defer span.End()

	entry, err := w.entry(ctx, event)
	if err != nil {
		return err
	}
	return w.repo.Insert(ctx, entry)
}

// RecordTx appends an event on the caller's transaction so it commits
// or rolls back with the mutation it records.
func (w *Writer) RecordTx(ctx context.Context, tx database.Tx, event Event) error {
	ctx, span := tracing.StartSpan(ctx, "audit.Writer.RecordTx")
	defer span.End()

	entry, err := w.entry(ctx, event)
	if err != nil {
		return err
	}
	return w.repo.InsertTx(ctx, tx, entry)
}

func (w *Writer) entry(ctx context.Context, event Event) (*models.AuditLogEntry, error) {
	var details json.RawMessage
	if event.Details != nil {
		data, err := json.Marshal(event.Details)
		if err != nil {
			w.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"action": event.Action}).Error("Failed to marshal audit details")
			return nil, err
		}
		details = data
	}

	return &models.AuditLogEntry{
		ActorID:    event.Actor.StaffID,
		ActorRole:  event.Actor.Role,
		Action:     event.Action,
		TargetType: event.TargetType,
		TargetID:   event.TargetID,
		OfficeID:   event.OfficeID,
		Details:    details,
	}, nil
}
