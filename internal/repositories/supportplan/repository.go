package supportplan

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

const (
	cycleTable       = "support_plan_cycles"
	stepTable        = "step_statuses"
	deliverableTable = "deliverables"
)

var (
	cycleColumns       = []string{"id", "recipient_id", "office_id", "cycle_number", "is_latest_cycle", "plan_cycle_start_date", "monitoring_deadline_days", "monitoring_due_date", "created_at", "updated_at"}
	stepColumns        = []string{"id", "cycle_id", "step_type", "completed", "completed_at", "deliverable_id", "created_at", "updated_at"}
	deliverableColumns = []string{"id", "file_name", "size_bytes", "storage_url", "created_at", "updated_at"}
)

// Repository handles support plan cycle, step and deliverable persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new support plan repository
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

// GetCycle retrieves a cycle by ID
func (r *Repository) GetCycle(ctx context.Context, id uuid.UUID) (*models.SupportPlanCycle, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Repository.GetCycle")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(cycleColumns...)
	sb.From(cycleTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var cycle models.SupportPlanCycle
	if err := r.db.GetContext(ctx, &cycle, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("cycle %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get cycle")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get cycle")
	}

	return &cycle, nil
}

// ListCyclesByRecipient lists a recipient's cycles, newest cycle first
func (r *Repository) ListCyclesByRecipient(ctx context.Context, recipientID uuid.UUID) ([]models.SupportPlanCycle, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Repository.ListCyclesByRecipient")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(cycleColumns...)
	sb.From(cycleTable)
	sb.Where(sb.Equal("recipient_id", recipientID))
	sb.OrderBy("cycle_number DESC")

	query, args := sb.Build()
	var cycles []models.SupportPlanCycle
	if err := r.db.SelectContext(ctx, &cycles, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list cycles")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list cycles")
	}

	return cycles, nil
}

// ListStepsByCycleIDs fetches step rows for a set of cycles in one query
func (r *Repository) ListStepsByCycleIDs(ctx context.Context, cycleIDs []uuid.UUID) ([]models.StepStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Repository.ListStepsByCycleIDs")
	defer span.End()

	if len(cycleIDs) == 0 {
		return nil, nil
	}

	ids := make([]any, len(cycleIDs))
	for i, id := range cycleIDs {
		ids[i] = id
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(stepColumns...)
	sb.From(stepTable)
	sb.Where(sb.In("cycle_id", ids...))
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var steps []models.StepStatus
	if err := r.db.SelectContext(ctx, &steps, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list steps")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list steps")
	}

	return steps, nil
}

// ListDeliverables fetches deliverable rows by ID
func (r *Repository) ListDeliverables(ctx context.Context, ids []uuid.UUID) ([]models.Deliverable, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Repository.ListDeliverables")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	vals := make([]any, len(ids))
	for i, id := range ids {
		vals[i] = id
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(deliverableColumns...)
	sb.From(deliverableTable)
	sb.Where(sb.In("id", vals...))

	query, args := sb.Build()
	var deliverables []models.Deliverable
	if err := r.db.SelectContext(ctx, &deliverables, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list deliverables")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list deliverables")
	}

	return deliverables, nil
}

// GetStep retrieves one step of a cycle
func (r *Repository) GetStep(ctx context.Context, cycleID uuid.UUID, stepType models.StepType) (*models.StepStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Repository.GetStep")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(stepColumns...)
	sb.From(stepTable)
	sb.Where(
		sb.Equal("cycle_id", cycleID),
		sb.Equal("step_type", stepType),
	)

	query, args := sb.Build()
	var step models.StepStatus
	if err := r.db.GetContext(ctx, &step, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("step %s not found on cycle %s", stepType, cycleID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get step")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get step")
	}

	return &step, nil
}

// InsertCycleTx inserts a cycle on the caller's transaction
func (r *Repository) InsertCycleTx(ctx context.Context, tx database.Tx, cycle *models.SupportPlanCycle) (*models.SupportPlanCycle, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Repository.InsertCycleTx")
	defer span.End()

	if cycle.ID == uuid.Nil {
		cycle.ID = uuid.New()
	}
	cycle.CreatedAt = time.Now().UTC()
	cycle.UpdatedAt = cycle.CreatedAt

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(cycleTable)
	ib.Cols("id", "recipient_id", "office_id", "cycle_number", "is_latest_cycle", "plan_cycle_start_date", "monitoring_deadline_days", "monitoring_due_date", "created_at", "updated_at")
	ib.Values(cycle.ID, cycle.RecipientID, cycle.OfficeID, cycle.CycleNumber, cycle.IsLatestCycle, cycle.PlanCycleStartDate, cycle.MonitoringDeadlineDays, cycle.MonitoringDueDate, cycle.CreatedAt, cycle.UpdatedAt)

	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"recipient_id": cycle.RecipientID,
			"cycle_number": cycle.CycleNumber,
		}).Error("Failed to insert cycle")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert cycle")
	}

	return cycle, nil
}

// InsertStepsTx creates the fixed set of step rows for a cycle on the
// caller's transaction. Steps start incomplete.
func (r *Repository) InsertStepsTx(ctx context.Context, tx database.Tx, cycleID uuid.UUID) ([]models.StepStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Repository.InsertStepsTx")
	defer span.End()

	now := time.Now().UTC()
	steps := make([]models.StepStatus, 0, len(models.StepTypes))

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(stepTable)
	ib.Cols("id", "cycle_id", "step_type", "completed", "created_at", "updated_at")
	for _, stepType := range models.StepTypes {
		step := models.StepStatus{
			ID:        uuid.New(),
			CycleID:   cycleID,
			StepType:  stepType,
			Completed: false,
			CreatedAt: now,
			UpdatedAt: now,
		}
		ib.Values(step.ID, step.CycleID, step.StepType, step.Completed, step.CreatedAt, step.UpdatedAt)
		steps = append(steps, step)
	}

	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"cycle_id": cycleID}).Error("Failed to insert steps")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert steps")
	}

	return steps, nil
}

// CompleteStepTx marks a step complete on the caller's transaction,
// inserting its deliverable first when one is attached. Returns 409 if
// the step is already complete.
func (r *Repository) CompleteStepTx(ctx context.Context, tx database.Tx, cycleID uuid.UUID, stepType models.StepType, completedAt time.Time, upload *models.DeliverableUpload) (*models.StepStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Repository.CompleteStepTx")
	defer span.End()

	var deliverableID *uuid.UUID
	if upload != nil {
		deliverable := models.Deliverable{
			ID:         uuid.New(),
			FileName:   upload.FileName,
			SizeBytes:  upload.SizeBytes,
			StorageURL: upload.StorageURL,
			CreatedAt:  completedAt,
			UpdatedAt:  completedAt,
		}

		ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
		ib.InsertInto(deliverableTable)
		ib.Cols("id", "file_name", "size_bytes", "storage_url", "created_at", "updated_at")
		ib.Values(deliverable.ID, deliverable.FileName, deliverable.SizeBytes, deliverable.StorageURL, deliverable.CreatedAt, deliverable.UpdatedAt)

		query, args := ib.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to insert deliverable")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert deliverable")
		}
		deliverableID = &deliverable.ID
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(stepTable)
	ub.Set(
		ub.Assign("completed", true),
		ub.Assign("completed_at", completedAt),
		ub.Assign("deliverable_id", deliverableID),
		ub.Assign("updated_at", completedAt),
	)
	ub.Where(
		ub.Equal("cycle_id", cycleID),
		ub.Equal("step_type", stepType),
		ub.Equal("completed", false),
	)

	query, args := ub.Build()
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"cycle_id":  cycleID,
			"step_type": stepType,
		}).Error("Failed to complete step")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to complete step")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish a missing step from one already completed.
		if _, getErr := r.getStepTx(ctx, tx, cycleID, stepType); getErr != nil {
			return nil, getErr
		}
		return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("step %s already completed", stepType))
	}

	step := &models.StepStatus{
		CycleID:       cycleID,
		StepType:      stepType,
		Completed:     true,
		CompletedAt:   &completedAt,
		DeliverableID: deliverableID,
		UpdatedAt:     completedAt,
	}
	return step, nil
}

func (r *Repository) getStepTx(ctx context.Context, tx database.Tx, cycleID uuid.UUID, stepType models.StepType) (*models.StepStatus, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(stepColumns...)
	sb.From(stepTable)
	sb.Where(
		sb.Equal("cycle_id", cycleID),
		sb.Equal("step_type", stepType),
	)

	query, args := sb.Build()
	var step models.StepStatus
	if err := tx.GetContext(ctx, &step, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("step %s not found on cycle %s", stepType, cycleID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get step")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get step")
	}

	return &step, nil
}

// ReplaceDeliverableTx swaps the artifact on an already-completed step
// and refreshes completed_at. Returns 409 if the step is not complete.
func (r *Repository) ReplaceDeliverableTx(ctx context.Context, tx database.Tx, cycleID uuid.UUID, stepType models.StepType, completedAt time.Time, upload models.DeliverableUpload) (*models.StepStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Repository.ReplaceDeliverableTx")
	defer span.End()

	deliverable := models.Deliverable{
		ID:         uuid.New(),
		FileName:   upload.FileName,
		SizeBytes:  upload.SizeBytes,
		StorageURL: upload.StorageURL,
		CreatedAt:  completedAt,
		UpdatedAt:  completedAt,
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(deliverableTable)
	ib.Cols("id", "file_name", "size_bytes", "storage_url", "created_at", "updated_at")
	ib.Values(deliverable.ID, deliverable.FileName, deliverable.SizeBytes, deliverable.StorageURL, deliverable.CreatedAt, deliverable.UpdatedAt)

	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert deliverable")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert deliverable")
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(stepTable)
	ub.Set(
		ub.Assign("deliverable_id", deliverable.ID),
		ub.Assign("completed_at", completedAt),
		ub.Assign("updated_at", completedAt),
	)
	ub.Where(
		ub.Equal("cycle_id", cycleID),
		ub.Equal("step_type", stepType),
		ub.Equal("completed", true),
	)

	query, args = ub.Build()
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"cycle_id":  cycleID,
			"step_type": stepType,
		}).Error("Failed to replace deliverable")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to replace deliverable")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, getErr := r.getStepTx(ctx, tx, cycleID, stepType); getErr != nil {
			return nil, getErr
		}
		return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("step %s is not completed", stepType))
	}

	step := &models.StepStatus{
		CycleID:       cycleID,
		StepType:      stepType,
		Completed:     true,
		CompletedAt:   &completedAt,
		DeliverableID: &deliverable.ID,
		UpdatedAt:     completedAt,
	}
	return step, nil
}

// CompleteStep marks a step complete in its own transaction
func (r *Repository) CompleteStep(ctx context.Context, cycleID uuid.UUID, stepType models.StepType, completedAt time.Time, upload *models.DeliverableUpload) (*models.StepStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Repository.CompleteStep")
	defer span.End()

	_, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	step, err := r.CompleteStepTx(ctx, tx, cycleID, stepType, completedAt, upload)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit transaction")
	}

	return step, nil
}

// SetMonitoringDeadlineTx updates the monitoring deadline of a latest
// cycle on the caller's transaction. Returns 409 if the cycle is no
// longer the latest.
func (r *Repository) SetMonitoringDeadlineTx(ctx context.Context, tx database.Tx, cycleID uuid.UUID, days int, dueDate *time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Repository.SetMonitoringDeadlineTx")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(cycleTable)
	ub.Set(
		ub.Assign("monitoring_deadline_days", days),
		ub.Assign("monitoring_due_date", dueDate),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("id", cycleID),
		ub.Equal("is_latest_cycle", true),
	)

	query, args := ub.Build()
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"cycle_id": cycleID}).Error("Failed to set monitoring deadline")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set monitoring deadline")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, getErr := r.GetCycle(ctx, cycleID); getErr != nil {
			return getErr
		}
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("cycle %s is not the latest cycle", cycleID))
	}

	return nil
}

// SetMonitoringDeadline updates the monitoring deadline in its own transaction
func (r *Repository) SetMonitoringDeadline(ctx context.Context, cycleID uuid.UUID, days int, dueDate *time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Repository.SetMonitoringDeadline")
	defer span.End()

	_, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	if err := r.SetMonitoringDeadlineTx(ctx, tx, cycleID, days, dueDate); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit transaction")
	}

	return nil
}

// StartNewCycle demotes the recipient's latest cycle and creates the
// next one with a fresh step set, all in one transaction. The latest
// cycle row is locked for the duration so concurrent rollovers
// serialize.
func (r *Repository) StartNewCycle(ctx context.Context, recipientID uuid.UUID, startDate time.Time) (*models.SupportPlanCycle, []models.StepStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Repository.StartNewCycle")
	defer span.End()

	_, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(cycleColumns...)
	sb.From(cycleTable)
	sb.Where(
		sb.Equal("recipient_id", recipientID),
		sb.Equal("is_latest_cycle", true),
	)

	query, args := sb.Build()
	query += " FOR UPDATE"

	var latest models.SupportPlanCycle
	if err := tx.GetContext(ctx, &latest, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no cycle found for recipient %s", recipientID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to lock latest cycle")
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to lock latest cycle")
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(cycleTable)
	ub.Set(
		ub.Assign("is_latest_cycle", false),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", latest.ID))

	query, args = ub.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"cycle_id": latest.ID}).Error("Failed to demote latest cycle")
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to demote latest cycle")
	}

	next := &models.SupportPlanCycle{
		RecipientID:            recipientID,
		OfficeID:               latest.OfficeID,
		CycleNumber:            latest.CycleNumber + 1,
		IsLatestCycle:          true,
		PlanCycleStartDate:     startDate,
		MonitoringDeadlineDays: models.MonitoringDeadlineDaysDefault,
	}

	next, err = r.InsertCycleTx(ctx, tx, next)
	if err != nil {
		return nil, nil, err
	}

	steps, err := r.InsertStepsTx(ctx, tx, next.ID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit transaction")
	}

	return next, steps, nil
}
