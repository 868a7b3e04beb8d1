package approval

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

	"github.com/Ramsey-B/clover/internal/repositories/actionrequest"
	"github.com/Ramsey-B/clover/pkg/audit"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Strategy specializes the engine for one resource type. Strategies
// validate payloads, enforce the authorization rule table, and apply
// the deferred mutation on approval.
type Strategy interface {
	ResourceType() models.ResourceType

	// ValidateSubmit checks the payload shape and submit authorization,
	// and sets the request's office scope.
	ValidateSubmit(ctx context.Context, actor models.Actor, request *models.ActionRequest) error

	// AuthorizeReview checks whether the actor may approve or reject
	// the request.
	AuthorizeReview(ctx context.Context, actor models.Actor, request *models.ActionRequest) error

	// ValidateRejection checks rejection-specific input, such as a
	// mandatory notes requirement.
	ValidateRejection(request *models.ActionRequest, notes *string) error

	// Apply executes the deferred mutation on the engine's transaction.
	Apply(ctx context.Context, tx database.Tx, actor models.Actor, request *models.ActionRequest) error
}

// Engine gates mutations from restricted actors behind two-party
// review. Every approval runs as one transaction: the status change,
// the applied mutation and the audit entry commit together or not at
// all.
type Engine struct {
	requests   *actionrequest.Repository
	audit      *audit.Writer
	emitter    *events.Emitter
	strategies map[models.ResourceType]Strategy
	logger     ectologger.Logger
}

// NewEngine creates an approval engine with the given strategies
func NewEngine(requests *actionrequest.Repository, auditWriter *audit.Writer, emitter *events.Emitter, logger ectologger.Logger, strategies ...Strategy) *Engine {
	byType := make(map[models.ResourceType]Strategy, len(strategies))
	for _, s := range strategies {
		byType[s.ResourceType()] = s
	}
	return &Engine{
		requests:   requests,
		audit:      auditWriter,
		emitter:    emitter,
		strategies: byType,
		logger:     logger,
	}
}

func (e *Engine) strategy(resourceType models.ResourceType) (Strategy, error) {
	s, ok := e.strategies[resourceType]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown resource type %q", resourceType))
	}
	return s, nil
}

// Submit validates and persists a pending request. Duplicate pending
// submissions for the same target are allowed; reviewers see both.
func (e *Engine) Submit(ctx context.Context, actor models.Actor, submit models.SubmitRequest) (*models.ActionRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "approval.Engine.Submit")
	defer span.End()

	if !submit.ActionType.Valid() {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown action type %q", submit.ActionType))
	}

	strategy, err := e.strategy(submit.ResourceType)
	if err != nil {
		return nil, err
	}

	request := &models.ActionRequest{
		ResourceType: submit.ResourceType,
		ActionType:   submit.ActionType,
		RequestedBy:  actor.StaffID,
		RequestData:  submit.RequestData,
	}

	if err := strategy.ValidateSubmit(ctx, actor, request); err != nil {
		return nil, err
	}

	request, err = e.requests.Create(ctx, request)
	if err != nil {
		return nil, err
	}

	if err := e.audit.Record(ctx, audit.Event{
		Actor:      actor,
		Action:     models.AuditActionRequestSubmitted,
		TargetType: "action_request",
		TargetID:   request.ID,
		OfficeID:   request.OfficeID,
		Details:    map[string]any{"resource_type": request.ResourceType, "action_type": request.ActionType},
	}); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to audit request submission")
	}

	metrics.RequestsSubmitted.WithLabelValues(string(request.ResourceType), string(request.ActionType)).Inc()
	e.emitter.RequestSubmitted(ctx, request)

	return request, nil
}

// Get returns a request the actor is allowed to see. app_admin sees
// everything; other actors only their own office.
func (e *Engine) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.ActionRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "approval.Engine.Get")
	defer span.End()

	request, err := e.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if actor.Role != models.RoleAppAdmin && !actor.MemberOf(request.OfficeID) {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("request %s not found", id))
	}

	return request, nil
}

// List returns requests visible to the actor. Non-admin actors are
// pinned to their own office regardless of the query.
func (e *Engine) List(ctx context.Context, actor models.Actor, query models.RequestQuery) ([]models.ActionRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "approval.Engine.List")
	defer span.End()

	if actor.Role != models.RoleAppAdmin {
		if actor.OfficeID == nil {
			return nil, httperror.NewHTTPError(http.StatusForbidden, "actor has no office")
		}
		query.OfficeID = actor.OfficeID
	}

	return e.requests.List(ctx, query)
}

// Approve applies a pending request. The row is locked for the review,
// the status update is conditional on the request still being pending,
// and the strategy's mutation runs on the same transaction. If the
// apply step fails everything rolls back, the request stays pending,
// and the failure itself is audit logged.
func (e *Engine) Approve(ctx context.Context, reviewer models.Actor, id uuid.UUID, notes *string) (*models.ActionRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "approval.Engine.Approve")
	defer span.End()

	_, tx, err := e.requests.DB().GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	request, err := e.requests.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if !request.Pending() {
		return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("request %s has already been reviewed", id))
	}

	strategy, err := e.strategy(request.ResourceType)
	if err != nil {
		return nil, err
	}

	if err := strategy.AuthorizeReview(ctx, reviewer, request); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := e.requests.MarkReviewedTx(ctx, tx, id, models.RequestStatusApproved, reviewer.StaffID, now, notes); err != nil {
		return nil, err
	}

	if err := strategy.Apply(ctx, tx, reviewer, request); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			e.logger.WithContext(ctx).WithError(rbErr).Error("Failed to roll back approval")
		}

		// The rollback left the request pending. The failure is recorded
		// outside the transaction so it survives.
		if auditErr := e.audit.Record(ctx, audit.Event{
			Actor:      reviewer,
			Action:     models.AuditActionApplyFailed,
			TargetType: "action_request",
			TargetID:   request.ID,
			OfficeID:   request.OfficeID,
			Details:    map[string]any{"resource_type": request.ResourceType, "error": err.Error()},
		}); auditErr != nil {
			e.logger.WithContext(ctx).WithError(auditErr).Error("Failed to audit apply failure")
		}

		metrics.ApplyFailures.WithLabelValues(string(request.ResourceType)).Inc()
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"request_id": id}).Error("Failed to apply approved request")
		return nil, httperror.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("failed to apply request: %s", err.Error()))
	}

	if err := e.audit.RecordTx(ctx, tx, audit.Event{
		Actor:      reviewer,
		Action:     models.AuditActionRequestApproved,
		TargetType: "action_request",
		TargetID:   request.ID,
		OfficeID:   request.OfficeID,
		Details:    map[string]any{"resource_type": request.ResourceType},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit approval")
	}

	request.Status = models.RequestStatusApproved
	request.ReviewerID = &reviewer.StaffID
	request.ReviewedAt = &now
	request.Notes = notes
	request.UpdatedAt = now

	metrics.RequestsReviewed.WithLabelValues(string(request.ResourceType), "approved").Inc()
	e.emitter.RequestReviewed(ctx, request)
	if request.ResourceType == models.ResourceOfficeWithdrawal {
		e.emitter.OfficeWithdrawn(ctx, reviewer, request.OfficeID)
	}

	return request, nil
}

// Reject marks a pending request rejected without applying anything
func (e *Engine) Reject(ctx context.Context, reviewer models.Actor, id uuid.UUID, notes *string) (*models.ActionRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "approval.Engine.Reject")
	defer span.End()

	_, tx, err := e.requests.DB().GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	request, err := e.requests.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if !request.Pending() {
		return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("request %s has already been reviewed", id))
	}

	strategy, err := e.strategy(request.ResourceType)
	if err != nil {
		return nil, err
	}

	if err := strategy.AuthorizeReview(ctx, reviewer, request); err != nil {
		return nil, err
	}

	if err := strategy.ValidateRejection(request, notes); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := e.requests.MarkReviewedTx(ctx, tx, id, models.RequestStatusRejected, reviewer.StaffID, now, notes); err != nil {
		return nil, err
	}

	if err := e.audit.RecordTx(ctx, tx, audit.Event{
		Actor:      reviewer,
		Action:     models.AuditActionRequestRejected,
		TargetType: "action_request",
		TargetID:   request.ID,
		OfficeID:   request.OfficeID,
		Details:    map[string]any{"resource_type": request.ResourceType, "notes": notes},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit rejection")
	}

	request.Status = models.RequestStatusRejected
	request.ReviewerID = &reviewer.StaffID
	request.ReviewedAt = &now
	request.Notes = notes
	request.UpdatedAt = now

	metrics.RequestsReviewed.WithLabelValues(string(request.ResourceType), "rejected").Inc()
	e.emitter.RequestReviewed(ctx, request)

	return request, nil
}

// Delete removes a pending request. Only the submitter may delete, and
// reviewed requests are immutable history.
func (e *Engine) Delete(ctx context.Context, actor models.Actor, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "approval.Engine.Delete")
	defer span.End()

	request, err := e.requests.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := e.requests.Delete(ctx, id, actor.StaffID); err != nil {
		return err
	}

	if err := e.audit.Record(ctx, audit.Event{
		Actor:      actor,
		Action:     models.AuditActionRequestDeleted,
		TargetType: "action_request",
		TargetID:   id,
		OfficeID:   request.OfficeID,
		Details:    map[string]any{"resource_type": request.ResourceType},
	}); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to audit request deletion")
	}

	e.emitter.RequestDeleted(ctx, request)

	return nil
}
