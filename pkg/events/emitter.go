// Package events emits change notifications for case lifecycle changes.
// Emission is best effort: failures are logged and never fail the
// operation that produced them.
package events

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Publisher sends case events to the event stream.
type Publisher interface {
	PublishCaseEvent(ctx context.Context, event *kafka.CaseEvent) error
}

// Emitter publishes case events. A nil producer disables emission.
type Emitter struct {
	producer Publisher
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

func (e *Emitter) publish(ctx context.Context, event *kafka.CaseEvent) {
	if e.producer == nil {
		return
	}
	if err := e.producer.PublishCaseEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"event_type": event.EventType}).Error("Failed to emit case event")
	}
}

// RequestSubmitted emits a request.submitted event
func (e *Emitter) RequestSubmitted(ctx context.Context, request *models.ActionRequest) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.RequestSubmitted")
	defer span.End()

	e.publish(ctx, &kafka.CaseEvent{
		EventType:  "request.submitted",
		OfficeID:   request.OfficeID.String(),
		TargetType: "action_request",
		TargetID:   request.ID.String(),
		ActorID:    request.RequestedBy.String(),
		Data:       request.RequestData,
	})
}

// RequestReviewed emits request.approved or request.rejected
func (e *Emitter) RequestReviewed(ctx context.Context, request *models.ActionRequest) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.RequestReviewed")
	defer span.End()

	eventType := "request.approved"
	if request.Status == models.RequestStatusRejected {
		eventType = "request.rejected"
	}

	var actorID string
	if request.ReviewerID != nil {
		actorID = request.ReviewerID.String()
	}

	e.publish(ctx, &kafka.CaseEvent{
		EventType:  eventType,
		OfficeID:   request.OfficeID.String(),
		TargetType: "action_request",
		TargetID:   request.ID.String(),
		ActorID:    actorID,
	})
}

// RequestDeleted emits a request.deleted event
func (e *Emitter) RequestDeleted(ctx context.Context, request *models.ActionRequest) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.RequestDeleted")
	defer span.End()

	e.publish(ctx, &kafka.CaseEvent{
		EventType:  "request.deleted",
		OfficeID:   request.OfficeID.String(),
		TargetType: "action_request",
		TargetID:   request.ID.String(),
		ActorID:    request.RequestedBy.String(),
	})
}

// StepCompleted emits a step.completed event
func (e *Emitter) StepCompleted(ctx context.Context, actor models.Actor, officeID, cycleID uuid.UUID, stepType models.StepType) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.StepCompleted")
	defer span.End()

	e.publish(ctx, &kafka.CaseEvent{
		EventType:  "step.completed",
		OfficeID:   officeID.String(),
		TargetType: "support_plan_cycle",
		TargetID:   cycleID.String(),
		ActorID:    actor.StaffID.String(),
		Data:       []byte(`{"step_type":"` + string(stepType) + `"}`),
	})
}

// DeadlineUpdated emits a deadline.updated event
func (e *Emitter) DeadlineUpdated(ctx context.Context, actor models.Actor, officeID, cycleID uuid.UUID) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.DeadlineUpdated")
	defer span.End()

	e.publish(ctx, &kafka.CaseEvent{
		EventType:  "deadline.updated",
		OfficeID:   officeID.String(),
		TargetType: "support_plan_cycle",
		TargetID:   cycleID.String(),
		ActorID:    actor.StaffID.String(),
	})
}

// CycleStarted emits a cycle.started event
func (e *Emitter) CycleStarted(ctx context.Context, actor models.Actor, cycle *models.SupportPlanCycle) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.CycleStarted")
	defer span.End()

	e.publish(ctx, &kafka.CaseEvent{
		EventType:  "cycle.started",
		OfficeID:   cycle.OfficeID.String(),
		TargetType: "support_plan_cycle",
		TargetID:   cycle.ID.String(),
		ActorID:    actor.StaffID.String(),
	})
}

// RecipientCreated emits a recipient.created event
func (e *Emitter) RecipientCreated(ctx context.Context, actor models.Actor, recipient *models.WelfareRecipient) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.RecipientCreated")
	defer span.End()

	e.publish(ctx, &kafka.CaseEvent{
		EventType:  "recipient.created",
		OfficeID:   recipient.OfficeID.String(),
		TargetType: "welfare_recipient",
		TargetID:   recipient.ID.String(),
		ActorID:    actor.StaffID.String(),
	})
}

// OfficeWithdrawn emits an office.withdrawn event
func (e *Emitter) OfficeWithdrawn(ctx context.Context, actor models.Actor, officeID uuid.UUID) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.OfficeWithdrawn")
	defer span.End()

	e.publish(ctx, &kafka.CaseEvent{
		EventType:  "office.withdrawn",
		OfficeID:   officeID.String(),
		TargetType: "office",
		TargetID:   officeID.String(),
		ActorID:    actor.StaffID.String(),
	})
}
