package supportplan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/internal/repositories/recipient"
	supportplanrepo "github.com/Ramsey-B/clover/internal/repositories/supportplan"
	"github.com/Ramsey-B/clover/pkg/approval"
	"github.com/Ramsey-B/clover/pkg/audit"
	"github.com/Ramsey-B/clover/pkg/deadline"
	"github.com/Ramsey-B/clover/pkg/deliverables"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/redis"
)

const (
	rolloverLockTTL     = 10 * time.Second
	rolloverLockTimeout = 5 * time.Second
)

// Outcome is the result of a step or deadline mutation. Exactly one of
// the two cases holds: Applied with the resulting state, or a pending
// request awaiting review. Callers must never have to guess which.
type Outcome struct {
	Applied bool                  `json:"applied"`
	Step    *models.StepStatus    `json:"step,omitempty"`
	Request *models.ActionRequest `json:"request,omitempty"`
}

// Service owns the support plan cycle and step lifecycle. Privileged
// actors mutate directly; employee mutations are deferred through the
// approval engine.
type Service struct {
	plans      *supportplanrepo.Repository
	recipients *recipient.Repository
	engine     *approval.Engine
	audit      *audit.Writer
	emitter    *events.Emitter
	store      *deliverables.Store
	locker     *redis.Locker
	logger     ectologger.Logger
}

// NewService creates a support plan service. locker may be nil, in
// which case cycle rollover relies on database locking alone.
func NewService(plans *supportplanrepo.Repository, recipients *recipient.Repository, engine *approval.Engine, auditWriter *audit.Writer, emitter *events.Emitter, store *deliverables.Store, locker *redis.Locker, logger ectologger.Logger) *Service {
	return &Service{
		plans:      plans,
		recipients: recipients,
		engine:     engine,
		audit:      auditWriter,
		emitter:    emitter,
		store:      store,
		locker:     locker,
		logger:     logger,
	}
}

func (s *Service) authorizeCycleAccess(actor models.Actor, cycle *models.SupportPlanCycle) error {
	if actor.Role == models.RoleAppAdmin {
		return nil
	}
	if !actor.MemberOf(cycle.OfficeID) {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("cycle %s not found", cycle.ID))
	}
	return nil
}

// CompleteStep marks a step complete, or submits a pending request when
// the actor is an employee. An upload on an already-completed step
// replaces the stored deliverable.
func (s *Service) CompleteStep(ctx context.Context, actor models.Actor, cycleID uuid.UUID, stepType models.StepType, upload *models.DeliverableUpload) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Service.CompleteStep")
	defer span.End()

	if !stepType.Valid() {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown step type %q", stepType))
	}

	cycle, err := s.plans.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeCycleAccess(actor, cycle); err != nil {
		return nil, err
	}

	current, err := s.plans.GetStep(ctx, cycleID, stepType)
	if err != nil {
		return nil, err
	}
	if current.Completed && upload == nil {
		return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("step %s already completed", stepType))
	}

	if !actor.Privileged() {
		return s.deferStep(ctx, actor, cycle, stepType, current.Completed, upload)
	}

	// Uploads land staged; the artifact becomes authoritative only once
	// the step mutation is committed alongside it.
	if s.store != nil && upload != nil && deliverables.Staged(upload.StorageURL) {
		final, err := s.store.Promote(ctx, upload.StorageURL)
		if err != nil {
			return nil, err
		}
		promoted := *upload
		promoted.StorageURL = final
		upload = &promoted
	}

	now := time.Now().UTC()

	_, tx, err := s.plans.DB().GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	var step *models.StepStatus
	action := models.AuditActionStepCompleted
	if current.Completed {
		step, err = s.plans.ReplaceDeliverableTx(ctx, tx, cycleID, stepType, now, *upload)
	} else {
		step, err = s.plans.CompleteStepTx(ctx, tx, cycleID, stepType, now, upload)
	}
	if err != nil {
		if s.store != nil && upload != nil {
			if rmErr := s.store.Remove(ctx, upload.StorageURL); rmErr != nil {
				s.logger.WithContext(ctx).WithError(rmErr).Warn("Failed to remove orphaned deliverable")
			}
		}
		return nil, err
	}

	if err := s.audit.RecordTx(ctx, tx, audit.Event{
		Actor:      actor,
		Action:     action,
		TargetType: "support_plan_cycle",
		TargetID:   cycleID,
		OfficeID:   cycle.OfficeID,
		Details:    map[string]any{"step_type": stepType, "replaced": current.Completed},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit transaction")
	}

	metrics.StepsCompleted.WithLabelValues(string(stepType)).Inc()
	s.emitter.StepCompleted(ctx, actor, cycle.OfficeID, cycleID, stepType)

	return &Outcome{Applied: true, Step: step}, nil
}

func (s *Service) deferStep(ctx context.Context, actor models.Actor, cycle *models.SupportPlanCycle, stepType models.StepType, replacement bool, upload *models.DeliverableUpload) (*Outcome, error) {
	payload := models.StepCompletionPayload{
		CycleID:     cycle.ID,
		StepType:    stepType,
		Deliverable: upload,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode request payload")
	}

	actionType := models.ActionCreate
	if replacement {
		actionType = models.ActionUpdate
	}

	request, err := s.engine.Submit(ctx, actor, models.SubmitRequest{
		ResourceType: models.ResourceSupportPlanStatus,
		ActionType:   actionType,
		RequestData:  data,
	})
	if err != nil {
		return nil, err
	}

	return &Outcome{Applied: false, Request: request}, nil
}

// SetMonitoringDeadline configures the monitoring deadline on the
// latest cycle. days must lie in [7,30]; dueDate is the caller-supplied
// absolute deadline the urgency computation reads.
func (s *Service) SetMonitoringDeadline(ctx context.Context, actor models.Actor, cycleID uuid.UUID, days int, dueDate *time.Time) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Service.SetMonitoringDeadline")
	defer span.End()

	if days < models.MonitoringDeadlineDaysMin || days > models.MonitoringDeadlineDaysMax {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "monitoring_deadline_days must be between 7 and 30")
	}

	cycle, err := s.plans.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeCycleAccess(actor, cycle); err != nil {
		return nil, err
	}

	if !actor.Privileged() {
		payload := models.StepCompletionPayload{
			CycleID:                cycleID,
			MonitoringDeadlineDays: &days,
			MonitoringDueDate:      dueDate,
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode request payload")
		}

		request, err := s.engine.Submit(ctx, actor, models.SubmitRequest{
			ResourceType: models.ResourceSupportPlanStatus,
			ActionType:   models.ActionUpdate,
			RequestData:  data,
		})
		if err != nil {
			return nil, err
		}
		return &Outcome{Applied: false, Request: request}, nil
	}

	if err := s.plans.SetMonitoringDeadline(ctx, cycleID, days, dueDate); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, audit.Event{
		Actor:      actor,
		Action:     models.AuditActionDeadlineUpdated,
		TargetType: "support_plan_cycle",
		TargetID:   cycleID,
		OfficeID:   cycle.OfficeID,
		Details:    map[string]any{"monitoring_deadline_days": days, "monitoring_due_date": dueDate},
	}); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to audit deadline update")
	}

	s.emitter.DeadlineUpdated(ctx, actor, cycle.OfficeID, cycleID)

	return &Outcome{Applied: true}, nil
}

// StartNewCycle rolls a recipient over to their next cycle. The demote
// and insert run in one transaction; a per-recipient lock keeps
// concurrent rollovers from racing ahead of the partial unique index.
func (s *Service) StartNewCycle(ctx context.Context, actor models.Actor, recipientID uuid.UUID, startDate time.Time) (*models.SupportPlanCycle, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Service.StartNewCycle")
	defer span.End()

	if !actor.Privileged() {
		return nil, httperror.NewHTTPError(http.StatusForbidden, "only privileged staff may start a new cycle")
	}

	rec, err := s.recipients.Get(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAppAdmin && !actor.MemberOf(rec.OfficeID) {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("recipient %s not found", recipientID))
	}

	var cycle *models.SupportPlanCycle
	rollover := func() error {
		var err error
		cycle, _, err = s.plans.StartNewCycle(ctx, recipientID, startDate)
		return err
	}

	if s.locker != nil {
		lockKey := "cycle-rollover:" + recipientID.String()
		if err := s.locker.WithLock(ctx, lockKey, rolloverLockTTL, rollover); err != nil {
			if err == redis.ErrLockNotAcquired {
				return nil, httperror.NewHTTPError(http.StatusConflict, "a cycle rollover is already in progress")
			}
			return nil, err
		}
	} else if err := rollover(); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, audit.Event{
		Actor:      actor,
		Action:     models.AuditActionCycleStarted,
		TargetType: "support_plan_cycle",
		TargetID:   cycle.ID,
		OfficeID:   cycle.OfficeID,
		Details:    map[string]any{"recipient_id": recipientID, "cycle_number": cycle.CycleNumber},
	}); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to audit cycle start")
	}

	metrics.CyclesStarted.Inc()
	s.emitter.CycleStarted(ctx, actor, cycle)

	return cycle, nil
}

// RegisterRecipient creates a recipient together with cycle 1 and its
// step set, atomically.
func (s *Service) RegisterRecipient(ctx context.Context, actor models.Actor, req models.RegisterRecipientRequest) (*models.WelfareRecipient, *models.SupportPlanCycle, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Service.RegisterRecipient")
	defer span.End()

	if actor.OfficeID == nil {
		return nil, nil, httperror.NewHTTPError(http.StatusForbidden, "actor has no office")
	}

	_, tx, err := s.plans.DB().GetTx(ctx, nil)
	if err != nil {
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	rec := &models.WelfareRecipient{
		OfficeID:  *actor.OfficeID,
		Name:      req.Name,
		Furigana:  req.Furigana,
		BirthDate: req.BirthDate,
	}
	rec, err = s.recipients.CreateTx(ctx, tx, rec)
	if err != nil {
		return nil, nil, err
	}

	cycle := &models.SupportPlanCycle{
		RecipientID:            rec.ID,
		OfficeID:               rec.OfficeID,
		CycleNumber:            1,
		IsLatestCycle:          true,
		PlanCycleStartDate:     req.CycleStartDate,
		MonitoringDeadlineDays: models.MonitoringDeadlineDaysDefault,
	}
	cycle, err = s.plans.InsertCycleTx(ctx, tx, cycle)
	if err != nil {
		return nil, nil, err
	}

	if _, err = s.plans.InsertStepsTx(ctx, tx, cycle.ID); err != nil {
		return nil, nil, err
	}

	if err := s.audit.RecordTx(ctx, tx, audit.Event{
		Actor:      actor,
		Action:     models.AuditActionRecipientCreated,
		TargetType: "welfare_recipient",
		TargetID:   rec.ID,
		OfficeID:   rec.OfficeID,
		Details:    map[string]any{"cycle_id": cycle.ID},
	}); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit transaction")
	}

	s.emitter.RecipientCreated(ctx, actor, rec)

	return rec, cycle, nil
}

// ListRecipients returns the actor's office roster
func (s *Service) ListRecipients(ctx context.Context, actor models.Actor, limit, offset int) ([]models.WelfareRecipient, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Service.ListRecipients")
	defer span.End()

	if actor.OfficeID == nil {
		return nil, httperror.NewHTTPError(http.StatusForbidden, "actor has no office")
	}

	return s.recipients.ListByOffice(ctx, *actor.OfficeID, limit, offset)
}

// GetRecipientPlan assembles the read model for one recipient: every
// cycle, its steps with resolved names and deliverables, and deadline
// urgency computed as of now.
func (s *Service) GetRecipientPlan(ctx context.Context, actor models.Actor, recipientID uuid.UUID, now time.Time) (*models.RecipientPlanView, error) {
	ctx, span := tracing.StartSpan(ctx, "supportplan.Service.GetRecipientPlan")
	defer span.End()

	rec, err := s.recipients.Get(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAppAdmin && !actor.MemberOf(rec.OfficeID) {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("recipient %s not found", recipientID))
	}

	cycles, err := s.plans.ListCyclesByRecipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	cycleIDs := make([]uuid.UUID, len(cycles))
	for i, c := range cycles {
		cycleIDs[i] = c.ID
	}

	steps, err := s.plans.ListStepsByCycleIDs(ctx, cycleIDs)
	if err != nil {
		return nil, err
	}

	var deliverableIDs []uuid.UUID
	for _, step := range steps {
		if step.DeliverableID != nil {
			deliverableIDs = append(deliverableIDs, *step.DeliverableID)
		}
	}

	artifacts, err := s.plans.ListDeliverables(ctx, deliverableIDs)
	if err != nil {
		return nil, err
	}
	artifactsByID := make(map[uuid.UUID]models.Deliverable, len(artifacts))
	for _, d := range artifacts {
		artifactsByID[d.ID] = d
	}

	stepsByCycle := make(map[uuid.UUID][]models.StepStatus, len(cycles))
	for _, step := range steps {
		stepsByCycle[step.CycleID] = append(stepsByCycle[step.CycleID], step)
	}

	view := &models.RecipientPlanView{
		Recipient: *rec,
		Cycles:    make([]models.CycleView, 0, len(cycles)),
	}

	for _, cycle := range cycles {
		cv := models.CycleView{SupportPlanCycle: cycle}

		renewal := deadline.RenewalDeadline(cycle.PlanCycleStartDate)
		remaining := deadline.DaysRemaining(renewal, now)
		cv.RenewalDeadline = renewal
		cv.RenewalDaysRemaining = remaining
		cv.RenewalUrgency = string(deadline.TierFor(remaining))

		if cycle.IsLatestCycle && cycle.MonitoringDueDate != nil {
			monRemaining := deadline.DaysRemaining(*cycle.MonitoringDueDate, now)
			monUrgency := string(deadline.TierFor(monRemaining))
			cv.MonitoringDaysRemaining = &monRemaining
			cv.MonitoringUrgency = &monUrgency
		}

		for _, step := range stepsByCycle[cycle.ID] {
			sv := models.StepView{
				StepStatus:   step,
				ResolvedName: step.StepType.Resolve(cycle.CycleNumber),
			}
			if step.DeliverableID != nil {
				if d, ok := artifactsByID[*step.DeliverableID]; ok {
					sv.Deliverable = &d
				}
			}
			cv.Steps = append(cv.Steps, sv)
		}

		view.Cycles = append(view.Cycles, cv)
	}

	return view, nil
}
