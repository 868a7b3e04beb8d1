package handlers

import (
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/deliverables"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/supportplan"
)

// PlanHandler handles recipient and support plan API endpoints
type PlanHandler struct {
	service *supportplan.Service
	store   *deliverables.Store
	logger  ectologger.Logger
}

// NewPlanHandler creates a new support plan handler
func NewPlanHandler(service *supportplan.Service, store *deliverables.Store, logger ectologger.Logger) *PlanHandler {
	return &PlanHandler{
		service: service,
		store:   store,
		logger:  logger,
	}
}

// Register registers recipient and cycle routes
func (h *PlanHandler) Register(recipients, cycles *echo.Group) {
	recipients.POST("", h.RegisterRecipient)
	recipients.GET("", h.ListRecipients)
	recipients.GET("/:id/plan", h.GetPlan)
	recipients.POST("/:id/cycles", h.StartCycle)

	cycles.POST("/:id/steps/:step_type/complete", h.CompleteStep)
	cycles.PATCH("/:id/monitoring-deadline", h.SetMonitoringDeadline)
}

// RegisterRecipient creates a recipient and their first cycle
func (h *PlanHandler) RegisterRecipient(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "PlanHandler.RegisterRecipient")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	actor, err := GetActor(c)
	if err != nil {
		return err
	}

	var req models.RegisterRecipientRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if req.Name == "" {
		return BadRequest("name is required")
	}
	if req.CycleStartDate.IsZero() {
		return BadRequest("cycle_start_date is required")
	}

	recipient, cycle, err := h.service.RegisterRecipient(ctx, actor, req)
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).Infof("Registered recipient: %s", recipient.ID)
	return CreatedResponse(c, map[string]any{
		"recipient": recipient,
		"cycle":     cycle,
	})
}

// ListRecipients returns the actor's office roster
func (h *PlanHandler) ListRecipients(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "PlanHandler.ListRecipients")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	actor, err := GetActor(c)
	if err != nil {
		return err
	}

	recipients, err := h.service.ListRecipients(ctx, actor, intQueryParam(c, "limit"), intQueryParam(c, "offset"))
	if err != nil {
		return err
	}

	return SuccessResponse(c, recipients)
}

// GetPlan returns the full support plan read model for a recipient
func (h *PlanHandler) GetPlan(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "PlanHandler.GetPlan")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	actor, err := GetActor(c)
	if err != nil {
		return err
	}

	recipientID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	view, err := h.service.GetRecipientPlan(ctx, actor, recipientID, time.Now().UTC())
	if err != nil {
		return err
	}

	return SuccessResponse(c, view)
}

// StartCycleRequest is the cycle rollover request body
type StartCycleRequest struct {
	StartDate time.Time `json:"start_date" validate:"required"`
}

// StartCycle rolls a recipient over to their next cycle
func (h *PlanHandler) StartCycle(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "PlanHandler.StartCycle")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	actor, err := GetActor(c)
	if err != nil {
		return err
	}

	recipientID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req StartCycleRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if req.StartDate.IsZero() {
		return BadRequest("start_date is required")
	}

	cycle, err := h.service.StartNewCycle(ctx, actor, recipientID, req.StartDate)
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).Infof("Started cycle %d for recipient %s", cycle.CycleNumber, recipientID)
	return CreatedResponse(c, cycle)
}

// CompleteStep completes a step, optionally attaching a deliverable
// from a multipart "deliverable" form file. Employee calls return 202
// with the pending request instead of the completed step.
func (h *PlanHandler) CompleteStep(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "PlanHandler.CompleteStep")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	actor, err := GetActor(c)
	if err != nil {
		return err
	}

	cycleID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	stepType := models.StepType(c.Param("step_type"))
	if !stepType.Valid() {
		return BadRequest("invalid step_type")
	}

	var upload *models.DeliverableUpload
	if file, err := c.FormFile("deliverable"); err == nil && file != nil {
		src, err := file.Open()
		if err != nil {
			return BadRequest("unreadable deliverable")
		}
		defer src.Close()

		upload, err = h.store.Upload(ctx, cycleID, stepType, file.Filename, file.Size, file.Header.Get("Content-Type"), src)
		if err != nil {
			return err
		}
	}

	outcome, err := h.service.CompleteStep(ctx, actor, cycleID, stepType, upload)
	if err != nil {
		return err
	}

	if !outcome.Applied {
		return AcceptedResponse(c, outcome)
	}
	return SuccessResponse(c, outcome)
}

// SetDeadlineRequest is the monitoring deadline request body
type SetDeadlineRequest struct {
	Days    int        `json:"days" validate:"required"`
	DueDate *time.Time `json:"due_date,omitempty"`
}

// SetMonitoringDeadline configures the latest cycle's monitoring deadline
func (h *PlanHandler) SetMonitoringDeadline(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "PlanHandler.SetMonitoringDeadline")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	actor, err := GetActor(c)
	if err != nil {
		return err
	}

	cycleID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req SetDeadlineRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	outcome, err := h.service.SetMonitoringDeadline(ctx, actor, cycleID, req.Days, req.DueDate)
	if err != nil {
		return err
	}

	if !outcome.Applied {
		return AcceptedResponse(c, outcome)
	}
	return SuccessResponse(c, outcome)
}
