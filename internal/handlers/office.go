package handlers

import (
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/internal/repositories/office"
	"github.com/Ramsey-B/clover/internal/repositories/staff"
	"github.com/Ramsey-B/clover/pkg/audit"
	"github.com/Ramsey-B/clover/pkg/models"
)

// OfficeHandler handles office onboarding and staff account endpoints.
// Role changes after creation go through the approval workflow; this
// surface only covers initial setup.
type OfficeHandler struct {
	offices *office.Repository
	staff   *staff.Repository
	audit   *audit.Writer
	logger  ectologger.Logger
}

// NewOfficeHandler creates a new office handler
func NewOfficeHandler(offices *office.Repository, staffRepo *staff.Repository, auditWriter *audit.Writer, logger ectologger.Logger) *OfficeHandler {
	return &OfficeHandler{
		offices: offices,
		staff:   staffRepo,
		audit:   auditWriter,
		logger:  logger,
	}
}

// Register registers office routes
func (h *OfficeHandler) Register(g *echo.Group) {
	g.POST("", h.CreateOffice)
	g.GET("/:id", h.GetOffice)
	g.POST("/:id/staff", h.CreateStaff)
	g.GET("/:id/staff", h.ListStaff)
}

// CreateOfficeRequest is the payload for onboarding a new office.
type CreateOfficeRequest struct {
	Name       string            `json:"name" validate:"required"`
	OfficeType models.OfficeType `json:"office_type" validate:"required"`
}

// CreateStaffRequest is the payload for creating a staff account.
type CreateStaffRequest struct {
	Name  string      `json:"name" validate:"required"`
	Email string      `json:"email" validate:"required,email"`
	Role  models.Role `json:"role" validate:"required"`
}

// CreateOffice onboards a new tenant office
func (h *OfficeHandler) CreateOffice(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "OfficeHandler.CreateOffice")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	actor, err := GetActor(c)
	if err != nil {
		return err
	}
	if actor.Role != models.RoleAppAdmin {
		return Forbidden("only app administrators may onboard offices")
	}

	var req CreateOfficeRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return BadRequest(err.Error())
	}
	switch req.OfficeType {
	case models.OfficeTypeTransitionToEmployment, models.OfficeTypeContinuousSupportA, models.OfficeTypeContinuousSupportB:
	default:
		return BadRequest("invalid office_type")
	}

	created, err := h.offices.Create(ctx, &models.Office{
		Name:       req.Name,
		OfficeType: req.OfficeType,
	})
	if err != nil {
		return err
	}

	if err := h.audit.Record(ctx, audit.Event{
		Actor:      actor,
		Action:     "office.created",
		TargetType: "office",
		TargetID:   created.ID,
		OfficeID:   created.ID,
		Details:    map[string]any{"name": created.Name, "office_type": created.OfficeType},
	}); err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("failed to audit office creation")
	}

	return CreatedResponse(c, created)
}

// GetOffice returns one office
func (h *OfficeHandler) GetOffice(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "OfficeHandler.GetOffice")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	actor, err := GetActor(c)
	if err != nil {
		return err
	}

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	if actor.Role != models.RoleAppAdmin && !actor.MemberOf(id) {
		return httperror.NewHTTPError(http.StatusNotFound, "office not found")
	}

	found, err := h.offices.Get(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, found)
}

// CreateStaff creates a staff account within an office
func (h *OfficeHandler) CreateStaff(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "OfficeHandler.CreateStaff")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	actor, err := GetActor(c)
	if err != nil {
		return err
	}

	officeID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req CreateStaffRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return BadRequest(err.Error())
	}
	if !req.Role.Valid() || req.Role == models.RoleAppAdmin {
		return BadRequest("role must be owner, manager or employee")
	}

	switch {
	case actor.Role == models.RoleAppAdmin:
	case actor.Role == models.RoleOwner && actor.MemberOf(officeID):
		if req.Role == models.RoleOwner {
			return Forbidden("only app administrators may create owner accounts")
		}
	default:
		return Forbidden("not allowed to create staff in this office")
	}

	target, err := h.offices.Get(ctx, officeID)
	if err != nil {
		return err
	}
	if target.IsWithdrawn() {
		return httperror.NewHTTPError(http.StatusConflict, "office has been withdrawn")
	}

	created, err := h.staff.Create(ctx, &models.Staff{
		OfficeID: &officeID,
		Name:     req.Name,
		Email:    req.Email,
		Role:     req.Role,
	})
	if err != nil {
		return err
	}

	if err := h.audit.Record(ctx, audit.Event{
		Actor:      actor,
		Action:     "staff.created",
		TargetType: "staff",
		TargetID:   created.ID,
		OfficeID:   officeID,
		Details:    map[string]any{"role": created.Role, "email": created.Email},
	}); err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("failed to audit staff creation")
	}

	return CreatedResponse(c, created)
}

// ListStaff returns the active staff of an office
func (h *OfficeHandler) ListStaff(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "OfficeHandler.ListStaff")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	actor, err := GetActor(c)
	if err != nil {
		return err
	}

	officeID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	if actor.Role != models.RoleAppAdmin && !actor.MemberOf(officeID) {
		return httperror.NewHTTPError(http.StatusNotFound, "office not found")
	}

	members, err := h.staff.ListByOffice(ctx, officeID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, members)
}
