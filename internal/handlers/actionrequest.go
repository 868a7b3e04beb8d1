package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/approval"
	"github.com/Ramsey-B/clover/pkg/models"
)

// RequestHandler handles action request API endpoints
type RequestHandler struct {
	engine *approval.Engine
	logger ectologger.Logger
}

// NewRequestHandler creates a new action request handler
func NewRequestHandler(engine *approval.Engine, logger ectologger.Logger) *RequestHandler {
	return &RequestHandler{
		engine: engine,
		logger: logger,
	}
}

// Register registers action request routes
func (h *RequestHandler) Register(g *echo.Group) {
	g.POST("", h.Submit)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PATCH("/:id/approve", h.Approve)
	g.PATCH("/:id/reject", h.Reject)
	g.DELETE("/:id", h.Delete)
}

// Submit creates a pending action request
func (h *RequestHandler) Submit(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RequestHandler.Submit")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	actor, err := GetActor(c)
	if err != nil {
		return err
	}

	var req models.SubmitRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if req.ResourceType == "" || req.ActionType == "" || len(req.RequestData) == 0 {
		return BadRequest("resource_type, action_type and request_data are required")
	}

	request, err := h.engine.Submit(ctx, actor, req)
	if err != nil {
		return err
	}

	return CreatedResponse(c, request)
}

// List returns requests visible to the actor
func (h *RequestHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RequestHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	actor, err := GetActor(c)
	if err != nil {
		return err
	}

	var query models.RequestQuery

	if v := c.QueryParam("status"); v != "" {
		status := models.RequestStatus(v)
		query.Status = &status
	}
	if v := c.QueryParam("resource_type"); v != "" {
		resourceType := models.ResourceType(v)
		if !resourceType.Valid() {
			return BadRequest("invalid resource_type")
		}
		query.ResourceType = &resourceType
	}
	if v := c.QueryParam("requested_by"); v != "" {
		requestedBy, err := uuid.Parse(v)
		if err != nil {
			return BadRequest("invalid requested_by")
		}
		query.RequestedBy = &requestedBy
	}
	if v := c.QueryParam("office_id"); v != "" {
		officeID, err := uuid.Parse(v)
		if err != nil {
			return BadRequest("invalid office_id")
		}
		query.OfficeID = &officeID
	}
	query.Limit = intQueryParam(c, "limit")
	query.Offset = intQueryParam(c, "offset")

	requests, err := h.engine.List(ctx, actor, query)
	if err != nil {
		return err
	}

	return SuccessResponse(c, requests)
}

// Get returns one request
func (h *RequestHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RequestHandler.Get")
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

	request, err := h.engine.Get(ctx, actor, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, request)
}

// Approve applies a pending request
func (h *RequestHandler) Approve(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RequestHandler.Approve")
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

	var req models.ReviewRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	request, err := h.engine.Approve(ctx, actor, id, req.Notes)
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).Infof("Approved request: %s", id)
	return SuccessResponse(c, request)
}

// Reject marks a pending request rejected
func (h *RequestHandler) Reject(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RequestHandler.Reject")
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

	var req models.ReviewRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	request, err := h.engine.Reject(ctx, actor, id, req.Notes)
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).Infof("Rejected request: %s", id)
	return SuccessResponse(c, request)
}

// Delete removes a pending request
func (h *RequestHandler) Delete(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RequestHandler.Delete")
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

	if err := h.engine.Delete(ctx, actor, id); err != nil {
		return err
	}

	return NoContentResponse(c)
}
