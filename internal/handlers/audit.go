package handlers

import (
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/internal/repositories/auditlog"
	"github.com/Ramsey-B/clover/pkg/models"
)

// AuditHandler handles audit log query endpoints
type AuditHandler struct {
	repo   *auditlog.Repository
	logger ectologger.Logger
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(repo *auditlog.Repository, logger ectologger.Logger) *AuditHandler {
	return &AuditHandler{
		repo:   repo,
		logger: logger,
	}
}

// Register registers audit routes
func (h *AuditHandler) Register(g *echo.Group) {
	g.GET("", h.Query)
}

// Query returns audit entries. Privileged actors only; anyone short of
// app_admin is pinned to their own office.
func (h *AuditHandler) Query(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "AuditHandler.Query")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	actor, err := GetActor(c)
	if err != nil {
		return err
	}
	if !actor.Privileged() {
		return Forbidden("audit log access requires a privileged role")
	}

	var query models.AuditQuery

	if actor.Role != models.RoleAppAdmin {
		query.OfficeID = actor.OfficeID
	} else if v := c.QueryParam("office_id"); v != "" {
		officeID, err := uuid.Parse(v)
		if err != nil {
			return BadRequest("invalid office_id")
		}
		query.OfficeID = &officeID
	}

	query.TargetType = c.QueryParam("target_type")
	query.Action = c.QueryParam("action")
	if v := c.QueryParam("actor_id"); v != "" {
		actorID, err := uuid.Parse(v)
		if err != nil {
			return BadRequest("invalid actor_id")
		}
		query.ActorID = &actorID
	}
	if v := c.QueryParam("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return BadRequest("invalid from timestamp")
		}
		query.From = &from
	}
	if v := c.QueryParam("to"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return BadRequest("invalid to timestamp")
		}
		query.To = &to
	}
	query.Limit = intQueryParam(c, "limit")
	query.Offset = intQueryParam(c, "offset")

	entries, err := h.repo.Query(ctx, query)
	if err != nil {
		return err
	}

	return SuccessResponse(c, entries)
}
