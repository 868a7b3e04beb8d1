package middleware

import (
	"net/http"

	"github.com/Gobusters/ectologger"
	utils "github.com/Ramsey-B/stem/pkg/context"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/internal/handlers"
	"github.com/Ramsey-B/clover/internal/repositories/staff"
	"github.com/Ramsey-B/clover/pkg/models"
)

// ActorResolver loads the staff record behind the authenticated user ID
// and attaches it to the request as the acting identity. Soft-deleted
// staff resolve to nothing and are rejected.
func ActorResolver(staffRepo *staff.Repository, logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			ctx, span := tracing.StartSpan(ctx, "middleware.ActorResolver")
			defer span.End()

			userID := utils.GetUserID(ctx)
			if userID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}

			staffID, err := uuid.Parse(userID)
			if err != nil {
				logger.WithContext(ctx).WithFields(map[string]any{"user_id": userID}).Warn("user id is not a valid staff id")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
			}

			member, err := staffRepo.Get(ctx, staffID)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "unknown staff identity")
			}

			actor := models.ActorFromStaff(member)
			if actor.OfficeID != nil {
				ctx = utils.SetTenantID(ctx, actor.OfficeID.String())
			}

			c.Set(handlers.ActorContextKey, actor)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
