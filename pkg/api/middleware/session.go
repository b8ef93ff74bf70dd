package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/quillbox/quillbox/pkg/auth"
	"github.com/quillbox/quillbox/pkg/models"
)

// Context keys populated by SessionMiddleware.
const (
	CtxUserID    = "user_id"
	CtxUserEmail = "user_email"
	CtxUserPlan  = "user_plan"
	CtxFreeUsage = "free_usage"
)

// PrincipalStore loads the plan tag and free-usage counter for an
// authenticated subject.
type PrincipalStore interface {
	Get(ctx context.Context, userID string) (*models.Principal, error)
}

// SessionMiddleware validates the bearer session token and loads the
// principal's plan and free-usage counter into the request context.
// Every /api route sits behind this gate.
func SessionMiddleware(secret string, principals PrincipalStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, models.Envelope{
					Success: false,
					Message: "Authorization header is required",
				})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return c.JSON(http.StatusUnauthorized, models.Envelope{
					Success: false,
					Message: "Authorization header must be 'Bearer {token}'",
				})
			}

			claims, err := auth.ValidateSessionToken(parts[1], secret)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, models.Envelope{
					Success: false,
					Message: "Invalid or expired session token",
				})
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
			defer cancel()

			// Plan and usage are read fresh per request so that upgrades and
			// counter changes take effect immediately.
			p, err := principals.Get(ctx, claims.UserID)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, models.Envelope{
					Success: false,
					Message: "User account not found",
				})
			}

			c.Set(CtxUserID, p.ID)
			c.Set(CtxUserEmail, claims.Email)
			c.Set(CtxUserPlan, string(p.Plan))
			c.Set(CtxFreeUsage, p.FreeUsage)

			return next(c)
		}
	}
}
