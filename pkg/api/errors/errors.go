// Package errors maps the closed set of failure kinds onto the uniform
// {success, message} envelope. Every failure a handler can hit collapses
// into one of these helpers; none of them retries or panics.
package errors

import (
	"log"
	"net/http"

	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	"github.com/quillbox/quillbox/pkg/models"
)

// QuotaDenied returns a quota policy denial. Denials are expected,
// user-facing outcomes; the reason string is surfaced verbatim.
func QuotaDenied(c echo.Context, reason string) error {
	return c.JSON(http.StatusForbidden, models.Envelope{
		Success: false,
		Message: reason,
	})
}

// Validation returns a request validation failure. Checked before any
// expensive work, so no side effects exist at this point.
func Validation(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, models.Envelope{
		Success: false,
		Message: message,
	})
}

// Upstream returns a failed outbound provider call. The error text is
// surfaced as the message; transient and permanent failures are not
// distinguished to the client.
func Upstream(c echo.Context, err error) error {
	capture(c, "upstream", err)

	return c.JSON(http.StatusBadGateway, models.Envelope{
		Success: false,
		Message: err.Error(),
	})
}

// Persistence returns a failed store or counter write. Any already
// completed generation work is lost; there is no rollback.
func Persistence(c echo.Context, err error) error {
	capture(c, "persistence", err)

	return c.JSON(http.StatusInternalServerError, models.Envelope{
		Success: false,
		Message: "Failed to save your creation. Please try again later.",
	})
}

// capture logs the real error server-side and reports it to Sentry when
// the middleware is installed.
func capture(c echo.Context, kind string, err error) {
	log.Printf("[%s ERROR] Path: %s, Error: %v", kind, c.Request().URL.Path, err)

	if hub := sentryecho.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
	}
}
