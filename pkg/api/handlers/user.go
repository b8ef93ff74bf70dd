package handlers

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/quillbox/quillbox/pkg/api/errors"
	"github.com/quillbox/quillbox/pkg/creations"
	"github.com/quillbox/quillbox/pkg/models"
	"github.com/quillbox/quillbox/pkg/quota"
)

// CreationReader serves the dashboard and gallery reads plus the like
// toggle.
type CreationReader interface {
	ListByUser(ctx context.Context, userID string) ([]models.Creation, error)
	ListPublished(ctx context.Context) ([]models.Creation, error)
	ToggleLike(ctx context.Context, id int64, userID string) (liked bool, likes []string, err error)
}

// UserHandler handles the user-scoped read endpoints
type UserHandler struct {
	creations CreationReader
	validator *validator.Validate
}

// NewUserHandler creates a new user handler
func NewUserHandler(creations CreationReader) *UserHandler {
	return &UserHandler{
		creations: creations,
		validator: validator.New(),
	}
}

// GetCreations handles GET /api/user/creations
func (h *UserHandler) GetCreations(c echo.Context) error {
	p, ok := principalFrom(c)
	if !ok {
		return unauthorized(c)
	}

	creations, err := h.creations.ListByUser(c.Request().Context(), p.ID)
	if err != nil {
		return errors.Persistence(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":   true,
		"creations": creations,
	})
}

// GetPublishedCreations handles GET /api/user/published-creations
func (h *UserHandler) GetPublishedCreations(c echo.Context) error {
	if _, ok := principalFrom(c); !ok {
		return unauthorized(c)
	}

	creations, err := h.creations.ListPublished(c.Request().Context())
	if err != nil {
		return errors.Persistence(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":   true,
		"creations": creations,
	})
}

// ToggleLikeCreation handles POST /api/user/toggle-like-creation
func (h *UserHandler) ToggleLikeCreation(c echo.Context) error {
	p, ok := principalFrom(c)
	if !ok {
		return unauthorized(c)
	}

	var req models.ToggleLikeRequest
	if err := c.Bind(&req); err != nil {
		return errors.Validation(c, "Invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return errors.Validation(c, "A creation id is required")
	}

	liked, _, err := h.creations.ToggleLike(c.Request().Context(), req.ID, p.ID)
	if err != nil {
		if stderrors.Is(err, creations.ErrNotFound) {
			return errors.Validation(c, "Creation not found")
		}
		return errors.Persistence(c, err)
	}

	message := "Creation unliked"
	if liked {
		message = "Creation liked"
	}

	return c.JSON(http.StatusOK, models.Envelope{
		Success: true,
		Message: message,
	})
}

// GetUsage handles GET /api/user/usage
func (h *UserHandler) GetUsage(c echo.Context) error {
	p, ok := principalFrom(c)
	if !ok {
		return unauthorized(c)
	}

	info := models.UsageInfo{
		Plan:      string(p.Plan),
		FreeUsage: p.FreeUsage,
		FreeLimit: quota.FreeUsageLimit,
	}
	if remaining := quota.FreeUsageLimit - p.FreeUsage; remaining > 0 {
		info.Remaining = remaining
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"usage":   info,
	})
}
