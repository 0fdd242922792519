package settings

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/settings", h.Get)
	api.PUT("/settings", h.Update, auth.RequireRole(auth.RoleAdmin))
}

func (h *Handler) Get(c echo.Context) error {
	st, err := h.svc.Get(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Update(c echo.Context) error {
	var st Settings
	if err := c.Bind(&st); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := h.svc.Update(c.Request().Context(), &st); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}
