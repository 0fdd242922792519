package reporting

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/search"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes exposes reports to the front desk and administrators.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleReceptionist))
	g.GET("/dashboard/stats", h.Dashboard)
	g.GET("/reports/measures", h.ListMeasures)
	g.GET("/reports/measures/:id/evaluate", h.EvaluateMeasure)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

func (h *Handler) EvaluateMeasure(c echo.Context) error {
	from, to, err := periodParams(c)
	if err != nil {
		return err
	}
	report, err := h.svc.Evaluate(c.Request().Context(), c.Param("id"), from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) Dashboard(c echo.Context) error {
	from, to, err := periodParams(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.Dashboard(c.Request().Context(), from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// periodParams reads from/to. A bare date as "to" covers that whole day.
func periodParams(c echo.Context) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if v := c.QueryParam("from"); v != "" {
		t, _, err := search.ParseDate(v)
		if err != nil {
			return nil, nil, apperr.Validation("invalid from: %v", err)
		}
		from = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, dateOnly, err := search.ParseDate(v)
		if err != nil {
			return nil, nil, apperr.Validation("invalid to: %v", err)
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		to = &t
	}
	return from, to, nil
}
