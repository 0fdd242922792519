package appointment

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/domain/billing"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/search"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/appointments", h.List)
	api.GET("/appointments/:id", h.Get)
	api.GET("/appointments/:id/detail", h.Detail)
	api.GET("/patients/:id/appointments", h.ListByPatient)
	api.GET("/workers/:id/appointments", h.ListByWorker)
	api.GET("/workers/:id/stats", h.WorkerStats)
	api.POST("/appointments/quote", h.Quote)

	desk := api.Group("", auth.RequireRole(auth.RoleReceptionist))
	desk.POST("/appointments", h.Create)
	desk.PUT("/appointments/:id", h.Update)
	desk.POST("/appointments/:id/payments", h.RegisterPayment)
	desk.POST("/appointments/:id/cancel", h.Cancel)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/appointments/:id", h.Delete)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func bindRequest(c echo.Context) (Request, error) {
	var req Request
	if err := c.Bind(&req); err != nil {
		return req, apperr.Validation("invalid request body: %v", err)
	}
	return req, nil
}

func (h *Handler) Quote(c echo.Context) error {
	req, err := bindRequest(c)
	if err != nil {
		return err
	}
	q, err := h.svc.Quote(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) Create(c echo.Context) error {
	req, err := bindRequest(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Detail(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Detail(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	req, err := bindRequest(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Update(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RegisterPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in billing.PaymentInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	p, err := h.svc.RegisterPayment(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req CancelRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	a, err := h.svc.Cancel(c.Request().Context(), id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func page(c echo.Context, items []*Appointment, total int, pg pagination.Params) error {
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), pg.Filters, pg.Sort, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return page(c, items, total, pg)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), id, pg.Filters, pg.Sort, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return page(c, items, total, pg)
}

func (h *Handler) ListByWorker(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByWorker(c.Request().Context(), id, pg.Filters, pg.Sort, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return page(c, items, total, pg)
}

func (h *Handler) WorkerStats(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	from, err := periodBound(c.QueryParam("from"), false)
	if err != nil {
		return err
	}
	to, err := periodBound(c.QueryParam("to"), true)
	if err != nil {
		return err
	}
	stats, err := h.svc.WorkerStats(c.Request().Context(), id, from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// periodBound parses a from/to query value. A bare date as upper bound
// includes the whole day.
func periodBound(v string, upper bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, dateOnly, err := search.ParseDate(v)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	if upper && dateOnly {
		t = t.AddDate(0, 0, 1)
	}
	return &t, nil
}
