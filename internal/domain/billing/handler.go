package billing

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/abonos", h.ListAbonos)
	api.GET("/abonos/:id", h.GetAbono)
	api.GET("/abonos/:id/usages", h.ListUsages)
	api.GET("/patients/:id/abonos", h.ListPatientAbonos)
	api.GET("/sales", h.ListSales)
	api.GET("/sales/:id", h.GetSale)

	desk := api.Group("", auth.RequireRole(auth.RoleReceptionist))
	desk.POST("/abonos", h.CreateAbono)
	desk.POST("/abonos/:id/cancel", h.CancelAbono)
	desk.GET("/payments", h.ListPayments)
	desk.GET("/payments/export", h.ExportPayments)
	desk.GET("/payments/:id", h.GetPayment)
	desk.POST("/payments", h.CreatePayment)
	desk.POST("/sales", h.CreateSale)
	desk.POST("/sales/:id/cancel", h.CancelSale)
	desk.POST("/sales/:id/payments", h.PaySale)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/payments/:id/void", h.VoidPayment)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

// ---- Abono ----

func (h *Handler) CreateAbono(c echo.Context) error {
	var a Abono
	if err := c.Bind(&a); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	if err := h.svc.CreateAbono(c.Request().Context(), &a); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAbono(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAbono(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAbonos(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchAbonos(c.Request().Context(), pg.Filters, pg.Sort, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Abono{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListPatientAbonos(c echo.Context) error {
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatientAbonos(c.Request().Context(), patientID, pg.Filters, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Abono{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListUsages(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListUsages(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*AbonoUsage{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CancelAbono(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.CancelAbono(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

// ---- Payment ----

func (h *Handler) CreatePayment(c echo.Context) error {
	var req PaymentRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	p, err := h.svc.Pay(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPayment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPayments(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchPayments(c.Request().Context(), pg.Filters, pg.Sort, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Payment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) VoidPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.VoidPayment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// ExportPayments accepts the same filters as ListPayments.
func (h *Handler) ExportPayments(c echo.Context) error {
	pg := pagination.FromContext(c)
	data, err := h.svc.ExportPayments(c.Request().Context(), pg.Filters, pg.Sort)
	if err != nil {
		return err
	}
	name := "payments-" + time.Now().Format("20060102") + ".xlsx"
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Blob(http.StatusOK, xlsxMIME, data)
}

// ---- Sale ----

func (h *Handler) CreateSale(c echo.Context) error {
	var req SaleRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	s, err := h.svc.CreateSale(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) GetSale(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	s, err := h.svc.GetSale(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) ListSales(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchSales(c.Request().Context(), pg.Filters, pg.Sort, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Sale{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CancelSale(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req CancelRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	s, err := h.svc.CancelSale(c.Request().Context(), id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) PaySale(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in PaymentInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	p, err := h.svc.PaySale(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}
