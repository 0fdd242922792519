package packages

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/packages", h.ListPackages)
	api.GET("/packages/:id", h.GetPackage)
	api.GET("/patients/:id/packages", h.ListPatientPackages)
	api.GET("/patient-packages/:id", h.GetPatientPackage)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/packages", h.CreatePackage)
	admin.PUT("/packages/:id", h.UpdatePackage)
	admin.DELETE("/packages/:id", h.DeletePackage)

	desk := api.Group("", auth.RequireRole(auth.RoleReceptionist))
	desk.POST("/patients/:id/packages", h.Purchase)
	desk.POST("/patient-packages/:id/payments", h.PayDebt)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func (h *Handler) CreatePackage(c echo.Context) error {
	var p Package
	if err := c.Bind(&p); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	if err := h.svc.CreatePackage(c.Request().Context(), &p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPackage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPackage(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPackages(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchPackages(c.Request().Context(), pg.Filters, pg.Sort, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Package{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePackage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p Package
	if err := c.Bind(&p); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	p.ID = id
	if err := h.svc.UpdatePackage(c.Request().Context(), &p); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePackage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePackage(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListPatientPackages(c echo.Context) error {
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListByPatient(c.Request().Context(), patientID, c.QueryParam("status"))
	if err != nil {
		return err
	}
	if items == nil {
		items = []*PatientPackage{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetPatientPackage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pp, err := h.svc.GetPatientPackage(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pp)
}

func (h *Handler) Purchase(c echo.Context) error {
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	var req PurchaseRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	pp, err := h.svc.PurchaseWithPayment(c.Request().Context(), patientID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, pp)
}

func (h *Handler) PayDebt(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req DebtPaymentRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	pp, err := h.svc.PayDebt(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pp)
}
