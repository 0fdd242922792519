package worker

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc    *Service
	tokens *auth.TokenIssuer
}

func NewHandler(svc *Service, tokens *auth.TokenIssuer) *Handler {
	return &Handler{svc: svc, tokens: tokens}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/login", h.Login)

	api.GET("/workers", h.List)
	api.GET("/workers/:id", h.Get)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/workers", h.Create)
	admin.PUT("/workers/:id", h.Update)
	admin.DELETE("/workers/:id", h.Delete)
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	ctx := c.Request().Context()
	w, err := h.svc.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return err
	}
	token, exp, err := h.tokens.Issue(w.ID.String(), w.FullName(), db.TenantFromContext(ctx), []string{w.Role})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, LoginResponse{Token: token, ExpiresAt: exp, Worker: w})
}

func (h *Handler) Create(c echo.Context) error {
	var w Worker
	if err := c.Bind(&w); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	if err := h.svc.Create(c.Request().Context(), &w); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	w, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), pg.Filters, pg.Sort, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Worker{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	var w Worker
	if err := c.Bind(&w); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	w.ID = id
	if err := h.svc.Update(c.Request().Context(), &w); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
