package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/pkg/pagination"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func TestHandler_CreateProduct(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products", strings.NewReader(`{"name":"Compresa fría","price":15,"stock":3}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateProduct(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_AdjustStock(t *testing.T) {
	h, e := newTestHandler()
	p := &Product{Name: "Compresa", Stock: 2}
	h.svc.CreateProduct(context.Background(), p)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"delta":-5}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	err := h.AdjustStock(c)
	if status, code := apperr.Status(err); status != http.StatusConflict || code != apperr.CodeInsufficientStock {
		t.Errorf("expected 409 INSUFFICIENT_STOCK, got %d %s", status, code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"delta":4,"note":"compra"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.AdjustStock(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var m StockMovement
	json.Unmarshal(rec.Body.Bytes(), &m)
	if m.StockAfter != 6 {
		t.Errorf("expected stock 6, got %d", m.StockAfter)
	}
}

func TestHandler_ListMovements(t *testing.T) {
	h, e := newTestHandler()
	p := &Product{Name: "Compresa", Stock: 2}
	h.svc.CreateProduct(context.Background(), p)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.ListMovements(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp pagination.Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("expected 1 movement, got %d", resp.Total)
	}
}

func TestHandler_GetProductInvalidID(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("abc")
	if err := h.GetProduct(c); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
