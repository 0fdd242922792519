package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/360EntSecGroup-Skylar/excelize"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
)

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_CreateAbono(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"patient_id":"`+f.patient.String()+`","amount":80,"method":"cash"}`), rec)
	if err := h.CreateAbono(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var a Abono
	json.Unmarshal(rec.Body.Bytes(), &a)
	if a.RemainingAmount != 80 {
		t.Errorf("expected remaining 80, got %v", a.RemainingAmount)
	}
}

func TestHandler_GetAbonoInvalidID(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if err := h.GetAbono(c); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_ListPatientAbonos(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()
	f.abono(t, 10)
	f.abono(t, 20)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?status=active", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(f.patient.String())
	if err := h.ListPatientAbonos(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 2 {
		t.Errorf("expected 2 abonos, got %d", resp.Total)
	}
}

func TestHandler_CreatePaymentWithoutTarget(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()

	c := e.NewContext(jsonRequest(http.MethodPost, `{"amount":10,"method":"cash"}`), httptest.NewRecorder())
	if err := h.CreatePayment(c); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_CreateSaleAndPay(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	body := `{"items":[{"product_id":"` + f.gauze.ID.String() + `","quantity":2}]}`
	if err := h.CreateSale(e.NewContext(jsonRequest(http.MethodPost, body), rec)); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	var s Sale
	json.Unmarshal(rec.Body.Bytes(), &s)
	if s.Total != 5 {
		t.Fatalf("expected total 5, got %v", s.Total)
	}

	rec = httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"amount":5,"method":"card"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(s.ID.String())
	if err := h.PaySale(c); err != nil {
		t.Fatalf("pay sale: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_VoidUnknownPayment(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if err := h.VoidPayment(c); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestHandler_ExportPayments(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()
	appt := uuid.New()
	f.svc.RecordPayment(context.Background(), &Payment{AppointmentID: &appt, Amount: 42.5, Method: "transfer"})

	rec := httptest.NewRecorder()
	if err := h.ExportPayments(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != xlsxMIME {
		t.Errorf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), ".xlsx") {
		t.Errorf("expected an xlsx attachment, got %q", rec.Header().Get(echo.HeaderContentDisposition))
	}

	book, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	if got := book.GetCellValue(paymentsSheet, "A1"); got != "Paid at" {
		t.Errorf("expected header, got %q", got)
	}
	if got := book.GetCellValue(paymentsSheet, "E2"); got != "transfer" {
		t.Errorf("expected method transfer, got %q", got)
	}
	if got := book.GetCellValue(paymentsSheet, "C2"); got != "appointment "+appt.String() {
		t.Errorf("unexpected target %q", got)
	}
}
