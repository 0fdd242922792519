package settings

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
)

func TestHandler_GetAndUpdate(t *testing.T) {
	h := NewHandler(NewService(&mockRepo{}))
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil), rec)
	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := `{"clinic_name":"Fisio Sur","currency":"PEN","time_zone":"America/Lima",
		"payment_methods":["cash","yape"],"document_types":["DNI"],
		"low_stock_threshold":3,"default_appointment_minutes":45}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/settings", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	if err := h.Update(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var st Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.DefaultAppointmentMinutes != 45 || st.UpdatedAt == nil {
		t.Errorf("unexpected response %+v", st)
	}
}

func TestHandler_UpdateInvalid(t *testing.T) {
	h := NewHandler(NewService(&mockRepo{}))
	e := echo.New()

	req := httptest.NewRequest(http.MethodPut, "/api/v1/settings", strings.NewReader(`{"clinic_name":""}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	if err := h.Update(c); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
