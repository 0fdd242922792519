package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
)

var testKey = []byte("test-signing-key-with-enough-bytes!!")

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc, auth.NewTokenIssuer(testKey, "clinic-test", time.Hour)), echo.New()
}

func TestHandler_Login(t *testing.T) {
	h, e := newTestHandler()
	w := &Worker{FirstName: "Jorge", LastName: "Salas", Role: auth.RoleReceptionist, HasSystemAccess: true,
		Username: strPtr("jsalas"), Password: "s3cret-pass"}
	if err := h.svc.Create(context.Background(), w); err != nil {
		t.Fatalf("setup: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"jsalas","password":"s3cret-pass"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(context.WithValue(req.Context(), db.TenantIDKey, "north"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Login(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Contains(rec.Body.String(), "password") && strings.Contains(rec.Body.String(), "$2a$") {
		t.Error("password hash leaked in login response")
	}

	claims := &auth.Claims{}
	_, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) { return testKey, nil })
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Subject != w.ID.String() || claims.TenantID != "north" {
		t.Errorf("unexpected claims %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != auth.RoleReceptionist {
		t.Errorf("unexpected roles %v", claims.Roles)
	}
}

func TestHandler_LoginRejected(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"nobody","password":"whatever1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Login(c)
	if status, _ := apperr.Status(err); status != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d (%v)", status, err)
	}
}

func TestHandler_CreateHidesPassword(t *testing.T) {
	h, e := newTestHandler()

	body := `{"first_name":"Rosa","last_name":"Huamán","has_system_access":true,"username":"rosa","password":"s3cret-pass"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workers", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "s3cret-pass") || strings.Contains(rec.Body.String(), "$2a$") {
		t.Errorf("credentials leaked: %s", rec.Body.String())
	}
}

func TestHandler_UpdateInvalidID(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{}`)), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("x")
	if err := h.Update(c); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
