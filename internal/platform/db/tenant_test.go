package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestExtractTenantID_FromHeader(t *testing.T) {
	c := newContext("/")
	c.Request().Header.Set(TenantHeader, "north_clinic")

	if tid := extractTenantID(c, "default"); tid != "north_clinic" {
		t.Errorf("expected north_clinic, got %s", tid)
	}
}

func TestExtractTenantID_FromQuery(t *testing.T) {
	c := newContext("/?tenant_id=south")
	if tid := extractTenantID(c, "default"); tid != "south" {
		t.Errorf("expected south, got %s", tid)
	}
}

func TestExtractTenantID_Default(t *testing.T) {
	c := newContext("/")
	if tid := extractTenantID(c, "default"); tid != "default" {
		t.Errorf("expected default, got %s", tid)
	}
}

func TestExtractTenantID_Priority(t *testing.T) {
	c := newContext("/?tenant_id=query")
	c.Request().Header.Set(TenantHeader, "header")
	c.Set("jwt_tenant_id", "jwt")

	if tid := extractTenantID(c, "default"); tid != "jwt" {
		t.Errorf("expected jwt (highest priority), got %s", tid)
	}
}

func TestValidTenantID(t *testing.T) {
	for _, v := range []string{"abc", "clinic_1", "A1B2"} {
		if !ValidTenantID(v) {
			t.Errorf("expected %q to be valid", v)
		}
	}
	for _, v := range []string{"a-b", "a.b", "a b", "'; DROP TABLE", ""} {
		if ValidTenantID(v) {
			t.Errorf("expected %q to be invalid", v)
		}
	}
}

func TestSchemaName(t *testing.T) {
	if got := SchemaName("north"); got != "clinic_north" {
		t.Errorf("expected clinic_north, got %s", got)
	}
}

func TestTenantMiddleware_RejectsInvalidTenant(t *testing.T) {
	c := newContext("/")
	c.Request().Header.Set(TenantHeader, "bad;tenant")

	h := TenantMiddleware(nil, "default", nil)(func(c echo.Context) error {
		t.Fatal("handler should not run")
		return nil
	})
	err := h(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestTenantMiddleware_Skipper(t *testing.T) {
	c := newContext("/health")
	called := false
	h := TenantMiddleware(nil, "default", func(echo.Context) bool { return true })(func(c echo.Context) error {
		called = true
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected skipped request to reach handler")
	}
}

func TestContextAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn from empty context")
	}
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx from empty context")
	}
	if TenantFromContext(ctx) != "" {
		t.Error("expected empty tenant from empty context")
	}
}

func TestTenantFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), TenantIDKey, "north")
	if tid := TenantFromContext(ctx); tid != "north" {
		t.Errorf("expected north, got %s", tid)
	}
}

func TestCreateTenantSchema_InvalidID(t *testing.T) {
	if err := CreateTenantSchema(context.Background(), nil, "invalid-id!", ""); err == nil {
		t.Error("expected error for invalid tenant ID")
	}
}

func TestWithTenant_InvalidID(t *testing.T) {
	err := WithTenant(context.Background(), nil, "x y", func(ctx context.Context) error { return nil })
	if err == nil {
		t.Error("expected error for invalid tenant ID")
	}
}

func TestNoTx(t *testing.T) {
	want := errors.New("fail")
	if err := (NoTx{}).WithinTx(context.Background(), func(ctx context.Context) error { return want }); err != want {
		t.Errorf("expected fn error to pass through, got %v", err)
	}
}
