package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractTenantID_FromHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "planta_norte")
	c := e.NewContext(req, httptest.NewRecorder())

	if tid := extractTenantID(c, "default"); tid != "planta_norte" {
		t.Errorf("expected planta_norte, got %s", tid)
	}
}

func TestExtractTenantID_FromQuery(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?tenant_id=sede_sur", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	if tid := extractTenantID(c, "default"); tid != "sede_sur" {
		t.Errorf("expected sede_sur, got %s", tid)
	}
}

func TestExtractTenantID_Priority(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?tenant_id=query", nil)
	req.Header.Set("X-Tenant-ID", "header")
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("jwt_tenant_id", "jwt")

	if tid := extractTenantID(c, "default"); tid != "jwt" {
		t.Errorf("expected jwt (highest priority), got %s", tid)
	}

	c.Set("jwt_tenant_id", "")
	if tid := extractTenantID(c, "default"); tid != "header" {
		t.Errorf("expected header when jwt claim is empty, got %s", tid)
	}
}

func TestExtractTenantID_Default(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	if tid := extractTenantID(c, "default"); tid != "default" {
		t.Errorf("expected default, got %s", tid)
	}
}

func TestValidTenantID(t *testing.T) {
	for _, v := range []string{"abc", "empresa_1", "A1B2"} {
		if !ValidTenantID(v) {
			t.Errorf("expected %q to be valid", v)
		}
	}
	for _, v := range []string{"", "bad-id", "drop;table", "a b", "../x"} {
		if ValidTenantID(v) {
			t.Errorf("expected %q to be invalid", v)
		}
	}
}

func TestTenantMiddleware_SetsContext(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got string
	h := TenantMiddleware("default")(func(c echo.Context) error {
		got = TenantFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "acme" {
		t.Errorf("expected acme in context, got %q", got)
	}
	if c.Get("tenant_id") != "acme" {
		t.Errorf("expected tenant_id on echo context, got %v", c.Get("tenant_id"))
	}
}

func TestTenantMiddleware_RejectsInvalid(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "bad-tenant!")
	c := e.NewContext(req, httptest.NewRecorder())

	h := TenantMiddleware("default")(func(c echo.Context) error {
		t.Fatal("handler should not run")
		return nil
	})
	err := h(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 HTTPError, got %v", err)
	}
}

func TestTenantFromContext(t *testing.T) {
	if tid := TenantFromContext(WithTenant(context.Background(), "acme")); tid != "acme" {
		t.Errorf("expected acme, got %s", tid)
	}
	if tid := TenantFromContext(context.Background()); tid != "" {
		t.Errorf("expected empty string, got %s", tid)
	}
	if tid := TenantFromContext(context.WithValue(context.Background(), TenantIDKey, 42)); tid != "" {
		t.Errorf("expected empty string for wrong type, got %s", tid)
	}
}

func TestSchemaName(t *testing.T) {
	if got := SchemaName("acme"); got != "tenant_acme" {
		t.Errorf("expected tenant_acme, got %s", got)
	}
}

func TestCreateTenantSchema_InvalidID(t *testing.T) {
	if err := CreateTenantSchema(context.Background(), nil, "invalid-id!", nil); err == nil {
		t.Error("expected error for invalid tenant ID")
	}
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
	if tx := TxFromContext(context.WithValue(context.Background(), TxKey, "not a tx")); tx != nil {
		t.Error("expected nil tx for wrong type")
	}
}

func TestInTenantTx_RequiresTenant(t *testing.T) {
	err := InTenantTx(context.Background(), nil, "", nil)
	if err != ErrNoTenant {
		t.Errorf("expected ErrNoTenant, got %v", err)
	}
	if err := InTenantTx(context.Background(), nil, "bad-id", nil); err == nil {
		t.Error("expected error for invalid tenant")
	}
}
