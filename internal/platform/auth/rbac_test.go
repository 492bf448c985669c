package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runWithRoles(roles []string, mw echo.MiddlewareFunc) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, roles))
	rec := httptest.NewRecorder()
	err := mw(okHandler)(e.NewContext(req, rec))
	return rec, err
}

func TestRequireRole_Allowed(t *testing.T) {
	rec, err := runWithRoles([]string{RoleMedico}, RequireRole(WriteRoles...))
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	_, err := runWithRoles([]string{RoleConsulta}, RequireRole(WriteRoles...))
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_NoRoles(t *testing.T) {
	_, err := runWithRoles(nil, RequireRole(ReadRoles...))
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	if _, err := runWithRoles([]string{RoleAdmin}, RequireRole(RoleMedico)); err != nil {
		t.Error("admin should bypass role checks")
	}
}

func TestHasRole(t *testing.T) {
	tests := []struct {
		roles    []string
		required []string
		want     bool
	}{
		{[]string{RoleSST}, ReadRoles, true},
		{[]string{RoleConsulta}, WriteRoles, false},
		{[]string{"other", RoleMedico}, WriteRoles, true},
		{[]string{RoleAdmin}, nil, true},
		{nil, ReadRoles, false},
	}
	for _, tt := range tests {
		if got := HasRole(tt.roles, tt.required...); got != tt.want {
			t.Errorf("HasRole(%v, %v) = %v, want %v", tt.roles, tt.required, got, tt.want)
		}
	}
}
