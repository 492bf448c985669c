package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Roles. Admin passes every role check.
const (
	RoleAdmin    = "admin"
	RoleSST      = "sst"
	RoleMedico   = "medico"
	RoleConsulta = "consulta"
)

// ReadRoles may read occupational health records; WriteRoles may also
// change them and run bulk uploads.
var (
	ReadRoles  = []string{RoleSST, RoleMedico, RoleConsulta}
	WriteRoles = []string{RoleSST, RoleMedico}
)

// HasRole reports whether roles grants one of required.
func HasRole(roles []string, required ...string) bool {
	for _, has := range roles {
		if has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}

// RequireRole rejects callers holding none of roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
