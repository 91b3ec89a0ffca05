package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medqr/medqr/internal/platform/access"
)

func contextWithRole(role access.Role) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithCaller(req.Context(), access.Caller{SubjectID: uuid.New(), Role: role, Active: true}))
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		role    access.Role
		require []access.Role
		allowed bool
	}{
		{"admin bypass", access.RoleAdmin, []access.Role{access.RoleMedicalPersonnel}, true},
		{"matching role", access.RoleMedicalPersonnel, []access.Role{access.RoleMedicalPersonnel}, true},
		{"one of many", access.RolePatient, []access.Role{access.RoleMedicalPersonnel, access.RolePatient}, true},
		{"wrong role", access.RolePatient, []access.Role{access.RoleMedicalPersonnel}, false},
		{"no role", "", []access.Role{access.RolePatient}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := contextWithRole(tt.role)
			err := RequireRole(tt.require...)(okHandler)(c)
			if tt.allowed && err != nil {
				t.Fatalf("expected pass, got %v", err)
			}
			if !tt.allowed {
				expectStatus(t, err, http.StatusForbidden)
			}
		})
	}
}
