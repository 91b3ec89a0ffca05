package hospital

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medqr/medqr/internal/platform/access"
	"github.com/medqr/medqr/internal/platform/apperr"
	"github.com/medqr/medqr/internal/platform/auth"
	"github.com/medqr/medqr/pkg/pagination"
)

// newTestServer wires the handler behind a fake authenticator that
// installs caller on every request.
func newTestServer(t *testing.T, caller access.Caller) (*echo.Echo, *Service) {
	t.Helper()
	svc, _ := newTestService()
	e := echo.New()
	e.HTTPErrorHandler = apperr.ErrorHandler(zerolog.Nop())
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(auth.WithCaller(c.Request().Context(), caller)))
			return next(c)
		}
	})
	NewHandler(svc).RegisterRoutes(api)
	return e, svc
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAndGet(t *testing.T) {
	e, _ := newTestServer(t, adminCaller)

	rec := do(e, http.MethodPost, "/api/v1/hospitals", `{"name":"Lagoon Hospital","address":{"city":"Lagos"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created Hospital
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Address.City != "Lagos" {
		t.Errorf("unexpected address %+v", created.Address)
	}

	rec = do(e, http.MethodGet, "/api/v1/hospitals/"+created.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetMissing(t *testing.T) {
	e, _ := newTestServer(t, adminCaller)
	rec := do(e, http.MethodGet, "/api/v1/hospitals/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_CreateValidation(t *testing.T) {
	e, _ := newTestServer(t, adminCaller)
	rec := do(e, http.MethodPost, "/api/v1/hospitals", `{"name":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body apperr.Response
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Fields["name"] == "" {
		t.Errorf("expected name field error, got %+v", body)
	}
}

func TestHandler_PersonnelCannotWrite(t *testing.T) {
	e, _ := newTestServer(t, personnelAt(uuid.New()))
	rec := do(e, http.MethodPost, "/api/v1/hospitals", `{"name":"Nope"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_List(t *testing.T) {
	e, svc := newTestServer(t, adminCaller)
	mustCreate(t, svc, "Alpha")
	mustCreate(t, svc, "Beta")

	rec := do(e, http.MethodGet, "/api/v1/hospitals?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page pagination.Response
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 2 || !page.HasMore {
		t.Errorf("unexpected page %+v", page)
	}

	rec = do(e, http.MethodGet, "/api/v1/hospitals?is_partner=maybe", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad is_partner, got %d", rec.Code)
	}
}

func TestHandler_SetStatus(t *testing.T) {
	e, svc := newTestServer(t, adminCaller)
	h := mustCreate(t, svc, "Alpha")

	rec := do(e, http.MethodPatch, "/api/v1/hospitals/"+h.ID.String()+"/status", `{"status":"inactive"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got Hospital
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusInactive {
		t.Errorf("expected inactive, got %s", got.Status)
	}
}
