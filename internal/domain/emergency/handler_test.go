package emergency

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medqr/medqr/internal/domain/patient"
	"github.com/medqr/medqr/internal/platform/apperr"
)

func newTestServer(f *fixture, mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = apperr.ErrorHandler(zerolog.Nop())
	NewHandler(f.svc).RegisterRoutes(e.Group("/api/v1"), mw...)
	return e
}

func get(e *echo.Echo, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandler_Snapshot(t *testing.T) {
	f := newFixture()
	f.add("code-1", patient.AccessFull, true)
	e := newTestServer(f)

	rec := get(e, "/api/v1/emergency/code-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"blood_group":"O+"`) {
		t.Errorf("expected blood group in %s", body)
	}
	for _, leak := range []string{"hmo", "address", "AXA", "qr_code"} {
		if strings.Contains(body, leak) {
			t.Errorf("snapshot leaks %q: %s", leak, body)
		}
	}
}

func TestHandler_NotFound(t *testing.T) {
	f := newFixture()
	f.add("inactive", patient.AccessFull, false)
	e := newTestServer(f)

	for _, target := range []string{"/api/v1/emergency/nope", "/api/v1/emergency/inactive", "/api/v1/emergency/nope/records"} {
		if rec := get(e, target); rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", target, rec.Code)
		}
	}
}

func TestHandler_Records(t *testing.T) {
	f := newFixture()
	p := f.add("open", patient.AccessFull, true)
	f.addRecords(p, 2)
	f.add("closed", patient.AccessEmergencyOnly, true)
	f.add("empty", patient.AccessFull, true)
	e := newTestServer(f)

	rec := get(e, "/api/v1/emergency/open/records")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total":2`) {
		t.Errorf("expected 2 summaries, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := get(e, "/api/v1/emergency/closed/records"); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for restricted patient, got %d", rec.Code)
	}
	rec = get(e, "/api/v1/emergency/empty/records")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected empty list, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_AppliesMiddleware(t *testing.T) {
	f := newFixture()
	f.add("code-1", patient.AccessFull, true)
	blocked := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
	}
	e := newTestServer(f, blocked)

	if rec := get(e, "/api/v1/emergency/code-1"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if len(f.scans) != 0 {
		t.Error("blocked requests must not reach the service")
	}
}
