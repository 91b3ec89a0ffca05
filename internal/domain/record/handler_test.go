package record

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medqr/medqr/internal/platform/access"
	"github.com/medqr/medqr/internal/platform/apperr"
	"github.com/medqr/medqr/internal/platform/auth"
	"github.com/medqr/medqr/internal/platform/view"
)

func newTestServer(f *fixture, c access.Caller) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = apperr.ErrorHandler(zerolog.Nop())
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			ec.SetRequest(ec.Request().WithContext(auth.WithCaller(ec.Request().Context(), c)))
			return next(ec)
		}
	})
	NewHandler(f.svc, view.NewProjector(nil)).RegisterRoutes(api)
	return e
}

func serve(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAndAppend(t *testing.T) {
	f := newFixture(t)
	e := newTestServer(f, personnel(f.hospA))

	rec := serve(e, http.MethodPost, "/api/v1/medical-records",
		`{"patient_id":"`+f.pat.ID.String()+`","visit_info":{"chief_complaint":"headache"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created Record
	json.Unmarshal(rec.Body.Bytes(), &created)

	base := "/api/v1/medical-records/" + created.ID.String()
	if rec := serve(e, http.MethodPost, base+"/labs", `{"test_name":"PCV"}`); rec.Code != http.StatusOK {
		t.Errorf("labs: expected 200, got %d", rec.Code)
	}
	if rec := serve(e, http.MethodPut, base+"/vital-signs", `{"heart_rate":80}`); rec.Code != http.StatusOK {
		t.Errorf("vital-signs: expected 200, got %d", rec.Code)
	}
	if rec := serve(e, http.MethodPatch, base+"/status", `{"status":"active"}`); rec.Code != http.StatusOK {
		t.Errorf("status: expected 200, got %d", rec.Code)
	}
	if rec := serve(e, http.MethodPost, base+"/archive", ""); rec.Code != http.StatusOK {
		t.Errorf("archive: expected 200, got %d", rec.Code)
	}
	// Archived records are read-only for personnel; the denial is a 404
	// because record denials never say why.
	if rec := serve(e, http.MethodPost, base+"/nursing-notes", `{"note":"late"}`); rec.Code != http.StatusNotFound {
		t.Errorf("nursing-notes on archived: expected 404, got %d", rec.Code)
	}
	if rec := serve(e, http.MethodGet, base, ""); rec.Code != http.StatusOK {
		t.Errorf("get archived: expected 200, got %d", rec.Code)
	}
}

func TestHandler_OtherHospitalGets404(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, personnel(f.hospA))
	e := newTestServer(f, personnel(f.hospB))

	rec := serve(e, http.MethodGet, "/api/v1/medical-records/"+created.ID.String(), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), created.PatientID.String()) {
		t.Error("response leaks record content")
	}
}

func TestHandler_ListFilters(t *testing.T) {
	f := newFixture(t)
	f.create(t, personnel(f.hospA))
	e := newTestServer(f, admin)

	if rec := serve(e, http.MethodGet, "/api/v1/medical-records?patient_id=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad patient_id, got %d", rec.Code)
	}
	if rec := serve(e, http.MethodGet, "/api/v1/medical-records?is_emergency=sometimes", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad is_emergency, got %d", rec.Code)
	}
	rec := serve(e, http.MethodGet, "/api/v1/medical-records?patient_id="+f.pat.ID.String()+"&status=draft", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 {
		t.Errorf("expected 1 record, got %d", page.Total)
	}
}

func TestHandler_MalformedBody(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, personnel(f.hospA))
	e := newTestServer(f, personnel(f.hospA))

	rec := serve(e, http.MethodPut, "/api/v1/medical-records/"+created.ID.String()+"/assessment", `[`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
