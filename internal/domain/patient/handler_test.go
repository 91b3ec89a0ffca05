package patient

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
	"github.com/medqr/medqr/internal/platform/view"
)

func newTestServer(t *testing.T, f *fixture, c access.Caller) *echo.Echo {
	t.Helper()
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

func TestHandler_CreatePatient(t *testing.T) {
	f := newFixture(t)
	e := newTestServer(t, f, personnel(f.hospA))

	body := `{"biodata":{"first_name":"Ada","last_name":"Obi","date_of_birth":"1988-02-01"},"is_vip":true}`
	rec := serve(e, http.MethodPost, "/api/v1/patients", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["patient_id"] == "" || got["qr_code"] == "" {
		t.Errorf("expected identifiers in %v", got)
	}
	if _, ok := got["is_vip"]; ok {
		t.Error("unknown input fields must not be stored")
	}
}

func TestHandler_CreatePatient_BadRequest(t *testing.T) {
	f := newFixture(t)
	e := newTestServer(t, f, admin)

	rec := serve(e, http.MethodPost, "/api/v1/patients", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_GetOtherPatient_NotFound(t *testing.T) {
	f := newFixture(t)
	own := f.create(t, admin, "Own")
	other := f.create(t, admin, "Other")
	e := newTestServer(t, f, patientCaller(own.ID))

	rec := serve(e, http.MethodGet, "/api/v1/patients/"+other.ID.String(), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body apperr.Response
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Message != apperr.MsgNotFoundOrDenied {
		t.Errorf("unexpected message %q", body.Message)
	}

	rec = serve(e, http.MethodGet, "/api/v1/patients/me", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for /me, got %d", rec.Code)
	}
}

func TestHandler_ArchivePatient(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, admin, "Archive")
	e := newTestServer(t, f, admin)

	rec := serve(e, http.MethodDelete, "/api/v1/patients/"+p.ID.String(), "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if f.repo.patients[p.ID].Active {
		t.Error("expected patient to be deactivated")
	}
}

func TestHandler_RegisterHospital(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, personnel(f.hospA), "Reg")
	e := newTestServer(t, f, personnel(f.hospA))

	rec := serve(e, http.MethodPost, "/api/v1/patients/"+p.ID.String()+"/hospitals", `{"hospital_id":"`+f.hospB.String()+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = serve(e, http.MethodPost, "/api/v1/patients/"+p.ID.String()+"/hospitals", `{"hospital_id":"nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	rec = serve(e, http.MethodDelete, "/api/v1/patients/"+p.ID.String()+"/hospitals/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_QRCodeFlow(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, personnel(f.hospA), "QR")
	e := newTestServer(t, f, personnel(f.hospA))

	rec := serve(e, http.MethodPost, "/api/v1/patients/"+p.ID.String()+"/qr-code/regenerate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var qr QRCode
	json.Unmarshal(rec.Body.Bytes(), &qr)

	if rec := serve(e, http.MethodGet, "/api/v1/patients/scan/"+p.QRCode, ""); rec.Code != http.StatusNotFound {
		t.Errorf("old code: expected 404, got %d", rec.Code)
	}
	if rec := serve(e, http.MethodGet, "/api/v1/patients/scan/"+qr.QRCode, ""); rec.Code != http.StatusOK {
		t.Errorf("new code: expected 200, got %d", rec.Code)
	}
}

func TestHandler_ListPatients(t *testing.T) {
	f := newFixture(t)
	f.create(t, personnel(f.hospA), "One")
	f.create(t, personnel(f.hospB), "Two")
	e := newTestServer(t, f, personnel(f.hospA))

	rec := serve(e, http.MethodGet, "/api/v1/patients", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		Data  []map[string]any `json:"data"`
		Total int              `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 || len(page.Data) != 1 {
		t.Errorf("expected one scoped patient, got %+v", page)
	}
}
