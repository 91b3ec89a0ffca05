package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medqr/medqr/internal/platform/access"
)

func TestMiddleware_CountsByRoutePattern(t *testing.T) {
	p := New(false)
	e := echo.New()
	e.Use(p.Middleware())
	e.GET("/api/v1/patients/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "nope")
	})

	for _, path := range []string{"/api/v1/patients/a", "/api/v1/patients/b", "/api/v1/fail"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(p.requests.WithLabelValues("GET", "/api/v1/patients/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.requests.WithLabelValues("GET", "/api/v1/fail", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.active))
}

func TestObserveDecision_WiredThroughAuthorizer(t *testing.T) {
	p := New(false)
	authz := access.NewAuthorizer(p.ObserveDecision)

	caller := access.Caller{Role: access.RoleAdmin, Active: true}
	_, err := authz.Check(caller, access.List(access.KindHospital), access.Class(access.KindHospital))
	require.NoError(t, err)

	caller.Active = false
	_, err = authz.Check(caller, access.List(access.KindHospital), access.Class(access.KindHospital))
	require.Error(t, err)

	action := access.List(access.KindHospital).String()
	assert.Equal(t, 1.0, testutil.ToFloat64(p.decisions.WithLabelValues("admin", action, "allow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.decisions.WithLabelValues("admin", action, string(access.ReasonAccountDeactivated))))
}

func TestObserveScanAndEvent(t *testing.T) {
	p := New(false)
	p.ObserveScan("emergency_snapshot", "found")
	p.ObserveEvent("qr.regenerated", nil)
	p.ObserveEvent("qr.regenerated", errors.New("broker down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(p.scans.WithLabelValues("emergency_snapshot", "found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.events.WithLabelValues("qr.regenerated", "error")))
}

func TestHandler_Exposition(t *testing.T) {
	p := New(false)
	p.ObserveScan("record_summary", "restricted")

	e := echo.New()
	e.GET("/metrics", p.Handler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `medqr_emergency_scans_total{result="restricted",view="record_summary"} 1`))
}

func TestPoolCollector_NilStat(t *testing.T) {
	c := newPoolCollector(func() *pgxpool.Stat { return nil })
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}
