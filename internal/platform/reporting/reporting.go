// Package reporting serves grouped counts over patients and medical
// records. Medical personnel only ever see their own hospital's numbers.
package reporting

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/medqr/medqr/internal/platform/access"
	"github.com/medqr/medqr/internal/platform/auth"
)

// MeasureDefinition is a named grouped count. Every query takes the
// hospital scope as $1; NULL means all hospitals.
type MeasureDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"-"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string           `json:"measure_id"`
	MeasureName string           `json:"measure_name"`
	HospitalID  *uuid.UUID       `json:"hospital_id,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
	Results     []map[string]any `json:"results"`
}

const patientScope = `($1::uuid IS NULL OR primary_hospital_id = $1
    OR registered_hospitals @> jsonb_build_array(jsonb_build_object('hospital_id', $1::text, 'active', true)))`

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "patient-count",
		Name:        "Patient Count",
		Description: "Patients in scope, with how many are active",
		SQL: `SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE active) AS active_count
FROM patient WHERE ` + patientScope,
	},
	{
		ID:          "patients-by-access-level",
		Name:        "Patients by Access Level",
		Description: "Active patients grouped by record access level",
		SQL: `SELECT access_level, COUNT(*) AS total FROM patient
WHERE active AND ` + patientScope + `
GROUP BY access_level ORDER BY total DESC`,
	},
	{
		ID:          "records-by-status",
		Name:        "Medical Records by Status",
		Description: "Medical records grouped by lifecycle status",
		SQL: `SELECT status, COUNT(*) AS total FROM medical_record
WHERE $1::uuid IS NULL OR hospital_id = $1
GROUP BY status ORDER BY total DESC`,
	},
	{
		ID:          "records-by-visit-type",
		Name:        "Visit Volume by Type",
		Description: "Medical records grouped by visit type",
		SQL: `SELECT COALESCE(visit_info->>'visit_type', 'unknown') AS visit_type, COUNT(*) AS total
FROM medical_record
WHERE $1::uuid IS NULL OR hospital_id = $1
GROUP BY 1 ORDER BY total DESC`,
	},
	{
		ID:          "emergency-visits",
		Name:        "Emergency Visits",
		Description: "Emergency and non-emergency record counts",
		SQL: `SELECT is_emergency, COUNT(*) AS total FROM medical_record
WHERE $1::uuid IS NULL OR hospital_id = $1
GROUP BY is_emergency ORDER BY is_emergency DESC`,
	},
}

// Querier runs a read-only query; *pgxpool.Pool satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	db    Querier
	authz *access.Authorizer
	now   func() time.Time
}

func NewHandler(db Querier, authz *access.Authorizer) *Handler {
	return &Handler{db: db, authz: authz, now: time.Now}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(access.RoleAdmin, access.RoleMedicalPersonnel))
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id", h.EvaluateMeasure)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure runs a measure within the caller's list scope.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	caller := auth.CallerFromContext(c.Request().Context())
	d, err := h.authz.Check(caller, access.List(access.KindMedicalRecord), access.Class(access.KindMedicalRecord))
	if err != nil {
		return err
	}
	// Measures aggregate across patients; a patient-scoped list is refused.
	if d.PatientScope != uuid.Nil {
		return access.Deny(d.Action, access.ReasonForbidden)
	}
	scope := scopeArg(d)

	results, err := h.execute(c.Request().Context(), measure.SQL, scope)
	if err != nil {
		return err
	}

	report := MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: h.now().UTC(),
		Results:     results,
	}
	if scope != nil {
		id := d.HospitalScope
		report.HospitalID = &id
	}
	return c.JSON(http.StatusOK, report)
}

// scopeArg is the $1 argument for a decision: nil when unscoped.
func scopeArg(d access.Decision) *uuid.UUID {
	if d.HospitalScope == uuid.Nil {
		return nil
	}
	id := d.HospitalScope
	return &id
}

func (h *Handler) execute(ctx context.Context, sql string, scope *uuid.UUID) ([]map[string]any, error) {
	rows, err := h.db.Query(ctx, sql, scope)
	if err != nil {
		return nil, err
	}
	results, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []map[string]any{}
	}
	return results, nil
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
