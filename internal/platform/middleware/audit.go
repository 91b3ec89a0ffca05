package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medqr/medqr/internal/platform/auth"
)

// AuditEntry records who touched which health data, when, from where and
// with what outcome.
type AuditEntry struct {
	UserID       string    `json:"user_id,omitempty"`
	Role         string    `json:"role,omitempty"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	PatientID    string    `json:"patient_id,omitempty"`
	Action       string    `json:"action"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Path         string    `json:"path"`
	Method       string    `json:"method"`
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id,omitempty"`
	StatusCode   int       `json:"status_code"`
}

// AuditRecorder persists or forwards audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// auditedResources are the /api/v1 collections that hold patient data.
var auditedResources = map[string]bool{
	"patients":        true,
	"medical-records": true,
	"emergency":       true,
}

// Audit logs a "phi_access" line for every request against patient,
// medical-record or emergency routes and hands the entry to each recorder.
// Recorder failures are logged and never fail the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			resource, rest := splitAPIPath(req.URL.Path)
			if !auditedResources[resource] {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}

			entry := AuditEntry{
				ResourceType: resource,
				Action:       httpMethodToAction(req.Method),
				IPAddress:    c.RealIP(),
				UserAgent:    req.UserAgent(),
				Path:         req.URL.Path,
				Method:       req.Method,
				Timestamp:    time.Now().UTC(),
				StatusCode:   status,
			}
			if uid := auth.UserIDFromContext(req.Context()); uid != uuid.Nil {
				entry.UserID = uid.String()
			}
			entry.Role = string(auth.RoleFromContext(req.Context()))
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.ResourceID = resourceID(rest)
			entry.PatientID = extractPatientID(c, resource, entry.ResourceID)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "phi_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("role", entry.Role).
				Str("resource_type", entry.ResourceType).
				Str("resource_id", entry.ResourceID).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// splitAPIPath returns the first segment under /api/v1/ and the segments
// after it.
//
//	/api/v1/patients/123/qr-code -> "patients", ["123", "qr-code"]
func splitAPIPath(path string) (string, []string) {
	const prefix = "/api/v1/"
	if !strings.HasPrefix(path, prefix) {
		return "", nil
	}
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, prefix), "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "", nil
	}
	return segments[0], segments[1:]
}

// resourceID is the first path segment after the collection, unless it
// names a sub-collection such as "me" or "scan".
func resourceID(rest []string) string {
	if len(rest) == 0 {
		return ""
	}
	switch rest[0] {
	case "", "me", "scan":
		return ""
	}
	return rest[0]
}

// extractPatientID finds the patient a request is about: the path id on
// patient routes, else the patient_id query parameter.
func extractPatientID(c echo.Context, resource, id string) string {
	if resource == "patients" && isUUIDLike(id) {
		return id
	}
	if p := c.QueryParam("patient_id"); isUUIDLike(p) {
		return p
	}
	return ""
}

func isUUIDLike(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
