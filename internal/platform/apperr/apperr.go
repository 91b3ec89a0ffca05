// Package apperr holds the shared error values of the service and maps
// every error to the HTTP response a caller sees.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hengadev/errsx"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medqr/medqr/internal/platform/access"
	"github.com/medqr/medqr/internal/platform/auth"
)

var (
	// ErrNotFound is returned once past the authorization gate when an
	// entity is truly absent, and for malformed ids.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks uniqueness and duplicate-registration failures.
	ErrConflict = errors.New("conflict")
	// ErrInvalidInput marks request errors that are not field-level.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidCredentials is returned by login for any bad email/password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden guards admin-only operations outside the access table,
	// such as identity management.
	ErrForbidden = errors.New("forbidden")
	// ErrAccountDisabled is returned by login for a deactivated identity
	// whose password was correct.
	ErrAccountDisabled = errors.New("account deactivated")
)

const (
	MsgNotFoundOrDenied = "not found or access denied"
	MsgForbidden        = "forbidden"
	MsgAccessDenied     = "access denied"
	MsgInvalidToken     = "invalid or expired token"
	MsgValidation       = "validation failed"
	MsgInternal         = "internal server error"
)

// NotFound wraps ErrNotFound with the entity name.
func NotFound(entity string) error {
	return fmt.Errorf("%s: %w", entity, ErrNotFound)
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Conflict wraps ErrConflict with a caller-visible reason.
func Conflict(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrConflict)
}

// Invalid wraps ErrInvalidInput with a caller-visible reason.
func Invalid(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrInvalidInput)
}

// Validation returns errs as an error, or nil when no field failed.
func Validation(errs errsx.Map) error {
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Response is the JSON error body.
type Response struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ToHTTP maps err to the HTTP error returned to the caller. Denials on
// patients and medical records never reveal which rule failed.
func ToHTTP(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	var te *auth.TokenError
	if errors.As(err, &te) {
		return echo.NewHTTPError(http.StatusUnauthorized, MsgInvalidToken).SetInternal(err)
	}

	var denial *access.Denial
	if errors.As(err, &denial) {
		return denialToHTTP(denial).SetInternal(err)
	}

	var fields errsx.Map
	if errors.As(err, &fields) {
		return echo.NewHTTPError(http.StatusBadRequest, Response{Message: MsgValidation, Fields: render(fields)})
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, MsgForbidden)
	case errors.Is(err, ErrAccountDisabled):
		return echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, MsgInternal).SetInternal(err)
}

func denialToHTTP(d *access.Denial) *echo.HTTPError {
	switch d.Reason {
	case access.ReasonAccountDeactivated, access.ReasonIncompleteProfile:
		return echo.NewHTTPError(http.StatusForbidden, MsgAccessDenied)
	case access.ReasonRestrictedAccessLevel:
		return echo.NewHTTPError(http.StatusForbidden, "records are restricted for this patient")
	}
	if d.Action.Kind == access.KindHospital {
		if d.Reason == access.ReasonNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "hospital not found")
		}
		return echo.NewHTTPError(http.StatusForbidden, MsgForbidden)
	}
	// Class-level denials (list, create) have nothing to hide.
	if d.Reason == access.ReasonForbidden &&
		(d.Action.Verb == access.VerbList || d.Action.Verb == access.VerbCreate) {
		return echo.NewHTTPError(http.StatusForbidden, MsgForbidden)
	}
	return echo.NewHTTPError(http.StatusNotFound, MsgNotFoundOrDenied)
}

func render(m errsx.Map) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// ErrorHandler renders every handler error as JSON and logs server-side
// failures with their internal cause.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		he := ToHTTP(err)

		if he.Code >= http.StatusInternalServerError {
			cause := err
			if he.Internal != nil {
				cause = he.Internal
			}
			logger.Error().
				Err(cause).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Interface("request_id", c.Get("request_id")).
				Msg("request failed")
		}

		body, ok := he.Message.(Response)
		if !ok {
			body = Response{Message: fmt.Sprint(he.Message)}
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(he.Code)
		} else {
			werr = c.JSON(he.Code, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}
