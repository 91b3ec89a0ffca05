package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medqr/medqr/internal/platform/access"
)

type contextKey string

const (
	CallerKey contextKey = "caller"
	ClaimsKey contextKey = "claims"
)

// Verifier checks a raw bearer token.
type Verifier interface {
	Verify(raw string) (Claims, error)
}

// CallerResolver loads the current state of the identity named by verified
// claims. It is called on every authenticated request so deactivation and
// hospital changes take effect without token revocation.
type CallerResolver interface {
	ResolveCaller(ctx context.Context, claims Claims) (access.Caller, error)
}

// Authenticate verifies the bearer token, resolves the caller and stores
// both on the request context. Deactivated or incomplete callers still pass
// through; the access engine denies them per operation.
func Authenticate(v Verifier, r CallerResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims, err := v.Verify(strings.TrimSpace(parts[1]))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token").SetInternal(err)
			}

			ctx := c.Request().Context()
			caller, err := r.ResolveCaller(ctx, claims)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token").SetInternal(err)
			}

			ctx = WithCaller(ctx, caller)
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("user_id", caller.SubjectID.String())
			c.Set("role", string(caller.Role))

			return next(c)
		}
	}
}

// WithCaller returns a context carrying caller.
func WithCaller(ctx context.Context, caller access.Caller) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

// CallerFromContext returns the caller set by Authenticate. The zero Caller
// is inactive, so a missing caller is denied by every decision.
func CallerFromContext(ctx context.Context) access.Caller {
	caller, _ := ctx.Value(CallerKey).(access.Caller)
	return caller
}

func UserIDFromContext(ctx context.Context) uuid.UUID {
	return CallerFromContext(ctx).SubjectID
}

func RoleFromContext(ctx context.Context) access.Role {
	return CallerFromContext(ctx).Role
}
