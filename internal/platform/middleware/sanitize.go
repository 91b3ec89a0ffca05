package middleware

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	// maxHeaderValueSize caps any single header value.
	maxHeaderValueSize = 8 << 10
	maxQueryKeySize    = 32
	maxQueryValueSize  = 256
)

// Sanitize rejects requests this API never legitimately receives, with 400.
// Path segments are ids, patient numbers and URL-safe QR tokens, so once
// decoded they carry no '%', no ".." and no control characters. Query keys
// are snake_case filter names and values are short free text without
// markup. Headers must stay single-line and bounded.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if reason := checkRequest(req); reason != "" {
				logger.Warn().
					Str("reason", reason).
					Str("path", req.URL.Path).
					Str("remote_ip", c.RealIP()).
					Msg("request rejected")
				return echo.NewHTTPError(http.StatusBadRequest, reason)
			}
			return next(c)
		}
	}
}

// checkRequest returns why req is rejected, or "" when it is acceptable.
func checkRequest(req *http.Request) string {
	if !cleanPath(req.URL.Path) {
		return "invalid request path"
	}

	for name, values := range req.Header {
		for _, v := range values {
			if len(v) > maxHeaderValueSize {
				return "header value too large: " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "invalid header value: " + name
			}
		}
	}

	for key, values := range req.URL.Query() {
		if !queryKey(key) {
			return "invalid query parameter"
		}
		for _, v := range values {
			if len(v) > maxQueryValueSize || !plainText(v) {
				return "invalid value for query parameter " + key
			}
		}
	}
	return ""
}

// cleanPath reports whether the decoded path is free of traversal,
// leftover escapes (double encoding) and control characters.
func cleanPath(p string) bool {
	if strings.Contains(p, "..") || strings.ContainsRune(p, '%') {
		return false
	}
	return !strings.ContainsFunc(p, unicode.IsControl)
}

func queryKey(k string) bool {
	if k == "" || len(k) > maxQueryKeySize {
		return false
	}
	for _, r := range k {
		if (r < 'a' || r > 'z') && r != '_' {
			return false
		}
	}
	return true
}

// plainText allows anything a name or filter value needs but markup
// delimiters and control characters.
func plainText(v string) bool {
	return !strings.ContainsFunc(v, func(r rune) bool {
		return r == '<' || r == '>' || unicode.IsControl(r)
	})
}

// SanitizeString strips null bytes and control characters other than
// newline, carriage return and tab, then trims surrounding space. Services
// run free-text fields through it before storing them.
func SanitizeString(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == '\x00' {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}

	return strings.TrimSpace(b.String())
}
