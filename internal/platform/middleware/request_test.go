package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestBodyLimit(t *testing.T) {
	read := func(c echo.Context) error {
		if _, err := io.ReadAll(c.Request().Body); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}

	tests := []struct {
		name    string
		body    string
		chunked bool
		code    int
	}{
		{"under limit", strings.Repeat("a", 10), false, http.StatusNoContent},
		{"content length over", strings.Repeat("a", 2048), false, http.StatusRequestEntityTooLarge},
		{"streamed over", strings.Repeat("a", 2048), true, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.POST("/", read, BodyLimit("1K"))
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.chunked {
				req.ContentLength = -1
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
		})
	}
}

func TestParseLimit(t *testing.T) {
	tests := map[string]int64{
		"":     1 << 20,
		"512":  512,
		"4K":   4 << 10,
		"2M":   2 << 20,
		"2mb":  2 << 20,
		"1G":   1 << 30,
		"junk": 1 << 20,
	}
	for in, want := range tests {
		if got := parseLimit(in); got != want {
			t.Errorf("parseLimit(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestSanitize(t *testing.T) {
	e := echo.New()
	e.Use(Sanitize(zerolog.Nop()))
	e.GET("/*", okHandler)

	tests := []struct {
		name   string
		target string
		header string
		code   int
	}{
		{"clean", "/api/v1/patients?status=active&page=2", "", http.StatusOK},
		{"qr token path", "/api/v1/emergency/Zm9vYmFyLWJhel9xdXV4", "", http.StatusOK},
		{"apostrophe in search", "/api/v1/patients?search=O%27Brien", "", http.StatusOK},
		{"traversal", "/%2e%2e/%2e%2e/etc/passwd", "", http.StatusBadRequest},
		{"double encoded", "/api/v1/patients/%252e%252e", "", http.StatusBadRequest},
		{"null byte in query", "/api/v1/patients?search=a%00b", "", http.StatusBadRequest},
		{"markup in query", "/api/v1/patients?search=%3Cscript%3E", "", http.StatusBadRequest},
		{"unexpected key", "/api/v1/patients?Search=x", "", http.StatusBadRequest},
		{"long value", "/api/v1/patients?search=" + strings.Repeat("a", maxQueryValueSize+1), "", http.StatusBadRequest},
		{"oversized header", "/", strings.Repeat("x", maxHeaderValueSize+1), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("X-Test", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
		})
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hi\x00 there\x07\n "); got != "hi there" {
		t.Errorf("unexpected %q", got)
	}
}

func TestRequestTimeout(t *testing.T) {
	slow := func(c echo.Context) error {
		select {
		case <-c.Request().Context().Done():
			return fmt.Errorf("query: %w", c.Request().Context().Err())
		case <-time.After(time.Second):
			return c.NoContent(http.StatusOK)
		}
	}

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	err := RequestTimeout(10 * time.Millisecond)(slow)(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", httpErr.Code)
	}
}

func TestRequestTimeout_PassesOtherErrors(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	want := context.Canceled
	err := RequestTimeout(time.Second)(func(echo.Context) error { return want })(c)
	if err != want {
		t.Errorf("expected %v, got %v", want, err)
	}
}
