package emergency

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medqr/medqr/internal/platform/view"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the lookups on an unauthenticated group. mw is
// applied to both routes, typically a per-IP rate limit.
func (h *Handler) RegisterRoutes(public *echo.Group, mw ...echo.MiddlewareFunc) {
	g := public.Group("/emergency", mw...)
	g.GET("/:qrCode", h.Snapshot)
	g.GET("/:qrCode/records", h.Records)
}

func (h *Handler) Snapshot(c echo.Context) error {
	v, err := h.svc.Snapshot(c.Request().Context(), c.Param("qrCode"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Records(c echo.Context) error {
	items, err := h.svc.Records(c.Request().Context(), c.Param("qrCode"))
	if err != nil {
		return err
	}
	if items == nil {
		items = []view.PartialView{}
	}
	return c.JSON(http.StatusOK, map[string]any{"data": items, "total": len(items)})
}
