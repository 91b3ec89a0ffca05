package patient

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medqr/medqr/internal/platform/access"
	"github.com/medqr/medqr/internal/platform/apperr"
	"github.com/medqr/medqr/internal/platform/auth"
	"github.com/medqr/medqr/internal/platform/view"
	"github.com/medqr/medqr/pkg/pagination"
)

type Handler struct {
	svc  *Service
	proj *view.Projector
}

func NewHandler(svc *Service, proj *view.Projector) *Handler {
	return &Handler{svc: svc, proj: proj}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patients")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/me", h.Me)
	g.GET("/scan/:qrCode", h.Scan)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Archive)
	g.POST("/:id/hospitals", h.RegisterHospital)
	g.DELETE("/:id/hospitals/:hospitalId", h.UnregisterHospital)
	g.GET("/:id/qr-code", h.QRCode)
	g.POST("/:id/qr-code/regenerate", h.RegenerateQRCode)
}

func (h *Handler) Create(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.Invalid("malformed request body")
	}
	p, err := h.svc.Create(c.Request().Context(), caller(c), in)
	if err != nil {
		return err
	}
	return h.render(c, http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	p, err := h.svc.Get(c.Request().Context(), caller(c), c.Param("id"))
	if err != nil {
		return err
	}
	return h.render(c, http.StatusOK, p)
}

func (h *Handler) Me(c echo.Context) error {
	p, err := h.svc.Me(c.Request().Context(), caller(c))
	if err != nil {
		return err
	}
	return h.render(c, http.StatusOK, p)
}

func (h *Handler) Scan(c echo.Context) error {
	p, err := h.svc.Scan(c.Request().Context(), caller(c), c.Param("qrCode"))
	if err != nil {
		return err
	}
	return h.render(c, http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	f := Filter{Search: c.QueryParam("search"), AccessLevel: c.QueryParam("access_level")}
	items, total, err := h.svc.List(c.Request().Context(), caller(c), f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	out := make([]view.PartialView, 0, len(items))
	for _, it := range items {
		v, err := h.proj.Project(it, view.Full)
		if err != nil {
			return err
		}
		out = append(out, v)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, p.Limit, p.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.Invalid("malformed request body")
	}
	p, err := h.svc.Update(c.Request().Context(), caller(c), c.Param("id"), in)
	if err != nil {
		return err
	}
	return h.render(c, http.StatusOK, p)
}

func (h *Handler) Archive(c echo.Context) error {
	if err := h.svc.Archive(c.Request().Context(), caller(c), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RegisterHospital(c echo.Context) error {
	var body struct {
		HospitalID string `json:"hospital_id"`
	}
	if err := c.Bind(&body); err != nil {
		return apperr.Invalid("malformed request body")
	}
	hospitalID, err := uuid.Parse(body.HospitalID)
	if err != nil {
		return apperr.Invalid("hospital_id must be a UUID")
	}
	p, err := h.svc.RegisterHospital(c.Request().Context(), caller(c), c.Param("id"), hospitalID)
	if err != nil {
		return err
	}
	return h.render(c, http.StatusOK, p)
}

func (h *Handler) UnregisterHospital(c echo.Context) error {
	p, err := h.svc.UnregisterHospital(c.Request().Context(), caller(c), c.Param("id"), c.Param("hospitalId"))
	if err != nil {
		return err
	}
	return h.render(c, http.StatusOK, p)
}

func (h *Handler) QRCode(c echo.Context) error {
	qr, err := h.svc.QRCode(c.Request().Context(), caller(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, qr)
}

func (h *Handler) RegenerateQRCode(c echo.Context) error {
	qr, err := h.svc.RegenerateQRCode(c.Request().Context(), caller(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, qr)
}

func (h *Handler) render(c echo.Context, status int, p *Patient) error {
	v, err := h.proj.Project(p, view.Full)
	if err != nil {
		return err
	}
	return c.JSON(status, v)
}

func caller(c echo.Context) access.Caller {
	return auth.CallerFromContext(c.Request().Context())
}
