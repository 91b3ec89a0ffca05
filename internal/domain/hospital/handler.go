package hospital

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/medqr/medqr/internal/platform/access"
	"github.com/medqr/medqr/internal/platform/apperr"
	"github.com/medqr/medqr/internal/platform/auth"
	"github.com/medqr/medqr/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/hospitals")
	g.GET("", h.List)
	g.GET("/stats", h.Stats)
	g.GET("/:id", h.Get)

	admin := g.Group("", auth.RequireRole(access.RoleAdmin))
	admin.POST("", h.Create)
	admin.PUT("/:id", h.Update)
	admin.PATCH("/:id/status", h.SetStatus)
}

func (h *Handler) Create(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.Invalid("malformed request body")
	}
	out, err := h.svc.Create(c.Request().Context(), caller(c), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) Get(c echo.Context) error {
	out, err := h.svc.Get(c.Request().Context(), caller(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	f := Filter{Name: c.QueryParam("name"), Status: c.QueryParam("status")}
	if v := c.QueryParam("is_partner"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.Invalid("is_partner must be true or false")
		}
		f.IsPartner = &b
	}
	items, total, err := h.svc.List(c.Request().Context(), caller(c), f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Hospital{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.Invalid("malformed request body")
	}
	out, err := h.svc.Update(c.Request().Context(), caller(c), c.Param("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SetStatus(c echo.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return apperr.Invalid("malformed request body")
	}
	out, err := h.svc.SetStatus(c.Request().Context(), caller(c), c.Param("id"), body.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Stats(c echo.Context) error {
	counts, err := h.svc.Stats(c.Request().Context(), caller(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counts)
}

func caller(c echo.Context) access.Caller {
	return auth.CallerFromContext(c.Request().Context())
}
