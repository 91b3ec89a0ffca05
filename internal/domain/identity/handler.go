package identity

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
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

// RegisterRoutes mounts login on the public group and everything else on
// the authenticated api group. loginMW is applied to the login route only.
func (h *Handler) RegisterRoutes(public, api *echo.Group, loginMW ...echo.MiddlewareFunc) {
	public.POST("/auth/login", h.Login, loginMW...)

	api.GET("/auth/me", h.Me)
	api.PUT("/auth/password", h.ChangePassword)

	users := api.Group("/users", auth.RequireRole(access.RoleAdmin))
	users.POST("", h.CreateUser)
	users.GET("", h.ListUsers)
	users.GET("/:id", h.GetUser)
	users.POST("/:id/deactivate", h.Deactivate)
	users.POST("/:id/activate", h.Activate)
}

func (h *Handler) Login(c echo.Context) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&body); err != nil {
		return apperr.Invalid("malformed request body")
	}
	if body.Email == "" || body.Password == "" {
		return apperr.Invalid("email and password are required")
	}
	res, err := h.svc.Login(c.Request().Context(), body.Email, body.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Me(c echo.Context) error {
	u, err := h.svc.Me(c.Request().Context(), caller(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ChangePassword(c echo.Context) error {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := c.Bind(&body); err != nil {
		return apperr.Invalid("malformed request body")
	}
	if err := h.svc.ChangePassword(c.Request().Context(), caller(c), body.CurrentPassword, body.NewPassword); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateUser(c echo.Context) error {
	var in NewUser
	if err := c.Bind(&in); err != nil {
		return apperr.Invalid("malformed request body")
	}
	u, err := h.svc.CreateUser(c.Request().Context(), caller(c), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) GetUser(c echo.Context) error {
	u, err := h.svc.GetUser(c.Request().Context(), caller(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListUsers(c echo.Context) error {
	p := pagination.FromContext(c)
	f := Filter{Role: access.Role(c.QueryParam("role")), Search: c.QueryParam("search")}
	if v := c.QueryParam("hospital_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.Invalid("hospital_id must be a UUID")
		}
		f.HospitalID = id
	}
	if v := c.QueryParam("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.Invalid("active must be true or false")
		}
		f.Active = &b
	}
	items, total, err := h.svc.ListUsers(c.Request().Context(), caller(c), f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*User{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) Deactivate(c echo.Context) error {
	return h.setActive(c, false)
}

func (h *Handler) Activate(c echo.Context) error {
	return h.setActive(c, true)
}

func (h *Handler) setActive(c echo.Context, active bool) error {
	u, err := h.svc.SetActive(c.Request().Context(), caller(c), c.Param("id"), active)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func caller(c echo.Context) access.Caller {
	return auth.CallerFromContext(c.Request().Context())
}
