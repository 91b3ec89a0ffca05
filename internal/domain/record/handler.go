package record

import (
	"net/http"
	"strconv"

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
	g := api.Group("/medical-records")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id/vital-signs", h.ReplaceVitalSigns)
	g.PUT("/:id/assessment", h.ReplaceAssessment)
	g.PUT("/:id/treatment", h.ReplaceTreatment)
	g.PUT("/:id/discharge", h.ReplaceDischarge)
	g.POST("/:id/labs", h.AppendLab)
	g.POST("/:id/imaging", h.AppendImaging)
	g.POST("/:id/nursing-notes", h.AppendNursingNote)
	g.PATCH("/:id/status", h.SetStatus)
	g.POST("/:id/archive", h.Archive)
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return apperr.Invalid("malformed request body")
	}
	rec, err := h.svc.Create(c.Request().Context(), caller(c), in)
	if err != nil {
		return err
	}
	return h.render(c, http.StatusCreated, rec)
}

func (h *Handler) Get(c echo.Context) error {
	rec, err := h.svc.Get(c.Request().Context(), caller(c), c.Param("id"))
	if err != nil {
		return err
	}
	return h.render(c, http.StatusOK, rec)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	f := Filter{Status: c.QueryParam("status")}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.Invalid("patient_id must be a UUID")
		}
		f.PatientID = id
	}
	if v := c.QueryParam("is_emergency"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.Invalid("is_emergency must be true or false")
		}
		f.IsEmergency = &b
	}

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

func (h *Handler) ReplaceVitalSigns(c echo.Context) error {
	var v VitalSigns
	if err := c.Bind(&v); err != nil {
		return apperr.Invalid("malformed request body")
	}
	return h.mutate(c, ReplaceVitalSigns{VitalSigns: v})
}

func (h *Handler) ReplaceAssessment(c echo.Context) error {
	var v Assessment
	if err := c.Bind(&v); err != nil {
		return apperr.Invalid("malformed request body")
	}
	return h.mutate(c, ReplaceAssessment{Assessment: v})
}

func (h *Handler) ReplaceTreatment(c echo.Context) error {
	var v Treatment
	if err := c.Bind(&v); err != nil {
		return apperr.Invalid("malformed request body")
	}
	return h.mutate(c, ReplaceTreatment{Treatment: v})
}

func (h *Handler) ReplaceDischarge(c echo.Context) error {
	var v Discharge
	if err := c.Bind(&v); err != nil {
		return apperr.Invalid("malformed request body")
	}
	return h.mutate(c, ReplaceDischarge{Discharge: v})
}

func (h *Handler) AppendLab(c echo.Context) error {
	var v Lab
	if err := c.Bind(&v); err != nil {
		return apperr.Invalid("malformed request body")
	}
	return h.mutate(c, AppendLab{Lab: v})
}

func (h *Handler) AppendImaging(c echo.Context) error {
	var v Imaging
	if err := c.Bind(&v); err != nil {
		return apperr.Invalid("malformed request body")
	}
	return h.mutate(c, AppendImaging{Imaging: v})
}

func (h *Handler) AppendNursingNote(c echo.Context) error {
	var v NursingNote
	if err := c.Bind(&v); err != nil {
		return apperr.Invalid("malformed request body")
	}
	return h.mutate(c, AppendNursingNote{Note: v})
}

func (h *Handler) SetStatus(c echo.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return apperr.Invalid("malformed request body")
	}
	return h.mutate(c, SetStatus{To: body.Status})
}

func (h *Handler) Archive(c echo.Context) error {
	return h.mutate(c, Archive{})
}

func (h *Handler) mutate(c echo.Context, m Mutation) error {
	rec, err := h.svc.Mutate(c.Request().Context(), caller(c), c.Param("id"), m)
	if err != nil {
		return err
	}
	return h.render(c, http.StatusOK, rec)
}

func (h *Handler) render(c echo.Context, status int, rec *Record) error {
	v, err := h.proj.Project(rec, view.Full)
	if err != nil {
		return err
	}
	return c.JSON(status, v)
}

func caller(c echo.Context) access.Caller {
	return auth.CallerFromContext(c.Request().Context())
}
