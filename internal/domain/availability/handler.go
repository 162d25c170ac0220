package availability

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/availability/internal/platform/auth"
	"github.com/ehr/availability/internal/platform/facility"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, physician, nurse, registrar
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "registrar"))
	readGroup.GET("/availability-templates", h.ListTemplates)
	readGroup.GET("/availability-templates/doctors", h.ListDoctors)
	readGroup.GET("/availability-templates/:id", h.GetTemplate)
	readGroup.GET("/availability-templates/:id/slots", h.TemplateSlots)
	readGroup.GET("/availability-slots", h.SlotsForDate)

	// Write endpoints – admin, registrar
	writeGroup := api.Group("", auth.RequireRole("admin", "registrar"))
	writeGroup.POST("/availability-templates", h.CreateTemplate)
	writeGroup.PATCH("/availability-templates/:id", h.UpdateTemplate)
	writeGroup.POST("/availability-templates/:id/deactivate", h.DeactivateTemplate)
	writeGroup.DELETE("/availability-templates/:id", h.DeleteTemplate)
}

func (h *Handler) CreateTemplate(c echo.Context) error {
	facilityID, err := facilityFrom(c)
	if err != nil {
		return err
	}
	var in CreateTemplateInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	t, err := h.svc.CreateTemplate(c.Request().Context(), facilityID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListTemplates(c echo.Context) error {
	facilityID, err := facilityFrom(c)
	if err != nil {
		return err
	}
	var f ListFilter
	if v := c.QueryParam("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		f.DoctorID = &id
	}
	if v := c.QueryParam("day_of_week"); v != "" {
		day, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid day_of_week")
		}
		f.DayOfWeek = &day
	}
	if v := c.QueryParam("department"); v != "" {
		f.Department = &v
	}
	if v := c.QueryParam("include_inactive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid include_inactive")
		}
		f.IncludeInactive = b
	}

	list, err := h.svc.ListTemplates(c.Request().Context(), facilityID, f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) GetTemplate(c echo.Context) error {
	facilityID, err := facilityFrom(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetTemplate(c.Request().Context(), facilityID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) UpdateTemplate(c echo.Context) error {
	facilityID, err := facilityFrom(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in UpdateTemplateInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	t, err := h.svc.UpdateTemplate(c.Request().Context(), facilityID, id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeactivateTemplate(c echo.Context) error {
	facilityID, err := facilityFrom(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.DeactivateTemplate(c.Request().Context(), facilityID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTemplate(c echo.Context) error {
	facilityID, err := facilityFrom(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteTemplate(c.Request().Context(), facilityID, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	facilityID, err := facilityFrom(c)
	if err != nil {
		return err
	}
	doctors, err := h.svc.ListDoctorsWithTemplates(c.Request().Context(), facilityID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, doctors)
}

func (h *Handler) TemplateSlots(c echo.Context) error {
	facilityID, err := facilityFrom(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	date, err := ParseDate(c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	slots, err := h.svc.TemplateSlots(c.Request().Context(), facilityID, id, date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"date":  date,
		"slots": slots,
	})
}

func (h *Handler) SlotsForDate(c echo.Context) error {
	facilityID, err := facilityFrom(c)
	if err != nil {
		return err
	}
	date, err := ParseDate(c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var doctorID *uuid.UUID
	if v := c.QueryParam("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		doctorID = &id
	}
	slots, err := h.svc.SlotsForDate(c.Request().Context(), facilityID, date, doctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"date":  date,
		"slots": slots,
	})
}

// bindError keeps the binder's own 400 so field messages such as a malformed
// clock reach the client.
func bindError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
}

func facilityFrom(c echo.Context) (uuid.UUID, error) {
	id, ok := facility.FromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "facility context is required")
	}
	return id, nil
}

// httpError maps registry errors to HTTP statuses. Store failures get a
// generic message so driver details do not leak to clients.
func httpError(err error) error {
	var verr *ValidationError
	var cerr *ConflictError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	case errors.As(err, &cerr):
		return echo.NewHTTPError(http.StatusConflict, cerr.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "failed to process availability request")
}
