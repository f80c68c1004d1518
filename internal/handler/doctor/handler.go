package doctor

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/careline/bookingbot/internal/handler"
	"github.com/careline/bookingbot/internal/model"
	"github.com/careline/bookingbot/internal/service/allocator"
	"github.com/careline/bookingbot/internal/service/doctor"
)

type Handler struct {
	doctors   *doctor.Service
	allocator *allocator.Service
}

func NewHandler(d *doctor.Service, a *allocator.Service) *Handler {
	return &Handler{doctors: d, allocator: a}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	doctors := rg.Group("/doctors")
	{
		doctors.GET("", h.List)
		doctors.GET("/departments", h.ListDepartments)
		doctors.GET("/:id/availability", h.Availability)
	}
}

func (h *Handler) List(c *gin.Context) {
	if department := c.Query("department"); department != "" {
		doctors, err := h.doctors.ListByDepartment(c.Request.Context(), department)
		if err != nil {
			handler.RespondError(c, err)
			return
		}
		handler.RespondOK(c, doctors)
		return
	}

	doctors, err := h.doctors.List(c.Request.Context())
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, doctors)
}

func (h *Handler) ListDepartments(c *gin.Context) {
	departments, err := h.doctors.ListDepartments(c.Request.Context())
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, departments)
}

// Availability returns the bookable slot groups for a doctor on one
// date, sized to the doctor's slots-per-appointment.
func (h *Handler) Availability(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid doctor ID"})
		return
	}
	date, err := time.ParseInLocation(model.DateOnly, c.Query("date"), time.Local)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "date must be YYYY-MM-DD"})
		return
	}

	doc, err := h.doctors.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	if _, err := h.allocator.EnsureSlots(c.Request.Context(), doc, date); err != nil {
		handler.RespondError(c, err)
		return
	}
	groups, err := h.allocator.ConsecutiveGroups(c.Request.Context(), doc.ID, date, doc.SlotsPerAppointment)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	times := make([]string, len(groups))
	for i, group := range groups {
		times[i] = group[0].StartTime.Format(model.ClockTime)
	}
	handler.RespondOK(c, gin.H{
		"doctor_id":  doc.ID,
		"date":       date.Format(model.DateOnly),
		"slot_count": doc.SlotsPerAppointment,
		"times":      times,
	})
}
