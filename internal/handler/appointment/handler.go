package appointment

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/careline/bookingbot/internal/handler"
	"github.com/careline/bookingbot/internal/model"
	"github.com/careline/bookingbot/internal/service/booking"
)

type Handler struct {
	booking *booking.Service
}

func NewHandler(b *booking.Service) *Handler {
	return &Handler{booking: b}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	appointments := rg.Group("/appointments")
	{
		appointments.POST("", h.Book)
		appointments.GET("/:id", h.Get)
		appointments.POST("/:id/cancel", h.Cancel)
		appointments.POST("/:id/reschedule", h.Reschedule)
	}
}

func (h *Handler) Book(c *gin.Context) {
	var req model.BookAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	date, startTime, err := parseDateTime(req.Date, req.StartTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	appointment, err := h.booking.Book(c.Request.Context(), req.PatientID, req.DoctorID, date, startTime, req.SlotCount, req.Reason)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondCreated(c, appointment)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid appointment ID"})
		return
	}

	appointment, err := h.booking.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, appointment)
}

func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid appointment ID"})
		return
	}

	var req model.CancelAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	appointment, err := h.booking.Cancel(c.Request.Context(), id, req.Reason)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, appointment)
}

func (h *Handler) Reschedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid appointment ID"})
		return
	}

	var req model.RescheduleAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	date, startTime, err := parseDateTime(req.Date, req.StartTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	appointment, err := h.booking.Reschedule(c.Request.Context(), id, date, startTime)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, appointment)
}

func parseDateTime(dateStr, timeStr string) (time.Time, time.Time, error) {
	date, err := time.ParseInLocation(model.DateOnly, dateStr, time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	t, err := time.Parse(model.ClockTime, timeStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, time.Local)
	return date, start, nil
}
