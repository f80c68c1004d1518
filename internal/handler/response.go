package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/careline/bookingbot/pkg/errors"
)

// RespondOK writes a success envelope.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": data})
}

// RespondCreated writes a success envelope with 201.
func RespondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": data})
}

// RespondError maps a typed application error to an HTTP status.
func RespondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperrors.CodeOf(err) {
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrBadRequest:
		status = http.StatusBadRequest
	case apperrors.ErrPolicyViolation:
		status = http.StatusUnprocessableEntity
	case apperrors.ErrSlotConflict, apperrors.ErrPatientConflict, apperrors.ErrCapacityReached:
		status = http.StatusConflict
	case apperrors.ErrCollaborator:
		status = http.StatusServiceUnavailable
	}

	body := gin.H{"status": "error", "message": err.Error()}
	var appErr *apperrors.AppError
	if apperrors.AsAppError(err, &appErr) {
		body["message"] = appErr.Message
		if appErr.Rule != "" {
			body["rule"] = string(appErr.Rule)
		}
	}
	c.JSON(status, body)
}
