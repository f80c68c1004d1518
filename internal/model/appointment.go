package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusNoShow    AppointmentStatus = "no_show"
)

// Appointment occupies exactly SlotCount contiguous slots matching
// [StartTime, EndTime) for its doctor and date.
type Appointment struct {
	Base
	PatientID    uuid.UUID         `db:"patient_id" json:"patient_id"`
	DoctorID     uuid.UUID         `db:"doctor_id" json:"doctor_id"`
	Date         time.Time         `db:"date" json:"date"`
	StartTime    time.Time         `db:"start_time" json:"start_time"`
	EndTime      time.Time         `db:"end_time" json:"end_time"`
	SlotCount    int               `db:"slot_count" json:"slot_count"`
	Status       AppointmentStatus `db:"status" json:"status"`
	Reason       string            `db:"reason" json:"reason,omitempty"`
	CancelledAt  *time.Time        `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelReason *string           `db:"cancel_reason" json:"cancel_reason,omitempty"`
}

type BookAppointmentRequest struct {
	PatientID uuid.UUID `json:"patient_id" binding:"required"`
	DoctorID  uuid.UUID `json:"doctor_id" binding:"required"`
	Date      string    `json:"date" binding:"required,dateonly"`
	StartTime string    `json:"start_time" binding:"required,clocktime"`
	SlotCount int       `json:"slot_count" binding:"required,min=1"`
	Reason    string    `json:"reason" binding:"max=1000"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" binding:"max=1000"`
}

type RescheduleAppointmentRequest struct {
	Date      string `json:"date" binding:"required,dateonly"`
	StartTime string `json:"start_time" binding:"required,clocktime"`
}
