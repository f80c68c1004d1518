package model

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "available"
	SlotStatusBooked    SlotStatus = "booked"
	SlotStatusBlocked   SlotStatus = "blocked"
)

// Slot is one fixed-duration unit of a doctor's bookable day. Slot
// numbers for a doctor/date are contiguous and dense from 1 upward at
// generation time.
type Slot struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	DoctorID      uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	Date          time.Time  `db:"date" json:"date"`
	SlotNumber    int        `db:"slot_number" json:"slot_number"` // 1-based
	StartTime     time.Time  `db:"start_time" json:"start_time"`
	EndTime       time.Time  `db:"end_time" json:"end_time"`
	Status        SlotStatus `db:"status" json:"status"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}
