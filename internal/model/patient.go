package model

import "time"

type PatientStatus string

const (
	PatientStatusActive   PatientStatus = "active"
	PatientStatusInactive PatientStatus = "inactive"
)

type Patient struct {
	Base
	Name        string        `db:"name" json:"name"`
	DateOfBirth *time.Time    `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Phone       string        `db:"phone" json:"phone"`
	Email       string        `db:"email" json:"email,omitempty"`
	Status      PatientStatus `db:"status" json:"status"`
}
