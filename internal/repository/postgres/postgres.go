package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/careline/bookingbot/internal/repository"
)

type doctorRepository struct {
	BaseRepository
}

type slotRepository struct {
	BaseRepository
}

type appointmentRepository struct {
	BaseRepository
}

type patientRepository struct {
	BaseRepository
}

func NewDoctorRepository(db *sqlx.DB) repository.DoctorRepository {
	return &doctorRepository{NewBaseRepository(db)}
}

func NewSlotRepository(db *sqlx.DB) repository.SlotRepository {
	return &slotRepository{NewBaseRepository(db)}
}

func NewAppointmentRepository(db *sqlx.DB) repository.AppointmentRepository {
	return &appointmentRepository{NewBaseRepository(db)}
}

func NewPatientRepository(db *sqlx.DB) repository.PatientRepository {
	return &patientRepository{NewBaseRepository(db)}
}
