package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/careline/bookingbot/internal/model"
)

// All repository interfaces in one file
type (
	// DoctorRepository serves the doctor catalogue. Schedules are
	// read-mostly; writes happen through an admin surface out of scope
	// here.
	DoctorRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Doctor, error)
		List(ctx context.Context, activeOnly bool) ([]*model.Doctor, error)
		SearchByName(ctx context.Context, name string) ([]*model.Doctor, error)
		ListByDepartment(ctx context.Context, department string) ([]*model.Doctor, error)
		ListDepartments(ctx context.Context) ([]string, error)
	}

	// SlotRepository owns the per-doctor per-day time grid. BookRange and
	// Rebook are the only operations that take row-level locks.
	SlotRepository interface {
		ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*model.Slot, error)
		ListAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*model.Slot, error)
		ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.Slot, error)
		BulkCreate(ctx context.Context, slots []*model.Slot) error
		// BookRange locks the target rows, verifies exactly count slots
		// exist and are available, and flips them to booked. Returns a
		// slot-conflict error on any mismatch.
		BookRange(ctx context.Context, doctorID uuid.UUID, date time.Time, startSlot, count int, appointmentID uuid.UUID) error
		// ReleaseByAppointment flips all slots owned by the appointment
		// back to available and clears the link.
		ReleaseByAppointment(ctx context.Context, appointmentID uuid.UUID) error
		// Rebook releases the appointment's current slots and books the
		// new range in a single transaction.
		Rebook(ctx context.Context, appointmentID, doctorID uuid.UUID, newDate time.Time, startSlot, count int) error
	}

	AppointmentRepository interface {
		Create(ctx context.Context, appointment *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		Update(ctx context.Context, appointment *model.Appointment) error
		// Cancel persists the cancelled appointment and releases its
		// slots in a single transaction, so a crash cannot leave a
		// cancelled appointment still holding its reservation.
		Cancel(ctx context.Context, appointment *model.Appointment) error
		Delete(ctx context.Context, id uuid.UUID) error
		HasPatientOverlap(ctx context.Context, patientID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error)
		CountForPatientOnDate(ctx context.Context, patientID uuid.UUID, date time.Time, excludeID *uuid.UUID) (int, error)
		ListUpcomingForPatient(ctx context.Context, patientID uuid.UUID, from time.Time) ([]*model.Appointment, error)
	}

	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		Update(ctx context.Context, patient *model.Patient) error
		// FindByDetails returns (nil, nil) when no patient matches.
		FindByDetails(ctx context.Context, name string, dateOfBirth *time.Time, phone string) (*model.Patient, error)
	}
)
