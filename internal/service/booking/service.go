package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careline/bookingbot/internal/email"
	"github.com/careline/bookingbot/internal/model"
	"github.com/careline/bookingbot/internal/repository"
	"github.com/careline/bookingbot/internal/service/allocator"
	"github.com/careline/bookingbot/internal/service/scheduling"
	apperrors "github.com/careline/bookingbot/pkg/errors"
	"github.com/careline/bookingbot/pkg/logger"
	"github.com/careline/bookingbot/pkg/metrics"
)

// Service is the booking contract exposed to callers: validate, then
// reserve slots, then record the appointment. The validator sees every
// reservation before any slot is touched.
type Service struct {
	appointments repository.AppointmentRepository
	patients     repository.PatientRepository
	allocator    *allocator.Service
	validator    *scheduling.Validator
	email        email.Service
	metrics      *metrics.Metrics
	logger       *logger.Logger
}

func NewService(
	appointments repository.AppointmentRepository,
	patients repository.PatientRepository,
	alloc *allocator.Service,
	validator *scheduling.Validator,
	emailSvc email.Service,
	m *metrics.Metrics,
	l *logger.Logger,
) *Service {
	return &Service{
		appointments: appointments,
		patients:     patients,
		allocator:    alloc,
		validator:    validator,
		email:        emailSvc,
		metrics:      m,
		logger:       l.WithComponent("booking"),
	}
}

// Book validates the reservation against the full policy chain, then
// reserves the slot range under lock and records the appointment. The
// slot reservation happens first so a lost race surfaces as a conflict
// before any appointment row exists.
func (s *Service) Book(ctx context.Context, patientID, doctorID uuid.UUID, date time.Time, startTime time.Time, slotCount int, reason string) (*model.Appointment, error) {
	result, err := s.validator.Validate(ctx, &scheduling.Reservation{
		PatientID: patientID,
		DoctorID:  doctorID,
		Date:      date,
		StartTime: startTime,
		SlotCount: slotCount,
	})
	if err != nil {
		s.recordRejection(err)
		return nil, err
	}

	appointmentID := uuid.New()
	if err := s.allocator.Book(ctx, doctorID, date, result.StartSlot, slotCount, appointmentID); err != nil {
		s.recordRejection(err)
		return nil, err
	}

	appointment := &model.Appointment{
		Base:      model.Base{ID: appointmentID},
		PatientID: patientID,
		DoctorID:  doctorID,
		Date:      date,
		StartTime: startTime,
		EndTime:   result.EndTime,
		SlotCount: slotCount,
		Status:    model.AppointmentStatusScheduled,
		Reason:    reason,
	}
	if err := s.appointments.Create(ctx, appointment); err != nil {
		// hand the slots back; the reservation never existed
		if releaseErr := s.allocator.Release(ctx, appointmentID); releaseErr != nil {
			s.logger.Error(releaseErr, "failed to release slots after create failure", "appointment_id", appointmentID.String())
		}
		return nil, fmt.Errorf("failed to create appointment: %w", err)
	}

	s.metrics.IncBookingCreated()
	s.logger.Info("appointment booked",
		"appointment_id", appointmentID.String(),
		"patient_id", patientID.String(),
		"doctor_id", doctorID.String(),
		"date", date.Format(model.DateOnly),
	)
	s.notifyBooked(ctx, appointment, result.Doctor)
	return appointment, nil
}

// Cancel marks the appointment cancelled and releases its slots as one
// atomic unit: the status flip and the slot release commit together or
// not at all.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID, reason string) (*model.Appointment, error) {
	appointment, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	if appointment.Status == model.AppointmentStatusCancelled {
		return nil, apperrors.NewBadRequest("appointment is already cancelled", nil)
	}
	if appointment.Status == model.AppointmentStatusCompleted {
		return nil, apperrors.NewBadRequest("cannot cancel a completed appointment", nil)
	}

	now := time.Now()
	appointment.Status = model.AppointmentStatusCancelled
	appointment.CancelledAt = &now
	appointment.CancelReason = &reason

	if err := s.appointments.Cancel(ctx, appointment); err != nil {
		return nil, fmt.Errorf("failed to cancel appointment: %w", err)
	}

	s.metrics.IncBookingCancelled()
	s.logger.Info("appointment cancelled", "appointment_id", appointmentID.String(), "reason", reason)
	s.notifyCancelled(ctx, appointment)
	return appointment, nil
}

// Reschedule validates the new time (exempting this appointment from
// the overlap and cap rules) and moves the slot reservation in one
// transaction: release and rebook cannot be torn apart by a crash.
func (s *Service) Reschedule(ctx context.Context, appointmentID uuid.UUID, newDate, newStartTime time.Time) (*model.Appointment, error) {
	appointment, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	if appointment.Status == model.AppointmentStatusCancelled {
		return nil, apperrors.NewBadRequest("cannot reschedule a cancelled appointment", nil)
	}
	if appointment.Status == model.AppointmentStatusCompleted {
		return nil, apperrors.NewBadRequest("cannot reschedule a completed appointment", nil)
	}

	result, err := s.validator.Validate(ctx, &scheduling.Reservation{
		PatientID:            appointment.PatientID,
		DoctorID:             appointment.DoctorID,
		Date:                 newDate,
		StartTime:            newStartTime,
		SlotCount:            appointment.SlotCount,
		ExcludeAppointmentID: &appointmentID,
	})
	if err != nil {
		s.recordRejection(err)
		return nil, err
	}

	if err := s.allocator.Rebook(ctx, appointmentID, appointment.DoctorID, newDate, result.StartSlot, appointment.SlotCount); err != nil {
		s.recordRejection(err)
		return nil, err
	}

	appointment.Date = newDate
	appointment.StartTime = newStartTime
	appointment.EndTime = result.EndTime
	if err := s.appointments.Update(ctx, appointment); err != nil {
		return nil, fmt.Errorf("failed to update rescheduled appointment: %w", err)
	}

	s.metrics.IncBookingRescheduled()
	s.logger.Info("appointment rescheduled",
		"appointment_id", appointmentID.String(),
		"date", newDate.Format(model.DateOnly),
	)
	s.notifyBooked(ctx, appointment, result.Doctor)
	return appointment, nil
}

// Get returns one appointment.
func (s *Service) Get(ctx context.Context, appointmentID uuid.UUID) (*model.Appointment, error) {
	return s.appointments.Get(ctx, appointmentID)
}

// UpcomingForPatient lists the patient's future appointments.
func (s *Service) UpcomingForPatient(ctx context.Context, patientID uuid.UUID) ([]*model.Appointment, error) {
	return s.appointments.ListUpcomingForPatient(ctx, patientID, time.Now())
}

func (s *Service) recordRejection(err error) {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrPolicyViolation:
		s.metrics.IncBookingRejected(string(apperrors.RuleOf(err)))
	case apperrors.ErrSlotConflict:
		s.metrics.IncSlotConflict()
	case apperrors.ErrPatientConflict:
		s.metrics.IncBookingRejected("patient_conflict")
	case apperrors.ErrCapacityReached:
		s.metrics.IncBookingRejected("daily_cap")
	}
}

func (s *Service) notifyBooked(ctx context.Context, appointment *model.Appointment, doctor *model.Doctor) {
	if s.email == nil {
		return
	}
	patient, err := s.patients.Get(ctx, appointment.PatientID)
	if err != nil || patient.Email == "" {
		return
	}
	if err := s.email.SendBookingConfirmation(patient.Email, appointment, doctor); err != nil {
		s.logger.Error(err, "failed to send confirmation email", "appointment_id", appointment.ID.String())
	}
}

func (s *Service) notifyCancelled(ctx context.Context, appointment *model.Appointment) {
	if s.email == nil {
		return
	}
	patient, err := s.patients.Get(ctx, appointment.PatientID)
	if err != nil || patient.Email == "" {
		return
	}
	if err := s.email.SendCancellation(patient.Email, appointment); err != nil {
		s.logger.Error(err, "failed to send cancellation email", "appointment_id", appointment.ID.String())
	}
}
