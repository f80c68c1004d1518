package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careline/bookingbot/internal/config"
	"github.com/careline/bookingbot/internal/model"
	"github.com/careline/bookingbot/internal/repository"
	"github.com/careline/bookingbot/internal/service/allocator"
	apperrors "github.com/careline/bookingbot/pkg/errors"
	"github.com/careline/bookingbot/pkg/logger"
)

// Reservation is a candidate booking to be checked against policy.
// ExcludeAppointmentID exempts an appointment being rescheduled from
// the overlap and daily-cap rules.
type Reservation struct {
	PatientID            uuid.UUID
	DoctorID             uuid.UUID
	Date                 time.Time
	StartTime            time.Time
	SlotCount            int
	ExcludeAppointmentID *uuid.UUID
}

// Result carries what the rule chain resolved along the way so the
// caller does not repeat the lookups.
type Result struct {
	Doctor    *model.Doctor
	StartSlot int
	EndTime   time.Time
}

// Validator gates every booking and reschedule through an ordered,
// fail-fast rule chain. The order is fixed: cheap checks fail first
// and error messages are deterministic. No state is mutated before all
// rules pass.
type Validator struct {
	doctors      repository.DoctorRepository
	appointments repository.AppointmentRepository
	allocator    *allocator.Service
	cfg          config.SchedulingConfig
	logger       *logger.Logger
	now          func() time.Time
}

func NewValidator(
	doctors repository.DoctorRepository,
	appointments repository.AppointmentRepository,
	alloc *allocator.Service,
	cfg config.SchedulingConfig,
	l *logger.Logger,
) *Validator {
	return &Validator{
		doctors:      doctors,
		appointments: appointments,
		allocator:    alloc,
		cfg:          cfg,
		logger:       l.WithComponent("validator"),
		now:          time.Now,
	}
}

type ruleFunc func(ctx context.Context, r *Reservation, out *Result) error

// Validate runs the chain. The first violated rule aborts with its
// typed error.
func (v *Validator) Validate(ctx context.Context, r *Reservation) (*Result, error) {
	out := &Result{}
	rules := []ruleFunc{
		v.notInPast,
		v.withinAdvanceHorizon,
		v.doctorActive,
		v.minimumNotice,
		v.notWeekend,
		v.notDayOff,
		v.withinWorkingHours,
		v.consecutiveSlotsAvailable,
		v.noPatientOverlap,
		v.underDailyCap,
		v.slotCountInRange,
	}
	for _, rule := range rules {
		if err := rule(ctx, r, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Rule 1: reservation start must not be in the past.
func (v *Validator) notInPast(_ context.Context, r *Reservation, _ *Result) error {
	if r.StartTime.Before(v.now()) {
		return apperrors.NewPolicyViolation(apperrors.RulePastBooking, "appointments cannot be booked in the past")
	}
	return nil
}

// Rule 2: not beyond the advance-booking horizon.
func (v *Validator) withinAdvanceHorizon(_ context.Context, r *Reservation, _ *Result) error {
	horizon := v.now().AddDate(0, 0, v.cfg.AdvanceBookingDays)
	if r.StartTime.After(horizon) {
		return apperrors.NewPolicyViolation(apperrors.RuleAdvanceLimit,
			fmt.Sprintf("appointments can be booked at most %d days ahead", v.cfg.AdvanceBookingDays))
	}
	return nil
}

// Rule 3: doctor exists and is active.
func (v *Validator) doctorActive(ctx context.Context, r *Reservation, out *Result) error {
	doctor, err := v.doctors.Get(ctx, r.DoctorID)
	if err != nil {
		return err
	}
	if !doctor.IsActive {
		return apperrors.NewPolicyViolation(apperrors.RuleInactiveDoctor, "doctor is not accepting appointments")
	}
	out.Doctor = doctor
	return nil
}

// Rule 4: minimum notice period.
func (v *Validator) minimumNotice(_ context.Context, r *Reservation, _ *Result) error {
	notice := time.Duration(v.cfg.MinNoticeHours) * time.Hour
	if r.StartTime.Before(v.now().Add(notice)) {
		return apperrors.NewPolicyViolation(apperrors.RuleMinNotice,
			fmt.Sprintf("appointments need at least %d hours notice", v.cfg.MinNoticeHours))
	}
	return nil
}

// Rule 5: not on a configured weekend day.
func (v *Validator) notWeekend(_ context.Context, r *Reservation, _ *Result) error {
	for _, d := range v.cfg.WeekendDays {
		if int(r.Date.Weekday()) == d {
			return apperrors.NewPolicyViolation(apperrors.RuleWeekend, "the clinic is closed on weekends")
		}
	}
	return nil
}

// Rule 6: not on the doctor's day-off exception.
func (v *Validator) notDayOff(_ context.Context, r *Reservation, out *Result) error {
	if exc := out.Doctor.ExceptionFor(r.Date); exc != nil && exc.Type == model.ExceptionDayOff {
		return apperrors.NewPolicyViolation(apperrors.RuleDoctorDayOff, "the doctor is off that day")
	}
	return nil
}

// Rule 7: the full reservation span must fit inside working hours.
// Custom-hours exceptions win over the weekly schedule.
func (v *Validator) withinWorkingHours(_ context.Context, r *Reservation, out *Result) error {
	hours, ok := out.Doctor.HoursFor(r.Date)
	if !ok {
		return apperrors.NewPolicyViolation(apperrors.RuleWorkingHours, "the doctor does not work that day")
	}
	open, close, err := hours.OnDate(r.Date)
	if err != nil {
		return fmt.Errorf("failed to resolve working hours: %w", err)
	}
	end := r.StartTime.Add(time.Duration(r.SlotCount) * v.cfg.SlotDuration())
	if r.StartTime.Before(open) || end.After(close) {
		return apperrors.NewPolicyViolation(apperrors.RuleWorkingHours,
			fmt.Sprintf("the requested time falls outside working hours (%s-%s)", hours.Start, hours.End))
	}
	out.EndTime = end
	return nil
}

// Rule 8: a consecutive group of the requested size must start exactly
// at the requested time's slot. Delegates to the allocator.
func (v *Validator) consecutiveSlotsAvailable(ctx context.Context, r *Reservation, out *Result) error {
	slots, err := v.allocator.EnsureSlots(ctx, out.Doctor, r.Date)
	if err != nil {
		return err
	}

	startSlot := 0
	for _, slot := range slots {
		if slot.StartTime.Equal(r.StartTime) {
			startSlot = slot.SlotNumber
			break
		}
	}
	if startSlot == 0 {
		return apperrors.NewPolicyViolation(apperrors.RuleConsecutiveSlots, "the requested time does not match an available slot")
	}

	groups, err := v.allocator.ConsecutiveGroups(ctx, out.Doctor.ID, r.Date, r.SlotCount)
	if err != nil {
		return err
	}
	for _, group := range groups {
		if group[0].SlotNumber == startSlot {
			out.StartSlot = startSlot
			return nil
		}
	}
	return apperrors.NewPolicyViolation(apperrors.RuleConsecutiveSlots,
		fmt.Sprintf("%d consecutive slots are not available at the requested time", r.SlotCount))
}

// Rule 9: no overlapping appointment for the same patient.
func (v *Validator) noPatientOverlap(ctx context.Context, r *Reservation, out *Result) error {
	overlap, err := v.appointments.HasPatientOverlap(ctx, r.PatientID, r.StartTime, out.EndTime, r.ExcludeAppointmentID)
	if err != nil {
		return err
	}
	if overlap {
		return apperrors.NewPatientConflict("the patient already has an appointment overlapping that time")
	}
	return nil
}

// Rule 10: patient's per-day appointment count below the cap.
func (v *Validator) underDailyCap(ctx context.Context, r *Reservation, _ *Result) error {
	count, err := v.appointments.CountForPatientOnDate(ctx, r.PatientID, r.Date, r.ExcludeAppointmentID)
	if err != nil {
		return err
	}
	if count >= v.cfg.MaxAppointmentsPerDay {
		return apperrors.NewCapacityReached(
			fmt.Sprintf("the patient already has %d appointments that day", count))
	}
	return nil
}

// Rule 11: requested slot count within the configured bounds.
func (v *Validator) slotCountInRange(_ context.Context, r *Reservation, _ *Result) error {
	if r.SlotCount < v.cfg.MinSlotCount || r.SlotCount > v.cfg.MaxSlotCount {
		return apperrors.NewPolicyViolation(apperrors.RuleSlotCount,
			fmt.Sprintf("slot count must be between %d and %d", v.cfg.MinSlotCount, v.cfg.MaxSlotCount))
	}
	return nil
}
