package allocator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careline/bookingbot/internal/config"
	"github.com/careline/bookingbot/internal/model"
	"github.com/careline/bookingbot/internal/repository"
	"github.com/careline/bookingbot/pkg/logger"
)

// Service materializes each doctor's bookable time grid and provides
// race-safe reservation over it. All locking lives in the repository;
// this layer owns the grid arithmetic.
type Service struct {
	slots  repository.SlotRepository
	cfg    config.SchedulingConfig
	logger *logger.Logger
}

func NewService(slots repository.SlotRepository, cfg config.SchedulingConfig, l *logger.Logger) *Service {
	return &Service{
		slots:  slots,
		cfg:    cfg,
		logger: l.WithComponent("allocator"),
	}
}

// GenerateSlots computes the slot grid for a doctor and date without
// persisting it. Weekends, day-off exceptions, and dates with no
// applicable schedule produce an empty grid — a deliberate "no slots"
// signal, not an error.
func (s *Service) GenerateSlots(doctor *model.Doctor, date time.Time) ([]*model.Slot, error) {
	if s.isWeekend(date) {
		return nil, nil
	}
	hours, ok := doctor.HoursFor(date)
	if !ok {
		return nil, nil
	}

	open, close, err := hours.OnDate(date)
	if err != nil {
		return nil, fmt.Errorf("invalid working hours for doctor %s: %w", doctor.ID, err)
	}

	duration := s.cfg.SlotDuration()
	var slots []*model.Slot
	number := 1
	for start := open; !start.Add(duration).After(close); start = start.Add(duration) {
		slots = append(slots, &model.Slot{
			DoctorID:   doctor.ID,
			Date:       date,
			SlotNumber: number,
			StartTime:  start,
			EndTime:    start.Add(duration),
			Status:     model.SlotStatusAvailable,
		})
		number++
	}
	return slots, nil
}

// EnsureSlots returns the persisted grid for the date, generating and
// storing it on first touch.
func (s *Service) EnsureSlots(ctx context.Context, doctor *model.Doctor, date time.Time) ([]*model.Slot, error) {
	existing, err := s.slots.ListByDoctorDate(ctx, doctor.ID, date)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	generated, err := s.GenerateSlots(doctor, date)
	if err != nil {
		return nil, err
	}
	if len(generated) == 0 {
		return nil, nil
	}
	if err := s.slots.BulkCreate(ctx, generated); err != nil {
		return nil, err
	}
	s.logger.Debug("generated slot grid", "doctor_id", doctor.ID.String(), "date", date.Format(model.DateOnly), "slots", len(generated))
	return generated, nil
}

// AvailableSlots returns available slots ordered by slot number.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*model.Slot, error) {
	return s.slots.ListAvailable(ctx, doctorID, date)
}

// ConsecutiveGroups returns every run of exactly count available slots
// with strictly sequential slot numbers. All valid starting positions
// are returned; the caller picks.
func (s *Service) ConsecutiveGroups(ctx context.Context, doctorID uuid.UUID, date time.Time, count int) ([][]*model.Slot, error) {
	if count < 1 {
		return nil, fmt.Errorf("slot count must be positive, got %d", count)
	}
	available, err := s.slots.ListAvailable(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	var groups [][]*model.Slot
	for i := 0; i+count <= len(available); i++ {
		sequential := true
		for j := 1; j < count; j++ {
			if available[i+j].SlotNumber != available[i].SlotNumber+j {
				sequential = false
				break
			}
		}
		if sequential {
			groups = append(groups, available[i:i+count])
		}
	}
	return groups, nil
}

// Book atomically reserves count contiguous slots starting at
// startSlot. The repository locks the target rows, verifies they are
// all available, and flips them; any mismatch is a slot-conflict error
// and nothing is mutated.
func (s *Service) Book(ctx context.Context, doctorID uuid.UUID, date time.Time, startSlot, count int, appointmentID uuid.UUID) error {
	if err := s.slots.BookRange(ctx, doctorID, date, startSlot, count, appointmentID); err != nil {
		return err
	}
	s.logger.Info("booked slot range",
		"doctor_id", doctorID.String(),
		"date", date.Format(model.DateOnly),
		"start_slot", startSlot,
		"count", count,
		"appointment_id", appointmentID.String(),
	)
	return nil
}

// Release returns all slots owned by the appointment to the pool.
func (s *Service) Release(ctx context.Context, appointmentID uuid.UUID) error {
	return s.slots.ReleaseByAppointment(ctx, appointmentID)
}

// Rebook moves an appointment's reservation to a new range in a single
// transaction.
func (s *Service) Rebook(ctx context.Context, appointmentID, doctorID uuid.UUID, newDate time.Time, startSlot, count int) error {
	return s.slots.Rebook(ctx, appointmentID, doctorID, newDate, startSlot, count)
}

// TimeToSlotNumber maps a wall-clock time to its 1-based slot index
// using the configured day start and slot duration. Returns 0 for
// times before the day start.
func (s *Service) TimeToSlotNumber(t time.Time) int {
	dayStart, err := time.Parse(model.ClockTime, s.cfg.DayStart)
	if err != nil {
		return 0
	}
	minutes := (t.Hour()-dayStart.Hour())*60 + (t.Minute() - dayStart.Minute())
	if minutes < 0 {
		return 0
	}
	return minutes/s.cfg.SlotDurationMinutes + 1
}

// NextAvailableDate scans forward from the day after fromDate for the
// first date with at least one available slot, bounded by horizonDays.
func (s *Service) NextAvailableDate(ctx context.Context, doctor *model.Doctor, fromDate time.Time, horizonDays int) (time.Time, bool, error) {
	for i := 1; i <= horizonDays; i++ {
		date := fromDate.AddDate(0, 0, i)
		slots, err := s.EnsureSlots(ctx, doctor, date)
		if err != nil {
			return time.Time{}, false, err
		}
		if len(slots) == 0 {
			continue
		}
		available, err := s.slots.ListAvailable(ctx, doctor.ID, date)
		if err != nil {
			return time.Time{}, false, err
		}
		if len(available) > 0 {
			return date, true, nil
		}
	}
	return time.Time{}, false, nil
}

func (s *Service) isWeekend(date time.Time) bool {
	for _, d := range s.cfg.WeekendDays {
		if int(date.Weekday()) == d {
			return true
		}
	}
	return false
}
