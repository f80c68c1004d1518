package allocator

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline/bookingbot/internal/config"
	"github.com/careline/bookingbot/internal/model"
	apperrors "github.com/careline/bookingbot/pkg/errors"
	"github.com/careline/bookingbot/pkg/logger"
)

// fakeSlotRepo mirrors the postgres repository's contract, including
// the all-or-nothing BookRange check under a single lock.
type fakeSlotRepo struct {
	mu    sync.Mutex
	slots map[string][]*model.Slot
}

func newFakeSlotRepo() *fakeSlotRepo {
	return &fakeSlotRepo{slots: make(map[string][]*model.Slot)}
}

func gridKey(doctorID uuid.UUID, date time.Time) string {
	return doctorID.String() + ":" + date.Format(model.DateOnly)
}

func (r *fakeSlotRepo) ListByDoctorDate(_ context.Context, doctorID uuid.UUID, date time.Time) ([]*model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.Slot(nil), r.slots[gridKey(doctorID, date)]...), nil
}

func (r *fakeSlotRepo) ListAvailable(_ context.Context, doctorID uuid.UUID, date time.Time) ([]*model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Slot
	for _, s := range r.slots[gridKey(doctorID, date)] {
		if s.Status == model.SlotStatusAvailable {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSlotRepo) ListByAppointment(_ context.Context, appointmentID uuid.UUID) ([]*model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Slot
	for _, grid := range r.slots {
		for _, s := range grid {
			if s.AppointmentID != nil && *s.AppointmentID == appointmentID {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (r *fakeSlotRepo) BulkCreate(_ context.Context, slots []*model.Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range slots {
		key := gridKey(s.DoctorID, s.Date)
		r.slots[key] = append(r.slots[key], s)
	}
	return nil
}

func (r *fakeSlotRepo) BookRange(_ context.Context, doctorID uuid.UUID, date time.Time, startSlot, count int, appointmentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bookRangeLocked(doctorID, date, startSlot, count, appointmentID)
}

func (r *fakeSlotRepo) bookRangeLocked(doctorID uuid.UUID, date time.Time, startSlot, count int, appointmentID uuid.UUID) error {
	var targets []*model.Slot
	for _, s := range r.slots[gridKey(doctorID, date)] {
		if s.SlotNumber >= startSlot && s.SlotNumber < startSlot+count {
			targets = append(targets, s)
		}
	}
	if len(targets) != count {
		return apperrors.NewSlotConflict("requested slots do not exist")
	}
	for _, s := range targets {
		if s.Status != model.SlotStatusAvailable {
			return apperrors.NewSlotConflict("slot is no longer available")
		}
	}
	id := appointmentID
	for _, s := range targets {
		s.Status = model.SlotStatusBooked
		s.AppointmentID = &id
	}
	return nil
}

func (r *fakeSlotRepo) ReleaseByAppointment(_ context.Context, appointmentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(appointmentID)
	return nil
}

func (r *fakeSlotRepo) releaseLocked(appointmentID uuid.UUID) {
	for _, grid := range r.slots {
		for _, s := range grid {
			if s.AppointmentID != nil && *s.AppointmentID == appointmentID {
				s.Status = model.SlotStatusAvailable
				s.AppointmentID = nil
			}
		}
	}
}

func (r *fakeSlotRepo) Rebook(_ context.Context, appointmentID, doctorID uuid.UUID, newDate time.Time, startSlot, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(appointmentID)
	return r.bookRangeLocked(doctorID, newDate, startSlot, count, appointmentID)
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, TimeFormat: time.RFC3339, Output: io.Discard})
}

func testSchedulingConfig() config.SchedulingConfig {
	return config.SchedulingConfig{
		SlotDurationMinutes:   30,
		DayStart:              "09:00",
		AdvanceBookingDays:    90,
		MinNoticeHours:        2,
		WeekendDays:           []int{0, 6},
		MaxAppointmentsPerDay: 2,
		MinSlotCount:          1,
		MaxSlotCount:          4,
	}
}

func testDoctor() *model.Doctor {
	hours := model.WorkingHours{Start: "09:00", End: "12:00"}
	return &model.Doctor{
		Base:                model.Base{ID: uuid.New()},
		Name:                "Alice Grant",
		Department:          "cardiology",
		SlotsPerAppointment: 1,
		IsActive:            true,
		WeeklySchedule: map[string]model.WorkingHours{
			"monday": hours, "tuesday": hours, "wednesday": hours, "thursday": hours, "friday": hours,
		},
	}
}

func nextWeekday(from time.Time, wd time.Weekday) time.Time {
	for from.Weekday() != wd {
		from = from.AddDate(0, 0, 1)
	}
	return from
}

var testMonday = nextWeekday(time.Date(2026, 9, 1, 0, 0, 0, 0, time.Local), time.Monday)

func TestGenerateSlots(t *testing.T) {
	svc := NewService(newFakeSlotRepo(), testSchedulingConfig(), testLogger())
	doctor := testDoctor()

	slots, err := svc.GenerateSlots(doctor, testMonday)
	require.NoError(t, err)
	// 09:00-12:00 at 30 minutes is six slots
	require.Len(t, slots, 6)

	for i, s := range slots {
		assert.Equal(t, i+1, s.SlotNumber)
		assert.Equal(t, model.SlotStatusAvailable, s.Status)
		assert.True(t, s.EndTime.Equal(s.StartTime.Add(30*time.Minute)))
		if i > 0 {
			assert.True(t, s.StartTime.Equal(slots[i-1].EndTime), "slots must be contiguous")
		}
	}
	assert.Equal(t, "09:00", slots[0].StartTime.Format(model.ClockTime))
	assert.Equal(t, "12:00", slots[5].EndTime.Format(model.ClockTime))
}

func TestGenerateSlotsClosedDays(t *testing.T) {
	svc := NewService(newFakeSlotRepo(), testSchedulingConfig(), testLogger())
	doctor := testDoctor()

	saturday := nextWeekday(testMonday, time.Saturday)
	slots, err := svc.GenerateSlots(doctor, saturday)
	require.NoError(t, err)
	assert.Empty(t, slots, "weekend produces no slots")

	dayOff := testMonday.AddDate(0, 0, 7)
	doctor.Exceptions = []model.ScheduleException{{Date: dayOff.Format(model.DateOnly), Type: model.ExceptionDayOff}}
	slots, err = svc.GenerateSlots(doctor, dayOff)
	require.NoError(t, err)
	assert.Empty(t, slots, "day-off exception produces no slots")
}

func TestGenerateSlotsCustomHours(t *testing.T) {
	svc := NewService(newFakeSlotRepo(), testSchedulingConfig(), testLogger())
	doctor := testDoctor()
	doctor.Exceptions = []model.ScheduleException{{
		Date:  testMonday.Format(model.DateOnly),
		Type:  model.ExceptionCustomHours,
		Hours: &model.WorkingHours{Start: "10:00", End: "11:00"},
	}}

	slots, err := svc.GenerateSlots(doctor, testMonday)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "10:00", slots[0].StartTime.Format(model.ClockTime))
}

func TestEnsureSlotsIsIdempotent(t *testing.T) {
	repo := newFakeSlotRepo()
	svc := NewService(repo, testSchedulingConfig(), testLogger())
	doctor := testDoctor()

	first, err := svc.EnsureSlots(context.Background(), doctor, testMonday)
	require.NoError(t, err)
	require.Len(t, first, 6)

	second, err := svc.EnsureSlots(context.Background(), doctor, testMonday)
	require.NoError(t, err)
	assert.Len(t, second, 6)

	stored, _ := repo.ListByDoctorDate(context.Background(), doctor.ID, testMonday)
	assert.Len(t, stored, 6, "second call must not duplicate the grid")
}

func TestConsecutiveGroups(t *testing.T) {
	repo := newFakeSlotRepo()
	svc := NewService(repo, testSchedulingConfig(), testLogger())
	doctor := testDoctor()

	_, err := svc.EnsureSlots(context.Background(), doctor, testMonday)
	require.NoError(t, err)

	// book slot 3, leaving runs 1-2 and 4-6
	require.NoError(t, svc.Book(context.Background(), doctor.ID, testMonday, 3, 1, uuid.New()))

	groups, err := svc.ConsecutiveGroups(context.Background(), doctor.ID, testMonday, 2)
	require.NoError(t, err)
	starts := make([]int, len(groups))
	for i, g := range groups {
		starts[i] = g[0].SlotNumber
	}
	assert.Equal(t, []int{1, 4, 5}, starts)

	groups, err = svc.ConsecutiveGroups(context.Background(), doctor.ID, testMonday, 3)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 4, groups[0][0].SlotNumber)

	_, err = svc.ConsecutiveGroups(context.Background(), doctor.ID, testMonday, 0)
	assert.Error(t, err)
}

func TestBookAndReleaseSymmetry(t *testing.T) {
	repo := newFakeSlotRepo()
	svc := NewService(repo, testSchedulingConfig(), testLogger())
	doctor := testDoctor()
	appointmentID := uuid.New()

	_, err := svc.EnsureSlots(context.Background(), doctor, testMonday)
	require.NoError(t, err)

	require.NoError(t, svc.Book(context.Background(), doctor.ID, testMonday, 2, 2, appointmentID))

	available, err := svc.AvailableSlots(context.Background(), doctor.ID, testMonday)
	require.NoError(t, err)
	assert.Len(t, available, 4)

	// double-booking the same range must conflict
	err = svc.Book(context.Background(), doctor.ID, testMonday, 2, 2, uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrSlotConflict))

	require.NoError(t, svc.Release(context.Background(), appointmentID))
	available, err = svc.AvailableSlots(context.Background(), doctor.ID, testMonday)
	require.NoError(t, err)
	assert.Len(t, available, 6)
}

func TestBookOffsetOverlapConflicts(t *testing.T) {
	repo := newFakeSlotRepo()
	svc := NewService(repo, testSchedulingConfig(), testLogger())
	doctor := testDoctor()
	first := uuid.New()

	_, err := svc.EnsureSlots(context.Background(), doctor, testMonday)
	require.NoError(t, err)

	require.NoError(t, svc.Book(context.Background(), doctor.ID, testMonday, 4, 2, first))

	// 5-6 shares slot 5 with the existing 4-5 reservation
	err = svc.Book(context.Background(), doctor.ID, testMonday, 5, 2, uuid.New())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrSlotConflict))

	// the winner keeps its range, and the loser's free slot stays free
	owned, err := repo.ListByAppointment(context.Background(), first)
	require.NoError(t, err)
	require.Len(t, owned, 2)

	available, err := svc.AvailableSlots(context.Background(), doctor.ID, testMonday)
	require.NoError(t, err)
	assert.Len(t, available, 4)
}

func TestConcurrentBookingSingleWinner(t *testing.T) {
	repo := newFakeSlotRepo()
	svc := NewService(repo, testSchedulingConfig(), testLogger())
	doctor := testDoctor()

	_, err := svc.EnsureSlots(context.Background(), doctor, testMonday)
	require.NoError(t, err)

	const contenders = 8
	errs := make([]error, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Book(context.Background(), doctor.ID, testMonday, 1, 2, uuid.New())
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.True(t, apperrors.IsCode(err, apperrors.ErrSlotConflict))
		}
	}
	assert.Equal(t, 1, winners, "exactly one contender may win the range")
}

func TestRebookMovesReservation(t *testing.T) {
	repo := newFakeSlotRepo()
	svc := NewService(repo, testSchedulingConfig(), testLogger())
	doctor := testDoctor()
	appointmentID := uuid.New()
	tuesday := testMonday.AddDate(0, 0, 1)

	_, err := svc.EnsureSlots(context.Background(), doctor, testMonday)
	require.NoError(t, err)
	_, err = svc.EnsureSlots(context.Background(), doctor, tuesday)
	require.NoError(t, err)

	require.NoError(t, svc.Book(context.Background(), doctor.ID, testMonday, 1, 2, appointmentID))
	require.NoError(t, svc.Rebook(context.Background(), appointmentID, doctor.ID, tuesday, 3, 2))

	mondayAvailable, _ := svc.AvailableSlots(context.Background(), doctor.ID, testMonday)
	assert.Len(t, mondayAvailable, 6, "old slots released")

	tuesdayAvailable, _ := svc.AvailableSlots(context.Background(), doctor.ID, tuesday)
	assert.Len(t, tuesdayAvailable, 4, "new slots booked")
}

func TestTimeToSlotNumber(t *testing.T) {
	svc := NewService(newFakeSlotRepo(), testSchedulingConfig(), testLogger())

	at := func(hour, minute int) time.Time {
		return time.Date(2026, 9, 7, hour, minute, 0, 0, time.Local)
	}
	assert.Equal(t, 1, svc.TimeToSlotNumber(at(9, 0)))
	assert.Equal(t, 1, svc.TimeToSlotNumber(at(9, 29)))
	assert.Equal(t, 2, svc.TimeToSlotNumber(at(9, 30)))
	assert.Equal(t, 7, svc.TimeToSlotNumber(at(12, 0)))
	assert.Equal(t, 0, svc.TimeToSlotNumber(at(8, 0)), "before day start")
}

func TestNextAvailableDate(t *testing.T) {
	repo := newFakeSlotRepo()
	svc := NewService(repo, testSchedulingConfig(), testLogger())
	doctor := testDoctor()

	friday := nextWeekday(testMonday, time.Friday)
	// the weekend after friday must be skipped; monday is the answer
	next, found, err := svc.NextAvailableDate(context.Background(), doctor, friday, 14)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, friday.AddDate(0, 0, 3).Format(model.DateOnly), next.Format(model.DateOnly))
}
