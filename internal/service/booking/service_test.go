package booking

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline/bookingbot/internal/config"
	"github.com/careline/bookingbot/internal/model"
	"github.com/careline/bookingbot/internal/service/allocator"
	"github.com/careline/bookingbot/internal/service/scheduling"
	apperrors "github.com/careline/bookingbot/pkg/errors"
	"github.com/careline/bookingbot/pkg/logger"
)

type fakeDoctorRepo struct {
	doctor *model.Doctor
}

func (r *fakeDoctorRepo) Get(_ context.Context, id uuid.UUID) (*model.Doctor, error) {
	if r.doctor != nil && r.doctor.ID == id {
		return r.doctor, nil
	}
	return nil, apperrors.NewNotFound("doctor", nil)
}

func (r *fakeDoctorRepo) List(context.Context, bool) ([]*model.Doctor, error) {
	return []*model.Doctor{r.doctor}, nil
}

func (r *fakeDoctorRepo) SearchByName(_ context.Context, name string) ([]*model.Doctor, error) {
	if strings.Contains(strings.ToLower(r.doctor.Name), strings.ToLower(name)) {
		return []*model.Doctor{r.doctor}, nil
	}
	return nil, nil
}

func (r *fakeDoctorRepo) ListByDepartment(_ context.Context, department string) ([]*model.Doctor, error) {
	if strings.EqualFold(r.doctor.Department, department) {
		return []*model.Doctor{r.doctor}, nil
	}
	return nil, nil
}

func (r *fakeDoctorRepo) ListDepartments(context.Context) ([]string, error) {
	return []string{r.doctor.Department}, nil
}

type fakePatientRepo struct {
	patients map[uuid.UUID]*model.Patient
}

func (r *fakePatientRepo) Create(_ context.Context, p *model.Patient) error {
	r.patients[p.ID] = p
	return nil
}

func (r *fakePatientRepo) Get(_ context.Context, id uuid.UUID) (*model.Patient, error) {
	p, ok := r.patients[id]
	if !ok {
		return nil, apperrors.NewNotFound("patient", nil)
	}
	return p, nil
}

func (r *fakePatientRepo) Update(_ context.Context, p *model.Patient) error {
	r.patients[p.ID] = p
	return nil
}

func (r *fakePatientRepo) FindByDetails(context.Context, string, *time.Time, string) (*model.Patient, error) {
	return nil, nil
}

type fakeAppointmentRepo struct {
	mu         sync.Mutex
	items      map[uuid.UUID]*model.Appointment
	slots      *fakeSlotRepo
	failCreate bool
	failCancel bool
}

func newFakeAppointmentRepo(slots *fakeSlotRepo) *fakeAppointmentRepo {
	return &fakeAppointmentRepo{items: make(map[uuid.UUID]*model.Appointment), slots: slots}
}

func (r *fakeAppointmentRepo) Create(_ context.Context, a *model.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate {
		return fmt.Errorf("insert failed")
	}
	r.items[a.ID] = a
	return nil
}

func (r *fakeAppointmentRepo) Get(_ context.Context, id uuid.UUID) (*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return nil, apperrors.NewNotFound("appointment", nil)
	}
	// a fresh row each time, like the real repository
	cp := *a
	return &cp, nil
}

func (r *fakeAppointmentRepo) Update(_ context.Context, a *model.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[a.ID] = a
	return nil
}

// Cancel is all-or-nothing: a failure leaves both the appointment row
// and the slot reservation untouched.
func (r *fakeAppointmentRepo) Cancel(ctx context.Context, a *model.Appointment) error {
	r.mu.Lock()
	if r.failCancel {
		r.mu.Unlock()
		return fmt.Errorf("cancel failed")
	}
	cp := *a
	r.items[a.ID] = &cp
	r.mu.Unlock()
	return r.slots.ReleaseByAppointment(ctx, a.ID)
}

func (r *fakeAppointmentRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *fakeAppointmentRepo) HasPatientOverlap(_ context.Context, patientID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.items {
		if a.PatientID != patientID || a.Status != model.AppointmentStatusScheduled {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if start.Before(a.EndTime) && end.After(a.StartTime) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeAppointmentRepo) CountForPatientOnDate(_ context.Context, patientID uuid.UUID, date time.Time, excludeID *uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, a := range r.items {
		if a.PatientID != patientID || a.Status != model.AppointmentStatusScheduled {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.Date.Format(model.DateOnly) == date.Format(model.DateOnly) {
			count++
		}
	}
	return count, nil
}

func (r *fakeAppointmentRepo) all() []*model.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Appointment
	for _, a := range r.items {
		out = append(out, a)
	}
	return out
}

func (r *fakeAppointmentRepo) ListUpcomingForPatient(_ context.Context, patientID uuid.UUID, from time.Time) ([]*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Appointment
	for _, a := range r.items {
		if a.PatientID == patientID && a.Status == model.AppointmentStatusScheduled && a.StartTime.After(from) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

type fakeSlotRepo struct {
	mu    sync.Mutex
	slots map[string][]*model.Slot
}

func newFakeSlotRepo() *fakeSlotRepo {
	return &fakeSlotRepo{slots: make(map[string][]*model.Slot)}
}

func slotKey(doctorID uuid.UUID, date time.Time) string {
	return doctorID.String() + "|" + date.Format(model.DateOnly)
}

func (r *fakeSlotRepo) ListByDoctorDate(_ context.Context, doctorID uuid.UUID, date time.Time) ([]*model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.Slot(nil), r.slots[slotKey(doctorID, date)]...), nil
}

func (r *fakeSlotRepo) ListAvailable(_ context.Context, doctorID uuid.UUID, date time.Time) ([]*model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Slot
	for _, s := range r.slots[slotKey(doctorID, date)] {
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
	for _, day := range r.slots {
		for _, s := range day {
			if s.AppointmentID != nil && *s.AppointmentID == appointmentID {
				out = append(out, s)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotNumber < out[j].SlotNumber })
	return out, nil
}

func (r *fakeSlotRepo) BulkCreate(_ context.Context, slots []*model.Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range slots {
		key := slotKey(s.DoctorID, s.Date)
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
	var target []*model.Slot
	for _, s := range r.slots[slotKey(doctorID, date)] {
		if s.SlotNumber >= startSlot && s.SlotNumber < startSlot+count {
			target = append(target, s)
		}
	}
	if len(target) != count {
		return apperrors.NewSlotConflict("requested slots do not exist")
	}
	for _, s := range target {
		if s.Status != model.SlotStatusAvailable {
			return apperrors.NewSlotConflict("slot already booked")
		}
	}
	for _, s := range target {
		s.Status = model.SlotStatusBooked
		id := appointmentID
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
	for _, day := range r.slots {
		for _, s := range day {
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

// ---------- fixture ----------

type fixture struct {
	svc       *Service
	doctor    *model.Doctor
	patientID uuid.UUID
	appts     *fakeAppointmentRepo
	slots     *fakeSlotRepo
	monday    time.Time
}

func newFixture() *fixture {
	l := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, TimeFormat: time.RFC3339, Output: io.Discard})
	cfg := config.SchedulingConfig{
		SlotDurationMinutes:   30,
		DayStart:              "09:00",
		AdvanceBookingDays:    90,
		MinNoticeHours:        2,
		WeekendDays:           []int{0, 6},
		MaxAppointmentsPerDay: 2,
		MinSlotCount:          1,
		MaxSlotCount:          4,
	}

	weekdays := map[string]model.WorkingHours{}
	for _, day := range []string{"monday", "tuesday", "wednesday", "thursday", "friday"} {
		weekdays[day] = model.WorkingHours{Start: "09:00", End: "17:00"}
	}
	doc := &model.Doctor{
		Base:                model.Base{ID: uuid.New()},
		Name:                "Alice Grant",
		Department:          "cardiology",
		SlotsPerAppointment: 2,
		IsActive:            true,
		WeeklySchedule:      weekdays,
	}

	patientID := uuid.New()
	doctorRepo := &fakeDoctorRepo{doctor: doc}
	patientRepo := &fakePatientRepo{patients: map[uuid.UUID]*model.Patient{
		patientID: {Base: model.Base{ID: patientID}, Name: "John Doe", Phone: "5550100"},
	}}
	slotRepo := newFakeSlotRepo()
	apptRepo := newFakeAppointmentRepo(slotRepo)

	alloc := allocator.NewService(slotRepo, cfg, l)
	validator := scheduling.NewValidator(doctorRepo, apptRepo, alloc, cfg, l)
	svc := NewService(apptRepo, patientRepo, alloc, validator, nil, nil, l)

	d := time.Now().AddDate(0, 0, 4)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	monday := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.Local)

	return &fixture{
		svc:       svc,
		doctor:    doc,
		patientID: patientID,
		appts:     apptRepo,
		slots:     slotRepo,
		monday:    monday,
	}
}

func (f *fixture) at(date time.Time, clock string) time.Time {
	t, err := time.Parse(model.ClockTime, clock)
	if err != nil {
		panic(err)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, time.Local)
}

// ---------- tests ----------

func TestBookReservesSlotsAndRecordsAppointment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	appointment, err := f.svc.Book(ctx, f.patientID, f.doctor.ID, f.monday, f.at(f.monday, "09:30"), 2, "checkup")
	require.NoError(t, err)
	require.NotNil(t, appointment)
	assert.Equal(t, model.AppointmentStatusScheduled, appointment.Status)
	assert.Equal(t, "10:30", appointment.EndTime.Format(model.ClockTime))

	slots, err := f.slots.ListByAppointment(ctx, appointment.ID)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, 2, slots[0].SlotNumber)
	assert.Equal(t, 3, slots[1].SlotNumber)
}

func TestBookRejectsPolicyViolationWithoutTouchingSlots(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	saturday := f.monday.AddDate(0, 0, 5)

	_, err := f.svc.Book(ctx, f.patientID, f.doctor.ID, saturday, f.at(saturday, "09:30"), 2, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrPolicyViolation, apperrors.CodeOf(err))
	assert.Equal(t, apperrors.RuleWeekend, apperrors.RuleOf(err))
	assert.Empty(t, f.appts.all())
}

func TestBookReleasesSlotsWhenCreateFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.appts.failCreate = true

	_, err := f.svc.Book(ctx, f.patientID, f.doctor.ID, f.monday, f.at(f.monday, "09:30"), 2, "")
	require.Error(t, err)

	// the reserved slots went back to the pool
	available, err := f.slots.ListAvailable(ctx, f.doctor.ID, f.monday)
	require.NoError(t, err)
	assert.Len(t, available, 16)
}

func TestBookEnforcesDailyCap(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Book(ctx, f.patientID, f.doctor.ID, f.monday, f.at(f.monday, "09:30"), 2, "")
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, f.patientID, f.doctor.ID, f.monday, f.at(f.monday, "11:00"), 2, "")
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, f.patientID, f.doctor.ID, f.monday, f.at(f.monday, "14:00"), 2, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCapacityReached, apperrors.CodeOf(err))
}

func TestCancelReleasesSlots(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	appointment, err := f.svc.Book(ctx, f.patientID, f.doctor.ID, f.monday, f.at(f.monday, "09:30"), 2, "")
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, appointment.ID, "patient request")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "patient request", *cancelled.CancelReason)
	assert.NotNil(t, cancelled.CancelledAt)

	owned, err := f.slots.ListByAppointment(ctx, appointment.ID)
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestCancelFailureLeavesReservationIntact(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	appointment, err := f.svc.Book(ctx, f.patientID, f.doctor.ID, f.monday, f.at(f.monday, "09:30"), 2, "")
	require.NoError(t, err)

	f.appts.failCancel = true
	_, err = f.svc.Cancel(ctx, appointment.ID, "network blip")
	require.Error(t, err)

	// the status flip and the slot release commit together or not at
	// all: after the failure the appointment is still scheduled and
	// still owns its slots
	stored, err := f.appts.Get(ctx, appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusScheduled, stored.Status)
	assert.Nil(t, stored.CancelledAt)

	owned, err := f.slots.ListByAppointment(ctx, appointment.ID)
	require.NoError(t, err)
	assert.Len(t, owned, 2)

	// and a retry succeeds once the store recovers
	f.appts.failCancel = false
	cancelled, err := f.svc.Cancel(ctx, appointment.ID, "patient request")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, cancelled.Status)
}

func TestCancelGuardsTerminalStates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	appointment, err := f.svc.Book(ctx, f.patientID, f.doctor.ID, f.monday, f.at(f.monday, "09:30"), 2, "")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, appointment.ID, "first")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, appointment.ID, "second")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrBadRequest, apperrors.CodeOf(err))

	completed, err := f.svc.Book(ctx, f.patientID, f.doctor.ID, f.monday, f.at(f.monday, "11:00"), 2, "")
	require.NoError(t, err)
	completed.Status = model.AppointmentStatusCompleted
	require.NoError(t, f.appts.Update(ctx, completed))
	_, err = f.svc.Cancel(ctx, completed.ID, "too late")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrBadRequest, apperrors.CodeOf(err))
}

func TestRescheduleMovesReservation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	appointment, err := f.svc.Book(ctx, f.patientID, f.doctor.ID, f.monday, f.at(f.monday, "09:30"), 2, "")
	require.NoError(t, err)

	// same day, later time: the overlap and cap rules must exempt the
	// appointment being moved
	moved, err := f.svc.Reschedule(ctx, appointment.ID, f.monday, f.at(f.monday, "14:00"))
	require.NoError(t, err)
	assert.Equal(t, "14:00", moved.StartTime.Format(model.ClockTime))
	assert.Equal(t, "15:00", moved.EndTime.Format(model.ClockTime))

	owned, err := f.slots.ListByAppointment(ctx, appointment.ID)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, "14:00", owned[0].StartTime.Format(model.ClockTime))
}

func TestRescheduleRejectsCancelledAppointment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	appointment, err := f.svc.Book(ctx, f.patientID, f.doctor.ID, f.monday, f.at(f.monday, "09:30"), 2, "")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, appointment.ID, "changed my mind")
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, appointment.ID, f.monday, f.at(f.monday, "14:00"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrBadRequest, apperrors.CodeOf(err))
}
