package model

import (
	"fmt"
	"strings"
	"time"
)

// WorkingHours is a daily open/close pair in HH:MM.
type WorkingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// OnDate anchors the clock strings to a calendar date.
func (w WorkingHours) OnDate(date time.Time) (time.Time, time.Time, error) {
	start, err := clockOnDate(w.Start, date)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time %q: %w", w.Start, err)
	}
	end, err := clockOnDate(w.End, date)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time %q: %w", w.End, err)
	}
	return start, end, nil
}

func clockOnDate(clock string, date time.Time) (time.Time, error) {
	t, err := time.Parse(ClockTime, clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}

type ExceptionType string

const (
	ExceptionDayOff      ExceptionType = "day_off"
	ExceptionCustomHours ExceptionType = "custom_hours"
)

// ScheduleException overrides the weekly schedule for a single date.
type ScheduleException struct {
	Date  string        `json:"date"` // YYYY-MM-DD
	Type  ExceptionType `json:"type"`
	Hours *WorkingHours `json:"hours,omitempty"` // custom_hours only
}

// Doctor is a bookable clinician. WeeklySchedule and Exceptions are
// stored as JSONB; the ScheduleJSON/ExceptionsJSON columns carry the raw
// bytes across the repository boundary.
type Doctor struct {
	Base
	Name                  string                  `db:"name" json:"name"`
	Department            string                  `db:"department" json:"department"`
	Email                 string                  `db:"email" json:"email"`
	SlotsPerAppointment   int                     `db:"slots_per_appointment" json:"slots_per_appointment"` // 1-4
	MaxAppointmentsPerDay int                     `db:"max_appointments_per_day" json:"max_appointments_per_day"`
	IsActive              bool                    `db:"is_active" json:"is_active"`
	WeeklySchedule        map[string]WorkingHours `db:"-" json:"weekly_schedule"` // keyed by lowercase weekday name
	Exceptions            []ScheduleException     `db:"-" json:"exceptions,omitempty"`
	ScheduleJSON          []byte                  `db:"weekly_schedule" json:"-"`
	ExceptionsJSON        []byte                  `db:"exceptions" json:"-"`
}

// ExceptionFor returns the date-specific exception, if any.
func (d *Doctor) ExceptionFor(date time.Time) *ScheduleException {
	key := date.Format(DateOnly)
	for i := range d.Exceptions {
		if d.Exceptions[i].Date == key {
			return &d.Exceptions[i]
		}
	}
	return nil
}

// HoursFor resolves working hours for a date: custom-hours exception
// wins over the weekly schedule, a day-off exception closes the day.
// ok=false means the doctor does not work that date.
func (d *Doctor) HoursFor(date time.Time) (WorkingHours, bool) {
	if exc := d.ExceptionFor(date); exc != nil {
		if exc.Type == ExceptionDayOff || exc.Hours == nil {
			return WorkingHours{}, false
		}
		return *exc.Hours, true
	}
	weekday := strings.ToLower(date.Weekday().String())
	hours, ok := d.WeeklySchedule[weekday]
	return hours, ok
}
