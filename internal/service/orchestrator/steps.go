package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/careline/bookingbot/internal/model"
	"github.com/careline/bookingbot/internal/service/dialog"
	apperrors "github.com/careline/bookingbot/pkg/errors"
)

// handleState runs the business action of the state the machine landed
// on. prev is the state before this advance step.
func (s *Service) handleState(ctx context.Context, sess *model.Session, prev model.ConversationState, intent *model.Intent) stepResult {
	switch sess.State {
	case model.StateGreeting, model.StateDetectIntent:
		return s.stepDetectIntent(sess, prev, intent)
	case model.StateBookAppointment:
		return continueOn()
	case model.StateCollectName:
		if prev == model.StateVerifyPatient && intent.Name == model.IntentDeny {
			s.clearIdentity(sess)
			return respondWith("No problem, let's start over. " + dialog.PromptForMissing([]string{model.EntityPatientName}, sess.State))
		}
		return s.stepCollect(sess)
	case model.StateCollectDOB, model.StateCollectPhone, model.StateSelectDate:
		return s.stepCollect(sess)
	case model.StateVerifyPatient:
		return s.stepVerifyPatient(ctx, sess)
	case model.StateSelectDoctor:
		return s.stepSelectDoctor(ctx, sess)
	case model.StateShowSlots:
		return s.stepShowSlots(ctx, sess)
	case model.StateSelectSlot:
		return s.stepSelectSlot(ctx, sess)
	case model.StateConfirmBooking:
		return s.stepConfirmBooking(ctx, sess)
	case model.StateExecuteBooking:
		return s.stepExecuteBooking(ctx, sess)
	case model.StateCancelAppointment:
		return s.stepCancel(ctx, sess, intent)
	case model.StateReschedule:
		return s.stepReschedule(ctx, sess, intent)
	case model.StateGeneralInquiry:
		return s.stepGeneralInquiry(ctx, sess)
	case model.StateClosing:
		if intent.Name == model.IntentGoodbye {
			return continueOn()
		}
		return respondWith("Is there anything else I can help you with?")
	case model.StateEnd:
		return respondWith("Goodbye! Take care.")
	}
	return respondWith(fallbackText)
}

func (s *Service) stepDetectIntent(sess *model.Session, prev model.ConversationState, intent *model.Intent) stepResult {
	if prev == model.StateGreeting || sess.TurnCount == 0 {
		return respondWith("Hello! I can help you book, reschedule, cancel, or check an appointment. What can I do for you?")
	}
	if intent.Name == model.IntentUnknown {
		return respondWith("I can help you book, reschedule, cancel, or check an appointment. What would you like to do?")
	}
	return respondWith("How can I help you today?")
}

// stepCollect covers the plain collection states: if the state's data
// arrived out of order the machine gets another go, otherwise ask the
// canned question for the first missing key.
func (s *Service) stepCollect(sess *model.Session) stepResult {
	if dialog.CanProceed(sess.State, sess) {
		return continueOn()
	}
	return respondWith(dialog.PromptForMissing(dialog.MissingKeys(sess.State, sess), sess.State))
}

// stepVerifyPatient resolves the collected identity against the patient
// registry on first arrival, then waits for a yes before the machine
// branches into the active flow.
func (s *Service) stepVerifyPatient(ctx context.Context, sess *model.Session) stepResult {
	name, _ := sess.Get(model.EntityPatientName)
	dobStr, _ := sess.Get(model.EntityDateOfBirth)
	phone, _ := sess.Get(model.EntityPhone)

	if sess.PatientID == nil {
		var dob *time.Time
		if parsed, err := time.Parse(model.DateOnly, dobStr); err == nil {
			dob = &parsed
		}
		p, err := s.patients.FindOrCreate(ctx, name, phone, dob)
		if err != nil {
			s.logger.Error(err, "patient verification failed", "session_id", sess.ID)
			return respondWith(apologyText)
		}
		sess.PatientID = &p.ID
	}

	return respondWith(fmt.Sprintf(
		"Thanks, %s. I have your date of birth as %s and your phone number as %s. Is that correct?",
		name, dobStr, phone,
	))
}

// stepSelectDoctor handles the zero-and-many branches; the unique-match
// branch already resolved inside the machine transition.
func (s *Service) stepSelectDoctor(ctx context.Context, sess *model.Session) stepResult {
	if _, ok := sess.Get(model.KeyDoctorID); ok {
		return continueOn()
	}

	if name, ok := sess.Get(model.EntityDoctorName); ok {
		matches, err := s.doctors.Search(ctx, name)
		if err != nil {
			s.logger.Error(err, "doctor search failed", "session_id", sess.ID)
			return respondWith(apologyText)
		}
		if len(matches) == 0 {
			delete(sess.Collected, model.EntityDoctorName)
			return respondWith(fmt.Sprintf(
				"I couldn't find a doctor named %s. %s", name, s.departmentSuggestion(ctx),
			))
		}
		// multiple matches: re-prompt with the candidates
		names := make([]string, len(matches))
		for i, d := range matches {
			names[i] = fmt.Sprintf("%s (%s)", d.Name, d.Department)
		}
		delete(sess.Collected, model.EntityDoctorName)
		return respondWith("We have several doctors matching that name: " + strings.Join(names, ", ") + ". Which one would you like?")
	}

	if department, ok := sess.Get(model.EntityDepartment); ok {
		matches, err := s.doctors.ListByDepartment(ctx, department)
		if err != nil {
			s.logger.Error(err, "department lookup failed", "session_id", sess.ID)
			return respondWith(apologyText)
		}
		if len(matches) == 0 {
			delete(sess.Collected, model.EntityDepartment)
			return respondWith(fmt.Sprintf("We don't have a %s department. %s", department, s.departmentSuggestion(ctx)))
		}
		names := make([]string, len(matches))
		for i, d := range matches {
			names[i] = d.Name
		}
		return respondWith(fmt.Sprintf("In %s we have: %s. Which doctor would you like?", department, strings.Join(names, ", ")))
	}

	return respondWith(dialog.PromptForMissing([]string{model.KeyDoctorID}, sess.State))
}

func (s *Service) departmentSuggestion(ctx context.Context) string {
	departments, err := s.doctors.ListDepartments(ctx)
	if err != nil || len(departments) == 0 {
		return "Could you try another name?"
	}
	return "Our departments are: " + strings.Join(departments, ", ") + "."
}

// stepShowSlots lists bookable start times for the chosen doctor and
// date, sized to the doctor's slots-per-appointment.
func (s *Service) stepShowSlots(ctx context.Context, sess *model.Session) stepResult {
	if _, ok := sess.Get(model.EntityTime); ok {
		return continueOn()
	}

	doctor, date, err := s.doctorAndDate(ctx, sess)
	if err != nil {
		s.logger.Error(err, "failed to resolve doctor and date", "session_id", sess.ID)
		return respondWith(apologyText)
	}

	if _, err := s.allocator.EnsureSlots(ctx, doctor, date); err != nil {
		s.logger.Error(err, "failed to materialize slots", "session_id", sess.ID)
		return respondWith(apologyText)
	}
	groups, err := s.allocator.ConsecutiveGroups(ctx, doctor.ID, date, doctor.SlotsPerAppointment)
	if err != nil {
		s.logger.Error(err, "failed to list slot groups", "session_id", sess.ID)
		return respondWith(apologyText)
	}

	if len(groups) == 0 {
		delete(sess.Collected, model.EntityDate)
		nextDate, found, err := s.allocator.NextAvailableDate(ctx, doctor, date, s.scheduling.AdvanceBookingDays)
		if err == nil && found {
			return respondWith(fmt.Sprintf(
				"%s has no availability on %s. The next open day is %s. Would that work?",
				doctor.Name, formatDate(date), formatDate(nextDate),
			))
		}
		return respondWith(fmt.Sprintf("%s has no availability on %s. Could you pick another date?", doctor.Name, formatDate(date)))
	}

	const maxShown = 6
	times := make([]string, 0, maxShown)
	for _, group := range groups {
		times = append(times, group[0].StartTime.Format(model.ClockTime))
		if len(times) == maxShown {
			break
		}
	}
	return respondWith(fmt.Sprintf(
		"%s is available on %s at: %s. What time works for you?",
		doctor.Name, formatDate(date), strings.Join(times, ", "),
	))
}

// stepSelectSlot validates the requested time against the grid and
// derives the slot number and end time.
func (s *Service) stepSelectSlot(ctx context.Context, sess *model.Session) stepResult {
	if _, ok := sess.Get(model.KeySlotNumber); ok {
		return continueOn()
	}
	timeStr, ok := sess.Get(model.EntityTime)
	if !ok {
		return respondWith(dialog.PromptForMissing([]string{model.EntityTime}, sess.State))
	}

	doctor, date, err := s.doctorAndDate(ctx, sess)
	if err != nil {
		s.logger.Error(err, "failed to resolve doctor and date", "session_id", sess.ID)
		return respondWith(apologyText)
	}
	startTime, err := combineDateTime(date, timeStr)
	if err != nil {
		delete(sess.Collected, model.EntityTime)
		return respondWith("I didn't understand that time. Could you give it like 14:30 or 2:30 pm?")
	}

	groups, err := s.allocator.ConsecutiveGroups(ctx, doctor.ID, date, doctor.SlotsPerAppointment)
	if err != nil {
		s.logger.Error(err, "failed to list slot groups", "session_id", sess.ID)
		return respondWith(apologyText)
	}
	for _, group := range groups {
		if group[0].StartTime.Equal(startTime) {
			sess.Set(model.KeySlotNumber, strconv.Itoa(group[0].SlotNumber))
			sess.Set(model.KeyEndTime, group[len(group)-1].EndTime.Format(model.ClockTime))
			return continueOn()
		}
	}

	delete(sess.Collected, model.EntityTime)
	return respondWith(fmt.Sprintf("%s isn't available at that time. Could you pick one of the times I listed?", doctor.Name))
}

func (s *Service) stepConfirmBooking(ctx context.Context, sess *model.Session) stepResult {
	doctor, date, err := s.doctorAndDate(ctx, sess)
	if err != nil {
		s.logger.Error(err, "failed to resolve doctor and date", "session_id", sess.ID)
		return respondWith(apologyText)
	}
	timeStr, _ := sess.Get(model.EntityTime)
	endStr, _ := sess.Get(model.KeyEndTime)

	return respondWith(fmt.Sprintf(
		"To confirm: an appointment with %s (%s) on %s from %s to %s. Shall I book it?",
		doctor.Name, doctor.Department, formatDate(date), timeStr, endStr,
	))
}

// stepExecuteBooking hands the reservation to the booking service. A
// policy rejection or a lost slot race sends the user back to pick a
// different time; the session never records a booking that did not
// commit.
func (s *Service) stepExecuteBooking(ctx context.Context, sess *model.Session) stepResult {
	doctor, date, err := s.doctorAndDate(ctx, sess)
	if err != nil {
		s.logger.Error(err, "failed to resolve doctor and date", "session_id", sess.ID)
		return respondWith(apologyText)
	}
	timeStr, _ := sess.Get(model.EntityTime)
	startTime, err := combineDateTime(date, timeStr)
	if err != nil {
		s.logger.Error(err, "invalid collected time", "session_id", sess.ID, "time", timeStr)
		return respondWith(apologyText)
	}

	appointment, err := s.booking.Book(ctx, *sess.PatientID, doctor.ID, date, startTime, doctor.SlotsPerAppointment, "")
	if err != nil {
		delete(sess.Collected, model.EntityTime)
		delete(sess.Collected, model.KeySlotNumber)
		delete(sess.Collected, model.KeyEndTime)
		sess.State = model.StateSelectDate

		var appErr *apperrors.AppError
		if apperrors.AsAppError(err, &appErr) {
			return respondWith(fmt.Sprintf("I couldn't book that: %s. Would you like to try a different date or time?", appErr.Message))
		}
		s.logger.Error(err, "booking failed", "session_id", sess.ID)
		return respondWith(apologyText)
	}

	sess.Set(model.KeyAppointmentID, appointment.ID.String())
	sess.State = model.StateClosing
	return respondWith(fmt.Sprintf(
		"You're all set! Your appointment with %s is booked for %s at %s. Is there anything else I can help you with?",
		doctor.Name, formatDate(date), timeStr,
	))
}

func (s *Service) stepCancel(ctx context.Context, sess *model.Session, intent *model.Intent) stepResult {
	if sess.PatientID == nil {
		sess.State = model.StateCollectName
		return s.stepCollect(sess)
	}

	_, hadTarget := sess.Get(model.KeyAppointmentID)
	appointment, prompt := s.resolveAppointment(ctx, sess)
	if prompt != "" {
		return respondWith(prompt)
	}
	if appointment == nil {
		sess.State = model.StateClosing
		return respondWith("You don't have any upcoming appointments to cancel. Is there anything else I can help you with?")
	}

	if hadTarget && intent.Name == model.IntentConfirm {
		if _, err := s.booking.Cancel(ctx, appointment.ID, "cancelled by patient"); err != nil {
			s.logger.Error(err, "cancellation failed", "session_id", sess.ID)
			return respondWith(apologyText)
		}
		delete(sess.Collected, model.KeyAppointmentID)
		delete(sess.Collected, model.KeyActiveIntent)
		sess.State = model.StateClosing
		return respondWith(fmt.Sprintf(
			"Your appointment on %s at %s has been cancelled. Is there anything else I can help you with?",
			formatDate(appointment.Date), appointment.StartTime.Format(model.ClockTime),
		))
	}

	return respondWith(fmt.Sprintf(
		"You have an appointment on %s at %s. Do you want to cancel it?",
		formatDate(appointment.Date), appointment.StartTime.Format(model.ClockTime),
	))
}

func (s *Service) stepReschedule(ctx context.Context, sess *model.Session, intent *model.Intent) stepResult {
	if sess.PatientID == nil {
		sess.State = model.StateCollectName
		return s.stepCollect(sess)
	}
	if intent.Name == model.IntentDeny {
		delete(sess.Collected, model.KeyAppointmentID)
		delete(sess.Collected, model.KeyActiveIntent)
		sess.State = model.StateClosing
		return respondWith("Okay, I'll leave it as it is. Is there anything else I can help you with?")
	}

	appointment, prompt := s.resolveAppointment(ctx, sess)
	if prompt != "" {
		return respondWith(prompt)
	}
	if appointment == nil {
		sess.State = model.StateClosing
		return respondWith("You don't have any upcoming appointments to move. Is there anything else I can help you with?")
	}

	dateStr, hasDate := sess.Get(model.EntityDate)
	timeStr, hasTime := sess.Get(model.EntityTime)
	if !hasDate {
		return respondWith(fmt.Sprintf(
			"Your appointment is on %s at %s. What new date would you like?",
			formatDate(appointment.Date), appointment.StartTime.Format(model.ClockTime),
		))
	}
	if !hasTime {
		return respondWith("And what time on that day?")
	}

	newDate, err := time.ParseInLocation(model.DateOnly, dateStr, time.Local)
	if err != nil {
		delete(sess.Collected, model.EntityDate)
		return respondWith("I didn't understand that date. Could you give it like 2026-09-15?")
	}
	newStart, err := combineDateTime(newDate, timeStr)
	if err != nil {
		delete(sess.Collected, model.EntityTime)
		return respondWith("I didn't understand that time. Could you give it like 14:30 or 2:30 pm?")
	}

	if _, err := s.booking.Reschedule(ctx, appointment.ID, newDate, newStart); err != nil {
		delete(sess.Collected, model.EntityDate)
		delete(sess.Collected, model.EntityTime)

		var appErr *apperrors.AppError
		if apperrors.AsAppError(err, &appErr) {
			return respondWith(fmt.Sprintf("I couldn't move it: %s. Would you like to try another date or time?", appErr.Message))
		}
		s.logger.Error(err, "reschedule failed", "session_id", sess.ID)
		return respondWith(apologyText)
	}

	delete(sess.Collected, model.KeyAppointmentID)
	delete(sess.Collected, model.KeyActiveIntent)
	delete(sess.Collected, model.EntityDate)
	delete(sess.Collected, model.EntityTime)
	sess.State = model.StateClosing
	return respondWith(fmt.Sprintf(
		"Done! Your appointment has been moved to %s at %s. Is there anything else I can help you with?",
		formatDate(newDate), timeStr,
	))
}

func (s *Service) stepGeneralInquiry(ctx context.Context, sess *model.Session) stepResult {
	if sess.PatientID == nil {
		return respondWith("I can help you book, reschedule, cancel, or check an appointment. What would you like to do?")
	}

	appointments, err := s.booking.UpcomingForPatient(ctx, *sess.PatientID)
	if err != nil {
		s.logger.Error(err, "failed to list appointments", "session_id", sess.ID)
		return respondWith(apologyText)
	}
	if len(appointments) == 0 {
		return respondWith("You don't have any upcoming appointments.")
	}

	lines := make([]string, len(appointments))
	for i, a := range appointments {
		lines[i] = fmt.Sprintf("%s at %s", formatDate(a.Date), a.StartTime.Format(model.ClockTime))
	}
	return respondWith("Your upcoming appointments: " + strings.Join(lines, "; ") + ".")
}

// resolveAppointment pins down which appointment a cancel or reschedule
// refers to. A non-empty prompt means the user must disambiguate first;
// (nil, "") means there is nothing to act on.
func (s *Service) resolveAppointment(ctx context.Context, sess *model.Session) (*model.Appointment, string) {
	if idStr, ok := sess.Get(model.KeyAppointmentID); ok {
		if id, err := uuid.Parse(idStr); err == nil {
			if appointment, err := s.booking.Get(ctx, id); err == nil {
				return appointment, ""
			}
		}
		delete(sess.Collected, model.KeyAppointmentID)
	}

	appointments, err := s.booking.UpcomingForPatient(ctx, *sess.PatientID)
	if err != nil {
		s.logger.Error(err, "failed to list appointments", "session_id", sess.ID)
		return nil, apologyText
	}
	switch len(appointments) {
	case 0:
		return nil, ""
	case 1:
		sess.Set(model.KeyAppointmentID, appointments[0].ID.String())
		return appointments[0], ""
	}

	// several: match on a mentioned date, else ask for one
	if dateStr, ok := sess.Get(model.EntityDate); ok {
		if date, err := time.ParseInLocation(model.DateOnly, dateStr, time.Local); err == nil {
			for _, a := range appointments {
				if sameDay(a.Date, date) {
					sess.Set(model.KeyAppointmentID, a.ID.String())
					delete(sess.Collected, model.EntityDate)
					return a, ""
				}
			}
		}
	}
	lines := make([]string, len(appointments))
	for i, a := range appointments {
		lines[i] = fmt.Sprintf("%s at %s", formatDate(a.Date), a.StartTime.Format(model.ClockTime))
	}
	return nil, "You have several upcoming appointments: " + strings.Join(lines, "; ") + ". Which date do you mean?"
}

func (s *Service) doctorAndDate(ctx context.Context, sess *model.Session) (*model.Doctor, time.Time, error) {
	idStr, ok := sess.Get(model.KeyDoctorID)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("no doctor selected")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("invalid doctor id %q: %w", idStr, err)
	}
	doctor, err := s.doctors.Get(ctx, id)
	if err != nil {
		return nil, time.Time{}, err
	}

	dateStr, ok := sess.Get(model.EntityDate)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("no date selected")
	}
	date, err := time.ParseInLocation(model.DateOnly, dateStr, time.Local)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("invalid date %q: %w", dateStr, err)
	}
	return doctor, date, nil
}

func (s *Service) clearIdentity(sess *model.Session) {
	delete(sess.Collected, model.EntityPatientName)
	delete(sess.Collected, model.EntityDateOfBirth)
	delete(sess.Collected, model.EntityPhone)
	sess.PatientID = nil
}

func combineDateTime(date time.Time, timeStr string) (time.Time, error) {
	t, err := time.Parse(model.ClockTime, timeStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", timeStr, err)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}

func formatDate(date time.Time) string {
	return date.Format("Monday, January 2")
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
