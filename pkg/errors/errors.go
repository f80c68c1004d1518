package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrInternal
	ErrPolicyViolation
	ErrSlotConflict
	ErrPatientConflict
	ErrCapacityReached
	ErrCollaborator
)

// PolicyRule identifies which scheduling rule rejected a reservation.
// The validator runs its rules in a fixed order, so the first violated
// rule is the one reported.
type PolicyRule string

const (
	RulePastBooking      PolicyRule = "past_booking"
	RuleAdvanceLimit     PolicyRule = "advance_limit_exceeded"
	RuleInactiveDoctor   PolicyRule = "inactive_doctor"
	RuleMinNotice        PolicyRule = "insufficient_notice"
	RuleWeekend          PolicyRule = "weekend"
	RuleDoctorDayOff     PolicyRule = "doctor_day_off"
	RuleWorkingHours     PolicyRule = "outside_working_hours"
	RuleConsecutiveSlots PolicyRule = "insufficient_consecutive_slots"
	RuleSlotCount        PolicyRule = "invalid_slot_count"
)

// AppError represents an application error
type AppError struct {
	Code    ErrorCode  `json:"code"`
	Rule    PolicyRule `json:"rule,omitempty"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal error",
		Err:     err,
	}
}

// NewPolicyViolation reports a scheduling rule failure. One rule per
// validator check so callers can tell exactly which policy rejected the
// reservation.
func NewPolicyViolation(rule PolicyRule, message string) *AppError {
	return &AppError{
		Code:    ErrPolicyViolation,
		Rule:    rule,
		Message: message,
	}
}

// NewSlotConflict reports a slot that is no longer available at commit
// time, i.e. a race lost to a concurrent booking.
func NewSlotConflict(message string) *AppError {
	return &AppError{
		Code:    ErrSlotConflict,
		Message: message,
	}
}

func NewPatientConflict(message string) *AppError {
	return &AppError{
		Code:    ErrPatientConflict,
		Message: message,
	}
}

func NewCapacityReached(message string) *AppError {
	return &AppError{
		Code:    ErrCapacityReached,
		Message: message,
	}
}

func NewCollaborator(collaborator string, err error) *AppError {
	return &AppError{
		Code:    ErrCollaborator,
		Message: fmt.Sprintf("%s unavailable", collaborator),
		Err:     err,
	}
}

// CodeOf extracts the ErrorCode from an error chain. Returns ErrInternal
// for errors that are not AppErrors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// RuleOf extracts the violated PolicyRule, or "" if the error is not a
// policy violation.
func RuleOf(err error) PolicyRule {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code == ErrPolicyViolation {
		return appErr.Rule
	}
	return ""
}

// AsAppError unwraps the chain into target, reporting success.
func AsAppError(err error, target **AppError) bool {
	return errors.As(err, target)
}

// IsCode reports whether any error in the chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
