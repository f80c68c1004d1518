package model

import (
	"time"

	"github.com/google/uuid"
)

// ConversationState is one node of the booking dialogue. Membership is
// fixed; the transition table in the dialog package owns the edges.
type ConversationState string

const (
	StateGreeting          ConversationState = "GREETING"
	StateDetectIntent      ConversationState = "DETECT_INTENT"
	StateBookAppointment   ConversationState = "BOOK_APPOINTMENT"
	StateCollectName       ConversationState = "COLLECT_PATIENT_NAME"
	StateCollectDOB        ConversationState = "COLLECT_PATIENT_DOB"
	StateCollectPhone      ConversationState = "COLLECT_PATIENT_PHONE"
	StateVerifyPatient     ConversationState = "VERIFY_PATIENT"
	StateSelectDoctor      ConversationState = "SELECT_DOCTOR"
	StateSelectDate        ConversationState = "SELECT_DATE"
	StateShowSlots         ConversationState = "SHOW_AVAILABLE_SLOTS"
	StateSelectSlot        ConversationState = "SELECT_SLOT"
	StateConfirmBooking    ConversationState = "CONFIRM_BOOKING"
	StateExecuteBooking    ConversationState = "EXECUTE_BOOKING"
	StateCancelAppointment ConversationState = "CANCEL_APPOINTMENT"
	StateReschedule        ConversationState = "RESCHEDULE_APPOINTMENT"
	StateGeneralInquiry    ConversationState = "GENERAL_INQUIRY"
	StateClosing           ConversationState = "CLOSING"
	StateEnd               ConversationState = "END"
)

// Message is one entry of a session's conversation history.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the per-conversation state blob. It lives in the external
// TTL-keyed store and is replaced wholesale on every write
// (last-writer-wins; a session is driven by one channel at a time).
type Session struct {
	ID             string            `json:"id"`
	State          ConversationState `json:"state"`
	Collected      map[string]string `json:"collected"`
	History        []Message         `json:"history"`
	TurnCount      int               `json:"turn_count"`
	PatientID      *uuid.UUID        `json:"patient_id,omitempty"`
	CallID         *string           `json:"call_id,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
}

// NewSession seeds a fresh conversation in the initial state.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:             id,
		State:          StateGreeting,
		Collected:      make(map[string]string),
		History:        []Message{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Get returns a collected value, with ok reporting presence of a
// non-empty entry.
func (s *Session) Get(key string) (string, bool) {
	v, ok := s.Collected[key]
	return v, ok && v != ""
}

// Set records a collected value, dropping empty ones.
func (s *Session) Set(key, value string) {
	if value == "" {
		return
	}
	if s.Collected == nil {
		s.Collected = make(map[string]string)
	}
	s.Collected[key] = value
}
