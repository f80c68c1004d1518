package dialog

import (
	"github.com/careline/bookingbot/internal/model"
)

// requirement is a set of alternative keys; any one present satisfies it.
type requirement []string

// stateRequirements declares the minimal data each state needs before it
// can be left. SELECT_DOCTOR is satisfied by either a resolved doctor id
// or a raw doctor name still awaiting resolution.
var stateRequirements = map[model.ConversationState][]requirement{
	model.StateCollectName:   {{model.EntityPatientName}},
	model.StateCollectDOB:    {{model.EntityDateOfBirth}},
	model.StateCollectPhone:  {{model.EntityPhone}},
	model.StateSelectDoctor:  {{model.KeyDoctorID, model.EntityDoctorName, model.EntityDepartment}},
	model.StateSelectDate:    {{model.EntityDate}},
	model.StateShowSlots:     {{model.EntityDate}},
	model.StateSelectSlot:    {{model.EntityTime}},
	model.StateConfirmBooking: {
		{model.KeyDoctorID},
		{model.EntityDate},
		{model.EntityTime},
		{model.KeySlotNumber},
	},
}

// RequiredEntities returns the requirement groups for a state. States
// absent from the table require nothing.
func RequiredEntities(state model.ConversationState) []requirement {
	return stateRequirements[state]
}

// CanProceed reports whether the collected data satisfies every
// requirement group of the state.
func CanProceed(state model.ConversationState, s *model.Session) bool {
	for _, group := range stateRequirements[state] {
		satisfied := false
		for _, key := range group {
			if _, ok := s.Get(key); ok {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false
		}
	}
	return true
}

// MissingKeys returns the first alternative of each unsatisfied group,
// in declaration order.
func MissingKeys(state model.ConversationState, s *model.Session) []string {
	var missing []string
	for _, group := range stateRequirements[state] {
		satisfied := false
		for _, key := range group {
			if _, ok := s.Get(key); ok {
				satisfied = true
				break
			}
		}
		if !satisfied {
			missing = append(missing, group[0])
		}
	}
	return missing
}

// allowedEntities scopes which extracted entities a state may absorb.
// The whitelist keeps, for example, a doctor's surname mentioned during
// doctor selection from overwriting the patient's own name.
var allowedEntities = map[model.ConversationState][]string{
	model.StateGreeting:          allEntityKeys,
	model.StateDetectIntent:      allEntityKeys,
	model.StateBookAppointment:   allEntityKeys,
	model.StateCollectName:       {model.EntityPatientName},
	model.StateCollectDOB:        {model.EntityDateOfBirth},
	model.StateCollectPhone:      {model.EntityPhone},
	model.StateVerifyPatient:     {},
	model.StateSelectDoctor:      {model.EntityDoctorName, model.EntityDepartment},
	model.StateSelectDate:        {model.EntityDate, model.EntityTime},
	model.StateShowSlots:         {model.EntityDate, model.EntityTime},
	model.StateSelectSlot:        {model.EntityTime},
	model.StateConfirmBooking:    {},
	model.StateCancelAppointment: {},
	model.StateReschedule:        {model.EntityDate, model.EntityTime},
	model.StateGeneralInquiry:    allEntityKeys,
	model.StateClosing:           allEntityKeys,
}

var allEntityKeys = []string{
	model.EntityPatientName,
	model.EntityDate,
	model.EntityTime,
	model.EntityPhone,
	model.EntityDateOfBirth,
	model.EntityDoctorName,
	model.EntityDepartment,
}

// AllowedEntities returns the entity whitelist for a state. States not
// in the table accept nothing.
func AllowedEntities(state model.ConversationState) []string {
	keys, ok := allowedEntities[state]
	if !ok {
		return nil
	}
	return keys
}

var missingPrompts = map[string]string{
	model.EntityPatientName: "May I have your full name, please?",
	model.EntityDateOfBirth: "What is your date of birth? For example, 1985-04-12.",
	model.EntityPhone:       "What phone number can we reach you at?",
	model.KeyDoctorID:       "Which doctor or department would you like to see?",
	model.EntityDoctorName:  "Which doctor or department would you like to see?",
	model.EntityDate:        "What date works for you?",
	model.EntityTime:        "What time would you prefer?",
}

// PromptForMissing maps the first missing key to its canned question.
// Used as the fallback response when a state cannot proceed.
func PromptForMissing(missing []string, state model.ConversationState) string {
	if len(missing) == 0 {
		return "Could you tell me a bit more?"
	}
	if prompt, ok := missingPrompts[missing[0]]; ok {
		return prompt
	}
	return "Could you tell me a bit more?"
}
