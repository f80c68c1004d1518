package model

// IntentName classifies what the user wants this turn.
type IntentName string

const (
	IntentBookAppointment IntentName = "BOOK_APPOINTMENT"
	IntentCancel          IntentName = "CANCEL_APPOINTMENT"
	IntentReschedule      IntentName = "RESCHEDULE_APPOINTMENT"
	IntentCheck           IntentName = "CHECK_APPOINTMENT"
	IntentGeneralInquiry  IntentName = "GENERAL_INQUIRY"
	IntentGreeting        IntentName = "GREETING"
	IntentConfirm         IntentName = "CONFIRM"
	IntentDeny            IntentName = "DENY"
	IntentProvideInfo     IntentName = "PROVIDE_INFO"
	IntentGoodbye         IntentName = "GOODBYE"
	IntentUnknown         IntentName = "UNKNOWN"
)

// Intent is the NLU classification for one user message.
type Intent struct {
	Name       IntentName `json:"name"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// SyntheticIntent marks an intent carried over from an ongoing flow
// rather than produced by the recognizer.
func SyntheticIntent(name IntentName) *Intent {
	return &Intent{Name: name, Confidence: 1.0, Reasoning: "continuing active flow"}
}

// Entity keys recognized by the NLU collaborator. Dates are YYYY-MM-DD,
// times HH:MM (24h), phones E.164.
const (
	EntityPatientName = "patient_name"
	EntityDate        = "date"
	EntityTime        = "time"
	EntityPhone       = "phone"
	EntityDateOfBirth = "date_of_birth"
	EntityDoctorName  = "doctor_name"
	EntityDepartment  = "department"
)

// Derived keys the dialogue writes into collected data alongside raw
// entities.
const (
	KeyDoctorID      = "doctor_id"
	KeySlotNumber    = "slot_number"
	KeyEndTime       = "end_time"
	KeyAppointmentID = "appointment_id"
	KeyActiveIntent  = "active_intent"
)

// EntityBag is the sparse set of entities recognized in one message.
// Absent keys were simply not mentioned.
type EntityBag map[string]string

// Filter returns a copy containing only the allowed keys.
func (b EntityBag) Filter(allowed []string) EntityBag {
	if len(b) == 0 {
		return EntityBag{}
	}
	out := make(EntityBag)
	for _, k := range allowed {
		if v, ok := b[k]; ok && v != "" {
			out[k] = v
		}
	}
	return out
}
