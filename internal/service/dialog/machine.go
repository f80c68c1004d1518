package dialog

import (
	"context"

	"github.com/careline/bookingbot/internal/model"
	"github.com/careline/bookingbot/pkg/logger"
)

// DoctorResolver disambiguates doctor references during the
// SELECT_DOCTOR transition. Satisfied by the doctor service.
type DoctorResolver interface {
	Search(ctx context.Context, name string) ([]*model.Doctor, error)
	ListByDepartment(ctx context.Context, department string) ([]*model.Doctor, error)
}

// Input is everything a transition may consult: the session (entities
// already merged into collected data), and this turn's intent.
type Input struct {
	Session  *model.Session
	Intent   *model.Intent
	Entities model.EntityBag
}

type transitionFunc func(ctx context.Context, in *Input) (model.ConversationState, error)

// Machine is the dialogue state machine. The full state graph lives in
// one transition table, one small function per state, so each edge can
// be tested in isolation.
type Machine struct {
	resolver    DoctorResolver
	logger      *logger.Logger
	transitions map[model.ConversationState]transitionFunc
}

func NewMachine(resolver DoctorResolver, l *logger.Logger) *Machine {
	m := &Machine{
		resolver: resolver,
		logger:   l.WithComponent("dialog"),
	}
	m.transitions = map[model.ConversationState]transitionFunc{
		model.StateGreeting:          m.fromGreeting,
		model.StateDetectIntent:      m.fromDetectIntent,
		model.StateBookAppointment:   m.fromBookAppointment,
		model.StateCollectName:       m.collectThen(model.EntityPatientName, model.StateCollectDOB),
		model.StateCollectDOB:        m.collectThen(model.EntityDateOfBirth, model.StateCollectPhone),
		model.StateCollectPhone:      m.collectThen(model.EntityPhone, model.StateVerifyPatient),
		model.StateVerifyPatient:     m.fromVerifyPatient,
		model.StateSelectDoctor:      m.fromSelectDoctor,
		model.StateSelectDate:        m.collectThen(model.EntityDate, model.StateShowSlots),
		model.StateShowSlots:         m.collectThen(model.EntityTime, model.StateSelectSlot),
		model.StateSelectSlot:        m.collectThen(model.KeySlotNumber, model.StateConfirmBooking),
		model.StateConfirmBooking:    m.fromConfirmBooking,
		model.StateExecuteBooking:    m.always(model.StateClosing),
		model.StateCancelAppointment: m.fromCancelAppointment,
		model.StateReschedule:        m.stay,
		model.StateGeneralInquiry:    m.fromGeneralInquiry,
		model.StateClosing:           m.fromClosing,
		model.StateEnd:               m.stay,
	}
	return m
}

// NextState computes one transition from the session's current state.
func (m *Machine) NextState(ctx context.Context, in *Input) (model.ConversationState, error) {
	transition, ok := m.transitions[in.Session.State]
	if !ok {
		return in.Session.State, nil
	}
	return transition(ctx, in)
}

// Advance computes the next state and applies the bounded one-hop
// lookahead: if the landing state is data-gated and its requirements
// are already satisfied by data supplied out of order, the state after
// it is taken instead. Exactly one extra hop, never recursive. States
// with no requirements (action states) are never hopped over.
func (m *Machine) Advance(ctx context.Context, in *Input) (model.ConversationState, error) {
	next, err := m.NextState(ctx, in)
	if err != nil {
		return in.Session.State, err
	}
	if next == in.Session.State || len(RequiredEntities(next)) == 0 || !CanProceed(next, in.Session) {
		return next, nil
	}

	hopIn := &Input{Session: in.Session, Intent: in.Intent, Entities: in.Entities}
	prior := in.Session.State
	in.Session.State = next
	after, err := m.NextState(ctx, hopIn)
	in.Session.State = prior
	if err != nil {
		return next, nil
	}
	return after, nil
}

func (m *Machine) stay(_ context.Context, in *Input) (model.ConversationState, error) {
	return in.Session.State, nil
}

func (m *Machine) always(next model.ConversationState) transitionFunc {
	return func(_ context.Context, _ *Input) (model.ConversationState, error) {
		return next, nil
	}
}

// collectThen advances to next once the key is collected, else stays.
func (m *Machine) collectThen(key string, next model.ConversationState) transitionFunc {
	return func(_ context.Context, in *Input) (model.ConversationState, error) {
		if _, ok := in.Session.Get(key); ok {
			return next, nil
		}
		return in.Session.State, nil
	}
}

func (m *Machine) fromGreeting(_ context.Context, in *Input) (model.ConversationState, error) {
	if target, ok := routeIntent(in); ok {
		return target, nil
	}
	return model.StateDetectIntent, nil
}

func (m *Machine) fromDetectIntent(_ context.Context, in *Input) (model.ConversationState, error) {
	if target, ok := routeIntent(in); ok {
		return target, nil
	}
	return in.Session.State, nil
}

func (m *Machine) fromBookAppointment(_ context.Context, in *Input) (model.ConversationState, error) {
	if in.Session.PatientID != nil {
		return model.StateSelectDoctor, nil
	}
	return model.StateCollectName, nil
}

// fromVerifyPatient waits for the verification side effect to resolve
// the patient, then branches into whichever flow brought us here. A
// denial restarts identity collection.
func (m *Machine) fromVerifyPatient(_ context.Context, in *Input) (model.ConversationState, error) {
	if in.Intent.Name == model.IntentDeny {
		return model.StateCollectName, nil
	}
	if in.Session.PatientID == nil {
		return in.Session.State, nil
	}
	flow, _ := in.Session.Get(model.KeyActiveIntent)
	return flowTarget(model.IntentName(flow)), nil
}

// fromSelectDoctor branches on zero/one/many matches for the collected
// doctor reference. A unique match resolves to its id and advances;
// anything else stays so the turn can re-prompt.
func (m *Machine) fromSelectDoctor(ctx context.Context, in *Input) (model.ConversationState, error) {
	if _, ok := in.Session.Get(model.KeyDoctorID); ok {
		return model.StateSelectDate, nil
	}

	if name, ok := in.Session.Get(model.EntityDoctorName); ok {
		matches, err := m.resolver.Search(ctx, name)
		if err != nil {
			return in.Session.State, err
		}
		if len(matches) == 1 {
			in.Session.Set(model.KeyDoctorID, matches[0].ID.String())
			return model.StateSelectDate, nil
		}
		return in.Session.State, nil
	}

	if department, ok := in.Session.Get(model.EntityDepartment); ok {
		matches, err := m.resolver.ListByDepartment(ctx, department)
		if err != nil {
			return in.Session.State, err
		}
		if len(matches) == 1 {
			in.Session.Set(model.KeyDoctorID, matches[0].ID.String())
			return model.StateSelectDate, nil
		}
		return in.Session.State, nil
	}

	return in.Session.State, nil
}

func (m *Machine) fromConfirmBooking(_ context.Context, in *Input) (model.ConversationState, error) {
	switch in.Intent.Name {
	case model.IntentConfirm:
		return model.StateExecuteBooking, nil
	case model.IntentDeny:
		return model.StateSelectDate, nil
	}
	return in.Session.State, nil
}

func (m *Machine) fromCancelAppointment(_ context.Context, in *Input) (model.ConversationState, error) {
	if in.Intent.Name == model.IntentDeny {
		return model.StateClosing, nil
	}
	return in.Session.State, nil
}

func (m *Machine) fromGeneralInquiry(_ context.Context, in *Input) (model.ConversationState, error) {
	if target, ok := routeIntent(in); ok {
		return target, nil
	}
	return model.StateClosing, nil
}

func (m *Machine) fromClosing(_ context.Context, in *Input) (model.ConversationState, error) {
	if in.Intent.Name == model.IntentGoodbye {
		return model.StateEnd, nil
	}
	if target, ok := routeIntent(in); ok {
		return target, nil
	}
	return model.StateDetectIntent, nil
}

// routeIntent maps a flow-starting intent to its entry state. Flows that
// act on existing appointments collect identity first when the caller is
// not yet verified.
func routeIntent(in *Input) (model.ConversationState, bool) {
	switch in.Intent.Name {
	case model.IntentBookAppointment:
		return model.StateBookAppointment, true
	case model.IntentCancel, model.IntentReschedule, model.IntentCheck:
		if in.Session.PatientID != nil {
			return flowTarget(in.Intent.Name), true
		}
		return model.StateCollectName, true
	case model.IntentGeneralInquiry:
		return model.StateGeneralInquiry, true
	case model.IntentGoodbye:
		return model.StateClosing, true
	}
	return "", false
}

func flowTarget(name model.IntentName) model.ConversationState {
	switch name {
	case model.IntentCancel:
		return model.StateCancelAppointment
	case model.IntentReschedule:
		return model.StateReschedule
	case model.IntentCheck:
		return model.StateGeneralInquiry
	default:
		return model.StateSelectDoctor
	}
}
