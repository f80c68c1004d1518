package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/careline/bookingbot/internal/config"
	"github.com/careline/bookingbot/internal/model"
	"github.com/careline/bookingbot/internal/nlu"
	"github.com/careline/bookingbot/internal/service/allocator"
	"github.com/careline/bookingbot/internal/service/booking"
	"github.com/careline/bookingbot/internal/service/dialog"
	"github.com/careline/bookingbot/internal/service/doctor"
	"github.com/careline/bookingbot/internal/service/patient"
	"github.com/careline/bookingbot/internal/session"
	"github.com/careline/bookingbot/pkg/logger"
	"github.com/careline/bookingbot/pkg/metrics"
)

const (
	// maxAdvanceSteps bounds the advance/side-effect loop of one turn.
	maxAdvanceSteps = 6

	apologyText  = "I'm sorry, something went wrong on my end. Could you say that again?"
	fallbackText = "I'm sorry, I didn't quite catch that. Could you rephrase?"
)

// TurnResult is the record of one processed request/response cycle.
type TurnResult struct {
	Text           string                  `json:"text"`
	Intent         *model.Intent           `json:"intent"`
	Entities       model.EntityBag         `json:"entities"`
	NewState       model.ConversationState `json:"new_state"`
	ProcessingTime time.Duration           `json:"processing_time"`
}

// stepResult is the outcome of one state's business action. A step
// either responds (ends the turn with its text) or continues (lets the
// machine advance again, optionally contributing text on the way).
type stepResult struct {
	text    string
	advance bool
}

func respondWith(text string) stepResult  { return stepResult{text: text} }
func continueOn() stepResult              { return stepResult{advance: true} }
func continueWith(text string) stepResult { return stepResult{text: text, advance: true} }

// collectionStates are states whose whole purpose is absorbing one
// answer. Inside them the flow intent is sticky and corrections are
// not scanned for, because the expected entity is being collected
// legitimately.
var collectionStates = map[model.ConversationState]bool{
	model.StateCollectName:  true,
	model.StateCollectDOB:   true,
	model.StateCollectPhone: true,
	model.StateSelectDoctor: true,
	model.StateSelectDate:   true,
	model.StateShowSlots:    true,
	model.StateSelectSlot:   true,
}

// Service drives exactly one request/response cycle per call. It owns
// no conversational policy itself; intent comes from the recognizer,
// state movement from the machine, and business actions from the
// domain services.
type Service struct {
	sessions    session.Store
	recognizer  nlu.Recognizer
	fallback    nlu.Recognizer
	machine     *dialog.Machine
	doctors     *doctor.Service
	patients    *patient.Service
	booking     *booking.Service
	allocator   *allocator.Service
	scheduling  config.SchedulingConfig
	historySent int
	metrics     *metrics.Metrics
	logger      *logger.Logger
	now         func() time.Time
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Sessions    session.Store
	Recognizer  nlu.Recognizer // primary; may be nil to run rules-only
	Fallback    nlu.Recognizer
	Machine     *dialog.Machine
	Doctors     *doctor.Service
	Patients    *patient.Service
	Booking     *booking.Service
	Allocator   *allocator.Service
	Scheduling  config.SchedulingConfig
	HistorySent int
	Metrics     *metrics.Metrics
	Logger      *logger.Logger
}

func NewService(deps Deps) *Service {
	recognizer := deps.Recognizer
	if recognizer == nil {
		recognizer = deps.Fallback
	}
	historySent := deps.HistorySent
	if historySent <= 0 {
		historySent = 6
	}
	return &Service{
		sessions:    deps.Sessions,
		recognizer:  recognizer,
		fallback:    deps.Fallback,
		machine:     deps.Machine,
		doctors:     deps.Doctors,
		patients:    deps.Patients,
		booking:     deps.Booking,
		allocator:   deps.Allocator,
		scheduling:  deps.Scheduling,
		historySent: historySent,
		metrics:     deps.Metrics,
		logger:      deps.Logger.WithComponent("orchestrator"),
		now:         time.Now,
	}
}

// ProcessTurn runs one full cycle: resolve intent, detect corrections,
// extract entities, advance the machine, run the landed state's
// business action, persist, respond. A panic or collaborator failure
// degrades to an apology with the session's prior state preserved;
// nothing half-done is ever written back.
func (s *Service) ProcessTurn(ctx context.Context, sessionID, message string) (result *TurnResult, err error) {
	start := s.now()

	sess, loadErr := s.sessions.Get(ctx, sessionID)
	if loadErr != nil {
		s.logger.Error(loadErr, "failed to load session", "session_id", sessionID)
	}
	created := false
	if sess == nil {
		sess = model.NewSession(sessionID)
		created = true
	}
	priorState := sess.State

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(fmt.Errorf("panic: %v", r), "turn processing panicked", "session_id", sessionID)
			s.metrics.IncTurnFailure()
			result = &TurnResult{
				Text:           apologyText,
				Intent:         model.SyntheticIntent(model.IntentUnknown),
				Entities:       model.EntityBag{},
				NewState:       priorState,
				ProcessingTime: s.now().Sub(start),
			}
			err = nil
		}
	}()

	intent := s.resolveIntent(ctx, sess, message)

	// Corrections win over everything else this turn.
	if !collectionStates[sess.State] && sess.State != model.StateGreeting {
		if key, value, ok := detectCorrection(message); ok {
			return s.applyCorrection(ctx, sess, created, intent, key, value, message, start)
		}
	}

	switch intent.Name {
	case model.IntentBookAppointment, model.IntentCancel, model.IntentReschedule, model.IntentCheck:
		sess.Set(model.KeyActiveIntent, string(intent.Name))
	}

	entities := s.extractEntities(ctx, sess, message)
	accepted := entities.Filter(dialog.AllowedEntities(sess.State))
	for k, v := range accepted {
		sess.Set(k, v)
	}

	var parts []string
	for i := 0; i < maxAdvanceSteps; i++ {
		next, advErr := s.machine.Advance(ctx, &dialog.Input{Session: sess, Intent: intent, Entities: accepted})
		if advErr != nil {
			s.logger.Error(advErr, "state transition failed", "session_id", sessionID, "state", string(sess.State))
			s.metrics.IncTurnFailure()
			parts = append(parts, apologyText)
			break
		}
		prev := sess.State
		sess.State = next

		step := s.handleState(ctx, sess, prev, intent)
		if step.text != "" {
			parts = append(parts, step.text)
		}
		if !step.advance {
			break
		}
	}

	text := strings.Join(parts, " ")
	if text == "" {
		text = fallbackText
	}

	sess.TurnCount++
	sess.LastActivityAt = s.now()
	s.persist(ctx, sess, created, message, text)

	elapsed := s.now().Sub(start)
	s.metrics.ObserveTurn(string(sess.State), elapsed)
	return &TurnResult{
		Text:           text,
		Intent:         intent,
		Entities:       accepted,
		NewState:       sess.State,
		ProcessingTime: elapsed,
	}, nil
}

// EndSession discards the session.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}

// resolveIntent classifies the message. Inside a collection state the
// flow intent is sticky: the cheap rule recognizer still gets a look so
// an explicit "cancel" mid-flow is honored, but a weak or unknown match
// is treated as an answer to the open prompt.
func (s *Service) resolveIntent(ctx context.Context, sess *model.Session, message string) *model.Intent {
	if collectionStates[sess.State] {
		intent, err := s.fallback.Parse(ctx, message, s.nluContext(sess))
		if err == nil && intent.Confidence >= 0.7 {
			switch intent.Name {
			case model.IntentCancel, model.IntentReschedule, model.IntentBookAppointment, model.IntentGoodbye:
				return intent
			}
		}
		return model.SyntheticIntent(model.IntentProvideInfo)
	}

	intent, err := s.recognizer.Parse(ctx, message, s.nluContext(sess))
	if err != nil {
		s.logger.Warn("intent recognition failed, falling back to rules", "session_id", sess.ID, "error", err.Error())
		s.metrics.IncNLUFallback()
		intent, err = s.fallback.Parse(ctx, message, s.nluContext(sess))
		if err != nil {
			return model.SyntheticIntent(model.IntentUnknown)
		}
	}
	return intent
}

func (s *Service) extractEntities(ctx context.Context, sess *model.Session, message string) model.EntityBag {
	entities, err := s.recognizer.Extract(ctx, message, s.nluContext(sess))
	if err != nil {
		s.logger.Warn("entity extraction failed, falling back to rules", "session_id", sess.ID, "error", err.Error())
		s.metrics.IncNLUFallback()
		entities, err = s.fallback.Extract(ctx, message, s.nluContext(sess))
		if err != nil {
			return model.EntityBag{}
		}
	}
	return entities
}

func (s *Service) nluContext(sess *model.Session) nlu.Context {
	history := sess.History
	if len(history) > s.historySent {
		history = history[len(history)-s.historySent:]
	}
	return nlu.Context{State: sess.State, History: history, Collected: sess.Collected}
}

// applyCorrection overwrites the corrected identity field and forces
// the conversation back through verification, skipping the rest of the
// turn. Stale collected data must never outlive a correction.
func (s *Service) applyCorrection(ctx context.Context, sess *model.Session, created bool, intent *model.Intent, key, value, message string, start time.Time) (*TurnResult, error) {
	sess.Set(key, value)
	sess.PatientID = nil
	sess.State = model.StateVerifyPatient

	name, _ := sess.Get(model.EntityPatientName)
	dob, _ := sess.Get(model.EntityDateOfBirth)
	phone, _ := sess.Get(model.EntityPhone)
	text := fmt.Sprintf(
		"Thanks, I've updated that. Just to confirm: your name is %s, date of birth %s, phone %s. Is that correct?",
		name, dob, phone,
	)

	sess.TurnCount++
	sess.LastActivityAt = s.now()
	s.persist(ctx, sess, created, message, text)

	elapsed := s.now().Sub(start)
	s.metrics.ObserveTurn(string(sess.State), elapsed)
	return &TurnResult{
		Text:           text,
		Intent:         intent,
		Entities:       model.EntityBag{key: value},
		NewState:       sess.State,
		ProcessingTime: elapsed,
	}, nil
}

func (s *Service) persist(ctx context.Context, sess *model.Session, created bool, userText, assistantText string) {
	if sess.State == model.StateEnd {
		if err := s.sessions.Delete(ctx, sess.ID); err != nil {
			s.logger.Error(err, "failed to delete ended session", "session_id", sess.ID)
		}
		return
	}

	var err error
	if created {
		_, err = s.sessions.Create(ctx, sess)
	} else {
		_, err = s.sessions.Update(ctx, sess)
	}
	if err != nil {
		s.logger.Error(err, "failed to persist session", "session_id", sess.ID)
		return
	}

	now := s.now()
	for _, msg := range []model.Message{
		{Role: "user", Text: userText, Timestamp: now},
		{Role: "assistant", Text: assistantText, Timestamp: now},
	} {
		if _, err := s.sessions.AppendMessage(ctx, sess.ID, msg); err != nil {
			s.logger.Error(err, "failed to append history", "session_id", sess.ID)
			return
		}
	}
}
