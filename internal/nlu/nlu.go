package nlu

import (
	"context"

	"github.com/careline/bookingbot/internal/model"
)

// Context carries the conversational surroundings of one message so
// the recognizer can disambiguate short answers ("tomorrow", "yes").
type Context struct {
	State     model.ConversationState
	History   []model.Message // bounded recent history, oldest first
	Collected map[string]string
}

// Recognizer is the NLU collaborator contract. Parse classifies the
// message into an intent; Extract pulls typed entities. Both treat the
// model as a black box; failures surface as collaborator errors and
// the orchestrator degrades to the rule-based fallback.
type Recognizer interface {
	Parse(ctx context.Context, text string, convCtx Context) (*model.Intent, error)
	Extract(ctx context.Context, text string, convCtx Context) (model.EntityBag, error)
}
