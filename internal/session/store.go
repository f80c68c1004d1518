package session

import (
	"context"

	"github.com/careline/bookingbot/internal/model"
)

// Store is the typed contract over the external TTL-keyed session
// store. Updates are whole-record replace-on-write (last-writer-wins);
// a session is expected to be driven by one conversational channel at a
// time. TTL and eviction are store-owned.
type Store interface {
	// Create stores a new session. Returns the stored session.
	Create(ctx context.Context, s *model.Session) (*model.Session, error)

	// Get retrieves a session by ID.
	// Returns nil if the session is not found (not an error).
	Get(ctx context.Context, id string) (*model.Session, error)

	// Update replaces the stored record and refreshes its TTL.
	Update(ctx context.Context, s *model.Session) (*model.Session, error)

	// AppendMessage adds one history entry, trimming the oldest entries
	// beyond the configured cap.
	AppendMessage(ctx context.Context, id string, msg model.Message) (*model.Session, error)

	// Delete removes a session by ID.
	Delete(ctx context.Context, id string) error
}
