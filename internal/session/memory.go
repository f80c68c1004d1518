package session

import (
	"context"
	"sync"
	"time"

	"github.com/careline/bookingbot/internal/model"
	apperrors "github.com/careline/bookingbot/pkg/errors"
)

// MemoryStore is an in-process Store for tests and local development.
// It keeps deep copies so callers cannot mutate stored state through
// shared pointers.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*model.Session
	historyCap int
}

func NewMemoryStore(historyCap int) *MemoryStore {
	if historyCap <= 0 {
		historyCap = defaultHistoryCap
	}
	return &MemoryStore{
		sessions:   make(map[string]*model.Session),
		historyCap: historyCap,
	}
}

func (s *MemoryStore) Create(_ context.Context, sess *model.Session) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	sess.CreatedAt = now
	sess.LastActivityAt = now
	s.sessions[sess.ID] = copySession(sess)
	return sess, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return copySession(sess), nil
}

func (s *MemoryStore) Update(_ context.Context, sess *model.Session) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.LastActivityAt = time.Now()
	s.sessions[sess.ID] = copySession(sess)
	return sess, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, id string, msg model.Message) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, apperrors.NewNotFound("session", nil)
	}

	sess.History = append(sess.History, msg)
	if len(sess.History) > s.historyCap {
		sess.History = sess.History[len(sess.History)-s.historyCap:]
	}
	sess.LastActivityAt = time.Now()
	return copySession(sess), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

func copySession(sess *model.Session) *model.Session {
	out := *sess
	out.Collected = make(map[string]string, len(sess.Collected))
	for k, v := range sess.Collected {
		out.Collected[k] = v
	}
	out.History = append([]model.Message(nil), sess.History...)
	return &out
}
