package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/careline/bookingbot/internal/model"
	apperrors "github.com/careline/bookingbot/pkg/errors"
)

const (
	// Redis key prefix for sessions
	sessionKeyPrefix = "session:"
	// Default TTL for session keys
	defaultTTL = 30 * time.Minute
	// Default conversation history bound
	defaultHistoryCap = 40
)

// RedisStore persists sessions as JSON values with a store-owned TTL.
type RedisStore struct {
	client     *redis.Client
	ttl        time.Duration
	historyCap int
}

// NewRedisStore creates a new Redis-based session store.
func NewRedisStore(client *redis.Client, ttl time.Duration, historyCap int) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if historyCap <= 0 {
		historyCap = defaultHistoryCap
	}
	return &RedisStore{
		client:     client,
		ttl:        ttl,
		historyCap: historyCap,
	}
}

func (s *RedisStore) Create(ctx context.Context, sess *model.Session) (*model.Session, error) {
	now := time.Now()
	sess.CreatedAt = now
	sess.LastActivityAt = now
	if err := s.write(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns nil, nil when the session is absent; expiry and eviction
// belong to the store, so absence is a recoverable condition for
// callers. TTL is refreshed on every read.
func (s *RedisStore) Get(ctx context.Context, id string) (*model.Session, error) {
	key := s.key(id)
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewCollaborator("session store", err)
	}

	var sess model.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}

	// TTL refresh failure is not worth failing the read
	_ = s.client.Expire(ctx, key, s.ttl).Err()

	return &sess, nil
}

func (s *RedisStore) Update(ctx context.Context, sess *model.Session) (*model.Session, error) {
	sess.LastActivityAt = time.Now()
	if err := s.write(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, id string, msg model.Message) (*model.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperrors.NewNotFound("session", nil)
	}

	sess.History = append(sess.History, msg)
	if len(sess.History) > s.historyCap {
		sess.History = sess.History[len(sess.History)-s.historyCap:]
	}
	return s.Update(ctx, sess)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return apperrors.NewCollaborator("session store", err)
	}
	return nil
}

func (s *RedisStore) write(ctx context.Context, sess *model.Session) error {
	val, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", sess.ID, err)
	}
	if err := s.client.Set(ctx, s.key(sess.ID), val, s.ttl).Err(); err != nil {
		return apperrors.NewCollaborator("session store", err)
	}
	return nil
}

// key constructs the Redis key for a session ID.
func (s *RedisStore) key(id string) string {
	return sessionKeyPrefix + id
}
