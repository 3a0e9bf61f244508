package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SessionIDKey is the storage key holding the session identifier
const SessionIDKey = "ai_doctor_session_id"

// SessionStore owns the durable per-profile session identifier
type SessionStore struct {
	kv    KVStore
	newID func() string
	mu    sync.Mutex
}

// NewSessionStore creates a session store over kv. Identifiers are random
// UUIDv4 strings.
func NewSessionStore(kv KVStore) *SessionStore {
	return &SessionStore{kv: kv, newID: uuid.NewString}
}

// GetOrCreateSessionID returns the persisted identifier, creating and
// persisting a fresh one on first use
func (s *SessionStore) GetOrCreateSessionID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok, err := s.kv.Get(ctx, SessionIDKey)
	if err != nil {
		return "", fmt.Errorf("failed to read session id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}

	id = s.newID()
	if err := s.kv.Set(ctx, SessionIDKey, id); err != nil {
		return "", fmt.Errorf("failed to persist session id: %w", err)
	}
	LogDebug("Created session %s", id)
	return id, nil
}

// SessionID returns the identifier without creating one
func (s *SessionStore) SessionID(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok, err := s.kv.Get(ctx, SessionIDKey)
	if err != nil {
		return "", false, fmt.Errorf("failed to read session id: %w", err)
	}
	return id, ok && id != "", nil
}

// Forget drops the identifier so the next send starts a new session
func (s *SessionStore) Forget(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, SessionIDKey); err != nil {
		return fmt.Errorf("failed to delete session id: %w", err)
	}
	return nil
}
