package store

import (
	"context"
	"sync"
	"time"

	"vcbridge/internal/sentinel"
	"vcbridge/internal/session/models"
)

// InMemoryStore keeps sessions in memory for tests and single-node use.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	// correlation index: key\x00value -> session id
	correlations map[string]string
}

// New constructs an empty in-memory session store.
func New() *InMemoryStore {
	return &InMemoryStore{
		sessions:     make(map[string]*models.Session),
		correlations: make(map[string]string),
	}
}

func correlationKey(key, value string) string {
	return key + "\x00" + value
}

func (s *InMemoryStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return sentinel.ErrConflict
	}
	for k, v := range session.Correlation {
		if existingID, ok := s.correlations[correlationKey(k, v)]; ok {
			if existing, ok := s.sessions[existingID]; ok && !existing.State.Terminal() {
				return sentinel.ErrConflict
			}
		}
	}
	for k, v := range session.Correlation {
		s.correlations[correlationKey(k, v)] = session.ID
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return session.Clone(), nil
}

func (s *InMemoryStore) FindByCorrelation(_ context.Context, key, value string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.correlations[correlationKey(key, value)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	session, ok := s.sessions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return session.Clone(), nil
}

// Transition applies a compare-and-swap on the session state. The stored
// session is never mutated when the swap loses.
func (s *InMemoryStore) Transition(_ context.Context, id string, expected, next models.State, patch *models.Patch) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if session.State.Terminal() {
		return nil, sentinel.ErrInvalidState
	}
	if session.State != expected {
		return nil, sentinel.ErrStaleState
	}

	updated := session.Clone()
	updated.State = next
	patch.Apply(updated)
	updated.UpdatedAt = time.Now()

	for k, v := range updated.Correlation {
		s.correlations[correlationKey(k, v)] = updated.ID
	}
	s.sessions[id] = updated
	return updated.Clone(), nil
}

func (s *InMemoryStore) ListIdle(_ context.Context, idleSince time.Time) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var idle []*models.Session
	for _, session := range s.sessions {
		if session.State.Terminal() {
			continue
		}
		if session.UpdatedAt.Before(idleSince) {
			idle = append(idle, session.Clone())
		}
	}
	return idle, nil
}
