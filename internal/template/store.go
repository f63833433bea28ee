package template

import (
	"context"
	"sync"

	"vcbridge/internal/sentinel"
)

// Store provides read-only template lookups. Templates are owned by an
// external administration surface; this core never mutates them.
type Store interface {
	GetIssuance(ctx context.Context, id string) (*IssuanceTemplate, error)
	GetVerification(ctx context.Context, id string) (*VerificationTemplate, error)
}

// InMemoryStore serves templates seeded at construction.
type InMemoryStore struct {
	mu           sync.RWMutex
	issuance     map[string]*IssuanceTemplate
	verification map[string]*VerificationTemplate
}

// NewInMemoryStore constructs a template store from the given seed sets.
func NewInMemoryStore(issuance []*IssuanceTemplate, verification []*VerificationTemplate) *InMemoryStore {
	s := &InMemoryStore{
		issuance:     make(map[string]*IssuanceTemplate, len(issuance)),
		verification: make(map[string]*VerificationTemplate, len(verification)),
	}
	for _, t := range issuance {
		s.issuance[t.ID] = t
	}
	for _, t := range verification {
		s.verification[t.ID] = t
	}
	return s
}

func (s *InMemoryStore) GetIssuance(_ context.Context, id string) (*IssuanceTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.issuance[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copyTemplate := *t
	return &copyTemplate, nil
}

func (s *InMemoryStore) GetVerification(_ context.Context, id string) (*VerificationTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.verification[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copyTemplate := *t
	return &copyTemplate, nil
}
