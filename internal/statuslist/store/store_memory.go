package store

import (
	"context"
	"sync"
	"time"

	"vcbridge/internal/sentinel"
	"vcbridge/internal/statuslist/models"
	psync "vcbridge/pkg/platform/sync"
)

// InMemoryStore keeps status lists in memory for tests and single-node use.
// A sharded mutex keyed by list ID serializes writers of the same list
// without blocking allocations against other lists.
type InMemoryStore struct {
	mu    sync.RWMutex
	lists map[string]*models.StatusList
	locks *psync.ShardedMutex
}

// New constructs an empty in-memory status list store.
func New() *InMemoryStore {
	return &InMemoryStore{
		lists: make(map[string]*models.StatusList),
		locks: psync.NewShardedMutex(),
	}
}

func (s *InMemoryStore) Save(_ context.Context, list *models.StatusList) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lists[list.ID]; ok {
		return sentinel.ErrConflict
	}
	copyList := *list
	s.lists[list.ID] = &copyList
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*models.StatusList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, ok := s.lists[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copyList := *list
	return &copyList, nil
}

func (s *InMemoryStore) FindActive(_ context.Context, issuerID string, purpose models.Purpose) (*models.StatusList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Prefer the oldest non-full list so supersession order stays stable.
	var found *models.StatusList
	for _, list := range s.lists {
		if list.IssuerID != issuerID || list.Purpose != purpose || list.Full() {
			continue
		}
		if found == nil || list.CreatedAt.Before(found.CreatedAt) {
			found = list
		}
	}
	if found == nil {
		return nil, sentinel.ErrNotFound
	}
	copyList := *found
	return &copyList, nil
}

// AllocateIndex atomically assigns the next free index of the list.
func (s *InMemoryStore) AllocateIndex(_ context.Context, listID string) (int, error) {
	s.locks.Lock(listID)
	defer s.locks.Unlock(listID)

	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.lists[listID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	if list.Full() {
		return 0, sentinel.ErrExhausted
	}
	index := list.LastIndex
	list.LastIndex++
	list.UpdatedAt = time.Now()
	return index, nil
}

func (s *InMemoryStore) UpdateEncodedList(_ context.Context, listID, encoded string) error {
	s.locks.Lock(listID)
	defer s.locks.Unlock(listID)

	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.lists[listID]
	if !ok {
		return sentinel.ErrNotFound
	}
	list.EncodedList = encoded
	list.UpdatedAt = time.Now()
	return nil
}
