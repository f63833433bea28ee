package store

import (
	"context"

	"vcbridge/internal/statuslist/models"
)

// Error Contract:
// All store methods follow this error pattern:
// - Return sentinel.ErrNotFound when the requested list does not exist
// - AllocateIndex returns sentinel.ErrExhausted when the list has no free index
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures

// Store defines persistence for status lists. AllocateIndex must be atomic:
// concurrent callers against the same list receive distinct indices.
type Store interface {
	Save(ctx context.Context, list *models.StatusList) error
	Get(ctx context.Context, id string) (*models.StatusList, error)
	FindActive(ctx context.Context, issuerID string, purpose models.Purpose) (*models.StatusList, error)
	AllocateIndex(ctx context.Context, listID string) (int, error)
	UpdateEncodedList(ctx context.Context, listID, encoded string) error
}
