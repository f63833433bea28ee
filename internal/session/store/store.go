package store

import (
	"context"
	"time"

	"vcbridge/internal/session/models"
)

// Error Contract:
// All store methods follow this error pattern:
// - Return sentinel.ErrNotFound when the requested session does not exist
// - Create returns sentinel.ErrConflict when a correlation value is already
//   bound to an active session
// - Transition returns sentinel.ErrStaleState when the expected state no
//   longer matches, and sentinel.ErrInvalidState when the stored state is
//   terminal
// - Return nil for successful operations

// Store defines persistence for sessions. Transition is a compare-and-swap on
// the state column: concurrent events for one session race here and exactly
// one wins per expected-state value.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	FindByCorrelation(ctx context.Context, key, value string) (*models.Session, error)
	Transition(ctx context.Context, id string, expected, next models.State, patch *models.Patch) (*models.Session, error)
	ListIdle(ctx context.Context, idleSince time.Time) ([]*models.Session, error)
}
