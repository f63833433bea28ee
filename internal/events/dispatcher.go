// Package events routes inbound protocol callbacks to the orchestrator that
// owns the target session.
package events

import (
	"context"
	"errors"
	"fmt"

	"vcbridge/internal/protocol"
	"vcbridge/internal/sentinel"
	"vcbridge/internal/session/models"
	sessionstore "vcbridge/internal/session/store"
	pkgerrors "vcbridge/pkg/domain-errors"
)

// Handler is the orchestrator surface the dispatcher fans out to. Both the
// issuance and verification services satisfy it.
type Handler interface {
	HandleEvent(ctx context.Context, sessionID string, event protocol.Event) (*models.Session, error)
}

// Dispatcher looks the session up once to decide which orchestrator handles
// the event.
type Dispatcher struct {
	sessions     sessionstore.Store
	issuance     Handler
	verification Handler
}

// NewDispatcher constructs a dispatcher over the two orchestrators.
func NewDispatcher(sessions sessionstore.Store, issuance, verification Handler) *Dispatcher {
	return &Dispatcher{sessions: sessions, issuance: issuance, verification: verification}
}

// Dispatch delivers the event to the session's orchestrator.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, event protocol.Event) (*models.Session, error) {
	session, err := d.sessions.Get(ctx, sessionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("session %s does not exist", sessionID))
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "load session")
	}

	var owner Handler
	switch session.Kind {
	case models.KindIssuance:
		owner = d.issuance
	case models.KindVerification:
		owner = d.verification
	default:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("session %s has unknown kind %q", sessionID, session.Kind))
	}

	updated, err := owner.HandleEvent(ctx, sessionID, event)
	if pkgerrors.HasCode(err, pkgerrors.CodeInvalidEventForState) {
		// The orchestrator audited and dropped the event without touching
		// the session. Duplicate or out-of-order deliveries are acknowledged
		// with the current snapshot rather than surfaced to the sender.
		if current, getErr := d.sessions.Get(ctx, sessionID); getErr == nil {
			return current, nil
		}
		return session, nil
	}
	return updated, err
}

// DispatchByCorrelation resolves the session through a correlation identifier
// (thread id, pre-authorized code, nonce) and delivers the event to it.
func (d *Dispatcher) DispatchByCorrelation(ctx context.Context, key, value string, event protocol.Event) (*models.Session, error) {
	session, err := d.sessions.FindByCorrelation(ctx, key, value)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no session correlates %s=%s", key, value))
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "resolve session by correlation")
	}
	return d.Dispatch(ctx, session.ID, event)
}
