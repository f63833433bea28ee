// Package protocol defines the adapter boundary between the protocol-agnostic
// session core and the two protocol families carrying credential exchanges.
// Each adapter owns its transition table; the orchestrators persist whatever
// transition an adapter proposes, so tables are the single source of truth
// for which state an external event may move a session into.
package protocol

import (
	"context"
	"fmt"

	"vcbridge/internal/session/models"
	"vcbridge/internal/template"
	pkgerrors "vcbridge/pkg/domain-errors"
)

// Event is an inbound protocol callback, opaque payload included.
type Event struct {
	Kind    string
	Payload map[string]any
}

// Event kinds shared across adapters. Adapters accept the subset their
// protocol produces.
const (
	EventRequestReceived      = "request_received"
	EventCredentialIssued     = "credential_issued"
	EventCredentialAcked      = "credential_acked"
	EventTokenRequest         = "token_request"
	EventPresentationReceived = "presentation_received"
	EventProblemReport        = "problem_report"
)

// Transition is an adapter's proposed state change for an event. Expected is
// the state the session was read in; the store's compare-and-swap uses it so
// a concurrent event cannot be silently overwritten.
type Transition struct {
	Expected models.State
	Next     models.State
	Patch    *models.Patch
}

// Artifact is the protocol-specific payload handed back to the caller:
// an out-of-band invitation for the peer protocol, an offer or request URI
// for OpenID.
type Artifact struct {
	Kind    string
	Payload map[string]any
}

// Artifact kinds.
const (
	ArtifactInvitation          = "oob_invitation"
	ArtifactCredentialOfferURI  = "credential_offer_uri"
	ArtifactPresentationRequest = "presentation_request"
)

// Adapter translates between one protocol family and the session model.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Protocol returns the protocol family this adapter speaks.
	Protocol() models.Protocol

	// InitiateIssuance produces the protocol artifact opening an issuance
	// exchange, plus the patch (correlation identifiers, initial claims) and
	// the state the session enters once the artifact is handed out.
	InitiateIssuance(ctx context.Context, tpl *template.IssuanceTemplate, session *models.Session) (*Artifact, *Transition, error)

	// InitiateVerification produces the protocol artifact opening a
	// verification exchange.
	InitiateVerification(ctx context.Context, tpl *template.VerificationTemplate, session *models.Session) (*Artifact, *Transition, error)

	// MapEvent maps an inbound event to exactly one proposed transition.
	// Events that are not a valid transition from the session's current state
	// fail with CodeInvalidEventForState and must leave no side effects.
	MapEvent(ctx context.Context, session *models.Session, event Event) (*Transition, error)
}

// Registry holds one adapter per protocol, selected once per template.
type Registry struct {
	adapters map[models.Protocol]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Protocol]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Protocol()] = a
	}
	return r
}

// Adapter returns the adapter for the protocol.
func (r *Registry) Adapter(p models.Protocol) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeProtocolMismatch, fmt.Sprintf("no adapter registered for protocol %q", p))
	}
	return a, nil
}

// Table is a per-event map of legal from-states to the resulting state.
type Table map[string]map[models.State]models.State

// Propose resolves event kind and current state against the table. A problem
// report moves any non-terminal state to StateError regardless of the table.
func (t Table) Propose(session *models.Session, event Event) (*Transition, error) {
	if event.Kind == EventProblemReport {
		if session.State.Terminal() {
			return nil, invalidEvent(session, event)
		}
		reason := "problem report from counterparty"
		if r, ok := event.Payload["reason"].(string); ok && r != "" {
			reason = r
		}
		return &Transition{
			Expected: session.State,
			Next:     models.StateError,
			Patch:    &models.Patch{Reason: reason},
		}, nil
	}

	byState, ok := t[event.Kind]
	if !ok {
		return nil, invalidEvent(session, event)
	}
	next, ok := byState[session.State]
	if !ok {
		return nil, invalidEvent(session, event)
	}
	return &Transition{Expected: session.State, Next: next}, nil
}

func invalidEvent(session *models.Session, event Event) error {
	return pkgerrors.New(pkgerrors.CodeInvalidEventForState,
		fmt.Sprintf("event %q is not valid for session %s in state %q", event.Kind, session.ID, session.State))
}

// RequireProtocol rejects templates declared for another protocol family.
func RequireProtocol(declared, adapter models.Protocol) error {
	if declared != adapter {
		return pkgerrors.New(pkgerrors.CodeProtocolMismatch,
			fmt.Sprintf("template declares protocol %q, adapter speaks %q", declared, adapter))
	}
	return nil
}
