package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	statusmodels "vcbridge/internal/statuslist/models"
)

// Kind distinguishes issuance from verification sessions.
type Kind string

const (
	KindIssuance     Kind = "issuance"
	KindVerification Kind = "verification"
)

// Protocol identifies which protocol family drives a session.
type Protocol string

const (
	ProtocolPeer   Protocol = "peer"
	ProtocolOpenID Protocol = "openid"
)

// IsValid reports whether the protocol is a known value.
func (p Protocol) IsValid() bool {
	return p == ProtocolPeer || p == ProtocolOpenID
}

// State is a session lifecycle state. Each protocol adapter reaches only a
// subset of these; the store treats them as opaque beyond terminality.
type State string

const (
	// Common states.
	StateCreated   State = "created"
	StateDone      State = "done"
	StateError     State = "error"
	StateAbandoned State = "abandoned"

	// Issuance states.
	StateOfferSent        State = "offer-sent"
	StateRequestReceived  State = "request-received"
	StateCredentialIssued State = "credential-issued"

	// Verification states.
	StateRequestSent          State = "request-sent"
	StatePresentationReceived State = "presentation-received"
	StateResponseVerified     State = "response-verified"
)

// Terminal reports whether no further transitions may leave the state.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateError, StateAbandoned, StateResponseVerified:
		return true
	}
	return false
}

// Transition failure reasons recorded on sessions forced into StateError.
const (
	ReasonTimeout            = "timeout"
	ReasonIncompleteClaimSet = "incomplete_claim_set"
	ReasonCredentialRevoked  = "credential_revoked"
	ReasonCancelled          = "cancelled_by_caller"
)

// Correlation keys used by the protocol adapters. Values stored under these
// keys must be unique among active sessions so an inbound event maps to
// exactly one session.
const (
	CorrelationThreadID          = "thread_id"
	CorrelationPreAuthorizedCode = "pre_authorized_code"
	CorrelationNonce             = "nonce"
	CorrelationOfferURI          = "offer_uri"
)

// Session is one in-flight or completed credential exchange. Correlation
// holds protocol-specific identifiers opaque to the core; Claims carries the
// populated claim values reported so far.
type Session struct {
	ID            string
	Kind          Kind
	Protocol      Protocol
	TemplateID    string
	State         State
	Reason        string
	Correlation   map[string]string
	Claims        map[string]string
	StatusRef     *statusmodels.EntryRef
	PresentedRefs []statusmodels.EntryRef
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// New creates a session in StateCreated.
func New(kind Kind, protocol Protocol, templateID string, now time.Time) *Session {
	return &Session{
		ID:          fmt.Sprintf("sess_%s", uuid.New().String()),
		Kind:        kind,
		Protocol:    protocol,
		TemplateID:  templateID,
		State:       StateCreated,
		Correlation: make(map[string]string),
		Claims:      make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy so stores can hand out snapshots.
func (s *Session) Clone() *Session {
	copySession := *s
	copySession.Correlation = make(map[string]string, len(s.Correlation))
	for k, v := range s.Correlation {
		copySession.Correlation[k] = v
	}
	copySession.Claims = make(map[string]string, len(s.Claims))
	for k, v := range s.Claims {
		copySession.Claims[k] = v
	}
	if s.StatusRef != nil {
		ref := *s.StatusRef
		copySession.StatusRef = &ref
	}
	if s.PresentedRefs != nil {
		copySession.PresentedRefs = append([]statusmodels.EntryRef(nil), s.PresentedRefs...)
	}
	return &copySession
}

// Patch carries the field updates applied together with a state transition.
// Map fields merge into the stored session; nil fields are left untouched.
type Patch struct {
	Reason        string
	Claims        map[string]string
	Correlation   map[string]string
	StatusRef     *statusmodels.EntryRef
	PresentedRefs []statusmodels.EntryRef
}

// Apply merges the patch into the session.
func (p *Patch) Apply(s *Session) {
	if p == nil {
		return
	}
	if p.Reason != "" {
		s.Reason = p.Reason
	}
	for k, v := range p.Claims {
		s.Claims[k] = v
	}
	for k, v := range p.Correlation {
		s.Correlation[k] = v
	}
	if p.StatusRef != nil {
		ref := *p.StatusRef
		s.StatusRef = &ref
	}
	if p.PresentedRefs != nil {
		s.PresentedRefs = append([]statusmodels.EntryRef(nil), p.PresentedRefs...)
	}
}
