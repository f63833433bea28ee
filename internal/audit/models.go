package audit

import "time"

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	SessionID string
	Kind      string
	Protocol  string
	Action    string
	State     string
	Reason    string
}

// Actions recorded on the session audit trail.
const (
	ActionSessionCreated    = "session_created"
	ActionStateTransition   = "state_transition"
	ActionEventDropped      = "event_dropped"
	ActionCredentialRevoked = "credential_revoked"
	ActionSessionCancelled  = "session_cancelled"
)
