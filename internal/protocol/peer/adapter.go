// Package peer implements the AnonCreds-style peer-to-peer protocol adapter.
// Exchanges are correlated by a thread id carried on every message; the
// opening artifact is an out-of-band invitation the counterparty connects
// through.
package peer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"vcbridge/internal/did"
	"vcbridge/internal/protocol"
	"vcbridge/internal/session/models"
	statusmodels "vcbridge/internal/statuslist/models"
	"vcbridge/internal/template"
	pkgerrors "vcbridge/pkg/domain-errors"
)

const (
	invitationType   = "https://didcomm.org/out-of-band/1.1/invitation"
	presentationType = "https://didcomm.org/present-proof/2.0/request-presentation"
)

// Adapter drives peer-protocol sessions.
type Adapter struct {
	resolver        did.Resolver
	serviceEndpoint string
}

// New constructs a peer adapter. The service endpoint is where counterparties
// send their protocol messages.
func New(resolver did.Resolver, serviceEndpoint string) *Adapter {
	return &Adapter{resolver: resolver, serviceEndpoint: serviceEndpoint}
}

// Protocol returns models.ProtocolPeer.
func (a *Adapter) Protocol() models.Protocol {
	return models.ProtocolPeer
}

// issuanceTable covers the full peer issuance exchange: offer, request,
// issue, ack.
var issuanceTable = protocol.Table{
	protocol.EventRequestReceived: {
		models.StateOfferSent: models.StateRequestReceived,
	},
	protocol.EventCredentialIssued: {
		models.StateRequestReceived: models.StateCredentialIssued,
	},
	protocol.EventCredentialAcked: {
		models.StateCredentialIssued: models.StateDone,
	},
}

var verificationTable = protocol.Table{
	protocol.EventPresentationReceived: {
		models.StateRequestSent: models.StatePresentationReceived,
	},
}

// InitiateIssuance emits an out-of-band invitation carrying the credential
// offer and binds a fresh thread id to the session.
func (a *Adapter) InitiateIssuance(ctx context.Context, tpl *template.IssuanceTemplate, session *models.Session) (*protocol.Artifact, *protocol.Transition, error) {
	if err := protocol.RequireProtocol(tpl.Protocol, a.Protocol()); err != nil {
		return nil, nil, err
	}
	key, err := a.resolver.ResolveKey(ctx, tpl.IssuerID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, fmt.Sprintf("resolve issuer key for %s", tpl.IssuerID))
	}

	threadID := uuid.New().String()
	artifact := &protocol.Artifact{
		Kind: protocol.ArtifactInvitation,
		Payload: map[string]any{
			"@type": invitationType,
			"@id":   threadID,
			"label": tpl.Name,
			"goal":  "issue-credential",
			"services": []map[string]any{{
				"serviceEndpoint": a.serviceEndpoint,
				"recipientKeys":   []string{key.PublicKey},
			}},
		},
	}
	transition := &protocol.Transition{
		Expected: models.StateCreated,
		Next:     models.StateOfferSent,
		Patch: &models.Patch{
			Correlation: map[string]string{models.CorrelationThreadID: threadID},
		},
	}
	return artifact, transition, nil
}

// InitiateVerification emits a present-proof request keyed by thread id.
func (a *Adapter) InitiateVerification(_ context.Context, tpl *template.VerificationTemplate, session *models.Session) (*protocol.Artifact, *protocol.Transition, error) {
	if err := protocol.RequireProtocol(tpl.Protocol, a.Protocol()); err != nil {
		return nil, nil, err
	}

	threadID := uuid.New().String()
	artifact := &protocol.Artifact{
		Kind: protocol.ArtifactPresentationRequest,
		Payload: map[string]any{
			"@type":            presentationType,
			"@id":              threadID,
			"requested_claims": tpl.RequestedClaims,
			"trusted_issuers":  tpl.TrustedIssuers,
			"service_endpoint": a.serviceEndpoint,
		},
	}
	transition := &protocol.Transition{
		Expected: models.StateCreated,
		Next:     models.StateRequestSent,
		Patch: &models.Patch{
			Correlation: map[string]string{models.CorrelationThreadID: threadID},
		},
	}
	return artifact, transition, nil
}

// MapEvent resolves the event against the table for the session's kind and
// decodes event payloads into the transition patch.
func (a *Adapter) MapEvent(_ context.Context, session *models.Session, event protocol.Event) (*protocol.Transition, error) {
	table := issuanceTable
	if session.Kind == models.KindVerification {
		table = verificationTable
	}
	transition, err := table.Propose(session, event)
	if err != nil {
		return nil, err
	}

	switch event.Kind {
	case protocol.EventCredentialIssued:
		var payload issuedPayload
		if err := mapstructure.Decode(event.Payload, &payload); err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeBadRequest, "decode credential_issued payload")
		}
		transition.Patch = &models.Patch{Claims: payload.Claims}
	case protocol.EventPresentationReceived:
		var payload presentationPayload
		if err := mapstructure.Decode(event.Payload, &payload); err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeBadRequest, "decode presentation payload")
		}
		transition.Patch = &models.Patch{
			Claims:        payload.Claims,
			PresentedRefs: payload.refs(),
		}
	}
	return transition, nil
}

type issuedPayload struct {
	Claims map[string]string `mapstructure:"claims"`
}

type presentationPayload struct {
	Claims      map[string]string     `mapstructure:"claims"`
	Credentials []presentedCredential `mapstructure:"credentials"`
}

type presentedCredential struct {
	StatusListID string `mapstructure:"statusListId"`
	Index        int    `mapstructure:"index"`
}

func (p presentationPayload) refs() []statusmodels.EntryRef {
	refs := make([]statusmodels.EntryRef, 0, len(p.Credentials))
	for _, c := range p.Credentials {
		if c.StatusListID == "" {
			continue
		}
		refs = append(refs, statusmodels.EntryRef{StatusListID: c.StatusListID, Index: c.Index})
	}
	return refs
}

var _ protocol.Adapter = (*Adapter)(nil)
