// Package openid implements the OpenID4VC protocol adapter. Issuance uses the
// pre-authorized code flow: the offer URI carries a signed code the wallet
// exchanges at the token endpoint, which lets the exchange skip straight to
// credential issuance. Verification correlates the authorization response by
// nonce.
package openid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"vcbridge/internal/protocol"
	"vcbridge/internal/session/models"
	statusmodels "vcbridge/internal/statuslist/models"
	"vcbridge/internal/template"
	pkgerrors "vcbridge/pkg/domain-errors"
)

const (
	offerScheme         = "openid-credential-offer://"
	preAuthorizedGrant  = "urn:ietf:params:oauth:grant-type:pre-authorized_code"
	defaultCodeLifetime = 5 * time.Minute
)

// Config carries the adapter's signing and addressing settings.
type Config struct {
	// SigningKey signs pre-authorized codes (HS256).
	SigningKey []byte
	// IssuerURL is the credential issuer identifier placed in offers.
	IssuerURL string
	// CodeLifetime bounds how long a pre-authorized code may be exchanged.
	CodeLifetime time.Duration
}

// Adapter drives OpenID4VC sessions.
type Adapter struct {
	cfg Config
}

// New constructs an OpenID adapter.
func New(cfg Config) *Adapter {
	if cfg.CodeLifetime <= 0 {
		cfg.CodeLifetime = defaultCodeLifetime
	}
	return &Adapter{cfg: cfg}
}

// Protocol returns models.ProtocolOpenID.
func (a *Adapter) Protocol() models.Protocol {
	return models.ProtocolOpenID
}

// issuanceTable reflects the pre-authorized flow: the token exchange is the
// single round-trip, so OfferSent moves directly to CredentialIssued.
var issuanceTable = protocol.Table{
	protocol.EventTokenRequest: {
		models.StateCreated:   models.StateCredentialIssued,
		models.StateOfferSent: models.StateCredentialIssued,
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

// InitiateIssuance mints a pre-authorized code and wraps it in a credential
// offer URI.
func (a *Adapter) InitiateIssuance(_ context.Context, tpl *template.IssuanceTemplate, session *models.Session) (*protocol.Artifact, *protocol.Transition, error) {
	if err := protocol.RequireProtocol(tpl.Protocol, a.Protocol()); err != nil {
		return nil, nil, err
	}

	code, err := a.mintCode(session.ID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "mint pre-authorized code")
	}

	offer := map[string]any{
		"credential_issuer": a.cfg.IssuerURL,
		"credentials":       []string{tpl.Name},
		"grants": map[string]any{
			preAuthorizedGrant: map[string]any{
				"pre-authorized_code": code,
			},
		},
	}
	offerJSON, err := json.Marshal(offer)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "encode credential offer")
	}
	offerURI := offerScheme + "?credential_offer=" + url.QueryEscape(string(offerJSON))

	artifact := &protocol.Artifact{
		Kind: protocol.ArtifactCredentialOfferURI,
		Payload: map[string]any{
			"uri":   offerURI,
			"offer": offer,
		},
	}
	transition := &protocol.Transition{
		Expected: models.StateCreated,
		Next:     models.StateOfferSent,
		Patch: &models.Patch{
			Correlation: map[string]string{
				models.CorrelationPreAuthorizedCode: code,
				models.CorrelationOfferURI:          offerURI,
			},
		},
	}
	return artifact, transition, nil
}

// InitiateVerification emits an authorization request URI correlated by nonce.
func (a *Adapter) InitiateVerification(_ context.Context, tpl *template.VerificationTemplate, session *models.Session) (*protocol.Artifact, *protocol.Transition, error) {
	if err := protocol.RequireProtocol(tpl.Protocol, a.Protocol()); err != nil {
		return nil, nil, err
	}

	nonce := uuid.New().String()
	values := url.Values{}
	values.Set("client_id", a.cfg.IssuerURL)
	values.Set("nonce", nonce)
	values.Set("response_type", "vp_token")
	requestURI := "openid4vp://authorize?" + values.Encode()

	artifact := &protocol.Artifact{
		Kind: protocol.ArtifactPresentationRequest,
		Payload: map[string]any{
			"uri":              requestURI,
			"nonce":            nonce,
			"requested_claims": tpl.RequestedClaims,
		},
	}
	transition := &protocol.Transition{
		Expected: models.StateCreated,
		Next:     models.StateRequestSent,
		Patch: &models.Patch{
			Correlation: map[string]string{models.CorrelationNonce: nonce},
		},
	}
	return artifact, transition, nil
}

// MapEvent resolves the event against the table for the session's kind.
// Token requests are authenticated against the session's pre-authorized code
// before any transition is proposed.
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
	case protocol.EventTokenRequest:
		var payload tokenRequestPayload
		if err := mapstructure.Decode(event.Payload, &payload); err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeBadRequest, "decode token request payload")
		}
		if err := a.verifyCode(payload.PreAuthorizedCode, session); err != nil {
			return nil, err
		}
	case protocol.EventPresentationReceived:
		var payload presentationPayload
		if err := mapstructure.Decode(event.Payload, &payload); err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeBadRequest, "decode presentation payload")
		}
		if payload.Nonce != session.Correlation[models.CorrelationNonce] {
			return nil, pkgerrors.New(pkgerrors.CodeBadRequest, "presentation nonce does not match session")
		}
		transition.Patch = &models.Patch{
			Claims:        payload.Claims,
			PresentedRefs: payload.refs(),
		}
	}
	return transition, nil
}

func (a *Adapter) mintCode(sessionID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		Issuer:    a.cfg.IssuerURL,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.CodeLifetime)),
		ID:        uuid.New().String(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.SigningKey)
}

func (a *Adapter) verifyCode(code string, session *models.Session) error {
	if code == "" || code != session.Correlation[models.CorrelationPreAuthorizedCode] {
		return pkgerrors.New(pkgerrors.CodeBadRequest, "unknown pre-authorized code")
	}
	parsed, err := jwt.ParseWithClaims(code, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.cfg.SigningKey, nil
	})
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeBadRequest, "pre-authorized code rejected")
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject != session.ID {
		return pkgerrors.New(pkgerrors.CodeBadRequest, "pre-authorized code bound to another session")
	}
	return nil
}

type tokenRequestPayload struct {
	PreAuthorizedCode string `mapstructure:"pre_authorized_code"`
}

type presentationPayload struct {
	Nonce       string                `mapstructure:"nonce"`
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
