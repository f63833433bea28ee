package peer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"vcbridge/internal/did"
	"vcbridge/internal/did/mocks"
	"vcbridge/internal/protocol"
	"vcbridge/internal/session/models"
	"vcbridge/internal/template"
	pkgerrors "vcbridge/pkg/domain-errors"
)

const testIssuer = "did:peer:issuer-1"

type AdapterSuite struct {
	suite.Suite
	adapter *Adapter
}

func TestAdapterSuite(t *testing.T) {
	suite.Run(t, new(AdapterSuite))
}

func (s *AdapterSuite) SetupTest() {
	resolver := did.NewStaticResolver(map[string]did.VerificationKey{
		testIssuer: {ID: testIssuer + "#key-1", Type: "Ed25519VerificationKey2020", PublicKey: "z6MkTest"},
	})
	s.adapter = New(resolver, "https://gateway.example.com/events")
}

func (s *AdapterSuite) issuanceTemplate() *template.IssuanceTemplate {
	return &template.IssuanceTemplate{
		ID:             "tpl_member",
		Name:           "membership-card",
		Protocol:       models.ProtocolPeer,
		IssuerID:       testIssuer,
		RequiredClaims: []string{"member_id"},
	}
}

func (s *AdapterSuite) session(kind models.Kind, state models.State) *models.Session {
	sess := models.New(kind, models.ProtocolPeer, "tpl_member", time.Now())
	sess.State = state
	return sess
}

func (s *AdapterSuite) TestInitiateIssuanceEmitsInvitation() {
	sess := s.session(models.KindIssuance, models.StateCreated)

	artifact, transition, err := s.adapter.InitiateIssuance(context.Background(), s.issuanceTemplate(), sess)

	s.Require().NoError(err)
	s.Equal(protocol.ArtifactInvitation, artifact.Kind)
	s.Equal("membership-card", artifact.Payload["label"])

	s.Equal(models.StateCreated, transition.Expected)
	s.Equal(models.StateOfferSent, transition.Next)
	s.NotEmpty(transition.Patch.Correlation[models.CorrelationThreadID])
	s.Equal(artifact.Payload["@id"], transition.Patch.Correlation[models.CorrelationThreadID])
}

func (s *AdapterSuite) TestInitiateIssuanceRejectsForeignProtocolTemplate() {
	tpl := s.issuanceTemplate()
	tpl.Protocol = models.ProtocolOpenID

	_, _, err := s.adapter.InitiateIssuance(context.Background(), tpl, s.session(models.KindIssuance, models.StateCreated))

	s.Require().Error(err)
	s.True(pkgerrors.HasCode(err, pkgerrors.CodeProtocolMismatch))
}

func (s *AdapterSuite) TestInitiateIssuanceFailsWhenIssuerKeyUnresolvable() {
	tpl := s.issuanceTemplate()
	tpl.IssuerID = "did:peer:nobody"

	_, _, err := s.adapter.InitiateIssuance(context.Background(), tpl, s.session(models.KindIssuance, models.StateCreated))

	s.Require().Error(err)
	s.True(pkgerrors.HasCode(err, pkgerrors.CodeInternal))
}

func (s *AdapterSuite) TestInitiateIssuanceFailsWhenResolverErrors() {
	ctrl := gomock.NewController(s.T())
	resolver := mocks.NewMockResolver(ctrl)
	resolver.EXPECT().
		ResolveKey(gomock.Any(), testIssuer).
		Return(did.VerificationKey{}, errors.New("vdr unreachable"))
	adapter := New(resolver, "https://gateway.example.com/events")

	_, _, err := adapter.InitiateIssuance(context.Background(), s.issuanceTemplate(), s.session(models.KindIssuance, models.StateCreated))

	s.Require().Error(err)
	s.True(pkgerrors.HasCode(err, pkgerrors.CodeInternal))
}

func (s *AdapterSuite) TestInitiateVerificationEmitsPresentationRequest() {
	tpl := &template.VerificationTemplate{
		ID:              "tpl_verify",
		Name:            "age-check",
		Protocol:        models.ProtocolPeer,
		RequestedClaims: []string{"birth_date"},
		TrustedIssuers:  []string{testIssuer},
	}

	artifact, transition, err := s.adapter.InitiateVerification(context.Background(), tpl, s.session(models.KindVerification, models.StateCreated))

	s.Require().NoError(err)
	s.Equal(protocol.ArtifactPresentationRequest, artifact.Kind)
	s.Equal(models.StateRequestSent, transition.Next)
	s.NotEmpty(transition.Patch.Correlation[models.CorrelationThreadID])
}

func (s *AdapterSuite) TestMapEventWalksIssuanceExchange() {
	ctx := context.Background()
	sess := s.session(models.KindIssuance, models.StateOfferSent)

	transition, err := s.adapter.MapEvent(ctx, sess, protocol.Event{Kind: protocol.EventRequestReceived})
	s.Require().NoError(err)
	s.Equal(models.StateRequestReceived, transition.Next)

	sess.State = models.StateRequestReceived
	transition, err = s.adapter.MapEvent(ctx, sess, protocol.Event{
		Kind:    protocol.EventCredentialIssued,
		Payload: map[string]any{"claims": map[string]any{"member_id": "m-42"}},
	})
	s.Require().NoError(err)
	s.Equal(models.StateCredentialIssued, transition.Next)
	s.Equal("m-42", transition.Patch.Claims["member_id"])

	sess.State = models.StateCredentialIssued
	transition, err = s.adapter.MapEvent(ctx, sess, protocol.Event{Kind: protocol.EventCredentialAcked})
	s.Require().NoError(err)
	s.Equal(models.StateDone, transition.Next)
}

func (s *AdapterSuite) TestMapEventRejectsOutOfOrderEvent() {
	sess := s.session(models.KindIssuance, models.StateCreated)

	_, err := s.adapter.MapEvent(context.Background(), sess, protocol.Event{Kind: protocol.EventCredentialAcked})

	s.Require().Error(err)
	s.True(pkgerrors.HasCode(err, pkgerrors.CodeInvalidEventForState))
}

func (s *AdapterSuite) TestMapEventDecodesPresentedCredentialRefs() {
	sess := s.session(models.KindVerification, models.StateRequestSent)

	transition, err := s.adapter.MapEvent(context.Background(), sess, protocol.Event{
		Kind: protocol.EventPresentationReceived,
		Payload: map[string]any{
			"claims": map[string]any{"birth_date": "1990-01-01"},
			"credentials": []map[string]any{
				{"statusListId": "status_abc", "index": 7},
			},
		},
	})

	s.Require().NoError(err)
	s.Equal(models.StatePresentationReceived, transition.Next)
	s.Require().Len(transition.Patch.PresentedRefs, 1)
	s.Equal("status_abc", transition.Patch.PresentedRefs[0].StatusListID)
	s.Equal(7, transition.Patch.PresentedRefs[0].Index)
}

func (s *AdapterSuite) TestMapEventProblemReportAbortsExchange() {
	sess := s.session(models.KindIssuance, models.StateOfferSent)

	transition, err := s.adapter.MapEvent(context.Background(), sess, protocol.Event{
		Kind:    protocol.EventProblemReport,
		Payload: map[string]any{"reason": "holder declined offer"},
	})

	s.Require().NoError(err)
	s.Equal(models.StateError, transition.Next)
	s.Equal("holder declined offer", transition.Patch.Reason)
}
