package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vcbridge/internal/session/models"
	pkgerrors "vcbridge/pkg/domain-errors"
)

type TableSuite struct {
	suite.Suite
	table Table
}

func TestTableSuite(t *testing.T) {
	suite.Run(t, new(TableSuite))
}

func (s *TableSuite) SetupTest() {
	s.table = Table{
		EventRequestReceived: {
			models.StateOfferSent: models.StateRequestReceived,
		},
	}
}

func (s *TableSuite) session(state models.State) *models.Session {
	sess := models.New(models.KindIssuance, models.ProtocolPeer, "tpl_1", time.Now())
	sess.State = state
	return sess
}

func (s *TableSuite) TestProposeMapsLegalTransition() {
	transition, err := s.table.Propose(s.session(models.StateOfferSent), Event{Kind: EventRequestReceived})

	s.Require().NoError(err)
	s.Equal(models.StateOfferSent, transition.Expected)
	s.Equal(models.StateRequestReceived, transition.Next)
}

func (s *TableSuite) TestProposeRejectsUnknownEventKind() {
	_, err := s.table.Propose(s.session(models.StateOfferSent), Event{Kind: "made_up"})

	s.Require().Error(err)
	s.True(pkgerrors.HasCode(err, pkgerrors.CodeInvalidEventForState))
}

func (s *TableSuite) TestProposeRejectsEventFromWrongState() {
	_, err := s.table.Propose(s.session(models.StateCreated), Event{Kind: EventRequestReceived})

	s.Require().Error(err)
	s.True(pkgerrors.HasCode(err, pkgerrors.CodeInvalidEventForState))
}

func (s *TableSuite) TestProblemReportMovesAnyNonTerminalStateToError() {
	for _, state := range []models.State{models.StateCreated, models.StateOfferSent, models.StateRequestReceived} {
		transition, err := s.table.Propose(s.session(state), Event{
			Kind:    EventProblemReport,
			Payload: map[string]any{"reason": "wallet gave up"},
		})

		s.Require().NoError(err, "state %s", state)
		s.Equal(state, transition.Expected)
		s.Equal(models.StateError, transition.Next)
		s.Equal("wallet gave up", transition.Patch.Reason)
	}
}

func (s *TableSuite) TestProblemReportRejectedOnTerminalSession() {
	_, err := s.table.Propose(s.session(models.StateDone), Event{Kind: EventProblemReport})

	s.Require().Error(err)
	s.True(pkgerrors.HasCode(err, pkgerrors.CodeInvalidEventForState))
}

type registryAdapter struct {
	Adapter
	protocol models.Protocol
}

func (a registryAdapter) Protocol() models.Protocol { return a.protocol }

func TestRegistryReturnsRegisteredAdapter(t *testing.T) {
	registry := NewRegistry(registryAdapter{protocol: models.ProtocolPeer})

	adapter, err := registry.Adapter(models.ProtocolPeer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.Protocol() != models.ProtocolPeer {
		t.Fatalf("got adapter for %q", adapter.Protocol())
	}
}

func TestRegistryRejectsUnknownProtocol(t *testing.T) {
	registry := NewRegistry(registryAdapter{protocol: models.ProtocolPeer})

	_, err := registry.Adapter(models.ProtocolOpenID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeProtocolMismatch) {
		t.Fatalf("expected protocol mismatch, got %v", err)
	}
}

func TestRequireProtocol(t *testing.T) {
	if err := RequireProtocol(models.ProtocolPeer, models.ProtocolPeer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := RequireProtocol(models.ProtocolOpenID, models.ProtocolPeer)
	if !pkgerrors.HasCode(err, pkgerrors.CodeProtocolMismatch) {
		t.Fatalf("expected protocol mismatch, got %v", err)
	}
}
