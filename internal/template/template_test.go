package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"vcbridge/internal/sentinel"
	sessionmodels "vcbridge/internal/session/models"
	pkgerrors "vcbridge/pkg/domain-errors"
)

type TemplateSuite struct {
	suite.Suite
}

func TestTemplateSuite(t *testing.T) {
	suite.Run(t, new(TemplateSuite))
}

func (s *TemplateSuite) TestMissingClaims() {
	tpl := &IssuanceTemplate{RequiredClaims: []string{"name", "age"}}

	s.Empty(tpl.MissingClaims(map[string]string{"name": "Alice", "age": "30"}))
	s.Equal([]string{"age"}, tpl.MissingClaims(map[string]string{"name": "Alice"}))
	s.Equal([]string{"age"}, tpl.MissingClaims(map[string]string{"name": "Alice", "age": ""}))
	s.Equal([]string{"name", "age"}, tpl.MissingClaims(nil))
}

func (s *TemplateSuite) TestValidateClaims() {
	tpl := &IssuanceTemplate{
		ID: "tpl_age",
		SchemaJSON: `{
			"type": "object",
			"required": ["name"],
			"properties": {
				"name": {"type": "string", "minLength": 1}
			}
		}`,
	}

	s.Run("accepts conforming claims", func() {
		s.NoError(tpl.ValidateClaims(map[string]string{"name": "Alice"}))
	})

	s.Run("rejects missing required key", func() {
		err := tpl.ValidateClaims(map[string]string{"other": "x"})
		s.True(pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	})

	s.Run("no schema means no validation", func() {
		bare := &IssuanceTemplate{ID: "tpl_bare"}
		s.NoError(bare.ValidateClaims(nil))
	})
}

func (s *TemplateSuite) TestStoreLookups() {
	store := NewInMemoryStore(
		[]*IssuanceTemplate{{ID: "tpl_age", Protocol: sessionmodels.ProtocolPeer}},
		[]*VerificationTemplate{{ID: "tpl_proof", Protocol: sessionmodels.ProtocolOpenID}},
	)
	ctx := context.Background()

	issuance, err := store.GetIssuance(ctx, "tpl_age")
	s.Require().NoError(err)
	s.Equal(sessionmodels.ProtocolPeer, issuance.Protocol)

	verification, err := store.GetVerification(ctx, "tpl_proof")
	s.Require().NoError(err)
	s.Equal(sessionmodels.ProtocolOpenID, verification.Protocol)

	_, err = store.GetIssuance(ctx, "tpl_missing")
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = store.GetVerification(ctx, "tpl_missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
