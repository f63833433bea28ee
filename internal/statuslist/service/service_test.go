package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	"vcbridge/internal/sentinel"
	"vcbridge/internal/statuslist/models"
	"vcbridge/internal/statuslist/store"
	pkgerrors "vcbridge/pkg/domain-errors"
	"vcbridge/pkg/testutil"
)

const testIssuer = "did:web:issuer.example"

type ServiceSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.New()
	s.service = NewService(
		s.store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithListSize(64),
	)
}

func (s *ServiceSuite) TestAllocateIndicesAreUniqueAndIncreasing() {
	ctx := context.Background()
	var previous = -1
	for i := 0; i < 10; i++ {
		ref, err := s.service.Allocate(ctx, testIssuer, models.PurposeRevocation)
		s.Require().NoError(err)
		s.Greater(ref.Index, previous)
		s.Less(ref.Index, 64)
		previous = ref.Index
	}
}

func (s *ServiceSuite) TestAllocateValidatesInput() {
	ctx := context.Background()

	_, err := s.service.Allocate(ctx, "", models.PurposeRevocation)
	s.True(pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput))

	_, err = s.service.Allocate(ctx, testIssuer, models.Purpose("expiry"))
	s.True(pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestAllocateRollsOverToFreshList() {
	// size=8: the ninth allocation must land on index 0 of a second list.
	svc := NewService(s.store, WithListSize(8))
	ctx := context.Background()

	first, err := svc.Allocate(ctx, testIssuer, models.PurposeRevocation)
	s.Require().NoError(err)
	for i := 1; i < 8; i++ {
		ref, err := svc.Allocate(ctx, testIssuer, models.PurposeRevocation)
		s.Require().NoError(err)
		s.Equal(first.StatusListID, ref.StatusListID)
	}

	ninth, err := svc.Allocate(ctx, testIssuer, models.PurposeRevocation)
	s.Require().NoError(err)
	s.NotEqual(first.StatusListID, ninth.StatusListID)
	s.Equal(0, ninth.Index)
}

func (s *ServiceSuite) TestAllocateSeparatesPurposes() {
	ctx := context.Background()
	rev, err := s.service.Allocate(ctx, testIssuer, models.PurposeRevocation)
	s.Require().NoError(err)
	sus, err := s.service.Allocate(ctx, testIssuer, models.PurposeSuspension)
	s.Require().NoError(err)
	s.NotEqual(rev.StatusListID, sus.StatusListID)
	s.Equal(0, rev.Index)
	s.Equal(0, sus.Index)
}

func (s *ServiceSuite) TestConcurrentAllocationsAreDistinct() {
	ctx := context.Background()
	const callers = 32

	indices := make([]models.EntryRef, callers)
	result := testutil.RunConcurrent(callers, func(idx int) error {
		ref, err := s.service.Allocate(ctx, testIssuer, models.PurposeRevocation)
		if err != nil {
			return err
		}
		indices[idx] = ref
		return nil
	})
	s.Equal(int32(callers), result.Successes)

	seen := make(map[models.EntryRef]bool, callers)
	maxIndex := -1
	for _, ref := range indices {
		s.False(seen[ref], "index %v allocated twice", ref)
		seen[ref] = true
		if ref.Index > maxIndex {
			maxIndex = ref.Index
		}
	}
	// No gaps beyond the number of callers.
	s.Less(maxIndex, callers)
}

func (s *ServiceSuite) TestSetStatusAndPublish() {
	ctx := context.Background()
	ref, err := s.service.Allocate(ctx, testIssuer, models.PurposeRevocation)
	s.Require().NoError(err)

	s.Require().NoError(s.service.SetStatus(ctx, ref, true))

	doc, err := s.service.Publish(ctx, ref.StatusListID)
	s.Require().NoError(err)
	s.Equal("revocation", doc.Purpose)
	s.Equal(64, doc.Size)
	s.Equal(1, doc.LastIndex)

	bits, err := models.DecodeBitstring(doc.EncodedList, doc.Size)
	s.Require().NoError(err)
	set, err := bits.Get(ref.Index)
	s.Require().NoError(err)
	s.True(set)

	// Clearing is idempotent both ways.
	s.Require().NoError(s.service.SetStatus(ctx, ref, false))
	s.Require().NoError(s.service.SetStatus(ctx, ref, false))

	doc, err = s.service.Publish(ctx, ref.StatusListID)
	s.Require().NoError(err)
	bits, err = models.DecodeBitstring(doc.EncodedList, doc.Size)
	s.Require().NoError(err)
	set, err = bits.Get(ref.Index)
	s.Require().NoError(err)
	s.False(set)
}

func (s *ServiceSuite) TestStatusReflectsFlips() {
	ctx := context.Background()
	ref, err := s.service.Allocate(ctx, testIssuer, models.PurposeSuspension)
	s.Require().NoError(err)

	revoked, err := s.service.Status(ctx, ref)
	s.Require().NoError(err)
	s.False(revoked)

	s.Require().NoError(s.service.SetStatus(ctx, ref, true))
	revoked, err = s.service.Status(ctx, ref)
	s.Require().NoError(err)
	s.True(revoked)
}

func (s *ServiceSuite) TestSetStatusUnknownEntry() {
	ctx := context.Background()

	err := s.service.SetStatus(ctx, models.EntryRef{StatusListID: "status_missing", Index: 0}, true)
	s.True(pkgerrors.HasCode(err, pkgerrors.CodeUnknownStatusListEntry))

	ref, err := s.service.Allocate(ctx, testIssuer, models.PurposeRevocation)
	s.Require().NoError(err)

	// Index beyond what was allocated is unknown even though it fits the bitstring.
	err = s.service.SetStatus(ctx, models.EntryRef{StatusListID: ref.StatusListID, Index: 42}, true)
	s.True(pkgerrors.HasCode(err, pkgerrors.CodeUnknownStatusListEntry))
}

func (s *ServiceSuite) TestPublishUnknownList() {
	_, err := s.service.Publish(context.Background(), "status_missing")
	s.True(pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func (s *ServiceSuite) TestPublishServesFromCacheWithinTTL() {
	svc := NewService(s.store, WithListSize(8), WithPublishCacheTTL(time.Minute))
	ctx := context.Background()

	ref, err := svc.Allocate(ctx, testIssuer, models.PurposeRevocation)
	s.Require().NoError(err)

	first, err := svc.Publish(ctx, ref.StatusListID)
	s.Require().NoError(err)

	// A second read within the TTL returns the identical cached document.
	second, err := svc.Publish(ctx, ref.StatusListID)
	s.Require().NoError(err)
	s.Same(first, second)

	// A status flip invalidates the cache.
	s.Require().NoError(svc.SetStatus(ctx, ref, true))
	third, err := svc.Publish(ctx, ref.StatusListID)
	s.Require().NoError(err)
	s.NotSame(first, third)
}

// conflictingStore loses every list-creation race, driving the allocation
// retry loop to exhaustion.
type conflictingStore struct {
	*store.InMemoryStore
}

func (c *conflictingStore) Save(context.Context, *models.StatusList) error {
	return sentinel.ErrConflict
}

func (s *ServiceSuite) TestAllocateExhaustedRetriesReturnCapacityExhausted() {
	svc := NewService(&conflictingStore{InMemoryStore: store.New()}, WithListSize(8))

	_, err := svc.Allocate(context.Background(), testIssuer, models.PurposeRevocation)

	s.Require().Error(err)
	s.True(pkgerrors.HasCode(err, pkgerrors.CodeCapacityExhausted))
}

func (s *ServiceSuite) TestPublishSignsIntegrityToken() {
	key := []byte("publish-secret")
	svc := NewService(s.store,
		WithListSize(8),
		WithIntegritySigner(key, testIssuer),
	)
	ctx := context.Background()

	ref, err := svc.Allocate(ctx, testIssuer, models.PurposeRevocation)
	s.Require().NoError(err)

	doc, err := svc.Publish(ctx, ref.StatusListID)
	s.Require().NoError(err)
	s.Require().NotEmpty(doc.Token)

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(doc.Token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return key, nil
	})
	s.Require().NoError(err)
	s.True(parsed.Valid)
	s.Equal(ref.StatusListID, claims["sub"])
	s.Equal(testIssuer, claims["iss"])
	s.Equal(doc.EncodedList, claims["encodedList"])
}

func (s *ServiceSuite) TestPublishOmitsTokenWithoutSigner() {
	ref, err := s.service.Allocate(context.Background(), testIssuer, models.PurposeRevocation)
	s.Require().NoError(err)

	doc, err := s.service.Publish(context.Background(), ref.StatusListID)
	s.Require().NoError(err)
	s.Empty(doc.Token)
}
