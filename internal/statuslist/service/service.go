package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluele/gcache"
	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"

	"vcbridge/contracts/status"
	"vcbridge/internal/sentinel"
	"vcbridge/internal/statuslist/metrics"
	"vcbridge/internal/statuslist/models"
	"vcbridge/internal/statuslist/store"
	pkgerrors "vcbridge/pkg/domain-errors"
	psync "vcbridge/pkg/platform/sync"
)

const (
	defaultPublishCacheTTL  = 30 * time.Second
	defaultPublishCacheSize = 128
	maxAllocateRetries      = 5
)

// Option configures the Service.
type Option func(*Service)

// Service allocates status list indices and maintains the published
// bitstrings. Allocation is atomic at the store; the bounded retry here only
// covers the benign race where a list fills between lookup and allocation.
type Service struct {
	store      store.Store
	locks      *psync.ShardedMutex
	cache      gcache.Cache
	metrics    *metrics.Metrics
	logger     *slog.Logger
	listSize   int
	cacheTTL   time.Duration
	signingKey []byte
	signIssuer string
}

// NewService constructs a status list allocator over the given store.
func NewService(st store.Store, opts ...Option) *Service {
	svc := &Service{
		store:    st,
		locks:    psync.NewShardedMutex(),
		listSize: models.DefaultSize,
		cacheTTL: defaultPublishCacheTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.listSize <= 0 || svc.listSize%8 != 0 {
		svc.listSize = models.DefaultSize
	}
	svc.cache = gcache.New(defaultPublishCacheSize).LRU().Build()
	return svc
}

// WithMetrics sets the metrics instance for the service.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger sets the logger instance for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithListSize configures the bit capacity of newly created lists.
// Must be a positive multiple of 8; invalid values fall back to the default.
func WithListSize(size int) Option {
	return func(s *Service) {
		s.listSize = size
	}
}

// WithPublishCacheTTL configures how long published documents are served
// from cache before re-reading the store.
func WithPublishCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithIntegritySigner configures HS256 signing of published documents. The
// token is attached on Publish; an empty key disables signing.
func WithIntegritySigner(key []byte, issuer string) Option {
	return func(s *Service) {
		s.signingKey = key
		s.signIssuer = issuer
	}
}

// Allocate assigns the next free index for the issuer and purpose, creating a
// fresh list when every existing one is full. Returned references are never
// reused, even for cancelled sessions.
func (s *Service) Allocate(ctx context.Context, issuerID string, purpose models.Purpose) (models.EntryRef, error) {
	if issuerID == "" {
		return models.EntryRef{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "issuer id must not be empty")
	}
	if !purpose.IsValid() {
		return models.EntryRef{}, pkgerrors.New(pkgerrors.CodeInvalidInput, fmt.Sprintf("invalid status purpose: %s", purpose))
	}

	var ref models.EntryRef
	op := func() error {
		list, err := s.activeList(ctx, issuerID, purpose)
		if err != nil {
			return err
		}
		index, err := s.store.AllocateIndex(ctx, list.ID)
		if errors.Is(err, sentinel.ErrExhausted) || errors.Is(err, sentinel.ErrNotFound) {
			// A concurrent allocator filled (or superseded) the list after we
			// looked it up. Retry against a fresh lookup.
			s.metrics.IncAllocationRace()
			return err
		}
		if err != nil {
			return backoff.Permanent(pkgerrors.Wrap(err, pkgerrors.CodeInternal, "allocate status index"))
		}
		ref = models.EntryRef{StatusListID: list.ID, Index: index}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Second
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxAllocateRetries), ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrExhausted) || errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrConflict) {
			return models.EntryRef{}, pkgerrors.Wrap(err, pkgerrors.CodeCapacityExhausted, "status list capacity race not resolved")
		}
		return models.EntryRef{}, err
	}

	s.metrics.IncAllocations(string(purpose))
	s.cache.Remove(ref.StatusListID)
	return ref, nil
}

// activeList returns a list with free capacity, creating one if none exists.
func (s *Service) activeList(ctx context.Context, issuerID string, purpose models.Purpose) (*models.StatusList, error) {
	list, err := s.store.FindActive(ctx, issuerID, purpose)
	if err == nil {
		return list, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, backoff.Permanent(pkgerrors.Wrap(err, pkgerrors.CodeInternal, "find active status list"))
	}

	created, err := models.NewStatusList(issuerID, issuerID, purpose, s.listSize, time.Now())
	if err != nil {
		return nil, backoff.Permanent(pkgerrors.Wrap(err, pkgerrors.CodeInternal, "create status list"))
	}
	if err := s.store.Save(ctx, created); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Another allocator created a list first; retry finds it.
			return nil, sentinel.ErrConflict
		}
		return nil, backoff.Permanent(pkgerrors.Wrap(err, pkgerrors.CodeInternal, "save status list"))
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "status list created",
			"status_list_id", created.ID,
			"issuer_id", issuerID,
			"purpose", purpose,
			"size", created.Size,
		)
	}
	s.metrics.IncListsCreated(string(purpose))
	return created, nil
}

// SetStatus flips the bit for the referenced credential. The call is
// idempotent: re-setting an already-set bit leaves the list unchanged.
func (s *Service) SetStatus(ctx context.Context, ref models.EntryRef, revoked bool) error {
	// Serialize decode-flip-encode per list; cross-list calls stay concurrent.
	s.locks.Lock(ref.StatusListID)
	defer s.locks.Unlock(ref.StatusListID)

	list, err := s.store.Get(ctx, ref.StatusListID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return pkgerrors.New(pkgerrors.CodeUnknownStatusListEntry, fmt.Sprintf("status list %s does not exist", ref.StatusListID))
	}
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "load status list")
	}
	if ref.Index < 0 || ref.Index >= list.LastIndex {
		return pkgerrors.New(pkgerrors.CodeUnknownStatusListEntry, fmt.Sprintf("index %d was never allocated on %s", ref.Index, ref.StatusListID))
	}

	bits, err := models.DecodeBitstring(list.EncodedList, list.Size)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "decode status bitstring")
	}
	if err := bits.Set(ref.Index, revoked); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeUnknownStatusListEntry, "set status bit")
	}
	encoded, err := bits.Encode()
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "encode status bitstring")
	}
	if err := s.store.UpdateEncodedList(ctx, ref.StatusListID, encoded); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return pkgerrors.New(pkgerrors.CodeUnknownStatusListEntry, fmt.Sprintf("status list %s does not exist", ref.StatusListID))
		}
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "persist status bitstring")
	}

	s.metrics.IncStatusFlips(string(list.Purpose), revoked)
	s.cache.Remove(ref.StatusListID)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "status bit updated",
			"status_list_id", ref.StatusListID,
			"index", ref.Index,
			"revoked", revoked,
		)
	}
	return nil
}

// Status reads the current bit for the referenced credential.
func (s *Service) Status(ctx context.Context, ref models.EntryRef) (bool, error) {
	list, err := s.store.Get(ctx, ref.StatusListID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, pkgerrors.New(pkgerrors.CodeUnknownStatusListEntry, fmt.Sprintf("status list %s does not exist", ref.StatusListID))
	}
	if err != nil {
		return false, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "load status list")
	}
	if ref.Index < 0 || ref.Index >= list.LastIndex {
		return false, pkgerrors.New(pkgerrors.CodeUnknownStatusListEntry, fmt.Sprintf("index %d was never allocated on %s", ref.Index, ref.StatusListID))
	}
	bits, err := models.DecodeBitstring(list.EncodedList, list.Size)
	if err != nil {
		return false, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "decode status bitstring")
	}
	set, err := bits.Get(ref.Index)
	if err != nil {
		return false, pkgerrors.Wrap(err, pkgerrors.CodeUnknownStatusListEntry, "read status bit")
	}
	return set, nil
}

// Publish returns the externally consumable status list document. Pure read;
// recently published documents are served from a short-TTL cache.
func (s *Service) Publish(ctx context.Context, listID string) (*status.Document, error) {
	if cached, err := s.cache.Get(listID); err == nil {
		if doc, ok := cached.(*status.Document); ok {
			s.metrics.IncPublishServed("cache")
			return doc, nil
		}
	}

	list, err := s.store.Get(ctx, listID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("status list %s does not exist", listID))
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "load status list")
	}

	doc := &status.Document{
		ID:          list.ID,
		Purpose:     string(list.Purpose),
		Size:        list.Size,
		LastIndex:   list.LastIndex,
		EncodedList: list.EncodedList,
	}
	if len(s.signingKey) > 0 {
		token, err := s.signDocument(list)
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "sign status list document")
		}
		doc.Token = token
	}
	_ = s.cache.SetWithExpire(listID, doc, s.cacheTTL)
	s.metrics.IncPublishServed("store")
	return doc, nil
}

func (s *Service) signDocument(list *models.StatusList) (string, error) {
	claims := jwt.MapClaims{
		"sub":         list.ID,
		"iss":         s.signIssuer,
		"iat":         time.Now().Unix(),
		"purpose":     string(list.Purpose),
		"encodedList": list.EncodedList,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}
