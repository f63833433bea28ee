// Package issuance orchestrates credential issuance sessions: it owns the
// session lifecycle from the initial offer artifact through terminal state,
// delegating protocol specifics to the registered adapters and status list
// bookkeeping to the status list allocator.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"vcbridge/internal/audit"
	"vcbridge/internal/platform/metrics"
	"vcbridge/internal/platform/tracer"
	"vcbridge/internal/protocol"
	"vcbridge/internal/sentinel"
	"vcbridge/internal/session/models"
	sessionstore "vcbridge/internal/session/store"
	statusmodels "vcbridge/internal/statuslist/models"
	"vcbridge/internal/template"
	pkgerrors "vcbridge/pkg/domain-errors"
)

const maxStaleRetries = 3

// StatusAllocator is the slice of the status list service issuance needs.
type StatusAllocator interface {
	Allocate(ctx context.Context, issuerID string, purpose statusmodels.Purpose) (statusmodels.EntryRef, error)
	SetStatus(ctx context.Context, ref statusmodels.EntryRef, revoked bool) error
}

// Result is what a caller gets back from opening an issuance session: the
// persisted session snapshot and the protocol artifact to hand to the wallet.
type Result struct {
	Session  *models.Session
	Artifact *protocol.Artifact
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger instance for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics instance for the service.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracer sets the tracer used for orchestration spans.
func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithAudit sets the audit publisher.
func WithAudit(p *audit.Publisher) Option {
	return func(s *Service) {
		s.audit = p
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service drives issuance sessions.
type Service struct {
	sessions  sessionstore.Store
	templates template.Store
	registry  *protocol.Registry
	status    StatusAllocator
	audit     *audit.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    tracer.Tracer
	now       func() time.Time
}

// NewService constructs the issuance orchestrator.
func NewService(sessions sessionstore.Store, templates template.Store, registry *protocol.Registry, status StatusAllocator, opts ...Option) *Service {
	svc := &Service{
		sessions:  sessions,
		templates: templates,
		registry:  registry,
		status:    status,
		tracer:    tracer.NewNoop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Request opens an issuance session from the named template. Claims supplied
// here are the issuer-asserted values; protocols whose exchange carries no
// claim payload (the OpenID pre-authorized flow) rely on them entirely. The
// returned artifact (invitation or offer URI) is what the counterparty
// connects through; the session is persisted already holding the correlation
// identifiers the artifact carries.
func (s *Service) Request(ctx context.Context, templateID string, claims map[string]string) (result *Result, err error) {
	started := s.now()
	ctx, span := s.tracer.Start(ctx, tracer.SpanIssuanceRequest, tracer.String(tracer.AttrTemplateID, templateID))
	defer func() { span.End(err) }()

	tpl, err := s.templates.GetIssuance(ctx, templateID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("issuance template %s does not exist", templateID))
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "load issuance template")
	}
	if len(claims) > 0 {
		if err := tpl.ValidateClaims(claims); err != nil {
			return nil, err
		}
	}

	adapter, err := s.registry.Adapter(tpl.Protocol)
	if err != nil {
		return nil, err
	}

	session := models.New(models.KindIssuance, tpl.Protocol, tpl.ID, started)
	for k, v := range claims {
		session.Claims[k] = v
	}
	span.SetAttributes(
		tracer.String(tracer.AttrSessionID, session.ID),
		tracer.String(tracer.AttrProtocol, string(tpl.Protocol)),
	)

	if tpl.Revocable {
		ref, err := s.status.Allocate(ctx, tpl.IssuerID, statusmodels.Purpose(tpl.StatusPurpose))
		if err != nil {
			return nil, err
		}
		// The index is consumed from here on, even if the session never
		// issues or is cancelled.
		session.StatusRef = &ref
	}

	artifact, transition, err := adapter.InitiateIssuance(ctx, tpl, session)
	if err != nil {
		return nil, err
	}
	transition.Patch.Apply(session)
	session.State = transition.Next

	if err := s.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeDuplicateCorrelation, "correlation value already bound to an active session")
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "persist issuance session")
	}

	s.metrics.IncSessionsCreated(string(session.Kind), string(session.Protocol))
	s.metrics.ObserveOrchestration("issuance_request", s.now().Sub(started).Seconds())
	s.emit(ctx, session, audit.ActionSessionCreated, "")
	if s.logger != nil {
		s.logger.InfoContext(ctx, "issuance session opened",
			"session_id", session.ID,
			"template_id", tpl.ID,
			"protocol", session.Protocol,
			"state", session.State,
			"revocable", tpl.Revocable,
		)
	}
	return &Result{Session: session, Artifact: artifact}, nil
}

// HandleEvent applies one inbound protocol event to the session. Events that
// are not valid for the session's current state are dropped without side
// effects and reported as invalid_event_for_state. A losing race against a
// concurrent event is retried against the fresh state; if the event is still
// not applicable, it is dropped the same way.
func (s *Service) HandleEvent(ctx context.Context, sessionID string, event protocol.Event) (updated *models.Session, err error) {
	started := s.now()
	ctx, span := s.tracer.Start(ctx, tracer.SpanIssuanceEvent,
		tracer.String(tracer.AttrSessionID, sessionID),
		tracer.String(tracer.AttrEventKind, event.Kind),
	)
	defer func() { span.End(err) }()

	op := func() error {
		session, err := s.sessions.Get(ctx, sessionID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return backoff.Permanent(pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("session %s does not exist", sessionID)))
		}
		if err != nil {
			return backoff.Permanent(pkgerrors.Wrap(err, pkgerrors.CodeInternal, "load session"))
		}

		adapter, err := s.registry.Adapter(session.Protocol)
		if err != nil {
			return backoff.Permanent(err)
		}
		transition, err := adapter.MapEvent(ctx, session, event)
		if err != nil {
			if pkgerrors.HasCode(err, pkgerrors.CodeInvalidEventForState) {
				s.dropEvent(ctx, session, event)
			}
			return backoff.Permanent(err)
		}

		if transition.Next == models.StateCredentialIssued {
			if forced, guardErr := s.guardClaims(ctx, session, transition); guardErr != nil {
				if forced {
					updated, _ = s.sessions.Transition(ctx, sessionID, transition.Expected, models.StateError,
						&models.Patch{Reason: models.ReasonIncompleteClaimSet})
				}
				return backoff.Permanent(guardErr)
			}
		}

		updated, err = s.sessions.Transition(ctx, sessionID, transition.Expected, transition.Next, transition.Patch)
		if errors.Is(err, sentinel.ErrStaleState) {
			s.metrics.IncStaleTransition()
			return err
		}
		if errors.Is(err, sentinel.ErrInvalidState) {
			s.dropEvent(ctx, session, event)
			return backoff.Permanent(pkgerrors.Wrap(err, pkgerrors.CodeInvalidEventForState,
				fmt.Sprintf("session %s is terminal", sessionID)))
		}
		if err != nil {
			return backoff.Permanent(pkgerrors.Wrap(err, pkgerrors.CodeInternal, "persist session transition"))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	if err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxStaleRetries), ctx)); err != nil {
		if errors.Is(err, sentinel.ErrStaleState) {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeStaleTransition, "concurrent event won the state transition")
		}
		return nil, err
	}

	s.metrics.IncTransition(string(updated.Protocol), string(updated.State))
	if updated.State.Terminal() {
		s.metrics.IncSessionsCompleted(string(updated.Kind), string(updated.State))
	}
	s.metrics.ObserveOrchestration("issuance_event", s.now().Sub(started).Seconds())
	s.emit(ctx, updated, audit.ActionStateTransition, updated.Reason)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "issuance event applied",
			"session_id", updated.ID,
			"event", event.Kind,
			"state", updated.State,
		)
	}
	return updated, nil
}

// guardClaims enforces the template's claim requirements before a credential
// may be recorded as issued. Missing required claims force the session into
// error with reason incomplete_claim_set; a schema violation rejects the
// event without touching the session.
func (s *Service) guardClaims(ctx context.Context, session *models.Session, transition *protocol.Transition) (forced bool, err error) {
	tpl, err := s.templates.GetIssuance(ctx, session.TemplateID)
	if err != nil {
		return false, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "load issuance template")
	}

	merged := make(map[string]string, len(session.Claims))
	for k, v := range session.Claims {
		merged[k] = v
	}
	if transition.Patch != nil {
		for k, v := range transition.Patch.Claims {
			merged[k] = v
		}
	}

	// Completeness is checked before the schema: a schema that also marks a
	// required claim must not turn an incomplete set into a plain validation
	// failure, because only the former forces the error transition.
	if missing := tpl.MissingClaims(merged); len(missing) > 0 {
		return true, pkgerrors.New(pkgerrors.CodeIncompleteClaimSet,
			fmt.Sprintf("claims %v required by template %s are missing", missing, tpl.ID))
	}
	if err := tpl.ValidateClaims(merged); err != nil {
		return false, err
	}
	return false, nil
}

// Cancel abandons a non-terminal session. A status list index allocated for
// the session stays consumed.
func (s *Service) Cancel(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State.Terminal() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState,
			fmt.Sprintf("session %s already finished in state %s", sessionID, session.State))
	}

	updated, err := s.sessions.Transition(ctx, sessionID, session.State, models.StateAbandoned,
		&models.Patch{Reason: models.ReasonCancelled})
	if errors.Is(err, sentinel.ErrStaleState) || errors.Is(err, sentinel.ErrInvalidState) {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeStaleTransition, "session changed state during cancel")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "persist cancellation")
	}

	s.metrics.IncSessionsCompleted(string(updated.Kind), string(updated.State))
	s.emit(ctx, updated, audit.ActionSessionCancelled, updated.Reason)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "issuance session cancelled", "session_id", sessionID)
	}
	return updated, nil
}

// Revoke flips the status bit for the credential issued by the session. Only
// sessions that actually issued a revocable credential can be revoked.
func (s *Service) Revoke(ctx context.Context, sessionID string) (err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanRevocation, tracer.String(tracer.AttrSessionID, sessionID))
	defer func() { span.End(err) }()

	session, err := s.get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.State != models.StateCredentialIssued && session.State != models.StateDone {
		return pkgerrors.New(pkgerrors.CodeSessionNotIssued,
			fmt.Sprintf("session %s has not issued a credential (state %s)", sessionID, session.State))
	}
	if session.StatusRef == nil {
		return pkgerrors.New(pkgerrors.CodeSessionNotIssued,
			fmt.Sprintf("session %s issued a non-revocable credential", sessionID))
	}

	if err := s.status.SetStatus(ctx, *session.StatusRef, true); err != nil {
		return err
	}

	s.metrics.IncRevocations()
	s.emit(ctx, session, audit.ActionCredentialRevoked, "")
	if s.logger != nil {
		s.logger.InfoContext(ctx, "credential revoked",
			"session_id", sessionID,
			"status_list_id", session.StatusRef.StatusListID,
			"index", session.StatusRef.Index,
		)
	}
	return nil
}

// Get returns the current session snapshot.
func (s *Service) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.get(ctx, sessionID)
}

func (s *Service) get(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("session %s does not exist", sessionID))
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "load session")
	}
	return session, nil
}

func (s *Service) dropEvent(ctx context.Context, session *models.Session, event protocol.Event) {
	s.metrics.IncEventDropped(string(session.Protocol), event.Kind)
	s.emit(ctx, session, audit.ActionEventDropped, event.Kind)
	if s.logger != nil {
		s.logger.WarnContext(ctx, "event dropped",
			"session_id", session.ID,
			"event", event.Kind,
			"state", session.State,
		)
	}
}

func (s *Service) emit(ctx context.Context, session *models.Session, action, reason string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Emit(ctx, audit.Event{
		SessionID: session.ID,
		Kind:      string(session.Kind),
		Protocol:  string(session.Protocol),
		Action:    action,
		State:     string(session.State),
		Reason:    reason,
	})
}
