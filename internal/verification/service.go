// Package verification orchestrates presentation verification sessions. A
// session opens with a protocol-specific presentation request; when the
// holder's presentation arrives, every credential it carries is checked
// against its status list before the session settles into a terminal state.
package verification

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

// StatusReader is the slice of the status list service verification needs.
type StatusReader interface {
	Status(ctx context.Context, ref statusmodels.EntryRef) (bool, error)
}

// Result is what a caller gets back from opening a verification session.
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

// Service drives verification sessions.
type Service struct {
	sessions  sessionstore.Store
	templates template.Store
	registry  *protocol.Registry
	status    StatusReader
	audit     *audit.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    tracer.Tracer
	now       func() time.Time
}

// NewService constructs the verification orchestrator.
func NewService(sessions sessionstore.Store, templates template.Store, registry *protocol.Registry, status StatusReader, opts ...Option) *Service {
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

// Request opens a verification session from the named template and returns
// the presentation request artifact for the holder.
func (s *Service) Request(ctx context.Context, templateID string) (result *Result, err error) {
	started := s.now()
	ctx, span := s.tracer.Start(ctx, tracer.SpanVerificationRequest, tracer.String(tracer.AttrTemplateID, templateID))
	defer func() { span.End(err) }()

	tpl, err := s.templates.GetVerification(ctx, templateID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("verification template %s does not exist", templateID))
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "load verification template")
	}

	adapter, err := s.registry.Adapter(tpl.Protocol)
	if err != nil {
		return nil, err
	}

	session := models.New(models.KindVerification, tpl.Protocol, tpl.ID, started)
	span.SetAttributes(
		tracer.String(tracer.AttrSessionID, session.ID),
		tracer.String(tracer.AttrProtocol, string(tpl.Protocol)),
	)

	artifact, transition, err := adapter.InitiateVerification(ctx, tpl, session)
	if err != nil {
		return nil, err
	}
	transition.Patch.Apply(session)
	session.State = transition.Next

	if err := s.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeDuplicateCorrelation, "correlation value already bound to an active session")
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "persist verification session")
	}

	s.metrics.IncSessionsCreated(string(session.Kind), string(session.Protocol))
	s.metrics.ObserveOrchestration("verification_request", s.now().Sub(started).Seconds())
	s.emit(ctx, session, audit.ActionSessionCreated, "")
	if s.logger != nil {
		s.logger.InfoContext(ctx, "verification session opened",
			"session_id", session.ID,
			"template_id", tpl.ID,
			"protocol", session.Protocol,
		)
	}
	return &Result{Session: session, Artifact: artifact}, nil
}

// HandleEvent applies one inbound protocol event to the session. A received
// presentation is status-checked immediately, so a single call settles the
// session into response-verified or, when any presented credential is
// revoked, into done with reason credential_revoked. Subsequent deliveries
// of the same presentation find a terminal session and are dropped.
func (s *Service) HandleEvent(ctx context.Context, sessionID string, event protocol.Event) (updated *models.Session, err error) {
	started := s.now()
	ctx, span := s.tracer.Start(ctx, tracer.SpanVerificationEvent,
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
	s.emit(ctx, updated, audit.ActionStateTransition, updated.Reason)

	if updated.State == models.StatePresentationReceived {
		updated, err = s.settle(ctx, updated)
		if err != nil {
			return nil, err
		}
	}

	if updated.State.Terminal() {
		s.metrics.IncSessionsCompleted(string(updated.Kind), string(updated.State))
	}
	s.metrics.ObserveOrchestration("verification_event", s.now().Sub(started).Seconds())
	if s.logger != nil {
		s.logger.InfoContext(ctx, "verification event applied",
			"session_id", updated.ID,
			"event", event.Kind,
			"state", updated.State,
		)
	}
	return updated, nil
}

// settle checks every presented credential's status bit and moves the session
// to its terminal verdict.
func (s *Service) settle(ctx context.Context, session *models.Session) (*models.Session, error) {
	next := models.StateResponseVerified
	reason := ""
	for _, ref := range session.PresentedRefs {
		revoked, err := s.status.Status(ctx, ref)
		if err != nil {
			// A presented reference that cannot be resolved is not
			// verifiable; the session records why and the caller sees the
			// status error.
			if _, terr := s.sessions.Transition(ctx, session.ID, session.State, models.StateError,
				&models.Patch{Reason: "status check failed"}); terr == nil {
				s.emit(ctx, session, audit.ActionStateTransition, "status check failed")
			}
			return nil, err
		}
		if revoked {
			next = models.StateDone
			reason = models.ReasonCredentialRevoked
			break
		}
	}

	var patch *models.Patch
	if reason != "" {
		patch = &models.Patch{Reason: reason}
	}
	updated, err := s.sessions.Transition(ctx, session.ID, session.State, next, patch)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "persist verification verdict")
	}

	s.metrics.IncTransition(string(updated.Protocol), string(updated.State))
	s.emit(ctx, updated, audit.ActionStateTransition, updated.Reason)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "presentation settled",
			"session_id", updated.ID,
			"state", updated.State,
			"reason", updated.Reason,
			"credentials_checked", len(session.PresentedRefs),
		)
	}
	return updated, nil
}

// Cancel abandons a non-terminal session.
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
	return updated, nil
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
