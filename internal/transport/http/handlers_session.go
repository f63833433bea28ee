package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vcbridge/internal/platform/middleware"
	"vcbridge/internal/protocol"
	"vcbridge/internal/session/models"
	respond "vcbridge/internal/transport/http/json"
	"vcbridge/internal/transport/http/shared"
	dErrors "vcbridge/pkg/domain-errors"
)

// Dispatcher routes inbound protocol events to the owning orchestrator.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID string, event protocol.Event) (*models.Session, error)
	DispatchByCorrelation(ctx context.Context, key, value string, event protocol.Event) (*models.Session, error)
}

// SessionReader reads and cancels sessions of one kind.
type SessionReader interface {
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	Cancel(ctx context.Context, sessionID string) (*models.Session, error)
}

type SessionHandler struct {
	issuance     SessionReader
	verification SessionReader
	dispatcher   Dispatcher
	logger       *slog.Logger
}

func NewSessionHandler(issuance, verification SessionReader, dispatcher Dispatcher, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		issuance:     issuance,
		verification: verification,
		dispatcher:   dispatcher,
		logger:       logger,
	}
}

// Register registers the session routes with the chi router.
func (h *SessionHandler) Register(r chi.Router) {
	r.Get("/sessions/{sessionID}", h.handleGet)
	r.Post("/sessions/{sessionID}/cancel", h.handleCancel)
	r.Post("/sessions/{sessionID}/events", h.handleEvent)
	r.Post("/events", h.handleCorrelatedEvent)
}

func (h *SessionHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	// Both orchestrators read the same store; either resolves any session.
	session, err := h.issuance.Get(ctx, sessionID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, toSessionView(session))
}

func (h *SessionHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.issuance.Get(ctx, sessionID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	owner := h.issuance
	if session.Kind == models.KindVerification {
		owner = h.verification
	}
	cancelled, err := owner.Cancel(ctx, sessionID)
	if err != nil {
		h.logger.WarnContext(ctx, "cancel failed",
			"request_id", middleware.GetRequestID(ctx),
			"session_id", sessionID,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, toSessionView(cancelled))
}

type eventRequest struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`

	// Correlation-addressed delivery (POST /events only).
	CorrelationKey   string `json:"correlation_key,omitempty"`
	CorrelationValue string `json:"correlation_value,omitempty"`
}

func (h *SessionHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	req, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}

	session, err := h.dispatcher.Dispatch(ctx, sessionID, protocol.Event{Kind: req.Kind, Payload: req.Payload})
	if err != nil {
		h.logger.WarnContext(ctx, "event rejected",
			"request_id", middleware.GetRequestID(ctx),
			"session_id", sessionID,
			"event", req.Kind,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, toSessionView(session))
}

// handleCorrelatedEvent accepts events from counterparties that only know a
// protocol correlation identifier, not the session id.
func (h *SessionHandler) handleCorrelatedEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}
	if req.CorrelationKey == "" || req.CorrelationValue == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "correlation_key and correlation_value are required"))
		return
	}

	session, err := h.dispatcher.DispatchByCorrelation(ctx, req.CorrelationKey, req.CorrelationValue,
		protocol.Event{Kind: req.Kind, Payload: req.Payload})
	if err != nil {
		h.logger.WarnContext(ctx, "correlated event rejected",
			"request_id", middleware.GetRequestID(ctx),
			"correlation_key", req.CorrelationKey,
			"event", req.Kind,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, toSessionView(session))
}

func (h *SessionHandler) decodeEvent(w http.ResponseWriter, r *http.Request) (eventRequest, bool) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return req, false
	}
	if req.Kind == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "event kind is required"))
		return req, false
	}
	return req, true
}
