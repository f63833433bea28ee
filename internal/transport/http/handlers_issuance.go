package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vcbridge/internal/issuance"
	"vcbridge/internal/platform/middleware"
	respond "vcbridge/internal/transport/http/json"
	"vcbridge/internal/transport/http/shared"
	dErrors "vcbridge/pkg/domain-errors"
)

// IssuanceService defines the issuance operations exposed over HTTP.
type IssuanceService interface {
	SessionReader
	Request(ctx context.Context, templateID string, claims map[string]string) (*issuance.Result, error)
	Revoke(ctx context.Context, sessionID string) error
}

type IssuanceHandler struct {
	service IssuanceService
	logger  *slog.Logger
}

func NewIssuanceHandler(service IssuanceService, logger *slog.Logger) *IssuanceHandler {
	return &IssuanceHandler{service: service, logger: logger}
}

// Register registers the issuance routes with the chi router.
func (h *IssuanceHandler) Register(r chi.Router) {
	r.Post("/issuance", h.handleRequest)
	r.Post("/sessions/{sessionID}/revoke", h.handleRevoke)
}

type issuanceRequest struct {
	TemplateID string            `json:"template_id"`
	Claims     map[string]string `json:"claims"`
}

func (h *IssuanceHandler) handleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req issuanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.TemplateID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "template_id is required"))
		return
	}

	result, err := h.service.Request(ctx, req.TemplateID, req.Claims)
	if err != nil {
		h.logger.WarnContext(ctx, "issuance request failed",
			"request_id", middleware.GetRequestID(ctx),
			"template_id", req.TemplateID,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, toOpenedView(result.Session, result.Artifact))
}

func (h *IssuanceHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.service.Revoke(ctx, sessionID); err != nil {
		h.logger.WarnContext(ctx, "revocation failed",
			"request_id", middleware.GetRequestID(ctx),
			"session_id", sessionID,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
