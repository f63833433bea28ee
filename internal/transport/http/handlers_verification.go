package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vcbridge/internal/platform/middleware"
	respond "vcbridge/internal/transport/http/json"
	"vcbridge/internal/transport/http/shared"
	"vcbridge/internal/verification"
	dErrors "vcbridge/pkg/domain-errors"
)

// VerificationService defines the verification operations exposed over HTTP.
type VerificationService interface {
	SessionReader
	Request(ctx context.Context, templateID string) (*verification.Result, error)
}

type VerificationHandler struct {
	service VerificationService
	logger  *slog.Logger
}

func NewVerificationHandler(service VerificationService, logger *slog.Logger) *VerificationHandler {
	return &VerificationHandler{service: service, logger: logger}
}

// Register registers the verification routes with the chi router.
func (h *VerificationHandler) Register(r chi.Router) {
	r.Post("/verification", h.handleRequest)
}

type verificationRequest struct {
	TemplateID string `json:"template_id"`
}

func (h *VerificationHandler) handleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.TemplateID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "template_id is required"))
		return
	}

	result, err := h.service.Request(ctx, req.TemplateID)
	if err != nil {
		h.logger.WarnContext(ctx, "verification request failed",
			"request_id", middleware.GetRequestID(ctx),
			"template_id", req.TemplateID,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, toOpenedView(result.Session, result.Artifact))
}
