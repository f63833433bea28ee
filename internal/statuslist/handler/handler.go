package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vcbridge/contracts/status"
	"vcbridge/internal/platform/middleware"
	respond "vcbridge/internal/transport/http/json"
	"vcbridge/internal/transport/http/shared"
)

// Service defines the status list operations exposed over HTTP.
type Service interface {
	Publish(ctx context.Context, listID string) (*status.Document, error)
}

// Handler serves published status list documents to external verifiers.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New creates a new status list Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register registers the status list routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/status-lists/{listID}", h.handlePublish)
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	listID := chi.URLParam(r, "listID")

	doc, err := h.service.Publish(ctx, listID)
	if err != nil {
		h.logger.WarnContext(ctx, "status list publish failed",
			"request_id", middleware.GetRequestID(ctx),
			"status_list_id", listID,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, doc)
}
