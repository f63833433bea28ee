// Package shared centralizes domain error translation at the HTTP boundary.
package shared

import (
	"errors"
	"net/http"

	respond "vcbridge/internal/transport/http/json"
	dErrors "vcbridge/pkg/domain-errors"
)

// WriteError translates transport-agnostic domain errors into HTTP status
// codes and error responses. Since error codes are stable across the API
// boundary, clients can switch on the "error" field.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		response := map[string]string{
			"error": string(domainErr.Code),
		}
		if domainErr.Message != "" {
			response["error_description"] = domainErr.Message
		}
		respond.WriteJSON(w, StatusForCode(domainErr.Code), response)
		return
	}

	respond.WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"error": string(dErrors.CodeInternal),
	})
}

// StatusForCode translates domain error codes to HTTP status codes.
func StatusForCode(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound, dErrors.CodeUnknownStatusListEntry:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeProtocolMismatch:
		return http.StatusBadRequest
	case dErrors.CodeConflict, dErrors.CodeDuplicateCorrelation, dErrors.CodeStaleTransition,
		dErrors.CodeInvalidEventForState, dErrors.CodeInvalidState, dErrors.CodeSessionNotIssued:
		return http.StatusConflict
	case dErrors.CodeIncompleteClaimSet:
		return http.StatusUnprocessableEntity
	case dErrors.CodeCapacityExhausted:
		return http.StatusInsufficientStorage
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
