package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
)

// statusClientClosedRequest is reported when the caller hung up first.
const statusClientClosedRequest = 499

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrTemporary),
		domain.IsKind(err, domain.ErrBackendUnavailable),
		domain.IsKind(err, domain.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is a stable machine-readable label for the error kind.
func errorCode(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrPayloadTooLarge):
		return "payload_too_large"
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid_input"
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return "not_found"
	case domain.IsKind(err, domain.ErrBackendUnavailable):
		return "backend_unavailable"
	case domain.IsKind(err, domain.ErrResourceExhausted):
		return "resource_exhausted"
	case domain.IsKind(err, domain.ErrTemporary):
		return "temporary"
	case domain.IsKind(err, domain.ErrCitationIntegrity):
		return "citation_integrity"
	case domain.IsKind(err, domain.ErrRetrieval), domain.IsKind(err, domain.ErrEmbedding):
		return "retrieval_failed"
	default:
		return "internal"
	}
}
