package ollama

import (
	"context"
	"errors"
	"net"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/llm/prompting"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/resilience"
)

// classifyError never retries memory exhaustion; a server that cannot fit
// the model will not recover between attempts.
func classifyError(err error) resilience.ErrorClassification {
	if err != nil && prompting.IsMemoryExhaustion(err.Error()) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ClassifyHTTPError(err)
}

// mapError assigns a domain kind to an Ollama failure. fallback is used for
// failures that are neither transient nor outages.
func mapError(operation string, err error, fallback error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if prompting.IsMemoryExhaustion(err.Error()) {
		return domain.WrapError(domain.ErrResourceExhausted, operation, err)
	}
	if resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrBackendUnavailable, operation, err)
	}

	var statusErr *resilience.StatusError
	if errors.As(err, &statusErr) {
		if resilience.IsRetryableHTTPStatus(statusErr.StatusCode) {
			return domain.WrapError(domain.ErrTemporary, operation, err)
		}
		return domain.WrapError(fallback, operation, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrBackendUnavailable, operation, err)
	}
	return domain.WrapError(fallback, operation, err)
}
