package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrDocumentNotFound = errors.New("document not found")
	ErrTemporary        = errors.New("temporary failure")

	ErrEmbedding          = errors.New("embedding failed")
	ErrResourceExhausted  = errors.New("insufficient memory")
	ErrRetrieval          = errors.New("retrieval failed")
	ErrBackendUnavailable = errors.New("backing service unavailable")

	ErrGenerationTimeout = errors.New("generation timeout")
	ErrEmptyGeneration   = errors.New("empty generation")
	ErrGenerationFailed  = errors.New("generation failed")

	ErrCitationIntegrity = errors.New("citation validation failed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsGenerationFailure reports whether err is one of the declared generation
// failures the orchestrator may recover from.
func IsGenerationFailure(err error) bool {
	return IsKind(err, ErrGenerationTimeout) ||
		IsKind(err, ErrEmptyGeneration) ||
		IsKind(err, ErrGenerationFailed) ||
		IsKind(err, ErrResourceExhausted)
}
