package model

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

// Sentinel errors of the recommendation engine
var (
	// ErrEmbedding is returned when the embedding model is unreachable or returns malformed output
	ErrEmbedding = goerr.New("embedding failed")

	// ErrIndexUnavailable is returned on vector index backend connectivity failure
	ErrIndexUnavailable = goerr.New("vector index unavailable")

	// ErrDimensionMismatch is returned when a vector length differs from the index dimension
	ErrDimensionMismatch = goerr.New("vector dimension mismatch")

	// ErrRetrieval wraps index failures raised while retrieving candidates
	ErrRetrieval = goerr.New("candidate retrieval failed")

	// ErrBudgetTooSmall is returned when not even the top candidate fits into the prompt budget
	ErrBudgetTooSmall = goerr.New("prompt budget too small")

	ErrInvalidInput = goerr.New("invalid input")
	ErrNotFound     = goerr.New("not found")
)

// Context keys for error values
const (
	FingerprintKey = "fingerprint"
	StageKey       = "stage"
	AttemptKey     = "attempt"
	BadgeIDKey     = "badge_id"
	UserIDKey      = "user_id"
)

type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

// WithKind classifies cause as kind. errors.Is matches both kind and every error in the cause chain.
func WithKind(cause, kind error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, kind) {
		return cause
	}
	return &kindError{kind: kind, cause: cause}
}
