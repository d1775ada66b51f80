// Package apperrors defines the sentinel errors callers branch on with
// errors.Is. Wrap them with fmt.Errorf("...: %w", ...) to add context.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrInvalidQuery          = errors.New("invalid query")
	ErrInvalidFeedback       = errors.New("invalid feedback")
	ErrIndexUnavailable      = errors.New("vector index unavailable")
	ErrAllIndexesUnavailable = errors.New("all vector indexes unavailable")
	ErrDimensionMismatch     = errors.New("embedding dimension mismatch")

	// ErrFeedbackAlreadySet is a conflict: feedback on a match record is
	// one-shot. errors.Is(err, ErrConflict) also matches it.
	ErrFeedbackAlreadySet = fmt.Errorf("feedback already recorded: %w", ErrConflict)
)
