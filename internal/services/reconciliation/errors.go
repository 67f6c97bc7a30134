package reconciliation

import (
	"errors"

	"bank-reconciliation-backend/internal/repository"
)

var (
	ErrNotFound          = repository.ErrNotFound
	ErrConflict          = errors.New("record was modified concurrently")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")
)

// Failure codes reported for individual items of a bulk operation.
const (
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeInvalidTransition = "invalid_transition"
	CodeValidation        = "validation"
	CodeInternal          = "internal"
)

// ErrorCode classifies err into one of the failure codes.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrValidation):
		return CodeValidation
	default:
		return CodeInternal
	}
}
