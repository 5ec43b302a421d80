package domain

import (
	"errors"
	"fmt"
)

// Error categories. Operations wrap one of these so callers can branch with
// errors.Is.
var (
	// ErrNotFound is returned when an image or annotation path cannot be resolved
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for malformed input, rejected before mutating state
	ErrValidation = errors.New("validation error")
	// ErrIO is returned when reading or writing files fails
	ErrIO = errors.New("io error")
	// ErrIndex is returned for navigation past the loaded range. Callers treat it as a no-op.
	ErrIndex = errors.New("index out of range")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Indexf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIndex, fmt.Sprintf(format, args...))
}

// WrapIO tags err as an I/O failure while doing what
func WrapIO(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: while %s: %w", ErrIO, what, err)
}
