package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")

	// ErrDataUnavailable is returned when a required upstream input cannot be
	// obtained. Callers fail closed.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrNoVolatilityData is returned when no ATR is available for a symbol.
	ErrNoVolatilityData = fmt.Errorf("no volatility data: %w", ErrDataUnavailable)
	// ErrStaleData is returned when an input is older than its freshness bound.
	ErrStaleData = fmt.Errorf("stale data: %w", ErrDataUnavailable)
)

// ValidationError rejects an input before any side effect takes place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
