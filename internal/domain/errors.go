package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOutsideBusinessHours    = errors.New("the requested time is outside business hours")
	ErrSlotUnavailable         = errors.New("the requested time slot is not available")
	ErrNoProfessionalAvailable = errors.New("no professional is available at the requested time")
	ErrNotFound                = errors.New("not found")
	ErrAlreadyCancelled        = errors.New("booking is already cancelled")
	ErrInvalidTransition       = errors.New("booking status does not allow this change")
	ErrLastActiveProfessional  = errors.New("cannot deactivate the last active professional")
	ErrMessaging               = errors.New("messaging failure")
	ErrTransientStore          = errors.New("temporary storage failure")
)

// ValidationError reports malformed caller input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Reason returns a message suitable for showing to the end user.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var v *ValidationError
	switch {
	case errors.As(err, &v):
		return v.Error()
	case errors.Is(err, ErrOutsideBusinessHours),
		errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrNoProfessionalAvailable),
		errors.Is(err, ErrAlreadyCancelled),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrLastActiveProfessional):
		return unwrapSentinel(err).Error()
	case errors.Is(err, ErrNotFound):
		return "booking not found"
	default:
		return "temporary failure, please try again"
	}
}

func unwrapSentinel(err error) error {
	for _, s := range []error{
		ErrOutsideBusinessHours, ErrSlotUnavailable, ErrNoProfessionalAvailable,
		ErrAlreadyCancelled, ErrInvalidTransition, ErrLastActiveProfessional,
	} {
		if errors.Is(err, s) {
			return s
		}
	}
	return err
}
