package database

import (
	"errors"
	"fmt"

	"clinicbook/internal/domain"
)

var (
	ErrBookingNotFound        = fmt.Errorf("booking %w", domain.ErrNotFound)
	ErrPatientNotFound        = fmt.Errorf("patient %w", domain.ErrNotFound)
	ErrProfessionalNotFound   = fmt.Errorf("professional %w", domain.ErrNotFound)
	ErrConcurrentModification = errors.New("concurrent modification")
)

// storeErr marks a driver failure as transient.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrTransientStore, err)
}
