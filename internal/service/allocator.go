package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinicbook/internal/database"
	"clinicbook/internal/domain"
	"clinicbook/internal/models"
	"clinicbook/internal/schedule"
)

// allocate picks the scope for a new booking. It returns the chosen
// professional id, or "" for the tenant-wide bucket when the tenant has no
// active professionals. slot.Start must be in the tenant location.
//
// Without a requested professional the policy is first-fit in (name, id)
// order. It does not balance load between professionals.
func allocate(ctx context.Context, tx *database.Tx, tenant *models.Tenant, slot models.Interval, professionalID string) (string, error) {
	if professionalID != "" {
		p, err := tx.GetProfessional(ctx, tenant.ID, professionalID)
		if err != nil {
			return "", err
		}
		if !p.Active {
			return "", fmt.Errorf("professional %s is inactive: %w", p.ID, domain.ErrNotFound)
		}
		scope := database.Scope{TenantID: tenant.ID, ProfessionalID: p.ID}
		if err := checkScope(ctx, tx, tenant, p.Hours, scope, slot, ""); err != nil {
			return "", err
		}
		return p.ID, nil
	}

	professionals, err := tx.ListProfessionals(ctx, tenant.ID, true)
	if err != nil {
		return "", err
	}
	if len(professionals) == 0 {
		scope := database.Scope{TenantID: tenant.ID}
		if err := checkScope(ctx, tx, tenant, nil, scope, slot, ""); err != nil {
			return "", err
		}
		return "", nil
	}

	withinHours := false
	for _, p := range professionals {
		scope := database.Scope{TenantID: tenant.ID, ProfessionalID: p.ID}
		err := checkScope(ctx, tx, tenant, p.Hours, scope, slot, "")
		switch {
		case err == nil:
			return p.ID, nil
		case errors.Is(err, domain.ErrSlotUnavailable):
			withinHours = true
		case errors.Is(err, domain.ErrOutsideBusinessHours):
		default:
			return "", err
		}
	}
	if !withinHours {
		return "", domain.ErrOutsideBusinessHours
	}
	return "", domain.ErrNoProfessionalAvailable
}

type intervalReader interface {
	ScopeIntervals(ctx context.Context, scope database.Scope, from, to time.Time, excludeID string) ([]models.Interval, error)
}

// checkScope validates slot against the resolved hours and the existing
// bookings of scope, ignoring excludeID.
func checkScope(ctx context.Context, q intervalReader, tenant *models.Tenant, override *models.WeeklyHours, scope database.Scope, slot models.Interval, excludeID string) error {
	if !schedule.Fits(tenant.Hours(), override, slot) {
		return domain.ErrOutsideBusinessHours
	}
	existing, err := q.ScopeIntervals(ctx, scope, slot.Start, slot.End(), excludeID)
	if err != nil {
		return err
	}
	if schedule.HasConflict(slot.Start, slot.Duration, existing) {
		return domain.ErrSlotUnavailable
	}
	return nil
}
