package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clinicbook/internal/config"
	"clinicbook/internal/database"
	"clinicbook/internal/domain"
	"clinicbook/internal/models"
)

// ProfessionalService manages the bookable professionals of a tenant. A tenant
// with active professionals always has exactly one default among them.
type ProfessionalService struct {
	db      *database.DB
	tenants domain.TenantDirectory
	clock   domain.Clock
	timeout time.Duration
	logger  *zerolog.Logger
}

func NewProfessionalService(
	db *database.DB,
	tenants domain.TenantDirectory,
	clock domain.Clock,
	cfg config.BookingConfig,
	logger *zerolog.Logger,
) *ProfessionalService {
	if clock == nil {
		clock = domain.SystemClock
	}
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = models.DefaultStoreTimeout
	}
	return &ProfessionalService{db: db, tenants: tenants, clock: clock, timeout: timeout, logger: logger}
}

// Create adds an active professional. The first active professional of a
// tenant becomes its default.
func (s *ProfessionalService) Create(ctx context.Context, p *models.Professional) error {
	if _, ok := s.tenants.Tenant(p.TenantID); !ok {
		return fmt.Errorf("tenant %s: %w", p.TenantID, domain.ErrNotFound)
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return domain.Invalid("name", "is required")
	}

	err := s.inTx(ctx, func(tx *database.Tx) error {
		active, err := tx.ListProfessionals(ctx, p.TenantID, true)
		if err != nil {
			return err
		}
		p.Active = true
		p.IsDefault = len(active) == 0
		return tx.CreateProfessional(ctx, p, s.clock.Now())
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("tenant_id", p.TenantID).
		Str("professional_id", p.ID).
		Bool("default", p.IsDefault).
		Msg("professional created")
	return nil
}

// List returns the tenant's professionals ordered by name, then id.
func (s *ProfessionalService) List(ctx context.Context, tenantID string, activeOnly bool) ([]*models.Professional, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.ListProfessionals(ctx, tenantID, activeOnly)
}

// SetHours replaces the professional's business hours override. nil
// restores the tenant-wide hours.
func (s *ProfessionalService) SetHours(ctx context.Context, tenantID, id string, hours *models.WeeklyHours) error {
	return s.inTx(ctx, func(tx *database.Tx) error {
		p, err := tx.GetProfessional(ctx, tenantID, id)
		if err != nil {
			return err
		}
		p.Hours = hours
		return tx.UpdateProfessional(ctx, p, s.clock.Now())
	})
}

// Deactivate takes a professional out of allocation. If it was the default,
// the next active professional by (name, id) becomes default. The last
// active professional of a tenant cannot be deactivated.
func (s *ProfessionalService) Deactivate(ctx context.Context, tenantID, id string) error {
	var promoted string
	err := s.inTx(ctx, func(tx *database.Tx) error {
		p, err := tx.GetProfessional(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if !p.Active {
			return nil
		}
		active, err := tx.ListProfessionals(ctx, tenantID, true)
		if err != nil {
			return err
		}
		if len(active) <= 1 {
			return domain.ErrLastActiveProfessional
		}

		wasDefault := p.IsDefault
		p.Active = false
		p.IsDefault = false
		if err := tx.UpdateProfessional(ctx, p, s.clock.Now()); err != nil {
			return err
		}
		if !wasDefault {
			return nil
		}
		for _, other := range active {
			if other.ID == p.ID {
				continue
			}
			other.IsDefault = true
			promoted = other.ID
			return tx.UpdateProfessional(ctx, other, s.clock.Now())
		}
		return nil
	})
	if err != nil {
		return err
	}

	event := s.logger.Info().Str("tenant_id", tenantID).Str("professional_id", id)
	if promoted != "" {
		event = event.Str("new_default", promoted)
	}
	event.Msg("professional deactivated")
	return nil
}

// SetDefault makes an active professional the tenant default.
func (s *ProfessionalService) SetDefault(ctx context.Context, tenantID, id string) error {
	return s.inTx(ctx, func(tx *database.Tx) error {
		p, err := tx.GetProfessional(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if !p.Active {
			return fmt.Errorf("professional %s is inactive: %w", p.ID, domain.ErrNotFound)
		}
		active, err := tx.ListProfessionals(ctx, tenantID, true)
		if err != nil {
			return err
		}
		for _, other := range active {
			want := other.ID == p.ID
			if other.IsDefault == want {
				continue
			}
			other.IsDefault = want
			if err := tx.UpdateProfessional(ctx, other, s.clock.Now()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *ProfessionalService) inTx(ctx context.Context, fn func(tx *database.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.InTx(ctx, fn)
}
