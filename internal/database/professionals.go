package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"clinicbook/internal/models"
)

var professionalColumns = []string{
	"id", "tenant_id", "name", "phone", "specialty", "active", "is_default",
	"business_hours", "created_at", "updated_at",
}

func scanProfessional(row interface{ Scan(...interface{}) error }) (*models.Professional, error) {
	var p models.Professional
	var hours sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Phone, &p.Specialty, &p.Active, &p.IsDefault,
		&hours, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Hours = models.UnmarshalHours(nullString(hours))
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfessional loads a professional of the tenant.
func (s queries) GetProfessional(ctx context.Context, tenantID, id string) (*models.Professional, error) {
	query, args, err := sq.Select(professionalColumns...).From("professionals").
		Where(sq.Eq{"id": id, "tenant_id": tenantID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build professional query: %w", err)
	}
	p, err := scanProfessional(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfessionalNotFound
	}
	if err != nil {
		return nil, storeErr("get professional", err)
	}
	return p, nil
}

// ListProfessionals returns the tenant's professionals ordered by (name, id).
func (s queries) ListProfessionals(ctx context.Context, tenantID string, activeOnly bool) ([]*models.Professional, error) {
	b := sq.Select(professionalColumns...).From("professionals").
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("name ASC", "id ASC")
	if activeOnly {
		b = b.Where(sq.Eq{"active": true})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build professionals query: %w", err)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list professionals", err)
	}
	defer rows.Close()

	var out []*models.Professional
	for rows.Next() {
		p, err := scanProfessional(rows)
		if err != nil {
			return nil, storeErr("scan professional", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list professionals", err)
	}
	return out, nil
}

// CreateProfessional inserts p, assigning its id and timestamps.
func (s queries) CreateProfessional(ctx context.Context, p *models.Professional, at time.Time) error {
	hours, err := models.MarshalHours(p.Hours)
	if err != nil {
		return fmt.Errorf("encode professional hours: %w", err)
	}
	now := stamp(at)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err = s.execBuilt(ctx, "create professional", sq.Insert("professionals").
		Columns(professionalColumns...).
		Values(p.ID, p.TenantID, p.Name, p.Phone, p.Specialty, p.Active, p.IsDefault,
			hours, formatTime(now), formatTime(now)))
	if err != nil {
		return err
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// UpdateProfessional overwrites the mutable fields of p.
func (s queries) UpdateProfessional(ctx context.Context, p *models.Professional, at time.Time) error {
	hours, err := models.MarshalHours(p.Hours)
	if err != nil {
		return fmt.Errorf("encode professional hours: %w", err)
	}
	now := stamp(at)
	rows, err := s.execBuilt(ctx, "update professional", sq.Update("professionals").
		SetMap(map[string]interface{}{
			"name":           p.Name,
			"phone":          p.Phone,
			"specialty":      p.Specialty,
			"active":         p.Active,
			"is_default":     p.IsDefault,
			"business_hours": hours,
			"updated_at":     formatTime(now),
		}).
		Where(sq.Eq{"id": p.ID, "tenant_id": p.TenantID}))
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrProfessionalNotFound
	}
	p.UpdatedAt = now
	return nil
}
