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

var patientColumns = []string{"id", "tenant_id", "name", "phone", "created_at", "updated_at"}

func scanPatient(row interface{ Scan(...interface{}) error }) (*models.Patient, error) {
	var p models.Patient
	var createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Phone, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s queries) getPatient(ctx context.Context, where sq.Eq) (*models.Patient, error) {
	query, args, err := sq.Select(patientColumns...).From("patients").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build patient query: %w", err)
	}
	p, err := scanPatient(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, storeErr("get patient", err)
	}
	return p, nil
}

// FindPatientByPhone looks a patient up by normalized phone within a tenant.
func (s queries) FindPatientByPhone(ctx context.Context, tenantID, phone string) (*models.Patient, error) {
	return s.getPatient(ctx, sq.Eq{"tenant_id": tenantID, "phone": phone})
}

// CreatePatient inserts p, assigning its id and timestamps.
func (s queries) CreatePatient(ctx context.Context, p *models.Patient, at time.Time) error {
	now := stamp(at)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.execBuilt(ctx, "create patient", sq.Insert("patients").
		Columns(patientColumns...).
		Values(p.ID, p.TenantID, p.Name, p.Phone, formatTime(now), formatTime(now)))
	if err != nil {
		return err
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}
