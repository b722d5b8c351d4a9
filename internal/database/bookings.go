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

var bookingColumns = []string{
	"id", "tenant_id", "patient_id", "professional_id", "service_name", "start_at",
	"duration_minutes", "status", "notes", "cancelled_at", "created_at", "updated_at", "version",
}

// Scope selects the bookings that compete for time: one professional, or the
// whole tenant when ProfessionalID is empty.
type Scope struct {
	TenantID       string
	ProfessionalID string
}

func scanBooking(row interface{ Scan(...interface{}) error }) (*models.Booking, error) {
	var b models.Booking
	var professionalID, cancelledAt sql.NullString
	var start, createdAt, updatedAt string
	err := row.Scan(&b.ID, &b.TenantID, &b.PatientID, &professionalID, &b.ServiceName, &start,
		&b.Duration, &b.Status, &b.Notes, &cancelledAt, &createdAt, &updatedAt, &b.Version)
	if err != nil {
		return nil, err
	}
	b.ProfessionalID = professionalID.String
	if b.Start, err = parseTime(start); err != nil {
		return nil, err
	}
	if b.CancelledAt, err = parseNullTime(cancelledAt); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func nullID(id string) interface{} {
	if id == "" {
		return nil
	}
	return id
}

func (s queries) listBookings(ctx context.Context, op string, b sq.SelectBuilder) ([]*models.Booking, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []*models.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

// GetBooking loads a booking of the tenant.
func (s queries) GetBooking(ctx context.Context, tenantID, id string) (*models.Booking, error) {
	query, args, err := sq.Select(bookingColumns...).From("bookings").
		Where(sq.Eq{"id": id, "tenant_id": tenantID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build booking query: %w", err)
	}
	b, err := scanBooking(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, storeErr("get booking", err)
	}
	return b, nil
}

// ScopeIntervals returns the occupied intervals of non-cancelled bookings in
// scope that may intersect [from, to). Bookings starting up to the maximum
// booking duration before from are included, callers run the exact overlap test.
func (s queries) ScopeIntervals(ctx context.Context, scope Scope, from, to time.Time, excludeID string) ([]models.Interval, error) {
	lookback := from.Add(-time.Duration(models.MaxBookingDuration) * time.Minute)
	b := sq.Select("start_at", "duration_minutes").From("bookings").
		Where(sq.Eq{"tenant_id": scope.TenantID}).
		Where(sq.NotEq{"status": models.StatusCancelled}).
		Where(sq.GtOrEq{"start_at": formatTime(lookback)}).
		Where(sq.Lt{"start_at": formatTime(to)}).
		OrderBy("start_at ASC")
	if scope.ProfessionalID != "" {
		b = b.Where(sq.Eq{"professional_id": scope.ProfessionalID})
	}
	if excludeID != "" {
		b = b.Where(sq.NotEq{"id": excludeID})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build scope query: %w", err)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("scope intervals", err)
	}
	defer rows.Close()

	var out []models.Interval
	for rows.Next() {
		var start string
		var iv models.Interval
		if err := rows.Scan(&start, &iv.Duration); err != nil {
			return nil, storeErr("scan interval", err)
		}
		if iv.Start, err = parseTime(start); err != nil {
			return nil, storeErr("scan interval", err)
		}
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("scope intervals", err)
	}
	return out, nil
}

// InsertBooking stores b with version 1, assigning id and timestamps.
func (s queries) InsertBooking(ctx context.Context, b *models.Booking, at time.Time) error {
	now := stamp(at)
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	_, err := s.execBuilt(ctx, "insert booking", sq.Insert("bookings").
		Columns(bookingColumns...).
		Values(b.ID, b.TenantID, b.PatientID, nullID(b.ProfessionalID), b.ServiceName, formatTime(b.Start),
			b.Duration, b.Status, b.Notes, formatNullTime(b.CancelledAt), formatTime(now), formatTime(now), 1))
	if err != nil {
		return err
	}
	b.CreatedAt = now
	b.UpdatedAt = now
	b.Version = 1
	return nil
}

// UpdateBookingStatus moves b to status if nobody changed it since b was read.
// Moving to cancelled stamps cancelled_at.
func (s queries) UpdateBookingStatus(ctx context.Context, b *models.Booking, status string, at time.Time) error {
	now := stamp(at)
	set := map[string]interface{}{
		"status":     status,
		"version":    sq.Expr("version + 1"),
		"updated_at": formatTime(now),
	}
	if status == models.StatusCancelled {
		set["cancelled_at"] = formatTime(now)
	}
	rows, err := s.execBuilt(ctx, "update booking status", sq.Update("bookings").
		SetMap(set).
		Where(sq.Eq{"id": b.ID, "version": b.Version}))
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrConcurrentModification
	}
	b.Status = status
	b.UpdatedAt = now
	b.Version++
	if status == models.StatusCancelled {
		b.CancelledAt = &now
	}
	return nil
}

// CancelBooking cancels the booking only while it is pending or confirmed and
// reports whether a row changed. A booking already cancelled keeps its
// original cancelled_at.
func (s queries) CancelBooking(ctx context.Context, tenantID, id string, at time.Time) (bool, error) {
	now := formatTime(at)
	rows, err := s.execBuilt(ctx, "cancel booking", sq.Update("bookings").
		Set("status", models.StatusCancelled).
		Set("cancelled_at", now).
		Set("updated_at", now).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{
			"id":        id,
			"tenant_id": tenantID,
			"status":    []string{models.StatusPending, models.StatusConfirmed},
		}))
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// RescheduleBooking moves b to a new start in place if nobody changed it since b was read.
func (s queries) RescheduleBooking(ctx context.Context, b *models.Booking, start, at time.Time) error {
	now := stamp(at)
	rows, err := s.execBuilt(ctx, "reschedule booking", sq.Update("bookings").
		Set("start_at", formatTime(start)).
		Set("updated_at", formatTime(now)).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": b.ID, "version": b.Version}))
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrConcurrentModification
	}
	b.Start = start
	b.UpdatedAt = now
	b.Version++
	return nil
}

// ListPatientBookings returns the non-cancelled bookings of the patient with
// the given phone, ascending by start. A nil after includes past bookings.
func (s queries) ListPatientBookings(ctx context.Context, tenantID, phone string, after *time.Time) ([]*models.Booking, error) {
	cols := make([]string, len(bookingColumns))
	for i, c := range bookingColumns {
		cols[i] = "b." + c
	}
	b := sq.Select(cols...).From("bookings b").
		Join("patients p ON p.id = b.patient_id").
		Where(sq.Eq{"b.tenant_id": tenantID, "p.phone": phone}).
		Where(sq.NotEq{"b.status": models.StatusCancelled}).
		OrderBy("b.start_at ASC", "b.id ASC")
	if after != nil {
		b = b.Where(sq.GtOrEq{"b.start_at": formatTime(*after)})
	}
	return s.listBookings(ctx, "list patient bookings", b)
}

// ListBookings returns the tenant's bookings starting in [from, to), any status.
func (s queries) ListBookings(ctx context.Context, tenantID string, from, to time.Time) ([]*models.Booking, error) {
	return s.listBookings(ctx, "list bookings", sq.Select(bookingColumns...).From("bookings").
		Where(sq.Eq{"tenant_id": tenantID}).
		Where(sq.GtOrEq{"start_at": formatTime(from)}).
		Where(sq.Lt{"start_at": formatTime(to)}).
		OrderBy("start_at ASC", "id ASC"))
}
