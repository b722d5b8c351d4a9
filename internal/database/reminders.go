package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"clinicbook/internal/models"
)

var reminderColumns = []string{
	"id", "booking_id", "type", "scheduled_for", "status", "attempts", "last_error",
	"terminal", "sent_at", "created_at", "updated_at",
}

func scanReminder(dest *models.Reminder, extra ...interface{}) (fields []interface{}, finish func() error) {
	var scheduled, createdAt, updatedAt string
	var lastError, sentAt sql.NullString
	fields = append([]interface{}{
		&dest.ID, &dest.BookingID, &dest.Type, &scheduled, &dest.Status, &dest.Attempts,
		&lastError, &dest.Terminal, &sentAt, &createdAt, &updatedAt,
	}, extra...)
	finish = func() error {
		var err error
		dest.LastError = nullString(lastError)
		if dest.ScheduledFor, err = parseTime(scheduled); err != nil {
			return err
		}
		if dest.SentAt, err = parseNullTime(sentAt); err != nil {
			return err
		}
		if dest.CreatedAt, err = parseTime(createdAt); err != nil {
			return err
		}
		dest.UpdatedAt, err = parseTime(updatedAt)
		return err
	}
	return fields, finish
}

// InsertReminders stores all reminders in one statement.
func (s queries) InsertReminders(ctx context.Context, reminders []*models.Reminder, at time.Time) error {
	if len(reminders) == 0 {
		return nil
	}
	now := stamp(at)
	b := sq.Insert("reminders").Columns(reminderColumns...)
	for _, r := range reminders {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.Status == "" {
			r.Status = models.ReminderPending
		}
		b = b.Values(r.ID, r.BookingID, r.Type, formatTime(r.ScheduledFor), r.Status, r.Attempts,
			r.LastError, r.Terminal, formatNullTime(r.SentAt), formatTime(now), formatTime(now))
	}
	if _, err := s.execBuilt(ctx, "insert reminders", b); err != nil {
		return err
	}
	for _, r := range reminders {
		r.CreatedAt = now
		r.UpdatedAt = now
	}
	return nil
}

// CancelPendingReminders cancels every pending reminder of the booking and
// returns how many changed. Calling it again changes nothing.
func (s queries) CancelPendingReminders(ctx context.Context, bookingID string, at time.Time) (int64, error) {
	return s.execBuilt(ctx, "cancel reminders", sq.Update("reminders").
		Set("status", models.ReminderCancelled).
		Set("updated_at", formatTime(at)).
		Where(sq.Eq{"booking_id": bookingID, "status": models.ReminderPending}))
}

// ListBookingReminders returns the booking's reminders ordered by schedule.
func (s queries) ListBookingReminders(ctx context.Context, bookingID string) ([]*models.Reminder, error) {
	query, args, err := sq.Select(reminderColumns...).From("reminders").
		Where(sq.Eq{"booking_id": bookingID}).
		OrderBy("scheduled_for ASC", "type ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reminders query: %w", err)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list reminders", err)
	}
	defer rows.Close()

	var out []*models.Reminder
	for rows.Next() {
		r := &models.Reminder{}
		fields, finish := scanReminder(r)
		if err := rows.Scan(fields...); err != nil {
			return nil, storeErr("scan reminder", err)
		}
		if err := finish(); err != nil {
			return nil, storeErr("scan reminder", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list reminders", err)
	}
	return out, nil
}

func (s queries) listDeliveries(ctx context.Context, op string, where sq.Sqlizer, limit uint64) ([]*models.ReminderDelivery, error) {
	cols := make([]string, 0, len(reminderColumns)+len(bookingColumns)+4)
	for _, c := range reminderColumns {
		cols = append(cols, "r."+c)
	}
	for _, c := range bookingColumns {
		cols = append(cols, "b."+c)
	}
	cols = append(cols,
		"COALESCE(p.id, '')", "COALESCE(p.tenant_id, '')", "COALESCE(p.name, '')", "COALESCE(p.phone, '')")

	b := sq.Select(cols...).From("reminders r").
		Join("bookings b ON b.id = r.booking_id").
		LeftJoin("patients p ON p.id = b.patient_id").
		Where(where).
		OrderBy("r.scheduled_for ASC", "r.id ASC")
	if limit > 0 {
		b = b.Limit(limit)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []*models.ReminderDelivery
	for rows.Next() {
		d := &models.ReminderDelivery{}
		var professionalID, cancelledAt sql.NullString
		var start, bCreated, bUpdated string
		fields, finish := scanReminder(&d.Reminder,
			&d.Booking.ID, &d.Booking.TenantID, &d.Booking.PatientID, &professionalID,
			&d.Booking.ServiceName, &start, &d.Booking.Duration, &d.Booking.Status, &d.Booking.Notes,
			&cancelledAt, &bCreated, &bUpdated, &d.Booking.Version,
			&d.Patient.ID, &d.Patient.TenantID, &d.Patient.Name, &d.Patient.Phone)
		if err := rows.Scan(fields...); err != nil {
			return nil, storeErr(op, err)
		}
		if err := finish(); err != nil {
			return nil, storeErr(op, err)
		}
		d.Booking.ProfessionalID = professionalID.String
		if d.Booking.Start, err = parseTime(start); err != nil {
			return nil, storeErr(op, err)
		}
		if d.Booking.CancelledAt, err = parseNullTime(cancelledAt); err != nil {
			return nil, storeErr(op, err)
		}
		if d.Booking.CreatedAt, err = parseTime(bCreated); err != nil {
			return nil, storeErr(op, err)
		}
		if d.Booking.UpdatedAt, err = parseTime(bUpdated); err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

// DueReminders returns pending reminders scheduled at or before now, oldest first.
func (s queries) DueReminders(ctx context.Context, now time.Time, limit uint64) ([]*models.ReminderDelivery, error) {
	return s.listDeliveries(ctx, "due reminders", sq.And{
		sq.Eq{"r.status": models.ReminderPending},
		sq.LtOrEq{"r.scheduled_for": formatTime(now)},
	}, limit)
}

// RetryableReminders returns failed, non-terminal reminders with attempts left.
func (s queries) RetryableReminders(ctx context.Context, maxAttempts int, limit uint64) ([]*models.ReminderDelivery, error) {
	return s.listDeliveries(ctx, "retryable reminders", sq.And{
		sq.Eq{"r.status": models.ReminderFailed, "r.terminal": false},
		sq.Lt{"r.attempts": maxAttempts},
	}, limit)
}

// ClaimReminder re-checks a pending reminder right before it is sent. It
// reports false when the reminder is no longer pending or its booking is no
// longer pending or confirmed. The check and the stamp are one statement, so a
// cancellation committed before the claim always wins.
func (s queries) ClaimReminder(ctx context.Context, id string, at time.Time) (bool, error) {
	rows, err := s.execBuilt(ctx, "claim reminder", sq.Update("reminders").
		Set("updated_at", formatTime(at)).
		Where(sq.Eq{"id": id, "status": models.ReminderPending}).
		Where(sq.Expr("EXISTS (SELECT 1 FROM bookings b WHERE b.id = reminders.booking_id AND b.status IN (?, ?))",
			models.StatusPending, models.StatusConfirmed)))
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// MarkReminderSent records a successful delivery attempt.
func (s queries) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	ts := formatTime(at)
	return s.updateReminder(ctx, "mark reminder sent", id, map[string]interface{}{
		"status":     models.ReminderSent,
		"attempts":   sq.Expr("attempts + 1"),
		"sent_at":    ts,
		"last_error": nil,
		"updated_at": ts,
	})
}

// MarkReminderFailed records a failed attempt. Terminal failures are never retried;
// they do not consume an attempt because nothing was sent.
func (s queries) MarkReminderFailed(ctx context.Context, id, reason string, terminal bool, at time.Time) error {
	set := map[string]interface{}{
		"status":     models.ReminderFailed,
		"last_error": reason,
		"terminal":   terminal,
		"updated_at": formatTime(at),
	}
	if !terminal {
		set["attempts"] = sq.Expr("attempts + 1")
	}
	return s.updateReminder(ctx, "mark reminder failed", id, set)
}

// MarkReminderCancelled cancels a reminder whose booking is no longer active.
func (s queries) MarkReminderCancelled(ctx context.Context, id string, at time.Time) error {
	return s.updateReminder(ctx, "mark reminder cancelled", id, map[string]interface{}{
		"status":     models.ReminderCancelled,
		"updated_at": formatTime(at),
	})
}

// updateReminder only touches reminders still awaiting delivery.
func (s queries) updateReminder(ctx context.Context, op, id string, set map[string]interface{}) error {
	rows, err := s.execBuilt(ctx, op, sq.Update("reminders").
		SetMap(set).
		Where(sq.Eq{"id": id, "status": []string{models.ReminderPending, models.ReminderFailed}}))
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// ResetReminderForRetry moves a failed, non-terminal reminder with attempts
// left back to pending. It reports false when the reminder is not eligible.
func (s queries) ResetReminderForRetry(ctx context.Context, id string, maxAttempts int, at time.Time) (bool, error) {
	rows, err := s.execBuilt(ctx, "reset reminder", sq.Update("reminders").
		Set("status", models.ReminderPending).
		Set("updated_at", formatTime(at)).
		Where(sq.Eq{"id": id, "status": models.ReminderFailed, "terminal": false}).
		Where(sq.Lt{"attempts": maxAttempts}))
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
