package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"clinicbook/internal/domain"
	"clinicbook/internal/models"
)

// ReminderStore is satisfied by both database.DB and database.Tx, so reminder
// writes can join the caller's transaction.
type ReminderStore interface {
	InsertReminders(ctx context.Context, reminders []*models.Reminder, at time.Time) error
	CancelPendingReminders(ctx context.Context, bookingID string, at time.Time) (int64, error)
}

// ReminderScheduler plans the reminders of a booking.
type ReminderScheduler struct {
	clock  domain.Clock
	logger *zerolog.Logger
}

func NewReminderScheduler(clock domain.Clock, logger *zerolog.Logger) *ReminderScheduler {
	if clock == nil {
		clock = domain.SystemClock
	}
	return &ReminderScheduler{clock: clock, logger: logger}
}

// Plan returns the reminders due for b without storing them. Triggers that
// are not strictly after now are skipped.
func (s *ReminderScheduler) Plan(tenant *models.Tenant, b *models.Booking) []*models.Reminder {
	settings := tenant.Reminders
	if !settings.Enabled {
		return nil
	}
	now := s.clock.Now()

	var out []*models.Reminder
	for _, reminderType := range []string{models.Reminder24h, models.Reminder1h} {
		if !settings.TypeEnabled(reminderType) {
			continue
		}
		offset, _ := models.ReminderOffset(reminderType)
		trigger := b.Start.Add(-offset)
		if !trigger.After(now) {
			continue
		}
		out = append(out, &models.Reminder{
			BookingID:    b.ID,
			Type:         reminderType,
			ScheduledFor: trigger.UTC(),
			Status:       models.ReminderPending,
		})
	}
	if settings.TypeEnabled(models.ReminderConfirmation) {
		out = append(out, &models.Reminder{
			BookingID:    b.ID,
			Type:         models.ReminderConfirmation,
			ScheduledFor: now.UTC(),
			Status:       models.ReminderPending,
		})
	}
	return out
}

// Schedule stores the planned reminders of b in one statement.
func (s *ReminderScheduler) Schedule(ctx context.Context, store ReminderStore, tenant *models.Tenant, b *models.Booking) ([]*models.Reminder, error) {
	reminders := s.Plan(tenant, b)
	if len(reminders) == 0 {
		return nil, nil
	}
	if err := store.InsertReminders(ctx, reminders, s.clock.Now()); err != nil {
		return nil, err
	}
	s.logger.Debug().
		Str("booking_id", b.ID).
		Int("count", len(reminders)).
		Msg("reminders scheduled")
	return reminders, nil
}

// CancelForBooking cancels every pending reminder of the booking. It is idempotent.
func (s *ReminderScheduler) CancelForBooking(ctx context.Context, store ReminderStore, bookingID string) (int64, error) {
	n, err := store.CancelPendingReminders(ctx, bookingID, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Debug().Str("booking_id", bookingID).Int64("count", n).Msg("reminders cancelled")
	}
	return n, nil
}
