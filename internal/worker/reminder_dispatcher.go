package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clinicbook/internal/config"
	"clinicbook/internal/database"
	"clinicbook/internal/domain"
	"clinicbook/internal/metrics"
	"clinicbook/internal/models"
)

// Outcome is the result of one dispatch.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Summary counts the outcomes of one sweep.
type Summary struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (s *Summary) add(o Outcome) {
	switch o {
	case OutcomeSent:
		s.Sent++
	case OutcomeFailed:
		s.Failed++
	case OutcomeSkipped:
		s.Skipped++
	}
}

// ReminderStore is the part of the database the dispatcher needs.
type ReminderStore interface {
	DueReminders(ctx context.Context, now time.Time, limit uint64) ([]*models.ReminderDelivery, error)
	RetryableReminders(ctx context.Context, maxAttempts int, limit uint64) ([]*models.ReminderDelivery, error)
	ResetReminderForRetry(ctx context.Context, id string, maxAttempts int, at time.Time) (bool, error)
	ClaimReminder(ctx context.Context, id string, at time.Time) (bool, error)
	MarkReminderSent(ctx context.Context, id string, at time.Time) error
	MarkReminderFailed(ctx context.Context, id, reason string, terminal bool, at time.Time) error
	MarkReminderCancelled(ctx context.Context, id string, at time.Time) error
}

// ReminderDispatcher delivers due reminders and retries failed ones on two
// independent timers. Sweeps never overlap, so a reminder is never picked up
// twice concurrently by this dispatcher.
type ReminderDispatcher struct {
	store     ReminderStore
	messenger domain.Messenger
	tenants   domain.TenantDirectory
	clock     domain.Clock
	cfg       config.ReminderConfig
	logger    *zerolog.Logger

	sweepMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReminderDispatcher(
	store ReminderStore,
	messenger domain.Messenger,
	tenants domain.TenantDirectory,
	clock domain.Clock,
	cfg config.ReminderConfig,
	logger *zerolog.Logger,
) *ReminderDispatcher {
	if clock == nil {
		clock = domain.SystemClock
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = models.DefaultReminderPollInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = models.DefaultReminderRetryInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = models.DefaultMaxReminderAttempts
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = models.DefaultSendTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &ReminderDispatcher{
		store:     store,
		messenger: messenger,
		tenants:   tenants,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start launches the due and retry loops. They run until Stop is called or
// ctx is done.
func (d *ReminderDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(2)
	go d.loop(ctx, "due", d.cfg.PollInterval, func(ctx context.Context) error {
		_, err := d.RunDue(ctx)
		return err
	})
	go d.loop(ctx, "retry", d.cfg.RetryInterval, func(ctx context.Context) error {
		_, err := d.RetryFailed(ctx, d.cfg.MaxAttempts)
		return err
	})
	d.logger.Info().
		Dur("poll_interval", d.cfg.PollInterval).
		Dur("retry_interval", d.cfg.RetryInterval).
		Msg("reminder dispatcher started")
}

// Stop cancels the loops and waits for the running sweep to finish.
func (d *ReminderDispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	d.logger.Info().Msg("reminder dispatcher stopped")
}

func (d *ReminderDispatcher) loop(ctx context.Context, name string, interval time.Duration, sweep func(context.Context) error) {
	defer d.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sweep(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error().Err(err).Str("sweep", name).Msg("reminder sweep error")
			}
		}
	}
}

// PollDue returns pending reminders that are due and whose booking is still
// pending or confirmed.
func (d *ReminderDispatcher) PollDue(ctx context.Context) ([]*models.ReminderDelivery, error) {
	due, err := d.store.DueReminders(ctx, d.clock.Now(), uint64(d.cfg.BatchSize))
	if err != nil {
		return nil, err
	}
	out := due[:0]
	for _, delivery := range due {
		if delivery.Booking.IsActive() {
			out = append(out, delivery)
		}
	}
	return out, nil
}

// RunDue dispatches every due reminder. Reminders of bookings that are no
// longer active are cancelled and counted as skipped.
func (d *ReminderDispatcher) RunDue(ctx context.Context) (Summary, error) {
	d.sweepMu.Lock()
	defer d.sweepMu.Unlock()
	started := time.Now()
	defer func() { metrics.ObserveSweep("due", time.Since(started)) }()

	due, err := d.store.DueReminders(ctx, d.clock.Now(), uint64(d.cfg.BatchSize))
	if err != nil {
		return Summary{}, fmt.Errorf("poll due reminders: %w", err)
	}
	summary, err := d.dispatchAll(ctx, due)
	d.logSummary("due", summary)
	return summary, err
}

// RetryFailed puts failed reminders with attempts left back to pending and
// dispatches them again. Reminders at or above maxAttempts stay failed.
func (d *ReminderDispatcher) RetryFailed(ctx context.Context, maxAttempts int) (Summary, error) {
	d.sweepMu.Lock()
	defer d.sweepMu.Unlock()
	started := time.Now()
	defer func() { metrics.ObserveSweep("retry", time.Since(started)) }()

	failed, err := d.store.RetryableReminders(ctx, maxAttempts, uint64(d.cfg.BatchSize))
	if err != nil {
		return Summary{}, fmt.Errorf("poll failed reminders: %w", err)
	}

	reset := failed[:0]
	for _, delivery := range failed {
		ok, err := d.store.ResetReminderForRetry(ctx, delivery.Reminder.ID, maxAttempts, d.clock.Now())
		if err != nil {
			return Summary{}, fmt.Errorf("reset reminder %s: %w", delivery.Reminder.ID, err)
		}
		if !ok {
			continue
		}
		delivery.Reminder.Status = models.ReminderPending
		reset = append(reset, delivery)
	}

	summary, err := d.dispatchAll(ctx, reset)
	d.logSummary("retry", summary)
	return summary, err
}

// dispatchAll fans deliveries out to the configured number of workers.
func (d *ReminderDispatcher) dispatchAll(ctx context.Context, deliveries []*models.ReminderDelivery) (Summary, error) {
	var summary Summary
	if len(deliveries) == 0 {
		return summary, nil
	}

	jobs := make(chan *models.ReminderDelivery)
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	workers := min(d.cfg.Workers, len(deliveries))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for delivery := range jobs {
				outcome, err := d.Dispatch(ctx, delivery)
				mu.Lock()
				summary.add(outcome)
				if err != nil {
					errs = append(errs, err)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, delivery := range deliveries {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- delivery:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return summary, errors.Join(errs...)
}

// Dispatch delivers one reminder and records the outcome. A send failure is
// recorded on the reminder and reported as OutcomeFailed with a nil error;
// the error is only set when the outcome could not be stored. The booking
// status is read again from the store right before sending, so a booking
// cancelled after the poll is skipped.
func (d *ReminderDispatcher) Dispatch(ctx context.Context, delivery *models.ReminderDelivery) (Outcome, error) {
	r := &delivery.Reminder
	log := d.logger.With().
		Str("reminder_id", r.ID).
		Str("booking_id", delivery.Booking.ID).
		Str("type", r.Type).
		Logger()

	if strings.TrimSpace(delivery.Patient.Phone) == "" {
		return d.fail(ctx, &log, r, "patient has no phone number", true)
	}

	if !delivery.Booking.IsActive() {
		return d.skip(ctx, &log, r, "booking "+delivery.Booking.Status)
	}

	tenant, ok := d.tenants.Tenant(delivery.Booking.TenantID)
	if !ok {
		return d.fail(ctx, &log, r, "unknown tenant "+delivery.Booking.TenantID, true)
	}
	text := Render(tenant, delivery)

	claimed, err := d.store.ClaimReminder(ctx, r.ID, d.clock.Now())
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("claim reminder %s: %w", r.ID, err)
	}
	if !claimed {
		return d.skip(ctx, &log, r, "booking inactive at send time")
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err = d.messenger.Send(sendCtx, tenant.ID, delivery.Patient.Phone, text)
	cancel()
	if err != nil {
		return d.fail(ctx, &log, r, err.Error(), false)
	}

	if err := d.store.MarkReminderSent(ctx, r.ID, d.clock.Now()); err != nil {
		// the message went out; a later sweep may send it again
		return OutcomeSent, fmt.Errorf("mark reminder %s sent: %w", r.ID, err)
	}
	r.Status = models.ReminderSent
	r.Attempts++
	metrics.IncReminder(string(OutcomeSent))
	log.Info().Int("attempts", r.Attempts).Msg("reminder sent")
	return OutcomeSent, nil
}

// skip cancels a reminder whose booking is no longer active. A reminder that
// was already cancelled elsewhere is left as it is.
func (d *ReminderDispatcher) skip(ctx context.Context, log *zerolog.Logger, r *models.Reminder, reason string) (Outcome, error) {
	err := d.store.MarkReminderCancelled(ctx, r.ID, d.clock.Now())
	switch {
	case err == nil:
		r.Status = models.ReminderCancelled
		metrics.IncReminder("cancelled")
	case errors.Is(err, database.ErrConcurrentModification):
	default:
		return OutcomeSkipped, fmt.Errorf("cancel reminder %s: %w", r.ID, err)
	}
	log.Debug().Str("reason", reason).Msg("reminder skipped")
	return OutcomeSkipped, nil
}

func (d *ReminderDispatcher) fail(ctx context.Context, log *zerolog.Logger, r *models.Reminder, reason string, terminal bool) (Outcome, error) {
	if err := d.store.MarkReminderFailed(ctx, r.ID, reason, terminal, d.clock.Now()); err != nil {
		return OutcomeFailed, fmt.Errorf("mark reminder %s failed: %w", r.ID, err)
	}
	r.Status = models.ReminderFailed
	r.LastError = &reason
	r.Terminal = terminal
	if !terminal {
		r.Attempts++
	}
	metrics.IncReminder(string(OutcomeFailed))
	log.Warn().Str("reason", reason).Bool("terminal", terminal).Int("attempts", r.Attempts).Msg("reminder failed")
	return OutcomeFailed, nil
}

func (d *ReminderDispatcher) logSummary(sweep string, s Summary) {
	if s == (Summary{}) {
		return
	}
	d.logger.Info().
		Str("sweep", sweep).
		Int("sent", s.Sent).
		Int("failed", s.Failed).
		Int("skipped", s.Skipped).
		Msg("reminder sweep finished")
}
