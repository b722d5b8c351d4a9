package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clinicbook/internal/config"
	"clinicbook/internal/database"
	"clinicbook/internal/domain"
	"clinicbook/internal/events"
	"clinicbook/internal/locking"
	"clinicbook/internal/metrics"
	"clinicbook/internal/models"
	"clinicbook/internal/schedule"
)

// CreateBookingRequest is what a caller supplies to book a slot.
type CreateBookingRequest struct {
	TenantID       string
	PatientName    string
	Phone          string
	Start          time.Time
	ServiceName    string
	Duration       int // minutes; 0 takes the service duration
	Notes          string
	ProfessionalID string // empty lets the allocator choose
	Status         string // pending or confirmed; empty means confirmed
}

// AvailabilityRequest selects the day and service to list free slots for.
type AvailabilityRequest struct {
	TenantID       string
	Date           time.Time
	ServiceName    string
	ProfessionalID string
}

type BookingService struct {
	db        *database.DB
	locker    domain.Locker
	tenants   domain.TenantDirectory
	reminders *ReminderScheduler
	eventBus  domain.EventPublisher
	clock     domain.Clock
	cfg       config.BookingConfig
	logger    *zerolog.Logger
}

func NewBookingService(
	db *database.DB,
	locker domain.Locker,
	tenants domain.TenantDirectory,
	reminders *ReminderScheduler,
	eventBus domain.EventPublisher,
	clock domain.Clock,
	cfg config.BookingConfig,
	logger *zerolog.Logger,
) *BookingService {
	if clock == nil {
		clock = domain.SystemClock
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = models.DefaultStoreTimeout
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = models.DefaultStoreTimeout
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = models.DefaultCountryCode
	}
	return &BookingService{
		db:        db,
		locker:    locker,
		tenants:   tenants,
		reminders: reminders,
		eventBus:  eventBus,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Create books a slot for the patient identified by phone. The patient is
// created on first contact. Confirmed bookings get their reminders scheduled;
// a failure there is logged and does not undo the booking.
func (s *BookingService) Create(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	tenant, err := s.tenant(req.TenantID)
	if err != nil {
		return nil, err
	}
	booking, patient, err := s.newBooking(tenant, req)
	if err != nil {
		return nil, s.reject(err)
	}

	keys, err := s.allocationKeys(ctx, tenant.ID, req.ProfessionalID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = s.inTx(ctx, func(tx *database.Tx) error {
		professionalID, err := allocate(ctx, tx, tenant, booking.Interval(), req.ProfessionalID)
		if err != nil {
			return err
		}
		booking.ProfessionalID = professionalID

		existing, err := tx.FindPatientByPhone(ctx, tenant.ID, patient.Phone)
		switch {
		case err == nil:
			patient = existing
		case errors.Is(err, database.ErrPatientNotFound):
			if err := tx.CreatePatient(ctx, patient, s.clock.Now()); err != nil {
				return err
			}
		default:
			return err
		}
		booking.PatientID = patient.ID

		return tx.InsertBooking(ctx, booking, s.clock.Now())
	})
	if err != nil {
		return nil, s.reject(err)
	}

	booking.Start = booking.Start.In(tenant.Location())
	s.logger.Info().
		Str("tenant_id", tenant.ID).
		Str("booking_id", booking.ID).
		Str("professional_id", booking.ProfessionalID).
		Time("start", booking.Start).
		Msg("booking created")

	if booking.Status == models.StatusConfirmed {
		s.scheduleReminders(ctx, tenant, booking)
	}
	s.publishEvent(events.EventBookingCreated, booking, nil)
	return booking, nil
}

func (s *BookingService) newBooking(tenant *models.Tenant, req CreateBookingRequest) (*models.Booking, *models.Patient, error) {
	name := strings.TrimSpace(req.PatientName)
	if name == "" {
		return nil, nil, domain.Invalid("patient_name", "is required")
	}
	phone := models.NormalizePhone(req.Phone, s.cfg.CountryCode)
	if !models.ValidPhone(phone) {
		return nil, nil, domain.Invalid("phone", "must have 10 to 15 digits")
	}
	service := strings.TrimSpace(req.ServiceName)
	if service == "" {
		return nil, nil, domain.Invalid("service", "is required")
	}
	start, err := s.validStart(req.Start)
	if err != nil {
		return nil, nil, err
	}

	duration := req.Duration
	if duration == 0 {
		duration = tenant.ServiceDuration(service)
	}
	if !models.ValidDuration(duration) {
		return nil, nil, domain.Invalid("duration", fmt.Sprintf("must be between %d and %d minutes",
			models.MinBookingDuration, models.MaxBookingDuration))
	}

	status := req.Status
	switch status {
	case "":
		status = models.StatusConfirmed
	case models.StatusPending, models.StatusConfirmed:
	default:
		return nil, nil, domain.Invalid("status", fmt.Sprintf("%q is not allowed for a new booking", status))
	}

	booking := &models.Booking{
		TenantID:    tenant.ID,
		ServiceName: service,
		Start:       start.In(tenant.Location()),
		Duration:    duration,
		Status:      status,
		Notes:       strings.TrimSpace(req.Notes),
	}
	patient := &models.Patient{TenantID: tenant.ID, Name: name, Phone: phone}
	return booking, patient, nil
}

func (s *BookingService) validStart(start time.Time) (time.Time, error) {
	if start.IsZero() {
		return time.Time{}, domain.Invalid("start", "is required")
	}
	start = start.Truncate(time.Second)
	if !start.After(s.clock.Now()) {
		return time.Time{}, domain.Invalid("start", "must be in the future")
	}
	return start, nil
}

// Cancel cancels an active booking together with its pending reminders.
func (s *BookingService) Cancel(ctx context.Context, tenantID, bookingID string) (*models.Booking, error) {
	tenant, err := s.tenant(tenantID)
	if err != nil {
		return nil, err
	}

	var booking *models.Booking
	err = s.inTx(ctx, func(tx *database.Tx) error {
		b, err := tx.GetBooking(ctx, tenant.ID, bookingID)
		if err != nil {
			return err
		}
		switch b.Status {
		case models.StatusCancelled:
			return domain.ErrAlreadyCancelled
		case models.StatusCompleted, models.StatusNoShow:
			return fmt.Errorf("cancel %s booking: %w", b.Status, domain.ErrInvalidTransition)
		}
		changed, err := tx.CancelBooking(ctx, tenant.ID, b.ID, s.clock.Now())
		if err != nil {
			return err
		}
		if !changed {
			return domain.ErrAlreadyCancelled
		}
		if _, err := s.reminders.CancelForBooking(ctx, tx, b.ID); err != nil {
			return err
		}
		booking, err = tx.GetBooking(ctx, tenant.ID, b.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	booking.Start = booking.Start.In(tenant.Location())
	s.logger.Info().Str("tenant_id", tenant.ID).Str("booking_id", booking.ID).Msg("booking cancelled")
	s.publishEvent(events.EventBookingCancelled, booking, nil)
	return booking, nil
}

// Reschedule moves an active booking to newStart within its own scope. The
// booking's current interval does not count as a conflict.
func (s *BookingService) Reschedule(ctx context.Context, tenantID, bookingID string, newStart time.Time) (*models.Booking, error) {
	tenant, err := s.tenant(tenantID)
	if err != nil {
		return nil, err
	}
	start, err := s.validStart(newStart)
	if err != nil {
		return nil, s.reject(err)
	}
	start = start.In(tenant.Location())

	readCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	current, err := s.db.GetBooking(readCtx, tenant.ID, bookingID)
	cancel()
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, scopeKey(tenant.ID, current.ProfessionalID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var booking *models.Booking
	var previous time.Time
	err = s.inTx(ctx, func(tx *database.Tx) error {
		b, err := tx.GetBooking(ctx, tenant.ID, bookingID)
		if err != nil {
			return err
		}
		if !b.IsActive() {
			return fmt.Errorf("reschedule %s booking: %w", b.Status, domain.ErrInvalidTransition)
		}

		var override *models.WeeklyHours
		if b.ProfessionalID != "" {
			p, err := tx.GetProfessional(ctx, tenant.ID, b.ProfessionalID)
			if err != nil && !errors.Is(err, database.ErrProfessionalNotFound) {
				return err
			}
			if p != nil {
				override = p.Hours
			}
		}
		scope := database.Scope{TenantID: tenant.ID, ProfessionalID: b.ProfessionalID}
		slot := models.Interval{Start: start, Duration: b.Duration}
		if err := checkScope(ctx, tx, tenant, override, scope, slot, b.ID); err != nil {
			return err
		}

		previous = b.Start
		if err := tx.RescheduleBooking(ctx, b, start, s.clock.Now()); err != nil {
			return err
		}
		if _, err := s.reminders.CancelForBooking(ctx, tx, b.ID); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, s.reject(err)
	}

	booking.Start = booking.Start.In(tenant.Location())
	previous = previous.In(tenant.Location())
	s.logger.Info().
		Str("tenant_id", tenant.ID).
		Str("booking_id", booking.ID).
		Time("from", previous).
		Time("to", booking.Start).
		Msg("booking rescheduled")

	if booking.Status == models.StatusConfirmed {
		s.scheduleReminders(ctx, tenant, booking)
	}
	s.publishEvent(events.EventBookingRescheduled, booking, &previous)
	return booking, nil
}

// Confirm moves a pending booking to confirmed and schedules its reminders.
func (s *BookingService) Confirm(ctx context.Context, tenantID, bookingID string) (*models.Booking, error) {
	return s.transition(ctx, tenantID, bookingID, models.StatusConfirmed, events.EventBookingConfirmed)
}

// Complete marks a confirmed booking as attended.
func (s *BookingService) Complete(ctx context.Context, tenantID, bookingID string) (*models.Booking, error) {
	return s.transition(ctx, tenantID, bookingID, models.StatusCompleted, events.EventBookingCompleted)
}

// MarkNoShow marks a confirmed booking as missed.
func (s *BookingService) MarkNoShow(ctx context.Context, tenantID, bookingID string) (*models.Booking, error) {
	return s.transition(ctx, tenantID, bookingID, models.StatusNoShow, events.EventBookingNoShow)
}

func (s *BookingService) transition(ctx context.Context, tenantID, bookingID, to, eventType string) (*models.Booking, error) {
	tenant, err := s.tenant(tenantID)
	if err != nil {
		return nil, err
	}

	var booking *models.Booking
	err = s.inTx(ctx, func(tx *database.Tx) error {
		b, err := tx.GetBooking(ctx, tenant.ID, bookingID)
		if err != nil {
			return err
		}
		if !models.CanTransition(b.Status, to) {
			return fmt.Errorf("%s -> %s: %w", b.Status, to, domain.ErrInvalidTransition)
		}
		if err := tx.UpdateBookingStatus(ctx, b, to, s.clock.Now()); err != nil {
			return err
		}
		if models.IsTerminalStatus(to) {
			if _, err := s.reminders.CancelForBooking(ctx, tx, b.ID); err != nil {
				return err
			}
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	booking.Start = booking.Start.In(tenant.Location())
	s.logger.Info().
		Str("tenant_id", tenant.ID).
		Str("booking_id", booking.ID).
		Str("status", to).
		Msg("booking status changed")

	if to == models.StatusConfirmed {
		s.scheduleReminders(ctx, tenant, booking)
	}
	s.publishEvent(eventType, booking, nil)
	return booking, nil
}

// ListUpcoming returns the patient's non-cancelled bookings by ascending
// start. Past bookings are included only when includePast is set.
func (s *BookingService) ListUpcoming(ctx context.Context, tenantID, phone string, includePast bool) ([]*models.Booking, error) {
	tenant, err := s.tenant(tenantID)
	if err != nil {
		return nil, err
	}
	normalized := models.NormalizePhone(phone, s.cfg.CountryCode)
	if normalized == "" {
		return nil, domain.Invalid("phone", "is required")
	}

	var after *time.Time
	if !includePast {
		now := s.clock.Now()
		after = &now
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	bookings, err := s.db.ListPatientBookings(ctx, tenant.ID, normalized, after)
	if err != nil {
		return nil, err
	}
	for _, b := range bookings {
		b.Start = b.Start.In(tenant.Location())
	}
	return bookings, nil
}

// ListDay returns every booking of the tenant starting on date, any status.
func (s *BookingService) ListDay(ctx context.Context, tenantID string, date time.Time) ([]*models.Booking, error) {
	tenant, err := s.tenant(tenantID)
	if err != nil {
		return nil, err
	}
	from := dayStart(date, tenant.Location())

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	bookings, err := s.db.ListBookings(ctx, tenant.ID, from, from.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	for _, b := range bookings {
		b.Start = b.Start.In(tenant.Location())
	}
	return bookings, nil
}

// AvailableSlots lists the free starts on req.Date for the service's duration.
// Without a professional a start is free when any active professional can
// take it, or the tenant-wide bucket when there are none.
func (s *BookingService) AvailableSlots(ctx context.Context, req AvailabilityRequest) ([]time.Time, error) {
	tenant, err := s.tenant(req.TenantID)
	if err != nil {
		return nil, err
	}
	if req.Date.IsZero() {
		return nil, domain.Invalid("date", "is required")
	}
	loc := tenant.Location()
	day := dayStart(req.Date, loc)
	duration := tenant.ServiceDuration(req.ServiceName)
	now := s.clock.Now().In(loc)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	type candidate struct {
		scope    database.Scope
		override *models.WeeklyHours
	}
	var candidates []candidate
	if req.ProfessionalID != "" {
		p, err := s.db.GetProfessional(ctx, tenant.ID, req.ProfessionalID)
		if err != nil {
			return nil, err
		}
		if !p.Active {
			return nil, fmt.Errorf("professional %s is inactive: %w", p.ID, domain.ErrNotFound)
		}
		candidates = append(candidates, candidate{database.Scope{TenantID: tenant.ID, ProfessionalID: p.ID}, p.Hours})
	} else {
		professionals, err := s.db.ListProfessionals(ctx, tenant.ID, true)
		if err != nil {
			return nil, err
		}
		for _, p := range professionals {
			candidates = append(candidates, candidate{database.Scope{TenantID: tenant.ID, ProfessionalID: p.ID}, p.Hours})
		}
		if len(candidates) == 0 {
			candidates = append(candidates, candidate{scope: database.Scope{TenantID: tenant.ID}})
		}
	}

	free := make(map[time.Time]struct{})
	for _, c := range candidates {
		window, open := schedule.Resolve(tenant.Hours(), c.override, models.WeekdayOf(day))
		if !open {
			continue
		}
		existing, err := s.db.ScopeIntervals(ctx, c.scope, day, day.AddDate(0, 0, 1), "")
		if err != nil {
			return nil, err
		}
		for t := range schedule.Generate(window, duration, now, day) {
			if !schedule.HasConflict(t, duration, existing) {
				free[t] = struct{}{}
			}
		}
	}

	slots := make([]time.Time, 0, len(free))
	for t := range free {
		slots = append(slots, t)
	}
	slices.SortFunc(slots, func(a, b time.Time) int { return a.Compare(b) })
	return slots, nil
}

func (s *BookingService) tenant(id string) (*models.Tenant, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.Invalid("tenant", "is required")
	}
	t, ok := s.tenants.Tenant(id)
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

// allocationKeys covers every scope the allocator may write to.
func (s *BookingService) allocationKeys(ctx context.Context, tenantID, professionalID string) ([]string, error) {
	if professionalID != "" {
		return []string{locking.ProfessionalKey(tenantID, professionalID)}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	professionals, err := s.db.ListProfessionals(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	keys := []string{locking.TenantKey(tenantID)}
	for _, p := range professionals {
		keys = append(keys, locking.ProfessionalKey(tenantID, p.ID))
	}
	return keys, nil
}

func scopeKey(tenantID, professionalID string) string {
	if professionalID == "" {
		return locking.TenantKey(tenantID)
	}
	return locking.ProfessionalKey(tenantID, professionalID)
}

func (s *BookingService) lock(ctx context.Context, keys ...string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	defer cancel()
	unlock, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("lock booking scope: %w: %w", domain.ErrTransientStore, err)
	}
	return unlock, nil
}

func (s *BookingService) inTx(ctx context.Context, fn func(tx *database.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.db.InTx(ctx, fn)
}

func (s *BookingService) scheduleReminders(ctx context.Context, tenant *models.Tenant, booking *models.Booking) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if _, err := s.reminders.Schedule(ctx, s.db, tenant, booking); err != nil {
		s.logger.Error().Err(err).Str("booking_id", booking.ID).Msg("schedule reminders error")
	}
}

// reject counts expected refusals before handing the error back.
func (s *BookingService) reject(err error) error {
	var reason string
	switch {
	case domain.IsValidation(err):
		reason = "validation"
	case errors.Is(err, domain.ErrOutsideBusinessHours):
		reason = "outside_business_hours"
	case errors.Is(err, domain.ErrSlotUnavailable):
		reason = "slot_unavailable"
	case errors.Is(err, domain.ErrNoProfessionalAvailable):
		reason = "no_professional_available"
	default:
		return err
	}
	metrics.IncBookingRejected(reason)
	return err
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, previous *time.Time) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:      booking.ID,
		TenantID:       booking.TenantID,
		PatientID:      booking.PatientID,
		ProfessionalID: booking.ProfessionalID,
		ServiceName:    booking.ServiceName,
		Status:         booking.Status,
		Start:          booking.Start,
		Duration:       booking.Duration,
		PreviousStart:  previous,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", booking.ID).Msg("publish event error")
	}
}

// dayStart takes the calendar date of date as given and returns its midnight in loc.
func dayStart(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
