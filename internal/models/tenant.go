package models

import (
	"strings"
	"time"
)

// Service is a bookable service and its default duration.
type Service struct {
	Name     string `yaml:"name"`
	Duration int    `yaml:"duration"`
}

// ReminderSettings holds per-tenant reminder feature flags and template overrides.
type ReminderSettings struct {
	Enabled             bool   `yaml:"enabled"`
	DayBefore           bool   `yaml:"24h"`
	HourBefore          bool   `yaml:"1h"`
	Confirmation        bool   `yaml:"confirmation"`
	DayBeforeTemplate   string `yaml:"24h_template"`
	HourBeforeTemplate  string `yaml:"1h_template"`
	ConfirmationMessage string `yaml:"confirmation_template"`
}

// TypeEnabled reports whether reminders of the given type are scheduled for the tenant.
func (r ReminderSettings) TypeEnabled(reminderType string) bool {
	if !r.Enabled {
		return false
	}
	switch reminderType {
	case Reminder24h:
		return r.DayBefore
	case Reminder1h:
		return r.HourBefore
	case ReminderConfirmation:
		return r.Confirmation
	default:
		return false
	}
}

// Template returns the tenant override for a reminder type, or "".
func (r ReminderSettings) Template(reminderType string) string {
	switch reminderType {
	case Reminder24h:
		return r.DayBeforeTemplate
	case Reminder1h:
		return r.HourBeforeTemplate
	case ReminderConfirmation:
		return r.ConfirmationMessage
	default:
		return ""
	}
}

// Tenant is a clinic. Tenants are loaded from configuration.
type Tenant struct {
	ID            string            `yaml:"id"`
	Name          string            `yaml:"name"`
	Phone         string            `yaml:"phone"`
	TimeZone      string            `yaml:"timezone"`
	BusinessHours map[string]RawDay `yaml:"business_hours"`
	Services      []Service         `yaml:"services"`
	Reminders     ReminderSettings  `yaml:"reminders"`

	hours    WeeklyHours
	location *time.Location
}

// Prepare parses business hours and loads the time zone. It must be called
// once the tenant leaves configuration.
func (t *Tenant) Prepare() error {
	loc := time.UTC
	if t.TimeZone != "" {
		l, err := time.LoadLocation(t.TimeZone)
		if err != nil {
			return err
		}
		loc = l
	}
	t.location = loc
	t.hours = ParseWeeklyHours(t.BusinessHours)
	return nil
}

// Hours returns the parsed tenant-wide weekly hours.
func (t *Tenant) Hours() WeeklyHours {
	return t.hours
}

// Location returns the tenant time zone, UTC if unset.
func (t *Tenant) Location() *time.Location {
	if t.location == nil {
		return time.UTC
	}
	return t.location
}

// ServiceDuration resolves a service's configured duration, defaulting to 30 minutes.
func (t *Tenant) ServiceDuration(name string) int {
	for _, s := range t.Services {
		if strings.EqualFold(s.Name, name) && s.Duration > 0 {
			return s.Duration
		}
	}
	return DefaultServiceDuration
}
