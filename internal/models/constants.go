package models

import "time"

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
	StatusNoShow    = "no_show"
)

const (
	ReminderPending   = "pending"
	ReminderSent      = "sent"
	ReminderFailed    = "failed"
	ReminderCancelled = "cancelled"
)

const (
	Reminder24h          = "24h"
	Reminder1h           = "1h"
	ReminderConfirmation = "confirmation"
)

const (
	// DefaultServiceDuration is used for services missing from the tenant config.
	DefaultServiceDuration = 30

	// DefaultMaxReminderAttempts caps delivery attempts per reminder.
	DefaultMaxReminderAttempts = 3

	// DefaultReminderPollInterval is the period of the due sweep.
	DefaultReminderPollInterval = 5 * time.Minute

	// DefaultReminderRetryInterval is the period of the retry sweep.
	DefaultReminderRetryInterval = 30 * time.Minute

	// DefaultStoreTimeout bounds each store call.
	DefaultStoreTimeout = 5 * time.Second

	// DefaultSendTimeout bounds one outbound message.
	DefaultSendTimeout = 10 * time.Second

	// DefaultLockTTL is how long a scope lock lives without release.
	DefaultLockTTL = 15 * time.Second

	// DefaultCountryCode prefixes local phone numbers.
	DefaultCountryCode = "55"
)

// ReminderOffset returns how long before the booking start a reminder type fires.
func ReminderOffset(reminderType string) (time.Duration, bool) {
	switch reminderType {
	case Reminder24h:
		return 24 * time.Hour, true
	case Reminder1h:
		return time.Hour, true
	default:
		return 0, false
	}
}
