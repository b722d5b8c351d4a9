package models

import "time"

type Reminder struct {
	ID           string     `json:"id"`
	BookingID    string     `json:"booking_id"`
	Type         string     `json:"type"` // 24h, 1h, confirmation
	ScheduledFor time.Time  `json:"scheduled_for"`
	Status       string     `json:"status"` // pending, sent, failed, cancelled
	Attempts     int        `json:"attempts"`
	LastError    *string    `json:"last_error"`
	Terminal     bool       `json:"terminal"`
	SentAt       *time.Time `json:"sent_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ReminderDelivery is a reminder joined with everything needed to render and send it.
type ReminderDelivery struct {
	Reminder Reminder
	Booking  Booking
	Patient  Patient
}
