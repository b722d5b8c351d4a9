package models

import "time"

const (
	MinBookingDuration = 1
	MaxBookingDuration = 24 * 60
)

type Booking struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	PatientID      string     `json:"patient_id"`
	ProfessionalID string     `json:"professional_id,omitempty"` // empty: tenant-wide bucket
	ServiceName    string     `json:"service_name"`
	Start          time.Time  `json:"start"`
	Duration       int        `json:"duration_minutes"`
	Status         string     `json:"status"` // pending, confirmed, cancelled, completed, no_show
	Notes          string     `json:"notes,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Version        int64      `json:"version"`
}

// End returns the exclusive end of the booked interval.
func (b *Booking) End() time.Time {
	return b.Start.Add(time.Duration(b.Duration) * time.Minute)
}

func (b *Booking) Interval() Interval {
	return Interval{Start: b.Start, Duration: b.Duration}
}

// IsActive reports whether the booking still occupies its slot for reminders.
func (b *Booking) IsActive() bool {
	return b.Status == StatusPending || b.Status == StatusConfirmed
}

// Interval is a half-open [Start, Start+Duration) occupation.
type Interval struct {
	Start    time.Time
	Duration int
}

func (i Interval) End() time.Time {
	return i.Start.Add(time.Duration(i.Duration) * time.Minute)
}

// ValidDuration reports whether minutes lies in (0, 1440].
func ValidDuration(minutes int) bool {
	return minutes >= MinBookingDuration && minutes <= MaxBookingDuration
}

var transitions = map[string][]string{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusNoShow, StatusCancelled},
}

// CanTransition reports whether the booking state machine allows from -> to.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether no transition leaves status.
func IsTerminalStatus(status string) bool {
	return len(transitions[status]) == 0
}
