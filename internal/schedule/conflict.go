package schedule

import (
	"time"

	"clinicbook/internal/models"
)

// Overlaps reports whether two half-open intervals intersect. Touching
// endpoints do not overlap.
func Overlaps(s1 time.Time, d1 int, s2 time.Time, d2 int) bool {
	e1 := s1.Add(time.Duration(d1) * time.Minute)
	e2 := s2.Add(time.Duration(d2) * time.Minute)
	return !(!e1.After(s2) || !s1.Before(e2))
}

// HasConflict checks a candidate against intervals already filtered to the
// candidate's scope and to non-cancelled bookings.
func HasConflict(start time.Time, duration int, existing []models.Interval) bool {
	for _, iv := range existing {
		if Overlaps(start, duration, iv.Start, iv.Duration) {
			return true
		}
	}
	return false
}
