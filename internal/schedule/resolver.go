package schedule

import "clinicbook/internal/models"

// Resolve returns the open window for weekday. A professional override that
// defines the weekday wins even when it marks the day closed.
func Resolve(tenant models.WeeklyHours, override *models.WeeklyHours, weekday models.Weekday) (models.Window, bool) {
	if !weekday.Valid() {
		return models.Window{}, false
	}
	day := tenant[weekday]
	if override != nil && override[weekday].Defined {
		day = override[weekday]
	}
	if !day.Defined || !day.Open || day.Window.Start >= day.Window.End {
		return models.Window{}, false
	}
	return day.Window, true
}

// Fits reports whether slot lies within the resolved hours
// of its weekday. slot.Start must already be in the tenant location.
func Fits(tenant models.WeeklyHours, override *models.WeeklyHours, slot models.Interval) bool {
	window, open := Resolve(tenant, override, models.WeekdayOf(slot.Start))
	if !open {
		return false
	}
	return window.Contains(slot.Start, slot.Duration)
}
