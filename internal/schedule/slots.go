package schedule

import (
	"iter"
	"time"

	"clinicbook/internal/models"
)

// Generate yields candidate slot starts inside window on date. Slots never run
// past the window end, and on today's date starts at or before now are skipped.
// The sequence is finite and can be ranged over any number of times.
func Generate(window models.Window, slotMinutes int, now, date time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if slotMinutes <= 0 || window.Start >= window.End {
			return
		}
		day := date.In(now.Location())
		today := sameDay(day, now)
		step := time.Duration(slotMinutes) * time.Minute
		end := window.End.On(day)

		for t := window.Start.On(day); !t.Add(step).After(end); t = t.Add(step) {
			if today && !t.After(now) {
				continue
			}
			if !yield(t) {
				return
			}
		}
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
