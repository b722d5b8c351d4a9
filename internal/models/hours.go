package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Weekday counts from Monday (0) to Sunday (6).
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// WeekdayOf converts a time to the Monday-based weekday.
func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

func (d Weekday) Valid() bool {
	return d >= Monday && d <= Sunday
}

func (d Weekday) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return time.Weekday((int(d) + 1) % 7).String()
}

// ClockTime is a wall-clock time of day in minutes since midnight.
type ClockTime int

// ParseClockTime parses "HH:MM". "24:00" is accepted as end of day.
func ParseClockTime(s string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock time out of range: %q", s)
	}
	return ClockTime(h*60 + m), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On places the clock time on the calendar date of day, in day's location.
// It is wall-clock time, so on a DST change day 08:00 is still 08:00.
func (c ClockTime) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, day.Location())
}

// Window is the open interval [Start, End) of a business day.
type Window struct {
	Start ClockTime
	End   ClockTime
}

// Contains reports whether [start, start+duration) fits in the window on start's date.
func (w Window) Contains(start time.Time, duration int) bool {
	open := w.Start.On(start)
	closing := w.End.On(start)
	end := start.Add(time.Duration(duration) * time.Minute)
	return !start.Before(open) && !end.After(closing)
}

// DayHours is one weekday entry. Defined without Open means explicitly closed.
type DayHours struct {
	Defined bool
	Open    bool
	Window  Window
}

// WeeklyHours is indexed by Weekday.
type WeeklyHours [7]DayHours

// RawDay is the loosely typed business hours entry as it appears in configuration
// and in professional overrides stored as JSON.
type RawDay struct {
	Start  string `yaml:"start" json:"start"`
	End    string `yaml:"end" json:"end"`
	Active bool   `yaml:"active" json:"active"`
}

// ParseWeeklyHours converts the weekday-keyed map. Malformed entries are
// treated as closed: they are unreachable capacity, not an error.
func ParseWeeklyHours(raw map[string]RawDay) WeeklyHours {
	var hours WeeklyHours
	for key, day := range raw {
		n, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || !Weekday(n).Valid() {
			continue
		}
		hours[n] = parseDay(day)
	}
	return hours
}

func parseDay(day RawDay) DayHours {
	entry := DayHours{Defined: true}
	if !day.Active {
		return entry
	}
	start, err := ParseClockTime(day.Start)
	if err != nil {
		return entry
	}
	end, err := ParseClockTime(day.End)
	if err != nil || start >= end {
		return entry
	}
	entry.Open = true
	entry.Window = Window{Start: start, End: end}
	return entry
}

// Raw converts back to the weekday-keyed representation, skipping undefined days.
func (h WeeklyHours) Raw() map[string]RawDay {
	raw := make(map[string]RawDay)
	for i, day := range h {
		if !day.Defined {
			continue
		}
		entry := RawDay{Active: day.Open}
		if day.Open {
			entry.Start = day.Window.Start.String()
			entry.End = day.Window.End.String()
		}
		raw[strconv.Itoa(i)] = entry
	}
	return raw
}

// MarshalHours encodes hours as JSON for storage; nil hours encode as NULL.
func MarshalHours(h *WeeklyHours) (*string, error) {
	if h == nil {
		return nil, nil
	}
	data, err := json.Marshal(h.Raw())
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

// UnmarshalHours decodes stored JSON hours. Undecodable data yields an all-closed week.
func UnmarshalHours(s *string) *WeeklyHours {
	if s == nil || *s == "" {
		return nil
	}
	var raw map[string]RawDay
	if err := json.Unmarshal([]byte(*s), &raw); err != nil {
		closed := closedWeek()
		return &closed
	}
	hours := ParseWeeklyHours(raw)
	return &hours
}

func closedWeek() WeeklyHours {
	var h WeeklyHours
	for i := range h {
		h[i] = DayHours{Defined: true}
	}
	return h
}
