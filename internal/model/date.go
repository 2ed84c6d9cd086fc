package model

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-day format used throughout the app: 2025.03.10.
const DateLayout = "2006.01.02"

// TimeLayout is the optional time-of-day format attached to todos.
const TimeLayout = "15:04"

// FormatDate renders t as a calendar-day string.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a YYYY.MM.DD calendar-day string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY.MM.DD): %w", s, err)
	}
	return t, nil
}

// ValidDate reports whether s is a well-formed calendar-day string.
func ValidDate(s string) bool {
	_, err := ParseDate(s)
	return err == nil
}

// DueTime combines a calendar-day string with an optional HH:MM time of
// day into a concrete instant in loc. A todo with no time is due at the
// start of its day.
func DueTime(date, clock string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	if clock == "" {
		return day, nil
	}
	tod, err := time.Parse(TimeLayout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (want HH:MM): %w", clock, err)
	}
	return day.Add(time.Duration(tod.Hour())*time.Hour + time.Duration(tod.Minute())*time.Minute), nil
}
