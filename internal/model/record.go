package model

import (
	"fmt"
	"time"
)

// Mood is the journal entry mood for a day.
type Mood string

const (
	MoodHappy   Mood = "happy"
	MoodNeutral Mood = "neutral"
	MoodBad     Mood = "bad"
)

// Valid reports whether m is a known mood. The empty mood is allowed;
// records may carry content only.
func (m Mood) Valid() bool {
	switch m {
	case "", MoodHappy, MoodNeutral, MoodBad:
		return true
	default:
		return false
	}
}

// Record is the mood journal entry for one calendar day. There is at
// most one record per date per user, and the document key is the date
// string itself rather than a generated id.
type Record struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"` // YYYY.MM.DD, also the document key
	Content   string    `json:"content,omitempty"`
	Mood      Mood      `json:"mood,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord constructs a record for the given date.
func NewRecord(date string, now time.Time) (*Record, error) {
	if date == "" {
		return nil, fmt.Errorf("%w: date is required", ErrValidation)
	}
	if !ValidDate(date) {
		return nil, fmt.Errorf("%w: invalid date %q", ErrValidation, date)
	}
	return &Record{
		ID:        date,
		Date:      date,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Key implements Entity. Records are keyed by their date string, falling
// back to the id for documents written before dates became the key.
func (r *Record) Key() string {
	if r.Date != "" {
		return r.Date
	}
	return r.ID
}

// Touch implements Entity.
func (r *Record) Touch(now time.Time) { r.UpdatedAt = now }

// Validate checks required fields before any write occurs.
func (r *Record) Validate() error {
	if r.Key() == "" {
		return fmt.Errorf("%w: date is required", ErrValidation)
	}
	if !r.Mood.Valid() {
		return fmt.Errorf("%w: invalid mood %q", ErrValidation, r.Mood)
	}
	return nil
}
