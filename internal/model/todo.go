package model

import (
	"fmt"
	"time"
)

// RemindUnit is the unit of a reminder offset.
type RemindUnit string

const (
	RemindMinute RemindUnit = "minute"
	RemindHour   RemindUnit = "hour"
	RemindDay    RemindUnit = "day"
)

// Duration converts the unit to its time.Duration equivalent.
func (u RemindUnit) Duration() (time.Duration, error) {
	switch u {
	case RemindMinute:
		return time.Minute, nil
	case RemindHour:
		return time.Hour, nil
	case RemindDay:
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid remind unit: %q", u)
	}
}

// RemindAnchor selects how the reminder offset is applied.
type RemindAnchor string

const (
	// RemindBefore fires once, offset before the due time.
	RemindBefore RemindAnchor = "before"
	// RemindRepeating fires on every offset interval leading up to the due time.
	RemindRepeating RemindAnchor = "repeating"
)

// Remind describes a todo's notification request.
type Remind struct {
	Amount int          `json:"amount"`
	Unit   RemindUnit   `json:"unit"`
	Anchor RemindAnchor `json:"anchor"`
}

// Offset returns the reminder offset as a duration.
func (r *Remind) Offset() (time.Duration, error) {
	if r.Amount <= 0 {
		return 0, fmt.Errorf("remind amount must be positive (got %d)", r.Amount)
	}
	unit, err := r.Unit.Duration()
	if err != nil {
		return 0, err
	}
	return time.Duration(r.Amount) * unit, nil
}

// EndDateMode selects how a repeating todo terminates.
type EndDateMode string

const (
	EndNever  EndDateMode = "never"
	EndOnDate EndDateMode = "date"
)

// Repeat describes a todo's weekly recurrence.
type Repeat struct {
	Days        []time.Weekday `json:"days"`
	EndDateMode EndDateMode    `json:"end_date_mode,omitempty"`
	EndDate     string         `json:"end_date,omitempty"` // YYYY.MM.DD
}

// On reports whether the recurrence includes the given weekday.
func (r *Repeat) On(day time.Weekday) bool {
	for _, d := range r.Days {
		if d == day {
			return true
		}
	}
	return false
}

// SubTodo is an ordered checklist entry under a todo.
type SubTodo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// Todo is a dated task owned by a single user.
type Todo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Date      string    `json:"date"` // YYYY.MM.DD
	Time      string    `json:"time,omitempty"`
	Completed bool      `json:"completed"`
	Important bool      `json:"important"`
	Remind    *Remind   `json:"remind,omitempty"`
	Repeat    *Repeat   `json:"repeat,omitempty"`
	Tag       string    `json:"tag,omitempty"`
	Subs      []SubTodo `json:"subs,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTodo constructs a todo with a generated id and default fields.
func NewTodo(title, date string, now time.Time) (*Todo, error) {
	if err := validateTitleDate(title, date); err != nil {
		return nil, err
	}
	return &Todo{
		ID:        NewID(KindTodo, now),
		Title:     title,
		Date:      date,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Key implements Entity.
func (t *Todo) Key() string { return t.ID }

// Touch implements Entity.
func (t *Todo) Touch(now time.Time) { t.UpdatedAt = now }

// Validate checks required fields before any write occurs.
func (t *Todo) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	return validateTitleDate(t.Title, t.Date)
}

// Routine is a repeating habit. It shares the todo shape plus ExpGiven,
// which marks whether experience was already granted for the current
// completion so toggling complete/incomplete/complete cannot double-award.
type Routine struct {
	Todo
	ExpGiven bool `json:"exp_given"`
}

// NewRoutine constructs a routine with a generated id and default fields.
func NewRoutine(title, date string, now time.Time) (*Routine, error) {
	if err := validateTitleDate(title, date); err != nil {
		return nil, err
	}
	return &Routine{
		Todo: Todo{
			ID:        NewID(KindRoutine, now),
			Title:     title,
			Date:      date,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}, nil
}

func validateTitleDate(title, date string) error {
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if date == "" {
		return fmt.Errorf("%w: date is required", ErrValidation)
	}
	if !ValidDate(date) {
		return fmt.Errorf("%w: invalid date %q", ErrValidation, date)
	}
	return nil
}
