package model

import (
	"fmt"
	"strings"
	"time"
)

// Tag is a named label for todos and routines. Names are unique per user
// after trimming; comparison is case-sensitive exact match.
type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTag constructs a tag with a trimmed, validated name.
func NewTag(name string, now time.Time) (*Tag, error) {
	name, err := CleanTagName(name)
	if err != nil {
		return nil, err
	}
	return &Tag{
		ID:        NewID(KindTag, now),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CleanTagName trims the name and rejects empty results.
func CleanTagName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: tag name is empty", ErrValidation)
	}
	return name, nil
}

// Key implements Entity.
func (t *Tag) Key() string { return t.ID }

// Touch implements Entity.
func (t *Tag) Touch(now time.Time) { t.UpdatedAt = now }

// Validate checks required fields before any write occurs.
func (t *Tag) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if _, err := CleanTagName(t.Name); err != nil {
		return err
	}
	return nil
}
