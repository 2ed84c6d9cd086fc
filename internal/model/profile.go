package model

import "time"

// Stats tracks per-user completion counts and streaks.
type Stats struct {
	TodosCompleted    int    `json:"todos_completed"`
	RoutinesCompleted int    `json:"routines_completed"`
	RecordsWritten    int    `json:"records_written"`
	Streak            int    `json:"streak"`
	MaxStreak         int    `json:"max_streak"`
	LastActiveDate    string `json:"last_active_date,omitempty"` // YYYY.MM.DD
}

// Profile is the per-user account document: identity, leveling state,
// and the social graph. Friends and friend requests are carried for the
// client but not interpreted by the sync core.
type Profile struct {
	UID            string    `json:"uid"`
	Email          string    `json:"email,omitempty"`
	Nickname       string    `json:"nickname,omitempty"`
	Level          int       `json:"level"`
	Exp            int       `json:"exp"`
	MaxExp         int       `json:"max_exp"`
	Stats          Stats     `json:"stats"`
	Friends        []string  `json:"friends,omitempty"`
	FriendRequests []string  `json:"friend_requests,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewProfile constructs a fresh level-1 profile for uid.
func NewProfile(uid, email, nickname string, now time.Time) *Profile {
	return &Profile{
		UID:       uid,
		Email:     email,
		Nickname:  nickname,
		Level:     1,
		Exp:       0,
		MaxExp:    300,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Key implements Entity.
func (p *Profile) Key() string { return p.UID }

// Touch implements Entity.
func (p *Profile) Touch(now time.Time) { p.UpdatedAt = now }
