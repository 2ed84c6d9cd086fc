package engine

import (
	"time"

	"github.com/thsalrkd/todaydo/internal/model"
)

// EventType classifies engine notifications.
type EventType string

const (
	// EventEntityChanged fires after every local mutation.
	EventEntityChanged EventType = "entity_changed"
	// EventSyncComplete fires after a pull replaces the local collections.
	EventSyncComplete EventType = "sync_complete"
	// EventPushFailed fires when a background push does not reach the
	// remote store.
	EventPushFailed EventType = "push_failed"
)

// Event is a notification delivered to the engine's listener. The
// dashboard broadcasts these to subscribed clients.
type Event struct {
	Type      EventType          `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Kind      model.Kind         `json:"kind,omitempty"`
	Key       string             `json:"key,omitempty"`
	Action    string             `json:"action,omitempty"` // created, updated, deleted
	Counts    map[model.Kind]int `json:"counts,omitempty"`
	Duration  time.Duration      `json:"duration,omitempty"`
	Err       string             `json:"error,omitempty"`
}
