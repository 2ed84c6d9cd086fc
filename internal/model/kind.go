// Package model defines the entity kinds tracked by todaydo: todos,
// routines, mood records, and tags, all scoped to an owning user.
//
// Entities are flat JSON documents with last-write-wins timestamps.
// Each kind has its own local collection and remote subcollection; the
// document key is the entity id, except for records which are keyed by
// their calendar date.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a category of entity with its own storage collection.
type Kind string

const (
	KindTodo    Kind = "todo"
	KindRoutine Kind = "routine"
	KindRecord  Kind = "record"
	KindTag     Kind = "tag"
	KindProfile Kind = "profile"
)

// Kinds lists the four synchronized collection kinds in pull order.
// Profiles are refreshed separately on login, not on every pull.
var Kinds = []Kind{KindTodo, KindRoutine, KindRecord, KindTag}

// Valid reports whether k names a known entity kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTodo, KindRoutine, KindRecord, KindTag, KindProfile:
		return true
	default:
		return false
	}
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// NewID generates a kind-prefixed id. The timestamp component keeps
// ids roughly sortable by creation time; the random suffix keeps two
// entities created in the same clock tick from colliding.
func NewID(kind Kind, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", kind, now.UnixNano(), uuid.NewString()[:8])
}

// Entity is implemented by all synchronized document types.
//
// Key returns the document key used by both the local and remote stores
// (the entity id, or the date string for records). Touch stamps the
// entity's updated_at for last-write-wins conflict resolution.
type Entity interface {
	Key() string
	Touch(now time.Time)
}
