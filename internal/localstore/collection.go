package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/thsalrkd/todaydo/internal/model"
)

// Collection is a typed view over one entity kind's documents.
//
// All kinds share the same CRUD surface; the differences between them
// are carried as parameters: the document key strategy lives on the
// entity type (model.Entity.Key) and the delete strictness is a
// per-kind flag. Strict kinds (tags, records) fail Delete with
// ErrNotFound when the key is absent; todos and routines delete
// idempotently.
type Collection[T any, P interface {
	*T
	model.Entity
}] struct {
	store  *Store
	kind   model.Kind
	strict bool
	logger *log.Logger
	now    func() time.Time
}

// Concrete collection types for each kind.
type (
	Todos    = Collection[model.Todo, *model.Todo]
	Routines = Collection[model.Routine, *model.Routine]
	Records  = Collection[model.Record, *model.Record]
	Tags     = Collection[model.Tag, *model.Tag]
	Profiles = Collection[model.Profile, *model.Profile]
)

// NewTodos returns the todo collection. If logger is nil, a default
// logger writing to stderr is used.
func NewTodos(s *Store, logger *log.Logger) *Todos {
	return newCollection[model.Todo, *model.Todo](s, model.KindTodo, false, logger)
}

// NewRoutines returns the routine collection.
func NewRoutines(s *Store, logger *log.Logger) *Routines {
	return newCollection[model.Routine, *model.Routine](s, model.KindRoutine, false, logger)
}

// NewRecords returns the record collection. Record deletes are strict.
func NewRecords(s *Store, logger *log.Logger) *Records {
	return newCollection[model.Record, *model.Record](s, model.KindRecord, true, logger)
}

// NewTags returns the tag collection. Tag deletes are strict.
func NewTags(s *Store, logger *log.Logger) *Tags {
	return newCollection[model.Tag, *model.Tag](s, model.KindTag, true, logger)
}

// NewProfiles returns the profile collection, keyed by uid.
func NewProfiles(s *Store, logger *log.Logger) *Profiles {
	return newCollection[model.Profile, *model.Profile](s, model.KindProfile, true, logger)
}

func newCollection[T any, P interface {
	*T
	model.Entity
}](s *Store, kind model.Kind, strict bool, logger *log.Logger) *Collection[T, P] {
	if logger == nil {
		logger = log.New(os.Stderr, "[localstore] ", log.LstdFlags)
	}
	return &Collection[T, P]{
		store:  s,
		kind:   kind,
		strict: strict,
		logger: logger,
		now:    time.Now,
	}
}

// Kind returns the collection's entity kind.
func (c *Collection[T, P]) Kind() model.Kind {
	return c.kind
}

// GetAll returns every entity in storage order.
//
// Rows that fail to deserialize are logged and skipped rather than
// failing the whole read; the UI must still render whatever survives.
// Only infrastructure errors (a broken database) are returned.
func (c *Collection[T, P]) GetAll(ctx context.Context) ([]P, error) {
	rows, err := c.store.conn.QueryContext(ctx,
		`SELECT key, body FROM documents WHERE kind = ? ORDER BY position`, c.kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s collection: %w", c.kind, err)
	}
	defer rows.Close()

	var out []P
	for rows.Next() {
		var key, body string
		if err := rows.Scan(&key, &body); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", c.kind, err)
		}

		var e T
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			c.logger.Printf("WARNING: skipping undecodable %s %s: %v", c.kind, key, err)
			continue
		}
		out = append(out, P(&e))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s collection: %w", c.kind, err)
	}

	return out, nil
}

// Get returns the entity with the given key, or ErrNotFound.
func (c *Collection[T, P]) Get(ctx context.Context, key string) (P, error) {
	var body string
	err := c.store.conn.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE kind = ? AND key = ?`, c.kind, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", c.kind, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", c.kind, key, err)
	}

	var e T
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s: %w", c.kind, key, err)
	}
	return P(&e), nil
}

// Add appends a new entity to the collection.
// The entity must already carry its key and default fields.
func (c *Collection[T, P]) Add(ctx context.Context, e P) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", c.kind, err)
	}

	_, err = c.store.conn.ExecContext(ctx, `
		INSERT INTO documents (kind, key, body, position)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM documents WHERE kind = ?))`,
		c.kind, e.Key(), string(body), c.kind)
	if err != nil {
		return fmt.Errorf("failed to add %s %s: %w", c.kind, e.Key(), err)
	}

	return nil
}

// Update loads the entity with the given key, applies mutate, stamps
// updated_at, and persists the result. Fails with ErrNotFound if the
// key is absent.
func (c *Collection[T, P]) Update(ctx context.Context, key string, mutate func(P)) (P, error) {
	e, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	mutate(e)
	e.Touch(c.now())

	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s %s: %w", c.kind, key, err)
	}

	// The stored key stays stable even if the mutation touched key fields.
	_, err = c.store.conn.ExecContext(ctx,
		`UPDATE documents SET body = ? WHERE kind = ? AND key = ?`,
		string(body), c.kind, key)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s %s: %w", c.kind, key, err)
	}

	return e, nil
}

// Delete removes the entity with the given key.
//
// For strict kinds a missing key fails with ErrNotFound; otherwise the
// delete is idempotent.
func (c *Collection[T, P]) Delete(ctx context.Context, key string) error {
	res, err := c.store.conn.ExecContext(ctx,
		`DELETE FROM documents WHERE kind = ? AND key = ?`, c.kind, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", c.kind, key, err)
	}

	if c.strict {
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check delete of %s %s: %w", c.kind, key, err)
		}
		if affected == 0 {
			return fmt.Errorf("%s %s: %w", c.kind, key, ErrNotFound)
		}
	}

	return nil
}

// Sync upserts an authoritative entity during pull reconciliation.
// The input is trusted as-is: no uniqueness re-validation, existing
// entities keep their storage position, new ones are appended.
func (c *Collection[T, P]) Sync(ctx context.Context, e P) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", c.kind, err)
	}

	_, err = c.store.conn.ExecContext(ctx, `
		INSERT INTO documents (kind, key, body, position)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM documents WHERE kind = ?))
		ON CONFLICT(kind, key) DO UPDATE SET body = excluded.body`,
		c.kind, e.Key(), string(body), c.kind)
	if err != nil {
		return fmt.Errorf("failed to sync %s %s: %w", c.kind, e.Key(), err)
	}

	return nil
}

// Replace atomically swaps the whole collection for the given entities,
// in one transaction. Readers never observe the intermediate empty
// collection that a clear-then-repopulate loop would expose.
func (c *Collection[T, P]) Replace(ctx context.Context, entities []P) error {
	tx, err := c.store.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin replace of %s: %w", c.kind, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE kind = ?`, c.kind); err != nil {
		return fmt.Errorf("failed to clear %s collection: %w", c.kind, err)
	}

	for i, e := range entities {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s: %w", c.kind, e.Key(), err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (kind, key, body, position) VALUES (?, ?, ?, ?)`,
			c.kind, e.Key(), string(body), i); err != nil {
			return fmt.Errorf("failed to insert %s %s: %w", c.kind, e.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit replace of %s: %w", c.kind, err)
	}

	return nil
}

// Clear removes every entity of the collection's kind.
func (c *Collection[T, P]) Clear(ctx context.Context) error {
	if _, err := c.store.conn.ExecContext(ctx,
		`DELETE FROM documents WHERE kind = ?`, c.kind); err != nil {
		return fmt.Errorf("failed to clear %s collection: %w", c.kind, err)
	}
	return nil
}

// Count returns the number of entities in the collection.
func (c *Collection[T, P]) Count(ctx context.Context) (int, error) {
	var count int
	err := c.store.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE kind = ?`, c.kind).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s collection: %w", c.kind, err)
	}
	return count, nil
}
