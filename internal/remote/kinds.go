package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/thsalrkd/todaydo/internal/model"
)

// ErrNotFound is returned by Update for kinds that require the target
// document to exist server-side (todos, routines, tags).
var ErrNotFound = errors.New("document not found")

// KindClient adapts one entity kind onto the document store.
//
// The per-kind differences are parameters rather than copies: the key
// strategy comes from model.Entity.Key, prepare re-stamps derived
// fields before write, and strictUpdate selects whether Update demands
// an existing document.
type KindClient[T any, P interface {
	*T
	model.Entity
}] struct {
	client       *Client
	kind         model.Kind
	prepare      func(P)
	strictUpdate bool
}

// Concrete clients for each kind.
type (
	TodoClient    = KindClient[model.Todo, *model.Todo]
	RoutineClient = KindClient[model.Routine, *model.Routine]
	RecordClient  = KindClient[model.Record, *model.Record]
	TagClient     = KindClient[model.Tag, *model.Tag]
	ProfileClient = KindClient[model.Profile, *model.Profile]
)

// Todos returns the todo adapter.
func (c *Client) Todos() *TodoClient {
	return &TodoClient{client: c, kind: model.KindTodo, strictUpdate: true}
}

// Routines returns the routine adapter.
func (c *Client) Routines() *RoutineClient {
	return &RoutineClient{client: c, kind: model.KindRoutine, strictUpdate: true}
}

// Records returns the record adapter.
//
// Records are keyed by their date string. The date field is re-stamped
// from the key on every write so the key and the field never diverge,
// and updates upsert rather than demanding an existing document: the
// "new record vs update" decision belongs to the caller, by date.
func (c *Client) Records() *RecordClient {
	return &RecordClient{
		client: c,
		kind:   model.KindRecord,
		prepare: func(r *model.Record) {
			key := r.Key()
			r.Date = key
			if r.ID == "" {
				r.ID = key
			}
		},
	}
}

// Tags returns the tag adapter.
func (c *Client) Tags() *TagClient {
	return &TagClient{client: c, kind: model.KindTag, strictUpdate: true}
}

// Profiles returns the profile adapter, keyed by uid.
func (c *Client) Profiles() *ProfileClient {
	return &ProfileClient{client: c, kind: model.KindProfile}
}

// Create writes a new document for the entity under the user's
// collection. Set semantics: an existing document with the same key is
// overwritten, which makes a retried create harmless.
func (k *KindClient[T, P]) Create(ctx context.Context, userID string, e P) error {
	if k.prepare != nil {
		k.prepare(e)
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", k.kind, err)
	}

	_, err = k.client.conn.ExecContext(ctx, `
		INSERT INTO documents (user_id, kind, doc_id, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, kind, doc_id) DO UPDATE SET
			body = excluded.body,
			updated_at = datetime('now')`,
		userID, k.kind, e.Key(), string(body))
	if err != nil {
		return fmt.Errorf("failed to create %s %s: %w", k.kind, e.Key(), err)
	}

	return nil
}

// Update replaces the document body for an existing entity.
//
// For strict kinds the target document must already exist server-side;
// a missing document fails with ErrNotFound rather than being silently
// created. Records instead upsert under their date key.
func (k *KindClient[T, P]) Update(ctx context.Context, userID string, e P) error {
	if !k.strictUpdate {
		return k.Create(ctx, userID, e)
	}
	if k.prepare != nil {
		k.prepare(e)
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", k.kind, err)
	}

	res, err := k.client.conn.ExecContext(ctx, `
		UPDATE documents SET body = ?, updated_at = datetime('now')
		WHERE user_id = ? AND kind = ? AND doc_id = ?`,
		string(body), userID, k.kind, e.Key())
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", k.kind, e.Key(), err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of %s %s: %w", k.kind, e.Key(), err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", k.kind, e.Key(), ErrNotFound)
	}

	return nil
}

// Delete removes the document. Idempotent: deleting an absent document
// is not an error, the pull cycle has already converged past it.
func (k *KindClient[T, P]) Delete(ctx context.Context, userID, id string) error {
	_, err := k.client.conn.ExecContext(ctx, `
		DELETE FROM documents WHERE user_id = ? AND kind = ? AND doc_id = ?`,
		userID, k.kind, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", k.kind, id, err)
	}
	return nil
}

// ListByUser returns every document of the kind owned by the user, in
// creation order. Callers treat a failed list as "nothing to sync",
// never as "delete everything".
func (k *KindClient[T, P]) ListByUser(ctx context.Context, userID string) ([]P, error) {
	rows, err := k.client.conn.QueryContext(ctx, `
		SELECT doc_id, body FROM documents
		WHERE user_id = ? AND kind = ?
		ORDER BY created_at ASC, doc_id ASC`,
		userID, k.kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s for %s: %w", k.kind, userID, err)
	}
	defer rows.Close()

	var out []P
	for rows.Next() {
		var docID, body string
		if err := rows.Scan(&docID, &body); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", k.kind, err)
		}

		var e T
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("failed to decode %s %s: %w", k.kind, docID, err)
		}
		out = append(out, P(&e))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s list: %w", k.kind, err)
	}

	return out, nil
}

// Get returns one document by id, or ErrNotFound.
func (k *KindClient[T, P]) Get(ctx context.Context, userID, id string) (P, error) {
	var body string
	err := k.client.conn.QueryRowContext(ctx, `
		SELECT body FROM documents WHERE user_id = ? AND kind = ? AND doc_id = ?`,
		userID, k.kind, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", k.kind, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load %s %s: %w", k.kind, id, err)
	}

	var e T
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s: %w", k.kind, id, err)
	}
	return P(&e), nil
}
