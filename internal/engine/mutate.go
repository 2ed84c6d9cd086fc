package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/thsalrkd/todaydo/internal/game"
	"github.com/thsalrkd/todaydo/internal/localstore"
	"github.com/thsalrkd/todaydo/internal/model"
)

// The mutation contract: the local write is the success signal. It is
// applied and visible before the method returns, and local storage
// errors propagate because they indicate broken infrastructure. The
// mirroring remote push runs in the background and its failures are
// tracked in failedItems, never thrown here. With no user logged in
// the write stays local-only.

// localWrite applies one local store write under the pull-ordering
// lock. When a user is logged in, the entity id is reserved in the
// optimistic set before the write lands, so a pull that snapshots the
// store after the write also sees the reservation and keeps the local
// version. A failed write releases the reservation; no push will come
// to acknowledge it.
func (e *Engine) localWrite(key string, write func() error) error {
	e.swapMu.RLock()
	if e.uid != "" {
		e.markInFlight(key)
	}
	err := write()
	e.swapMu.RUnlock()

	if err != nil {
		if e.uid != "" {
			e.dropOptimistic(key)
		}
		return err
	}
	e.noteLocalWrite()
	return nil
}

// saveEntity appends to the local collection, then mirrors a create.
func saveEntity[T any, P interface {
	*T
	model.Entity
}](ctx context.Context, e *Engine, local *localstore.Collection[T, P], ops KindOps[P], ent P) error {
	if err := e.localWrite(ent.Key(), func() error {
		return local.Add(ctx, ent)
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.pending++
	e.mu.Unlock()
	e.emit(Event{Type: EventEntityChanged, Kind: local.Kind(), Key: ent.Key(), Action: "created"})

	if e.uid == "" {
		return nil
	}
	e.push(local.Kind(), ent.Key(), func(ctx context.Context) error {
		return ops.Create(ctx, e.uid, ent)
	})
	return nil
}

// updateEntity mutates the local entity, then mirrors an update.
// Fails with localstore.ErrNotFound if the id is absent locally.
func updateEntity[T any, P interface {
	*T
	model.Entity
}](ctx context.Context, e *Engine, local *localstore.Collection[T, P], ops KindOps[P], key string, mutate func(P)) (P, error) {
	var ent P
	if err := e.localWrite(key, func() error {
		var err error
		ent, err = local.Update(ctx, key, mutate)
		return err
	}); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.pending++
	e.mu.Unlock()
	e.emit(Event{Type: EventEntityChanged, Kind: local.Kind(), Key: key, Action: "updated"})

	if e.uid == "" {
		return ent, nil
	}
	e.push(local.Kind(), key, func(ctx context.Context) error {
		return ops.Update(ctx, e.uid, ent)
	})
	return ent, nil
}

// deleteEntity removes locally, then mirrors the delete. The per-kind
// strictness (idempotent todos/routines, NotFound for tags/records)
// comes from the collection itself.
func deleteEntity[T any, P interface {
	*T
	model.Entity
}](ctx context.Context, e *Engine, local *localstore.Collection[T, P], ops KindOps[P], key string) error {
	if err := e.localWrite(key, func() error {
		return local.Delete(ctx, key)
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.pending++
	e.mu.Unlock()
	e.emit(Event{Type: EventEntityChanged, Kind: local.Kind(), Key: key, Action: "deleted"})

	if e.uid == "" {
		return nil
	}
	e.push(local.Kind(), key, func(ctx context.Context) error {
		return ops.Delete(ctx, e.uid, key)
	})
	return nil
}

// SaveTodo stores a new todo locally and mirrors it in the background.
func (e *Engine) SaveTodo(ctx context.Context, t *model.Todo) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return saveEntity(ctx, e, e.local.Todos, e.remote.Todos, t)
}

// UpdateTodo applies mutate to the stored todo.
func (e *Engine) UpdateTodo(ctx context.Context, id string, mutate func(*model.Todo)) (*model.Todo, error) {
	return updateEntity(ctx, e, e.local.Todos, e.remote.Todos, id, mutate)
}

// DeleteTodo removes a todo. Idempotent.
func (e *Engine) DeleteTodo(ctx context.Context, id string) error {
	return deleteEntity(ctx, e, e.local.Todos, e.remote.Todos, id)
}

// ToggleTodo sets a todo's completion state, granting experience on the
// false→true edge only.
func (e *Engine) ToggleTodo(ctx context.Context, id string, completed bool) (*model.Todo, error) {
	var prev bool
	t, err := e.UpdateTodo(ctx, id, func(x *model.Todo) {
		prev = x.Completed
		x.Completed = completed
	})
	if err != nil {
		return nil, err
	}

	if delta := game.CompletionDelta(prev, completed, game.TodoExp); delta > 0 {
		e.grantExp(ctx, delta, func(s *model.Stats) { s.TodosCompleted++ })
	}
	return t, nil
}

// SaveRoutine stores a new routine locally and mirrors it.
func (e *Engine) SaveRoutine(ctx context.Context, r *model.Routine) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return saveEntity(ctx, e, e.local.Routines, e.remote.Routines, r)
}

// UpdateRoutine applies mutate to the stored routine.
func (e *Engine) UpdateRoutine(ctx context.Context, id string, mutate func(*model.Routine)) (*model.Routine, error) {
	return updateEntity(ctx, e, e.local.Routines, e.remote.Routines, id, mutate)
}

// DeleteRoutine removes a routine. Idempotent.
func (e *Engine) DeleteRoutine(ctx context.Context, id string) error {
	return deleteEntity(ctx, e, e.local.Routines, e.remote.Routines, id)
}

// ToggleRoutine sets a routine's completion state. The exp_given flag
// guards the award so retoggling a repeating routine cannot double-grant.
func (e *Engine) ToggleRoutine(ctx context.Context, id string, completed bool) (*model.Routine, error) {
	var delta int
	r, err := e.UpdateRoutine(ctx, id, func(x *model.Routine) {
		var given bool
		delta, given = game.RoutineTransition(x.Completed, completed, x.ExpGiven)
		x.Completed = completed
		x.ExpGiven = given
	})
	if err != nil {
		return nil, err
	}

	if delta > 0 {
		e.grantExp(ctx, delta, func(s *model.Stats) { s.RoutinesCompleted++ })
	}
	return r, nil
}

// WriteRecord stores the mood record for a date. Whether this is a
// create or an update depends on whether a record already exists for
// that date, not on id lookup; only a first write grants experience.
func (e *Engine) WriteRecord(ctx context.Context, date, content string, mood model.Mood) (*model.Record, error) {
	if !mood.Valid() {
		return nil, fmt.Errorf("%w: invalid mood %q", model.ErrValidation, mood)
	}

	if _, err := e.local.Records.Get(ctx, date); err == nil {
		return updateEntity(ctx, e, e.local.Records, e.remote.Records, date, func(r *model.Record) {
			r.Content = content
			r.Mood = mood
		})
	} else if !errors.Is(err, localstore.ErrNotFound) {
		return nil, err
	}

	rec, err := model.NewRecord(date, e.now())
	if err != nil {
		return nil, err
	}
	rec.Content = content
	rec.Mood = mood

	if err := saveEntity(ctx, e, e.local.Records, e.remote.Records, rec); err != nil {
		return nil, err
	}

	e.grantExp(ctx, game.RecordExp, func(s *model.Stats) { s.RecordsWritten++ })
	return rec, nil
}

// DeleteRecord removes the record for a date. Fails with NotFound if no
// record exists for it.
func (e *Engine) DeleteRecord(ctx context.Context, date string) error {
	return deleteEntity(ctx, e, e.local.Records, e.remote.Records, date)
}

// CreateTag creates a tag after enforcing per-user name uniqueness.
func (e *Engine) CreateTag(ctx context.Context, name string) (*model.Tag, error) {
	name, err := model.CleanTagName(name)
	if err != nil {
		return nil, err
	}
	if err := e.checkTagName(ctx, name, ""); err != nil {
		return nil, err
	}

	tag, err := model.NewTag(name, e.now())
	if err != nil {
		return nil, err
	}
	if err := saveEntity(ctx, e, e.local.Tags, e.remote.Tags, tag); err != nil {
		return nil, err
	}
	return tag, nil
}

// RenameTag renames a tag, enforcing uniqueness against every other tag.
func (e *Engine) RenameTag(ctx context.Context, id, name string) (*model.Tag, error) {
	name, err := model.CleanTagName(name)
	if err != nil {
		return nil, err
	}
	if err := e.checkTagName(ctx, name, id); err != nil {
		return nil, err
	}

	return updateEntity(ctx, e, e.local.Tags, e.remote.Tags, id, func(t *model.Tag) {
		t.Name = name
	})
}

// DeleteTag removes a tag. Fails with NotFound if the id is absent.
func (e *Engine) DeleteTag(ctx context.Context, id string) error {
	return deleteEntity(ctx, e, e.local.Tags, e.remote.Tags, id)
}

// checkTagName enforces case-sensitive exact-match uniqueness before
// any write occurs. exceptID exempts the tag being renamed.
func (e *Engine) checkTagName(ctx context.Context, name, exceptID string) error {
	tags, err := e.local.Tags.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, t := range tags {
		if t.Name == name && t.ID != exceptID {
			return fmt.Errorf("tag %q: %w", name, ErrDuplicateTag)
		}
	}
	return nil
}

// Profile returns the local profile for the session user.
func (e *Engine) Profile(ctx context.Context) (*model.Profile, error) {
	return e.local.Profiles.Get(ctx, e.profileKey())
}

// profileKey is the local profile document key; a local-only session
// accrues experience under a device-scoped profile adopted at login.
func (e *Engine) profileKey() string {
	if e.uid != "" {
		return e.uid
	}
	return "local"
}

// grantExp applies an experience award and the stats bump to the
// profile and mirrors it. Ledger failures are logged, not surfaced: a
// lost award must not fail the completion that earned it.
func (e *Engine) grantExp(ctx context.Context, delta int, bump func(*model.Stats)) {
	key := e.profileKey()

	var p *model.Profile
	err := e.localWrite(key, func() error {
		var err error
		p, err = e.local.Profiles.Update(ctx, key, func(p *model.Profile) {
			res := game.ApplyExp(p.Exp, p.Level, p.MaxExp, delta)
			p.Exp, p.Level, p.MaxExp = res.Exp, res.Level, res.MaxExp
			if bump != nil {
				bump(&p.Stats)
			}
			game.TouchStreak(&p.Stats, e.now())
		})
		return err
	})
	if errors.Is(err, localstore.ErrNotFound) {
		fresh := model.NewProfile(key, "", "", e.now())
		if err := e.localWrite(key, func() error {
			return e.local.Profiles.Sync(ctx, fresh)
		}); err != nil {
			e.logger.Printf("WARNING: failed to seed profile: %v", err)
			return
		}
		e.grantExp(ctx, delta, bump)
		return
	}
	if err != nil {
		e.logger.Printf("WARNING: failed to apply experience: %v", err)
		return
	}

	if e.uid == "" {
		return
	}
	e.push(model.KindProfile, key, func(ctx context.Context) error {
		return e.remote.Profiles.Update(ctx, e.uid, p)
	})
}
