package engine

import (
	"context"
	"sync"

	"github.com/thsalrkd/todaydo/internal/localstore"
	"github.com/thsalrkd/todaydo/internal/model"
)

// Pull fetches the full remote state for the user and replaces the
// local collections with it.
//
// Pull replaces, never merges: after a successful pull each local
// collection equals the remote set, regardless of prior local contents.
// The exceptions are entities with unconfirmed writes (in the
// optimistic set), whose local version survives until the push is
// acknowledged, so a pull racing a write never visibly reverts it.
//
// The four kinds are fetched concurrently but replaced sequentially,
// bounding peak resource use. A kind whose fetch failed keeps its local
// state untouched: an unreachable remote means "nothing to sync", never
// "delete everything". At most one pull runs at a time; a second caller
// gets ErrPullInProgress.
func (e *Engine) Pull(ctx context.Context) error {
	e.mu.Lock()
	if e.pulling {
		e.mu.Unlock()
		return ErrPullInProgress
	}
	e.pulling = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.pulling = false
		e.mu.Unlock()
	}()

	start := e.now()

	var (
		todos    []*model.Todo
		routines []*model.Routine
		records  []*model.Record
		tags     []*model.Tag

		todosErr, routinesErr, recordsErr, tagsErr error
	)

	var fetch sync.WaitGroup
	fetch.Add(4)
	go func() { defer fetch.Done(); todos, todosErr = e.remote.Todos.ListByUser(ctx, e.uid) }()
	go func() { defer fetch.Done(); routines, routinesErr = e.remote.Routines.ListByUser(ctx, e.uid) }()
	go func() { defer fetch.Done(); records, recordsErr = e.remote.Records.ListByUser(ctx, e.uid) }()
	go func() { defer fetch.Done(); tags, tagsErr = e.remote.Tags.ListByUser(ctx, e.uid) }()
	fetch.Wait()

	counts := make(map[model.Kind]int, 4)

	n, err := pullKind(ctx, e, e.local.Todos, todos, todosErr)
	if err != nil {
		return err
	}
	counts[model.KindTodo] = n

	n, err = pullKind(ctx, e, e.local.Routines, routines, routinesErr)
	if err != nil {
		return err
	}
	counts[model.KindRoutine] = n

	n, err = pullKind(ctx, e, e.local.Records, records, recordsErr)
	if err != nil {
		return err
	}
	counts[model.KindRecord] = n

	n, err = pullKind(ctx, e, e.local.Tags, tags, tagsErr)
	if err != nil {
		return err
	}
	counts[model.KindTag] = n

	e.mu.Lock()
	e.lastSync = e.now()
	e.pending = 0
	e.mu.Unlock()

	e.emit(Event{
		Type:     EventSyncComplete,
		Counts:   counts,
		Duration: e.now().Sub(start),
	})

	return nil
}

// pullKind reconciles one kind. The remote snapshot is authoritative
// except for optimistic ids, whose local version is kept. The swap is a
// single atomic Replace, so readers never observe an emptied collection.
// Local storage errors propagate; fetch errors were already degraded.
func pullKind[T any, P interface {
	*T
	model.Entity
}](ctx context.Context, e *Engine, local *localstore.Collection[T, P], fetched []P, fetchErr error) (int, error) {
	if fetchErr != nil {
		e.logger.Printf("WARNING: %s pull failed, keeping local state: %v", local.Kind(), fetchErr)
		n, err := local.Count(ctx)
		if err != nil {
			return 0, err
		}
		return n, nil
	}

	// Mutations are excluded from the snapshot-to-swap window, so every
	// local write is either fully visible here or lands after the
	// Replace. See Engine.swapMu.
	e.swapMu.Lock()
	defer e.swapMu.Unlock()

	final := make([]P, 0, len(fetched))
	seen := make(map[string]bool, len(fetched))

	for _, r := range fetched {
		key := r.Key()
		seen[key] = true
		if e.isOptimistic(key) {
			// An optimistic id that is absent locally was deleted here
			// with the delete push still unacknowledged; the remote
			// copy must not resurrect it.
			if l, err := local.Get(ctx, key); err == nil {
				final = append(final, l)
			}
			continue
		}
		final = append(final, r)
	}

	// Entities created locally whose push has not been acknowledged yet
	// are not in the remote snapshot; they survive the replace.
	locals, err := local.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	for _, l := range locals {
		if !seen[l.Key()] && e.isOptimistic(l.Key()) {
			final = append(final, l)
		}
	}

	if err := local.Replace(ctx, final); err != nil {
		return 0, err
	}
	e.noteLocalWrite()

	return len(final), nil
}

// refreshProfile makes the remote profile authoritative locally,
// seeding a fresh one remotely for first-time users.
func (e *Engine) refreshProfile(ctx context.Context) error {
	profiles, err := e.remote.Profiles.ListByUser(ctx, e.uid)
	if err != nil {
		return err
	}

	if len(profiles) == 0 {
		p, err := e.local.Profiles.Get(ctx, e.uid)
		if err != nil {
			p = model.NewProfile(e.uid, "", "", e.now())
		}
		if err := e.local.Profiles.Sync(ctx, p); err != nil {
			return err
		}
		e.noteLocalWrite()
		return e.remote.Profiles.Create(ctx, e.uid, p)
	}

	if err := e.local.Profiles.Sync(ctx, profiles[0]); err != nil {
		return err
	}
	e.noteLocalWrite()
	return nil
}
