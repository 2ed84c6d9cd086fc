package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/thsalrkd/todaydo/internal/game"
	"github.com/thsalrkd/todaydo/internal/localstore"
	"github.com/thsalrkd/todaydo/internal/model"
)

// fakeOps is an in-memory KindOps with per-call error injection and
// optional gates for exercising in-flight races.
type fakeOps[P model.Entity] struct {
	mu    sync.Mutex
	docs  map[string]P
	order []string

	createErr error
	updateErr error
	deleteErr error
	listErr   error

	// When non-nil, Create/Delete/ListByUser block until the gate is
	// closed.
	createGate chan struct{}
	deleteGate chan struct{}
	listGate   chan struct{}

	creates int
}

func newFakeOps[P model.Entity]() *fakeOps[P] {
	return &fakeOps[P]{docs: make(map[string]P)}
}

func (f *fakeOps[P]) Create(ctx context.Context, userID string, e P) error {
	if f.createGate != nil {
		<-f.createGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.docs[e.Key()]; !ok {
		f.order = append(f.order, e.Key())
	}
	f.docs[e.Key()] = e
	return nil
}

func (f *fakeOps[P]) Update(ctx context.Context, userID string, e P) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.docs[e.Key()]; !ok {
		f.order = append(f.order, e.Key())
	}
	f.docs[e.Key()] = e
	return nil
}

func (f *fakeOps[P]) Delete(ctx context.Context, userID, id string) error {
	if f.deleteGate != nil {
		<-f.deleteGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeOps[P]) ListByUser(ctx context.Context, userID string) ([]P, error) {
	if f.listGate != nil {
		<-f.listGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]P, 0, len(f.docs))
	for _, key := range f.order {
		if e, ok := f.docs[key]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeOps[P]) put(e P) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[e.Key()]; !ok {
		f.order = append(f.order, e.Key())
	}
	f.docs[e.Key()] = e
}

func (f *fakeOps[P]) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[key]
	return ok
}

func (f *fakeOps[P]) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

type testRemotes struct {
	todos    *fakeOps[*model.Todo]
	routines *fakeOps[*model.Routine]
	records  *fakeOps[*model.Record]
	tags     *fakeOps[*model.Tag]
	profiles *fakeOps[*model.Profile]
}

func newTestEngine(t *testing.T, uid string) (*Engine, Locals, *testRemotes) {
	t.Helper()

	store, err := localstore.Open(filepath.Join(t.TempDir(), "todaydo.db"))
	if err != nil {
		t.Fatalf("failed to open local store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	quiet := log.New(io.Discard, "", 0)
	locals := NewLocals(store, quiet)

	fr := &testRemotes{
		todos:    newFakeOps[*model.Todo](),
		routines: newFakeOps[*model.Routine](),
		records:  newFakeOps[*model.Record](),
		tags:     newFakeOps[*model.Tag](),
		profiles: newFakeOps[*model.Profile](),
	}
	remotes := Remotes{
		Todos:    fr.todos,
		Routines: fr.routines,
		Records:  fr.records,
		Tags:     fr.tags,
		Profiles: fr.profiles,
	}

	e := New(uid, locals, remotes, &Config{
		PullInterval:     time.Hour,
		OptimisticLinger: 0,
		Logger:           quiet,
	})
	return e, locals, fr
}

func mustNewTodo(t *testing.T, title, date string) *model.Todo {
	t.Helper()
	todo, err := model.NewTodo(title, date, time.Now())
	if err != nil {
		t.Fatalf("failed to build todo: %v", err)
	}
	return todo
}

func TestOfflineMutationsStayLocal(t *testing.T) {
	ctx := context.Background()
	e, locals, fr := newTestEngine(t, "")

	todo := mustNewTodo(t, "buy milk", "2026.01.15")
	if err := e.SaveTodo(ctx, todo); err != nil {
		t.Fatalf("SaveTodo failed: %v", err)
	}
	if _, err := e.ToggleTodo(ctx, todo.ID, true); err != nil {
		t.Fatalf("ToggleTodo failed: %v", err)
	}
	e.pushWG.Wait()

	got, err := locals.Todos.Get(ctx, todo.ID)
	if err != nil {
		t.Fatalf("todo not visible locally: %v", err)
	}
	if !got.Completed {
		t.Error("expected toggled todo to be completed locally")
	}
	if n := fr.todos.createCount(); n != 0 {
		t.Errorf("expected no remote calls while logged out, got %d creates", n)
	}

	st := e.Status()
	if st.LoggedIn {
		t.Error("expected LoggedIn=false for empty uid")
	}
}

func TestSaveTodoMirrorsToRemote(t *testing.T) {
	ctx := context.Background()
	e, _, fr := newTestEngine(t, "u1")

	todo := mustNewTodo(t, "write report", "2026.01.15")
	if err := e.SaveTodo(ctx, todo); err != nil {
		t.Fatalf("SaveTodo failed: %v", err)
	}
	if e.Status().PendingCount != 1 {
		t.Errorf("expected pending count 1 right after write, got %d", e.Status().PendingCount)
	}
	e.pushWG.Wait()

	if !fr.todos.has(todo.ID) {
		t.Error("expected todo mirrored to remote store")
	}
	st := e.Status()
	if st.PendingCount != 0 {
		t.Errorf("expected pending count 0 after push drained, got %d", st.PendingCount)
	}
	if st.LastSyncTime.IsZero() {
		t.Error("expected last sync time stamped after successful push")
	}

	if err := e.DeleteTodo(ctx, todo.ID); err != nil {
		t.Fatalf("DeleteTodo failed: %v", err)
	}
	e.pushWG.Wait()
	if fr.todos.has(todo.ID) {
		t.Error("expected delete mirrored to remote store")
	}
}

func TestPushFailureIsDegraded(t *testing.T) {
	ctx := context.Background()
	e, locals, fr := newTestEngine(t, "u1")
	fr.todos.createErr = errors.New("network unreachable")

	var mu sync.Mutex
	var events []Event
	e.SetNotify(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	todo := mustNewTodo(t, "call dentist", "2026.01.15")
	if err := e.SaveTodo(ctx, todo); err != nil {
		t.Fatalf("SaveTodo must not surface push errors, got: %v", err)
	}
	e.pushWG.Wait()

	if _, err := locals.Todos.Get(ctx, todo.ID); err != nil {
		t.Fatalf("local write must survive a failed push: %v", err)
	}

	st := e.Status()
	if len(st.FailedItems) != 1 {
		t.Fatalf("expected 1 failed item, got %d", len(st.FailedItems))
	}
	if st.FailedItems[0].ID != todo.ID || st.FailedItems[0].Kind != model.KindTodo {
		t.Errorf("unexpected failed item: %+v", st.FailedItems[0])
	}

	mu.Lock()
	var sawFailure bool
	for _, ev := range events {
		if ev.Type == EventPushFailed && ev.Key == todo.ID {
			sawFailure = true
		}
	}
	mu.Unlock()
	if !sawFailure {
		t.Error("expected a push_failed event")
	}

	// A later successful push for the same id clears the failed entry.
	if _, err := e.UpdateTodo(ctx, todo.ID, func(x *model.Todo) { x.Title = "call dentist today" }); err != nil {
		t.Fatalf("UpdateTodo failed: %v", err)
	}
	e.pushWG.Wait()
	if st := e.Status(); len(st.FailedItems) != 0 {
		t.Errorf("expected failed items cleared after successful push, got %+v", st.FailedItems)
	}
}

func TestPullReplacesLocalState(t *testing.T) {
	ctx := context.Background()
	e, locals, fr := newTestEngine(t, "u1")

	stale := mustNewTodo(t, "stale local todo", "2026.01.10")
	if err := locals.Todos.Add(ctx, stale); err != nil {
		t.Fatalf("failed to seed local todo: %v", err)
	}
	fresh := mustNewTodo(t, "fresh remote todo", "2026.01.11")
	fr.todos.put(fresh)

	if err := e.Pull(ctx); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	got, err := locals.Todos.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != fresh.ID {
		t.Fatalf("expected local state replaced by remote snapshot, got %d todos", len(got))
	}
	if e.Status().LastSyncTime.IsZero() {
		t.Error("expected last sync time stamped after pull")
	}
}

func TestPullKeepsKindOnFetchError(t *testing.T) {
	ctx := context.Background()
	e, locals, fr := newTestEngine(t, "u1")

	local := mustNewTodo(t, "must survive", "2026.01.10")
	if err := locals.Todos.Add(ctx, local); err != nil {
		t.Fatalf("failed to seed local todo: %v", err)
	}
	fr.todos.listErr = errors.New("timeout")

	tag, err := model.NewTag("work", time.Now())
	if err != nil {
		t.Fatalf("failed to build tag: %v", err)
	}
	fr.tags.put(tag)

	if err := e.Pull(ctx); err != nil {
		t.Fatalf("Pull must degrade fetch errors, got: %v", err)
	}

	if _, err := locals.Todos.Get(ctx, local.ID); err != nil {
		t.Errorf("local todos must be untouched when the fetch fails: %v", err)
	}
	tags, err := locals.Tags.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll tags failed: %v", err)
	}
	if len(tags) != 1 || tags[0].ID != tag.ID {
		t.Errorf("expected tags still replaced from remote, got %d", len(tags))
	}
}

func TestPullPreservesInFlightWrite(t *testing.T) {
	ctx := context.Background()
	e, locals, fr := newTestEngine(t, "u1")
	fr.todos.createGate = make(chan struct{})

	todo := mustNewTodo(t, "racing the pull", "2026.01.15")
	if err := e.SaveTodo(ctx, todo); err != nil {
		t.Fatalf("SaveTodo failed: %v", err)
	}

	// The remote snapshot predates the write; the unacknowledged todo
	// must survive the replace.
	if err := e.Pull(ctx); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if _, err := locals.Todos.Get(ctx, todo.ID); err != nil {
		t.Fatalf("in-flight write must survive a pull: %v", err)
	}

	close(fr.todos.createGate)
	e.pushWG.Wait()

	// After the ack the remote has the todo and pulls converge on it.
	if err := e.Pull(ctx); err != nil {
		t.Fatalf("second Pull failed: %v", err)
	}
	if _, err := locals.Todos.Get(ctx, todo.ID); err != nil {
		t.Errorf("todo must persist once acknowledged remotely: %v", err)
	}
}

func TestConcurrentPullsNeverDropLocalWrites(t *testing.T) {
	ctx := context.Background()
	e, locals, fr := newTestEngine(t, "u1")
	fr.todos.createGate = make(chan struct{})

	// Pulls loop as fast as they can while todos are saved. Every push
	// is held in flight, so the remote snapshot never contains the
	// saved todos; only the optimistic set keeps them alive.
	stop := make(chan struct{})
	pulls := make(chan struct{})
	go func() {
		defer close(pulls)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := e.Pull(ctx); err != nil && !errors.Is(err, ErrPullInProgress) {
				t.Errorf("Pull failed: %v", err)
				return
			}
		}
	}()

	const writes = 100
	ids := make([]string, 0, writes)
	for i := 0; i < writes; i++ {
		todo := mustNewTodo(t, fmt.Sprintf("todo %d", i), "2026.02.01")
		if err := e.SaveTodo(ctx, todo); err != nil {
			t.Fatalf("SaveTodo failed: %v", err)
		}
		ids = append(ids, todo.ID)
	}

	close(stop)
	<-pulls
	close(fr.todos.createGate)
	e.pushWG.Wait()

	for _, id := range ids {
		if _, err := locals.Todos.Get(ctx, id); err != nil {
			t.Fatalf("todo %s lost to a concurrent pull: %v", id, err)
		}
	}
}

func TestPullDoesNotResurrectInFlightDelete(t *testing.T) {
	ctx := context.Background()
	e, locals, fr := newTestEngine(t, "u1")

	todo := mustNewTodo(t, "short-lived", "2026.03.01")
	if err := e.SaveTodo(ctx, todo); err != nil {
		t.Fatalf("SaveTodo failed: %v", err)
	}
	e.pushWG.Wait()

	fr.todos.deleteGate = make(chan struct{})
	if err := e.DeleteTodo(ctx, todo.ID); err != nil {
		t.Fatalf("DeleteTodo failed: %v", err)
	}

	// The remote still lists the todo until the delete lands; a pull in
	// that window must not bring it back.
	if err := e.Pull(ctx); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if _, err := locals.Todos.Get(ctx, todo.ID); !errors.Is(err, localstore.ErrNotFound) {
		t.Fatalf("deleted todo came back from the remote snapshot: %v", err)
	}

	close(fr.todos.deleteGate)
	e.pushWG.Wait()
}

func TestConcurrentPullRejected(t *testing.T) {
	ctx := context.Background()
	e, _, fr := newTestEngine(t, "u1")
	fr.todos.listGate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- e.Pull(ctx) }()

	// Wait for the first pull to take the guard.
	for !e.Status().PullInProgress {
		time.Sleep(time.Millisecond)
	}

	if err := e.Pull(ctx); !errors.Is(err, ErrPullInProgress) {
		t.Errorf("expected ErrPullInProgress, got %v", err)
	}

	close(fr.todos.listGate)
	if err := <-done; err != nil {
		t.Fatalf("first Pull failed: %v", err)
	}
	if e.Status().PullInProgress {
		t.Error("expected pull guard released")
	}
}

func TestToggleTodoAwardsOnCompletionEdgeOnly(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, "")

	todo := mustNewTodo(t, "morning run", "2026.01.15")
	if err := e.SaveTodo(ctx, todo); err != nil {
		t.Fatalf("SaveTodo failed: %v", err)
	}

	steps := []struct {
		completed bool
		wantExp   int
		wantDone  int
	}{
		{true, game.TodoExp, 1},
		{false, game.TodoExp, 1},
		{true, 2 * game.TodoExp, 2},
		{true, 2 * game.TodoExp, 2},
	}
	for i, step := range steps {
		if _, err := e.ToggleTodo(ctx, todo.ID, step.completed); err != nil {
			t.Fatalf("step %d: ToggleTodo failed: %v", i, err)
		}
		p, err := e.Profile(ctx)
		if err != nil {
			t.Fatalf("step %d: Profile failed: %v", i, err)
		}
		if p.Exp != step.wantExp {
			t.Errorf("step %d: exp = %d, want %d", i, p.Exp, step.wantExp)
		}
		if p.Stats.TodosCompleted != step.wantDone {
			t.Errorf("step %d: todos completed = %d, want %d", i, p.Stats.TodosCompleted, step.wantDone)
		}
	}
}

func TestToggleRoutineHonorsExpGiven(t *testing.T) {
	ctx := context.Background()
	e, locals, _ := newTestEngine(t, "")

	// A routine synced down with exp_given already set must not grant
	// again on its next completion edge.
	paid, err := model.NewRoutine("stretch", "2026.01.15", time.Now())
	if err != nil {
		t.Fatalf("failed to build routine: %v", err)
	}
	paid.ExpGiven = true
	if err := locals.Routines.Sync(ctx, paid); err != nil {
		t.Fatalf("failed to seed routine: %v", err)
	}

	if _, err := e.ToggleRoutine(ctx, paid.ID, true); err != nil {
		t.Fatalf("ToggleRoutine failed: %v", err)
	}
	p, err := e.Profile(ctx)
	if !errors.Is(err, localstore.ErrNotFound) {
		if err != nil {
			t.Fatalf("Profile failed: %v", err)
		}
		t.Fatalf("expected no profile yet (no award), got exp %d", p.Exp)
	}

	// A fresh routine grants once and sets the flag.
	fresh, err := model.NewRoutine("read", "2026.01.15", time.Now())
	if err != nil {
		t.Fatalf("failed to build routine: %v", err)
	}
	if err := e.SaveRoutine(ctx, fresh); err != nil {
		t.Fatalf("SaveRoutine failed: %v", err)
	}
	got, err := e.ToggleRoutine(ctx, fresh.ID, true)
	if err != nil {
		t.Fatalf("ToggleRoutine failed: %v", err)
	}
	if !got.ExpGiven {
		t.Error("expected exp_given set after award")
	}
	p, err = e.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if p.Exp != game.RoutineExp {
		t.Errorf("exp = %d, want %d", p.Exp, game.RoutineExp)
	}
	if p.Stats.RoutinesCompleted != 1 {
		t.Errorf("routines completed = %d, want 1", p.Stats.RoutinesCompleted)
	}
}

func TestWriteRecordAwardsOnlyOnFirstWrite(t *testing.T) {
	ctx := context.Background()
	e, locals, _ := newTestEngine(t, "")

	const day = "2026.01.15"
	rec, err := e.WriteRecord(ctx, day, "good day", model.MoodHappy)
	if err != nil {
		t.Fatalf("WriteRecord failed: %v", err)
	}
	if rec.Key() != day {
		t.Errorf("record key = %q, want %q", rec.Key(), day)
	}

	p, err := e.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if p.Exp != game.RecordExp {
		t.Errorf("exp after first write = %d, want %d", p.Exp, game.RecordExp)
	}

	// Rewriting the same day replaces content without a second award.
	if _, err := e.WriteRecord(ctx, day, "rough evening", model.MoodBad); err != nil {
		t.Fatalf("second WriteRecord failed: %v", err)
	}
	got, err := locals.Records.Get(ctx, day)
	if err != nil {
		t.Fatalf("record not found: %v", err)
	}
	if got.Content != "rough evening" || got.Mood != model.MoodBad {
		t.Errorf("record not updated: %+v", got)
	}
	p, err = e.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if p.Exp != game.RecordExp {
		t.Errorf("exp after rewrite = %d, want %d", p.Exp, game.RecordExp)
	}
	if p.Stats.RecordsWritten != 1 {
		t.Errorf("records written = %d, want 1", p.Stats.RecordsWritten)
	}

	if _, err := e.WriteRecord(ctx, day, "x", model.Mood("angry")); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error for invalid mood, got %v", err)
	}
}

func TestTagNameUniqueness(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, "")

	fitness, err := e.CreateTag(ctx, "fitness")
	if err != nil {
		t.Fatalf("CreateTag failed: %v", err)
	}
	if _, err := e.CreateTag(ctx, " fitness "); !errors.Is(err, ErrDuplicateTag) {
		t.Errorf("expected ErrDuplicateTag for duplicate name, got %v", err)
	}

	work, err := e.CreateTag(ctx, "work")
	if err != nil {
		t.Fatalf("CreateTag failed: %v", err)
	}
	if _, err := e.RenameTag(ctx, work.ID, "fitness"); !errors.Is(err, ErrDuplicateTag) {
		t.Errorf("expected ErrDuplicateTag on rename collision, got %v", err)
	}

	// Renaming a tag to its current name is not a collision.
	if _, err := e.RenameTag(ctx, fitness.ID, "fitness"); err != nil {
		t.Errorf("rename to own name failed: %v", err)
	}

	if _, err := e.CreateTag(ctx, "   "); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error for blank name, got %v", err)
	}
}

func TestDeleteStrictness(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, "")

	if err := e.DeleteTodo(ctx, "todo-missing"); err != nil {
		t.Errorf("todo delete must be idempotent, got %v", err)
	}
	if err := e.DeleteRoutine(ctx, "routine-missing"); err != nil {
		t.Errorf("routine delete must be idempotent, got %v", err)
	}
	if err := e.DeleteRecord(ctx, "2026.01.15"); !errors.Is(err, localstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting absent record, got %v", err)
	}
	if err := e.DeleteTag(ctx, "tag-missing"); !errors.Is(err, localstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting absent tag, got %v", err)
	}
}

func TestStartSeedsProfileForFirstTimeUser(t *testing.T) {
	ctx := context.Background()
	e, locals, fr := newTestEngine(t, "u1")

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Stop()
	e.pushWG.Wait()

	p, err := locals.Profiles.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("expected profile seeded locally: %v", err)
	}
	if p.Level != 1 || p.MaxExp != 300 {
		t.Errorf("unexpected fresh profile: level=%d maxExp=%d", p.Level, p.MaxExp)
	}
	if !fr.profiles.has("u1") {
		t.Error("expected profile seeded remotely")
	}
}

func TestStartAdoptsRemoteProfile(t *testing.T) {
	ctx := context.Background()
	e, locals, fr := newTestEngine(t, "u1")

	existing := model.NewProfile("u1", "a@b.c", "tester", time.Now())
	existing.Level = 3
	existing.Exp = 120
	existing.MaxExp = 700
	fr.profiles.put(existing)

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Stop()

	p, err := locals.Profiles.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("expected profile synced locally: %v", err)
	}
	if p.Level != 3 || p.Exp != 120 || p.MaxExp != 700 {
		t.Errorf("remote profile not authoritative: %+v", p)
	}
}
