package localstore

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/thsalrkd/todaydo/internal/model"
)

// setupTestStore creates a temporary database for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[test] ", 0)
}

func mustTodo(t *testing.T, title string) *model.Todo {
	t.Helper()

	todo, err := model.NewTodo(title, "2025.03.10", time.Now())
	if err != nil {
		t.Fatalf("NewTodo failed: %v", err)
	}
	return todo
}

func TestCollection_AddGetAll(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	todos := NewTodos(store, testLogger())

	first := mustTodo(t, "first")
	second := mustTodo(t, "second")
	for _, todo := range []*model.Todo{first, second} {
		if err := todos.Add(ctx, todo); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	all, err := todos.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 todos, got %d", len(all))
	}
	if all[0].Title != "first" || all[1].Title != "second" {
		t.Errorf("storage order not preserved: %q, %q", all[0].Title, all[1].Title)
	}
}

func TestCollection_Update(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	todos := NewTodos(store, testLogger())

	todo := mustTodo(t, "gym")
	if err := todos.Add(ctx, todo); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	before := todo.UpdatedAt
	updated, err := todos.Update(ctx, todo.ID, func(x *model.Todo) {
		x.Completed = true
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !updated.Completed {
		t.Error("mutation not applied")
	}
	if !updated.UpdatedAt.After(before) {
		t.Error("updated_at not stamped")
	}

	got, err := todos.Get(ctx, todo.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Completed {
		t.Error("update not persisted")
	}

	if _, err := todos.Update(ctx, "todo-missing", func(*model.Todo) {}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update of missing id: error = %v, want ErrNotFound", err)
	}
}

func TestCollection_DeleteAsymmetry(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Todos and routines delete idempotently.
	todos := NewTodos(store, testLogger())
	if err := todos.Delete(ctx, "todo-missing"); err != nil {
		t.Errorf("todo delete should be idempotent, got %v", err)
	}
	routines := NewRoutines(store, testLogger())
	if err := routines.Delete(ctx, "routine-missing"); err != nil {
		t.Errorf("routine delete should be idempotent, got %v", err)
	}

	// Tags and records require existence.
	tags := NewTags(store, testLogger())
	if err := tags.Delete(ctx, "tag-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("tag delete of missing id: error = %v, want ErrNotFound", err)
	}
	records := NewRecords(store, testLogger())
	if err := records.Delete(ctx, "2025.01.01"); !errors.Is(err, ErrNotFound) {
		t.Errorf("record delete of missing date: error = %v, want ErrNotFound", err)
	}

	tag, err := model.NewTag("health", time.Now())
	if err != nil {
		t.Fatalf("NewTag failed: %v", err)
	}
	if err := tags.Add(ctx, tag); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := tags.Delete(ctx, tag.ID); err != nil {
		t.Errorf("delete of existing tag failed: %v", err)
	}
}

func TestCollection_SyncUpsert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	todos := NewTodos(store, testLogger())

	todo := mustTodo(t, "original")
	if err := todos.Sync(ctx, todo); err != nil {
		t.Fatalf("Sync insert failed: %v", err)
	}

	todo.Title = "replaced"
	if err := todos.Sync(ctx, todo); err != nil {
		t.Fatalf("Sync replace failed: %v", err)
	}

	count, err := todos.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 todo after upsert, got %d", count)
	}

	got, err := todos.Get(ctx, todo.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "replaced" {
		t.Errorf("sync did not replace body: got %q", got.Title)
	}
}

func TestCollection_Replace(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	todos := NewTodos(store, testLogger())

	for i := 0; i < 3; i++ {
		if err := todos.Add(ctx, mustTodo(t, "stale")); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	fresh := []*model.Todo{mustTodo(t, "a"), mustTodo(t, "b")}
	if err := todos.Replace(ctx, fresh); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	all, err := todos.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected replaced collection of 2, got %d", len(all))
	}
	if all[0].Title != "a" || all[1].Title != "b" {
		t.Errorf("replace order wrong: %q, %q", all[0].Title, all[1].Title)
	}
}

func TestCollection_ReplaceEmptyIsolatedPerKind(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	todos := NewTodos(store, testLogger())
	tags := NewTags(store, testLogger())

	if err := todos.Add(ctx, mustTodo(t, "keep me")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Replacing tags must not disturb todos.
	if err := tags.Replace(ctx, nil); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	count, err := todos.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("replace of tags touched todos: count = %d", count)
	}
}

func TestCollection_GetAllSkipsCorruptRows(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	todos := NewTodos(store, testLogger())

	if err := todos.Add(ctx, mustTodo(t, "good")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Corrupt a row behind the collection's back.
	if _, err := store.RawDB().ExecContext(ctx,
		`INSERT INTO documents (kind, key, body, position) VALUES ('todo', 'todo-broken', '{not json', 99)`); err != nil {
		t.Fatalf("failed to inject corrupt row: %v", err)
	}

	all, err := todos.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll should not fail on corrupt rows: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 decodable todo, got %d", len(all))
	}
	if all[0].Title != "good" {
		t.Errorf("surviving todo = %q, want %q", all[0].Title, "good")
	}
}
