// Package engine implements local/remote reconciliation for a user's
// collections.
//
// The engine is a session object: constructed when a user logs in (or
// with no user for local-only use), started, and torn down on logout.
// All sync bookkeeping (in-flight pushes, failed items, pending count)
// lives on the engine, so logout wipes it by construction.
//
// The ordering guarantee is local-write-then-return, remote-push-in-
// background: every mutation is durably applied to the local store
// before the caller gets control back, and the mirroring remote write
// never blocks or fails the caller. A periodic pull of the full remote
// state is the convergence point that heals missed or failed pushes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thsalrkd/todaydo/internal/localstore"
	"github.com/thsalrkd/todaydo/internal/model"
	"github.com/thsalrkd/todaydo/internal/remote"
)

// ErrPullInProgress is returned when a pull is requested while another
// pull is still running. Overlapping pulls would interleave per-kind
// replaces, so the second caller backs off; the running pull's result
// serves both.
var ErrPullInProgress = errors.New("pull already in progress")

// ErrDuplicateTag is returned when creating or renaming a tag to a name
// the user already has.
var ErrDuplicateTag = errors.New("duplicate tag name")

// KindOps is the remote document store surface the engine needs per
// kind. *remote.KindClient satisfies it; tests substitute fakes.
type KindOps[P any] interface {
	Create(ctx context.Context, userID string, e P) error
	Update(ctx context.Context, userID string, e P) error
	Delete(ctx context.Context, userID, id string) error
	ListByUser(ctx context.Context, userID string) ([]P, error)
}

// Remotes bundles the per-kind remote adapters.
type Remotes struct {
	Todos    KindOps[*model.Todo]
	Routines KindOps[*model.Routine]
	Records  KindOps[*model.Record]
	Tags     KindOps[*model.Tag]
	Profiles KindOps[*model.Profile]
}

// NewRemotes wires the adapters of a document store client.
func NewRemotes(c *remote.Client) Remotes {
	return Remotes{
		Todos:    c.Todos(),
		Routines: c.Routines(),
		Records:  c.Records(),
		Tags:     c.Tags(),
		Profiles: c.Profiles(),
	}
}

// Locals bundles the local collections backing the UI's read model.
type Locals struct {
	Todos    *localstore.Todos
	Routines *localstore.Routines
	Records  *localstore.Records
	Tags     *localstore.Tags
	Profiles *localstore.Profiles
}

// NewLocals wires the collections of a local store.
func NewLocals(s *localstore.Store, logger *log.Logger) Locals {
	return Locals{
		Todos:    localstore.NewTodos(s, logger),
		Routines: localstore.NewRoutines(s, logger),
		Records:  localstore.NewRecords(s, logger),
		Tags:     localstore.NewTags(s, logger),
		Profiles: localstore.NewProfiles(s, logger),
	}
}

// Config holds engine tuning knobs.
type Config struct {
	// PullInterval is how often the full remote state is pulled while a
	// user is logged in.
	PullInterval time.Duration

	// OptimisticLinger is how long an entity id stays suppressed after
	// its push resolves, smoothing over a pull that raced the write.
	OptimisticLinger time.Duration

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PullInterval:     30 * time.Second,
		OptimisticLinger: 5 * time.Second,
		Logger:           log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// FailedItem records a push that did not reach the remote store. The
// local write already succeeded and stays visible; the item is healed
// by a later pull or retried on the next mutation.
type FailedItem struct {
	ID   string     `json:"id"`
	Kind model.Kind `json:"kind"`
	Err  string     `json:"error"`
}

// Status is a snapshot of the engine's sync bookkeeping.
type Status struct {
	LoggedIn       bool         `json:"logged_in"`
	LastSyncTime   time.Time    `json:"last_sync_time"`
	PendingCount   int          `json:"pending_count"`
	FailedItems    []FailedItem `json:"failed_items,omitempty"`
	PullInProgress bool         `json:"pull_in_progress"`
}

// optimisticEntry tracks one recently-written entity id. The id is
// suppressed from pull replacement while the push is in flight and for
// a short linger after it resolves.
type optimisticEntry struct {
	inFlight    bool
	lingerUntil time.Time
}

// Engine orchestrates pull-sync, push-sync, and local mutations for one
// login session.
type Engine struct {
	uid    string
	local  Locals
	remote Remotes
	cfg    *Config
	logger *log.Logger

	mu         sync.Mutex
	optimistic map[string]*optimisticEntry
	failed     []FailedItem
	pending    int
	lastSync   time.Time
	pulling    bool

	// swapMu orders local mutations against pull replacement. A
	// mutation holds the read side across its optimistic reservation
	// and local write; pullKind holds the write side from its local
	// snapshot through the Replace. A write therefore lands either
	// entirely before the snapshot (and is seen) or entirely after the
	// swap (and is untouched), never in between.
	swapMu sync.RWMutex

	// lastWrite is the wall time of the engine's most recent write to
	// the local store, in unix nanoseconds. File watchers use it to
	// tell the engine's own disk activity from another process's.
	lastWrite atomic.Int64

	notify func(Event)

	resume chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	pushWG sync.WaitGroup

	now func() time.Time
}

// New creates an engine for the given user. An empty uid means no user
// is logged in: mutations stay local-only and nothing is pulled or
// pushed until a fresh engine is built at login.
func New(uid string, local Locals, remotes Remotes, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		uid:        uid,
		local:      local,
		remote:     remotes,
		cfg:        cfg,
		logger:     cfg.Logger,
		optimistic: make(map[string]*optimisticEntry),
		resume:     make(chan struct{}, 1),
		now:        time.Now,
	}
}

// UID returns the logged-in user id, or "" for a local-only engine.
func (e *Engine) UID() string {
	return e.uid
}

// SetNotify installs a listener for change and sync events. Must be
// called before Start.
func (e *Engine) SetNotify(fn func(Event)) {
	e.notify = fn
}

// Start performs the login pull and begins the periodic sync loop.
// It does not block; use Stop to tear the session down.
func (e *Engine) Start(ctx context.Context) error {
	if e.ctx != nil {
		return fmt.Errorf("engine already started")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)

	if e.uid == "" {
		e.logger.Printf("no user logged in, staying local-only")
		return nil
	}

	// A failed login pull leaves stale local data visible rather than
	// blocking the session.
	if err := e.Pull(e.ctx); err != nil {
		e.logger.Printf("WARNING: login pull failed: %v", err)
	}
	if err := e.refreshProfile(e.ctx); err != nil {
		e.logger.Printf("WARNING: profile refresh failed: %v", err)
	}

	e.wg.Add(1)
	go e.runLoop()

	return nil
}

// runLoop pulls on the periodic ticker and on foreground-resume triggers.
func (e *Engine) runLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
		case <-e.resume:
		}

		if err := e.Pull(e.ctx); err != nil && !errors.Is(err, ErrPullInProgress) {
			e.logger.Printf("WARNING: periodic pull failed: %v", err)
		}
	}
}

// Resume signals that the app returned to the foreground; the sync loop
// pulls at the next opportunity. Safe to call from any goroutine.
func (e *Engine) Resume() {
	select {
	case e.resume <- struct{}{}:
	default:
	}
}

// Stop tears the session down: the sync loop exits and in-flight pushes
// are drained. Pushes racing the shutdown complete or fail silently;
// their bookkeeping dies with the session.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.pushWG.Wait()
	e.logger.Printf("engine stopped")
}

// Status returns a snapshot of the sync bookkeeping.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	failed := make([]FailedItem, len(e.failed))
	copy(failed, e.failed)

	return Status{
		LoggedIn:       e.uid != "",
		LastSyncTime:   e.lastSync,
		PendingCount:   e.pending,
		FailedItems:    failed,
		PullInProgress: e.pulling,
	}
}

// noteLocalWrite stamps the engine's own local store activity.
func (e *Engine) noteLocalWrite() {
	e.lastWrite.Store(e.now().UnixNano())
}

// LastLocalWrite returns when the engine last wrote the local store
// itself, or the zero time if it never has. The daemon's file watcher
// uses this to ignore the disk echo of the engine's own writes.
func (e *Engine) LastLocalWrite() time.Time {
	n := e.lastWrite.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// emit delivers an event to the listener, if any.
func (e *Engine) emit(ev Event) {
	if e.notify != nil {
		ev.Timestamp = e.now()
		e.notify(ev)
	}
}
