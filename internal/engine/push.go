package engine

import (
	"context"
	"time"

	"github.com/thsalrkd/todaydo/internal/model"
)

// markInFlight puts an entity id into the optimistic-update set before
// its push starts. While an id is optimistic a pull will not replace
// the entity's local version.
func (e *Engine) markInFlight(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.optimistic[key] = &optimisticEntry{inFlight: true}
}

// ackOptimistic records that the push for an id resolved. The id stays
// suppressed for a short linger window so a pull that already fetched a
// pre-write snapshot cannot revert the entity, then drops out of the set.
func (e *Engine) ackOptimistic(key string) {
	linger := e.cfg.OptimisticLinger

	e.mu.Lock()
	entry, ok := e.optimistic[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	if linger <= 0 {
		delete(e.optimistic, key)
		e.mu.Unlock()
		return
	}
	entry.inFlight = false
	entry.lingerUntil = e.now().Add(linger)
	e.mu.Unlock()

	time.AfterFunc(linger, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if cur, ok := e.optimistic[key]; ok && !cur.inFlight && !e.now().Before(cur.lingerUntil) {
			delete(e.optimistic, key)
		}
	})
}

// dropOptimistic releases a reservation whose local write failed.
func (e *Engine) dropOptimistic(key string) {
	e.mu.Lock()
	delete(e.optimistic, key)
	e.mu.Unlock()
}

// isOptimistic reports whether the id has an unconfirmed or
// still-lingering write.
func (e *Engine) isOptimistic(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.optimistic[key]
	if !ok {
		return false
	}
	return entry.inFlight || e.now().Before(entry.lingerUntil)
}

// pushCtx returns the context background pushes run under. Pushes
// started before the engine is running still get a usable context.
func (e *Engine) pushCtx() context.Context {
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}

// finishPush applies the bookkeeping for a resolved push. Success
// stamps lastSyncTime, shrinks pendingCount, and clears the id from the
// failed list; failure is recorded and logged, never surfaced to the
// mutation's caller.
func (e *Engine) finishPush(kind model.Kind, key string, err error) {
	e.mu.Lock()
	if err != nil {
		e.failed = withoutFailed(e.failed, key)
		e.failed = append(e.failed, FailedItem{ID: key, Kind: kind, Err: err.Error()})
	} else {
		e.lastSync = e.now()
		if e.pending > 0 {
			e.pending--
		}
		e.failed = withoutFailed(e.failed, key)
	}
	e.mu.Unlock()

	e.ackOptimistic(key)

	if err != nil {
		e.logger.Printf("WARNING: push of %s %s failed: %v", kind, key, err)
		e.emit(Event{Type: EventPushFailed, Kind: kind, Key: key, Err: err.Error()})
	}
}

func withoutFailed(items []FailedItem, key string) []FailedItem {
	out := items[:0]
	for _, item := range items {
		if item.ID != key {
			out = append(out, item)
		}
	}
	return out
}

// push mirrors a local mutation to the remote store in the background.
// The caller has already returned; failures degrade into failedItems.
func (e *Engine) push(kind model.Kind, key string, run func(ctx context.Context) error) {
	e.markInFlight(key)
	e.pushWG.Add(1)
	go func() {
		defer e.pushWG.Done()
		e.finishPush(kind, key, run(e.pushCtx()))
	}()
}
