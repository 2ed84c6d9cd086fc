// Package daemon runs the background sync process: it owns a running
// reconciliation engine, watches the local database for writes made by
// other processes, and drives the periodic reminder scan.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thsalrkd/todaydo/internal/engine"
	"github.com/thsalrkd/todaydo/internal/notify"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long to wait before reacting to database
	// file changes. This batches rapid writes together.
	DebounceInterval time.Duration

	// ReminderScanInterval is how often due reminders are scanned for.
	// Zero disables the scan.
	ReminderScanInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval:     500 * time.Millisecond,
		ReminderScanInterval: time.Minute,
		Logger:               log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon supervises the engine, the database watcher, and the reminder
// scanner for one process.
type Daemon struct {
	engine  *engine.Engine
	scanner *notify.Scanner
	dbPath  string
	config  *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. scanner may be nil when reminder delivery is
// not configured.
func New(eng *engine.Engine, scanner *notify.Scanner, dbPath string, config *Config) (*Daemon, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if dbPath == "" {
		return nil, fmt.Errorf("dbPath cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:      eng,
		scanner:     scanner,
		dbPath:      dbPath,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs the daemon. It starts the engine, watches the database
// directory, and processes changes until ctx is cancelled.
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("starting daemon")

	if err := d.engine.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	// The watch is on the directory: SQLite writes land in the -wal
	// file and appear as sibling events.
	if err := d.watcher.Add(filepath.Dir(d.dbPath)); err != nil {
		return fmt.Errorf("failed to watch database directory: %w", err)
	}
	d.config.Logger.Printf("watching %s", d.dbPath)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	if d.scanner != nil && d.config.ReminderScanInterval > 0 {
		d.wg.Add(1)
		go d.scanReminders()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts the daemon down, draining the engine last so
// in-flight pushes complete.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("error closing watcher: %v", err)
	}

	d.wg.Wait()
	d.engine.Stop()

	d.config.Logger.Println("daemon stopped")
	return nil
}

// watchFileEvents queues database file events for debounced handling.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !d.isDatabaseFile(event.Name) {
				continue
			}
			if d.isSelfWrite() {
				continue
			}
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("watcher error: %v", err)
		}
	}
}

// isSelfWrite reports whether the engine itself wrote the database
// recently. Its pulls and mutations rewrite the watched file (Replace
// rewrites rows, the WAL appends), and without this check each pull's
// own disk echo would schedule the next pull, looping forever. Only
// events with no engine write inside the debounce window count as
// another process's.
func (d *Daemon) isSelfWrite() bool {
	last := d.engine.LastLocalWrite()
	if last.IsZero() {
		return false
	}
	return time.Since(last) < d.config.DebounceInterval
}

// isDatabaseFile matches the database file and its WAL/journal siblings.
func (d *Daemon) isDatabaseFile(path string) bool {
	return strings.HasPrefix(filepath.Base(path), filepath.Base(d.dbPath))
}

// queueChange records a changed path with its event time.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

// processChangeQueue drains settled changes on the debounce tick. A
// settled change means another process wrote the local database; the
// engine pulls so both sides reconverge.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if d.drainSettledChanges() {
				d.engine.Resume()
			}
		}
	}
}

// drainSettledChanges removes queue entries older than the debounce
// interval and reports whether any settled.
func (d *Daemon) drainSettledChanges() bool {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	settled := false
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		delete(d.changeQueue, path)
		settled = true
	}
	if settled {
		d.config.Logger.Println("local database changed externally, scheduling pull")
	}
	return settled
}

// scanReminders periodically delivers due reminders.
func (d *Daemon) scanReminders() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ReminderScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if err := d.scanner.Scan(d.ctx, time.Now()); err != nil {
				d.config.Logger.Printf("reminder scan failed: %v", err)
			}
		}
	}
}
