package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/thsalrkd/todaydo/internal/localstore"
	"github.com/thsalrkd/todaydo/internal/model"
)

// ErrSubscriptionGone means the device subscription was rejected by the
// push service and should be discarded.
var ErrSubscriptionGone = errors.New("push subscription gone")

// Reminder pairs a todo with the instant its reminder fires.
type Reminder struct {
	Todo   *model.Todo
	FireAt time.Time
}

// Delivery sends one reminder somewhere; *Sender bound to a
// subscription is the production shape, tests substitute fakes.
type Delivery func(ctx context.Context, r Reminder) error

// Scanner walks the local todos and delivers reminders that fire inside
// the scan window. The previous scan's cutoff is remembered so each
// fire is delivered at most once per process.
type Scanner struct {
	todos   *localstore.Todos
	deliver Delivery
	loc     *time.Location
	logger  *log.Logger

	lastScan time.Time
}

// NewScanner creates a scanner. If logger is nil, a default logger
// writing to stderr is used.
func NewScanner(todos *localstore.Todos, deliver Delivery, loc *time.Location, logger *log.Logger) *Scanner {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &Scanner{
		todos:   todos,
		deliver: deliver,
		loc:     loc,
		logger:  logger,
	}
}

// Due returns the reminders firing in (lastScan, now], ascending per
// todo. Todos with malformed reminder settings are logged and skipped.
func (s *Scanner) Due(ctx context.Context, now time.Time) ([]Reminder, error) {
	todos, err := s.todos.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load todos for reminder scan: %w", err)
	}

	after := s.lastScan
	if after.IsZero() {
		after = now.Add(-time.Minute)
	}

	var due []Reminder
	for _, t := range todos {
		fires, err := FireTimes(t, after, s.loc)
		if err != nil {
			s.logger.Printf("WARNING: skipping reminder for %s: %v", t.ID, err)
			continue
		}
		for _, fire := range fires {
			if !fire.After(now) {
				due = append(due, Reminder{Todo: t, FireAt: fire})
			}
		}
	}
	return due, nil
}

// Scan delivers everything due at now and advances the cutoff. Delivery
// failures are logged per reminder; one dead subscription must not
// starve the rest.
func (s *Scanner) Scan(ctx context.Context, now time.Time) error {
	due, err := s.Due(ctx, now)
	if err != nil {
		return err
	}

	for _, r := range due {
		if err := s.deliver(ctx, r); err != nil {
			s.logger.Printf("WARNING: failed to deliver reminder for %s: %v", r.Todo.ID, err)
		}
	}

	s.lastScan = now
	return nil
}
