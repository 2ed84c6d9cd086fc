// Package notify computes reminder fire times for dated todos and
// delivers them as web push notifications.
package notify

import (
	"fmt"
	"time"

	"github.com/thsalrkd/todaydo/internal/model"
)

// maxRepeats bounds how many lead-up fires a repeating reminder can
// produce for one due time.
const maxRepeats = 12

// FireTimes returns the instants a todo's reminder fires, ascending.
//
// A "before" reminder fires once, offset ahead of the due time. A
// "repeating" reminder fires on every offset interval leading up to the
// due time. Fires at or before the after cutoff are dropped, so a scan
// never re-delivers what an earlier scan already covered.
func FireTimes(t *model.Todo, after time.Time, loc *time.Location) ([]time.Time, error) {
	if t.Remind == nil || t.Completed {
		return nil, nil
	}

	due, err := model.DueTime(t.Date, t.Time, loc)
	if err != nil {
		return nil, fmt.Errorf("todo %s: %w", t.ID, err)
	}
	offset, err := t.Remind.Offset()
	if err != nil {
		return nil, fmt.Errorf("todo %s: %w", t.ID, err)
	}

	switch t.Remind.Anchor {
	case model.RemindBefore:
		fire := due.Add(-offset)
		if fire.After(after) {
			return []time.Time{fire}, nil
		}
		return nil, nil
	case model.RemindRepeating:
		var fires []time.Time
		for k := maxRepeats; k >= 1; k-- {
			fire := due.Add(-time.Duration(k) * offset)
			if fire.After(after) {
				fires = append(fires, fire)
			}
		}
		return fires, nil
	default:
		return nil, fmt.Errorf("todo %s: invalid remind anchor %q", t.ID, t.Remind.Anchor)
	}
}

// NextFire returns the earliest upcoming fire after the cutoff, or
// false when the reminder has none left.
func NextFire(t *model.Todo, after time.Time, loc *time.Location) (time.Time, bool, error) {
	fires, err := FireTimes(t, after, loc)
	if err != nil || len(fires) == 0 {
		return time.Time{}, false, err
	}
	return fires[0], true, nil
}
