package game

import (
	"time"

	"github.com/thsalrkd/todaydo/internal/model"
)

// TouchStreak updates the stats streak for activity on the given day.
//
// A streak counts consecutive days with at least one qualifying
// completion. Activity on the day already recorded is a no-op, activity
// on the following day extends the streak, and any gap resets it to 1.
func TouchStreak(stats *model.Stats, day time.Time) {
	today := model.FormatDate(day)
	if stats.LastActiveDate == today {
		return
	}

	yesterday := model.FormatDate(day.AddDate(0, 0, -1))
	if stats.LastActiveDate == yesterday {
		stats.Streak++
	} else {
		stats.Streak = 1
	}

	stats.LastActiveDate = today
	if stats.Streak > stats.MaxStreak {
		stats.MaxStreak = stats.Streak
	}
}
