// Package game implements the experience ledger: pure leveling math and
// the completion-edge rules that decide when experience is granted.
package game

// Award sizes for completion events.
const (
	// TodoExp is granted when a todo transitions to completed.
	TodoExp = 20
	// RoutineExp is granted when a routine transitions to completed.
	RoutineExp = 20
	// RecordExp is granted when a mood record is first written for a day.
	RecordExp = 10

	// MaxExpIncrement is added to the level-up threshold on every level gained.
	MaxExpIncrement = 200
)

// Result is the leveling state after applying an award.
type Result struct {
	Exp       int
	Level     int
	MaxExp    int
	LeveledUp bool
}

// ApplyExp adds delta experience and rolls overflow into level
// increments. Exp is always kept in [0, maxExp); each level gained
// raises the threshold by MaxExpIncrement.
func ApplyExp(exp, level, maxExp, delta int) Result {
	exp += delta

	leveled := false
	for maxExp > 0 && exp >= maxExp {
		exp -= maxExp
		level++
		maxExp += MaxExpIncrement
		leveled = true
	}
	if exp < 0 {
		exp = 0
	}

	return Result{Exp: exp, Level: level, MaxExp: maxExp, LeveledUp: leveled}
}

// CompletionDelta returns the award for a completion-state transition.
// Experience is granted exactly once per false→true edge: never on the
// reverse transition, never on edits that leave completion unchanged.
func CompletionDelta(prev, next bool, award int) int {
	if !prev && next {
		return award
	}
	return 0
}

// RoutineTransition decides the award and the new expGiven flag for a
// routine completion toggle.
//
// expGiven guards against double-awarding when a repeating routine is
// toggled complete/incomplete/complete: it is set when experience is
// granted, suppresses a grant if already set at a completion edge, and
// resets when the routine is un-completed.
func RoutineTransition(prev, next, expGiven bool) (delta int, nowGiven bool) {
	switch {
	case !prev && next:
		if expGiven {
			return 0, true
		}
		return RoutineExp, true
	case prev && !next:
		return 0, false
	default:
		return 0, expGiven
	}
}
