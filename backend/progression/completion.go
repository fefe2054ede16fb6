package progression

import (
	"time"

	"github.com/jghoshh/habittree/backend/models"
	"github.com/jghoshh/habittree/lib/utils"
)

// ErrInvalidDate is returned when the day a toggle or delta is applied on is not a
// YYYY-MM-DD date.
var ErrInvalidDate = utils.ErrInvalidDate

const (
	// BaseCompletionXP is the XP granted for any completion.
	BaseCompletionXP = 15
	// StreakBonusXP is the extra XP per period of streak held before the completion.
	StreakBonusXP = 2
)

// Completion is the outcome of toggling one habit.
type Completion struct {
	// Habit is the habit with the update applied.
	Habit models.Habit
	// Update is the set of fields to persist on the habit document.
	Update models.HabitUpdate
	// Delta is the change to merge into the owner's Stats.
	Delta models.StatsDelta
	// Completed is the new status.
	Completed bool
	// XP is the signed XP moved by this toggle.
	XP int
}

// CompletionXP returns the XP granted for completing a habit whose streak before
// the completion was streak.
func CompletionXP(streak int) int {
	if streak < 0 {
		streak = 0
	}
	return BaseCompletionXP + streak*StreakBonusXP
}

// ToggleCompletion flips the completion status of habit for today.
//
// Completing continues the streak when yesterday is marked complete in the
// history and restarts it at 1 otherwise. The XP award scales with the streak
// held before the completion. Undoing steps the streak back by one and reverses
// exactly the XP that the completion being undone granted.
func ToggleCompletion(habit models.Habit, today string, now time.Time) (Completion, error) {
	yesterday, err := utils.PreviousDate(today)
	if err != nil {
		return Completion{}, err
	}
	day, err := utils.Weekday(today)
	if err != nil {
		return Completion{}, err
	}

	oldStreak := max(habit.Streak, 0)
	completing := !habit.IsCompleted

	update := models.HabitUpdate{
		IsCompleted:  completing,
		HistoryDate:  today,
		HistoryValue: completing,
	}

	var xp int
	if completing {
		if habit.CompletionHistory[yesterday] {
			update.Streak = oldStreak + 1
		} else {
			update.Streak = 1
		}
		xp = CompletionXP(oldStreak)
		completedAt := now
		update.LastCompletedAt = &completedAt
		update.LastAwardedXP = xp
	} else {
		update.Streak = max(0, oldStreak-1)
		xp = habit.LastAwardedXP
		if xp <= 0 {
			// No recorded award: assume it was granted at the streak held before it.
			xp = CompletionXP(update.Streak)
		}
		xp = -xp
	}
	update.Points = update.Streak * models.PointsPerCompletion

	next := habit
	next.CompletionHistory = habit.CompletionHistory.Clone()
	update.Apply(&next)

	delta := models.StatsDelta{
		XP:        xp,
		Points:    models.PointsPerCompletion,
		Completed: 1,
		Day:       day,
	}
	if !completing {
		delta.Points = -delta.Points
		delta.Completed = -delta.Completed
	}

	return Completion{
		Habit:     next,
		Update:    update,
		Delta:     delta,
		Completed: completing,
		XP:        xp,
	}, nil
}
