package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jghoshh/habittree/backend/models"
)

var toggleNow = time.Date(2024, 1, 10, 8, 30, 0, 0, time.UTC)

func TestToggleCompletionFreshHabit(t *testing.T) {
	habit := models.Habit{Title: "Read", Category: models.CategoryDaily}

	on, err := ToggleCompletion(habit, "2024-01-10", toggleNow)
	require.NoError(t, err)

	assert.True(t, on.Completed)
	assert.Equal(t, 1, on.Habit.Streak)
	assert.Equal(t, 10, on.Habit.Points)
	assert.Equal(t, 15, on.XP)
	assert.Equal(t, 15, on.Habit.LastAwardedXP)
	assert.True(t, on.Habit.CompletionHistory["2024-01-10"])
	require.NotNil(t, on.Habit.LastCompletedAt)
	assert.Equal(t, toggleNow, *on.Habit.LastCompletedAt)
	assert.Equal(t, models.StatsDelta{XP: 15, Points: 10, Completed: 1, Day: time.Wednesday}, on.Delta)
	assert.Nil(t, habit.CompletionHistory, "input habit must not be mutated")

	off, err := ToggleCompletion(on.Habit, "2024-01-10", toggleNow)
	require.NoError(t, err)

	assert.False(t, off.Completed)
	assert.Equal(t, 0, off.Habit.Streak)
	assert.Equal(t, 0, off.Habit.Points)
	assert.Equal(t, -15, off.XP)
	assert.Nil(t, off.Habit.LastCompletedAt)
	assert.Equal(t, 0, off.Habit.LastAwardedXP)
	assert.False(t, off.Habit.CompletionHistory["2024-01-10"])
	assert.Contains(t, off.Habit.CompletionHistory, "2024-01-10", "history keeps the date")
	assert.Equal(t, models.StatsDelta{XP: -15, Points: -10, Completed: -1, Day: time.Wednesday}, off.Delta)
}

func TestToggleCompletionContinuesStreakFromYesterday(t *testing.T) {
	habit := models.Habit{
		Streak:            4,
		Points:            40,
		CompletionHistory: models.History{"2024-01-09": true},
	}

	c, err := ToggleCompletion(habit, "2024-01-10", toggleNow)
	require.NoError(t, err)

	assert.Equal(t, 5, c.Habit.Streak)
	assert.Equal(t, 50, c.Habit.Points)
	assert.Equal(t, 15+4*2, c.XP, "bonus uses the streak held before completing")
}

func TestToggleCompletionRestartsStreakAfterGap(t *testing.T) {
	for name, history := range map[string]models.History{
		"absent":    {"2024-01-07": true},
		"false":     {"2024-01-09": false},
		"no ledger": nil,
	} {
		t.Run(name, func(t *testing.T) {
			habit := models.Habit{Streak: 9, Points: 90, CompletionHistory: history}

			c, err := ToggleCompletion(habit, "2024-01-10", toggleNow)
			require.NoError(t, err)

			assert.Equal(t, 1, c.Habit.Streak)
			assert.Equal(t, 10, c.Habit.Points)
			assert.Equal(t, 15+9*2, c.XP)
		})
	}
}

func TestToggleCompletionUndoReversesRecordedAward(t *testing.T) {
	habit := models.Habit{
		Streak:            9,
		CompletionHistory: models.History{"2024-01-08": true},
	}
	on, err := ToggleCompletion(habit, "2024-01-10", toggleNow)
	require.NoError(t, err)
	require.Equal(t, 33, on.XP)

	off, err := ToggleCompletion(on.Habit, "2024-01-10", toggleNow)
	require.NoError(t, err)
	assert.Equal(t, -33, off.XP)
}

func TestToggleCompletionUndoWithoutRecordedAward(t *testing.T) {
	habit := models.Habit{IsCompleted: true, Streak: 3, Points: 30}

	c, err := ToggleCompletion(habit, "2024-01-10", toggleNow)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Habit.Streak)
	assert.Equal(t, 20, c.Habit.Points)
	assert.Equal(t, -(15 + 2*2), c.XP)
}

func TestToggleCompletionUndoNeverGoesNegative(t *testing.T) {
	habit := models.Habit{IsCompleted: true, Streak: 0}

	c, err := ToggleCompletion(habit, "2024-01-10", toggleNow)
	require.NoError(t, err)

	assert.Equal(t, 0, c.Habit.Streak)
	assert.Equal(t, 0, c.Habit.Points)
}

func TestToggleCompletionRejectsBadDate(t *testing.T) {
	_, err := ToggleCompletion(models.Habit{}, "10/01/2024", toggleNow)
	assert.ErrorIs(t, err, ErrInvalidDate)
}
