package progression

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jghoshh/habittree/backend/models"
)

const today = "2024-01-10"

func TestApplyDeltaAddsAndRemoves(t *testing.T) {
	stats := models.DefaultStats("u1", today)
	stats.TotalHabitsToday = 2

	on, _, err := ApplyDelta(stats, models.StatsDelta{XP: 15, Points: 10, Completed: 1, Day: time.Wednesday}, today)
	require.NoError(t, err)
	assert.Equal(t, 15, on.TotalXP)
	assert.Equal(t, 10, on.TotalPoints)
	assert.Equal(t, 1, on.HabitsCompletedToday)
	assert.Equal(t, 15, on.WeeklyXP[time.Wednesday])
	assert.Equal(t, 50, on.HealthBarPercentage)
	assert.Equal(t, 1, on.CurrentStreak)
	assert.Equal(t, 1, on.LongestStreak)
	assert.Equal(t, today, on.LastActiveDate)

	off, _, err := ApplyDelta(on, models.StatsDelta{XP: -15, Points: -10, Completed: -1, Day: time.Wednesday}, today)
	require.NoError(t, err)
	assert.Equal(t, 0, off.TotalXP)
	assert.Equal(t, 0, off.TotalPoints)
	assert.Equal(t, 0, off.HabitsCompletedToday)
	assert.Equal(t, models.WeeklyXP{}, off.WeeklyXP)
	assert.Equal(t, 0, off.HealthBarPercentage)
}

func TestApplyDeltaClampsAtZero(t *testing.T) {
	stats := models.DefaultStats("u1", today)
	stats.TotalXP = 5
	stats.WeeklyXP[time.Wednesday] = 3

	next, update, err := ApplyDelta(stats, models.StatsDelta{XP: -40, Points: -10, Completed: -1, Day: time.Wednesday}, today)
	require.NoError(t, err)

	assert.Equal(t, -5, update.XP)
	assert.Equal(t, 0, update.Points)
	assert.Equal(t, 0, update.Completed)
	assert.Equal(t, -3, update.DayXP)
	assert.Equal(t, 0, next.TotalXP)
	assert.Equal(t, 0, next.WeeklyXP[time.Wednesday])
}

func TestApplyDeltaNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	stats := models.DefaultStats("u1", today)

	for i := 0; i < 5000; i++ {
		sign := 1
		if rng.Intn(2) == 0 {
			sign = -1
		}
		delta := models.StatsDelta{
			XP:        sign * rng.Intn(60),
			Points:    sign * 10,
			Completed: sign,
			Day:       time.Weekday(rng.Intn(models.DaysInWeek)),
		}
		next, _, err := ApplyDelta(stats, delta, today)
		require.NoError(t, err)

		require.GreaterOrEqual(t, next.TotalXP, 0)
		require.GreaterOrEqual(t, next.TotalPoints, 0)
		require.GreaterOrEqual(t, next.HabitsCompletedToday, 0)
		require.GreaterOrEqual(t, next.CurrentStreak, 0)
		require.GreaterOrEqual(t, next.LongestStreak, next.CurrentStreak)
		for _, xp := range next.WeeklyXP {
			require.GreaterOrEqual(t, xp, 0)
		}
		stats = next
	}
}

func TestApplyDeltaDayStreak(t *testing.T) {
	complete := models.StatsDelta{XP: 15, Points: 10, Completed: 1, Day: time.Wednesday}

	t.Run("continues from yesterday", func(t *testing.T) {
		stats := models.DefaultStats("u1", today)
		stats.CurrentStreak, stats.LongestStreak = 3, 3
		stats.LastActiveDate = "2024-01-09"

		next, _, err := ApplyDelta(stats, complete, today)
		require.NoError(t, err)
		assert.Equal(t, 4, next.CurrentStreak)
		assert.Equal(t, 4, next.LongestStreak)
	})

	t.Run("restarts after a gap", func(t *testing.T) {
		stats := models.DefaultStats("u1", today)
		stats.CurrentStreak, stats.LongestStreak = 6, 8
		stats.LastActiveDate = "2024-01-05"

		next, _, err := ApplyDelta(stats, complete, today)
		require.NoError(t, err)
		assert.Equal(t, 1, next.CurrentStreak)
		assert.Equal(t, 8, next.LongestStreak)
	})

	t.Run("same day redo keeps the streak", func(t *testing.T) {
		stats := models.DefaultStats("u1", today)
		stats.CurrentStreak, stats.LongestStreak = 2, 2
		stats.LastActiveDate = today

		next, _, err := ApplyDelta(stats, complete, today)
		require.NoError(t, err)
		assert.Equal(t, 2, next.CurrentStreak)
	})

	t.Run("only the first completion of the day counts", func(t *testing.T) {
		stats := models.DefaultStats("u1", today)
		stats.HabitsCompletedToday = 1
		stats.CurrentStreak, stats.LongestStreak = 2, 2
		stats.LastActiveDate = "2024-01-09"

		next, _, err := ApplyDelta(stats, complete, today)
		require.NoError(t, err)
		assert.Equal(t, 2, next.CurrentStreak)
		assert.Equal(t, "2024-01-09", next.LastActiveDate)
	})
}

func TestReconcileMigratesStaleSchema(t *testing.T) {
	stats := models.Stats{
		UserID:           "u1",
		TotalXP:          900,
		CurrentStreak:    4,
		TotalHabitsToday: 3,
		WeeklyXP:         models.WeeklyXP{1, 2, 3},
		SchemaVersion:    1,
	}

	r := Reconcile(stats, today)

	assert.True(t, r.Migrated)
	assert.False(t, r.Repaired)
	assert.False(t, r.Reset)
	assert.Equal(t, []string{"migrated"}, r.Actions())
	assert.Equal(t, 0, r.Stats.TotalXP)
	assert.Equal(t, models.WeeklyXP{}, r.Stats.WeeklyXP)
	assert.Equal(t, 3, r.Stats.TotalHabitsToday)
	assert.Equal(t, models.CurrentSchemaVersion, r.Stats.SchemaVersion)
	assert.Equal(t, today, r.Stats.LastResetDate)
}

func TestReconcileRepairsNegatives(t *testing.T) {
	stats := models.DefaultStats("u1", today)
	stats.TotalXP = -20
	stats.TotalPoints = -10
	stats.CurrentStreak = 5
	stats.LongestStreak = 2
	stats.HabitsCompletedToday = -1
	stats.WeeklyXP[2] = -7

	r := Reconcile(stats, today)

	assert.True(t, r.Repaired)
	assert.False(t, r.Reset)
	assert.Equal(t, 0, r.Stats.TotalXP)
	assert.Equal(t, 0, r.Stats.TotalPoints)
	assert.Equal(t, 0, r.Stats.HabitsCompletedToday)
	assert.Equal(t, 0, r.Stats.WeeklyXP[2])
	assert.Equal(t, 5, r.Stats.LongestStreak)
}

func TestReconcileDailyResetIsIdempotent(t *testing.T) {
	stats := models.DefaultStats("u1", "2024-01-09")
	stats.HabitsCompletedToday = 3
	stats.TotalHabitsToday = 4
	stats.HealthBarPercentage = 75
	stats.TotalXP = 120
	stats.TotalPoints = 30
	stats.WeeklyXP[time.Tuesday] = 60

	first := Reconcile(stats, today)
	require.True(t, first.Reset)
	assert.Equal(t, 0, first.Stats.HabitsCompletedToday)
	assert.Equal(t, 0, first.Stats.HealthBarPercentage)
	assert.Equal(t, today, first.Stats.LastResetDate)
	assert.Equal(t, 120, first.Stats.TotalXP)
	assert.Equal(t, 30, first.Stats.TotalPoints)
	assert.Equal(t, 60, first.Stats.WeeklyXP[time.Tuesday])

	second := Reconcile(first.Stats, today)
	assert.False(t, second.Changed())
	assert.Equal(t, first.Stats, second.Stats)
}

func TestRescan(t *testing.T) {
	habits := []models.Habit{
		{Category: models.CategoryDaily, IsCompleted: true, Streak: 3, Points: 30, CompletionHistory: models.History{today: true}},
		{Category: models.CategoryDaily, IsCompleted: true, Streak: 1, Points: 10, CompletionHistory: models.History{"2024-01-09": true}},
		{Category: models.CategoryDaily, Streak: 6, Points: 60},
		{Category: models.CategoryWeekly, IsCompleted: true, Streak: 9, Points: 90, CompletionHistory: models.History{today: true}},
	}

	sum := Rescan(habits, today)

	assert.Equal(t, RescanSummary{
		TotalPoints:         100,
		MaxStreak:           6,
		CompletedToday:      1,
		TotalHabits:         3,
		HealthBarPercentage: 33,
	}, sum)

	stats := models.DefaultStats("u1", today)
	stats.TotalHabitsToday = 3
	stats.HabitsCompletedToday = 2
	stats.HealthBarPercentage = 67

	drift := sum.Drift(stats)
	assert.Equal(t, []Drift{
		{Field: "habits_completed_today", Stored: 2, Rescanned: 1},
		{Field: "health_bar_percentage", Stored: 67, Rescanned: 33},
	}, drift)
}
