package persistent

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jghoshh/habittree/backend/models"
)

var (
	testUser1 = "user-1"
	testUser2 = "user-2"
	testToday = "2024-01-10"
)

func newTestHabit(userID, title string, category models.Category) *models.Habit {
	return &models.Habit{
		UserID:    userID,
		Title:     title,
		Category:  category,
		CreatedAt: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestMemoryAddAndFindHabit(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	habit, err := store.AddHabit(ctx, newTestHabit(testUser1, "Read", models.CategoryDaily))
	require.NoError(t, err)
	assert.False(t, habit.ID.IsZero())

	found, err := store.FindHabit(ctx, testUser1, habit.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "Read", found.Title)
	assert.NotNil(t, found.CompletionHistory)

	_, err = store.FindHabit(ctx, testUser2, habit.ID.Hex())
	assert.True(t, errors.Is(err, ErrNotFound), "habits are scoped to their owner")

	_, err = store.FindHabit(ctx, testUser1, "not-an-id")
	assert.True(t, errors.Is(err, ErrInvalidID))
}

func TestMemoryDuplicateTitle(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	_, err := store.AddHabit(ctx, newTestHabit(testUser1, "Read", models.CategoryDaily))
	require.NoError(t, err)

	_, err = store.AddHabit(ctx, newTestHabit(testUser1, "Read", models.CategoryWeekly))
	assert.True(t, errors.Is(err, ErrDuplicate))

	_, err = store.AddHabit(ctx, newTestHabit(testUser2, "Read", models.CategoryDaily))
	assert.NoError(t, err, "another user may reuse the title")
}

func TestMemoryFindHabitsFiltersAndSorts(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	late := newTestHabit(testUser1, "Late", models.CategoryDaily)
	late.CreatedAt = late.CreatedAt.Add(time.Hour)
	_, err := store.AddHabit(ctx, late)
	require.NoError(t, err)
	_, err = store.AddHabit(ctx, newTestHabit(testUser1, "Early", models.CategoryDaily))
	require.NoError(t, err)
	_, err = store.AddHabit(ctx, newTestHabit(testUser1, "Weekly", models.CategoryWeekly))
	require.NoError(t, err)

	daily, err := store.FindHabits(ctx, testUser1, models.CategoryDaily)
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, "Early", daily[0].Title)
	assert.Equal(t, "Late", daily[1].Title)

	all, err := store.FindHabits(ctx, testUser1, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := store.FindHabits(ctx, testUser2, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryHabitHistoryIsCopied(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	habit, err := store.AddHabit(ctx, newTestHabit(testUser1, "Read", models.CategoryDaily))
	require.NoError(t, err)

	found, err := store.FindHabit(ctx, testUser1, habit.ID.Hex())
	require.NoError(t, err)
	found.CompletionHistory["2024-01-01"] = true

	again, err := store.FindHabit(ctx, testUser1, habit.ID.Hex())
	require.NoError(t, err)
	assert.Empty(t, again.CompletionHistory)

	_, err = store.SetHabitHistory(ctx, testUser1, habit.ID.Hex(), "2024-01-02", true)
	require.NoError(t, err)
	_, err = store.UpdateHabit(ctx, testUser1, habit.ID.Hex(), models.HabitUpdate{
		IsCompleted: true, Streak: 2, Points: 20, HistoryDate: "2024-01-03", HistoryValue: true,
	})
	require.NoError(t, err)

	again, err = store.FindHabit(ctx, testUser1, habit.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.History{"2024-01-02": true, "2024-01-03": true}, again.CompletionHistory)
	assert.Equal(t, 2, again.Streak)
}

func TestMemoryDeleteHabit(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	habit, err := store.AddHabit(ctx, newTestHabit(testUser1, "Read", models.CategoryDaily))
	require.NoError(t, err)

	_, err = store.DeleteHabit(ctx, testUser2, habit.ID.Hex())
	assert.True(t, errors.Is(err, ErrNotFound))

	result, err := store.DeleteHabit(ctx, testUser1, habit.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.DeletedCount)

	_, err = store.DeleteHabit(ctx, testUser1, habit.ID.Hex())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryCreateStatsOnlyOnce(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	stats := models.DefaultStats(testUser1, testToday)
	created, err := store.CreateStats(ctx, &stats)
	require.NoError(t, err)
	assert.True(t, created)

	stats.TotalXP = 500
	created, err = store.CreateStats(ctx, &stats)
	require.NoError(t, err)
	assert.False(t, created)

	found, legacy, err := store.FindStats(ctx, testUser1)
	require.NoError(t, err)
	assert.False(t, legacy)
	assert.Equal(t, 0, found.TotalXP)
}

func TestMemoryApplyStatsUpdateClamps(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.AdjustHabitCount(ctx, testUser1, 2))
	require.NoError(t, store.ApplyStatsUpdate(ctx, testUser1, models.StatsUpdate{
		XP: 15, Points: 10, Completed: 1, Day: time.Wednesday, DayXP: 15,
		CurrentStreak: 1, LongestStreak: 1, LastActiveDate: testToday, LastResetDate: testToday,
	}))

	stats, _, err := store.FindStats(ctx, testUser1)
	require.NoError(t, err)
	assert.Equal(t, 15, stats.TotalXP)
	assert.Equal(t, 15, stats.WeeklyXP[time.Wednesday])
	assert.Equal(t, 50, stats.HealthBarPercentage)
	assert.Equal(t, models.CurrentSchemaVersion, stats.SchemaVersion)

	// An update computed from a stale snapshot still cannot go negative.
	require.NoError(t, store.ApplyStatsUpdate(ctx, testUser1, models.StatsUpdate{
		XP: -40, Points: -30, Completed: -3, Day: time.Wednesday, DayXP: -40,
		LastActiveDate: testToday, LastResetDate: testToday,
	}))
	stats, _, err = store.FindStats(ctx, testUser1)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalXP)
	assert.Equal(t, 0, stats.TotalPoints)
	assert.Equal(t, 0, stats.HabitsCompletedToday)
	assert.Equal(t, 0, stats.WeeklyXP[time.Wednesday])
	assert.Equal(t, 1, stats.LongestStreak)

	require.NoError(t, store.AdjustHabitCount(ctx, testUser1, -5))
	stats, _, err = store.FindStats(ctx, testUser1)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalHabitsToday)
}

func TestMemoryResetStatsDayIsIdempotent(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	stats := models.DefaultStats(testUser1, "2024-01-09")
	stats.HabitsCompletedToday = 2
	stats.TotalHabitsToday = 3
	_, err := store.CreateStats(ctx, &stats)
	require.NoError(t, err)

	reset, err := store.ResetStatsDay(ctx, testUser1, testToday)
	require.NoError(t, err)
	assert.True(t, reset)

	reset, err = store.ResetStatsDay(ctx, testUser1, testToday)
	require.NoError(t, err)
	assert.False(t, reset)

	found, _, err := store.FindStats(ctx, testUser1)
	require.NoError(t, err)
	assert.Equal(t, 0, found.HabitsCompletedToday)
	assert.Equal(t, 3, found.TotalHabitsToday)
	assert.Equal(t, testToday, found.LastResetDate)
}

func TestMemoryMigrateAndRepairStats(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	old := models.Stats{UserID: testUser1, TotalXP: -5, CurrentStreak: 4, LongestStreak: 1, SchemaVersion: 1}
	_, err := store.CreateStats(ctx, &old)
	require.NoError(t, err)

	require.NoError(t, store.RepairStats(ctx, testUser1))
	found, _, err := store.FindStats(ctx, testUser1)
	require.NoError(t, err)
	assert.Equal(t, 0, found.TotalXP)
	assert.Equal(t, 4, found.LongestStreak)

	fresh := models.DefaultStats(testUser1, testToday)
	migrated, err := store.MigrateStats(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, migrated)

	migrated, err = store.MigrateStats(ctx, fresh)
	require.NoError(t, err)
	assert.False(t, migrated, "a current record is not replaced again")
}

func TestMemoryWatchStats(t *testing.T) {
	store := NewMemoryStorage()
	ctx, cancel := context.WithCancel(context.Background())

	updates, err := store.WatchStats(ctx, testUser1)
	require.NoError(t, err)

	require.NoError(t, store.AdjustHabitCount(context.Background(), testUser2, 1))
	require.NoError(t, store.AdjustHabitCount(context.Background(), testUser1, 1))

	select {
	case stats := <-updates:
		assert.Equal(t, testUser1, stats.UserID)
		assert.Equal(t, 1, stats.TotalHabitsToday)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
