package progression

import (
	"github.com/jghoshh/habittree/backend/models"
	"github.com/jghoshh/habittree/lib/utils"
)

// ApplyDelta merges a habit-level delta into stats for a toggle made on today.
//
// Every increment is clamped so the resulting field cannot drop below zero; an
// undo larger than what is stored is truncated rather than rejected. On the first
// completion of a day the day-level streak is advanced: it continues when the
// last active day was yesterday and restarts at 1 after a gap. LongestStreak is
// kept at or above CurrentStreak on every write.
//
// The returned StatsUpdate carries the effective changes for the store to apply
// atomically; the returned Stats is the snapshot with that update applied.
func ApplyDelta(stats models.Stats, delta models.StatsDelta, today string) (models.Stats, models.StatsUpdate, error) {
	yesterday, err := utils.PreviousDate(today)
	if err != nil {
		return stats, models.StatsUpdate{}, err
	}

	update := models.StatsUpdate{
		XP:             clampDelta(stats.TotalXP, delta.XP),
		Points:         clampDelta(stats.TotalPoints, delta.Points),
		Completed:      clampDelta(stats.HabitsCompletedToday, delta.Completed),
		Day:            delta.Day,
		CurrentStreak:  max(stats.CurrentStreak, 0),
		LastActiveDate: stats.LastActiveDate,
		LastResetDate:  today,
	}
	if delta.Day >= 0 && int(delta.Day) < models.DaysInWeek {
		update.DayXP = clampDelta(stats.WeeklyXP[delta.Day], delta.XP)
	}

	before := max(stats.HabitsCompletedToday, 0)
	if before == 0 && before+update.Completed > 0 {
		switch stats.LastActiveDate {
		case today:
			update.CurrentStreak = max(update.CurrentStreak, 1)
		case yesterday:
			update.CurrentStreak++
		default:
			update.CurrentStreak = 1
		}
		update.LastActiveDate = today
	}
	update.LongestStreak = max(stats.LongestStreak, update.CurrentStreak)

	next := stats
	update.Apply(&next)
	return next, update, nil
}

// clampDelta returns the change that moves current by delta without going below zero.
func clampDelta(current, delta int) int {
	return max(current+delta, 0) - current
}

// Reconciliation is the outcome of checking a freshly read Stats record.
type Reconciliation struct {
	Stats    models.Stats
	Migrated bool
	Repaired bool
	Reset    bool
}

// Changed reports whether a corrective write is needed.
func (r Reconciliation) Changed() bool {
	return r.Migrated || r.Repaired || r.Reset
}

// Actions names the corrective steps taken, for logs and metrics.
func (r Reconciliation) Actions() []string {
	var actions []string
	if r.Migrated {
		actions = append(actions, "migrated")
	}
	if r.Repaired {
		actions = append(actions, "repaired")
	}
	if r.Reset {
		actions = append(actions, "reset")
	}
	return actions
}

// Reconcile prepares a stored Stats record for display on today.
//
// A record with a stale schema version is discarded and replaced with defaults;
// no further checks run on it. Otherwise negative counters are clamped to zero,
// LongestStreak is raised to CurrentStreak, and if the daily reset has not yet
// happened today HabitsCompletedToday is zeroed. Weekly and cumulative figures
// are left alone.
func Reconcile(stats models.Stats, today string) Reconciliation {
	if stats.SchemaVersion < models.CurrentSchemaVersion {
		fresh := models.DefaultStats(stats.UserID, today)
		fresh.TotalHabitsToday = max(stats.TotalHabitsToday, 0)
		return Reconciliation{Stats: fresh, Migrated: true}
	}

	r := Reconciliation{Stats: stats}
	s := &r.Stats
	for _, field := range []*int{
		&s.TotalXP, &s.TotalPoints, &s.CurrentStreak, &s.LongestStreak,
		&s.HabitsCompletedToday, &s.TotalHabitsToday, &s.HealthBarPercentage,
	} {
		if *field < 0 {
			*field = 0
			r.Repaired = true
		}
	}
	for day := range s.WeeklyXP {
		if s.WeeklyXP[day] < 0 {
			s.WeeklyXP[day] = 0
			r.Repaired = true
		}
	}
	if s.LongestStreak < s.CurrentStreak {
		s.LongestStreak = s.CurrentStreak
		r.Repaired = true
	}
	if s.HealthBarPercentage > 100 {
		s.HealthBarPercentage = 100
		r.Repaired = true
	}

	if s.LastResetDate != today {
		s.HabitsCompletedToday = 0
		s.HealthBarPercentage = models.HealthBar(0, s.TotalHabitsToday)
		s.LastResetDate = today
		r.Reset = true
	}
	return r
}

// RescanSummary is the stats view recomputed from a full scan of a user's daily habits.
type RescanSummary struct {
	TotalPoints         int `json:"total_points"`
	MaxStreak           int `json:"max_streak"`
	CompletedToday      int `json:"completed_today"`
	TotalHabits         int `json:"total_habits"`
	HealthBarPercentage int `json:"health_bar_percentage"`
}

// Drift is one field where the stored record disagrees with a rescan.
type Drift struct {
	Field     string `json:"field"`
	Stored    int    `json:"stored"`
	Rescanned int    `json:"rescanned"`
}

// Rescan recomputes the daily counters from habits. A habit counts as completed
// today only when it is marked completed and its history has today set.
func Rescan(habits []models.Habit, today string) RescanSummary {
	var sum RescanSummary
	for _, h := range habits {
		if h.Category != models.CategoryDaily {
			continue
		}
		sum.TotalHabits++
		sum.TotalPoints += max(h.Points, 0)
		sum.MaxStreak = max(sum.MaxStreak, h.Streak)
		if h.IsCompleted && h.CompletionHistory[today] {
			sum.CompletedToday++
		}
	}
	sum.HealthBarPercentage = models.HealthBar(sum.CompletedToday, sum.TotalHabits)
	return sum
}

// Drift lists the daily counters on which stats disagrees with the rescan.
func (s RescanSummary) Drift(stats models.Stats) []Drift {
	var drift []Drift
	check := func(field string, stored, rescanned int) {
		if stored != rescanned {
			drift = append(drift, Drift{Field: field, Stored: stored, Rescanned: rescanned})
		}
	}
	check("habits_completed_today", stats.HabitsCompletedToday, s.CompletedToday)
	check("total_habits_today", stats.TotalHabitsToday, s.TotalHabits)
	check("health_bar_percentage", stats.HealthBarPercentage, s.HealthBarPercentage)
	return drift
}
