package models

import (
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CurrentSchemaVersion is the version stamped on every Stats record.
// Records carrying an older version are reset to defaults when they are read.
const CurrentSchemaVersion = 2

// DaysInWeek is the number of slots in WeeklyXP.
const DaysInWeek = 7

// PointsPerCompletion is the display score granted per streak period.
const PointsPerCompletion = 10

// Category is how often a habit is expected to be completed.
type Category string

const (
	CategoryDaily   Category = "daily"
	CategoryWeekly  Category = "weekly"
	CategoryMonthly Category = "monthly"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryDaily, CategoryWeekly, CategoryMonthly:
		return true
	}
	return false
}

// TreeStage is the cosmetic growth phase derived from an account level.
type TreeStage string

const (
	StageSeed    TreeStage = "seed"
	StageSprout  TreeStage = "sprout"
	StageSapling TreeStage = "sapling"
	StageTree    TreeStage = "tree"
	StageMighty  TreeStage = "mighty"
)

// History maps a calendar date (YYYY-MM-DD) to whether the habit was completed on it.
// Dates are only ever added or overwritten.
type History map[string]bool

// Dates returns the recorded dates in ascending order.
func (h History) Dates() []string {
	dates := make([]string, 0, len(h))
	for d := range h {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Clone returns an independent copy of h.
func (h History) Clone() History {
	out := make(History, len(h))
	for d, v := range h {
		out[d] = v
	}
	return out
}

type Habit struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID            string             `bson:"user_id" json:"user_id"`
	Title             string             `bson:"title" json:"title"`
	Description       string             `bson:"description" json:"description"`
	Category          Category           `bson:"category" json:"category"`
	Color             string             `bson:"color" json:"color"`
	CreatedAt         time.Time          `bson:"created_at" json:"created_at"`
	IsCompleted       bool               `bson:"is_completed" json:"is_completed"`
	Streak            int                `bson:"streak" json:"streak"`
	Points            int                `bson:"points" json:"points"`
	LastCompletedAt   *time.Time         `bson:"last_completed_at" json:"last_completed_at"`
	LastAwardedXP     int                `bson:"last_awarded_xp" json:"last_awarded_xp"`
	CompletionHistory History            `bson:"completion_history" json:"completion_history"`
}

// HabitUpdate is the set of progression fields written by a completion toggle.
// HistoryDate/HistoryValue is written as a single key of the completion history.
type HabitUpdate struct {
	IsCompleted     bool
	Streak          int
	Points          int
	LastCompletedAt *time.Time
	LastAwardedXP   int
	HistoryDate     string
	HistoryValue    bool
}

// Apply writes the update onto h.
func (u HabitUpdate) Apply(h *Habit) {
	h.IsCompleted = u.IsCompleted
	h.Streak = u.Streak
	h.Points = u.Points
	h.LastCompletedAt = u.LastCompletedAt
	h.LastAwardedXP = u.LastAwardedXP
	if u.HistoryDate != "" {
		if h.CompletionHistory == nil {
			h.CompletionHistory = History{}
		}
		h.CompletionHistory[u.HistoryDate] = u.HistoryValue
	}
}

// WeeklyXP holds the XP earned per day of the week, indexed by time.Weekday (0 = Sunday).
type WeeklyXP [DaysInWeek]int

// Total returns the sum of all seven days.
func (w WeeklyXP) Total() int {
	total := 0
	for _, xp := range w {
		total += xp
	}
	return total
}

// Stats is the per-user aggregate counter record.
type Stats struct {
	UserID               string    `bson:"_id" json:"user_id"`
	TotalXP              int       `bson:"total_xp" json:"total_xp"`
	TotalPoints          int       `bson:"total_points" json:"total_points"`
	CurrentStreak        int       `bson:"current_streak" json:"current_streak"`
	LongestStreak        int       `bson:"longest_streak" json:"longest_streak"`
	HabitsCompletedToday int       `bson:"habits_completed_today" json:"habits_completed_today"`
	TotalHabitsToday     int       `bson:"total_habits_today" json:"total_habits_today"`
	HealthBarPercentage  int       `bson:"health_bar_percentage" json:"health_bar_percentage"`
	WeeklyXP             WeeklyXP  `bson:"weekly_xp" json:"weekly_xp"`
	LastResetDate        string    `bson:"last_reset_date" json:"last_reset_date"`
	LastActiveDate       string    `bson:"last_active_date" json:"last_active_date"`
	SchemaVersion        int       `bson:"schema_version" json:"schema_version"`
	UpdatedAt            time.Time `bson:"updated_at" json:"updated_at"`
}

// DefaultStats returns a zeroed record for userID stamped with the current schema version.
func DefaultStats(userID, today string) Stats {
	return Stats{
		UserID:        userID,
		LastResetDate: today,
		SchemaVersion: CurrentSchemaVersion,
	}
}

// HealthBar returns the share of today's habits that are completed, as a whole percentage in [0, 100].
func HealthBar(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	return (completed*200 + total) / (total * 2)
}

// StatsDelta is a habit-level change to be merged into Stats.
type StatsDelta struct {
	XP        int
	Points    int
	Completed int
	Day       time.Weekday
}

// StatsUpdate is an already clamped change to a Stats record.
// The increments are relative to the snapshot the update was computed from; stores
// clamp each field at zero again when applying them so a concurrent writer can
// never drive a counter negative. The remaining fields are set verbatim.
type StatsUpdate struct {
	XP             int
	Points         int
	Completed      int
	Day            time.Weekday
	DayXP          int
	CurrentStreak  int
	LongestStreak  int
	LastActiveDate string
	LastResetDate  string
}

// Apply merges u into s with the same semantics the document stores use.
func (u StatsUpdate) Apply(s *Stats) {
	s.TotalXP = floorZero(s.TotalXP + u.XP)
	s.TotalPoints = floorZero(s.TotalPoints + u.Points)
	s.HabitsCompletedToday = floorZero(s.HabitsCompletedToday + u.Completed)
	if u.Day >= 0 && int(u.Day) < DaysInWeek {
		s.WeeklyXP[u.Day] = floorZero(s.WeeklyXP[u.Day] + u.DayXP)
	}
	s.CurrentStreak = floorZero(u.CurrentStreak)
	s.LongestStreak = max(s.LongestStreak, u.LongestStreak, s.CurrentStreak)
	s.LastActiveDate = u.LastActiveDate
	s.LastResetDate = u.LastResetDate
	s.HealthBarPercentage = HealthBar(s.HabitsCompletedToday, s.TotalHabitsToday)
	if s.SchemaVersion == 0 {
		s.SchemaVersion = CurrentSchemaVersion
	}
}

func floorZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// ProgressEvent announces a user's progression after a completion toggle.
type ProgressEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	TotalXP    int       `json:"total_xp"`
	Level      int       `json:"level"`
	TreeStage  TreeStage `json:"tree_stage"`
	OccurredAt time.Time `json:"occurred_at"`
}

// LeaderboardEntry is one ranked row of a friends leaderboard.
type LeaderboardEntry struct {
	UserID        string    `json:"user_id"`
	Level         int       `json:"level"`
	TotalXP       int       `json:"total_xp"`
	TreeStage     TreeStage `json:"tree_stage"`
	Rank          int       `json:"rank"`
	IsCurrentUser bool      `json:"is_current_user"`
}
