package persistent

import (
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jghoshh/habittree/backend/models"
)

// weekdayKeys are the object keys older clients used for weekly_xp.
var weekdayKeys = map[string]int{
	"sun": 0, "sunday": 0,
	"mon": 1, "monday": 1,
	"tue": 2, "tuesday": 2,
	"wed": 3, "wednesday": 3,
	"thu": 4, "thursday": 4,
	"fri": 5, "friday": 5,
	"sat": 6, "saturday": 6,
}

// decodeStats converts a raw stats document into the canonical Stats type.
// Older writers stored weekly_xp as an object keyed by day index or day name,
// arrays of the wrong length, and numbers as strings; all of those are
// normalized here and reported through the legacy flag so the caller can
// rewrite the document.
func decodeStats(raw map[string]interface{}) (models.Stats, bool) {
	var stats models.Stats
	legacy := false

	intField := func(key string) int {
		v, canonical := toInt(raw[key])
		if !canonical {
			legacy = true
		}
		return v
	}

	if id, ok := raw["_id"].(string); ok {
		stats.UserID = id
	}
	stats.TotalXP = intField("total_xp")
	stats.TotalPoints = intField("total_points")
	stats.CurrentStreak = intField("current_streak")
	stats.LongestStreak = intField("longest_streak")
	stats.HabitsCompletedToday = intField("habits_completed_today")
	stats.TotalHabitsToday = intField("total_habits_today")
	stats.HealthBarPercentage = intField("health_bar_percentage")
	stats.SchemaVersion = intField("schema_version")
	stats.LastResetDate, _ = raw["last_reset_date"].(string)
	stats.LastActiveDate, _ = raw["last_active_date"].(string)

	switch v := raw["updated_at"].(type) {
	case primitive.DateTime:
		stats.UpdatedAt = v.Time().UTC()
	case time.Time:
		stats.UpdatedAt = v.UTC()
	}

	weekly, canonical := decodeWeeklyXP(raw["weekly_xp"])
	stats.WeeklyXP = weekly
	if !canonical {
		legacy = true
	}

	return stats, legacy
}

func decodeWeeklyXP(v interface{}) (models.WeeklyXP, bool) {
	var weekly models.WeeklyXP
	switch days := v.(type) {
	case nil:
		return weekly, true
	case primitive.A:
		return decodeWeeklyArray([]interface{}(days))
	case []interface{}:
		return decodeWeeklyArray(days)
	case primitive.M:
		return decodeWeeklyObject(map[string]interface{}(days)), false
	case map[string]interface{}:
		return decodeWeeklyObject(days), false
	case primitive.D:
		return decodeWeeklyObject(days.Map()), false
	default:
		return weekly, false
	}
}

func decodeWeeklyArray(days []interface{}) (models.WeeklyXP, bool) {
	var weekly models.WeeklyXP
	canonical := len(days) == models.DaysInWeek
	for i, d := range days {
		if i >= models.DaysInWeek {
			break
		}
		xp, ok := toInt(d)
		if !ok {
			canonical = false
		}
		weekly[i] = xp
	}
	return weekly, canonical
}

func decodeWeeklyObject(days map[string]interface{}) models.WeeklyXP {
	var weekly models.WeeklyXP
	for key, d := range days {
		idx, err := strconv.Atoi(key)
		if err != nil {
			var ok bool
			idx, ok = weekdayKeys[strings.ToLower(key)]
			if !ok {
				continue
			}
		}
		if idx < 0 || idx >= models.DaysInWeek {
			continue
		}
		weekly[idx], _ = toInt(d)
	}
	return weekly
}

// toInt reads a numeric document value. The second result is false when the
// value was stored in a non-numeric or fractional form.
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(math.Floor(n)), n == math.Floor(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return int(math.Floor(f)), false
	case bool:
		if n {
			return 1, false
		}
		return 0, false
	default:
		return 0, false
	}
}
