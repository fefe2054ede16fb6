// Package progression holds the pure gamification rules: level math, the
// per-habit completion toggle, the Stats reducer and read-time reconciliation.
// Nothing in this package performs I/O.
package progression

import (
	"math"
	"math/big"

	"github.com/jghoshh/habittree/backend/models"
)

// exactLevelLimit is the largest level whose 10000*level^3 fits in an int64.
const exactLevelLimit = 97000

// MaxLevel is the highest level an XP total resolves to. Reaching it takes more than
// 10^14 XP; anything beyond stays at MaxLevel with a full progress bar.
const MaxLevel = exactLevelLimit

// LevelProgress is how far a total XP value has advanced into its current level.
type LevelProgress struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// Progress bundles everything the display needs from a raw XP counter.
type Progress struct {
	Level     int              `json:"level"`
	TreeStage models.TreeStage `json:"tree_stage"`
	Progress  LevelProgress    `json:"progress"`
}

// XPRequiredForLevel returns the XP needed to advance from level to level+1,
// floor(100 * level^1.5). Levels below 1 are treated as 1.
func XPRequiredForLevel(level int) int {
	if level < 1 {
		level = 1
	}
	// 100 * l^1.5 == sqrt(10000 * l^3), so the floor is an integer square root.
	if level <= exactLevelLimit {
		l := int64(level)
		return int(isqrt(10000 * l * l * l))
	}
	n := big.NewInt(int64(level))
	n.Mul(n, n).Mul(n, big.NewInt(int64(level))).Mul(n, big.NewInt(10000))
	return int(n.Sqrt(n).Int64())
}

// CumulativeXPToReachLevel returns the total XP at which level begins. Levels above
// MaxLevel are treated as MaxLevel.
func CumulativeXPToReachLevel(level int) int {
	level = min(level, MaxLevel)
	total := 0
	for l := 1; l < level; l++ {
		total += XPRequiredForLevel(l)
	}
	return total
}

// LevelFromTotalXP returns the largest level whose cumulative threshold is <= totalXP.
func LevelFromTotalXP(totalXP int) int {
	level, _ := levelAndFloor(totalXP)
	return level
}

// XPProgressWithinLevel reports the XP earned inside the current level and the size of that level.
func XPProgressWithinLevel(totalXP int) LevelProgress {
	if totalXP < 0 {
		totalXP = 0
	}
	level, floor := levelAndFloor(totalXP)
	size := XPRequiredForLevel(level)
	return LevelProgress{
		Current: min(totalXP-floor, size),
		Max:     size,
	}
}

// TreeStageFromLevel classifies level into its growth phase.
func TreeStageFromLevel(level int) models.TreeStage {
	switch {
	case level <= 5:
		return models.StageSeed
	case level <= 15:
		return models.StageSprout
	case level <= 30:
		return models.StageSapling
	case level <= 50:
		return models.StageTree
	default:
		return models.StageMighty
	}
}

// Describe derives level, stage and in-level progress from totalXP.
func Describe(totalXP int) Progress {
	level := LevelFromTotalXP(totalXP)
	return Progress{
		Level:     level,
		TreeStage: TreeStageFromLevel(level),
		Progress:  XPProgressWithinLevel(totalXP),
	}
}

// levelAndFloor walks the level table accumulating costs and returns the level
// reached by totalXP together with the cumulative XP at which it starts. floor never
// exceeds totalXP, so totalXP-floor cannot overflow.
func levelAndFloor(totalXP int) (int, int) {
	level, floor := 1, 0
	for level < MaxLevel {
		next := XPRequiredForLevel(level)
		if next > totalXP-floor {
			return level, floor
		}
		floor += next
		level++
	}
	return level, floor
}

func isqrt(n int64) int64 {
	if n <= 0 {
		return 0
	}
	r := int64(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}
