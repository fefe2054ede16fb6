package progression

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jghoshh/habittree/backend/models"
)

func TestXPRequiredForLevel(t *testing.T) {
	assert.Equal(t, 100, XPRequiredForLevel(1))
	assert.Equal(t, 282, XPRequiredForLevel(2))
	assert.Equal(t, 519, XPRequiredForLevel(3))
	assert.Equal(t, 800, XPRequiredForLevel(4))
	assert.Equal(t, 2700, XPRequiredForLevel(9))
	assert.Equal(t, 100, XPRequiredForLevel(0), "levels below 1 cost the same as level 1")

	prev := 0
	for level := 1; level <= 500; level++ {
		cost := XPRequiredForLevel(level)
		require.Greater(t, cost, prev, "level %d", level)
		prev = cost
	}
}

func TestXPRequiredForLevelBeyondExactLimit(t *testing.T) {
	below := XPRequiredForLevel(exactLevelLimit)
	above := XPRequiredForLevel(exactLevelLimit + 1)
	assert.Greater(t, above, below)
}

func TestCumulativeXPToReachLevel(t *testing.T) {
	assert.Equal(t, 0, CumulativeXPToReachLevel(1))
	assert.Equal(t, 100, CumulativeXPToReachLevel(2))
	assert.Equal(t, 382, CumulativeXPToReachLevel(3))
	assert.Equal(t, 901, CumulativeXPToReachLevel(4))
}

func TestLevelFromTotalXP(t *testing.T) {
	assert.Equal(t, 1, LevelFromTotalXP(0))
	assert.Equal(t, 1, LevelFromTotalXP(99))
	assert.Equal(t, 2, LevelFromTotalXP(100))
	assert.Equal(t, 2, LevelFromTotalXP(381))
	assert.Equal(t, 3, LevelFromTotalXP(382))
	assert.Equal(t, 1, LevelFromTotalXP(-50))
}

func TestLevelFromTotalXPIsMonotonic(t *testing.T) {
	prev := LevelFromTotalXP(0)
	for xp := 1; xp <= 60000; xp += 7 {
		level := LevelFromTotalXP(xp)
		require.GreaterOrEqual(t, level, prev, "xp %d", xp)
		prev = level
	}
}

func TestLevelBoundariesAgreeWithCumulativeXP(t *testing.T) {
	for level := 1; level <= 120; level++ {
		floor := CumulativeXPToReachLevel(level)
		require.Equal(t, level, LevelFromTotalXP(floor), "level %d", level)
		if level > 1 {
			require.Equal(t, level-1, LevelFromTotalXP(floor-1), "level %d", level)
		}
	}
}

func TestXPProgressWithinLevel(t *testing.T) {
	assert.Equal(t, LevelProgress{Current: 0, Max: 100}, XPProgressWithinLevel(0))
	assert.Equal(t, LevelProgress{Current: 15, Max: 100}, XPProgressWithinLevel(15))
	assert.Equal(t, LevelProgress{Current: 0, Max: 282}, XPProgressWithinLevel(100))
	assert.Equal(t, LevelProgress{Current: 0, Max: 100}, XPProgressWithinLevel(-3))

	for xp := 0; xp <= 50000; xp += 13 {
		p := XPProgressWithinLevel(xp)
		require.GreaterOrEqual(t, p.Current, 0, "xp %d", xp)
		require.Less(t, p.Current, p.Max, "xp %d", xp)
	}
}

func TestTreeStageFromLevel(t *testing.T) {
	cases := map[int]models.TreeStage{
		1:  models.StageSeed,
		5:  models.StageSeed,
		6:  models.StageSprout,
		15: models.StageSprout,
		16: models.StageSapling,
		30: models.StageSapling,
		31: models.StageTree,
		50: models.StageTree,
		51: models.StageMighty,
		99: models.StageMighty,
	}
	for level, want := range cases {
		assert.Equal(t, want, TreeStageFromLevel(level), "level %d", level)
	}
}

func TestDescribe(t *testing.T) {
	p := Describe(CumulativeXPToReachLevel(6) + 40)
	assert.Equal(t, 6, p.Level)
	assert.Equal(t, models.StageSprout, p.TreeStage)
	assert.Equal(t, 40, p.Progress.Current)
	assert.Equal(t, XPRequiredForLevel(6), p.Progress.Max)
}

func TestLevelMathAtMaximumXP(t *testing.T) {
	top := CumulativeXPToReachLevel(MaxLevel)
	require.Greater(t, top, 0)

	assert.Equal(t, MaxLevel-1, LevelFromTotalXP(top-1))
	assert.Equal(t, MaxLevel, LevelFromTotalXP(top))
	assert.Equal(t, 14985, LevelFromTotalXP(1<<40))

	for _, xp := range []int{1 << 50, math.MaxInt64 - 1, math.MaxInt64} {
		p := Describe(xp)
		assert.Equal(t, MaxLevel, p.Level, "xp %d", xp)
		assert.Equal(t, models.StageMighty, p.TreeStage)
		assert.Equal(t, p.Progress.Max, p.Progress.Current, "xp %d", xp)
	}
	assert.Equal(t, top, CumulativeXPToReachLevel(math.MaxInt64))
}
