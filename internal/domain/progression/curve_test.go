package progression

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXPRequiredForLevel_KnownValues(t *testing.T) {
	// round(50 * L^1.8)
	assert.Equal(t, 50, XPRequiredForLevel(1))
	assert.Equal(t, 174, XPRequiredForLevel(2))
	assert.Equal(t, 361, XPRequiredForLevel(3))
	assert.Equal(t, 606, XPRequiredForLevel(4))
	assert.Equal(t, 906, XPRequiredForLevel(5))
	assert.Equal(t, 3155, XPRequiredForLevel(10))
}

func TestXPRequiredForLevel_StrictlyIncreasing(t *testing.T) {
	for level := 1; level < 100; level++ {
		assert.Less(t, XPRequiredForLevel(level), XPRequiredForLevel(level+1),
			"step cost must strictly increase at level %d", level)
	}
}

func TestTotalXPForLevel(t *testing.T) {
	assert.Equal(t, 0, TotalXPForLevel(1))
	assert.Equal(t, 50, TotalXPForLevel(2))
	assert.Equal(t, 224, TotalXPForLevel(3))
	assert.Equal(t, 585, TotalXPForLevel(4))
	assert.Equal(t, 1191, TotalXPForLevel(5))
}

func TestLevelFromXP_Boundaries(t *testing.T) {
	assert.Equal(t, 1, LevelFromXP(0))
	assert.Equal(t, 1, LevelFromXP(49))
	assert.Equal(t, 2, LevelFromXP(50))
	assert.Equal(t, 2, LevelFromXP(223))
	assert.Equal(t, 3, LevelFromXP(224))
	assert.Equal(t, 3, LevelFromXP(584))
	assert.Equal(t, 4, LevelFromXP(585))

	// Negative input clamps to level 1.
	assert.Equal(t, 1, LevelFromXP(-10))
}

func TestLevelFromXP_BracketProperty(t *testing.T) {
	// For every totalXP the computed level L satisfies
	// TotalXPForLevel(L) <= totalXP < TotalXPForLevel(L+1).
	for totalXP := 0; totalXP <= 5000; totalXP += 7 {
		level := LevelFromXP(totalXP)
		assert.GreaterOrEqual(t, totalXP, TotalXPForLevel(level))
		assert.Less(t, totalXP, TotalXPForLevel(level+1))
	}
}

func TestProgressInLevel(t *testing.T) {
	p := ProgressInLevel(0)
	assert.Equal(t, 0, p.Current)
	assert.Equal(t, 50, p.Required)

	p = ProgressInLevel(60)
	assert.Equal(t, 10, p.Current)
	assert.Equal(t, 174, p.Required)

	// Exactly at a boundary the progress resets to zero.
	p = ProgressInLevel(224)
	assert.Equal(t, 0, p.Current)
	assert.Equal(t, 361, p.Required)
}
