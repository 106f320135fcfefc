package achievement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/studydeck/studydeck-progression/internal/domain/progression"
)

func TestEvaluate_FirstCompletions(t *testing.T) {
	ev := NewEvaluator()

	gs := progression.GamificationState{
		TotalXP:        15,
		Level:          1,
		TotalCompleted: 1,
		CompletedByType: map[progression.ItemType]int{
			progression.ItemTypeTask: 1,
		},
	}

	newly := ev.Evaluate(gs, nil)
	assert.Len(t, newly, 1)
	assert.Equal(t, FirstTask, newly[0].ID)
}

func TestEvaluate_SkipsAlreadyUnlocked(t *testing.T) {
	ev := NewEvaluator()

	gs := progression.GamificationState{
		TotalXP:        40,
		Level:          1,
		TotalCompleted: 2,
		CompletedByType: map[progression.ItemType]int{
			progression.ItemTypeTask:  1,
			progression.ItemTypeEvent: 1,
		},
	}

	newly := ev.Evaluate(gs, []string{string(FirstTask)})
	assert.Len(t, newly, 1)
	assert.Equal(t, FirstEvent, newly[0].ID)
}

func TestEvaluate_CatalogOrder(t *testing.T) {
	ev := NewEvaluator()

	// A state that satisfies several predicates at once must report
	// them in catalog order.
	gs := progression.GamificationState{
		TotalXP:        1250,
		Level:          5,
		StreakCount:    7,
		TotalCompleted: 12,
		CompletedByType: map[progression.ItemType]int{
			progression.ItemTypeTask:  10,
			progression.ItemTypeEvent: 1,
			progression.ItemTypeStudy: 1,
		},
	}

	newly := ev.Evaluate(gs, nil)
	got := make([]ID, 0, len(newly))
	for _, def := range newly {
		got = append(got, def.ID)
	}
	assert.Equal(t, []ID{
		FirstTask, FirstEvent, FirstStudy, TenTasks,
		LevelFive, WeekStreak, ThousandClub,
	}, got)
}

func TestEvaluate_UnlocksArePermanent(t *testing.T) {
	ev := NewEvaluator()

	// XP dropped back below the threshold, but the achievement stays
	// unlocked and is never re-reported.
	gs := progression.GamificationState{
		TotalXP: 980,
		Level:   4,
	}

	newly := ev.Evaluate(gs, []string{string(ThousandClub)})
	assert.Empty(t, newly)
}

func TestLookup(t *testing.T) {
	def, ok := Lookup(WeekStreak)
	assert.True(t, ok)
	assert.Equal(t, "Habit Formed", def.Title)

	_, ok = Lookup(ID("no_such_achievement"))
	assert.False(t, ok)
}
