package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/studydeck/studydeck-progression/internal/domain/shared"
)

func replayEvent(amount int, reason Reason, at time.Time) ExperienceEvent {
	return ExperienceEvent{
		ID:        "e-" + at.Format("20060102T150405"),
		SubjectID: shared.SubjectID("subject"),
		Amount:    amount,
		Reason:    reason,
		TaskID:    shared.TaskID("task"),
		ItemType:  ItemTypeTask,
		CreatedAt: at,
	}
}

func TestReplayJournal_EmptyJournal(t *testing.T) {
	state := ReplayJournal(shared.SubjectID("subject"), nil, utcStartOfDay)

	assert.Equal(t, 0, state.TotalXP)
	assert.Equal(t, 1, state.Level)
	assert.Equal(t, 0, state.StreakCount)
	assert.Nil(t, state.LastActiveDate)
}

func TestReplayJournal_RecomputesTotalsAndLevel(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	journal := []ExperienceEvent{
		replayEvent(15, ReasonTaskComplete, day1),
		replayEvent(15, ReasonTaskComplete, day2),
		replayEvent(10, ReasonStreakBonus, day2),
		replayEvent(25, ReasonDailyGoal, day2),
	}

	state := ReplayJournal(shared.SubjectID("subject"), journal, utcStartOfDay)

	assert.Equal(t, 65, state.TotalXP)
	assert.Equal(t, LevelFromXP(65), state.Level)
	assert.Equal(t, 2, state.StreakCount)
	assert.Equal(t, 2, state.BestStreak)
	assert.Equal(t, utcStartOfDay(day2), *state.LastActiveDate)
}

func TestReplayJournal_ClampsNegativeTotal(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	journal := []ExperienceEvent{
		replayEvent(15, ReasonTaskComplete, at),
		replayEvent(-40, ReasonTaskRevoked, at.Add(time.Hour)),
		replayEvent(15, ReasonTaskComplete, at.Add(2*time.Hour)),
	}

	state := ReplayJournal(shared.SubjectID("subject"), journal, utcStartOfDay)

	assert.Equal(t, 15, state.TotalXP)
	assert.Equal(t, 1, state.Level)
}

func TestReplayJournal_GapResetsStreakButKeepsBest(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var journal []ExperienceEvent
	for i := 0; i < 3; i++ {
		journal = append(journal, replayEvent(15, ReasonTaskComplete, start.AddDate(0, 0, i)))
	}
	// Разрыв в четыре дня, затем одно выполнение.
	journal = append(journal, replayEvent(15, ReasonTaskComplete, start.AddDate(0, 0, 7)))

	state := ReplayJournal(shared.SubjectID("subject"), journal, utcStartOfDay)

	assert.Equal(t, 1, state.StreakCount)
	assert.Equal(t, 3, state.BestStreak)
}

func TestReplayJournal_SameDayCompletionsCountOnce(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	journal := []ExperienceEvent{
		replayEvent(15, ReasonTaskComplete, at),
		replayEvent(15, ReasonTaskComplete, at.Add(time.Hour)),
		replayEvent(15, ReasonTaskComplete, at.Add(2*time.Hour)),
	}

	state := ReplayJournal(shared.SubjectID("subject"), journal, utcStartOfDay)

	assert.Equal(t, 1, state.StreakCount)
}

func TestCompareStates_NoDrift(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	journal := []ExperienceEvent{replayEvent(15, ReasonTaskComplete, at)}
	replayed := ReplayJournal(shared.SubjectID("subject"), journal, utcStartOfDay)

	assert.Empty(t, CompareStates(replayed.Clone(), replayed))
}

func TestCompareStates_ReportsDriftPerField(t *testing.T) {
	subject := shared.SubjectID("subject")
	stored := &State{SubjectID: subject, TotalXP: 100, Level: 3, StreakCount: 2, BestStreak: 4}
	replayed := &State{SubjectID: subject, TotalXP: 65, Level: 2, StreakCount: 2, BestStreak: 4}

	drifts := CompareStates(stored, replayed)

	assert.Len(t, drifts, 2)
	assert.Equal(t, "total_xp", drifts[0].Field)
	assert.Equal(t, 100, drifts[0].Stored)
	assert.Equal(t, 65, drifts[0].Replayed)
	assert.Equal(t, "level", drifts[1].Field)
}