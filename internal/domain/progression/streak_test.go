package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func utcStartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAdvanceStreak_FirstEverActivity(t *testing.T) {
	state := &State{StreakCount: 0, BestStreak: 0, LastActiveDate: nil}
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

	tr := AdvanceStreak(state, now, utcStartOfDay)

	assert.True(t, tr.Fired)
	assert.Equal(t, 1, tr.StreakCount)
	assert.Equal(t, 1, tr.BestStreak)
	assert.False(t, tr.BonusGranted, "streak of 1 never grants a bonus")
	assert.Equal(t, utcStartOfDay(now), tr.LastActiveDate)
}

func TestAdvanceStreak_ConsecutiveDay(t *testing.T) {
	yesterday := time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC)
	state := &State{StreakCount: 4, BestStreak: 6, LastActiveDate: &yesterday}
	now := time.Date(2026, 3, 10, 0, 5, 0, 0, time.UTC)

	tr := AdvanceStreak(state, now, utcStartOfDay)

	assert.True(t, tr.Fired)
	assert.Equal(t, 5, tr.StreakCount)
	assert.Equal(t, 6, tr.BestStreak)
	assert.True(t, tr.BonusGranted)
}

func TestAdvanceStreak_SameDayIsNoOp(t *testing.T) {
	morning := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	state := &State{StreakCount: 3, BestStreak: 3, LastActiveDate: &morning}
	evening := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)

	tr := AdvanceStreak(state, evening, utcStartOfDay)

	assert.False(t, tr.Fired)
	assert.Equal(t, 3, tr.StreakCount)
	assert.False(t, tr.BonusGranted, "repeat activity on the same day grants nothing")
}

func TestAdvanceStreak_GapResetsToOne(t *testing.T) {
	twoDaysAgo := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	state := &State{StreakCount: 9, BestStreak: 9, LastActiveDate: &twoDaysAgo}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tr := AdvanceStreak(state, now, utcStartOfDay)

	assert.True(t, tr.Fired)
	assert.Equal(t, 1, tr.StreakCount)
	assert.Equal(t, 9, tr.BestStreak, "best streak survives a reset")
	assert.False(t, tr.BonusGranted, "a reset day is streak 1, below the bonus threshold")
}

func TestAdvanceStreak_BonusOnSecondDay(t *testing.T) {
	yesterday := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	state := &State{StreakCount: 1, BestStreak: 1, LastActiveDate: &yesterday}
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	tr := AdvanceStreak(state, now, utcStartOfDay)

	assert.Equal(t, 2, tr.StreakCount)
	assert.True(t, tr.BonusGranted)
	assert.Equal(t, 2, tr.BestStreak)
}

func TestAdvanceStreak_SpringForwardDayStillCounts(t *testing.T) {
	// Europe/Berlin loses an hour on 2026-03-29: that calendar day is
	// 23 hours long. The next-day activity must still extend the streak.
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	berlinStartOfDay := func(tm time.Time) time.Time {
		y, m, d := tm.In(berlin).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, berlin)
	}

	lastActive := time.Date(2026, 3, 29, 10, 0, 0, 0, berlin)
	state := &State{StreakCount: 6, BestStreak: 6, LastActiveDate: &lastActive}
	now := time.Date(2026, 3, 30, 9, 0, 0, 0, berlin)

	tr := AdvanceStreak(state, now, berlinStartOfDay)

	assert.True(t, tr.Fired)
	assert.Equal(t, 7, tr.StreakCount, "a 23-hour day is still one calendar day")
	assert.Equal(t, 7, tr.BestStreak)
	assert.True(t, tr.BonusGranted)
}

func TestAdvanceStreak_FallBackDayStillCounts(t *testing.T) {
	// The clocks-back day (2026-10-25 in Berlin) is 25 hours long.
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	berlinStartOfDay := func(tm time.Time) time.Time {
		y, m, d := tm.In(berlin).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, berlin)
	}

	lastActive := time.Date(2026, 10, 25, 12, 0, 0, 0, berlin)
	state := &State{StreakCount: 2, BestStreak: 4, LastActiveDate: &lastActive}
	now := time.Date(2026, 10, 26, 8, 0, 0, 0, berlin)

	tr := AdvanceStreak(state, now, berlinStartOfDay)

	assert.True(t, tr.Fired)
	assert.Equal(t, 3, tr.StreakCount)
	assert.Equal(t, 4, tr.BestStreak)
}

func TestApplyStreak(t *testing.T) {
	yesterday := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	state := &State{StreakCount: 2, BestStreak: 2, LastActiveDate: &yesterday}
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	tr := AdvanceStreak(state, now, utcStartOfDay)
	next := state.ApplyStreak(tr)

	assert.Equal(t, 3, next.StreakCount)
	assert.Equal(t, 3, next.BestStreak)
	assert.Equal(t, utcStartOfDay(now), *next.LastActiveDate)

	// The original state is untouched.
	assert.Equal(t, 2, state.StreakCount)
	assert.Equal(t, yesterday, *state.LastActiveDate)
}

func TestApplyStreak_NotFiredKeepsState(t *testing.T) {
	today := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	state := &State{StreakCount: 5, BestStreak: 7, LastActiveDate: &today}

	tr := AdvanceStreak(state, today.Add(4*time.Hour), utcStartOfDay)
	next := state.ApplyStreak(tr)

	assert.Equal(t, 5, next.StreakCount)
	assert.Equal(t, 7, next.BestStreak)
	assert.Equal(t, today, *next.LastActiveDate)
}
