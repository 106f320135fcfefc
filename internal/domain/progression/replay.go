package progression

import (
	"time"

	"github.com/studydeck/studydeck-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ВОССТАНОВЛЕНИЕ СОСТОЯНИЯ ИЗ ЖУРНАЛА
// ══════════════════════════════════════════════════════════════════════════════

// ReplayJournal восстанавливает состояние субъекта из полного журнала
// событий. Журнал - единственный источник истины: производное
// состояние всегда можно пересчитать и сверить с сохранённым.
//
// События применяются в хронологическом порядке с отсечением
// отрицательного итога в ноль после каждого шага. Серия активных дней
// выводится из дней положительных выполнений по тем же правилам, что и
// AdvanceStreak: соседние календарные дни продлевают серию, разрыв
// начинает её заново. Границы дня задаёт та же функция startOfDay, что
// и при начислении.
func ReplayJournal(subjectID shared.SubjectID, journal []ExperienceEvent, startOfDay func(time.Time) time.Time) *State {
	state := NewState(subjectID)

	var lastDay time.Time
	for _, e := range journal {
		state.TotalXP += e.Amount
		if state.TotalXP < 0 {
			state.TotalXP = 0
		}

		if e.IsPositiveCompletion() {
			day := startOfDay(e.CreatedAt)
			switch {
			case lastDay.IsZero():
				state.StreakCount = 1
			case day.Equal(lastDay):
				// Тот же день: серия не меняется.
			case day.Equal(lastDay.AddDate(0, 0, 1)):
				state.StreakCount++
			default:
				state.StreakCount = 1
			}
			if state.StreakCount > state.BestStreak {
				state.BestStreak = state.StreakCount
			}
			lastDay = day
		}

		state.UpdatedAt = e.CreatedAt
	}

	state.Level = LevelFromXP(state.TotalXP)
	if !lastDay.IsZero() {
		state.LastActiveDate = &lastDay
	}
	return state
}

// Drift описывает расхождение сохранённого состояния с пересчитанным.
type Drift struct {
	Field    string
	Stored   int
	Replayed int
}

// CompareStates сверяет сохранённое состояние с пересчитанным из
// журнала и возвращает список расхождений. Пустой список означает, что
// состояние согласовано.
func CompareStates(stored, replayed *State) []Drift {
	var drifts []Drift

	if stored.TotalXP != replayed.TotalXP {
		drifts = append(drifts, Drift{Field: "total_xp", Stored: stored.TotalXP, Replayed: replayed.TotalXP})
	}
	if stored.Level != replayed.Level {
		drifts = append(drifts, Drift{Field: "level", Stored: stored.Level, Replayed: replayed.Level})
	}
	if stored.StreakCount != replayed.StreakCount {
		drifts = append(drifts, Drift{Field: "streak_count", Stored: stored.StreakCount, Replayed: replayed.StreakCount})
	}
	if stored.BestStreak != replayed.BestStreak {
		drifts = append(drifts, Drift{Field: "best_streak", Stored: stored.BestStreak, Replayed: replayed.BestStreak})
	}

	return drifts
}
