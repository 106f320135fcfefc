package progression

import "time"

// ══════════════════════════════════════════════════════════════════════════════
// ТРЕКЕР СЕРИИ (Streak)
// Один переход состояния на календарный день, независимо от количества
// событий в этот день.
// ══════════════════════════════════════════════════════════════════════════════

// StreakTransition - результат перехода трекера серии.
type StreakTransition struct {
	// PreviousStreak - серия до перехода.
	PreviousStreak int

	// StreakCount - серия после перехода.
	StreakCount int

	// BestStreak - лучшая серия после перехода.
	BestStreak int

	// LastActiveDate - дата активности после перехода (начало дня).
	LastActiveDate time.Time

	// Fired - true, если переход сработал (lastActiveDate не была
	// сегодняшней). Повторные события того же дня перехода не дают.
	Fired bool

	// BonusGranted - true, если переход сработал и итоговая серия >= 2.
	// Первая в жизни активность даёт серию 1 без бонуса.
	BonusGranted bool
}

// AdvanceStreak вычисляет переход серии для активности в момент now.
// Правило:
//   - lastActiveDate == сегодня: без изменений;
//   - lastActiveDate == вчера:   серия +1;
//   - иначе (разрыв >= 2 дней или активности не было): серия = 1.
//
// Границы календарного дня задаёт startOfDay (часовой пояс продукта).
// Функция чистая: состояние не изменяется, все значения в результате.
func AdvanceStreak(state *State, now time.Time, startOfDay func(time.Time) time.Time) StreakTransition {
	today := startOfDay(now)

	tr := StreakTransition{
		PreviousStreak: state.StreakCount,
		StreakCount:    state.StreakCount,
		BestStreak:     state.BestStreak,
		LastActiveDate: today,
	}

	if state.LastActiveDate != nil {
		last := startOfDay(*state.LastActiveDate)

		if last.Equal(today) {
			// Тот же день: no-op для серии.
			tr.LastActiveDate = last
			return tr
		}

		// Сравниваем календарные дни через AddDate: день перевода часов
		// длится 23 или 25 часов, и деление разницы на 24 там ошибается.
		if today.Equal(last.AddDate(0, 0, 1)) {
			tr.StreakCount = state.StreakCount + 1
		} else {
			tr.StreakCount = 1
		}
	} else {
		// Первая в жизни активность.
		tr.StreakCount = 1
	}

	tr.Fired = true
	if tr.StreakCount > tr.BestStreak {
		tr.BestStreak = tr.StreakCount
	}
	tr.BonusGranted = tr.StreakCount >= 2

	return tr
}

// ApplyStreak возвращает копию состояния с применённым переходом серии.
func (s *State) ApplyStreak(tr StreakTransition) *State {
	next := s.Clone()
	if !tr.Fired {
		return next
	}
	next.StreakCount = tr.StreakCount
	next.BestStreak = tr.BestStreak
	d := tr.LastActiveDate
	next.LastActiveDate = &d
	return next
}
