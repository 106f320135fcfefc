package progression

import (
	"time"

	"github.com/studydeck/studydeck-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// СОСТОЯНИЕ ПРОГРЕССИИ
// ══════════════════════════════════════════════════════════════════════════════

// State - текущее состояние прогрессии субъекта. Изменяется только вместе
// с коммитом пакета событий и всегда согласовано с суммой событий журнала
// (после отсечения отрицательного итога в ноль).
type State struct {
	// SubjectID - субъект, которому принадлежит состояние.
	SubjectID shared.SubjectID

	// TotalXP - суммарный XP, всегда >= 0.
	TotalXP int

	// Level - уровень, производный от TotalXP, всегда >= 1.
	Level int

	// StreakCount - текущая серия активных дней, >= 0.
	StreakCount int

	// BestStreak - лучшая серия активных дней.
	BestStreak int

	// LastActiveDate - дата последней активности (начало календарного
	// дня), nil до первой активности.
	LastActiveDate *time.Time

	// UpdatedAt - время последнего коммита.
	UpdatedAt time.Time
}

// NewState создаёт пустое состояние для субъекта.
func NewState(subjectID shared.SubjectID) *State {
	return &State{
		SubjectID:   subjectID,
		TotalXP:     0,
		Level:       1,
		StreakCount: 0,
		BestStreak:  0,
	}
}

// Validate проверяет инварианты состояния.
func (s *State) Validate() error {
	if s.SubjectID.IsEmpty() {
		return shared.ErrInvalidSubjectID
	}
	if s.TotalXP < 0 {
		return shared.NewDomainError("progression", "ValidateState", shared.ErrNegativeValue, "total XP cannot be negative")
	}
	if s.Level < 1 {
		return shared.NewDomainError("progression", "ValidateState", shared.ErrValueOutOfRange, "level must be >= 1")
	}
	if s.StreakCount < 0 {
		return shared.NewDomainError("progression", "ValidateState", shared.ErrNegativeValue, "streak cannot be negative")
	}
	if s.Level != LevelFromXP(s.TotalXP) {
		return shared.NewDomainError("progression", "ValidateState", shared.ErrInvalidState, "level is inconsistent with total XP")
	}
	return nil
}

// ApplyDelta возвращает копию состояния с применённым изменением XP.
// Отрицательный итог отсекается в ноль, уровень пересчитывается.
func (s *State) ApplyDelta(delta int, at time.Time) *State {
	next := s.Clone()
	next.TotalXP = s.TotalXP + delta
	if next.TotalXP < 0 {
		next.TotalXP = 0
	}
	next.Level = LevelFromXP(next.TotalXP)
	next.UpdatedAt = at
	return next
}

// Clone создаёт глубокую копию состояния.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	if s.LastActiveDate != nil {
		d := *s.LastActiveDate
		clone.LastActiveDate = &d
	}
	return &clone
}

// ══════════════════════════════════════════════════════════════════════════════
// СНИМОК ДЛЯ ПРЕДИКАТОВ ДОСТИЖЕНИЙ
// ══════════════════════════════════════════════════════════════════════════════

// GamificationState - снимок состояния для вычисления предикатов
// достижений. Собирается оркестратором из состояния после награды и
// покатегорийных счётчиков, производных от журнала и только что
// применённого события.
type GamificationState struct {
	// TotalXP - суммарный XP после операции.
	TotalXP int

	// Level - уровень после операции.
	Level int

	// StreakCount - текущая серия активных дней.
	StreakCount int

	// TotalCompleted - общее количество выполненных элементов.
	TotalCompleted int

	// CompletedByType - количество выполнений по типу элемента.
	CompletedByType map[ItemType]int
}

// CompletedOf возвращает количество выполнений данного типа.
func (g GamificationState) CompletedOf(itemType ItemType) int {
	if g.CompletedByType == nil {
		return 0
	}
	return g.CompletedByType[itemType]
}

// BuildGamificationState собирает снимок из состояния и журнала событий
// (включая события текущей операции, уже добавленные в historyAndBatch).
func BuildGamificationState(state *State, historyAndBatch []ExperienceEvent) GamificationState {
	byType := make(map[ItemType]int)
	total := 0
	for _, e := range historyAndBatch {
		if e.IsPositiveCompletion() {
			total++
			byType[e.ItemType]++
		}
	}

	return GamificationState{
		TotalXP:         state.TotalXP,
		Level:           state.Level,
		StreakCount:     state.StreakCount,
		TotalCompleted:  total,
		CompletedByType: byType,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// КЛИЕНТСКИЙ СНИМОК
// ══════════════════════════════════════════════════════════════════════════════

// RecentEventsWindow - размер окна последних событий в клиентском снимке.
const RecentEventsWindow = 20

// Snapshot - эфемерное зеркало прогрессии для поверхностей отображения.
// Живёт только в памяти, изменяется оптимистично оркестратором и
// восстанавливается бит-в-бит при неудачном коммите.
type Snapshot struct {
	// State - состояние прогрессии.
	State *State

	// Progress - прогресс внутри текущего уровня.
	Progress LevelProgress

	// RecentEvents - ограниченное окно последних событий журнала
	// (новые в начале).
	RecentEvents []ExperienceEvent

	// UnlockedIDs - идентификаторы разблокированных достижений.
	UnlockedIDs []string

	// PendingLevelUp - уровень, о котором ещё не показано уведомление.
	// 0, если показывать нечего. Сбрасывается явным Dismiss.
	PendingLevelUp int

	// Loaded - false до первой успешной загрузки из хранилища.
	Loaded bool
}

// NewSnapshot создаёт снимок поверх состояния.
func NewSnapshot(state *State) *Snapshot {
	return &Snapshot{
		State:    state,
		Progress: ProgressInLevel(state.TotalXP),
	}
}

// Clone создаёт глубокую копию снимка - основу стратегии
// "сохранить и восстановить" при откате.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	clone := &Snapshot{
		State:          s.State.Clone(),
		Progress:       s.Progress,
		PendingLevelUp: s.PendingLevelUp,
		Loaded:         s.Loaded,
	}
	if s.RecentEvents != nil {
		clone.RecentEvents = make([]ExperienceEvent, len(s.RecentEvents))
		copy(clone.RecentEvents, s.RecentEvents)
	}
	if s.UnlockedIDs != nil {
		clone.UnlockedIDs = make([]string, len(s.UnlockedIDs))
		copy(clone.UnlockedIDs, s.UnlockedIDs)
	}
	return clone
}

// ApplyEvents применяет пакет событий и новое состояние к снимку.
func (s *Snapshot) ApplyEvents(newState *State, batch []ExperienceEvent) {
	s.State = newState
	s.Progress = ProgressInLevel(newState.TotalXP)

	// Новые события добавляются в начало окна.
	events := make([]ExperienceEvent, 0, len(batch)+len(s.RecentEvents))
	for i := len(batch) - 1; i >= 0; i-- {
		events = append(events, batch[i])
	}
	events = append(events, s.RecentEvents...)
	if len(events) > RecentEventsWindow {
		events = events[:RecentEventsWindow]
	}
	s.RecentEvents = events
}

// MarkLevelUp запоминает пересечение границы уровня. Значение
// перезаписывается, а не накапливается: одно уведомление на вызов.
func (s *Snapshot) MarkLevelUp(newLevel int) {
	s.PendingLevelUp = newLevel
}

// DismissLevelUp сбрасывает отложенное уведомление об уровне.
func (s *Snapshot) DismissLevelUp() {
	s.PendingLevelUp = 0
}

// AddUnlocked добавляет достижение в снимок, сохраняя монотонность
// множества.
func (s *Snapshot) AddUnlocked(achievementID string) {
	for _, id := range s.UnlockedIDs {
		if id == achievementID {
			return
		}
	}
	s.UnlockedIDs = append(s.UnlockedIDs, achievementID)
}
