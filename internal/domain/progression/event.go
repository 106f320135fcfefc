package progression

import (
	"strings"
	"time"

	"github.com/studydeck/studydeck-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ПРИЧИНЫ СОБЫТИЙ
// ══════════════════════════════════════════════════════════════════════════════

// Reason определяет причину изменения XP.
type Reason string

const (
	// ReasonTaskComplete - выполнение задачи (положительная запись).
	ReasonTaskComplete Reason = "task_complete"

	// ReasonStreakBonus - бонус за продолжение серии активных дней.
	ReasonStreakBonus Reason = "streak_bonus"

	// ReasonDailyGoal - бонус за достижение дневной цели.
	ReasonDailyGoal Reason = "daily_goal"

	// ReasonTaskRevoked - отзыв награды (отрицательная запись).
	ReasonTaskRevoked Reason = "task_revoked"
)

// IsValid проверяет, что причина корректна.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonTaskComplete, ReasonStreakBonus, ReasonDailyGoal, ReasonTaskRevoked:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление причины.
func (r Reason) String() string {
	return string(r)
}

// ══════════════════════════════════════════════════════════════════════════════
// ТИПЫ ЭЛЕМЕНТОВ И ТАБЛИЦА БАЗОВЫХ НАГРАД
// ══════════════════════════════════════════════════════════════════════════════

// ItemType определяет тип завершённого элемента, выбирающий базовую награду.
type ItemType string

const (
	// ItemTypeTask - обычная задача из планировщика.
	ItemTypeTask ItemType = "task"

	// ItemTypeEvent - событие календаря.
	ItemTypeEvent ItemType = "event"

	// ItemTypeStudy - учебная сессия.
	ItemTypeStudy ItemType = "study"
)

// IsValid проверяет, что тип элемента корректен.
func (i ItemType) IsValid() bool {
	switch i {
	case ItemTypeTask, ItemTypeEvent, ItemTypeStudy:
		return true
	default:
		return false
	}
}

// ParseItemType разбирает строку в ItemType.
func ParseItemType(input string) (ItemType, error) {
	it := ItemType(strings.TrimSpace(strings.ToLower(input)))
	if !it.IsValid() {
		return "", shared.ErrInvalidItemType
	}
	return it, nil
}

// Базовые награды по типу элемента. Таблица фиксирована.
const (
	BaseXPTask  = 15
	BaseXPEvent = 25
	BaseXPStudy = 50
)

// BaseXPForItem возвращает базовую награду для типа элемента.
func BaseXPForItem(itemType ItemType) (int, error) {
	switch itemType {
	case ItemTypeTask:
		return BaseXPTask, nil
	case ItemTypeEvent:
		return BaseXPEvent, nil
	case ItemTypeStudy:
		return BaseXPStudy, nil
	default:
		return 0, shared.ErrInvalidItemType
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// СОБЫТИЕ ЖУРНАЛА
// ══════════════════════════════════════════════════════════════════════════════

// ExperienceEvent - неизменяемая запись журнала XP. Создаётся только
// оркестратором наград, никогда не изменяется и не удаляется. Журнал -
// единственный источник истины для итоговых сумм.
type ExperienceEvent struct {
	// ID - уникальный идентификатор записи (UUID).
	ID string

	// SubjectID - субъект, которому принадлежит запись.
	SubjectID shared.SubjectID

	// Amount - знаковое изменение XP.
	Amount int

	// Reason - причина изменения.
	Reason Reason

	// TaskID - связанная задача (пустой для бонусных записей).
	TaskID shared.TaskID

	// ItemType - тип завершённого элемента. Заполняется только для
	// записей task_complete; по нему считаются покатегорийные счётчики
	// для предикатов достижений.
	ItemType ItemType

	// CreatedAt - время создания записи.
	CreatedAt time.Time
}

// Validate проверяет корректность записи.
func (e ExperienceEvent) Validate() error {
	if e.ID == "" {
		return shared.NewDomainError("progression", "ValidateEvent", shared.ErrEmptyValue, "event id is required")
	}
	if e.SubjectID.IsEmpty() {
		return shared.ErrInvalidSubjectID
	}
	if !e.Reason.IsValid() {
		return shared.ErrInvalidEventReason
	}
	if e.Reason == ReasonTaskComplete && !e.TaskID.IsValid() {
		return shared.ErrInvalidTaskID
	}
	if e.Reason == ReasonTaskComplete && e.Amount <= 0 {
		return shared.ErrInvalidXPAmount
	}
	if e.Reason == ReasonTaskComplete && !e.ItemType.IsValid() {
		return shared.ErrInvalidItemType
	}
	if e.Reason == ReasonTaskRevoked && e.Amount >= 0 {
		return shared.ErrInvalidXPAmount
	}
	return nil
}

// IsPositiveCompletion возвращает true для положительной записи о
// выполнении задачи - именно такие записи участвуют в дедупликации
// и в подсчёте дневной цели.
func (e ExperienceEvent) IsPositiveCompletion() bool {
	return e.Reason == ReasonTaskComplete && e.Amount > 0
}

// SumAmounts возвращает сумму изменений XP в пакете событий.
func SumAmounts(events []ExperienceEvent) int {
	total := 0
	for _, e := range events {
		total += e.Amount
	}
	return total
}

// CountCompletionsOn возвращает количество положительных записей
// task_complete за календарный день, в который попадает day (границы дня
// вычисляет переданная функция startOfDay). Значение всегда пересчитывается
// из журнала, а не кешируется: так проверка дневной цели самовосстанавливается
// после отката и идемпотентна при повторах.
func CountCompletionsOn(events []ExperienceEvent, day time.Time, startOfDay func(time.Time) time.Time) int {
	dayStart := startOfDay(day)
	count := 0
	for _, e := range events {
		if e.IsPositiveCompletion() && startOfDay(e.CreatedAt).Equal(dayStart) {
			count++
		}
	}
	return count
}

// FindPositiveCompletions возвращает все положительные записи task_complete
// для данной задачи. При соблюдении инварианта дедупликации их не больше
// одной; вызывающий код суммирует защитно.
func FindPositiveCompletions(events []ExperienceEvent, taskID shared.TaskID) []ExperienceEvent {
	var found []ExperienceEvent
	for _, e := range events {
		if e.IsPositiveCompletion() && e.TaskID == taskID {
			found = append(found, e)
		}
	}
	return found
}

// FindTaskEvents возвращает все записи журнала для данной задачи:
// начисления и компенсации. Их сумма - оставшийся незакрытым XP задачи;
// журнал append-only, поэтому повторный отзыв обязан увидеть раннюю
// запись task_revoked и не списать XP второй раз.
func FindTaskEvents(events []ExperienceEvent, taskID shared.TaskID) []ExperienceEvent {
	var found []ExperienceEvent
	for _, e := range events {
		if e.TaskID == taskID {
			found = append(found, e)
		}
	}
	return found
}
