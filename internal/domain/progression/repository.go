package progression

import (
	"context"
	"time"

	"github.com/studydeck/studydeck-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// КОНТРАКТ ХРАНИЛИЩА ЖУРНАЛА (Ledger Store)
// Реализуется в infrastructure. Каждая операция завершается целиком успехом
// или целиком ошибкой - движок не предполагает частичных результатов.
// ══════════════════════════════════════════════════════════════════════════════

// SubjectRecord - результат загрузки субъекта из хранилища.
type SubjectRecord struct {
	// State - текущее состояние прогрессии. Для нового субъекта -
	// пустое состояние, созданное NewState.
	State *State

	// RecentEvents - ограниченное окно последних событий журнала
	// (новые в начале).
	RecentEvents []ExperienceEvent

	// UnlockedIDs - идентификаторы разблокированных достижений.
	UnlockedIDs []string
}

// Ledger - контракт долговременного хранилища журнала XP.
type Ledger interface {
	// Fetch загружает состояние, окно последних событий и множество
	// разблокированных достижений субъекта.
	Fetch(ctx context.Context, subjectID shared.SubjectID) (*SubjectRecord, error)

	// HasPositiveCompletion проверяет дедупликацию: существует ли в
	// журнале положительная запись task_complete для этой задачи.
	HasPositiveCompletion(ctx context.Context, subjectID shared.SubjectID, taskID shared.TaskID) (bool, error)

	// EventsForTask возвращает все записи журнала для задачи:
	// начисления и компенсации. Отзыв нетирует их сумму, чтобы
	// повторная доставка не списала XP дважды.
	EventsForTask(ctx context.Context, subjectID shared.SubjectID, taskID shared.TaskID) ([]ExperienceEvent, error)

	// CountCompletionsBetween возвращает количество положительных
	// записей task_complete в полуинтервале [from, to).
	CountCompletionsBetween(ctx context.Context, subjectID shared.SubjectID, from, to time.Time) (int, error)

	// Commit атомарно добавляет пакет событий и обновлённое состояние
	// как одну логическую единицу. expectedTotalXP - значение TotalXP,
	// прочитанное перед операцией: при несовпадении с текущим значением
	// в хранилище коммит отклоняется (shared.ErrLedgerConflict), что
	// сериализует операции одного субъекта на уровне хранилища.
	Commit(ctx context.Context, subjectID shared.SubjectID, batch []ExperienceEvent, newState *State, expectedTotalXP int) error

	// AllEvents возвращает полный журнал субъекта (от старых к новым).
	// Используется фоновой сверкой.
	AllEvents(ctx context.Context, subjectID shared.SubjectID) ([]ExperienceEvent, error)

	// Subjects возвращает все субъекты, у которых есть состояние.
	Subjects(ctx context.Context) ([]shared.SubjectID, error)
}
