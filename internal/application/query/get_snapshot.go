// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/studydeck/studydeck-progression/internal/application/command"
	"github.com/studydeck/studydeck-progression/internal/domain/achievement"
	"github.com/studydeck/studydeck-progression/internal/domain/progression"
	"github.com/studydeck/studydeck-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SNAPSHOT QUERY
// Возвращает клиентский снимок прогрессии для поверхностей отображения:
// итоговый XP, уровень, прогресс внутри уровня, серию, окно последних
// событий и достижения. Чтение идёт из кеша в памяти и никогда не
// блокируется на I/O; холодный кеш засевается из хранилища.
// ══════════════════════════════════════════════════════════════════════════════

// GetSnapshotQuery содержит параметры запроса снимка.
type GetSnapshotQuery struct {
	// SubjectID - субъект, чей снимок запрашивается.
	SubjectID string

	// ForceRefresh - перечитать состояние из хранилища, минуя кеш.
	ForceRefresh bool
}

// Validate проверяет корректность параметров.
func (q *GetSnapshotQuery) Validate() error {
	if !shared.SubjectID(q.SubjectID).IsValid() {
		return shared.ErrInvalidSubjectID
	}
	return nil
}

// EventDTO - запись журнала для отображения.
type EventDTO struct {
	ID        string    `json:"id"`
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
	TaskID    string    `json:"task_id,omitempty"`
	ItemType  string    `json:"item_type,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AchievementDTO - разблокированное достижение для отображения.
type AchievementDTO struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SnapshotDTO - клиентский снимок прогрессии.
type SnapshotDTO struct {
	SubjectID        string           `json:"subject_id"`
	TotalXP          int              `json:"total_xp"`
	Level            int              `json:"level"`
	ProgressCurrent  int              `json:"progress_current"`
	ProgressRequired int              `json:"progress_required"`
	StreakCount      int              `json:"streak_count"`
	BestStreak       int              `json:"best_streak"`
	LastActiveDate   *time.Time       `json:"last_active_date,omitempty"`
	RecentEvents     []EventDTO       `json:"recent_events"`
	Achievements     []AchievementDTO `json:"achievements"`
	PendingLevelUp   int              `json:"pending_level_up,omitempty"`
	Loading          bool             `json:"loading"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SubjectLocker выдаёт пер-субъектную блокировку. Реализуется
// оркестратором наград; Lock возвращает функцию разблокировки.
type SubjectLocker interface {
	LockSubject(subjectID shared.SubjectID) func()
}

// GetSnapshotHandler обрабатывает GetSnapshotQuery.
type GetSnapshotHandler struct {
	cache  command.SnapshotCache
	ledger progression.Ledger
	locker SubjectLocker
}

// NewGetSnapshotHandler создаёт обработчик запроса снимка. locker может
// быть nil: тогда обновление кеша не сериализуется с наградами.
func NewGetSnapshotHandler(cache command.SnapshotCache, ledger progression.Ledger, locker SubjectLocker) *GetSnapshotHandler {
	return &GetSnapshotHandler{cache: cache, ledger: ledger, locker: locker}
}

// Handle выполняет запрос.
func (h *GetSnapshotHandler) Handle(ctx context.Context, q GetSnapshotQuery) (*SnapshotDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_snapshot: validation failed: %w", err)
	}

	subjectID := shared.SubjectID(q.SubjectID)

	if !q.ForceRefresh {
		if snap, ok := h.cache.Get(subjectID); ok && snap.Loaded {
			return toDTO(q.SubjectID, snap), nil
		}
	}

	// Засев и принудительное обновление идут под пер-субъектной
	// блокировкой наград: иначе refresh, обогнавший незакоммиченную
	// награду, затёр бы оптимистичный снимок состоянием до коммита.
	if h.locker != nil {
		unlock := h.locker.LockSubject(subjectID)
		defer unlock()
		// Пока мы ждали блокировку, награда могла уже обновить кеш.
		if !q.ForceRefresh {
			if snap, ok := h.cache.Get(subjectID); ok && snap.Loaded {
				return toDTO(q.SubjectID, snap), nil
			}
		}
	}

	// Холодный кеш: засеваем из хранилища. Это единственное чтение
	// запроса, которое ходит в I/O.
	record, err := h.ledger.Fetch(ctx, subjectID)
	if err != nil {
		// Хранилище недоступно - отдаём заглушку с флагом загрузки,
		// поверхность отображения покажет нейтральное состояние.
		snap := progression.NewSnapshot(progression.NewState(subjectID))
		return toDTO(q.SubjectID, snap), nil
	}

	snap := progression.NewSnapshot(record.State.Clone())
	snap.RecentEvents = append([]progression.ExperienceEvent(nil), record.RecentEvents...)
	snap.UnlockedIDs = append([]string(nil), record.UnlockedIDs...)
	snap.Loaded = true
	h.cache.Put(subjectID, snap)

	return toDTO(q.SubjectID, snap), nil
}

// toDTO собирает DTO из снимка.
func toDTO(subjectID string, snap *progression.Snapshot) *SnapshotDTO {
	dto := &SnapshotDTO{
		SubjectID:        subjectID,
		TotalXP:          snap.State.TotalXP,
		Level:            snap.State.Level,
		ProgressCurrent:  snap.Progress.Current,
		ProgressRequired: snap.Progress.Required,
		StreakCount:      snap.State.StreakCount,
		BestStreak:       snap.State.BestStreak,
		LastActiveDate:   snap.State.LastActiveDate,
		PendingLevelUp:   snap.PendingLevelUp,
		Loading:          !snap.Loaded,
		RecentEvents:     make([]EventDTO, 0, len(snap.RecentEvents)),
		Achievements:     make([]AchievementDTO, 0, len(snap.UnlockedIDs)),
	}

	for _, e := range snap.RecentEvents {
		dto.RecentEvents = append(dto.RecentEvents, EventDTO{
			ID:        e.ID,
			Amount:    e.Amount,
			Reason:    string(e.Reason),
			TaskID:    e.TaskID.String(),
			ItemType:  string(e.ItemType),
			CreatedAt: e.CreatedAt,
		})
	}

	for _, id := range snap.UnlockedIDs {
		def, ok := achievement.Lookup(achievement.ID(id))
		if !ok {
			continue
		}
		dto.Achievements = append(dto.Achievements, AchievementDTO{
			ID:          id,
			Title:       def.Title,
			Description: def.Description,
		})
	}

	return dto
}
